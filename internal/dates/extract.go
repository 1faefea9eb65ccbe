// Package dates derives the capture date of a remote file from the signals a
// store exposes, ordered from most to least trustworthy.
package dates

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/chmdznr/orgphotos/pkg/models"
)

// Extractor derives at most one date candidate from a single signal.
//
// Implementations are pure: the same RemoteFile always yields the same result,
// and a candidate is either a complete calendar date or not returned at all.
type Extractor interface {
	Tier() models.Tier
	Extract(f models.RemoteFile) (models.DateCandidate, bool)
}

// Default returns the extractors in tier order 1..5.
func Default() []Extractor {
	return []Extractor{
		ExifExtractor{},
		FolderExtractor{},
		FilenameExtractor{},
		FilesystemExtractor{},
		UploadExtractor{},
	}
}

// ExifExtractor reads the takenDateTime reported by the photo or video facet.
type ExifExtractor struct{}

func (ExifExtractor) Tier() models.Tier { return models.TierExif }

func (ExifExtractor) Extract(f models.RemoteFile) (models.DateCandidate, bool) {
	if t, ok := parseTaken(f.PhotoTaken); ok {
		return models.DateCandidate{When: t, Tier: models.TierExif, Source: "exif-photo"}, true
	}
	if t, ok := parseTaken(f.VideoTaken); ok {
		return models.DateCandidate{When: t, Tier: models.TierExif, Source: "exif-video"}, true
	}
	return models.DateCandidate{}, false
}

// Layouts without a zone are read as UTC wall clock; no geo/timezone correction is applied.
var takenLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006:01:02 15:04:05",
	"2006-01-02 15:04:05",
}

func parseTaken(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	for _, layout := range takenLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// FolderExtractor looks for a date in the parent path, nearest segment first.
type FolderExtractor struct{}

func (FolderExtractor) Tier() models.Tier { return models.TierFolder }

var (
	// 2021-07, 2021_07_14, 2021-07-14 Holiday
	folderDateRe = regexp.MustCompile(`^(\d{4})[-_.](\d{2})(?:[-_.](\d{2}))?(?:$|[^\d])`)
	yearSegRe    = regexp.MustCompile(`^\d{4}$`)
	twoDigitRe   = regexp.MustCompile(`^\d{2}$`)
)

func (FolderExtractor) Extract(f models.RemoteFile) (models.DateCandidate, bool) {
	segs := splitPath(f.ParentPath)
	for i := len(segs) - 1; i >= 0; i-- {
		seg := segs[i]

		if m := folderDateRe.FindStringSubmatch(seg); m != nil {
			if t, ok := civil(m[1], m[2], m[3], "", "", ""); ok {
				return models.DateCandidate{When: t, Tier: models.TierFolder, Source: "folder"}, true
			}
		}

		if !twoDigitRe.MatchString(seg) {
			continue
		}
		// YYYY/MM/DD
		if i >= 2 && twoDigitRe.MatchString(segs[i-1]) && yearSegRe.MatchString(segs[i-2]) {
			if t, ok := civil(segs[i-2], segs[i-1], seg, "", "", ""); ok {
				return models.DateCandidate{When: t, Tier: models.TierFolder, Source: "folder"}, true
			}
		}
		// YYYY/MM
		if i >= 1 && yearSegRe.MatchString(segs[i-1]) {
			if t, ok := civil(segs[i-1], seg, "", "", "", ""); ok {
				return models.DateCandidate{When: t, Tier: models.TierFolder, Source: "folder"}, true
			}
		}
	}
	return models.DateCandidate{}, false
}

func splitPath(p string) []string {
	var out []string
	for _, s := range strings.Split(p, "/") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// FilenameExtractor matches the file name (never the path) against known naming conventions.
type FilenameExtractor struct{}

func (FilenameExtractor) Tier() models.Tier { return models.TierFilename }

// stemLayouts must match the whole name without extension.
var stemLayouts = []string{
	"2006:01:02 15:04:05",
	"2006-01-02 15.04.05",
	"20060102_150405",
	"2006-01-02_15-04-05",
	"20060102150405",
	"2006-01-02 15:04:05",
	"20060102",
	"2006-01-02",
}

// namePatterns are tried in order: camera and app conventions first, generic shapes last.
var namePatterns = []*regexp.Regexp{
	// IMG_20210714_153000, PXL_20210714_153000123, VID-20210714-153000
	regexp.MustCompile(`(?i)^(?:IMG|VID|PXL|MVIMG|PANO|BURST|MOV)[_-]?(?P<year>\d{4})(?P<month>\d{2})(?P<day>\d{2})[_-](?P<hour>\d{2})(?P<minute>\d{2})(?P<second>\d{2})`),
	// IMG-20210714-WA0001 (WhatsApp)
	regexp.MustCompile(`(?i)^(?:IMG|VID|AUD|PTT)-(?P<year>\d{4})(?P<month>\d{2})(?P<day>\d{2})-WA\d+`),
	// Screenshot_2021-07-14-15-30-00, Screenshot_20210714-153000
	regexp.MustCompile(`(?i)^Screenshot[_ -](?P<year>\d{4})-?(?P<month>\d{2})-?(?P<day>\d{2})(?:[_ -](?P<hour>\d{2})[-.:_]?(?P<minute>\d{2})[-.:_]?(?P<second>\d{2}))?`),
	// Screen Shot 2021-07-14 at 3.30.00 PM (macOS)
	regexp.MustCompile(`(?i)^Screen ?Shot (?P<year>\d{4})-(?P<month>\d{2})-(?P<day>\d{2}) at (?P<hour>\d{1,2})\.(?P<minute>\d{2})\.(?P<second>\d{2})(?:\s*(?P<ampm>AM|PM))?`),
	// DJI_20210714153000_0001
	regexp.MustCompile(`(?i)^DJI_(?P<year>\d{4})(?P<month>\d{2})(?P<day>\d{2})(?P<hour>\d{2})(?P<minute>\d{2})(?P<second>\d{2})`),
	// generic yyyyMMdd_HHmmss
	regexp.MustCompile(`(?:^|\D)(?P<year>\d{4})(?P<month>\d{2})(?P<day>\d{2})[_-](?P<hour>\d{2})(?P<minute>\d{2})(?P<second>\d{2})(?:\D|$)`),
	// generic yyyy-MM-dd_HH-mm-ss
	regexp.MustCompile(`(?P<year>\d{4})-(?P<month>\d{2})-(?P<day>\d{2})[_ ](?P<hour>\d{2})[-_.](?P<minute>\d{2})[-_.](?P<second>\d{2})`),
	// generic yyyyMMdd
	regexp.MustCompile(`(?:^|\D)(?P<year>\d{4})(?P<month>\d{2})(?P<day>\d{2})(?:\D|$)`),
	// generic yyyy-MM-dd
	regexp.MustCompile(`(?P<year>\d{4})-(?P<month>\d{2})-(?P<day>\d{2})`),
}

func (FilenameExtractor) Extract(f models.RemoteFile) (models.DateCandidate, bool) {
	name := strings.TrimSpace(f.Name)
	if name == "" {
		return models.DateCandidate{}, false
	}

	stem := name
	if dot := strings.LastIndex(name, "."); dot > 0 {
		stem = name[:dot]
	}
	for _, layout := range stemLayouts {
		if t, err := time.Parse(layout, stem); err == nil {
			return models.DateCandidate{When: t.UTC(), Tier: models.TierFilename, Source: "filename"}, true
		}
	}

	for _, re := range namePatterns {
		for _, m := range re.FindAllStringSubmatch(name, -1) {
			g := groups(re, m)
			hour := g["hour"]
			if h, err := strconv.Atoi(hour); err == nil && g["ampm"] != "" {
				hour = strconv.Itoa(to24h(h, strings.EqualFold(g["ampm"], "PM")))
			}
			if t, ok := civil(g["year"], g["month"], g["day"], hour, g["minute"], g["second"]); ok {
				return models.DateCandidate{When: t, Tier: models.TierFilename, Source: "filename"}, true
			}
		}
	}
	return models.DateCandidate{}, false
}

func groups(re *regexp.Regexp, m []string) map[string]string {
	out := make(map[string]string, len(m))
	for i, name := range re.SubexpNames() {
		if name != "" && i < len(m) {
			out[name] = m[i]
		}
	}
	return out
}

func to24h(h int, pm bool) int {
	switch {
	case pm && h < 12:
		return h + 12
	case !pm && h == 12:
		return 0
	default:
		return h
	}
}

// FilesystemExtractor takes the earlier of the filesystem created and modified
// timestamps; sync clients bump "modified" without the content changing.
type FilesystemExtractor struct{}

func (FilesystemExtractor) Tier() models.Tier { return models.TierFilesystem }

func (FilesystemExtractor) Extract(f models.RemoteFile) (models.DateCandidate, bool) {
	created, modified := f.FSCreated.UTC(), f.FSModified.UTC()
	switch {
	case f.FSCreated.IsZero() && f.FSModified.IsZero():
		return models.DateCandidate{}, false
	case f.FSModified.IsZero():
		return models.DateCandidate{When: created, Tier: models.TierFilesystem, Source: "fs-created"}, true
	case f.FSCreated.IsZero(), modified.Before(created):
		return models.DateCandidate{When: modified, Tier: models.TierFilesystem, Source: "fs-modified"}, true
	default:
		return models.DateCandidate{When: created, Tier: models.TierFilesystem, Source: "fs-created"}, true
	}
}

// UploadExtractor returns the time the item was created in the remote store.
type UploadExtractor struct{}

func (UploadExtractor) Tier() models.Tier { return models.TierUpload }

func (UploadExtractor) Extract(f models.RemoteFile) (models.DateCandidate, bool) {
	if f.RemoteCreated.IsZero() {
		return models.DateCandidate{}, false
	}
	return models.DateCandidate{When: f.RemoteCreated.UTC(), Tier: models.TierUpload, Source: "upload-created"}, true
}

// civil builds a UTC instant from decimal fields and rejects dates that
// time.Date would silently normalize (month 13, Feb 30, hour 25).
func civil(year, month, day, hour, minute, second string) (time.Time, bool) {
	var v [6]int
	for i, s := range []string{year, month, day, hour, minute, second} {
		if s == "" {
			switch i {
			case 0, 1:
				return time.Time{}, false
			case 2:
				v[i] = 1
			}
			continue
		}
		n, err := strconv.Atoi(s)
		if err != nil {
			return time.Time{}, false
		}
		v[i] = n
	}
	t := time.Date(v[0], time.Month(v[1]), v[2], v[3], v[4], v[5], 0, time.UTC)
	if t.Year() != v[0] || int(t.Month()) != v[1] || t.Day() != v[2] ||
		t.Hour() != v[3] || t.Minute() != v[4] || t.Second() != v[5] {
		return time.Time{}, false
	}
	return t, true
}
