package dates

import (
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/chmdznr/orgphotos/pkg/models"
)

// MinValid is the earliest instant accepted as a capture date.
var MinValid = time.Date(1990, 1, 1, 0, 0, 0, 0, time.UTC)

// Validate reports why t is outside [MinValid, now], or "" when it is inside.
func Validate(t, now time.Time) string {
	switch {
	case t.Before(MinValid):
		return "before 1990-01-01"
	case t.After(now):
		return "in the future"
	default:
		return ""
	}
}

// Resolver runs extractors in tier order and keeps the first valid candidate.
type Resolver struct {
	extractors []Extractor
	now        func() time.Time
	logger     *zap.Logger
}

// NewResolver returns a resolver over the default extractor pyramid.
// now is evaluated once per file; nil means time.Now.
func NewResolver(logger *zap.Logger, now func() time.Time) *Resolver {
	return NewResolverWith(Default(), logger, now)
}

// NewResolverWith lets callers supply their own ordered extractor list.
func NewResolverWith(extractors []Extractor, logger *zap.Logger, now func() time.Time) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	if now == nil {
		now = time.Now
	}
	return &Resolver{extractors: extractors, now: now, logger: logger}
}

// Resolve picks the authoritative date for f. An invalid Resolution routes the file to Unsorted.
func (r *Resolver) Resolve(f models.RemoteFile) models.Resolution {
	now := r.now().UTC()

	var res models.Resolution
	for _, ex := range r.extractors {
		c, ok := ex.Extract(f)
		if !ok {
			continue
		}
		if why := Validate(c.When, now); why != "" {
			r.logger.Warn("date candidate rejected",
				zap.String("item", f.ID),
				zap.String("name", f.Name),
				zap.Int("tier", int(c.Tier)),
				zap.String("method", c.Source),
				zap.Time("date", c.When),
				zap.String("reason", why),
			)
			res.Rejected = append(res.Rejected, c)
			continue
		}
		res.When = c.When
		res.Valid = true
		res.Tier = c.Tier
		res.Method = c.Source
		res.Reason = fmt.Sprintf("%s %s", c.Source, c.When.Format(time.RFC3339))
		return res
	}

	res.Tier = models.TierNone
	res.Method = "unknown"
	if len(res.Rejected) > 0 {
		res.Method = res.Rejected[0].Source
	}
	res.Reason = unsortedReason(res.Rejected, now)
	return res
}

func unsortedReason(rejected []models.DateCandidate, now time.Time) string {
	if len(rejected) == 0 {
		return "no date source"
	}
	parts := make([]string, 0, len(rejected))
	for _, c := range rejected {
		parts = append(parts, fmt.Sprintf("%s %s %s", c.Source, c.When.Format(time.RFC3339), Validate(c.When, now)))
	}
	return "no valid date: " + strings.Join(parts, "; ")
}
