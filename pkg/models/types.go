package models

import "time"

// Tier is the confidence rank of a date source, 1 being the most trustworthy.
type Tier int

const (
	TierNone       Tier = 0
	TierExif       Tier = 1
	TierFolder     Tier = 2
	TierFilename   Tier = 3
	TierFilesystem Tier = 4
	TierUpload     Tier = 5
)

func (t Tier) String() string {
	switch t {
	case TierExif:
		return "exif"
	case TierFolder:
		return "folder"
	case TierFilename:
		return "filename"
	case TierFilesystem:
		return "filesystem"
	case TierUpload:
		return "upload"
	default:
		return "none"
	}
}

// DateCandidate is the output of one extractor.
type DateCandidate struct {
	When   time.Time
	Tier   Tier
	Source string // e.g. "exif-photo", "folder", "fs-modified"
}

// Resolution is the resolver's decision for one file.
//
// A zero When (Valid false) routes the file to Unsorted.
type Resolution struct {
	When     time.Time
	Valid    bool
	Tier     Tier
	Method   string
	Reason   string
	Rejected []DateCandidate
}

// ConflictPolicy tells the remote store what to do when the destination name is taken.
type ConflictPolicy string

const (
	ConflictReplace ConflictPolicy = "replace"
	ConflictFail    ConflictPolicy = "fail"
	ConflictRename  ConflictPolicy = "rename"
)

// MovePlan is the target of one file, derived once per Resolution.
type MovePlan struct {
	ItemID     string
	SourceDir  string
	TargetDir  string
	Name       string
	Conflict   ConflictPolicy
	Unsorted   bool
	Resolution Resolution
}

// TargetPath returns TargetDir/Name.
func (p MovePlan) TargetPath() string {
	if p.TargetDir == "" {
		return p.Name
	}
	return p.TargetDir + "/" + p.Name
}
