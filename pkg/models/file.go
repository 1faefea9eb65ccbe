package models

import (
	"path"
	"time"
)

// MediaKind classifies a remote item by its content.
type MediaKind string

const (
	KindPhoto MediaKind = "photo"
	KindVideo MediaKind = "video"
	KindOther MediaKind = "other"
)

// RemoteFile represents one item listed from the source folder.
//
// Values are built fresh from every listing response and never mutated.
// All timestamps are UTC.
type RemoteFile struct {
	ID         string
	Name       string
	ParentPath string // drive/bucket relative, no leading or trailing slash
	Size       int64
	Kind       MediaKind
	HasExif    bool

	// PhotoTaken and VideoTaken hold the literal takenDateTime of the photo or
	// video metadata facet, empty when the store reported none.
	PhotoTaken string
	VideoTaken string

	FSCreated     time.Time
	FSModified    time.Time
	RemoteCreated time.Time
}

// Path returns the drive relative path of the item.
func (f RemoteFile) Path() string {
	if f.ParentPath == "" {
		return f.Name
	}
	return path.Join(f.ParentPath, f.Name)
}
