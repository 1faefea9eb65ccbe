// Package planner maps a resolved date to a destination inside the target root.
package planner

import (
	"fmt"
	"path"
	"strings"

	"github.com/chmdznr/orgphotos/pkg/models"
)

// UnsortedDir is the folder under the target root for files without a valid date.
const UnsortedDir = "Unsorted"

// Planner builds MovePlans; it never touches the remote store.
type Planner struct {
	root string
}

// New returns a planner rooted at targetRoot (drive or bucket relative).
func New(targetRoot string) *Planner {
	return &Planner{root: CleanDir(targetRoot)}
}

// Root returns the normalized target root.
func (p *Planner) Root() string { return p.root }

// Plan returns <root>/<yyyy>/<mm>/<name> for a valid resolution and
// <root>/Unsorted/<name> otherwise. Year and month come from the UTC instant.
func (p *Planner) Plan(f models.RemoteFile, res models.Resolution) models.MovePlan {
	plan := models.MovePlan{
		ItemID:     f.ID,
		SourceDir:  CleanDir(f.ParentPath),
		Name:       f.Name,
		Conflict:   models.ConflictReplace,
		Resolution: res,
	}
	if !res.Valid {
		plan.TargetDir = path.Join(p.root, UnsortedDir)
		plan.Unsorted = true
		return plan
	}
	when := res.When.UTC()
	plan.TargetDir = path.Join(p.root, fmt.Sprintf("%04d", when.Year()), fmt.Sprintf("%02d", int(when.Month())))
	return plan
}

// InPlace reports whether the file already sits at the planned destination.
func InPlace(plan models.MovePlan) bool {
	return plan.SourceDir == CleanDir(plan.TargetDir)
}

// CleanDir normalizes a slash separated folder path: no leading, trailing or doubled slashes.
func CleanDir(dir string) string {
	dir = strings.ReplaceAll(strings.TrimSpace(dir), "\\", "/")
	dir = path.Clean("/" + dir)
	return strings.Trim(dir, "/")
}
