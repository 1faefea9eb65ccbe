// Package remote defines what the sorter needs from a cloud store.
package remote

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/chmdznr/orgphotos/pkg/models"
)

var (
	// ErrNotFound means the item (or folder) no longer exists.
	ErrNotFound = errors.New("remote: not found")
	// ErrUnauthorized means the store rejected the current credentials.
	ErrUnauthorized = errors.New("remote: unauthorized")
	// ErrNoCredentials means no usable credentials could be obtained, even
	// after the credential provider's own refresh.
	ErrNoCredentials = errors.New("remote: no credentials")
)

// Store lists a folder and moves items inside one remote namespace.
type Store interface {
	// List returns every file (never folders) directly inside folder,
	// draining pagination before returning.
	List(ctx context.Context, folder string) ([]models.RemoteFile, error)
	// Move places the item at plan.TargetDir/plan.Name honoring plan.Conflict.
	Move(ctx context.Context, plan models.MovePlan) error
}

// Refresher renews the credentials a Store uses.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// StatusError is a non-success response from the store.
type StatusError struct {
	Op         string
	StatusCode int
	Code       string
	Body       string
}

func (e *StatusError) Error() string {
	if e == nil {
		return "remote status error"
	}
	msg := fmt.Sprintf("%s: HTTP %d", e.Op, e.StatusCode)
	if e.Code != "" {
		msg += " " + e.Code
	}
	if body := strings.TrimSpace(e.Body); body != "" {
		if len(body) > 256 {
			body = body[:256] + "..."
		}
		msg += ": " + body
	}
	return msg
}

// Is lets errors.Is(err, ErrNotFound) and errors.Is(err, ErrUnauthorized) match status errors.
func (e *StatusError) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	case ErrUnauthorized:
		return e.StatusCode == http.StatusUnauthorized
	}
	return false
}
