package s3store

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/minio/minio-go/v7"

	"github.com/chmdznr/orgphotos/internal/remote"
	"github.com/chmdznr/orgphotos/pkg/models"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name         string
		err          error
		notFound     bool
		unauthorized bool
		status       int
	}{
		{"no such key", minio.ErrorResponse{Code: "NoSuchKey", StatusCode: http.StatusNotFound}, true, false, 0},
		{"no such bucket", minio.ErrorResponse{Code: "NoSuchBucket", StatusCode: http.StatusNotFound}, true, false, 0},
		{"access denied", minio.ErrorResponse{Code: "AccessDenied", StatusCode: http.StatusForbidden}, false, true, 0},
		{"expired token", minio.ErrorResponse{Code: "ExpiredToken", StatusCode: http.StatusBadRequest}, false, true, 0},
		{"server error", minio.ErrorResponse{Code: "InternalError", StatusCode: http.StatusInternalServerError}, false, false, 500},
		{"transport", errors.New("connection reset"), false, false, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classify("op", tt.err)
			if got := errors.Is(err, remote.ErrNotFound); got != tt.notFound {
				t.Errorf("ErrNotFound = %v; want %v (%v)", got, tt.notFound, err)
			}
			if got := errors.Is(err, remote.ErrUnauthorized); got != tt.unauthorized {
				t.Errorf("ErrUnauthorized = %v; want %v (%v)", got, tt.unauthorized, err)
			}
			var se *remote.StatusError
			if tt.status != 0 && (!errors.As(err, &se) || se.StatusCode != tt.status) {
				t.Errorf("want StatusError %d, got %v", tt.status, err)
			}
		})
	}
}

func TestToRemoteFile(t *testing.T) {
	mod := time.Date(2023, 5, 6, 7, 8, 9, 0, time.UTC)
	f := toRemoteFile(minio.ObjectInfo{
		Key:          "Inbox/Camera/IMG_1.jpg",
		Size:         42,
		LastModified: mod,
		ContentType:  "image/jpeg",
		UserMetadata: minio.StringMap{
			"X-Amz-Meta-Taken":   "2019:08:01 09:10:11",
			"X-Amz-Meta-Created": "2019-08-01T09:10:11Z",
		},
	})

	if f.ID != "Inbox/Camera/IMG_1.jpg" || f.Name != "IMG_1.jpg" || f.ParentPath != "Inbox/Camera" {
		t.Errorf("identity = %+v", f)
	}
	if f.Kind != models.KindPhoto || !f.HasExif || f.PhotoTaken != "2019:08:01 09:10:11" {
		t.Errorf("exif fields = kind %v has %v taken %q", f.Kind, f.HasExif, f.PhotoTaken)
	}
	if !f.FSCreated.Equal(time.Date(2019, 8, 1, 9, 10, 11, 0, time.UTC)) {
		t.Errorf("FSCreated = %v", f.FSCreated)
	}
	if !f.FSModified.Equal(mod) || !f.RemoteCreated.Equal(mod) {
		t.Errorf("FSModified = %v RemoteCreated = %v", f.FSModified, f.RemoteCreated)
	}

	root := toRemoteFile(minio.ObjectInfo{Key: "loose.mov", LastModified: mod})
	if root.ParentPath != "" || root.Kind != models.KindVideo || root.HasExif {
		t.Errorf("root object = %+v", root)
	}
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		key, contentType string
		want             models.MediaKind
	}{
		{"a.JPG", "", models.KindPhoto},
		{"a.heic", "application/octet-stream", models.KindPhoto},
		{"a.bin", "image/webp", models.KindPhoto},
		{"a.MP4", "", models.KindVideo},
		{"a.bin", "video/quicktime", models.KindVideo},
		{"notes.txt", "text/plain", models.KindOther},
	}
	for _, tt := range tests {
		if got := kindOf(tt.key, tt.contentType); got != tt.want {
			t.Errorf("kindOf(%q, %q) = %v; want %v", tt.key, tt.contentType, got, tt.want)
		}
	}
}

func TestCleanKey(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", ""},
		{"/Inbox/", "Inbox"},
		{"OrgPhotos//2021/07", "OrgPhotos/2021/07"},
	}
	for _, tt := range tests {
		if got := cleanKey(tt.in); got != tt.want {
			t.Errorf("cleanKey(%q) = %q; want %q", tt.in, got, tt.want)
		}
	}
}

func TestExifTakenRejectsGarbage(t *testing.T) {
	if _, err := exifTaken([]byte("definitely not a jpeg")); err == nil {
		t.Error("expected an error for non-exif data")
	}
}

func TestNewRequiresBucket(t *testing.T) {
	if _, err := New(Config{Endpoint: "localhost:9000"}, nil); err == nil {
		t.Error("expected error without bucket")
	}
}

// isolateCreds clears the MinIO credential sources so only what a test sets is seen.
func isolateCreds(t *testing.T) string {
	t.Helper()
	for _, k := range []string{"MINIO_ROOT_USER", "MINIO_ROOT_PASSWORD", "MINIO_ACCESS_KEY", "MINIO_SECRET_KEY", "MINIO_ALIAS"} {
		t.Setenv(k, "")
	}
	mc := filepath.Join(t.TempDir(), "config.json")
	t.Setenv("MINIO_SHARED_CREDENTIALS_FILE", mc)
	return mc
}

func accessKey(t *testing.T, s *Store) string {
	t.Helper()
	v, err := s.creds.Get()
	if err != nil {
		t.Fatalf("creds.Get() error = %v", err)
	}
	return v.AccessKeyID
}

func TestRefreshPicksUpRotatedKeys(t *testing.T) {
	isolateCreds(t)
	s, err := New(Config{Endpoint: "localhost:9000", Bucket: "photos", AccessKey: "ak", SecretKey: "sk"}, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if got := accessKey(t, s); got != "ak" {
		t.Fatalf("access key = %q; want configured ak", got)
	}

	t.Setenv("MINIO_ACCESS_KEY", "rotated")
	t.Setenv("MINIO_SECRET_KEY", "rotated-secret")
	if got := accessKey(t, s); got != "ak" {
		t.Errorf("access key before refresh = %q; want cached ak", got)
	}
	if err := s.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if got := accessKey(t, s); got != "rotated" {
		t.Errorf("access key after refresh = %q; want rotated", got)
	}
}

func TestRefreshReadsMcConfig(t *testing.T) {
	mc := isolateCreds(t)
	s, err := New(Config{Endpoint: "localhost:9000", Bucket: "photos", AccessKey: "ak", SecretKey: "sk"}, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	content := `{"version": "10", "aliases": {"s3": {"url": "http://localhost:9000", "accessKey": "from-mc", "secretKey": "x", "api": "S3v4"}}}`
	if err := os.WriteFile(mc, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := s.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if got := accessKey(t, s); got != "from-mc" {
		t.Errorf("access key = %q; want from-mc", got)
	}
}
