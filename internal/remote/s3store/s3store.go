// Package s3store implements remote.Store for MinIO and other S3 compatible
// object stores. Folders are key prefixes; a move is a server-side copy
// followed by removal of the source object.
package s3store

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rwcarlsen/goexif/exif"
	"go.uber.org/zap"

	"github.com/chmdznr/orgphotos/internal/remote"
	"github.com/chmdznr/orgphotos/pkg/models"
)

// exifProbeSize is how much of an object is fetched to look for an EXIF block.
const exifProbeSize = 256 << 10

var photoExts = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".tif": true, ".tiff": true,
	".heic": true, ".heif": true, ".dng": true, ".arw": true, ".cr2": true, ".nef": true, ".raf": true,
}

var videoExts = map[string]bool{
	".mp4": true, ".mov": true, ".avi": true, ".mkv": true, ".m4v": true, ".3gp": true,
	".wmv": true, ".mpg": true, ".mpeg": true,
}

// Config holds the bucket coordinates.
type Config struct {
	Endpoint  string
	Bucket    string
	AccessKey string
	SecretKey string
	Secure    bool
	ProbeExif bool
}

// Store is a bucket seen as a drive.
type Store struct {
	client    *minio.Client
	creds     *credentials.Credentials
	bucket    string
	probeExif bool
	logger    *zap.Logger
}

var (
	_ remote.Store     = (*Store)(nil)
	_ remote.Refresher = (*Store)(nil)
)

// New creates a MinIO client with a transport tuned for long running use.
func New(cfg Config, logger *zap.Logger) (*Store, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, errors.New("s3 endpoint and bucket are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	tr := &http.Transport{
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          16,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	// rotated keys in the MinIO environment or the mc config take precedence
	// over the configured pair and are picked up again on Refresh
	creds := credentials.NewChainCredentials([]credentials.Provider{
		&credentials.EnvMinio{},
		&credentials.FileMinioClient{},
		&credentials.Static{Value: credentials.Value{
			AccessKeyID:     cfg.AccessKey,
			SecretAccessKey: cfg.SecretKey,
			SignerType:      credentials.SignatureV4,
		}},
	})
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:        creds,
		Secure:       cfg.Secure,
		Transport:    tr,
		BucketLookup: minio.BucketLookupAuto,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize MinIO client: %w", err)
	}

	return &Store{
		client:    client,
		creds:     creds,
		bucket:    cfg.Bucket,
		probeExif: cfg.ProbeExif,
		logger:    logger,
	}, nil
}

// List returns the objects directly under folder/.
func (s *Store) List(ctx context.Context, folder string) ([]models.RemoteFile, error) {
	prefix := cleanKey(folder)
	if prefix != "" {
		prefix += "/"
	}

	var files []models.RemoteFile
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:       prefix,
		Recursive:    false,
		WithMetadata: true,
	}) {
		if obj.Err != nil {
			return nil, classify("list "+folder, obj.Err)
		}
		if strings.HasSuffix(obj.Key, "/") {
			continue
		}
		f := toRemoteFile(obj)
		if s.probeExif && f.Kind == models.KindPhoto && f.PhotoTaken == "" {
			if taken, err := s.readExif(ctx, obj.Key, obj.Size); err != nil {
				s.logger.Debug("no exif date", zap.String("key", obj.Key), zap.Error(err))
			} else {
				f.PhotoTaken = taken
				f.HasExif = true
			}
		}
		files = append(files, f)
	}
	return files, nil
}

// Move copies the object to TargetDir/Name, overwriting whatever is there, and
// removes the source. Only ConflictReplace is meaningful on S3.
func (s *Store) Move(ctx context.Context, plan models.MovePlan) error {
	src := plan.ItemID
	dst := plan.TargetPath()
	if plan.Conflict == models.ConflictFail {
		if _, err := s.client.StatObject(ctx, s.bucket, dst, minio.StatObjectOptions{}); err == nil {
			return &remote.StatusError{Op: "move " + src, StatusCode: http.StatusConflict, Code: "AlreadyExists"}
		}
	}

	_, err := s.client.CopyObject(ctx,
		minio.CopyDestOptions{Bucket: s.bucket, Object: dst},
		minio.CopySrcOptions{Bucket: s.bucket, Object: src},
	)
	if err != nil {
		return classify("copy "+src, err)
	}
	if err := s.client.RemoveObject(ctx, s.bucket, src, minio.RemoveObjectOptions{}); err != nil {
		return classify("remove "+src, err)
	}
	return nil
}

// Refresh drops the cached credentials so the next request re-reads them.
func (s *Store) Refresh(_ context.Context) error {
	if s.creds == nil {
		return errors.New("no credentials to refresh")
	}
	s.creds.Expire()
	v, err := s.creds.Get()
	if err != nil {
		return fmt.Errorf("reload s3 credentials: %w", err)
	}
	if v.AccessKeyID == "" {
		return errors.New("reload s3 credentials: no access key available")
	}
	s.logger.Info("s3 credentials reloaded")
	return nil
}

func (s *Store) readExif(ctx context.Context, key string, size int64) (string, error) {
	opts := minio.GetObjectOptions{}
	end := int64(exifProbeSize)
	if size > 0 && size < end {
		end = size
	}
	if err := opts.SetRange(0, end-1); err != nil {
		return "", err
	}
	obj, err := s.client.GetObject(ctx, s.bucket, key, opts)
	if err != nil {
		return "", err
	}
	defer obj.Close()

	b, err := io.ReadAll(obj)
	if err != nil {
		return "", err
	}
	return exifTaken(b)
}

// exifTaken returns the literal DateTimeOriginal (or DateTime) string of an EXIF block.
func exifTaken(b []byte) (string, error) {
	x, err := exif.Decode(bytes.NewReader(b))
	if err != nil {
		return "", err
	}
	for _, name := range []exif.FieldName{exif.DateTimeOriginal, exif.DateTime} {
		tag, err := x.Get(name)
		if err != nil {
			continue
		}
		v, err := tag.StringVal()
		if err != nil {
			continue
		}
		v = strings.TrimRight(strings.TrimSpace(v), "\x00")
		if len(v) >= 19 && v[4] == ':' && v[7] == ':' {
			return v[:19], nil
		}
	}
	return "", errors.New("no date tag")
}

func toRemoteFile(obj minio.ObjectInfo) models.RemoteFile {
	key := obj.Key
	parent := path.Dir(key)
	if parent == "." {
		parent = ""
	}
	mod := obj.LastModified.UTC()
	f := models.RemoteFile{
		ID:            key,
		Name:          path.Base(key),
		ParentPath:    parent,
		Size:          obj.Size,
		Kind:          kindOf(key, obj.ContentType),
		FSCreated:     mod,
		FSModified:    mod,
		RemoteCreated: mod,
	}

	for k, v := range obj.UserMetadata {
		name := strings.ToLower(k)
		name = strings.TrimPrefix(name, "x-amz-meta-")
		switch name {
		case "taken":
			if f.Kind == models.KindVideo {
				f.VideoTaken = v
			} else {
				f.PhotoTaken = v
			}
		case "created":
			if t, err := time.Parse(time.RFC3339, v); err == nil {
				f.FSCreated = t.UTC()
			}
		case "modified":
			if t, err := time.Parse(time.RFC3339, v); err == nil {
				f.FSModified = t.UTC()
			}
		}
	}
	f.HasExif = f.PhotoTaken != "" || f.VideoTaken != ""
	return f
}

func kindOf(key, contentType string) models.MediaKind {
	ext := strings.ToLower(path.Ext(key))
	switch {
	case photoExts[ext], strings.HasPrefix(contentType, "image/"):
		return models.KindPhoto
	case videoExts[ext], strings.HasPrefix(contentType, "video/"):
		return models.KindVideo
	default:
		return models.KindOther
	}
}

// classify maps S3 error codes onto the remote error taxonomy.
func classify(op string, err error) error {
	resp := minio.ToErrorResponse(err)
	switch resp.Code {
	case "NoSuchKey", "NoSuchBucket":
		return fmt.Errorf("%s: %w: %w", op, remote.ErrNotFound, err)
	case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch", "ExpiredToken", "InvalidToken":
		return fmt.Errorf("%s: %w: %w", op, remote.ErrUnauthorized, err)
	}
	if resp.StatusCode >= 400 {
		return &remote.StatusError{Op: op, StatusCode: resp.StatusCode, Code: resp.Code, Body: resp.Message}
	}
	return fmt.Errorf("%s: %w", op, err)
}

func cleanKey(p string) string {
	p = path.Clean("/" + strings.TrimSpace(p))
	return strings.Trim(p, "/")
}
