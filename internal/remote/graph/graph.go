// Package graph implements remote.Store on top of the Microsoft Graph drive API.
package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"path"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/chmdznr/orgphotos/internal/remote"
	"github.com/chmdznr/orgphotos/pkg/models"
)

// DefaultBaseURL is the Graph v1.0 endpoint.
const DefaultBaseURL = "https://graph.microsoft.com/v1.0"

const listSelect = "id,name,size,file,folder,photo,video,fileSystemInfo,createdDateTime,lastModifiedDateTime,parentReference"

// TokenSource hands out bearer tokens.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Client talks to /me/drive. Folder ids are cached until the next List.
type Client struct {
	baseURL string
	http    *http.Client
	tokens  TokenSource
	logger  *zap.Logger

	mu      sync.Mutex
	folders map[string]string // drive relative path -> item id
}

var _ remote.Store = (*Client)(nil)

// Config for New.
type Config struct {
	BaseURL    string
	HTTPClient *http.Client
}

// New returns a Graph client. A nil HTTPClient gets a transport tuned for long running use.
func New(cfg Config, tokens TokenSource, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{
			Transport: &http.Transport{
				Proxy: http.ProxyFromEnvironment,
				DialContext: (&net.Dialer{
					Timeout:   30 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				MaxIdleConns:          10,
				IdleConnTimeout:       90 * time.Second,
				TLSHandshakeTimeout:   10 * time.Second,
				ExpectContinueTimeout: 1 * time.Second,
			},
			Timeout: 60 * time.Second,
		}
	}
	return &Client{
		baseURL: base,
		http:    hc,
		tokens:  tokens,
		logger:  logger,
		folders: make(map[string]string),
	}
}

type driveItem struct {
	ID                   string    `json:"id"`
	Name                 string    `json:"name"`
	Size                 int64     `json:"size"`
	CreatedDateTime      time.Time `json:"createdDateTime"`
	LastModifiedDateTime time.Time `json:"lastModifiedDateTime"`
	File                 *struct {
		MimeType string `json:"mimeType"`
	} `json:"file"`
	Folder *struct {
		ChildCount int `json:"childCount"`
	} `json:"folder"`
	Photo *struct {
		TakenDateTime string `json:"takenDateTime"`
	} `json:"photo"`
	Video *struct {
		TakenDateTime string `json:"takenDateTime"`
	} `json:"video"`
	FileSystemInfo *struct {
		CreatedDateTime      *time.Time `json:"createdDateTime"`
		LastModifiedDateTime *time.Time `json:"lastModifiedDateTime"`
	} `json:"fileSystemInfo"`
	ParentReference *struct {
		ID   string `json:"id"`
		Path string `json:"path"`
	} `json:"parentReference"`
}

type childrenPage struct {
	Value    []driveItem `json:"value"`
	NextLink string      `json:"@odata.nextLink"`
}

// List returns the files directly inside folder, following @odata.nextLink.
func (c *Client) List(ctx context.Context, folder string) ([]models.RemoteFile, error) {
	c.mu.Lock()
	c.folders = make(map[string]string)
	c.mu.Unlock()

	folder = cleanPath(folder)
	next := c.baseURL + "/" + childrenEndpoint(folder) + "?$select=" + listSelect

	var files []models.RemoteFile
	for next != "" {
		var page childrenPage
		if err := c.do(ctx, "list "+folder, http.MethodGet, next, nil, &page); err != nil {
			return nil, err
		}
		for _, it := range page.Value {
			if it.Folder != nil {
				continue
			}
			files = append(files, toRemoteFile(it, folder))
		}
		next = page.NextLink
	}
	return files, nil
}

// Move places the item under plan.TargetDir, creating missing folders.
func (c *Client) Move(ctx context.Context, plan models.MovePlan) error {
	parentID, err := c.ensureFolder(ctx, cleanPath(plan.TargetDir))
	if err != nil {
		return fmt.Errorf("ensure folder %q: %w", plan.TargetDir, err)
	}

	conflict := plan.Conflict
	if conflict == "" {
		conflict = models.ConflictReplace
	}
	body := map[string]any{
		"parentReference":                   map[string]string{"id": parentID},
		"name":                              plan.Name,
		"@microsoft.graph.conflictBehavior": string(conflict),
	}
	endpoint := c.baseURL + "/me/drive/items/" + url.PathEscape(plan.ItemID) +
		"?@microsoft.graph.conflictBehavior=" + url.QueryEscape(string(conflict))
	return c.do(ctx, "move "+plan.ItemID, http.MethodPatch, endpoint, body, nil)
}

// ensureFolder returns the id of dir, creating each missing segment.
func (c *Client) ensureFolder(ctx context.Context, dir string) (string, error) {
	if dir == "" {
		return "root", nil
	}
	c.mu.Lock()
	id, ok := c.folders[dir]
	c.mu.Unlock()
	if ok {
		return id, nil
	}

	id, err := c.folderID(ctx, dir)
	if errors.Is(err, remote.ErrNotFound) {
		id, err = c.createFolder(ctx, dir)
	}
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	c.folders[dir] = id
	c.mu.Unlock()
	return id, nil
}

func (c *Client) folderID(ctx context.Context, dir string) (string, error) {
	var it driveItem
	endpoint := c.baseURL + "/me/drive/root:/" + escapePath(dir) + ":"
	if err := c.do(ctx, "get folder "+dir, http.MethodGet, endpoint, nil, &it); err != nil {
		return "", err
	}
	if it.ID == "" {
		return "", fmt.Errorf("folder %q: empty id", dir)
	}
	return it.ID, nil
}

func (c *Client) createFolder(ctx context.Context, dir string) (string, error) {
	parent, name := path.Split(dir)
	parentID, err := c.ensureFolder(ctx, cleanPath(parent))
	if err != nil {
		return "", err
	}

	body := map[string]any{
		"name":                              name,
		"folder":                            map[string]any{},
		"@microsoft.graph.conflictBehavior": string(models.ConflictFail),
	}
	var it driveItem
	endpoint := c.baseURL + "/me/drive/items/" + url.PathEscape(parentID) + "/children"
	err = c.do(ctx, "create folder "+dir, http.MethodPost, endpoint, body, &it)
	var se *remote.StatusError
	if errors.As(err, &se) && se.StatusCode == http.StatusConflict {
		// created concurrently
		return c.folderID(ctx, dir)
	}
	if err != nil {
		return "", err
	}
	c.logger.Info("created folder", zap.String("path", dir))
	return it.ID, nil
}

func (c *Client) do(ctx context.Context, op, method, endpoint string, in, out any) error {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w: %w", op, remote.ErrNoCredentials, err)
	}

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%s: marshal request: %w", op, err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("%s: create request: %w", op, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return fmt.Errorf("%s: read response: %w", op, err)
	}
	if resp.StatusCode >= 400 {
		return &remote.StatusError{Op: op, StatusCode: resp.StatusCode, Code: graphErrorCode(raw), Body: string(raw)}
	}
	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%s: decode response: %w", op, err)
	}
	return nil
}

func graphErrorCode(raw []byte) string {
	var e struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if json.Unmarshal(raw, &e) != nil {
		return ""
	}
	return e.Error.Code
}

func toRemoteFile(it driveItem, folder string) models.RemoteFile {
	f := models.RemoteFile{
		ID:            it.ID,
		Name:          it.Name,
		ParentPath:    folder,
		Size:          it.Size,
		Kind:          kindOf(it),
		RemoteCreated: it.CreatedDateTime.UTC(),
		FSCreated:     it.CreatedDateTime.UTC(),
		FSModified:    it.LastModifiedDateTime.UTC(),
	}
	if it.ParentReference != nil && it.ParentReference.Path != "" {
		f.ParentPath = drivePath(it.ParentReference.Path)
	}
	if fsi := it.FileSystemInfo; fsi != nil {
		if fsi.CreatedDateTime != nil && !fsi.CreatedDateTime.IsZero() {
			f.FSCreated = fsi.CreatedDateTime.UTC()
		}
		if fsi.LastModifiedDateTime != nil && !fsi.LastModifiedDateTime.IsZero() {
			f.FSModified = fsi.LastModifiedDateTime.UTC()
		}
	}
	if it.Photo != nil {
		f.PhotoTaken = it.Photo.TakenDateTime
	}
	if it.Video != nil {
		f.VideoTaken = it.Video.TakenDateTime
	}
	f.HasExif = f.PhotoTaken != "" || f.VideoTaken != ""
	return f
}

func kindOf(it driveItem) models.MediaKind {
	switch {
	case it.Photo != nil:
		return models.KindPhoto
	case it.Video != nil:
		return models.KindVideo
	case it.File != nil && strings.HasPrefix(it.File.MimeType, "image/"):
		return models.KindPhoto
	case it.File != nil && strings.HasPrefix(it.File.MimeType, "video/"):
		return models.KindVideo
	default:
		return models.KindOther
	}
}

// drivePath turns "/drive/root:/Inbox/Camera" into "Inbox/Camera".
func drivePath(p string) string {
	if i := strings.Index(p, "root:"); i >= 0 {
		p = p[i+len("root:"):]
	}
	if u, err := url.PathUnescape(p); err == nil {
		p = u
	}
	return cleanPath(p)
}

func childrenEndpoint(folder string) string {
	if folder == "" {
		return "me/drive/root/children"
	}
	return "me/drive/root:/" + escapePath(folder) + ":/children"
}

func escapePath(p string) string {
	segs := strings.Split(p, "/")
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}
	return strings.Join(segs, "/")
}

func cleanPath(p string) string {
	p = path.Clean("/" + strings.TrimSpace(p))
	return strings.Trim(p, "/")
}
