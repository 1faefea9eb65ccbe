// Package auth owns the OneDrive credentials and the gate that retries a
// remote call once after refreshing them.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/microsoft"
)

// DefaultScopes are requested when exchanging the refresh token.
var DefaultScopes = []string{
	"https://graph.microsoft.com/Files.ReadWrite.All",
	"offline_access",
}

// OAuthConfig holds the identity provider coordinates.
type OAuthConfig struct {
	ClientID  string
	TenantID  string
	TokenFile TokenFile

	// TokenURL overrides the Microsoft identity endpoint.
	TokenURL   string
	Scopes     []string
	HTTPClient *http.Client
}

// OAuth hands out bearer tokens for Microsoft Graph and renews them from the
// refresh-token file.
type OAuth struct {
	conf   *oauth2.Config
	file   TokenFile
	client *http.Client
	logger *zap.Logger
	now    func() time.Time

	mu     sync.Mutex
	access string
	expiry time.Time
}

// NewOAuth validates cfg and returns a provider holding no access token yet.
func NewOAuth(cfg OAuthConfig, logger *zap.Logger) (*OAuth, error) {
	if cfg.ClientID == "" {
		return nil, errors.New("onedrive client id is required")
	}
	if cfg.TokenFile.Path == "" {
		return nil, errors.New("refresh token file is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	tenant := cfg.TenantID
	if tenant == "" {
		tenant = "common"
	}
	endpoint := microsoft.AzureADEndpoint(tenant)
	if cfg.TokenURL != "" {
		endpoint.TokenURL = cfg.TokenURL
	}
	// public client: no secret, client_id goes in the form body
	endpoint.AuthStyle = oauth2.AuthStyleInParams

	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = DefaultScopes
	}

	return &OAuth{
		conf: &oauth2.Config{
			ClientID: cfg.ClientID,
			Endpoint: endpoint,
			Scopes:   scopes,
		},
		file:   cfg.TokenFile,
		client: cfg.HTTPClient,
		logger: logger,
		now:    time.Now,
	}, nil
}

// Token returns the current access token, refreshing when none is held or it has expired.
func (o *OAuth) Token(ctx context.Context) (string, error) {
	o.mu.Lock()
	access, expiry := o.access, o.expiry
	o.mu.Unlock()

	if access != "" && (expiry.IsZero() || o.now().Before(expiry.Add(-time.Minute))) {
		return access, nil
	}
	if err := o.Refresh(ctx); err != nil {
		return "", err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.access, nil
}

// Refresh exchanges the refresh token on disk for a new access token and
// writes back a rotated refresh token when the provider returns one.
func (o *OAuth) Refresh(ctx context.Context) error {
	rt, err := o.file.Load()
	if err != nil {
		return err
	}
	if o.client != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, o.client)
	}

	// the v2 endpoint wants scope on the refresh grant; TokenSource omits it
	tok, err := o.conf.Exchange(ctx, "",
		oauth2.SetAuthURLParam("grant_type", "refresh_token"),
		oauth2.SetAuthURLParam("refresh_token", rt),
		oauth2.SetAuthURLParam("scope", strings.Join(o.conf.Scopes, " ")),
	)
	if err != nil {
		return fmt.Errorf("token refresh: %w", err)
	}
	if tok.AccessToken == "" {
		return errors.New("token refresh: empty access token")
	}

	o.mu.Lock()
	o.access = tok.AccessToken
	o.expiry = tok.Expiry
	o.mu.Unlock()

	if tok.RefreshToken != "" && tok.RefreshToken != rt {
		if err := o.file.Save(tok.RefreshToken); err != nil {
			o.logger.Warn("cannot update refresh token file", zap.String("path", o.file.Path), zap.Error(err))
		} else {
			o.logger.Debug("refresh token file updated", zap.String("path", o.file.Path))
		}
	}
	return nil
}
