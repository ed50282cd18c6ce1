package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	config "github.com/maheshrc27/marketing-dispatch/configs"
	"github.com/maheshrc27/marketing-dispatch/internal/models"
	"github.com/maheshrc27/marketing-dispatch/internal/transfer"
)

// Long-lived Meta tokens last about 60 days when the exchange response omits expires_in.
const defaultLongLivedTTL = 60 * 24 * time.Hour

type RefreshedToken struct {
	AccessToken string
	ExpiresAt   *time.Time
}

// TokenRefresher exchanges a still-valid long-lived token for a fresh one.
type TokenRefresher interface {
	Refresh(ctx context.Context, platform, token string) (*RefreshedToken, error)
}

type graphTokenRefresher struct {
	cfg        config.Config
	httpClient *http.Client
	now        func() time.Time
}

func NewGraphTokenRefresher(cfg config.Config, httpClient *http.Client) TokenRefresher {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &graphTokenRefresher{cfg: cfg, httpClient: httpClient, now: time.Now}
}

func (r *graphTokenRefresher) Refresh(ctx context.Context, platform, token string) (*RefreshedToken, error) {
	if token == "" {
		return nil, errors.New("no token to refresh")
	}

	ctx, cancel := context.WithTimeout(ctx, r.cfg.ChannelCallTimeout)
	defer cancel()

	var endpoint string
	params := url.Values{}
	switch {
	case platform == models.PlatformInstagram && strings.HasPrefix(token, "IG"):
		// Instagram Login tokens refresh against graph.instagram.com.
		endpoint = graphEndpoint(r.cfg.Graph.InstagramBaseURL, "", "refresh_access_token")
		params.Set("grant_type", "ig_refresh_token")
		params.Set("access_token", token)
	default:
		endpoint = graphEndpoint(r.cfg.Graph.BaseURL, r.cfg.Graph.Version, "oauth", "access_token")
		params.Set("grant_type", "fb_exchange_token")
		params.Set("client_id", r.cfg.Graph.AppID)
		params.Set("client_secret", r.cfg.Graph.AppSecret)
		params.Set("fb_exchange_token", token)
	}

	status, raw, err := doJSON(ctx, r.httpClient, http.MethodGet, endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("token exchange request failed: %w", err)
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("token exchange rejected (status %d): %s", status, raw)
	}

	var result transfer.AccessTokenResponse
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("failed to decode token response: %w", err)
	}
	if result.AccessToken == "" {
		return nil, errors.New("token exchange returned no access_token")
	}

	now := r.now()
	expiresAt := GetExpiresAt(now, result.ExpiresIn)
	if expiresAt == nil {
		t := now.Add(defaultLongLivedTTL)
		expiresAt = &t
	}

	return &RefreshedToken{AccessToken: result.AccessToken, ExpiresAt: expiresAt}, nil
}
