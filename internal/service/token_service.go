package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	config "github.com/maheshrc27/marketing-dispatch/configs"
	"github.com/maheshrc27/marketing-dispatch/internal/apperrors"
	"github.com/maheshrc27/marketing-dispatch/internal/metrics"
	"github.com/maheshrc27/marketing-dispatch/internal/models"
	"github.com/maheshrc27/marketing-dispatch/internal/repository"
	"github.com/maheshrc27/marketing-dispatch/internal/transfer"
	"github.com/maheshrc27/marketing-dispatch/pkg/utils"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
)

// A refresh never outlives its lock.
const refreshLockTTL = time.Minute

// TokenService is the only path through which channel clients obtain credentials.
type TokenService interface {
	GetToken(ctx context.Context, storeID, platform string) (string, error)
	ForceRefresh(ctx context.Context, storeID, platform string) (string, error)
	SaveToken(ctx context.Context, storeID string, req *transfer.SaveTokenRequest) (*models.ChannelToken, error)
	GetTokenInfo(ctx context.Context, storeID, platform string) (*models.ChannelToken, error)
	RemoveToken(ctx context.Context, storeID, platform string) error
	AccountID(ctx context.Context, storeID, platform string) (string, error)
	TokenSource(ctx context.Context, storeID, platform string) oauth2.TokenSource
}

type tokenService struct {
	cfg       config.Config
	tokens    repository.ChannelTokenRepository
	refresher TokenRefresher
	locker    Locker
	cipher    *utils.Cipher
	group     singleflight.Group
	now       func() time.Time
}

func NewTokenService(
	cfg config.Config,
	tokens repository.ChannelTokenRepository,
	refresher TokenRefresher,
	locker Locker,
	cipher *utils.Cipher) TokenService {
	return &tokenService{
		cfg:       cfg,
		tokens:    tokens,
		refresher: refresher,
		locker:    locker,
		cipher:    cipher,
		now:       time.Now,
	}
}

// GetToken returns a usable token, refreshing it first when it is inside the
// refresh margin. A failed refresh still hands back the old token unless it
// has already expired.
func (s *tokenService) GetToken(ctx context.Context, storeID, platform string) (string, error) {
	if !models.ValidPlatform(platform) {
		return "", apperrors.NewValidation("platform", "unsupported platform "+platform)
	}

	rec, err := s.tokens.GetByStorePlatform(ctx, storeID, platform)
	if err != nil {
		return "", apperrors.NewPersistence("get token", err)
	}
	if rec == nil {
		if fallback := s.fallbackToken(platform); fallback != "" {
			return fallback, nil
		}
		return "", apperrors.NewNotFound("token", storeID+"/"+platform)
	}

	current, err := s.cipher.Decrypt(rec.LongToken)
	if err != nil {
		return "", &apperrors.ChannelAuthError{Platform: platform, Err: fmt.Errorf("stored token unreadable: %w", err)}
	}

	now := s.now()
	if !rec.ExpiresWithin(now, s.cfg.TokenRefreshMargin) {
		return current, nil
	}

	fresh, err := s.refresh(ctx, storeID, platform, false)
	if err == nil {
		return fresh, nil
	}
	if rec.ExpiredAt(now) {
		return "", err
	}

	slog.Warn("token refresh failed, serving existing token",
		slog.String("store_id", storeID),
		slog.String("platform", platform),
		slog.Any("error", err))
	return current, nil
}

func (s *tokenService) ForceRefresh(ctx context.Context, storeID, platform string) (string, error) {
	if !models.ValidPlatform(platform) {
		return "", apperrors.NewValidation("platform", "unsupported platform "+platform)
	}
	return s.refresh(ctx, storeID, platform, true)
}

func (s *tokenService) refresh(ctx context.Context, storeID, platform string, force bool) (string, error) {
	key := storeID + ":" + platform
	if force {
		key += ":force"
	}
	// The shared refresh is detached from the first caller; each caller stops
	// waiting on its own cancellation.
	ch := s.group.DoChan(key, func() (interface{}, error) {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), refreshLockTTL)
		defer cancel()
		return s.doRefresh(rctx, storeID, platform, force)
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

func (s *tokenService) doRefresh(ctx context.Context, storeID, platform string, force bool) (string, error) {
	rec, err := s.tokens.GetByStorePlatform(ctx, storeID, platform)
	if err != nil {
		return "", apperrors.NewPersistence("get token", err)
	}
	if rec == nil {
		return "", apperrors.NewNotFound("token", storeID+"/"+platform)
	}

	current, err := s.cipher.Decrypt(rec.LongToken)
	if err != nil {
		return "", &apperrors.ChannelAuthError{Platform: platform, Err: fmt.Errorf("stored token unreadable: %w", err)}
	}

	now := s.now()
	if !force && !rec.ExpiresWithin(now, s.cfg.TokenRefreshMargin) {
		return current, nil
	}

	release, err := s.locker.Acquire(ctx, "token-refresh:"+storeID+":"+platform, refreshLockTTL)
	if errors.Is(err, ErrLockHeld) {
		slog.Info("token refresh already running elsewhere",
			slog.String("store_id", storeID),
			slog.String("platform", platform))
		return current, nil
	}
	if err != nil {
		return "", fmt.Errorf("acquire refresh lock: %w", err)
	}
	defer release()

	if err := s.tokens.SetRefreshStatus(ctx, rec.ID, models.RefreshStatusRefreshing, nil); err != nil {
		return "", apperrors.NewPersistence("mark token refreshing", err)
	}

	res, err := s.refresher.Refresh(ctx, platform, current)
	if err != nil {
		status := models.RefreshStatusFailed
		if rec.ExpiredAt(now) {
			status = models.RefreshStatusExpired
		}
		s.recordRefreshFailure(ctx, rec.ID, status, err)
		metrics.TokenRefresh.WithLabelValues(platform, "failure").Inc()
		return "", &apperrors.ChannelAuthError{Platform: platform, Err: err}
	}

	sealed, err := s.cipher.Encrypt(res.AccessToken)
	if err != nil {
		s.recordRefreshFailure(ctx, rec.ID, models.RefreshStatusFailed, err)
		metrics.TokenRefresh.WithLabelValues(platform, "failure").Inc()
		return "", fmt.Errorf("seal refreshed token: %w", err)
	}
	next := &models.ChannelToken{LongToken: sealed, TokenExpiry: res.ExpiresAt, LastRefreshAt: &now}
	if err := s.tokens.SetToken(ctx, rec.ID, rec.LongToken, next); err != nil {
		if !errors.Is(err, repository.ErrTokenChanged) {
			s.recordRefreshFailure(ctx, rec.ID, models.RefreshStatusFailed, err)
			metrics.TokenRefresh.WithLabelValues(platform, "failure").Inc()
			return "", apperrors.NewPersistence("store refreshed token", err)
		}
		slog.Info("token replaced while refreshing; keeping the stored one",
			slog.String("store_id", storeID),
			slog.String("platform", platform))
	}

	metrics.TokenRefresh.WithLabelValues(platform, "success").Inc()
	slog.Info("token refreshed",
		slog.String("store_id", storeID),
		slog.String("platform", platform),
		slog.Any("expires_at", res.ExpiresAt))
	return res.AccessToken, nil
}

func (s *tokenService) recordRefreshFailure(ctx context.Context, id int64, status string, cause error) {
	msg := cause.Error()
	if err := s.tokens.SetRefreshStatus(ctx, id, status, &msg); err != nil {
		slog.Error("failed to record refresh failure", slog.Int64("token_id", id), slog.Any("error", err))
	}
}

func (s *tokenService) SaveToken(ctx context.Context, storeID string, req *transfer.SaveTokenRequest) (*models.ChannelToken, error) {
	if !models.ValidPlatform(req.Platform) {
		return nil, apperrors.NewValidation("platform", "unsupported platform "+req.Platform)
	}
	if req.LongToken == "" {
		return nil, apperrors.NewValidation("long_token", "long_token is required")
	}

	longToken, err := s.cipher.Encrypt(req.LongToken)
	if err != nil {
		return nil, err
	}
	var shortToken string
	if req.ShortToken != "" {
		if shortToken, err = s.cipher.Encrypt(req.ShortToken); err != nil {
			return nil, err
		}
	}

	rec := &models.ChannelToken{
		StoreID:       storeID,
		Platform:      req.Platform,
		AccountID:     req.AccountID,
		LongToken:     longToken,
		ShortToken:    shortToken,
		TokenExpiry:   req.TokenExpiry,
		RefreshStatus: models.RefreshStatusValid,
		IsActive:      true,
	}
	if _, err := s.tokens.Upsert(ctx, nil, rec); err != nil {
		return nil, apperrors.NewPersistence("save token", err)
	}
	return rec, nil
}

func (s *tokenService) GetTokenInfo(ctx context.Context, storeID, platform string) (*models.ChannelToken, error) {
	if !models.ValidPlatform(platform) {
		return nil, apperrors.NewValidation("platform", "unsupported platform "+platform)
	}
	rec, err := s.tokens.GetByStorePlatform(ctx, storeID, platform)
	if err != nil {
		return nil, apperrors.NewPersistence("get token", err)
	}
	if rec == nil {
		return nil, apperrors.NewNotFound("token", storeID+"/"+platform)
	}
	return rec, nil
}

// RemoveToken deactivates the stored credential. Later lookups fall back to
// the environment token, if any.
func (s *tokenService) RemoveToken(ctx context.Context, storeID, platform string) error {
	if _, err := s.GetTokenInfo(ctx, storeID, platform); err != nil {
		return err
	}
	if err := s.tokens.Remove(ctx, storeID, platform); err != nil {
		return apperrors.NewPersistence("remove token", err)
	}
	return nil
}

// AccountID resolves the sending account: the WhatsApp phone number id or the
// Instagram business user id.
func (s *tokenService) AccountID(ctx context.Context, storeID, platform string) (string, error) {
	rec, err := s.tokens.GetByStorePlatform(ctx, storeID, platform)
	if err != nil {
		return "", apperrors.NewPersistence("get token", err)
	}
	if rec != nil && rec.AccountID != "" {
		return rec.AccountID, nil
	}

	var fallback string
	switch platform {
	case models.PlatformWhatsApp:
		fallback = s.cfg.WhatsApp.PhoneNumberID
	case models.PlatformInstagram:
		fallback = s.cfg.Instagram.UserID
	}
	if fallback == "" {
		return "", &apperrors.ChannelAuthError{Platform: platform, Err: errors.New("no account id configured")}
	}
	return fallback, nil
}

func (s *tokenService) fallbackToken(platform string) string {
	switch platform {
	case models.PlatformWhatsApp:
		return s.cfg.WhatsApp.AccessToken
	case models.PlatformInstagram:
		return s.cfg.Instagram.AccessToken
	}
	return ""
}

func (s *tokenService) TokenSource(ctx context.Context, storeID, platform string) oauth2.TokenSource {
	return &storeTokenSource{ctx: ctx, s: s, storeID: storeID, platform: platform}
}

type storeTokenSource struct {
	ctx      context.Context
	s        TokenService
	storeID  string
	platform string
}

func (ts *storeTokenSource) Token() (*oauth2.Token, error) {
	tok, err := ts.s.GetToken(ts.ctx, ts.storeID, ts.platform)
	if err != nil {
		var auth *apperrors.ChannelAuthError
		if errors.As(err, &auth) {
			return nil, auth
		}
		return nil, &apperrors.ChannelAuthError{Platform: ts.platform, Err: err}
	}
	return &oauth2.Token{AccessToken: tok, TokenType: "Bearer"}, nil
}
