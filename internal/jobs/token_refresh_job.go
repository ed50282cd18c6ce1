package job

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/maheshrc27/marketing-dispatch/internal/models"
	"github.com/maheshrc27/marketing-dispatch/internal/repository"
	"github.com/maheshrc27/marketing-dispatch/internal/service"
)

type TokenRefreshJob struct {
	tr     repository.ChannelTokenRepository
	ts     service.TokenService
	margin time.Duration
	now    func() time.Time
}

func NewTokenRefreshJob(
	tr repository.ChannelTokenRepository,
	ts service.TokenService,
	margin time.Duration) *TokenRefreshJob {
	return &TokenRefreshJob{
		tr:     tr,
		ts:     ts,
		margin: margin,
		now:    time.Now,
	}
}

// RefreshTokens force-refreshes every active token that expires inside the margin.
func (c *TokenRefreshJob) RefreshTokens() {
	ctx := context.Background()

	tokens, err := c.tr.ListExpiring(ctx, c.now().Add(c.margin))
	if err != nil {
		slog.Info(err.Error())
		return
	}

	var wg sync.WaitGroup

	concurrencyLimit := 10
	semaphore := make(chan struct{}, concurrencyLimit)

	for _, tok := range tokens {
		wg.Add(1)
		semaphore <- struct{}{}

		go func(tok *models.ChannelToken) {
			defer wg.Done()
			defer func() { <-semaphore }()

			if _, err := c.ts.ForceRefresh(ctx, tok.StoreID, tok.Platform); err != nil {
				slog.Warn("unable to refresh token",
					slog.String("store_id", tok.StoreID),
					slog.String("platform", tok.Platform),
					slog.Any("error", err))
			}
		}(tok)
	}

	wg.Wait()
}
