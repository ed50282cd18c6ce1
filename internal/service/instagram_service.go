package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	config "github.com/maheshrc27/marketing-dispatch/configs"
	"github.com/maheshrc27/marketing-dispatch/internal/apperrors"
	"github.com/maheshrc27/marketing-dispatch/internal/metrics"
	"github.com/maheshrc27/marketing-dispatch/internal/models"
	"github.com/maheshrc27/marketing-dispatch/internal/transfer"
	"golang.org/x/oauth2"
)

type MediaKind string

const (
	MediaKindImage MediaKind = "image"
	MediaKindVideo MediaKind = "video"
)

const (
	containerFinished = "FINISHED"
	containerError    = "ERROR"
	containerExpired  = "EXPIRED"
)

// InstagramService publishes one image or reel to the store's business account.
type InstagramService interface {
	Publish(ctx context.Context, storeID, caption, mediaURL string, kind MediaKind) (string, error)
}

type instagramService struct {
	cfg        config.Config
	tokens     TokenService
	httpClient *http.Client
	sleep      func(ctx context.Context, d time.Duration) error
}

func NewInstagramService(cfg config.Config, tokens TokenService, httpClient *http.Client) InstagramService {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &instagramService{
		cfg:        cfg,
		tokens:     tokens,
		httpClient: httpClient,
		sleep:      sleepCtx,
	}
}

// Publish runs create container, poll until FINISHED, publish.
func (s *instagramService) Publish(ctx context.Context, storeID, caption, mediaURL string, kind MediaKind) (string, error) {
	if mediaURL == "" {
		return "", apperrors.NewValidation("media", "instagram needs an image or video url")
	}

	start := time.Now()
	mediaID, err := s.publish(ctx, storeID, caption, mediaURL, kind)
	result := "success"
	if err != nil {
		result = "failure"
	}
	metrics.InstagramPublishDuration.WithLabelValues(result).Observe(time.Since(start).Seconds())
	return mediaID, err
}

func (s *instagramService) publish(ctx context.Context, storeID, caption, mediaURL string, kind MediaKind) (string, error) {
	userID, err := s.tokens.AccountID(ctx, storeID, models.PlatformInstagram)
	if err != nil {
		return "", err
	}

	client := oauth2.NewClient(
		context.WithValue(ctx, oauth2.HTTPClient, s.httpClient),
		s.tokens.TokenSource(ctx, storeID, models.PlatformInstagram),
	)

	containerID, err := s.createContainer(ctx, client, userID, caption, mediaURL, kind)
	if err != nil {
		return "", err
	}

	if err := s.waitUntilReady(ctx, client, containerID); err != nil {
		return "", err
	}

	return s.publishContainer(ctx, client, userID, containerID)
}

func (s *instagramService) call(ctx context.Context, client *http.Client, method, endpoint string, body any) (int, []byte, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ChannelCallTimeout)
	defer cancel()
	return doJSON(ctx, client, method, endpoint, body)
}

func (s *instagramService) createContainer(ctx context.Context, client *http.Client, userID, caption, mediaURL string, kind MediaKind) (string, error) {
	req := transfer.InstagramContainerRequest{Caption: caption}
	switch kind {
	case MediaKindVideo:
		req.VideoURL = mediaURL
		req.MediaType = "REELS"
		req.ShareToFeed = true
	default:
		req.ImageURL = mediaURL
	}

	endpoint := graphEndpoint(s.cfg.Graph.BaseURL, s.cfg.Graph.Version, userID, "media")
	return s.postForID(ctx, client, "create_container", endpoint, req)
}

func (s *instagramService) publishContainer(ctx context.Context, client *http.Client, userID, containerID string) (string, error) {
	endpoint := graphEndpoint(s.cfg.Graph.BaseURL, s.cfg.Graph.Version, userID, "media_publish")
	return s.postForID(ctx, client, "publish", endpoint, transfer.InstagramPublishRequest{CreationID: containerID})
}

func (s *instagramService) postForID(ctx context.Context, client *http.Client, op, endpoint string, body any) (string, error) {
	status, raw, err := s.call(ctx, client, http.MethodPost, endpoint, body)
	if err != nil {
		return "", transportError(models.PlatformInstagram, op, "", err)
	}
	if status != http.StatusOK {
		return "", &apperrors.ChannelSendError{Channel: models.PlatformInstagram, Op: op, StatusCode: status, Body: string(raw)}
	}

	var result transfer.InstagramIDResponse
	if err := json.Unmarshal(raw, &result); err != nil || result.ID == "" {
		if err == nil {
			err = errors.New("no id returned from instagram")
		}
		return "", &apperrors.ChannelSendError{Channel: models.PlatformInstagram, Op: op, StatusCode: status, Body: string(raw), Err: err}
	}
	return result.ID, nil
}

// waitUntilReady polls the container until it is FINISHED, fails on ERROR or
// EXPIRED, and gives up with MediaNotReadyError once the attempt or wall-clock
// budget runs out.
func (s *instagramService) waitUntilReady(ctx context.Context, client *http.Client, containerID string) error {
	attempts := s.cfg.Instagram.PollAttempts
	pollCtx, cancel := context.WithTimeout(ctx, s.cfg.Instagram.PollBudget)
	defer cancel()

	params := url.Values{}
	params.Set("fields", "status_code,status")
	endpoint := graphEndpoint(s.cfg.Graph.BaseURL, s.cfg.Graph.Version, containerID) + "?" + params.Encode()

	lastStatus := "UNKNOWN"
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := s.sleep(pollCtx, s.cfg.Instagram.PollInterval); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return &apperrors.MediaNotReadyError{ContainerID: containerID, LastStatus: lastStatus, Attempts: attempt - 1}
		}

		status, raw, err := s.call(pollCtx, client, http.MethodGet, endpoint, nil)
		if err != nil {
			var auth *apperrors.ChannelAuthError
			if errors.As(err, &auth) {
				return auth
			}
			slog.Warn("instagram container status check failed",
				slog.String("container_id", containerID),
				slog.Int("attempt", attempt),
				slog.Any("error", err))
			continue
		}
		if status == http.StatusTooManyRequests || status >= 500 {
			slog.Warn("instagram container status check throttled",
				slog.String("container_id", containerID),
				slog.Int("attempt", attempt),
				slog.Int("status", status))
			continue
		}
		if status != http.StatusOK {
			return &apperrors.ChannelSendError{Channel: models.PlatformInstagram, Op: "container_status", StatusCode: status, Body: string(raw)}
		}

		var st transfer.InstagramContainerStatus
		if err := json.Unmarshal(raw, &st); err != nil {
			return &apperrors.ChannelSendError{Channel: models.PlatformInstagram, Op: "container_status", StatusCode: status, Body: string(raw), Err: err}
		}
		lastStatus = st.StatusCode

		switch st.StatusCode {
		case containerFinished:
			return nil
		case containerError, containerExpired:
			return &apperrors.ChannelSendError{
				Channel: models.PlatformInstagram,
				Op:      "container_status",
				Body:    fmt.Sprintf("container %s is %s: %s", containerID, st.StatusCode, st.Status),
			}
		}
	}

	return &apperrors.MediaNotReadyError{ContainerID: containerID, LastStatus: lastStatus, Attempts: attempts}
}
