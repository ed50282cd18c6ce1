package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/maheshrc27/marketing-dispatch/internal/apperrors"
)

// GetExpiresAt turns an expires_in value into an absolute expiry. Zero means
// the provider did not say.
func GetExpiresAt(now time.Time, expiresIn int) *time.Time {
	if expiresIn <= 0 {
		return nil
	}
	t := now.Add(time.Duration(expiresIn) * time.Second)
	return &t
}

func graphEndpoint(base, version string, parts ...string) string {
	endpoint := strings.TrimRight(base, "/")
	if version != "" {
		endpoint += "/" + version
	}
	for _, p := range parts {
		endpoint += "/" + strings.Trim(p, "/")
	}
	return endpoint
}

// doJSON sends body (if any) as JSON and returns the status and raw response body.
func doJSON(ctx context.Context, client *http.Client, method, endpoint string, body any) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return 0, nil, fmt.Errorf("error marshalling payload: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("error creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("error reading response body: %w", err)
	}
	return resp.StatusCode, raw, nil
}

// transportError keeps credential failures distinguishable from network ones.
func transportError(channel, op, recipient string, err error) error {
	var auth *apperrors.ChannelAuthError
	if errors.As(err, &auth) {
		return auth
	}
	return &apperrors.ChannelSendError{Channel: channel, Op: op, Recipient: recipient, Err: err}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
