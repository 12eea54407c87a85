package remotesync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/onnwee/overtime-timer/backend/apperr"
	"github.com/onnwee/overtime-timer/backend/store"
)

// HTTPPusher posts the state as JSON to <BaseURL>/api/timer.
type HTTPPusher struct {
	BaseURL string
	Token   string // sent as X-Admin-Token when set
	Client  *http.Client
}

// NewHTTPPusher trims a trailing slash from baseURL.
func NewHTTPPusher(baseURL string) *HTTPPusher {
	return &HTTPPusher{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (p *HTTPPusher) Push(ctx context.Context, state store.TimerState) error {
	body, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.BaseURL+"/api/timer", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.Token != "" {
		req.Header.Set("X-Admin-Token", p.Token)
	}

	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("post %s: %w: %v", req.URL, apperr.ErrSyncUnavailable, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("post %s: status %d: %w", req.URL, resp.StatusCode, apperr.ErrSyncUnavailable)
	}
	return nil
}
