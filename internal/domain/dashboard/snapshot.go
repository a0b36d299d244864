package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// HTTPFetcher reads GET {BaseURL}/dashboard/stats.
type HTTPFetcher struct {
	BaseURL string
	Token   string
	Client  *http.Client
}

func NewHTTPFetcher(baseURL, token string) *HTTPFetcher {
	return &HTTPFetcher{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		Client:  &http.Client{Timeout: 10 * time.Second},
	}
}

type statsEnvelope struct {
	Success bool   `json:"success"`
	Data    *Stats `json:"data"`
	Message string `json:"message"`
}

func (f *HTTPFetcher) FetchStats(ctx context.Context) (Stats, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.BaseURL+"/dashboard/stats", nil)
	if err != nil {
		return Stats{}, fmt.Errorf("build stats request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if f.Token != "" {
		req.Header.Set("Authorization", "Bearer "+f.Token)
	}

	resp, err := f.Client.Do(req)
	if err != nil {
		return Stats{}, fmt.Errorf("fetch stats: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Stats{}, fmt.Errorf("read stats response: %w", err)
	}

	var env statsEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Stats{}, fmt.Errorf("decode stats response (status %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK || !env.Success {
		msg := env.Message
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return Stats{}, fmt.Errorf("fetch stats: status %d: %s", resp.StatusCode, msg)
	}
	if env.Data == nil {
		return Stats{}, errors.New("fetch stats: empty data")
	}
	return *env.Data, nil
}
