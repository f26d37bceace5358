package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const clientTimeout = 5 * time.Second

// FetchSummary queries a running daemon's API at addr (host:port).
func FetchSummary(ctx context.Context, addr string) (SummaryResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, clientTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+addr+"/1/summary", nil)
	if err != nil {
		return SummaryResponse{}, fmt.Errorf("build summary request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return SummaryResponse{}, fmt.Errorf("query %s: %w", addr, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var body struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&body)
		if body.Error == "" {
			body.Error = http.StatusText(resp.StatusCode)
		}
		return SummaryResponse{}, fmt.Errorf("query %s: %s (%d)", addr, body.Error, resp.StatusCode)
	}

	var out SummaryResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return SummaryResponse{}, fmt.Errorf("decode summary: %w", err)
	}
	return out, nil
}
