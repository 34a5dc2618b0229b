package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"opsbell/internal/alert"
	"opsbell/internal/engine"
	logx "opsbell/pkg/logx"
)

const fetchBodyLimit = 8 << 20 // 8 MiB

// newFetcher builds the engine's bulk fetch against the HTTP notification
// endpoint. Entries that fail validation are skipped, not fatal, so one bad
// record can't blank the whole list.
func newFetcher(url, token string, timeout time.Duration, log logx.Logger) engine.Fetcher {
	client := &http.Client{Timeout: timeout}
	return func(ctx context.Context) ([]alert.Notification, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		req.Header.Set("Accept", "application/json")

		resp, err := client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			// Drain a little so the connection can be reused.
			_, _ = io.CopyN(io.Discard, resp.Body, 512)
			return nil, fmt.Errorf("fetch notifications: unexpected status %s", resp.Status)
		}

		var raw []json.RawMessage
		if err := json.NewDecoder(io.LimitReader(resp.Body, fetchBodyLimit)).Decode(&raw); err != nil {
			return nil, fmt.Errorf("fetch notifications: decode: %w", err)
		}

		out := make([]alert.Notification, 0, len(raw))
		for _, rb := range raw {
			n, err := alert.ParsePayload(rb)
			if err != nil {
				log.Warn("skipping invalid notification in bulk fetch", logx.Err(err))
				continue
			}
			out = append(out, n)
		}
		return out, nil
	}
}
