// Package notify posts restore run outcomes to configured HTTP endpoints.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

const (
	defaultTimeout     = 5 * time.Second
	defaultConcurrency = 4
)

// Payload is the body posted when a restore run finishes.
type Payload struct {
	RunID        string `json:"run_id"`
	GuildID      string `json:"guild_id"`
	SnapshotPath string `json:"snapshot_path"`
	SnapshotRev  string `json:"snapshot_rev"`
	Status       string `json:"status"`
	Phase        string `json:"phase"`
	Error        string `json:"error,omitempty"`

	ChannelsCreated  int `json:"channels_created"`
	ChannelsRemoved  int `json:"channels_removed"`
	RolesCreated     int `json:"roles_created"`
	RolesRemoved     int `json:"roles_removed"`
	MessagesRestored int `json:"messages_restored"`
	Errors           int `json:"errors"`
}

// Notifier delivers payloads to a fixed set of URL templates.
type Notifier struct {
	urls   []string
	client *http.Client
	logger *slog.Logger
}

// New returns a notifier for the given URL templates. Templates may use
// {guild_id} and {run_id}.
func New(urls []string, logger *slog.Logger) *Notifier {
	return &Notifier{
		urls:   urls,
		client: &http.Client{Timeout: defaultTimeout},
		logger: logger.With("component", "notify"),
	}
}

// Enabled reports whether any URL is configured.
func (n *Notifier) Enabled() bool {
	return len(n.urls) > 0
}

// Targets templates, normalizes and de-dupes the configured URLs for p.
// Invalid URLs are logged and dropped.
func (n *Notifier) Targets(p Payload) []string {
	if len(n.urls) == 0 {
		return nil
	}

	seen := make(map[string]struct{}, len(n.urls))
	var normalized []string

	for _, raw := range n.urls {
		templated := strings.TrimSpace(applyTemplate(strings.TrimSpace(raw), p))
		templated = strings.TrimRight(templated, "/")
		if templated == "" {
			continue
		}
		if !isValidURL(templated) {
			n.logger.Warn("skipping invalid notify url", "url", templated)
			continue
		}
		if _, ok := seen[templated]; ok {
			continue
		}
		seen[templated] = struct{}{}
		normalized = append(normalized, templated)
	}

	return normalized
}

// Send posts p to every target and returns the number of endpoints that
// answered with a 2xx status. Delivery failures are logged, not returned.
func (n *Notifier) Send(ctx context.Context, p Payload) int {
	targets := n.Targets(p)
	if len(targets) == 0 {
		return 0
	}

	body, err := json.Marshal(p)
	if err != nil {
		n.logger.Error("failed to encode notify payload", "error", err)
		return 0
	}

	workers := min(defaultConcurrency, len(targets))
	jobs := make(chan string)
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		delivered int
	)
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			for endpoint := range jobs {
				if err := n.post(ctx, endpoint, body); err != nil {
					n.logger.Warn("notify failed", "url", endpoint, "error", err)
					continue
				}
				mu.Lock()
				delivered++
				mu.Unlock()
			}
		}()
	}

	for _, endpoint := range targets {
		jobs <- endpoint
	}
	close(jobs)
	wg.Wait()
	return delivered
}

func (n *Notifier) post(ctx context.Context, endpoint string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	_ = resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}
	return nil
}

func applyTemplate(raw string, p Payload) string {
	result := strings.ReplaceAll(raw, "{guild_id}", p.GuildID)
	result = strings.ReplaceAll(result, "{run_id}", p.RunID)
	return result
}

func isValidURL(raw string) bool {
	parsed, err := url.Parse(raw)
	if err != nil {
		return false
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return false
	}
	return parsed.Host != ""
}
