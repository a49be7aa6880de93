// Package api fetches full snapshots over HTTP for the polling variant.
package api

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/nodemc/mapsync/internal/util"
	"github.com/nodemc/mapsync/pkg/protocol"
)

// DefaultTimeout bounds one snapshot request.
const DefaultTimeout = 10 * time.Second

// maxSnapshotBytes caps the body read from the snapshot endpoint.
const maxSnapshotBytes = 32 << 20

// StatusError is returned for a non-200 response.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("snapshot returned status %d", e.Code)
}

// Client reads the server's /snapshot endpoint.
type Client struct {
	snapshotURL string
	httpClient  *http.Client
}

// New creates a client. url may be the snapshot URL itself or the channel
// URL; it is mapped onto /snapshot either way.
func New(url string) *Client {
	return &Client{
		snapshotURL: util.SnapshotURL(url),
		httpClient:  &http.Client{Timeout: DefaultTimeout},
	}
}

// URL returns the snapshot URL being polled.
func (c *Client) URL() string {
	return c.snapshotURL
}

// FetchSnapshot downloads and decodes one snapshot.
func (c *Client) FetchSnapshot(ctx context.Context) (*protocol.Snapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.snapshotURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("snapshot request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{Code: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxSnapshotBytes))
	if err != nil {
		return nil, fmt.Errorf("reading snapshot: %w", err)
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return nil, fmt.Errorf("empty snapshot body")
	}
	return protocol.DecodeSnapshot(body)
}
