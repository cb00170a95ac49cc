package board

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Subscribe opens the board's SSE task stream and delivers parsed events on
// the returned channel until ctx is cancelled. The connection reconnects
// with a fixed delay on stream errors; the channel is closed when ctx ends.
func (c *Client) Subscribe(ctx context.Context, log *slog.Logger) (<-chan Event, error) {
	if log == nil {
		log = slog.Default()
	}

	// Probe once so callers learn immediately whether SSE is available and
	// polling should stay enabled.
	resp, err := c.openStream(ctx)
	if err != nil {
		return nil, err
	}

	events := make(chan Event, 64)
	go func() {
		defer close(events)
		stream := resp
		for {
			c.readStream(ctx, stream, events, log)
			stream.Body.Close()

			select {
			case <-ctx.Done():
				return
			case <-time.After(5 * time.Second):
			}

			next, err := c.openStream(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				log.Warn("board sse reconnect failed", "error", err)
				continue
			}
			log.Info("board sse reconnected")
			stream = next
		}
	}()
	return events, nil
}

func (c *Client) openStream(ctx context.Context) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/events/tasks", nil)
	if err != nil {
		return nil, fmt.Errorf("board: sse request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "text/event-stream")

	// The pool's per-request timeout would sever a long-lived stream, so the
	// SSE connection reuses the transport but not the timeout.
	stream := &http.Client{Transport: c.pool.Client().Transport}
	resp, err := stream.Do(req)
	if err != nil {
		return nil, fmt.Errorf("board: sse connect: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("board: sse connect: status %d", resp.StatusCode)
	}
	return resp, nil
}

// readStream consumes one SSE connection until EOF or cancellation.
func (c *Client) readStream(ctx context.Context, resp *http.Response, events chan<- Event, log *slog.Logger) {
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	var data strings.Builder
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "data:"):
			data.WriteString(strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		case line == "":
			if data.Len() == 0 {
				continue
			}
			var ev Event
			if err := json.Unmarshal([]byte(data.String()), &ev); err != nil {
				log.Warn("board sse: bad event payload", "error", err)
			} else {
				select {
				case events <- ev:
				case <-ctx.Done():
					return
				}
			}
			data.Reset()
		}
	}
}
