package subscription

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"rsvp/pkg/model"
)

const sseEventCapacity = "capacity"

var ErrStreamClosed = errors.New("stream closed by server")

// SSETransport attaches to the service's server-sent event stream.
type SSETransport struct {
	BaseURL string
	Client  *http.Client
}

func (t *SSETransport) client() *http.Client {
	if t.Client != nil {
		return t.Client
	}
	return http.DefaultClient
}

func (t *SSETransport) Subscribe(ctx context.Context, eventID string) (Stream, error) {
	endpoint := strings.TrimRight(t.BaseURL, "/") + "/api/v1/events/" + url.PathEscape(eventID) + "/capacity/stream"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := t.client().Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("stream endpoint returned %s", resp.Status)
	}

	return &sseStream{body: resp.Body, reader: bufio.NewReader(resp.Body)}, nil
}

type sseStream struct {
	body   io.ReadCloser
	reader *bufio.Reader
}

// Recv returns the next capacity event. Comments, heartbeats and events of
// other types are skipped. Cancelling the subscribe context ends the read.
func (s *sseStream) Recv(ctx context.Context) (model.CapacityChangeFact, error) {
	var (
		event string
		data  strings.Builder
	)
	for {
		if err := ctx.Err(); err != nil {
			return model.CapacityChangeFact{}, err
		}

		line, err := s.reader.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				return model.CapacityChangeFact{}, ErrStreamClosed
			}
			return model.CapacityChangeFact{}, err
		}
		line = strings.TrimRight(line, "\r\n")

		switch {
		case line == "":
			if data.Len() > 0 && (event == "" || event == sseEventCapacity) {
				var fact model.CapacityChangeFact
				if err := json.Unmarshal([]byte(data.String()), &fact); err != nil {
					return model.CapacityChangeFact{}, fmt.Errorf("malformed capacity event: %w", err)
				}
				return fact, nil
			}
			event = ""
			data.Reset()
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
}

func (s *sseStream) Close() error {
	return s.body.Close()
}

// HTTPReader reads capacity through the service's public read endpoint. It
// asks for a fresh read so a resync never lands on a stale cache entry.
type HTTPReader struct {
	BaseURL string
	Client  *http.Client
}

func (r *HTTPReader) ReadCapacity(ctx context.Context, eventID string) (*model.CapacitySnapshot, error) {
	endpoint := strings.TrimRight(r.BaseURL, "/") + "/api/v1/events/" + url.PathEscape(eventID) + "/capacity?fresh=1"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	client := r.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("capacity endpoint returned %s", resp.Status)
	}

	var body model.CapacityResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode capacity: %w", err)
	}
	return &model.CapacitySnapshot{
		EventID:  eventID,
		Capacity: body.Capacity,
		Occupied: body.Occupied,
		Version:  body.Version,
		Status:   body.Status,
	}, nil
}
