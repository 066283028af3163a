package transports

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/rzbill/pollbus/internal/api/busv1"
)

// HTTPTransport implements BusTransport over the JSON gateway.
type HTTPTransport struct {
	base   string
	client *http.Client
}

// NewHTTPTransport targets base, e.g. http://127.0.0.1:8080. A nil client
// uses http.DefaultClient; long polls rely on the request context for limits.
func NewHTTPTransport(base string, client *http.Client) *HTTPTransport {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPTransport{base: strings.TrimRight(base, "/"), client: client}
}

func (t *HTTPTransport) postJSON(ctx context.Context, path string, in, out any) error {
	b, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.base+path, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return statusError(resp)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (t *HTTPTransport) Send(ctx context.Context, entries []busv1.Entry) ([]uint64, error) {
	var out busv1.SendResponse
	if err := t.postJSON(ctx, "/v1/bus/send", busv1.SendRequest{Entries: entries}, &out); err != nil {
		return nil, err
	}
	return out.IDs, nil
}

func (t *HTTPTransport) Poll(ctx context.Context, req busv1.PollRequest) (busv1.PollResponse, error) {
	out := busv1.PollResponse{Last: req.Last}
	err := t.postJSON(ctx, "/v1/bus/poll", req, &out)
	return out, err
}

// Stream reads the SSE endpoint; only data lines are decoded.
func (t *HTTPTransport) Stream(ctx context.Context, req busv1.StreamRequest, onMessage func(busv1.Message) error) error {
	q := url.Values{}
	for _, c := range req.Channels {
		q.Add("channel", c)
	}
	q.Set("last", strconv.FormatUint(req.Last, 10))
	if req.Filter != "" {
		q.Set("filter", req.Filter)
	}
	hreq, err := http.NewRequestWithContext(ctx, http.MethodGet, t.base+"/v1/bus/stream?"+q.Encode(), nil)
	if err != nil {
		return err
	}
	hreq.Header.Set("Accept", "text/event-stream")
	resp, err := t.client.Do(hreq)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return statusError(resp)
	}
	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 64*1024), 8<<20)
	for sc.Scan() {
		line := sc.Text()
		data, ok := strings.CutPrefix(line, "data: ")
		if !ok {
			continue
		}
		var m busv1.Message
		if err := json.Unmarshal([]byte(data), &m); err != nil {
			return fmt.Errorf("stream: bad event: %w", err)
		}
		if err := onMessage(m); err != nil {
			if errors.Is(err, ErrStop) {
				return nil
			}
			return err
		}
	}
	if err := sc.Err(); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

func statusError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var e struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &e) == nil && e.Error != "" {
		return fmt.Errorf("%s: %s", resp.Status, e.Error)
	}
	return fmt.Errorf("%s", resp.Status)
}
