package e2etest

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	neturl "net/url"
	"strings"
	"time"

	"github.com/myrjola/amlnarrator/internal/errors"
)

// ErrStatus is returned for responses with an unexpected status code.
var ErrStatus = errors.NewSentinel("unexpected status code")

// Client calls the report API of a running server.
type Client struct {
	client *http.Client
	url    string
}

func NewClient(url string) *Client {
	return &Client{
		client: &http.Client{}, //nolint:exhaustruct // Event streams last as long as a generation, no timeout.
		url:    strings.TrimSuffix(url, "/"),
	}
}

// WaitForReady calls the specified endpoint until it gets a HTTP 200 Success
// response or until the context is cancelled or the 1-second timeout is reached.
func (c *Client) WaitForReady(ctx context.Context, urlPath string) error {
	timeout := 1 * time.Second
	startTime := time.Now()
	var (
		err  error
		req  *http.Request
		resp *http.Response
	)
	for {
		if req, err = c.newRequestWithContext(ctx, http.MethodGet, urlPath, nil); err != nil {
			return errors.Wrap(err, "create request")
		}

		if resp, err = c.client.Do(req); err == nil {
			if resp.StatusCode == http.StatusOK {
				if err = resp.Body.Close(); err != nil {
					return errors.Wrap(err, "close response body")
				}
				return nil
			}
			if err = resp.Body.Close(); err != nil {
				return errors.Wrap(err, "close response body")
			}
		}
		select {
		case <-ctx.Done():
			return errors.Wrap(ctx.Err(), "context cancelled")
		default:
			if time.Since(startTime) >= timeout {
				return errors.New("timeout waiting for endpoint to be ready")
			}
			time.Sleep(100 * time.Millisecond) //nolint:mnd // 100ms
		}
	}
}

// Do sends a request without body. The caller closes the response body.
func (c *Client) Do(ctx context.Context, method string, urlPath string) (*http.Response, error) {
	var (
		err  error
		req  *http.Request
		resp *http.Response
	)
	if req, err = c.newRequestWithContext(ctx, method, urlPath, nil); err != nil {
		return nil, errors.Wrap(err, "create request with context")
	}
	if resp, err = c.client.Do(req); err != nil {
		return nil, errors.Wrap(err, "do request", slog.String("method", method), slog.String("path", urlPath))
	}
	return resp, nil
}

// Call sends a request and decodes the JSON response into v unless v is nil. It returns the status code; a status
// other than want is an [ErrStatus] error carrying the error message of the response.
func (c *Client) Call(ctx context.Context, method string, urlPath string, want int, v any) (int, error) {
	resp, err := c.Do(ctx, method, urlPath)
	if err != nil {
		return 0, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != want {
		var body struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&body)
		return resp.StatusCode, errors.Wrap(ErrStatus, "call", slog.String("method", method),
			slog.String("path", urlPath), slog.Int("status", resp.StatusCode), slog.String("error", body.Error))
	}
	if v == nil {
		return resp.StatusCode, nil
	}
	if err = json.NewDecoder(resp.Body).Decode(v); err != nil {
		return resp.StatusCode, errors.Wrap(err, "decode response", slog.String("path", urlPath))
	}
	return resp.StatusCode, nil
}

// ReportPath is the API path of the case's report.
func ReportPath(caseID string, reportType string) string {
	return fmt.Sprintf("/api/cases/%s/reports/%s", neturl.PathEscape(caseID), neturl.PathEscape(reportType))
}

// Cases lists the cases with data for reportType.
func (c *Client) Cases(ctx context.Context, reportType string) ([]string, error) {
	var body struct {
		Cases []string `json:"cases"`
	}
	if _, err := c.Call(ctx, http.MethodGet, "/api/cases?type="+neturl.QueryEscape(reportType), http.StatusOK,
		&body); err != nil {
		return nil, err
	}
	return body.Cases, nil
}

// Generate starts a generation and returns the path of its event stream. query is appended as is, e.g.,
// "partial=true".
func (c *Client) Generate(ctx context.Context, caseID string, reportType string, query string) (string, error) {
	urlPath := ReportPath(caseID, reportType)
	if query != "" {
		urlPath += "?" + query
	}
	var body struct {
		Stream string `json:"stream"`
	}
	if _, err := c.Call(ctx, http.MethodPost, urlPath, http.StatusAccepted, &body); err != nil {
		return "", err
	}
	return body.Stream, nil
}

// Event is one server-sent event.
type Event struct {
	Name string
	Data string
}

// Decode unmarshals the JSON data of the event into v.
func (e Event) Decode(v any) error {
	if err := json.Unmarshal([]byte(e.Data), v); err != nil {
		return errors.Wrap(err, "decode event", slog.String("event", e.Name))
	}
	return nil
}

// Events reads the server-sent events of urlPath until the server ends the stream.
func (c *Client) Events(ctx context.Context, urlPath string) ([]Event, error) {
	resp, err := c.Do(ctx, http.MethodGet, urlPath)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Wrap(ErrStatus, "open event stream", slog.Int("status", resp.StatusCode))
	}
	if mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type")); mediaType != "text/event-stream" {
		return nil, errors.New("not an event stream", slog.String("content_type", mediaType))
	}

	var (
		events  []Event
		current Event
	)
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024) //nolint:mnd // answers fit in a megabyte.
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if current.Name != "" {
				events = append(events, current)
			}
			current = Event{}
		case strings.HasPrefix(line, "event: "):
			current.Name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			if current.Data != "" {
				current.Data += "\n"
			}
			current.Data += strings.TrimPrefix(line, "data: ")
		}
	}
	if err = scanner.Err(); err != nil {
		return events, errors.Wrap(err, "read event stream")
	}
	return events, nil
}

// Download fetches a file attachment and returns its filename and content.
func (c *Client) Download(ctx context.Context, urlPath string) (string, []byte, error) {
	resp, err := c.Do(ctx, http.MethodGet, urlPath)
	if err != nil {
		return "", nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		return "", nil, errors.Wrap(ErrStatus, "download", slog.String("path", urlPath),
			slog.Int("status", resp.StatusCode))
	}
	_, params, err := mime.ParseMediaType(resp.Header.Get("Content-Disposition"))
	if err != nil {
		return "", nil, errors.Wrap(err, "parse content disposition")
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", nil, errors.Wrap(err, "read download")
	}
	return params["filename"], data, nil
}

// newRequestWithContext creates a new HTTP request to the server that respects the given context.
func (c *Client) newRequestWithContext(
	ctx context.Context,
	method, urlPath string,
	body io.Reader,
) (*http.Request, error) {
	var (
		req *http.Request
		err error
	)
	if req, err = http.NewRequestWithContext(ctx, method, c.url+urlPath, body); err != nil {
		return nil, errors.Wrap(err, "create request")
	}
	return req, nil
}
