// Package classifier talks to the external verdict service.
package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/pevans/buloradar/content"
)

// DefaultTimeout bounds a single classification call.
const DefaultTimeout = 5 * time.Second

// maxResponseBytes caps how much of a verdict body is read.
const maxResponseBytes = 1 << 20

// Config holds the verdict service settings.
type Config struct {
	Endpoint  string        `yaml:"endpoint" json:"endpoint"`
	Timeout   time.Duration `yaml:"timeout" json:"timeout"`
	UserAgent string        `yaml:"user_agent" json:"user_agent"`
}

// DefaultConfig points at a local buloradar-api.
func DefaultConfig() Config {
	return Config{
		Endpoint:  "http://localhost:8080/api/v1/classify",
		Timeout:   DefaultTimeout,
		UserAgent: "buloradar/1.0",
	}
}

// Request is the body sent to the verdict service.
type Request struct {
	Kind      content.Kind `json:"kind"`
	Payload   string       `json:"payload"`
	SourceURL string       `json:"sourceUrl"`
}

// Response is the verdict service's answer.
type Response struct {
	IsFlagged   *bool            `json:"isFlagged"`
	Title       string           `json:"title"`
	Description string           `json:"description"`
	Explanation string           `json:"explanation"`
	Sources     []content.Source `json:"sources"`
	Reference   string           `json:"reference,omitempty"`
}

// Client classifies units over HTTP. It never retries on its own: a failed
// unit is retried only when the caller submits it again.
type Client struct {
	config     Config
	httpClient *http.Client
}

// NewClient creates a client. httpClient may be nil.
func NewClient(config Config, httpClient *http.Client) (*Client, error) {
	if config.Endpoint == "" {
		return nil, errors.New("classifier endpoint is required")
	}
	if _, err := url.ParseRequestURI(config.Endpoint); err != nil {
		return nil, fmt.Errorf("invalid classifier endpoint: %w", err)
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	return &Client{config: config, httpClient: httpClient}, nil
}

// Classify asks the verdict service about unit. Errors match ErrNetwork,
// ErrTimeout or ErrInvalidResponse.
func (c *Client) Classify(ctx context.Context, unit content.Unit) (content.Verdict, error) {
	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	body, err := json.Marshal(Request{
		Kind:      unit.Kind,
		Payload:   unit.Payload,
		SourceURL: unit.SourceURL,
	})
	if err != nil {
		return content.Verdict{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.Endpoint, bytes.NewReader(body))
	if err != nil {
		return content.Verdict{}, fmt.Errorf("%w: failed to create request: %w", ErrNetwork, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.config.UserAgent != "" {
		req.Header.Set("User-Agent", c.config.UserAgent)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return content.Verdict{}, transportError(ctx, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return content.Verdict{}, fmt.Errorf("%w: HTTP error: %d %s", ErrNetwork, resp.StatusCode, resp.Status)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return content.Verdict{}, transportError(ctx, err)
	}

	var decoded Response
	if err := json.Unmarshal(data, &decoded); err != nil {
		return content.Verdict{}, fmt.Errorf("%w: %w", ErrInvalidResponse, err)
	}

	return toVerdict(unit.ID, decoded)
}

// transportError sorts a failed round trip into timeout or network error.
func transportError(ctx context.Context, err error) error {
	var netErr net.Error
	if errors.Is(ctx.Err(), context.DeadlineExceeded) ||
		errors.Is(err, context.DeadlineExceeded) ||
		(errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %w", ErrNetwork, err)
}

// toVerdict validates a decoded response. A flagged verdict needs a title so
// the alert has something to say, and every source must be a web link.
func toVerdict(unitID string, resp Response) (content.Verdict, error) {
	if resp.IsFlagged == nil {
		return content.Verdict{}, fmt.Errorf("%w: missing isFlagged", ErrInvalidResponse)
	}
	if *resp.IsFlagged && resp.Title == "" {
		return content.Verdict{}, fmt.Errorf("%w: flagged verdict without title", ErrInvalidResponse)
	}

	sources := make([]content.Source, 0, len(resp.Sources))
	for _, src := range resp.Sources {
		u, err := url.Parse(src.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			return content.Verdict{}, fmt.Errorf("%w: invalid source URL %q", ErrInvalidResponse, src.URL)
		}
		sources = append(sources, src)
	}

	return content.Verdict{
		UnitID:      unitID,
		IsFlagged:   *resp.IsFlagged,
		Title:       resp.Title,
		Description: resp.Description,
		Explanation: resp.Explanation,
		Sources:     sources,
		Reference:   resp.Reference,
	}, nil
}
