package deep_research

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"strings"
	"syscall"
	"time"
)

const (
	DefaultBaseURL = "http://localhost:3051"
	DefaultBreadth = 1
	DefaultDepth   = 2
	DefaultTimeout = 10 * time.Minute

	generatePath = "/api/generate-report"
)

// Failure kinds. Every research error matches exactly one of them with errors.Is.
var (
	ErrServiceUnreachable = errors.New("deep-research service unreachable")
	ErrServiceTimeout     = errors.New("deep-research service timed out")
	ErrServiceError       = errors.New("deep-research service error")
)

// Error describes a failed research call
type Error struct {
	Kind       error
	StatusCode int
	Detail     string
	Err        error
}

func (e *Error) Error() string {
	msg := e.Kind.Error()
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s: status %d", msg, e.StatusCode)
	}
	if e.Detail != "" {
		msg = msg + ": " + e.Detail
	}
	return msg
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

type generateRequest struct {
	Query   string `json:"query"`
	Breadth int    `json:"breadth"`
	Depth   int    `json:"depth"`
}

type generateResponse struct {
	ReportMarkdown *string `json:"reportMarkdown"`
}

// Client calls the deep-research report API. It never retries: one call,
// one outcome.
type Client struct {
	baseURL string
	timeout time.Duration
	http    *http.Client
	logger  *log.Logger
}

// NewClient builds a research client. Zero values fall back to the defaults; a
// nil httpClient gets a plain client whose Timeout is the research ceiling.
func NewClient(baseURL string, timeout time.Duration, httpClient *http.Client, logger *log.Logger) *Client {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		timeout: timeout,
		http:    httpClient,
		logger:  logger,
	}
}

// Research asks the service for a markdown report. Non-positive breadth or
// depth fall back to the defaults. A response without a report field yields
// an empty report and no error.
func (c *Client) Research(ctx context.Context, query string, breadth, depth int) (string, error) {
	if breadth <= 0 {
		breadth = DefaultBreadth
	}
	if depth <= 0 {
		depth = DefaultDepth
	}

	body, err := json.Marshal(generateRequest{Query: query, Breadth: breadth, Depth: depth})
	if err != nil {
		return "", &Error{Kind: ErrServiceError, Detail: "encode request", Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+generatePath, bytes.NewReader(body))
	if err != nil {
		return "", &Error{Kind: ErrServiceError, Detail: "build request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	started := time.Now()
	c.logger.Printf("research request breadth=%d depth=%d query=%q", breadth, depth, query)

	resp, err := c.http.Do(req)
	if err != nil {
		if canceled(ctx, err) {
			c.logger.Printf("research abandoned after %s: caller went away", time.Since(started).Round(time.Millisecond))
			return "", err
		}
		rerr := classify(ctx, err)
		c.logger.Printf("research failed after %s: %v", time.Since(started).Round(time.Millisecond), rerr)
		return "", rerr
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", &Error{Kind: ErrServiceError, StatusCode: resp.StatusCode, Detail: strings.TrimSpace(string(b))}
	}

	var out generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		if canceled(ctx, err) {
			return "", err
		}
		if isTimeout(ctx, err) {
			return "", &Error{Kind: ErrServiceTimeout, Detail: fmt.Sprintf("no complete response within %s", c.timeout), Err: err}
		}
		return "", &Error{Kind: ErrServiceError, StatusCode: resp.StatusCode, Detail: "malformed response body", Err: err}
	}
	c.logger.Printf("research finished in %s", time.Since(started).Round(time.Millisecond))
	if out.ReportMarkdown == nil {
		return "", nil
	}
	return *out.ReportMarkdown, nil
}

func classify(ctx context.Context, err error) *Error {
	if isTimeout(ctx, err) {
		return &Error{Kind: ErrServiceTimeout, Detail: "no response within the deadline", Err: err}
	}
	if isUnreachable(err) {
		return &Error{Kind: ErrServiceUnreachable, Detail: "is the research service running?", Err: err}
	}
	return &Error{Kind: ErrServiceError, Detail: "transport failure", Err: err}
}

// canceled reports a caller cancellation, which is not a service failure.
func canceled(ctx context.Context, err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled)
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func isUnreachable(err error) bool {
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.EHOSTUNREACH) || errors.Is(err, syscall.ENETUNREACH) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr) && opErr.Op == "dial"
}
