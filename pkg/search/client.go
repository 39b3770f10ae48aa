// Package search is the relay's client for an Elasticsearch-compatible
// cluster. It covers the three calls the relay needs: checking that an index
// exists, creating it, and submitting ordered bulk index requests.
package search

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	jsoniter "github.com/json-iterator/go"

	"github.com/Adithya-Monish-Kumar-K/kafka-search-relay/pkg/config"
)

// ErrIndexExists is returned by CreateIndex when another writer created the
// index first.
var ErrIndexExists = errors.New("index already exists")

// StatusError is returned when the cluster answers with a non-2xx status.
type StatusError struct {
	Op     string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: status %d: %s", e.Op, e.Status, e.Body)
}

// Retryable reports whether a failed call may succeed if repeated: transport
// failures, throttling and server-side errors are retryable, other client
// errors are not.
func Retryable(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Status == http.StatusTooManyRequests || se.Status >= 500
	}
	return !errors.Is(err, context.Canceled)
}

// Client wraps a go-elasticsearch client.
type Client struct {
	es          *elasticsearch.Client
	transport   *http.Transport
	endpoint    Endpoint
	timeout     time.Duration
	compression int
	logger      *slog.Logger

	closeOnce sync.Once
}

// NewClient builds a client from the search section of the config. Explicit
// Username and Password override credentials embedded in the URL. No
// request is made until the first call.
func NewClient(cfg config.SearchConfig) (*Client, error) {
	ep, err := ParseEndpoint(cfg.URL)
	if err != nil {
		return nil, err
	}
	if cfg.Username != "" {
		ep.Username = cfg.Username
		ep.Password = cfg.Password
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	es, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses:    []string{ep.Address},
		Username:     ep.Username,
		Password:     ep.Password,
		Transport:    transport,
		DisableRetry: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create search client: %w", err)
	}
	return &Client{
		es:          es,
		transport:   transport,
		endpoint:    ep,
		timeout:     cfg.RequestTimeout,
		compression: cfg.CompressionLevel,
		logger:      slog.Default().With("component", "search-client", "address", ep.Address),
	}, nil
}

// Endpoint returns the parsed cluster endpoint.
func (c *Client) Endpoint() Endpoint {
	return c.endpoint
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timeout)
}

// Ping checks that the cluster answers its root endpoint.
func (c *Client) Ping(ctx context.Context) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	res, err := esapi.InfoRequest{}.Do(ctx, c.es)
	if err != nil {
		return fmt.Errorf("pinging search cluster: %w", err)
	}
	defer drain(res.Body)
	if res.IsError() {
		return statusError("ping", res)
	}
	return nil
}

// IndexExists reports whether the named index exists.
func (c *Client) IndexExists(ctx context.Context, name string) (bool, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	res, err := esapi.IndicesExistsRequest{Index: []string{name}}.Do(ctx, c.es)
	if err != nil {
		return false, fmt.Errorf("failed to check if index exists: %w", err)
	}
	defer drain(res.Body)

	switch res.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, statusError("index-exists", res)
	}
}

// CreateIndex creates the named index with the cluster's default settings.
// It returns ErrIndexExists if the index was created concurrently.
func (c *Client) CreateIndex(ctx context.Context, name string) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	res, err := esapi.IndicesCreateRequest{Index: name}.Do(ctx, c.es)
	if err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}
	defer drain(res.Body)

	if !res.IsError() {
		c.logger.Info("index created", "index", name)
		return nil
	}
	body, _ := io.ReadAll(res.Body)
	var e errorResponse
	if jsoniter.Unmarshal(body, &e) == nil && e.Error.Type == "resource_already_exists_exception" {
		return ErrIndexExists
	}
	return &StatusError{Op: "create-index", Status: res.StatusCode, Body: strings.TrimSpace(string(body))}
}

// Close releases idle connections. It is safe to call more than once.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.transport.CloseIdleConnections()
		c.logger.Debug("search client closed")
	})
	return nil
}

type errorResponse struct {
	Error struct {
		Type   string `json:"type"`
		Reason string `json:"reason"`
	} `json:"error"`
	Status int `json:"status"`
}

func statusError(op string, res *esapi.Response) error {
	body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
	return &StatusError{Op: op, Status: res.StatusCode, Body: strings.TrimSpace(string(body))}
}

func drain(body io.ReadCloser) {
	io.Copy(io.Discard, body)
	if err := body.Close(); err != nil {
		slog.Error("failed to close response body", "error", err)
	}
}
