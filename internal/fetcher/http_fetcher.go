package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/genricoloni/dropbeat/internal/domain"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
)

const (
	_maxImageSize = 10 * 1024 * 1024 // 10 MB

	// UserAgent is sent with every request; some art hosts reject unknown agents
	UserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15"
)

var (
	// ErrNotInitialized is returned by Fetch outside an Open/Close window
	ErrNotInitialized = errors.New("http session not initialized")
	// ErrBodyTooLarge is returned when a response exceeds the image size limit
	ErrBodyTooLarge = errors.New("response body too large")
)

// HTTPFetcher downloads album art over a shared HTTP session
type HTTPFetcher struct {
	logger  *zap.Logger
	timeout time.Duration
	retries int

	mu     sync.RWMutex
	client *retryablehttp.Client
}

// NewHTTPFetcher creates a fetcher. Call Open before the first Fetch.
func NewHTTPFetcher(logger *zap.Logger, cfg domain.Config) *HTTPFetcher {
	return &HTTPFetcher{
		logger:  logger,
		timeout: cfg.FetchTimeout(),
		retries: cfg.FetchRetries(),
	}
}

// Open creates the shared session. Opening twice is a no-op.
func (f *HTTPFetcher) Open() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.client != nil {
		return
	}

	c := retryablehttp.NewClient()
	c.HTTPClient.Timeout = f.timeout
	c.RetryMax = f.retries
	c.RetryWaitMin = 200 * time.Millisecond
	c.RetryWaitMax = 2 * time.Second
	c.Logger = zapLeveled{f.logger}
	// Hand non-2xx responses back to the caller instead of wrapping them
	c.ErrorHandler = retryablehttp.PassthroughErrorHandler
	f.client = c
}

// Close tears the session down. Later Fetch calls fail with ErrNotInitialized.
func (f *HTTPFetcher) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.client == nil {
		return
	}
	f.client.HTTPClient.CloseIdleConnections()
	f.client = nil
}

// Fetch performs one GET. A non-2xx status is reported, not returned as an error.
func (f *HTTPFetcher) Fetch(ctx context.Context, url string) (domain.HTTPResponse, error) {
	f.mu.RLock()
	client := f.client
	f.mu.RUnlock()
	if client == nil {
		return domain.HTTPResponse{}, ErrNotInitialized
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return domain.HTTPResponse{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", UserAgent)

	resp, err := client.Do(req)
	if err != nil {
		return domain.HTTPResponse{}, fmt.Errorf("network error: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, _maxImageSize+1))
	if err != nil {
		return domain.HTTPResponse{}, fmt.Errorf("failed to read body: %w", err)
	}
	if len(data) > _maxImageSize {
		return domain.HTTPResponse{}, fmt.Errorf("%w: more than %d bytes", ErrBodyTooLarge, _maxImageSize)
	}

	out := domain.HTTPResponse{StatusCode: resp.StatusCode}
	if len(data) > 0 {
		out.Body = data
	}

	f.logger.Debug("Image fetched",
		zap.Int("status", resp.StatusCode),
		zap.Int("bytes", len(data)),
		zap.String("url", url))
	return out, nil
}

// zapLeveled routes retryablehttp's logging into zap
type zapLeveled struct {
	logger *zap.Logger
}

func (l zapLeveled) Error(msg string, kv ...interface{}) { l.logger.Sugar().Errorw(msg, kv...) }
func (l zapLeveled) Info(msg string, kv ...interface{}) { l.logger.Sugar().Debugw(msg, kv...) }
func (l zapLeveled) Debug(msg string, kv ...interface{}) { l.logger.Sugar().Debugw(msg, kv...) }
func (l zapLeveled) Warn(msg string, kv ...interface{}) { l.logger.Sugar().Warnw(msg, kv...) }
