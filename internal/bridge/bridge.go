package bridge

import (
	"context"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/time/rate"

	"github.com/yomuko/yomuko/internal/logging"
)

// Config defines bridge behavior for one sandbox instance.
type Config struct {
	FetchTimeout      time.Duration
	RetryMax          int
	RequestsPerSecond float64 // 0 = unlimited
	UserAgent         string
}

// DefaultConfig returns the bridge defaults used when a field is zero.
func DefaultConfig() Config {
	return Config{
		FetchTimeout: 30 * time.Second,
		RetryMax:     2,
		UserAgent:    "Yomuko/1.0",
	}
}

// Bridge performs every side effect a sandboxed script may request. One
// bridge exists per sandbox instance and is disposed with it.
type Bridge struct {
	log       *logging.Logger
	client    *resty.Client
	limiter   *rate.Limiter
	sanitizer *bluemonday.Policy

	mu     sync.Mutex
	root   context.Context
	cancel context.CancelFunc
	closed bool
}

// New creates a bridge with its own HTTP client and cancellation handle.
func New(cfg Config, log *logging.Logger) *Bridge {
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 30 * time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "Yomuko/1.0"
	}

	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = cfg.RetryMax
	retryClient.RetryWaitMin = 500 * time.Millisecond
	retryClient.RetryWaitMax = 5 * time.Second
	retryClient.Logger = nil // structured logging happens at the bridge level

	restyClient := resty.NewWithClient(retryClient.StandardClient())
	restyClient.
		SetTimeout(cfg.FetchTimeout).
		SetHeader("User-Agent", cfg.UserAgent)

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Bridge{
		log:       log,
		client:    restyClient,
		limiter:   rate.NewLimiter(limit, burstFor(limit)),
		sanitizer: bluemonday.UGCPolicy(),
		root:      ctx,
		cancel:    cancel,
	}
}

func burstFor(limit rate.Limit) int {
	if limit == rate.Inf {
		return 0
	}
	return int(limit) + 1
}

// Context returns the context in-flight network calls derive from. It is
// cancelled by Cancel and Close.
func (b *Bridge) Context() context.Context {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.root
}

// Cancel aborts all in-flight fetch/postForm calls immediately. Their pending
// host calls resolve with a "cancelled" error rather than hang. The bridge
// stays usable: subsequent calls get a fresh context.
func (b *Bridge) Cancel() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.cancel()
	if !b.closed {
		b.root, b.cancel = context.WithCancel(context.Background())
	}
}

// Close aborts all in-flight calls and permanently shuts the bridge down.
// Idempotent. Must be called during sandbox disposal so a completing network
// call cannot deliver into a torn-down interpreter.
func (b *Bridge) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	b.cancel()
}

// Closed reports whether Close was called.
func (b *Bridge) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// CleanHTML sanitizes untrusted markup with a UGC policy before the guest
// re-embeds it.
func (b *Bridge) CleanHTML(markup string) string {
	return b.sanitizer.Sanitize(markup)
}
