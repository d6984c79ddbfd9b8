package fetch

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/stratawm/strata/scripting/internal/callback"
	"github.com/stratawm/strata/scripting/internal/config"
	"github.com/stratawm/strata/scripting/internal/logging"
	"github.com/stratawm/strata/scripting/internal/monitoring"
	"github.com/stratawm/strata/scripting/internal/queue"
)

// Options configures one outbound request.
type Options struct {
	Method    string // default GET
	Headers   map[string]string
	Body      string
	TimeoutMS int // overrides the client default when > 0
}

// Result is the payload delivered to the script callback. Err is set
// and Status zero when the request never produced a response.
type Result struct {
	URL        string
	Status     int
	StatusText string
	Headers    map[string]string
	Body       string
	ElapsedMS  int64
	Err        string
}

// OK reports whether the response had a 2xx status.
func (r *Result) OK() bool { return r.Status >= 200 && r.Status < 300 }

var methods = map[string]bool{
	"GET": true, "POST": true, "PUT": true, "DELETE": true,
	"PATCH": true, "HEAD": true, "OPTIONS": true,
}

// Client performs HTTP requests for scripts. Every request runs on
// its own goroutine and delivers its result through the callback
// queue, so the script engine never blocks on the network.
type Client struct {
	logger  *logging.Logger
	metrics *monitoring.Metrics
	queue   *queue.Events

	resty   *resty.Client
	limiter *rate.Limiter
	timeout time.Duration
}

// New builds a client with retrying transport and rate limiting.
func New(cfg config.FetchConfig, q *queue.Events, metrics *monitoring.Metrics, logger *logging.Logger) *Client {
	if logger == nil {
		logger = logging.NewNop()
	}
	if metrics == nil {
		metrics = monitoring.NewNop()
	}

	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = cfg.RetryCount
	retryClient.RetryWaitMin = 500 * time.Millisecond
	retryClient.RetryWaitMax = 5 * time.Second
	retryClient.Logger = nil

	rc := resty.New().
		SetTimeout(cfg.Timeout()).
		SetHeader("User-Agent", "strata-scriptd/1.0")
	rc.SetTransport(&retryablehttp.RoundTripper{Client: retryClient})

	return &Client{
		logger:  logger.Named("fetch"),
		metrics: metrics,
		queue:   q,
		resty:   rc,
		limiter: rate.NewLimiter(rate.Limit(cfg.PerSecond), cfg.Burst),
		timeout: cfg.Timeout(),
	}
}

// Do validates the request and starts it in the background. The
// callback receives a *Result exactly once, success or failure.
// Validation errors are returned immediately and nothing is queued.
func (c *Client) Do(url string, opts Options, cb callback.ID) error {
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		return fmt.Errorf("unsupported url %q", url)
	}
	method := strings.ToUpper(opts.Method)
	if method == "" {
		method = "GET"
	}
	if !methods[method] {
		return fmt.Errorf("unsupported method %q", opts.Method)
	}

	go c.run(url, method, opts, cb)
	return nil
}

func (c *Client) run(url, method string, opts Options, cb callback.ID) {
	timeout := c.timeout
	if opts.TimeoutMS > 0 {
		timeout = time.Duration(opts.TimeoutMS) * time.Millisecond
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	res := &Result{URL: url}
	start := time.Now()

	if err := c.limiter.Wait(ctx); err != nil {
		res.Err = fmt.Sprintf("rate limit: %v", err)
		c.deliver(res, cb, "error")
		return
	}

	req := c.resty.R().SetContext(ctx)
	for k, v := range opts.Headers {
		req.SetHeader(k, v)
	}
	if opts.Body != "" {
		req.SetBody(opts.Body)
	}

	resp, err := req.Execute(method, url)
	res.ElapsedMS = time.Since(start).Milliseconds()
	if err != nil {
		res.Err = err.Error()
		c.logger.Debug("request failed", zap.String("url", url), zap.Error(err))
		c.deliver(res, cb, "error")
		return
	}

	res.Status = resp.StatusCode()
	res.StatusText = resp.Status()
	res.Body = resp.String()
	res.Headers = make(map[string]string, len(resp.Header()))
	for k, v := range resp.Header() {
		if len(v) > 0 {
			res.Headers[k] = v[0]
		}
	}
	c.deliver(res, cb, statusClass(res.Status))
}

func (c *Client) deliver(res *Result, cb callback.ID, class string) {
	c.metrics.RecordFetch(class)
	if cb != callback.None {
		c.queue.Push(queue.Event{Callback: cb, Payload: res})
	}
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	case status >= 200:
		return "2xx"
	default:
		return "other"
	}
}
