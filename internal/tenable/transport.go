package tenable

import (
	"io"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"github.com/bl4ck0w1/tesuite/pkg/utils"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const (
	MetricHTTPRequests = "tes_http_requests_total"
	MetricHTTPRetries  = "tes_http_retries_total"
)

// RegisterMetrics registers the transport counters on m.
func RegisterMetrics(m *utils.MetricsCollector) error {
	if err := m.RegisterCounter(MetricHTTPRequests, "HTTP requests sent to the export API", "method", "code"); err != nil {
		return err
	}
	return m.RegisterCounter(MetricHTTPRetries, "HTTP requests retried by the transport", "method")
}

// retryTransport rate-limits every request and retries throttled or
// temporarily unavailable responses. POST is only retried on 429 so an export
// job is never started twice.
type retryTransport struct {
	next        http.RoundTripper
	limiter     *rate.Limiter
	maxRetries  int
	baseBackoff time.Duration
	maxBackoff  time.Duration
	jitter      float64
	logger      *logrus.Logger
	metrics     *utils.MetricsCollector
}

func newRetryTransport(next http.RoundTripper, cfg SessionConfig, logger *logrus.Logger, metrics *utils.MetricsCollector) *retryTransport {
	if next == nil {
		next = http.DefaultTransport
	}
	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	base := cfg.RetryBackoff
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	retries := cfg.MaxRetries
	if retries < 0 {
		retries = 0
	}
	return &retryTransport{
		next:        next,
		limiter:     limiter,
		maxRetries:  retries,
		baseBackoff: base,
		maxBackoff:  base * 30,
		jitter:      0.3,
		logger:      logger,
		metrics:     metrics,
	}
}

func (t *retryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	for attempt := 0; ; attempt++ {
		if err := t.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		r := req
		if attempt > 0 && req.Body != nil && req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return nil, err
			}
			r = req.Clone(ctx)
			r.Body = body
		}

		resp, err := t.next.RoundTrip(r)
		code := "error"
		if resp != nil {
			code = strconv.Itoa(resp.StatusCode)
		}
		t.metrics.IncCounter(MetricHTTPRequests, 1, prometheus.Labels{"method": req.Method, "code": code})

		if attempt >= t.maxRetries || !t.shouldRetry(req, resp, err) || ctx.Err() != nil {
			return resp, err
		}
		if req.Body != nil && req.GetBody == nil {
			return resp, err
		}

		wait := t.backoff(attempt + 1)
		if resp != nil {
			if ra, ok := retryAfter(resp.Header.Get("Retry-After")); ok {
				wait = ra
				if wait > t.maxBackoff {
					wait = t.maxBackoff
				}
			}
			_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
			resp.Body.Close()
		}

		t.metrics.IncCounter(MetricHTTPRetries, 1, prometheus.Labels{"method": req.Method})
		t.logger.WithFields(logrus.Fields{
			"method":  req.Method,
			"url":     req.URL.Redacted(),
			"code":    code,
			"attempt": attempt + 1,
			"wait":    wait,
		}).Debug("Retrying request")

		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (t *retryTransport) shouldRetry(req *http.Request, resp *http.Response, err error) bool {
	if err != nil {
		return req.Method != http.MethodPost
	}
	switch resp.StatusCode {
	case http.StatusTooManyRequests:
		return true
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return req.Method != http.MethodPost
	}
	return false
}

func (t *retryTransport) backoff(attempt int) time.Duration {
	d := t.baseBackoff * time.Duration(1<<(attempt-1))
	if d > t.maxBackoff || d <= 0 {
		d = t.maxBackoff
	}
	scale := 1 + t.jitter*(2*rand.Float64()-1)
	return time.Duration(float64(d) * scale)
}

func retryAfter(v string) (time.Duration, bool) {
	if v == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second, true
	}
	if at, err := http.ParseTime(v); err == nil {
		d := time.Until(at)
		if d < 0 {
			d = 0
		}
		return d, true
	}
	return 0, false
}

var _ http.RoundTripper = (*retryTransport)(nil)
