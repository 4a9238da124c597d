package tenable

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bl4ck0w1/tesuite/internal/flatten"
	"github.com/bl4ck0w1/tesuite/pkg/models"
	"github.com/bl4ck0w1/tesuite/pkg/utils"
	"github.com/sirupsen/logrus"
)

// SessionConfig is everything a Session needs to talk to the export API.
// It is passed in explicitly and never mutated afterwards.
type SessionConfig struct {
	BaseURL   string
	AccessKey string
	SecretKey string
	VerifySSL bool
	UserAgent string

	StartTimeout  time.Duration
	StatusTimeout time.Duration
	ChunkTimeout  time.Duration

	RateLimit    float64
	RateBurst    int
	MaxRetries   int
	RetryBackoff time.Duration
}

func SessionConfigFrom(api models.APIConfig) SessionConfig {
	return SessionConfig{
		BaseURL:       api.BaseURL,
		AccessKey:     api.AccessKey,
		SecretKey:     api.SecretKey,
		VerifySSL:     api.VerifySSL,
		UserAgent:     api.UserAgent,
		StartTimeout:  api.StartTimeout,
		StatusTimeout: api.StatusTimeout,
		ChunkTimeout:  api.ChunkTimeout,
		RateLimit:     api.RateLimit,
		RateBurst:     api.RateBurst,
		MaxRetries:    api.MaxRetries,
		RetryBackoff:  api.RetryBackoff,
	}
}

// Session is an authenticated client for the bulk export endpoints.
type Session struct {
	cfg     SessionConfig
	base    string
	client  *http.Client
	headers http.Header
	logger  *logrus.Logger
}

func NewSession(cfg SessionConfig, logger *logrus.Logger, metrics *utils.MetricsCollector) (*Session, error) {
	if logger == nil {
		logger = logrus.New()
	}
	u, err := url.Parse(cfg.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid base URL %q", cfg.BaseURL)
	}
	if cfg.AccessKey == "" || cfg.SecretKey == "" {
		return nil, fmt.Errorf("access key and secret key are required")
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "tenable-export-suite/1.0"
	}
	if cfg.StartTimeout <= 0 {
		cfg.StartTimeout = 300 * time.Second
	}
	if cfg.StatusTimeout <= 0 {
		cfg.StatusTimeout = 120 * time.Second
	}
	if cfg.ChunkTimeout <= 0 {
		cfg.ChunkTimeout = 300 * time.Second
	}

	base := http.DefaultTransport.(*http.Transport).Clone()
	if !cfg.VerifySSL {
		base.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
		logger.Warn("TLS certificate verification is disabled")
	}

	headers := http.Header{}
	headers.Set("X-ApiKeys", fmt.Sprintf("accessKey=%s; secretKey=%s", cfg.AccessKey, cfg.SecretKey))
	headers.Set("Accept", "application/json")
	headers.Set("Content-Type", "application/json")
	headers.Set("User-Agent", cfg.UserAgent)

	return &Session{
		cfg:     cfg,
		base:    strings.TrimRight(cfg.BaseURL, "/"),
		client:  &http.Client{Transport: newRetryTransport(base, cfg, logger, metrics)},
		headers: headers,
		logger:  logger,
	}, nil
}

func (s *Session) Config() SessionConfig { return s.cfg }

// URL resolves path against the base URL. Absolute URLs are returned as is.
func (s *Session) URL(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	return s.base + "/" + strings.TrimLeft(path, "/")
}

// PostJSON posts body and decodes the JSON reply. It uses the job-start timeout.
func (s *Session) PostJSON(ctx context.Context, path string, body any) (flatten.Value, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return flatten.Value{}, fmt.Errorf("encode request body: %w", err)
	}
	return s.doJSON(ctx, http.MethodPost, path, payload, s.cfg.StartTimeout)
}

// GetJSON fetches and decodes a JSON document. It uses the status timeout.
func (s *Session) GetJSON(ctx context.Context, path string) (flatten.Value, error) {
	return s.doJSON(ctx, http.MethodGet, path, nil, s.cfg.StatusTimeout)
}

func (s *Session) doJSON(ctx context.Context, method, path string, payload []byte, timeout time.Duration) (flatten.Value, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := s.do(ctx, method, path, payload)
	if err != nil {
		return flatten.Value{}, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return flatten.Value{}, &TransferError{Method: method, URL: resp.Request.URL.Redacted(), StatusCode: resp.StatusCode, Err: err}
	}
	v, err := flatten.Parse(data)
	if err != nil {
		return flatten.Value{}, fmt.Errorf("decode %s %s response: %w", method, path, err)
	}
	return v, nil
}

// Stream opens a chunk download. The caller must close the body; the chunk
// timeout covers the whole read.
func (s *Session) Stream(ctx context.Context, path string) (io.ReadCloser, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ChunkTimeout)
	resp, err := s.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		cancel()
		return nil, err
	}
	return &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}, nil
}

func (s *Session) do(ctx context.Context, method, path string, payload []byte) (*http.Response, error) {
	target := s.URL(path)
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header = s.headers.Clone()

	start := time.Now()
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, &TransferError{Method: method, URL: req.URL.Redacted(), Err: err}
	}

	s.logger.WithFields(logrus.Fields{
		"method":      method,
		"url":         req.URL.Redacted(),
		"status":      resp.StatusCode,
		"duration_ms": time.Since(start).Milliseconds(),
	}).Debug("API request")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, MaxErrorBody))
		return nil, &TransferError{
			Method:     method,
			URL:        req.URL.Redacted(),
			StatusCode: resp.StatusCode,
			Body:       string(snippet),
		}
	}
	return resp, nil
}

type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}
