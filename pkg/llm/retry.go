package llm

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/entrhq/keeper/pkg/logging"
)

var debugLog = logging.NewLogger("llm")

// Default retry settings.
const (
	DefaultMaxAttempts  = 5
	DefaultInitialDelay = time.Second
	DefaultMultiplier   = 7.0
	DefaultMaxDelay     = time.Minute
)

// DefaultRetryStatusCodes are the HTTP statuses treated as transient.
var DefaultRetryStatusCodes = []int{
	http.StatusTooManyRequests,
	http.StatusInternalServerError,
	http.StatusServiceUnavailable,
	http.StatusGatewayTimeout,
}

// RetryConfig controls RetryTransport.
type RetryConfig struct {
	// StatusCodes lists the retryable HTTP statuses.
	StatusCodes []int `yaml:"status_codes" envconfig:"STATUS_CODES"`

	// MaxAttempts caps the total number of attempts, the first one included.
	MaxAttempts int `yaml:"max_attempts" envconfig:"MAX_ATTEMPTS"`

	// InitialDelay is the wait before the first retry.
	InitialDelay time.Duration `yaml:"initial_delay" envconfig:"INITIAL_DELAY"`

	// Multiplier grows the delay between consecutive retries.
	Multiplier float64 `yaml:"multiplier" envconfig:"MULTIPLIER"`

	// MaxDelay caps a single wait.
	MaxDelay time.Duration `yaml:"max_delay" envconfig:"MAX_DELAY"`
}

// DefaultRetryConfig returns the default retry settings.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  DefaultMaxAttempts,
		InitialDelay: DefaultInitialDelay,
		Multiplier:   DefaultMultiplier,
		MaxDelay:     DefaultMaxDelay,
		StatusCodes:  append([]int(nil), DefaultRetryStatusCodes...),
	}
}

// Validate reports settings RetryTransport cannot run with.
func (c RetryConfig) Validate() error {
	if c.MaxAttempts < 1 {
		return fmt.Errorf("llm: retry max_attempts must be at least 1, got %d", c.MaxAttempts)
	}
	if c.InitialDelay < 0 || c.MaxDelay < 0 {
		return fmt.Errorf("llm: retry delays must be non-negative")
	}
	if c.Multiplier < 1 {
		return fmt.Errorf("llm: retry multiplier must be at least 1, got %g", c.Multiplier)
	}
	return nil
}

// RetryTransport is an http.RoundTripper that retries transient failures with
// exponential backoff. Request bodies are replayed on each attempt.
type RetryTransport struct {
	base      http.RoundTripper
	retryable map[int]bool
	cfg       RetryConfig
}

// NewRetryTransport wraps base (http.DefaultTransport when nil).
func NewRetryTransport(base http.RoundTripper, cfg RetryConfig) *RetryTransport {
	if base == nil {
		base = http.DefaultTransport
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.StatusCodes == nil {
		cfg.StatusCodes = DefaultRetryStatusCodes
	}
	retryable := make(map[int]bool, len(cfg.StatusCodes))
	for _, code := range cfg.StatusCodes {
		retryable[code] = true
	}
	return &RetryTransport{base: base, cfg: cfg, retryable: retryable}
}

// NewRetryClient returns an http.Client using a RetryTransport over the default transport.
func NewRetryClient(cfg RetryConfig) *http.Client {
	return &http.Client{Transport: NewRetryTransport(nil, cfg)}
}

func (t *RetryTransport) newBackOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = t.cfg.InitialDelay
	b.Multiplier = t.cfg.Multiplier
	b.RandomizationFactor = 0
	if t.cfg.MaxDelay > 0 {
		b.MaxInterval = t.cfg.MaxDelay
	}
	b.MaxElapsedTime = 0
	b.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(t.cfg.MaxAttempts-1)), ctx)
}

// retryableStatus carries a transient status between attempts.
type retryableStatus struct {
	body string
	code int
}

func (e *retryableStatus) Error() string {
	return fmt.Sprintf("status %d", e.code)
}

// RoundTrip implements http.RoundTripper.
func (t *RetryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	getBody, err := replayableBody(req)
	if err != nil {
		return nil, err
	}

	ctx := req.Context()
	var (
		resp     *http.Response
		attempts int
	)
	operation := func() error {
		attempts++
		attempt := req.Clone(ctx)
		if getBody != nil {
			body, err := getBody()
			if err != nil {
				return backoff.Permanent(err)
			}
			attempt.Body = body
		}

		r, err := t.base.RoundTrip(attempt)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return err
		}
		if !t.retryable[r.StatusCode] {
			resp = r
			return nil
		}

		data, _ := io.ReadAll(io.LimitReader(r.Body, 4096))
		r.Body.Close()
		return &retryableStatus{code: r.StatusCode, body: string(bytes.TrimSpace(data))}
	}
	notify := func(err error, wait time.Duration) {
		debugLog.Warnf("%s %s attempt %d failed (%v), retrying in %s", req.Method, req.URL.Redacted(), attempts, err, wait)
	}

	err = backoff.RetryNotify(operation, t.newBackOff(ctx), notify)
	if err == nil {
		return resp, nil
	}

	var status *retryableStatus
	if errors.As(err, &status) {
		return nil, &StatusError{
			StatusCode: status.code,
			Body:       status.body,
			Attempts:   attempts,
			Err:        ErrTransient,
		}
	}
	if ctx.Err() != nil {
		return nil, err
	}
	return nil, fmt.Errorf("%w after %d attempts: %w", ErrTransient, attempts, err)
}

func replayableBody(req *http.Request) (func() (io.ReadCloser, error), error) {
	if req.Body == nil || req.Body == http.NoBody {
		return nil, nil
	}
	if req.GetBody != nil {
		return req.GetBody, nil
	}
	data, err := io.ReadAll(req.Body)
	req.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("llm: failed to buffer request body: %w", err)
	}
	return func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(data)), nil
	}, nil
}
