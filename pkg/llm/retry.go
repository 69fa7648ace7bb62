package llm

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/xhad/contractiq/internal/models"
)

const MaxRetries = 3

// GenerationError is returned once a model call has failed for good, either
// because retries ran out or the error was not worth retrying.
type GenerationError struct {
	Attempts int
	Err      error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("%v after %d attempt(s): %v", models.ErrGeneration, e.Attempts, e.Err)
}

func (e *GenerationError) Unwrap() []error {
	return []error{models.ErrGeneration, e.Err}
}

// statusPattern pulls an HTTP status out of provider error text, either at
// the start ("503 Service Unavailable") or after "status", "status code"
// or "HTTP".
var statusPattern = regexp.MustCompile(`(?i)(?:^|\bstatus(?:\s+code)?|\bhttp(?:/\d(?:\.\d)?)?)\s*[:=]?\s*([1-5]\d{2})\b`)

var transientMarkers = []string{
	"too many requests",
	"rate limit",
	"internal server error",
	"bad gateway",
	"service unavailable",
	"gateway timeout",
	"overloaded",
	"connection refused",
	"connection reset",
	"broken pipe",
	"unexpected eof",
	"i/o timeout",
	"temporarily unavailable",
}

// IsRetryable checks if an error is worth retrying: network failures,
// per-attempt timeouts, rate limiting and 5xx responses. Auth failures and
// malformed requests are not.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	if code, ok := statusCode(msg); ok {
		return code == 429 || code >= 500
	}
	for _, m := range transientMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

func statusCode(msg string) (int, bool) {
	m := statusPattern.FindStringSubmatch(msg)
	if m == nil {
		return 0, false
	}
	code, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return code, true
}

// Backoff returns a duration for attempt n (0-indexed) with jitter.
func Backoff(attempt int, base time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	d := base << uint(attempt)
	if d > 30*time.Second || d <= 0 {
		d = 30 * time.Second
	}
	jitter := time.Duration(rand.Int64N(int64(d)/2 + 1))
	return d + jitter
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
