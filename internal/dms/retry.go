package dms

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"strconv"
	"time"
)

const maxSendAttempts = 4

// maxRetryAfter caps a provider-requested delay so one send stays inside
// SendTimeout.
const maxRetryAfter = SendTimeout / 2

// retryBaseDelay scales the quadratic backoff: 1x, 4x, 9x.
var retryBaseDelay = 250 * time.Millisecond

// unavailableError is a provider answer saying the message was not taken:
// throttled or the gateway in front of the DMS could not reach it.
type unavailableError struct {
	statusCode int
	body       string
	retryAfter time.Duration
}

func (e *unavailableError) Error() string {
	return fmt.Sprintf("dms unavailable: HTTP %d: %s", e.statusCode, e.body)
}

// unavailable reports whether status means the DMS never accepted the body.
// A 500 is returned to the caller instead: the provider may have stored the
// message before failing.
func unavailable(status int) bool {
	switch status {
	case http.StatusTooManyRequests, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

// sendWithRetry posts one outbound message. Every attempt carries the
// message id as Idempotency-Key. Transport errors and unavailable answers are retried;
// everything else is returned as is.
func sendWithRetry(ctx context.Context, client *http.Client, messageID string, buildReq func() (*http.Request, error), logger *slog.Logger) (*http.Response, error) {
	var lastErr error

	for attempt := 1; attempt <= maxSendAttempts; attempt++ {
		if attempt > 1 {
			wait := backoff(attempt-1, lastErr)
			logger.Warn("retrying dms send", "message_id", messageID, "attempt", attempt, "backoff", wait)
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("%w (gave up: %v)", lastErr, ctx.Err())
			case <-time.After(wait):
			}
		}

		req, err := buildReq()
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}
		if messageID != "" {
			req.Header.Set("Idempotency-Key", messageID)
		}

		resp, err := client.Do(req)
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				return nil, fmt.Errorf("send to dms: %w", err)
			}
			continue
		}
		if !unavailable(resp.StatusCode) {
			return resp, nil
		}

		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		resp.Body.Close()
		lastErr = &unavailableError{
			statusCode: resp.StatusCode,
			body:       string(body),
			retryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}
	return nil, fmt.Errorf("gave up after %d attempts: %w", maxSendAttempts, lastErr)
}

// backoff honours a provider Retry-After, otherwise it is quadratic with
// up to 50% jitter.
func backoff(retry int, lastErr error) time.Duration {
	if ue, ok := lastErr.(*unavailableError); ok && ue.retryAfter > 0 {
		return min(ue.retryAfter, maxRetryAfter)
	}
	base := time.Duration(retry*retry) * retryBaseDelay
	return base + time.Duration(rand.Int63n(int64(base/2+1)))
}

// parseRetryAfter reads the delay-seconds form; HTTP dates are ignored.
func parseRetryAfter(v string) time.Duration {
	secs, err := strconv.Atoi(v)
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
