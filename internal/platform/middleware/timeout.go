package middleware

import (
	"bytes"
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
)

// RequestTimeout returns middleware that sets a context deadline on each
// incoming request. The handler runs in its own goroutine and writes into a
// buffer; the buffer is flushed to the client only when the handler finishes
// before the deadline. On expiry the middleware writes a 504 Gateway Timeout
// and all handler output, past and late, is discarded, so the two goroutines
// never write to the connection concurrently. Handlers that need more time
// can derive their own context with a longer deadline.
func RequestTimeout(timeout time.Duration) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx, cancel := context.WithTimeout(c.Request().Context(), timeout)
			defer cancel()

			c.SetRequest(c.Request().WithContext(ctx))

			res := c.Response()
			w := res.Writer
			tw := newTimeoutWriter()
			res.Writer = tw

			done := make(chan error, 1)
			go func() {
				done <- next(c)
			}()

			select {
			case err := <-done:
				res.Writer = w
				tw.flush(w)
				return err
			case <-ctx.Done():
				tw.abandon()
				if ctx.Err() == context.DeadlineExceeded {
					w.Header().Set(echo.HeaderContentType, echo.MIMEApplicationJSONCharsetUTF8)
					w.WriteHeader(http.StatusGatewayTimeout)
					_, _ = w.Write([]byte(`{"error":"request processing exceeded the allowed time limit"}`))
					return nil
				}
				// Other cancellation reasons, e.g. client disconnect.
				return ctx.Err()
			}
		}
	}
}

// timeoutWriter buffers handler output until the middleware decides whether
// the handler beat the deadline. Mirrors the writer inside
// net/http.TimeoutHandler.
type timeoutWriter struct {
	mu          sync.Mutex
	h           http.Header
	buf         bytes.Buffer
	code        int
	wroteHeader bool
	abandoned   bool
}

func newTimeoutWriter() *timeoutWriter {
	return &timeoutWriter{h: make(http.Header)}
}

func (tw *timeoutWriter) Header() http.Header { return tw.h }

func (tw *timeoutWriter) WriteHeader(code int) {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	if tw.abandoned || tw.wroteHeader {
		return
	}
	tw.wroteHeader = true
	tw.code = code
}

func (tw *timeoutWriter) Write(b []byte) (int, error) {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	if tw.abandoned {
		return 0, http.ErrHandlerTimeout
	}
	if !tw.wroteHeader {
		tw.wroteHeader = true
		tw.code = http.StatusOK
	}
	return tw.buf.Write(b)
}

// abandon drops buffered output and makes every later write a no-op.
func (tw *timeoutWriter) abandon() {
	tw.mu.Lock()
	tw.abandoned = true
	tw.mu.Unlock()
}

// flush copies buffered headers, status, and body to the real writer. A
// handler that never wrote leaves the writer untouched so error handling
// upstream can still respond.
func (tw *timeoutWriter) flush(w http.ResponseWriter) {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	if tw.abandoned || !tw.wroteHeader {
		return
	}
	dst := w.Header()
	for k, v := range tw.h {
		dst[k] = v
	}
	w.WriteHeader(tw.code)
	_, _ = w.Write(tw.buf.Bytes())
}
