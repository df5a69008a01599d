package nanohttp

import (
	"io"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

var (
	// ErrServerRunning is returned by Start when the server already owns a listener.
	ErrServerRunning = errors.New("nanohttp: server is already running")
	// ErrServerNotRunning is returned by Stop when Start was never called or failed.
	ErrServerNotRunning = errors.New("nanohttp: server is not running")
	// ErrNoResponder is returned by Start when Server.Responder is nil.
	ErrNoResponder = errors.New("nanohttp: no responder configured")
	// ErrExecutorSaturated is returned by Executor.Submit when no worker can take the connection.
	ErrExecutorSaturated = errors.New("nanohttp: executor cannot accept more connections")
	// ErrBodyTooLarge is returned when a request body exceeds Server.MaxRequestBodySize.
	ErrBodyTooLarge = errors.New("body size exceeds the given limit")
	// ErrHeaderTooLarge is returned when the request head does not fit into the read buffer.
	ErrHeaderTooLarge = errors.New("request header too large")
	// ErrUnexpectedBodyEOF is returned when the peer closes the connection in the middle of a body.
	ErrUnexpectedBodyEOF = errors.New("unexpected EOF while reading request body")
	// ErrBadContentLength is returned for a Content-Length header that is not a non-negative integer.
	ErrBadContentLength = errors.New("invalid Content-Length header")
)

// ErrBrokenChunk is returned when a chunked request body is malformed.
type ErrBrokenChunk struct {
	error
}

// ErrBodySizeMismatch is returned when a fixed-length response body source
// yields fewer bytes than announced in Content-Length.
type ErrBodySizeMismatch struct {
	Sent int64
	Want int64
}

func (e *ErrBodySizeMismatch) Error() string {
	return "copied " + strconv.FormatInt(e.Sent, 10) + " bytes from body stream instead of " + strconv.FormatInt(e.Want, 10) + " bytes"
}

// ResponseError carries an explicit status and message. When it is returned
// while a request is being parsed or served, the client receives exactly that
// status and message as a text/plain response.
type ResponseError struct {
	Status  Status
	Message string
	cause   error
}

// NewResponseError returns a ResponseError for status with the given message.
func NewResponseError(status Status, message string) *ResponseError {
	return &ResponseError{Status: status, Message: message}
}

// WrapResponseError is like NewResponseError but keeps err as the cause.
func WrapResponseError(status Status, message string, err error) *ResponseError {
	return &ResponseError{Status: status, Message: message, cause: err}
}

func (e *ResponseError) Error() string {
	return e.Status.Description() + ": " + e.Message
}

func (e *ResponseError) Unwrap() error {
	return e.cause
}

// bodyIOError marks a failure of the underlying connection while the body was
// being read, as opposed to a malformed body.
type bodyIOError struct {
	err error
}

func (e *bodyIOError) Error() string {
	return e.err.Error()
}

func (e *bodyIOError) Unwrap() error {
	return e.err
}

// isCommonNetError reports whether err is a common error encountered when the
// client went away, timed out or the server is shutting down. Such errors are
// logged at debug level only.
func isCommonNetError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && (opErr.Op == "read" || opErr.Op == "write") {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "broken pipe") ||
		strings.Contains(errStr, "reset by peer") ||
		strings.Contains(errStr, "use of closed network connection")
}
