package nanohttp

import (
	"strconv"
)

// Status is an HTTP response status code.
type Status int

// HTTP status codes known to the server.
const (
	StatusSwitchingProtocols Status = 101 // RFC 9110, 15.2.2

	StatusOK                   Status = 200 // RFC 9110, 15.3.1
	StatusCreated              Status = 201 // RFC 9110, 15.3.2
	StatusAccepted             Status = 202 // RFC 9110, 15.3.3
	StatusNonAuthoritativeInfo Status = 203 // RFC 9110, 15.3.4
	StatusNoContent            Status = 204 // RFC 9110, 15.3.5
	StatusResetContent         Status = 205 // RFC 9110, 15.3.6
	StatusPartialContent       Status = 206 // RFC 9110, 15.3.7
	StatusMultiStatus          Status = 207 // RFC 4918, 11.1
	StatusAlreadyReported      Status = 208 // RFC 5842, 7.1
	StatusIMUsed               Status = 226 // RFC 3229, 10.4.1

	StatusMultipleChoices   Status = 300 // RFC 9110, 15.4.1
	StatusMovedPermanently  Status = 301 // RFC 9110, 15.4.2
	StatusFound             Status = 302 // RFC 9110, 15.4.3
	StatusSeeOther          Status = 303 // RFC 9110, 15.4.4
	StatusNotModified       Status = 304 // RFC 9110, 15.4.5
	StatusUseProxy          Status = 305 // RFC 9110, 15.4.6
	StatusTemporaryRedirect Status = 307 // RFC 9110, 15.4.8
	StatusPermanentRedirect Status = 308 // RFC 9110, 15.4.9

	StatusBadRequest                   Status = 400 // RFC 9110, 15.5.1
	StatusUnauthorized                 Status = 401 // RFC 9110, 15.5.2
	StatusPaymentRequired              Status = 402 // RFC 9110, 15.5.3
	StatusForbidden                    Status = 403 // RFC 9110, 15.5.4
	StatusNotFound                     Status = 404 // RFC 9110, 15.5.5
	StatusMethodNotAllowed             Status = 405 // RFC 9110, 15.5.6
	StatusNotAcceptable                Status = 406 // RFC 9110, 15.5.7
	StatusProxyAuthRequired            Status = 407 // RFC 9110, 15.5.8
	StatusRequestTimeout               Status = 408 // RFC 9110, 15.5.9
	StatusConflict                     Status = 409 // RFC 9110, 15.5.10
	StatusGone                         Status = 410 // RFC 9110, 15.5.11
	StatusLengthRequired               Status = 411 // RFC 9110, 15.5.12
	StatusPreconditionFailed           Status = 412 // RFC 9110, 15.5.13
	StatusRequestEntityTooLarge        Status = 413 // RFC 9110, 15.5.14
	StatusRequestURITooLong            Status = 414 // RFC 9110, 15.5.15
	StatusUnsupportedMediaType         Status = 415 // RFC 9110, 15.5.16
	StatusRequestedRangeNotSatisfiable Status = 416 // RFC 9110, 15.5.17
	StatusExpectationFailed            Status = 417 // RFC 9110, 15.5.18
	StatusMisdirectedRequest           Status = 421 // RFC 9110, 15.5.20
	StatusUnprocessableEntity          Status = 422 // RFC 9110, 15.5.21
	StatusLocked                       Status = 423 // RFC 4918, 11.3
	StatusFailedDependency             Status = 424 // RFC 4918, 11.4
	StatusTooEarly                     Status = 425 // RFC 8470, 5.2.
	StatusUpgradeRequired              Status = 426 // RFC 9110, 15.5.22
	StatusPreconditionRequired         Status = 428 // RFC 6585, 3
	StatusTooManyRequests              Status = 429 // RFC 6585, 4
	StatusRequestHeaderFieldsTooLarge  Status = 431 // RFC 6585, 5
	StatusUnavailableForLegalReasons   Status = 451 // RFC 7725, 3

	StatusInternalServerError           Status = 500 // RFC 9110, 15.6.1
	StatusNotImplemented                Status = 501 // RFC 9110, 15.6.2
	StatusBadGateway                    Status = 502 // RFC 9110, 15.6.3
	StatusServiceUnavailable            Status = 503 // RFC 9110, 15.6.4
	StatusGatewayTimeout                Status = 504 // RFC 9110, 15.6.5
	StatusHTTPVersionNotSupported       Status = 505 // RFC 9110, 15.6.6
	StatusVariantAlsoNegotiates         Status = 506 // RFC 2295, 8.1
	StatusInsufficientStorage           Status = 507 // RFC 4918, 11.5
	StatusLoopDetected                  Status = 508 // RFC 5842, 7.2
	StatusNotExtended                   Status = 510 // RFC 2774, 7
	StatusNetworkAuthenticationRequired Status = 511 // RFC 6585, 6
)

const (
	statusMessageMin = 100
	statusMessageMax = 511
)

var statusMessages = func() [statusMessageMax + 1]string {
	var m [statusMessageMax + 1]string

	m[StatusSwitchingProtocols] = "Switching Protocols"

	m[StatusOK] = "OK"
	m[StatusCreated] = "Created"
	m[StatusAccepted] = "Accepted"
	m[StatusNonAuthoritativeInfo] = "Non-Authoritative Information"
	m[StatusNoContent] = "No Content"
	m[StatusResetContent] = "Reset Content"
	m[StatusPartialContent] = "Partial Content"
	m[StatusMultiStatus] = "Multi-Status"
	m[StatusAlreadyReported] = "Already Reported"
	m[StatusIMUsed] = "IM Used"

	m[StatusMultipleChoices] = "Multiple Choices"
	m[StatusMovedPermanently] = "Moved Permanently"
	m[StatusFound] = "Found"
	m[StatusSeeOther] = "See Other"
	m[StatusNotModified] = "Not Modified"
	m[StatusUseProxy] = "Use Proxy"
	m[StatusTemporaryRedirect] = "Temporary Redirect"
	m[StatusPermanentRedirect] = "Permanent Redirect"

	m[StatusBadRequest] = "Bad Request"
	m[StatusUnauthorized] = "Unauthorized"
	m[StatusPaymentRequired] = "Payment Required"
	m[StatusForbidden] = "Forbidden"
	m[StatusNotFound] = "Not Found"
	m[StatusMethodNotAllowed] = "Method Not Allowed"
	m[StatusNotAcceptable] = "Not Acceptable"
	m[StatusProxyAuthRequired] = "Proxy Authentication Required"
	m[StatusRequestTimeout] = "Request Timeout"
	m[StatusConflict] = "Conflict"
	m[StatusGone] = "Gone"
	m[StatusLengthRequired] = "Length Required"
	m[StatusPreconditionFailed] = "Precondition Failed"
	m[StatusRequestEntityTooLarge] = "Request Entity Too Large"
	m[StatusRequestURITooLong] = "Request URI Too Long"
	m[StatusUnsupportedMediaType] = "Unsupported Media Type"
	m[StatusRequestedRangeNotSatisfiable] = "Requested Range Not Satisfiable"
	m[StatusExpectationFailed] = "Expectation Failed"
	m[StatusMisdirectedRequest] = "Misdirected Request"
	m[StatusUnprocessableEntity] = "Unprocessable Entity"
	m[StatusLocked] = "Locked"
	m[StatusFailedDependency] = "Failed Dependency"
	m[StatusTooEarly] = "Too Early"
	m[StatusUpgradeRequired] = "Upgrade Required"
	m[StatusPreconditionRequired] = "Precondition Required"
	m[StatusTooManyRequests] = "Too Many Requests"
	m[StatusRequestHeaderFieldsTooLarge] = "Request Header Fields Too Large"
	m[StatusUnavailableForLegalReasons] = "Unavailable For Legal Reasons"

	m[StatusInternalServerError] = "Internal Server Error"
	m[StatusNotImplemented] = "Not Implemented"
	m[StatusBadGateway] = "Bad Gateway"
	m[StatusServiceUnavailable] = "Service Unavailable"
	m[StatusGatewayTimeout] = "Gateway Timeout"
	m[StatusHTTPVersionNotSupported] = "HTTP Version Not Supported"
	m[StatusVariantAlsoNegotiates] = "Variant Also Negotiates"
	m[StatusInsufficientStorage] = "Insufficient Storage"
	m[StatusLoopDetected] = "Loop Detected"
	m[StatusNotExtended] = "Not Extended"
	m[StatusNetworkAuthenticationRequired] = "Network Authentication Required"
	return m
}()

// LookupStatus returns the Status for code and reports whether the code is
// part of the known status table.
func LookupStatus(code int) (Status, bool) {
	if code < statusMessageMin || code > statusMessageMax {
		return 0, false
	}
	if statusMessages[code] == "" {
		return 0, false
	}
	return Status(code), true
}

// StatusMessage returns the reason phrase for code, or "" for unknown codes.
func StatusMessage(code int) string {
	if code < statusMessageMin || code > statusMessageMax {
		return ""
	}
	return statusMessages[code]
}

// Code returns the numeric status code.
func (s Status) Code() int {
	return int(s)
}

// Reason returns the reason phrase, e.g. "Too Many Requests".
// Unknown codes get "Unknown Status Code".
func (s Status) Reason() string {
	if msg := StatusMessage(int(s)); msg != "" {
		return msg
	}
	return "Unknown Status Code"
}

// Description returns "<code> <reason>" as written on the status line.
func (s Status) Description() string {
	return strconv.Itoa(int(s)) + " " + s.Reason()
}

func (s Status) String() string {
	return s.Description()
}

// bodyAllowed reports whether a response with this status may carry a body.
func (s Status) bodyAllowed() bool {
	if s >= 100 && s < 200 {
		return false
	}
	return s != StatusNoContent && s != StatusNotModified
}
