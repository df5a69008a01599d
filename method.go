package nanohttp

import "strings"

// Method is an HTTP request method supported by the session handler.
type Method string

// Supported request methods, including the WebDAV extensions.
const (
	MethodGet       Method = "GET"
	MethodPut       Method = "PUT"
	MethodPost      Method = "POST"
	MethodDelete    Method = "DELETE"
	MethodHead      Method = "HEAD"
	MethodOptions   Method = "OPTIONS"
	MethodTrace     Method = "TRACE"
	MethodConnect   Method = "CONNECT"
	MethodPatch     Method = "PATCH"
	MethodPropfind  Method = "PROPFIND"
	MethodProppatch Method = "PROPPATCH"
	MethodMkcol     Method = "MKCOL"
	MethodMove      Method = "MOVE"
	MethodCopy      Method = "COPY"
	MethodLock      Method = "LOCK"
	MethodUnlock    Method = "UNLOCK"
)

var knownMethods = map[Method]struct{}{
	MethodGet: {}, MethodPut: {}, MethodPost: {}, MethodDelete: {}, MethodHead: {},
	MethodOptions: {}, MethodTrace: {}, MethodConnect: {}, MethodPatch: {},
	MethodPropfind: {}, MethodProppatch: {}, MethodMkcol: {}, MethodMove: {},
	MethodCopy: {}, MethodLock: {}, MethodUnlock: {},
}

// LookupMethod resolves a request-line token, ignoring case.
func LookupMethod(s string) (Method, bool) {
	m := Method(strings.ToUpper(s))
	_, ok := knownMethods[m]
	return m, ok
}

func (m Method) String() string {
	return string(m)
}

// hasBody reports whether the session parses a body for this method.
func (m Method) hasBody() bool {
	return m == MethodPost || m == MethodPut
}
