package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/newacorn/nanohttp"
)

// echoResponder describes every request it receives in plain text.
type echoResponder struct{}

func newEchoResponder() nanohttp.Responder {
	return echoResponder{}
}

// withHealthz answers GET /healthz and hands every other request to next.
func withHealthz(next nanohttp.Responder) nanohttp.Responder {
	return nanohttp.ResponderFunc(func(s *nanohttp.Session) (*nanohttp.Response, error) {
		if s.URI() != "/healthz" {
			return next.Respond(s)
		}
		if s.Method() != nanohttp.MethodGet && s.Method() != nanohttp.MethodHead {
			return nil, nanohttp.NewResponseError(nanohttp.StatusMethodNotAllowed, "METHOD NOT ALLOWED: "+s.Method().String())
		}
		return nanohttp.NewTextResponse(nanohttp.StatusOK, nanohttp.MimeTypePlainText, "ok\n"), nil
	})
}

func (echoResponder) Respond(s *nanohttp.Session) (*nanohttp.Response, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s %s\n", s.Method(), s.URI(), s.Protocol())
	fmt.Fprintf(&b, "request: %s #%d on conn %d from %s\n", s.RequestID(), s.RequestNumber(), s.ConnID(), s.RemoteIP())
	fmt.Fprintf(&b, "guessed type: %s\n", s.MimeTypes().MimeTypeForFile(s.URI()))

	b.WriteString("\nheaders:\n")
	s.Header().VisitAll(func(name, value string) {
		fmt.Fprintf(&b, "  %s: %s\n", name, value)
	})

	if params := s.Params(); len(params) > 0 {
		b.WriteString("\nparams:\n")
		for _, name := range sortedKeys(params) {
			for _, value := range params.Values(name) {
				fmt.Fprintf(&b, "  %s = %q\n", name, value)
			}
		}
	}

	if names := s.Cookies().Names(); len(names) > 0 {
		b.WriteString("\ncookies:\n")
		for _, name := range names {
			fmt.Fprintf(&b, "  %s = %q\n", name, s.Cookies().Get(name))
		}
	}

	if entities := s.BodyStore().Entities(); len(entities) > 0 {
		b.WriteString("\nentities:\n")
		for _, e := range entities {
			fmt.Fprintf(&b, "  %s: %d bytes", e.Name(), e.Size())
			if e.ContentType() != "" {
				fmt.Fprintf(&b, ", %s", e.ContentType())
			}
			if e.FileName() != "" {
				fmt.Fprintf(&b, ", file %q", e.FileName())
			}
			if e.Path() != "" {
				b.WriteString(", spooled")
			}
			b.WriteByte('\n')
		}
	}

	return nanohttp.NewTextResponse(nanohttp.StatusOK, nanohttp.MimeTypePlainText, b.String()), nil
}

func sortedKeys(p nanohttp.Params) []string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
