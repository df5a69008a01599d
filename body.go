package nanohttp

import (
	"io"
	"mime/multipart"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/valyala/bytebufferpool"
)

// Default entity names of raw request bodies.
const (
	EntityNamePut  = "content"
	EntityNamePost = "postData"
)

const (
	contentTypeMultipart  = "multipart/form-data"
	contentTypeURLEncoded = "application/x-www-form-urlencoded"
)

// contentType is a parsed Content-Type header. Parameters may be separated by
// ';' or ','.
type contentType struct {
	mediaType string
	boundary  string
	charset   string
}

func parseContentType(v string) contentType {
	var ct contentType
	parts := strings.FieldsFunc(v, func(r rune) bool { return r == ';' || r == ',' })
	if len(parts) == 0 {
		return ct
	}
	ct.mediaType = strings.ToLower(strings.TrimSpace(parts[0]))
	for _, p := range parts[1:] {
		key, value, ok := strings.Cut(p, "=")
		if !ok {
			continue
		}
		value = strings.Trim(strings.TrimSpace(value), `"'`)
		switch strings.ToLower(strings.TrimSpace(key)) {
		case "boundary":
			ct.boundary = value
		case "charset":
			ct.charset = value
		}
	}
	return ct
}

// readBody reads the request body according to its framing and content
// type. Returned errors are *ResponseError or *bodyIOError.
func (s *Session) readBody() error {
	contentLength, err := s.requestContentLength()
	if err != nil {
		s.mustClose = true
		return err
	}
	if contentLength == 0 {
		return nil
	}
	body, err := newBodyReader(s.br, contentLength, s.cfg.maxBodySize)
	if err != nil {
		return s.bodyError(err)
	}
	if !s.method.hasBody() {
		if _, err = discardBody(body); err != nil {
			return s.bodyError(err)
		}
		return nil
	}
	if err = s.parseBody(body, contentLength); err != nil {
		// leave the connection usable for the next request if possible.
		if _, derr := discardBody(body); derr != nil {
			s.mustClose = true
		}
		return s.bodyError(err)
	}
	return nil
}

// requestContentLength returns the declared body length, or -1 for a chunked
// body.
func (s *Session) requestContentLength() (int64, error) {
	if te := s.header.Get("transfer-encoding"); te != "" {
		if !strings.EqualFold(strings.TrimSpace(te), "chunked") {
			return 0, NewResponseError(StatusNotImplemented, "NOT IMPLEMENTED: Unsupported transfer encoding "+te)
		}
		return -1, nil
	}
	n, err := parseContentLength(s.header.Get("content-length"))
	if err != nil {
		return 0, WrapResponseError(StatusBadRequest, "BAD REQUEST: Invalid Content-Length header.", err)
	}
	return n, nil
}

// bodyError maps body reading failures to their response errors.
func (s *Session) bodyError(err error) error {
	var re *ResponseError
	if errors.As(err, &re) {
		return re
	}
	var ioErr *bodyIOError
	if errors.As(err, &ioErr) {
		s.mustClose = true
		return ioErr
	}
	if errors.Is(err, ErrBodyTooLarge) {
		s.mustClose = true
		return WrapResponseError(StatusRequestEntityTooLarge,
			"REQUEST ENTITY TOO LARGE: body exceeds "+strconv.FormatInt(s.cfg.maxBodySize, 10)+" bytes", err)
	}
	var brokenChunk ErrBrokenChunk
	if errors.As(err, &brokenChunk) {
		s.mustClose = true
		return WrapResponseError(StatusBadRequest, "BAD REQUEST: "+err.Error(), err)
	}
	// store failures such as an unwritable temp dir.
	return &bodyIOError{err: err}
}

func (s *Session) parseBody(body io.Reader, contentLength int64) error {
	ct := parseContentType(s.header.Get("content-type"))
	switch ct.mediaType {
	case contentTypeMultipart:
		if ct.boundary == "" {
			return NewResponseError(StatusBadRequest,
				"BAD REQUEST: Content type is multipart/form-data but boundary missing. "+usageHint)
		}
		return s.parseMultipart(body, ct.boundary)
	case contentTypeURLEncoded:
		return s.parseURLEncoded(body)
	}
	name := EntityNamePut
	if s.method == MethodPost {
		name = EntityNamePost
	}
	e, err := s.store.CreateEntity(name, s.header.Get("content-type"), "", contentLength)
	if err != nil {
		return err
	}
	if _, err = copyZeroAlloc(e, body); err != nil {
		return err
	}
	s.store.Put(e)
	return nil
}

func (s *Session) parseURLEncoded(body io.Reader) error {
	b := bytebufferpool.Get()
	defer bytebufferpool.Put(b)
	if _, err := b.ReadFrom(body); err != nil {
		return err
	}
	decodeParams(s.params, strings.TrimSpace(string(b.B)))
	return nil
}

func (s *Session) parseMultipart(body io.Reader, boundary string) error {
	mr := multipart.NewReader(body, boundary)
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return s.multipartError(err)
		}
		if err = s.storePart(part); err != nil {
			_ = part.Close()
			return s.multipartError(err)
		}
		_ = part.Close()
	}
}

func (s *Session) storePart(part *multipart.Part) error {
	fieldName := part.FormName()
	if fieldName == "" {
		// parts without a form name carry nothing addressable.
		_, err := discardBody(part)
		return err
	}
	fileName := part.FileName()
	name := s.uniqueEntityName(fieldName)
	e, err := s.store.CreateEntity(name, part.Header.Get("Content-Type"), fileName, -1)
	if err != nil {
		return err
	}
	if _, err = copyZeroAlloc(e, part); err != nil {
		return err
	}
	s.store.Put(e)
	if fileName != "" {
		s.params.Add(fieldName, fileName)
		return nil
	}
	value, err := e.Bytes()
	if err != nil {
		return err
	}
	s.params.Add(fieldName, string(value))
	return nil
}

// uniqueEntityName returns name, or name2, name3 ... if name is taken.
func (s *Session) uniqueEntityName(name string) string {
	if _, taken := s.store.Entity(name); !taken {
		return name
	}
	for i := 2; ; i++ {
		candidate := name + strconv.Itoa(i)
		if _, taken := s.store.Entity(candidate); !taken {
			return candidate
		}
	}
}

func (s *Session) multipartError(err error) error {
	var ioErr *bodyIOError
	if errors.As(err, &ioErr) || errors.Is(err, ErrBodyTooLarge) {
		return err
	}
	var brokenChunk ErrBrokenChunk
	if errors.As(err, &brokenChunk) {
		return err
	}
	return WrapResponseError(StatusBadRequest, "BAD REQUEST: malformed multipart body: "+err.Error(), err)
}
