// Package fileserver serves static files through a nanohttp.Server.
package fileserver

import (
	"fmt"
	"html"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/newacorn/nanohttp"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/valyala/bytebufferpool"
)

// FS is a nanohttp.Responder serving files from a directory or an fs.FS.
//
// Only GET and HEAD are served. Request paths are cleaned before use, so
// requests can never escape the served tree.
type FS struct {
	// FS is the file system to serve files from, eg. embed.FS or os.DirFS.
	// os.DirFS(Root) is used if nil.
	FS fs.FS

	// Root is the directory to serve files from when FS is nil. The current
	// working directory is used if empty.
	Root string

	// List of index file names to try opening during directory access.
	//
	// For example:
	//
	//     * index.html
	//     * index.htm
	//
	// By default the list is empty.
	IndexNames []string

	// Index pages for directories without files matching IndexNames
	// are generated if set.
	GenerateIndexPages bool

	// Enables single range "Range: bytes=..." requests if set.
	AcceptByteRange bool

	// PathNotFound answers requests for files that do not exist. A plain 404
	// response is sent if nil.
	PathNotFound nanohttp.Responder

	Logger *zerolog.Logger

	once       sync.Once
	filesystem fs.FS
}

var _ nanohttp.Responder = (*FS)(nil)

func (f *FS) init() {
	f.once.Do(func() {
		f.filesystem = f.FS
		if f.filesystem == nil {
			root := f.Root
			if root == "" {
				root = "."
			}
			f.filesystem = os.DirFS(root)
		}
		if f.Logger == nil {
			nop := zerolog.Nop()
			f.Logger = &nop
		}
	})
}

func (f *FS) Respond(s *nanohttp.Session) (*nanohttp.Response, error) {
	f.init()
	if m := s.Method(); m != nanohttp.MethodGet && m != nanohttp.MethodHead {
		return nil, nanohttp.NewResponseError(nanohttp.StatusMethodNotAllowed, "METHOD NOT ALLOWED: "+m.String())
	}

	reqPath := s.URI()
	if n := strings.IndexByte(reqPath, 0); n >= 0 {
		f.Logger.Warn().Int("pos", n).Str("path", reqPath).Msg("cannot serve path with nil byte")
		return nil, nanohttp.NewResponseError(nanohttp.StatusBadRequest, "BAD REQUEST: nil byte in path")
	}
	hasTrailingSlash := strings.HasSuffix(reqPath, "/")
	name := fsName(reqPath)

	file, err := f.filesystem.Open(name)
	if err != nil {
		return f.notFound(s, name, err)
	}
	fi, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, errors.Wrapf(err, "cannot stat %q", name)
	}

	if fi.IsDir() {
		_ = file.Close()
		if !hasTrailingSlash {
			location := (&url.URL{Path: reqPath + "/"}).EscapedPath()
			resp := nanohttp.NewTextResponse(nanohttp.StatusFound, nanohttp.MimeTypeHTML,
				"<html><body>Redirected: <a href=\""+html.EscapeString(location)+"\">"+html.EscapeString(reqPath)+"/</a></body></html>")
			resp.Header.Set("Location", location)
			return resp, nil
		}
		return f.serveDir(s, name, reqPath)
	}
	return f.serveFile(s, file, fi, name)
}

// fsName maps a request path onto an fs.FS name.
func fsName(reqPath string) string {
	name := strings.TrimPrefix(path.Clean("/"+reqPath), "/")
	if name == "" {
		return "."
	}
	return name
}

func (f *FS) notFound(s *nanohttp.Session, name string, err error) (*nanohttp.Response, error) {
	if !errors.Is(err, fs.ErrNotExist) {
		f.Logger.Warn().Err(err).Str("file", name).Msg("cannot open file")
	}
	if f.PathNotFound != nil {
		return f.PathNotFound.Respond(s)
	}
	return nil, nanohttp.NewResponseError(nanohttp.StatusNotFound, "Error 404, file not found.")
}

func (f *FS) serveDir(s *nanohttp.Session, name, reqPath string) (*nanohttp.Response, error) {
	for _, indexName := range f.IndexNames {
		indexPath := path.Join(name, indexName)
		file, err := f.filesystem.Open(indexPath)
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				f.Logger.Warn().Err(err).Str("file", indexPath).Msg("cannot open index file")
			}
			continue
		}
		fi, err := file.Stat()
		if err != nil || fi.IsDir() {
			_ = file.Close()
			continue
		}
		return f.serveFile(s, file, fi, indexPath)
	}
	if !f.GenerateIndexPages {
		return nil, nanohttp.NewResponseError(nanohttp.StatusForbidden, "FORBIDDEN: Directory index is forbidden.")
	}
	page, err := f.dirIndex(name, reqPath)
	if err != nil {
		return nil, err
	}
	return nanohttp.NewBytesResponse(nanohttp.StatusOK, "text/html; charset=utf-8", page), nil
}

func (f *FS) dirIndex(name, reqPath string) ([]byte, error) {
	entries, err := fs.ReadDir(f.filesystem, name)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot list directory %q", name)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)

	base := html.EscapeString(reqPath)
	_, _ = fmt.Fprintf(buf, "<html><head><title>%s</title><style>.dir { font-weight: bold }</style></head><body>", base)
	_, _ = fmt.Fprintf(buf, "<h1>%s</h1><ul>", base)
	if reqPath != "/" {
		parent := path.Dir(strings.TrimSuffix(reqPath, "/"))
		if parent != "/" {
			parent += "/"
		}
		_, _ = fmt.Fprintf(buf, `<li><a href="%s" class="dir">..</a></li>`, html.EscapeString(parent))
	}
	for _, de := range entries {
		fi, err := de.Info()
		if err != nil {
			f.Logger.Debug().Err(err).Str("entry", de.Name()).Msg("cannot stat directory entry, skip")
			continue
		}
		href := reqPath + de.Name()
		class, aux := "dir", "dir"
		if fi.IsDir() {
			href += "/"
		} else {
			class = "file"
			aux = "file, " + strconv.FormatInt(fi.Size(), 10) + " bytes"
		}
		_, _ = fmt.Fprintf(buf, `<li><a href="%s" class="%s">%s</a>, %s, last modified %s</li>`,
			html.EscapeString(href), class, html.EscapeString(de.Name()), aux, fi.ModTime().UTC().Format("2006-01-02 15:04:05"))
	}
	_, _ = buf.WriteString("</ul></body></html>")
	return append([]byte(nil), buf.B...), nil
}

type readCloser struct {
	io.Reader
	io.Closer
}

func (f *FS) serveFile(s *nanohttp.Session, file fs.File, fi fs.FileInfo, name string) (*nanohttp.Response, error) {
	size := fi.Size()
	mimeType := s.MimeTypes().MimeTypeForFile(name)

	byteRange := s.Header().Get("range")
	if !f.AcceptByteRange || byteRange == "" {
		resp := nanohttp.NewFixedLengthResponse(nanohttp.StatusOK, mimeType, file, size)
		if f.AcceptByteRange {
			resp.Header.Set("Accept-Ranges", "bytes")
		}
		return resp, nil
	}

	start, end, err := ParseByteRange(byteRange, size)
	if err != nil {
		_ = file.Close()
		f.Logger.Debug().Err(err).Str("range", byteRange).Str("file", name).Msg("cannot parse byte range")
		resp := nanohttp.NewTextResponse(nanohttp.StatusRequestedRangeNotSatisfiable, nanohttp.MimeTypePlainText,
			"REQUESTED RANGE NOT SATISFIABLE")
		resp.Header.Set("Content-Range", "bytes */"+strconv.FormatInt(size, 10))
		return resp, nil
	}
	seeker, ok := file.(io.Seeker)
	if !ok {
		_ = file.Close()
		return nil, errors.Errorf("file %q is not seekable", name)
	}
	if _, err = seeker.Seek(start, io.SeekStart); err != nil {
		_ = file.Close()
		return nil, errors.Wrapf(err, "cannot seek %q", name)
	}
	length := end - start + 1
	body := &readCloser{Reader: io.LimitReader(file, length), Closer: file}
	resp := nanohttp.NewFixedLengthResponse(nanohttp.StatusPartialContent, mimeType, body, length)
	resp.Header.Set("Accept-Ranges", "bytes")
	resp.Header.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, size))
	return resp, nil
}

// ParseByteRange parses a 'Range: bytes=...' header value holding a single
// range and returns its inclusive bounds within a body of contentLength
// bytes.
func ParseByteRange(byteRange string, contentLength int64) (start, end int64, err error) {
	b, ok := strings.CutPrefix(byteRange, "bytes")
	if !ok {
		return 0, 0, errors.Errorf("unsupported range units: %q. Expecting \"bytes\"", byteRange)
	}
	b, ok = strings.CutPrefix(b, "=")
	if !ok {
		return 0, 0, errors.Errorf("missing byte range in %q", byteRange)
	}
	if strings.IndexByte(b, ',') >= 0 {
		return 0, 0, errors.Errorf("multiple byte ranges are not supported: %q", byteRange)
	}
	first, last, ok := strings.Cut(strings.TrimSpace(b), "-")
	if !ok {
		return 0, 0, errors.Errorf("missing the end position of byte range in %q", byteRange)
	}

	if first == "" {
		n, err := parseUint(last)
		if err != nil {
			return 0, 0, err
		}
		if n == 0 || contentLength == 0 {
			return 0, 0, errors.Errorf("unsatisfiable suffix range %q", byteRange)
		}
		return max(contentLength-n, 0), contentLength - 1, nil
	}

	if start, err = parseUint(first); err != nil {
		return 0, 0, err
	}
	if start >= contentLength {
		return 0, 0, errors.Errorf("the start position of byte range cannot exceed %d. byte range %q", contentLength-1, byteRange)
	}
	if last == "" {
		return start, contentLength - 1, nil
	}
	if end, err = parseUint(last); err != nil {
		return 0, 0, err
	}
	if end >= contentLength {
		end = contentLength - 1
	}
	if end < start {
		return 0, 0, errors.Errorf("the start position of byte range cannot exceed the end position. byte range %q", byteRange)
	}
	return start, end, nil
}

func parseUint(s string) (int64, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n < 0 {
		return 0, errors.Errorf("invalid byte range position %q", s)
	}
	return n, nil
}
