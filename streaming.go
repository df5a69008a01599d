package nanohttp

import (
	"bufio"
	"io"
	"strconv"

	pool "github.com/newacorn/simple-bytes-pool"
	"github.com/pkg/errors"
)

// fixedReader reads exactly left bytes of a Content-Length framed body.
type fixedReader struct {
	r    *bufio.Reader
	left int64
}

func (fr *fixedReader) Read(p []byte) (n int, err error) {
	if fr.left <= 0 {
		return 0, io.EOF
	}
	if int64(len(p)) > fr.left {
		p = p[:fr.left]
	}
	n, err = fr.r.Read(p)
	fr.left -= int64(n)
	if err == io.EOF {
		if fr.left > 0 {
			return n, &bodyIOError{err: ErrUnexpectedBodyEOF}
		}
		return n, nil
	}
	if err != nil {
		err = &bodyIOError{err: err}
	}
	return
}

// chunkedReader decodes a Transfer-Encoding: chunked body. Chunk extensions
// are skipped and trailer fields are consumed and dropped.
type chunkedReader struct {
	r         *bufio.Reader
	chunkLeft int
	done      bool
}

func (cr *chunkedReader) Read(p []byte) (n int, err error) {
	if cr.done {
		return 0, io.EOF
	}
	if cr.chunkLeft == 0 {
		var chunkSize int
		if chunkSize, err = parseChunkSize(cr.r); err != nil {
			return 0, asBodyError(err)
		}
		if chunkSize == 0 {
			if err = skipTrailer(cr.r); err != nil {
				return 0, asBodyError(err)
			}
			cr.done = true
			return 0, io.EOF
		}
		cr.chunkLeft = chunkSize
	}
	if cr.chunkLeft < len(p) {
		p = p[:cr.chunkLeft]
	}
	n, err = cr.r.Read(p)
	cr.chunkLeft -= n
	if err == io.EOF {
		return n, &bodyIOError{err: ErrUnexpectedBodyEOF}
	}
	if err != nil {
		return n, &bodyIOError{err: err}
	}
	if cr.chunkLeft == 0 {
		// every chunk ends with CRLF.
		err = asBodyError(readCrLf(cr.r))
	}
	return
}

// asBodyError leaves framing errors alone and marks everything else as a
// transport failure.
func asBodyError(err error) error {
	if err == nil {
		return nil
	}
	var brokenChunk ErrBrokenChunk
	if errors.As(err, &brokenChunk) {
		return err
	}
	if err == io.EOF {
		err = ErrUnexpectedBodyEOF
	}
	return &bodyIOError{err: err}
}

// limitedBodyReader fails with ErrBodyTooLarge as soon as more than max
// bytes were read.
type limitedBodyReader struct {
	r    io.Reader
	max  int64
	read int64
}

func (lr *limitedBodyReader) Read(p []byte) (n int, err error) {
	n, err = lr.r.Read(p)
	lr.read += int64(n)
	if lr.read > lr.max {
		return n, ErrBodyTooLarge
	}
	return
}

// newBodyReader returns the request body framed by contentLength, or by
// chunked encoding when contentLength is -1. maxBodySize <= 0 means
// unlimited.
func newBodyReader(r *bufio.Reader, contentLength, maxBodySize int64) (io.Reader, error) {
	if contentLength >= 0 {
		if maxBodySize > 0 && contentLength > maxBodySize {
			return nil, ErrBodyTooLarge
		}
		return &fixedReader{r: r, left: contentLength}, nil
	}
	var body io.Reader = &chunkedReader{r: r}
	if maxBodySize > 0 {
		body = &limitedBodyReader{r: body, max: maxBodySize}
	}
	return body, nil
}

// parseContentLength parses a Content-Length value. Empty means no body.
func parseContentLength(v string) (int64, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return 0, ErrBadContentLength
	}
	return n, nil
}

const maxHexIntChars = 15

func readHexInt(r *bufio.Reader) (int, error) {
	var n, i int
	for {
		c, err := r.ReadByte()
		if err != nil {
			if err == io.EOF && i > 0 {
				return n, nil
			}
			return -1, err
		}
		k := hexValue(c)
		if k < 0 {
			if i == 0 {
				return -1, ErrBrokenChunk{error: errors.New("empty hex number")}
			}
			if err = r.UnreadByte(); err != nil {
				return -1, err
			}
			return n, nil
		}
		if i >= maxHexIntChars {
			return -1, ErrBrokenChunk{error: errors.New("too large hex number")}
		}
		n = (n << 4) | k
		i++
	}
}

func hexValue(c byte) int {
	switch {
	case '0' <= c && c <= '9':
		return int(c - '0')
	case 'a' <= c && c <= 'f':
		return int(c-'a') + 10
	case 'A' <= c && c <= 'F':
		return int(c-'A') + 10
	}
	return -1
}

func parseChunkSize(r *bufio.Reader) (n int, err error) {
	n, err = readHexInt(r)
	if err != nil {
		return -1, err
	}
	for {
		var c byte
		c, err = r.ReadByte()
		if err != nil {
			return -1, err
		}
		// Skip chunk extension after chunk size.
		if c != rChar {
			continue
		}
		if err = r.UnreadByte(); err != nil {
			return -1, err
		}
		break
	}
	if err = readCrLf(r); err != nil {
		return -1, err
	}
	return n, nil
}

func readCrLf(r *bufio.Reader) error {
	for _, exp := range strCRLF {
		c, err := r.ReadByte()
		if err != nil {
			return err
		}
		if c != exp {
			return ErrBrokenChunk{
				error: errors.New(`unexpected char "` + string(c) + `" at the end of chunk. Expected "` + string(exp) + `"`),
			}
		}
	}
	return nil
}

// skipTrailer consumes trailer fields up to and including the final CRLF.
func skipTrailer(r *bufio.Reader) error {
	for {
		line, err := r.ReadSlice(nChar)
		if err != nil {
			if errors.Is(err, bufio.ErrBufferFull) {
				return ErrBrokenChunk{error: errors.New("trailer line too long")}
			}
			return err
		}
		if len(line) == 1 || (len(line) == 2 && line[0] == rChar) {
			return nil
		}
	}
}

var chunkedEnd = []byte("0\r\n\r\n")

func writeChunk(w *bufio.Writer, b []byte) error {
	if _, err := w.WriteString(strconv.FormatInt(int64(len(b)), 16)); err != nil {
		return err
	}
	if _, err := w.Write(strCRLF); err != nil {
		return err
	}
	if _, err := w.Write(b); err != nil {
		return err
	}
	_, err := w.Write(strCRLF)
	return err
}

// chunkWriter frames everything written to it as chunks. Close writes the
// terminating zero-length chunk.
type chunkWriter struct {
	w *bufio.Writer
}

func (cw *chunkWriter) Write(p []byte) (int, error) {
	if len(p) == 0 {
		// an empty chunk would end the body.
		return 0, nil
	}
	if err := writeChunk(cw.w, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (cw *chunkWriter) Close() error {
	_, err := cw.w.Write(chunkedEnd)
	return err
}

func writeBodyChunked(w *bufio.Writer, r io.Reader) (err error) {
	pb := pool.Get(4096)
	pb.B = pb.B[:cap(pb.B)]
	buf := pb.B
	var n int
	for {
		n, err = r.Read(buf)
		if n > 0 {
			if err2 := writeChunk(w, buf[:n]); err2 != nil {
				err = err2
				break
			}
		}
		if err == io.EOF {
			_, err = w.Write(chunkedEnd)
			break
		}
		if err != nil {
			break
		}
	}
	pb.RecycleToPool00()
	return
}

func writeBodyFixedSize(w *bufio.Writer, r io.Reader, size int64) error {
	n, err := copyZeroAlloc(w, io.LimitReader(r, size))
	if err != nil {
		return err
	}
	if n != size {
		return &ErrBodySizeMismatch{Sent: n, Want: size}
	}
	return nil
}

func copyZeroAlloc(w io.Writer, r io.Reader) (n int64, err error) {
	if wt, ok := r.(io.WriterTo); ok {
		return wt.WriteTo(w)
	}
	if rt, ok := w.(io.ReaderFrom); ok {
		return rt.ReadFrom(r)
	}
	buf := pool.Get(32 * 1024)
	buf.B = buf.B[:cap(buf.B)]
	n, err = io.CopyBuffer(w, r, buf.B)
	pool.Put(buf)
	return
}

// discardBody drains r so the next request on the connection can be read.
func discardBody(r io.Reader) (int64, error) {
	return copyZeroAlloc(io.Discard, r)
}
