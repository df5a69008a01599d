package nanohttp

import (
	"bufio"
	"bytes"
	"io"
	"strings"

	"github.com/pkg/errors"
)

// Header is an ordered multi-value header map.
//
// Names keep the case they were added with and are re-emitted verbatim.
// Lookups are case-insensitive through a lowercase index.
type Header struct {
	entries []headerEntry
	index   map[string][]int
}

type headerEntry struct {
	name  string
	value string
}

func (h *Header) lazyInit() {
	if h.index == nil {
		h.index = make(map[string][]int)
	}
}

// Add appends a header line, keeping any previous values of name.
func (h *Header) Add(name, value string) {
	h.lazyInit()
	key := strings.ToLower(name)
	h.index[key] = append(h.index[key], len(h.entries))
	h.entries = append(h.entries, headerEntry{name: name, value: value})
}

// Set replaces every value of name with value.
func (h *Header) Set(name, value string) {
	h.Del(name)
	h.Add(name, value)
}

// Get returns the first value of name, or "".
func (h *Header) Get(name string) string {
	if h.index == nil {
		return ""
	}
	pos := h.index[strings.ToLower(name)]
	if len(pos) == 0 {
		return ""
	}
	return h.entries[pos[0]].value
}

// Values returns all values of name in insertion order.
func (h *Header) Values(name string) []string {
	if h.index == nil {
		return nil
	}
	pos := h.index[strings.ToLower(name)]
	if len(pos) == 0 {
		return nil
	}
	vs := make([]string, len(pos))
	for i, p := range pos {
		vs[i] = h.entries[p].value
	}
	return vs
}

// Has reports whether at least one value of name is present.
func (h *Header) Has(name string) bool {
	if h.index == nil {
		return false
	}
	return len(h.index[strings.ToLower(name)]) > 0
}

// Del removes every value of name.
func (h *Header) Del(name string) {
	if h.index == nil {
		return
	}
	key := strings.ToLower(name)
	if len(h.index[key]) == 0 {
		return
	}
	kept := h.entries[:0]
	for _, e := range h.entries {
		if !strings.EqualFold(e.name, name) {
			kept = append(kept, e)
		}
	}
	// zero the tail so dropped strings can be collected.
	for i := len(kept); i < len(h.entries); i++ {
		h.entries[i] = headerEntry{}
	}
	h.entries = kept
	h.reindex()
}

func (h *Header) reindex() {
	clear(h.index)
	for i, e := range h.entries {
		key := strings.ToLower(e.name)
		h.index[key] = append(h.index[key], i)
	}
}

// Len returns the number of header lines.
func (h *Header) Len() int {
	return len(h.entries)
}

// VisitAll calls f for each header line in insertion order.
//
// f must not retain or modify the header.
func (h *Header) VisitAll(f func(name, value string)) {
	for _, e := range h.entries {
		f(e.name, e.value)
	}
}

// Reset clears the header for reuse.
func (h *Header) Reset() {
	clear(h.entries)
	h.entries = h.entries[:0]
	clear(h.index)
}

// hasToken reports whether any comma separated element of the name values
// equals token, ignoring case.
func (h *Header) hasToken(name, token string) bool {
	for _, v := range h.Values(name) {
		for _, part := range strings.Split(v, ",") {
			if strings.EqualFold(strings.TrimSpace(part), token) {
				return true
			}
		}
	}
	return false
}

var (
	strCRLF       = []byte("\r\n")
	strColonSpace = []byte(": ")
)

const (
	rChar = byte('\r')
	nChar = byte('\n')
)

var errNeedMore = errors.New("need more data: cannot find trailing lf")

// readHead reads the request line and header block from r and returns them
// without the terminating empty line. The returned slice is only valid until
// the next read from r.
//
// io.EOF is returned if r is closed before the first byte of a request.
// ErrHeaderTooLarge is returned when the head does not fit into r's buffer.
func readHead(r *bufio.Reader) ([]byte, error) {
	// tolerate stray CRLFs between keep-alive requests.
	for {
		c, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		if c != rChar && c != nChar {
			if err = r.UnreadByte(); err != nil {
				return nil, err
			}
			break
		}
	}
	n := 1
	for {
		head, err := tryReadHead(r, n)
		if err == nil {
			return head, nil
		}
		if err != errNeedMore {
			if errors.Is(err, bufio.ErrBufferFull) {
				return nil, ErrHeaderTooLarge
			}
			return nil, err
		}
		n = r.Buffered() + 1
	}
}

func tryReadHead(r *bufio.Reader, n int) ([]byte, error) {
	b, err := r.Peek(n)
	if len(b) != n {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	b, _ = r.Peek(r.Buffered())
	end, headLen := headEnd(b)
	if end < 0 {
		if r.Buffered() >= r.Size() {
			return nil, ErrHeaderTooLarge
		}
		return nil, errNeedMore
	}
	head := b[:end]
	if _, err = r.Discard(headLen); err != nil {
		return nil, err
	}
	return head, nil
}

// headEnd locates the empty line terminating the head. It returns the length
// of the head without the empty line and the number of bytes to consume.
func headEnd(b []byte) (end, consumed int) {
	off := 0
	for {
		i := bytes.IndexByte(b[off:], nChar)
		if i < 0 {
			return -1, 0
		}
		i += off
		rest := b[i+1:]
		if len(rest) >= 1 && rest[0] == nChar {
			return i + 1, i + 2
		}
		if len(rest) >= 2 && rest[0] == rChar && rest[1] == nChar {
			return i + 1, i + 3
		}
		if len(rest) < 2 {
			return -1, 0
		}
		off = i + 1
	}
}

// nextLine splits off the first line of b, trimming the trailing CR.
func nextLine(b []byte) (line, rest []byte) {
	i := bytes.IndexByte(b, nChar)
	if i < 0 {
		return b, nil
	}
	line, rest = b[:i], b[i+1:]
	if len(line) > 0 && line[len(line)-1] == rChar {
		line = line[:len(line)-1]
	}
	return line, rest
}

// parseHeaderLines adds every "Name: value" line of b to h. Lines without a
// colon are skipped. Obsolete line folding is joined with a single space.
func parseHeaderLines(h *Header, b []byte) {
	var (
		line []byte
		last = -1
	)
	for len(b) > 0 {
		line, b = nextLine(b)
		if len(line) == 0 {
			continue
		}
		if (line[0] == ' ' || line[0] == '\t') && last >= 0 {
			h.entries[last].value += " " + strings.TrimSpace(string(line))
			continue
		}
		colon := bytes.IndexByte(line, ':')
		if colon <= 0 {
			continue
		}
		name := string(bytes.TrimSpace(line[:colon]))
		value := string(bytes.TrimSpace(line[colon+1:]))
		h.Add(name, value)
		last = len(h.entries) - 1
	}
}
