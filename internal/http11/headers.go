// Package http11 is a hand-rolled HTTP/1.1 client and server engine: no
// net/http anywhere in its call graph. It owns its own header framing,
// body state machine (chunked transfer, gzip/deflate/br content coding,
// byte-range and multipart/byteranges), cookie jar, and connection loop.
//
// Grounded throughout on original_source/atavism/http11/*.py, the Python
// implementation this package generalizes, rendered in the teacher's
// low-level byte-buffer style (its deleted internal/hdhomerun/packet.go)
// rather than transliterated.
package http11

import (
	"bytes"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// crlf and the header/body separator, matching RFC 7230 §3.
var (
	crlf = []byte("\r\n")
	eoh  = []byte("\r\n\r\n")
)

// Headers holds a request or status line plus a set of header fields,
// looked up case-insensitively. Grounded on atavism's Headers class
// (http11/headers.py), including its quirk of rendering output with a
// fresh Date header and fields sorted by key.
type Headers struct {
	StatusLine string

	keys   []string // insertion order, original case, for predictable iteration
	values map[string]string
	lookup map[string]string // lowercased key -> original-case key
}

// NewHeaders returns an empty Headers, optionally with a request/status line.
func NewHeaders(statusLine string) *Headers {
	return &Headers{
		StatusLine: statusLine,
		values:     make(map[string]string),
		lookup:     make(map[string]string),
	}
}

// Set adds or replaces a header field.
func (h *Headers) Set(key, value string) {
	lower := strings.ToLower(key)
	if existing, ok := h.lookup[lower]; ok {
		h.values[existing] = value
		return
	}
	h.lookup[lower] = key
	h.keys = append(h.keys, key)
	h.values[key] = value
}

// SetAll merges every entry of m into the header set.
func (h *Headers) SetAll(m map[string]string) {
	for k, v := range m {
		h.Set(k, v)
	}
}

// Get returns a header value by case-insensitive key.
func (h *Headers) Get(key string) (string, bool) {
	canonical, ok := h.lookup[strings.ToLower(key)]
	if !ok {
		return "", false
	}
	return h.values[canonical], true
}

// GetDefault returns the header value, or def if absent.
func (h *Headers) GetDefault(key, def string) string {
	if v, ok := h.Get(key); ok {
		return v
	}
	return def
}

// GetInt returns a header value parsed as an integer, matching atavism's
// get(), which coerces any all-digit value to int automatically.
func (h *Headers) GetInt(key string) (int, bool) {
	v, ok := h.Get(key)
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, false
	}
	return n, true
}

// Has reports whether key is present, case-insensitively.
func (h *Headers) Has(key string) bool {
	_, ok := h.lookup[strings.ToLower(key)]
	return ok
}

// String renders the status/request line followed by headers sorted by
// key (a freshly stamped Date header among them), and the blank line that
// ends an HTTP header block. Matches atavism's __str__, which always stamps a fresh
// Date on render.
func (h *Headers) String() string {
	h.Set("Date", time.Now().UTC().Format("Mon, 02 Jan 2006 15:04:05 GMT"))

	var lines []string
	if h.StatusLine != "" {
		lines = append(lines, h.StatusLine)
	}

	sortedKeys := append([]string(nil), h.keys...)
	sort.Strings(sortedKeys)
	for _, k := range sortedKeys {
		lines = append(lines, fmt.Sprintf("%s: %s", k, h.values[k]))
	}
	return strings.Join(lines, "\r\n") + "\r\n\r\n"
}

// headerReader accumulates stream bytes until a full CRLF-CRLF-terminated
// header block is available, then parses it. Mirrors atavism's
// read_content/parse_headers split: feeding is incremental (a socket read
// rarely lands exactly on the boundary) while parsing happens once, in one
// pass, when the terminator is found.
type headerReader struct {
	buf      bytes.Buffer
	finished bool
}

// Feed appends data to the internal buffer and reports how many bytes of
// data were consumed by header parsing. Once the CRLFCRLF terminator is
// found, any remaining bytes in data belong to the body and are not
// consumed.
func (r *headerReader) Feed(data []byte) (consumed int, done bool) {
	if r.finished {
		return 0, true
	}

	if r.buf.Len() == 0 {
		if idx := bytes.Index(data, eoh); idx >= 0 {
			r.buf.Write(data[:idx])
			r.finished = true
			return idx + len(eoh), true
		}
		r.buf.Write(data)
		return len(data), false
	}

	// Bytes already buffered: the terminator might straddle the previous
	// buffer's tail and this chunk's head, so search the combined block.
	priorLen := r.buf.Len()
	r.buf.Write(data)
	full := r.buf.Bytes()
	if idx := bytes.Index(full, eoh); idx >= 0 {
		r.buf.Truncate(idx)
		r.finished = true
		return idx - priorLen + len(eoh), true
	}
	return len(data), false
}

// Parse renders the accumulated header block into a Headers value. Must
// only be called after Feed reports done=true.
func (r *headerReader) Parse() (*Headers, error) {
	if !r.finished {
		return nil, fmt.Errorf("http11: header block incomplete")
	}
	lines := bytes.Split(r.buf.Bytes(), crlf)
	if len(lines) == 0 {
		return nil, fmt.Errorf("http11: empty header block")
	}

	h := NewHeaders(string(lines[0]))
	for _, line := range lines[1:] {
		idx := bytes.IndexByte(line, ':')
		if idx < 0 {
			if len(line) > 0 {
				return nil, fmt.Errorf("http11: malformed header line %q", line)
			}
			continue
		}
		key := string(line[:idx])
		value := strings.TrimSpace(string(line[idx+1:]))
		h.Set(key, value)
	}
	return h, nil
}
