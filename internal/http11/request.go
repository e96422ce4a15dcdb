package http11

import (
	"fmt"
	"strings"
)

// Request is an HTTP/1.1 request, usable from either the client or server
// side of the engine. Grounded on atavism's HttpRequest (http11/objects.py).
type Request struct {
	message

	Method string
	Path   string
}

// NewRequest builds an outbound request for method/path.
func NewRequest(method, path string) *Request {
	if method == "" {
		method = "GET"
	}
	return &Request{message: newMessageBase(), Method: method, Path: path}
}

// ReadRequest parses a Request incrementally off a stream buffer, feeding
// whatever is available so far. Call repeatedly (with each newly read
// chunk) until IsComplete() is true.
func ReadRequest(r *Request, data []byte) (int, error) {
	if len(data) == 0 {
		return 0, nil
	}
	wasHeaderDone := r.headerDone
	n, err := r.ReadContent(data)
	if err != nil {
		return n, err
	}
	if !wasHeaderDone && r.headerDone {
		parts := strings.SplitN(r.header.StatusLine, " ", 3)
		if len(parts) != 3 {
			return n, fmt.Errorf("http11: malformed request line %q", r.header.StatusLine)
		}
		r.Method, r.Path, r.Proto = parts[0], parts[1], parts[2]
	}
	return n, nil
}

// AddRange appends a byte range to be requested via the Range header.
func (r *Request) AddRange(start, end *int64) {
	if start == nil && end == nil {
		return
	}
	r.ranges = append(r.ranges, ByteRange{Start: start, End: end})
}

// Complete finalizes the request: renders any accumulated ranges into a
// Range header, sets the request line, and completes the body/headers.
func (r *Request) Complete() error {
	if len(r.ranges) > 0 {
		parts := make([]string, len(r.ranges))
		for i, rg := range r.ranges {
			parts[i] = rg.HeaderValue()
		}
		r.header.Set("Range", "bytes="+strings.Join(parts, ","))
	}
	r.header.StatusLine = fmt.Sprintf("%s %s %s", strings.ToUpper(r.Method), r.Path, r.Proto)
	return r.message.Complete()
}

// MakeResponse returns a Response pre-populated from this request's
// connection/range/compression negotiation state — close_connection and
// ranges carry over, HEAD implies headers-only, and Accept-Encoding
// containing "gzip" requests a gzip-compressed body.
func (r *Request) MakeResponse() *Response {
	resp := NewResponse(200)
	resp.closeConn = r.closeConn
	resp.ranges = r.ranges
	if strings.EqualFold(r.Method, "HEAD") {
		resp.headersOnly = true
	}
	if ae, ok := r.header.Get("Accept-Encoding"); ok && strings.Contains(ae, "gzip") {
		resp.body.SetCompression("gzip")
	}
	return resp
}
