package http11

import (
	"fmt"
	"strings"
)

// statusMsg maps status codes to their reason phrase. Grounded on
// atavism's HttpResponse.STATUS_MSG; castbeam rounds it out with the
// additional codes the Castlink/AppleTV control surfaces can produce.
var statusMsg = map[int]string{
	200: "OK",
	204: "No Content",
	206: "Partial Content",
	301: "Moved permanently",
	304: "Not Modified",
	400: "Bad Request",
	401: "Unauthorised",
	402: "Payment required",
	403: "Forbidden",
	404: "Not found",
	405: "Method not allowed",
	416: "Requested range not satisfiable",
	500: "Internal Server Error",
	501: "Not Implemented",
	503: "Service Unavailable",
}

// StatusMsg returns the reason phrase for code, or a generic fallback.
func StatusMsg(code int) string {
	if m, ok := statusMsg[code]; ok {
		return m
	}
	return fmt.Sprintf("Unknown status! %d", code)
}

// Response is an HTTP/1.1 response. Grounded on atavism's HttpResponse.
type Response struct {
	message

	Code int
}

// NewResponse builds an outbound response with the given status code.
func NewResponse(code int) *Response {
	return &Response{message: newMessageBase(), Code: code}
}

// ReadResponse parses a Response incrementally off a stream buffer.
func ReadResponse(r *Response, data []byte) (int, error) {
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
		if len(parts) < 2 {
			return n, fmt.Errorf("http11: malformed status line %q", r.header.StatusLine)
		}
		r.Proto = parts[0]
		code := 0
		fmt.Sscanf(parts[1], "%d", &code)
		r.Code = code
	}
	return n, nil
}

// SetCode sets the response's status code, clearing ranges for an error
// response and demoting a spurious 206 with no ranges back to 200 —
// matching atavism's HttpResponse.set_code.
func (r *Response) SetCode(code int) {
	r.Code = code
	if code >= 400 {
		r.ranges = nil
	} else if code == 206 && len(r.ranges) == 0 {
		r.Code = 200
	}
}

// checkRanges demotes the response to 416 if any requested range falls
// outside the body's actual length, matching atavism's
// HttpResponse.check_ranges, and empties the body (a 416 carries none).
func (r *Response) checkRanges() {
	clen := r.body.Len()
	for _, rg := range r.ranges {
		start, end := rg.Absolutes(clen)
		if (start > 0 && start >= clen) || (start > end && end >= clen) {
			r.SetCode(416)
			r.body = NewBody()
			return
		}
	}
}

// Complete finalizes the response: validates any requested ranges
// (promoting to 206 or demoting to 416), slices the body into its ranged
// form, renders the status line, and completes the body/headers.
func (r *Response) Complete() error {
	if len(r.ranges) > 0 {
		r.checkRanges()
		if r.Code == 200 {
			r.Code = 206
		}
	}

	hdrs, ranged, err := r.body.CreateRangedOutput(r.ranges)
	if err != nil {
		return fmt.Errorf("http11: build ranged output: %w", err)
	}
	if ranged != nil {
		r.body = ranged
	}
	r.header.SetAll(hdrs)
	r.header.StatusLine = fmt.Sprintf("HTTP/1.1 %d %s", r.Code, StatusMsg(r.Code))
	return r.message.Complete()
}
