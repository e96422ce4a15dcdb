package http11

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// rangeRe splits a "bytes=0-499,1000-1499" value into its comma-separated
// start/end pairs. Grounded on atavism's BaseHttp.RANGE_re.
var rangeRe = regexp.MustCompile(`([0-9]+)?-([0-9]+)?,?`)

// ByteRange is one range-spec from a Range: header (RFC 7233 §2.1). A nil
// Start or End means "unspecified": Start nil + End set means "last End
// bytes" (a suffix range); End nil means "to the end of the resource".
type ByteRange struct {
	Start *int64
	End   *int64
}

// ParseByteRange builds a ByteRange from the raw start/end strings matched
// out of a Range header, mirroring atavism's Range.__init__: an end given
// with no start is stored as its negation, marking a suffix range.
func ParseByteRange(startStr, endStr string) (ByteRange, error) {
	var r ByteRange
	if startStr != "" {
		v, err := strconv.ParseInt(startStr, 10, 64)
		if err != nil {
			return r, fmt.Errorf("http11: bad range start %q: %w", startStr, err)
		}
		r.Start = &v
	}
	if endStr != "" {
		v, err := strconv.ParseInt(endStr, 10, 64)
		if err != nil {
			return r, fmt.Errorf("http11: bad range end %q: %w", endStr, err)
		}
		r.End = &v
	}
	if r.Start == nil && r.End != nil && *r.End > 0 {
		neg := -*r.End
		r.End = &neg
	}
	return r, nil
}

// ParseRangeHeader splits a full "Range: bytes=..." value into its
// constituent ByteRanges. Returns nil, nil if value is absent, "none", or
// does not start with "bytes=" (matching atavism's parse_ranges).
func ParseRangeHeader(value string) ([]ByteRange, error) {
	if value == "" || strings.EqualFold(value, "none") {
		return nil, nil
	}
	if !strings.HasPrefix(value, "bytes=") {
		return nil, nil
	}
	var ranges []ByteRange
	for _, m := range rangeRe.FindAllStringSubmatch(value[len("bytes="):], -1) {
		if m[1] == "" && m[2] == "" {
			continue
		}
		r, err := ParseByteRange(m[1], m[2])
		if err != nil {
			return nil, err
		}
		ranges = append(ranges, r)
	}
	return ranges, nil
}

// Len returns the byte count this range spans, given the full content
// length cl (used when Start is set but End is not).
func (r ByteRange) Len(cl int64) int64 {
	switch {
	case r.Start == nil && r.End != nil:
		return -*r.End
	case r.End == nil:
		return cl - *r.Start
	default:
		return *r.End - *r.Start + 1
	}
}

// HeaderValue renders the range as it would appear inside a Range header's
// comma-separated list (without the leading "bytes=").
func (r ByteRange) HeaderValue() string {
	var b strings.Builder
	if r.Start != nil {
		fmt.Fprintf(&b, "%d-", *r.Start)
	}
	if r.End != nil {
		fmt.Fprintf(&b, "%d", *r.End)
	}
	return b.String()
}

// Absolutes resolves Start/End against a known content length clen into a
// concrete [start, end] inclusive byte span.
func (r ByteRange) Absolutes(clen int64) (start, end int64) {
	if r.Start == nil {
		if r.End != nil && *r.End < 0 {
			return clen + *r.End, clen - 1
		}
		start = 0
	} else {
		start = *r.Start
	}
	// An absent End means "to the end of the resource": atavism's absolutes
	// leaves end at clen here, which is one past the last valid index (its
	// next() relies on Python slicing to silently clamp that back down).
	// Go's ReadAt has no such forgiveness, so this port clamps explicitly
	// to keep the invariant 0 <= start <= end < clen that CreateRangedOutput
	// depends on.
	end = clen - 1
	if r.End != nil {
		if *r.End < 0 {
			end = clen + *r.End - 1
		} else {
			end = *r.End
		}
	}
	if end < start {
		end = start
	}
	if end > clen-1 {
		end = clen - 1
	}
	return start, end
}

// AbsoluteRangeValue renders the "start-end/total" body of a Content-Range
// header (the caller prefixes "bytes ").
func (r ByteRange) AbsoluteRangeValue(clen int64) string {
	start, end := r.Absolutes(clen)
	return fmt.Sprintf("%d-%d/%d", start, end, clen)
}

// Satisfiable reports whether the range falls within a resource of length
// clen, used to decide between 206 Partial Content and 416 Range Not
// Satisfiable.
func (r ByteRange) Satisfiable(clen int64) bool {
	if r.End != nil {
		if *r.End < 0 {
			return clen >= -*r.End
		}
		return *r.End < clen || r.Start != nil
	}
	if r.Start != nil {
		return *r.Start < clen
	}
	return false
}
