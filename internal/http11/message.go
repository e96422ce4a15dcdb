package http11

import (
	"fmt"
	"strings"
)

// message is the shared machinery behind Request and Response: a header
// block, a body, parsed byte ranges, and the bookkeeping needed to read
// one off a stream incrementally or write one out in MAX_SEND-sized
// fragments. Grounded on atavism's BaseHttp (http11/base.py).
type message struct {
	Proto string // "HTTP/1.1"

	header       *Headers
	body         *Body
	ranges       []ByteRange
	headerReader headerReader
	headerDone   bool
	headersSent  bool
	headersOnly  bool
	closeConn    bool
}

func newMessageBase() message {
	return message{
		Proto:  "HTTP/1.1",
		header: NewHeaders(""),
		body:   NewBody(),
	}
}

// Header exposes the underlying Headers value.
func (m *message) Header() *Headers { return m.header }

// Body exposes the underlying Body value.
func (m *message) Body() *Body { return m.body }

// Ranges returns the request's parsed byte ranges, if any were present.
func (m *message) Ranges() []ByteRange { return m.ranges }

// SetBody replaces the message's body wholesale (e.g. to swap in a
// file-backed body, or the ranged output CreateRangedOutput produced).
func (m *message) SetBody(b *Body) { m.body = b }

// HasRanges reports whether a Range header was parsed.
func (m *message) HasRanges() bool { return len(m.ranges) > 0 }

// CloseConnection reports whether this message asked the connection to
// close after it completes (Connection: close).
func (m *message) CloseConnection() bool { return m.closeConn }

// IsComplete reports whether the full header block and body have been
// read off the stream.
func (m *message) IsComplete() bool { return m.headerDone && m.body.Finished }

// SendComplete reports whether the full header block and body have been
// written to the stream.
func (m *message) SendComplete() bool { return m.headersSent && m.body.Finished }

// ReadContent feeds stream bytes into the header parser and then the body,
// returning how many bytes were consumed. Grounded on
// BaseHttp.read_content/​_update_content.
func (m *message) ReadContent(data []byte) (int, error) {
	consumed := 0
	if !m.headerDone {
		n, done := m.headerReader.Feed(data)
		consumed = n
		if done {
			h, err := m.headerReader.Parse()
			if err != nil {
				return consumed, err
			}
			m.header = h
			m.headerDone = true
			if err := m.applyHeaderMetadata(); err != nil {
				return consumed, err
			}
		}
	}
	n, err := m.body.ReadContent(data[consumed:])
	consumed += n
	return consumed, err
}

// applyHeaderMetadata mirrors BaseHttp._update_content: once headers are
// known, propagate Content-Type/Length, chunking, content-coding, parsed
// ranges, and Connection: close onto the body/message state.
func (m *message) applyHeaderMetadata() error {
	m.body.ContentType, _ = m.header.Get("Content-Type")
	if ct, ok := m.header.Get("Content-Type"); ok && strings.Contains(ct, ";") {
		parts := strings.SplitN(ct, ";", 2)
		m.body.ContentType = strings.TrimSpace(parts[0])
		m.body.Charset = strings.TrimSpace(strings.Replace(strings.TrimSpace(parts[1]), "charset=", "", 1))
	}
	if cl, ok := m.header.GetInt("Content-Length"); ok {
		m.body.ContentLength = int64(cl)
	}

	if rv, ok := m.header.Get("Range"); ok {
		ranges, err := ParseRangeHeader(rv)
		if err != nil {
			return err
		}
		m.ranges = ranges
	}

	if te, ok := m.header.Get("Transfer-Encoding"); ok && strings.EqualFold(te, "chunked") {
		m.body.Chunked = true
	}

	if ce, ok := m.header.Get("Content-Encoding"); ok && !strings.EqualFold(ce, "identity") {
		m.body.SetCompression(strings.ToLower(ce))
	}

	if conn, ok := m.header.Get("Connection"); ok && strings.EqualFold(conn, "close") {
		m.closeConn = true
	}
	return nil
}

// Complete finalizes an outbound message: applies any pending compression
// and copies the body's derived headers (Content-Type,
// Content-Length/Transfer-Encoding, Content-Encoding) onto the header
// block. Grounded on BaseHttp._complete, with one correction: atavism's
// _complete also sets self._content.finished = True at this point, which
// is harmless there only because Content.next() (see Body.Next's doc
// comment) always returns the entire body in a single call regardless of
// size, so "finished" and "fully sent" happen to coincide. Once fragments
// are properly capped at maxSend, forcing Finished here would make
// SendComplete() true after the very first partial fragment — truncating
// every multi-fragment response. Finished is left for Body.Next to set
// once sendPos actually reaches the body's length.
func (m *message) Complete() error {
	if err := m.body.Compress(); err != nil {
		return fmt.Errorf("http11: compress body: %w", err)
	}
	m.header.SetAll(m.body.HeaderLines())
	return nil
}

// NextOutput returns the next fragment to write to the connection: the
// full header block (once), then body fragments until the body is
// finished.
func (m *message) NextOutput() ([]byte, error) {
	var out []byte
	if !m.headersSent {
		out = append(out, []byte(m.header.String())...)
		m.headersSent = true
	}
	if m.headersOnly {
		m.body.Finished = true
		return out, nil
	}
	chunk, err := m.body.Next(len(out))
	if err != nil {
		return out, err
	}
	return append(out, chunk...), nil
}
