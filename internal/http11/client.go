package http11

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/castbeam/castbeam/internal/logging"
)

// ClientError reports a client-side failure to send a request or obtain a
// response (connection refused, timed out, or the socket closing mid-
// response). Grounded on atavism's HttpClientError.
type ClientError struct{ msg string }

func (e *ClientError) Error() string { return e.msg }

func newClientError(format string, args ...interface{}) error {
	return &ClientError{msg: fmt.Sprintf(format, args...)}
}

const (
	connectTimeout = 5 * time.Second
	readTimeout    = 30 * time.Second
	recvBufSize    = 2048
	userAgent      = "castbeam/1"
)

// Client is a keep-alive HTTP/1.1 client built entirely on this package's
// own Request/Response/Body types — no net/http anywhere in its call
// graph. Grounded on atavism's HttpClient (http11/client.py); the
// select()-based send/receive loop becomes a single goroutine doing
// blocking reads/writes under a deadline, since Go's net.Conn already
// gives per-call timeouts without needing select.
type Client struct {
	host string
	port int

	conn    net.Conn
	recvBuf []byte

	Cookies   *CookieJar
	UserAgent string
	Timeout   time.Duration

	guard *callGuard
	log   *logging.Logger
}

// NewClient returns a Client targeting host:port. No connection is made
// until the first request.
func NewClient(host string, port int, log *logging.Logger) *Client {
	return &Client{
		host:      host,
		port:      port,
		Cookies:   NewCookieJar(),
		UserAgent: userAgent,
		Timeout:   readTimeout,
		guard:     newCallGuard(),
		log:       log,
	}
}

// HostHeader renders the Host header value, omitting the port when it is
// the HTTP default.
func (c *Client) HostHeader() string {
	if c.port == 80 {
		return c.host
	}
	return fmt.Sprintf("%s:%d", c.host, c.port)
}

// Close releases the underlying connection, if any.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	c.recvBuf = nil
	return err
}

// Get issues a simple GET and returns the decoded body content, matching
// atavism's simple_request.
func (c *Client) Get(ctx context.Context, uri string, query map[string]string) (interface{}, error) {
	resp, err := c.Request(ctx, uri, query)
	if err != nil {
		return nil, err
	}
	return resp.Body().DecodedContent()
}

// Request issues a GET for uri (with optional query parameters) and
// returns the raw Response.
func (c *Client) Request(ctx context.Context, uri string, query map[string]string) (*Response, error) {
	req, err := c.createRequest("GET", uri, query, nil)
	if err != nil {
		return nil, err
	}
	return c.SendRequest(ctx, req)
}

// PostData issues a POST of data to uri. If contentType is "", it
// defaults to application/x-www-form-urlencoded when data is non-empty.
// "text/parameters" data is rendered as "key: value\r\n" lines (the
// AirPlay/Castlink convention); any other content type sends data's
// values URL-encoded, matching atavism's post_data.
func (c *Client) PostData(ctx context.Context, uri string, query map[string]string, data map[string]string, contentType string) (*Response, error) {
	if contentType == "" && len(data) > 0 {
		contentType = "application/x-www-form-urlencoded"
	}

	var body []byte
	switch {
	case len(data) == 0:
		body = nil
	case contentType == "text/parameters":
		var b strings.Builder
		for k, v := range data {
			fmt.Fprintf(&b, "%s: %s\r\n", k, v)
		}
		body = []byte(b.String())
	default:
		vals := url.Values{}
		for k, v := range data {
			vals.Set(k, v)
		}
		body = []byte(vals.Encode())
	}

	hdrs := map[string]string{}
	if contentType != "" {
		hdrs["Content-Type"] = contentType
	}
	req, err := c.createRequest("POST", uri, query, hdrs)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Body().AddContent(body)
	}
	return c.SendRequest(ctx, req)
}

func (c *Client) createRequest(method, uri string, query map[string]string, hdrs map[string]string) (*Request, error) {
	path, err := buildPath(uri, query)
	if err != nil {
		return nil, err
	}
	req := NewRequest(method, path)
	req.Header().SetAll(hdrs)
	if cookies := c.Cookies.CookiesFor(uri); cookies != "" {
		req.Header().Set("Cookie", cookies)
	}
	return req, nil
}

func buildPath(path string, query map[string]string) (string, error) {
	if path == "" {
		path = "/"
	}
	u := &url.URL{Path: path}
	encoded := u.EscapedPath()
	if len(query) == 0 {
		return encoded, nil
	}
	vals := url.Values{}
	for k, v := range query {
		vals.Set(k, v)
	}
	sep := "?"
	if strings.Contains(encoded, "?") {
		sep = ""
	}
	return encoded + sep + vals.Encode(), nil
}

// SendRequest completes and transmits req over a (possibly newly dialed)
// connection, then reads and returns the Response.
func (c *Client) SendRequest(ctx context.Context, req *Request) (*Response, error) {
	release := c.guard.acquire()
	defer release()

	req.Header().SetAll(map[string]string{
		"Host":            c.HostHeader(),
		"Accept-Encoding": "identity, gzip",
	})
	if c.UserAgent != "" {
		req.Header().Set("User-Agent", c.UserAgent)
	}
	if err := req.Complete(); err != nil {
		return nil, fmt.Errorf("http11: complete request: %w", err)
	}

	return c.processRequest(ctx, req, false)
}

func (c *Client) processRequest(ctx context.Context, req *Request, retried bool) (*Response, error) {
	if err := c.ensureConn(ctx); err != nil {
		return nil, err
	}

	deadline, hasDeadline := ctx.Deadline()
	if !hasDeadline {
		deadline = time.Now().Add(c.Timeout)
	}

	for !req.SendComplete() {
		data, err := req.NextOutput()
		if err != nil {
			return nil, fmt.Errorf("http11: render request: %w", err)
		}
		if len(data) == 0 {
			break
		}
		c.conn.SetWriteDeadline(deadline)
		if _, err := c.conn.Write(data); err != nil {
			c.Close()
			if !retried {
				return c.processRequest(ctx, req, true)
			}
			return nil, newClientError("write failed: %v", err)
		}
	}
	if !req.SendComplete() {
		return nil, newClientError("unable to send the request")
	}

	resp := NewResponse(0)
	buf := make([]byte, 0, len(c.recvBuf))
	buf = append(buf, c.recvBuf...)
	c.recvBuf = nil

	if len(buf) > 0 {
		n, err := ReadResponse(resp, buf)
		if err != nil {
			return nil, fmt.Errorf("http11: parse response: %w", err)
		}
		buf = buf[n:]
	}

	readBuf := make([]byte, recvBufSize)
	for !resp.IsComplete() {
		c.conn.SetReadDeadline(deadline)
		n, err := c.conn.Read(readBuf)
		if n == 0 {
			if err != nil {
				c.Close()
			}
			break
		}
		buf = append(buf, readBuf[:n]...)
		consumed, perr := ReadResponse(resp, buf)
		if perr != nil {
			return nil, fmt.Errorf("http11: parse response: %w", perr)
		}
		buf = buf[consumed:]
	}

	if !resp.IsComplete() {
		return nil, newClientError("no response received from remote server")
	}

	c.recvBuf = buf
	if setCookie, ok := resp.Header().Get("Set-Cookie"); ok {
		if err := c.Cookies.CheckSetCookies([]string{setCookie}); err != nil {
			c.log.Warnf("bad Set-Cookie: %v", err)
		}
	}
	if resp.CloseConnection() {
		c.Close()
	}
	return resp, nil
}

func (c *Client) ensureConn(ctx context.Context) error {
	if c.conn != nil {
		return nil
	}
	dialer := net.Dialer{Timeout: connectTimeout, KeepAlive: 30 * time.Second}
	conn, err := dialer.DialContext(ctx, "tcp", fmt.Sprintf("%s:%d", c.host, c.port))
	if err != nil {
		return newClientError("attempt to connect to %s:%d failed: %v", c.host, c.port, err)
	}
	c.conn = conn
	return nil
}
