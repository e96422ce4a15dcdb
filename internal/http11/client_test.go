package http11

import (
	"context"
	"log"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/castbeam/castbeam/internal/logging"
)

func startTestServer(t *testing.T, handler Handler) (*Client, func()) {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	testLog := logging.NewWithOutput("client-test", log.Default())
	srv := NewServer(handler, testLog)
	go srv.Serve(listener)

	addr := listener.Addr().(*net.TCPAddr)
	client := NewClient("127.0.0.1", addr.Port, testLog)
	return client, func() {
		client.Close()
		srv.Close()
	}
}

func TestClientCookieJarAcrossRequests(t *testing.T) {
	var sawCookie string
	handler := func(req *Request) *Response {
		resp := req.MakeResponse()
		switch req.Path {
		case "/login":
			resp.Header().Set("Set-Cookie", "abc=123; Path=/; Domain=example.com")
		case "/second":
			resp.Header().Set("Set-Cookie", "def=456")
		default:
			sawCookie = req.Header().GetDefault("Cookie", "")
		}
		resp.Body().ContentType = "text/plain"
		resp.Body().AddContent([]byte("ok"))
		return resp
	}
	client, closeFn := startTestServer(t, handler)
	defer closeFn()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for _, path := range []string{"/login", "/second", "/"} {
		if _, err := client.Request(ctx, path, nil); err != nil {
			t.Fatalf("Request %s: %v", path, err)
		}
	}

	if sawCookie != "abc=123; def=456" {
		t.Fatalf("Cookie header = %q, want %q", sawCookie, "abc=123; def=456")
	}
	if client.Cookies.Len() != 2 {
		t.Fatalf("jar holds %d cookies, want 2", client.Cookies.Len())
	}
}

func TestClientMultipartRangeRequest(t *testing.T) {
	source := make([]byte, 1000)
	for i := range source {
		source[i] = byte('a' + i%26)
	}
	handler := func(req *Request) *Response {
		resp := req.MakeResponse()
		resp.Body().ContentType = "video/mp4"
		resp.Body().AddContent(source)
		return resp
	}
	client, closeFn := startTestServer(t, handler)
	defer closeFn()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	start1, end1 := int64(0), int64(9)
	start2 := int64(990)
	req := NewRequest("GET", "/movie.mp4")
	req.AddRange(&start1, &end1)
	req.AddRange(&start2, nil)

	resp, err := client.SendRequest(ctx, req)
	if err != nil {
		t.Fatalf("SendRequest: %v", err)
	}
	if resp.Code != 206 {
		t.Fatalf("Code = %d, want 206", resp.Code)
	}
	ct, _ := resp.Header().Get("Content-Type")
	if !strings.HasPrefix(ct, "multipart/byteranges; boundary="+rangeBoundary) {
		t.Fatalf("Content-Type = %q", ct)
	}

	body, err := resp.Body().Content()
	if err != nil {
		t.Fatalf("Content: %v", err)
	}
	if !strings.HasSuffix(string(body), "--"+rangeBoundary+"--\r\n") {
		t.Fatalf("body does not end with the closing boundary: ...%q", body[len(body)-40:])
	}

	decoded, err := resp.Body().DecodedContent()
	if err != nil {
		t.Fatalf("DecodedContent: %v", err)
	}
	parts, ok := decoded.([]map[string]string)
	if !ok {
		t.Fatalf("decoded %T, want part list", decoded)
	}
	if len(parts) != 2 {
		t.Fatalf("got %d parts, want 2", len(parts))
	}
	for i, part := range parts {
		if part["Content-Range"] == "" {
			t.Fatalf("part %d missing Content-Range: %#v", i, part)
		}
	}
	if got := parts[0]["content"]; got != string(source[0:10]) {
		t.Fatalf("part 0 content = %q, want %q", got, source[0:10])
	}
	if got := parts[1]["content"]; got != string(source[990:]) {
		t.Fatalf("part 1 content = %q, want %q", got, source[990:])
	}
}

func TestClientSuffixRangeRequest(t *testing.T) {
	source := []byte("0123456789")
	handler := func(req *Request) *Response {
		resp := req.MakeResponse()
		resp.Body().ContentType = "text/plain"
		resp.Body().AddContent(source)
		return resp
	}
	client, closeFn := startTestServer(t, handler)
	defer closeFn()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	end := int64(-3)
	req := NewRequest("GET", "/tail")
	req.AddRange(nil, &end)
	resp, err := client.SendRequest(ctx, req)
	if err != nil {
		t.Fatalf("SendRequest: %v", err)
	}
	if resp.Code != 206 {
		t.Fatalf("Code = %d, want 206", resp.Code)
	}
	if cr, _ := resp.Header().Get("Content-Range"); cr != "bytes 7-9/10" {
		t.Fatalf("Content-Range = %q", cr)
	}
	body, _ := resp.Body().Content()
	if string(body) != "789" {
		t.Fatalf("body = %q, want %q", body, "789")
	}
}

func TestClientUnsatisfiableRangeGets416(t *testing.T) {
	handler := func(req *Request) *Response {
		resp := req.MakeResponse()
		resp.Body().ContentType = "text/plain"
		resp.Body().AddContent([]byte("short"))
		return resp
	}
	client, closeFn := startTestServer(t, handler)
	defer closeFn()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	start := int64(5000)
	req := NewRequest("GET", "/short")
	req.AddRange(&start, nil)
	resp, err := client.SendRequest(ctx, req)
	if err != nil {
		t.Fatalf("SendRequest: %v", err)
	}
	if resp.Code != 416 {
		t.Fatalf("Code = %d, want 416", resp.Code)
	}
}

func TestClientKeepAliveReusesConnection(t *testing.T) {
	handler := func(req *Request) *Response {
		resp := req.MakeResponse()
		resp.Body().ContentType = "text/plain"
		resp.Body().AddContent([]byte(req.Path))
		return resp
	}
	client, closeFn := startTestServer(t, handler)
	defer closeFn()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var firstLocal net.Addr
	for i, path := range []string{"/a", "/b", "/c"} {
		resp, err := client.Request(ctx, path, nil)
		if err != nil {
			t.Fatalf("Request %s: %v", path, err)
		}
		body, _ := resp.Body().Content()
		if string(body) != path {
			t.Fatalf("body = %q, want %q", body, path)
		}
		if i == 0 {
			firstLocal = client.conn.LocalAddr()
		} else if client.conn.LocalAddr().String() != firstLocal.String() {
			t.Fatal("expected the same connection to be reused across keep-alive requests")
		}
	}
}
