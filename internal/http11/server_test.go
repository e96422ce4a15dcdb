package http11

import (
	"bytes"
	"context"
	"log"
	"net"
	"testing"
	"time"

	"github.com/castbeam/castbeam/internal/logging"
)

func TestServerClientRoundTrip(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	testLog := logging.NewWithOutput("http11-test", log.Default())

	handler := func(req *Request) *Response {
		resp := req.MakeResponse()
		resp.Body().ContentType = "text/plain"
		resp.Body().AddContent([]byte("hello, " + req.Path))
		return resp
	}
	srv := NewServer(handler, testLog)
	go srv.Serve(listener)
	defer srv.Close()

	addr := listener.Addr().(*net.TCPAddr)
	client := NewClient("127.0.0.1", addr.Port, testLog)
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := client.Request(ctx, "/world", nil)
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if resp.Code != 200 {
		t.Fatalf("got code %d", resp.Code)
	}
	content, err := resp.Body().Content()
	if err != nil {
		t.Fatalf("Content: %v", err)
	}
	if string(content) != "hello, /world" {
		t.Fatalf("got %q", content)
	}
}

// TestServerClientRoundTripLargeBody guards against a regression where a
// body larger than one maxSend fragment got truncated to the first
// fragment: Complete() used to mark the body Finished before any bytes
// were actually written, making SendComplete() (and thus IsComplete() on
// the receiving side) report true far too early.
func TestServerClientRoundTripLargeBody(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	testLog := logging.NewWithOutput("http11-test", log.Default())

	want := bytes.Repeat([]byte("segment-data-"), maxSend)
	handler := func(req *Request) *Response {
		resp := req.MakeResponse()
		resp.Body().ContentType = "application/octet-stream"
		resp.Body().AddContent(want)
		return resp
	}
	srv := NewServer(handler, testLog)
	go srv.Serve(listener)
	defer srv.Close()

	addr := listener.Addr().(*net.TCPAddr)
	client := NewClient("127.0.0.1", addr.Port, testLog)
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := client.Request(ctx, "/segment", nil)
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if resp.Code != 200 {
		t.Fatalf("got code %d", resp.Code)
	}
	got, err := resp.Body().Content()
	if err != nil {
		t.Fatalf("Content: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("got %d bytes, want %d bytes (truncated: %v)", len(got), len(want), len(got) < len(want))
	}
}

func TestServerClientPostTextParameters(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	testLog := logging.NewWithOutput("http11-test", log.Default())

	var gotParams map[string]string
	handler := func(req *Request) *Response {
		decoded, err := req.Body().DecodedContent()
		if err == nil {
			gotParams, _ = decoded.(map[string]string)
		}
		resp := req.MakeResponse()
		resp.Body().ContentType = "text/plain"
		resp.Body().AddContent([]byte("ok"))
		return resp
	}
	srv := NewServer(handler, testLog)
	go srv.Serve(listener)
	defer srv.Close()

	addr := listener.Addr().(*net.TCPAddr)
	client := NewClient("127.0.0.1", addr.Port, testLog)
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := client.PostData(ctx, "/scrub", nil, map[string]string{"position": "42.0"}, "text/parameters")
	if err != nil {
		t.Fatalf("PostData: %v", err)
	}
	if resp.Code != 200 {
		t.Fatalf("got code %d", resp.Code)
	}
	if gotParams["position"] != "42.0" {
		t.Fatalf("got params %#v", gotParams)
	}
}
