package streamserver

import (
	"context"
	"log"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/castbeam/castbeam/internal/http11"
	"github.com/castbeam/castbeam/internal/logging"
)

func startServer(t *testing.T, segmentDir string) (*http11.Client, func()) {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	testLog := logging.NewWithOutput("streamserver-test", log.Default())
	srv := http11.NewServer(New(segmentDir, testLog), testLog)
	go srv.Serve(listener)

	addr := listener.Addr().(*net.TCPAddr)
	client := http11.NewClient("127.0.0.1", addr.Port, testLog)
	return client, func() {
		client.Close()
		srv.Close()
	}
}

func TestServeFileReturnsPlaylist(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "index.m3u8"), []byte("#EXTM3U\n"), 0644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	client, closeFn := startServer(t, dir)
	defer closeFn()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	resp, err := client.Request(ctx, "/index.m3u8", nil)
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if resp.Code != 200 {
		t.Fatalf("Code = %d, want 200", resp.Code)
	}
	body, err := resp.Body().Content()
	if err != nil {
		t.Fatalf("Content: %v", err)
	}
	if string(body) != "#EXTM3U\n" {
		t.Errorf("body = %q", body)
	}
}

func TestServeFileMissingReturns404(t *testing.T) {
	dir := t.TempDir()
	client, closeFn := startServer(t, dir)
	defer closeFn()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	resp, err := client.Request(ctx, "/missing.ts", nil)
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if resp.Code != 404 {
		t.Errorf("Code = %d, want 404", resp.Code)
	}
}

func TestMetricsRouteIsServedThroughSameHandler(t *testing.T) {
	dir := t.TempDir()
	client, closeFn := startServer(t, dir)
	defer closeFn()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	resp, err := client.Request(ctx, "/metrics", nil)
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if resp.Code != 200 {
		t.Errorf("Code = %d, want 200", resp.Code)
	}
}
