package metrics

import (
	"context"
	"log"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/castbeam/castbeam/internal/http11"
	"github.com/castbeam/castbeam/internal/logging"
)

func TestGetIsASingleton(t *testing.T) {
	a := Get()
	b := Get()
	if a != b {
		t.Fatal("Get() should return the same Registry instance every call")
	}
}

func TestRecordHelpersDoNotPanic(t *testing.T) {
	r := Get()
	r.RecordDiscoveryRound("_googlecast._tcp.local", 2, 3, 5, 0.25)
	r.RecordPacketDropped("bad-label")
	r.RecordHTTPRequest("GET", 200, 1024, 0.01)
	r.RecordEnvelopeSent("urn:x-cast:com.google.cast.media")
	r.RecordEnvelopeReceived("urn:x-cast:com.google.cast.tp.heartbeat")
	r.RecordHeartbeat(0.002)
	r.RecordSessionStateChange("playing")
}

func TestHandlerServesTextExposition(t *testing.T) {
	Get().RecordHTTPRequest("GET", 200, 10, 0.01)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	testLog := logging.NewWithOutput("metrics-test", log.Default())
	srv := http11.NewServer(Handler(), testLog)
	go srv.Serve(listener)
	defer srv.Close()

	addr := listener.Addr().(*net.TCPAddr)
	client := http11.NewClient("127.0.0.1", addr.Port, testLog)
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	resp, err := client.Request(ctx, "/metrics", nil)
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
	if !strings.Contains(string(body), "castbeam_http11_requests_total") {
		t.Errorf("body missing expected metric name:\n%s", body)
	}
}
