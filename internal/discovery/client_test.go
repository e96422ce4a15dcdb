package discovery

import (
	"log"
	"testing"

	"github.com/castbeam/castbeam/internal/logging"
)

func testLogger() *logging.Logger {
	return logging.NewWithOutput("discovery-test", log.Default())
}

// buildSplitResponsePacket mirrors the layout spec.md §4.1 describes and a
// real responder actually sends: the PTR answering the question lives in
// the Answers section, while the SRV/TXT/A records describing that same
// instance arrive alongside it in the Additional section of the very same
// packet.
func buildSplitResponsePacket(t *testing.T) []byte {
	t.Helper()
	m := newMessage()

	m.packUint16(0)               // id
	m.packUint16(FlagQR | FlagAA) // flags: response, authoritative
	m.packUint16(0)               // qdcount
	m.packUint16(1)               // ancount
	m.packUint16(0)               // nscount
	m.packUint16(3)               // arcount

	service := "_googlecast._tcp.local."
	instance := "Living Room._googlecast._tcp.local."
	host := "chromecast-abcd.local."

	// Answer: PTR
	m.writeName(service)
	m.packUint16(QTypePTR)
	m.packUint16(QClassIN)
	m.packUint32(120)
	rdataLenPos := m.Len()
	m.packUint16(0)
	rdataStart := m.Len()
	m.writeName(instance)
	m.packUint16At(uint16(m.Len()-rdataStart), rdataLenPos)

	// Additional: SRV
	m.writeName(instance)
	m.packUint16(QTypeSRV)
	m.packUint16(QClassIN)
	m.packUint32(120)
	rdataLenPos = m.Len()
	m.packUint16(0)
	rdataStart = m.Len()
	m.packUint16(0) // priority
	m.packUint16(0) // weight
	m.packUint16(8009)
	m.writeName(host)
	m.packUint16At(uint16(m.Len()-rdataStart), rdataLenPos)

	// Additional: TXT
	m.writeName(instance)
	m.packUint16(QTypeTXT)
	m.packUint16(QClassIN)
	m.packUint32(120)
	txtRdata := []byte{}
	for _, s := range []string{"id=abcd1234", "md=Chromecast"} {
		txtRdata = append(txtRdata, byte(len(s)))
		txtRdata = append(txtRdata, s...)
	}
	m.packUint16(uint16(len(txtRdata)))
	m.packBytes(txtRdata)

	// Additional: A, keyed by the SRV target, not the instance name
	m.writeName(host)
	m.packUint16(QTypeA)
	m.packUint16(QClassIN)
	m.packUint32(120)
	m.packUint16(4)
	m.packBytes([]byte{192, 168, 1, 50})

	return m.Bytes()
}

// TestIngestAttachesAdditionalRecordsFromSamePacket guards against a
// regression where a device's SRV/A/AAAA records arriving in the
// Additional section of the same packet as its PTR (the normal,
// real-world layout) were silently dropped: the device didn't exist yet
// when the Additional loop ran, and its Host wasn't set until after the
// whole packet had already been merged.
func TestIngestAttachesAdditionalRecordsFromSamePacket(t *testing.T) {
	c := &Client{log: testLogger()}
	devices := make(map[string]Device)
	known := make(map[string][]ResourceRecord)

	data := buildSplitResponsePacket(t)
	c.ingest(data, []string{"_googlecast._tcp.local."}, devices, known)

	dev, ok := devices["Living Room._googlecast._tcp.local."]
	if !ok {
		t.Fatalf("expected device to be registered, got %#v", devices)
	}
	if dev.Host != "chromecast-abcd.local." {
		t.Fatalf("got host %q", dev.Host)
	}
	if dev.Port != 8009 {
		t.Fatalf("got port %d", dev.Port)
	}
	if len(dev.Addrs) != 1 || dev.Addrs[0].String() != "192.168.1.50" {
		t.Fatalf("expected the Additional section's A record attached, got addrs %#v", dev.Addrs)
	}
	if dev.TXT["id"] != "abcd1234" {
		t.Fatalf("got TXT %#v", dev.TXT)
	}
}

// TestIngestDeduplicatesKnownAnswers checks the known-answer collection
// behaves as a set: a device re-answering the same PTR across resend
// rounds must not grow the suppression list, which would otherwise inflate
// every outbound query and eventually force spurious TC page-splitting.
func TestIngestDeduplicatesKnownAnswers(t *testing.T) {
	c := &Client{log: testLogger()}
	devices := make(map[string]Device)
	known := make(map[string][]ResourceRecord)

	data := buildSplitResponsePacket(t)
	c.ingest(data, []string{"_googlecast._tcp.local."}, devices, known)
	c.ingest(data, []string{"_googlecast._tcp.local."}, devices, known)

	if got := len(known["_googlecast._tcp.local."]); got != 1 {
		t.Fatalf("expected 1 known answer after duplicate rounds, got %d", got)
	}
}

// TestIngestAttachesAdditionalRecordsFromLaterPacket checks the other
// direction still works: once Host has been recorded from an earlier
// round, a later packet's Additional-only A record (no SRV alongside it)
// still attaches by matching the already-known Host.
func TestIngestAttachesAdditionalRecordsFromLaterPacket(t *testing.T) {
	c := &Client{log: testLogger()}
	devices := map[string]Device{
		"Living Room._googlecast._tcp.local.": {
			InstanceName: "Living Room._googlecast._tcp.local.",
			Service:      "_googlecast._tcp.local.",
			Host:         "chromecast-abcd.local.",
		},
	}
	known := make(map[string][]ResourceRecord)

	m := newMessage()
	m.packUint16(0)
	m.packUint16(FlagQR | FlagAA)
	m.packUint16(0) // qdcount
	m.packUint16(0) // ancount
	m.packUint16(0) // nscount
	m.packUint16(1) // arcount
	m.writeName("chromecast-abcd.local.")
	m.packUint16(QTypeA)
	m.packUint16(QClassIN)
	m.packUint32(120)
	m.packUint16(4)
	m.packBytes([]byte{192, 168, 1, 51})

	c.ingest(m.Bytes(), []string{"_googlecast._tcp.local."}, devices, known)

	dev := devices["Living Room._googlecast._tcp.local."]
	if len(dev.Addrs) != 1 || dev.Addrs[0].String() != "192.168.1.51" {
		t.Fatalf("expected later-round A record attached via known Host, got addrs %#v", dev.Addrs)
	}
}
