package discovery

import (
	"context"
	"fmt"
	"net"
	"strings"
	"syscall"
	"time"

	"golang.org/x/net/ipv4"
	"golang.org/x/sys/unix"
	"golang.org/x/time/rate"

	"github.com/castbeam/castbeam/internal/logging"
	"github.com/castbeam/castbeam/internal/metrics"
)

const (
	// MulticastAddr is the mDNS multicast group (RFC 6762 §3).
	MulticastAddr = "224.0.0.251"
	// MulticastPort is the mDNS UDP port.
	MulticastPort = 5353

	initialRetryDelay = 1 * time.Second
	maxRetryDelay     = 16 * time.Second
	pollInterval      = 500 * time.Millisecond
	readBufferSize    = 9000 // RFC 6762 §17 allows answers up to 9000 bytes

	// multicastTTL matches atavism's MDNSServiceDiscovery.ttl (spec.md §4.1:
	// "set IP_MULTICAST_TTL=2"), keeping mDNS traffic from crossing more than
	// one router hop off the local link.
	multicastTTL = 2
)

// Client probes the LAN for mDNS/DNS-SD services and aggregates responses
// into Device values.
//
// Grounded on atavism's MDNSServiceDiscovery: find_interfaces() picks an
// outbound-capable interface via a connect-to-unreachable-address trick,
// and find_devices() loops doubling its resend delay while polling the
// socket with a 0.5s select. This port keeps that two-phase shape but
// drives the multicast group membership through golang.org/x/net/ipv4
// instead of raw setsockopt calls, and paces resends with a
// golang.org/x/time/rate.Limiter instead of a hand-rolled delay variable.
type Client struct {
	log   *logging.Logger
	conn  *net.UDPConn
	pconn *ipv4.PacketConn
	iface *net.Interface
}

// NewClient opens a UDP socket bound to the mDNS port, joins the multicast
// group on the interface that would be used to reach the public internet
// (the LAN-facing interface on any normally configured host), and disables
// multicast loopback so the client never processes its own queries.
func NewClient(log *logging.Logger) (*Client, error) {
	iface, err := findOutboundInterface()
	if err != nil {
		return nil, fmt.Errorf("discovery: find interface: %w", err)
	}

	lc := net.ListenConfig{Control: setReuseAddrAndPort}
	packetConn, err := lc.ListenPacket(context.Background(), "udp4", fmt.Sprintf(":%d", MulticastPort))
	if err != nil {
		return nil, fmt.Errorf("discovery: listen udp: %w", err)
	}
	conn := packetConn.(*net.UDPConn)

	pconn := ipv4.NewPacketConn(conn)
	group := &net.UDPAddr{IP: net.ParseIP(MulticastAddr)}
	if err := pconn.JoinGroup(iface, group); err != nil {
		conn.Close()
		return nil, fmt.Errorf("discovery: join group on %s: %w", iface.Name, err)
	}
	if err := pconn.SetMulticastLoopback(false); err != nil {
		log.Warnf("could not disable multicast loopback: %v", err)
	}
	if err := pconn.SetMulticastTTL(multicastTTL); err != nil {
		log.Warnf("could not set multicast TTL: %v", err)
	}
	if err := pconn.SetMulticastInterface(iface); err != nil {
		log.Warnf("could not set multicast interface: %v", err)
	}

	return &Client{log: log, conn: conn, pconn: pconn, iface: iface}, nil
}

// setReuseAddrAndPort sets SO_REUSEADDR and SO_REUSEPORT on the mDNS
// socket before bind (spec.md §4.1: "bind 224.0.0.251:5353 with
// SO_REUSEADDR|SO_REUSEPORT"), so castbeam can share the multicast port
// with another mDNS responder already running on the host (avahi,
// mDNSResponder, etc.) instead of failing to bind. net.ListenUDP offers
// no way to set these before bind, hence the net.ListenConfig.Control
// hook; golang.org/x/sys/unix supplies SO_REUSEPORT, which stdlib
// syscall does not define on every platform.
func setReuseAddrAndPort(_, _ string, c syscall.RawConn) error {
	var sockErr error
	err := c.Control(func(fd uintptr) {
		if err := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
			sockErr = err
			return
		}
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
	})
	if err != nil {
		return err
	}
	return sockErr
}

// findOutboundInterface picks the interface the kernel would route through
// to reach the public internet, by dialing a UDP "connection" to an
// address in the documentation range (RFC 5737) that is never actually
// sent on the wire — mirroring atavism's find_interfaces(), which connects
// to 10.255.255.255 for the same reason.
func findOutboundInterface() (*net.Interface, error) {
	probe, err := net.Dial("udp4", "192.0.2.1:9")
	if err != nil {
		return nil, fmt.Errorf("probe route: %w", err)
	}
	defer probe.Close()

	localIP := probe.LocalAddr().(*net.UDPAddr).IP

	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}
	for _, iface := range ifaces {
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			ipNet, ok := a.(*net.IPNet)
			if ok && ipNet.IP.Equal(localIP) {
				return &iface, nil
			}
		}
	}
	return nil, fmt.Errorf("no interface owns local address %s", localIP)
}

// Close releases the underlying socket.
func (c *Client) Close() error {
	return c.conn.Close()
}

// FindDevices sends PTR queries for each of the given service names (e.g.
// "_googlecast._tcp.local.") and aggregates responses for up to timeout,
// returning every distinct instance seen keyed by its PTR instance name.
// The resend delay doubles with each resend (capped at maxRetryDelay),
// whether or not the previous round drew answers; known answers
// from earlier rounds are folded into later queries for suppression.
func (c *Client) FindDevices(ctx context.Context, serviceNames []string, timeout time.Duration) (map[string]Device, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// Parsed record names always carry the trailing root dot; canonicalize
	// the requested service names the same way so matching and known-answer
	// bookkeeping agree regardless of how the caller spelled them.
	serviceNames = canonicalNames(serviceNames)

	devices := make(map[string]Device)
	known := make(map[string][]ResourceRecord) // service name -> known PTR answers

	limiter := rate.NewLimiter(rate.Every(initialRetryDelay), 1)
	delay := initialRetryDelay

	if err := c.sendQuery(serviceNames, known); err != nil {
		c.log.Warnf("initial query send failed: %v", err)
	}

	buf := make([]byte, readBufferSize)
	for {
		c.conn.SetReadDeadline(time.Now().Add(pollInterval))
		n, _, err := c.conn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); !ok || !ne.Timeout() {
				return devices, fmt.Errorf("discovery: read: %w", err)
			}
		} else {
			c.ingest(buf[:n], serviceNames, devices, known)
		}

		select {
		case <-ctx.Done():
			return devices, nil
		default:
		}

		if limiter.Allow() {
			if delay < maxRetryDelay {
				delay *= 2
				if delay > maxRetryDelay {
					delay = maxRetryDelay
				}
				limiter.SetLimit(rate.Every(delay))
			}
			if err := c.sendQuery(serviceNames, known); err != nil {
				c.log.Warnf("resend query failed: %v", err)
			}
		}
	}
}

func canonicalNames(names []string) []string {
	out := make([]string, len(names))
	for i, n := range names {
		if !strings.HasSuffix(n, ".") {
			n += "."
		}
		out[i] = n
	}
	return out
}

func (c *Client) sendQuery(serviceNames []string, known map[string][]ResourceRecord) error {
	q := NewQuery()
	for _, name := range serviceNames {
		q.AddQuestion(name)
		for _, rr := range known[name] {
			q.AddKnownAnswer(rr.Name, rr.Type, rr.TTL, rr.PTR)
		}
	}

	dst := &net.UDPAddr{IP: net.ParseIP(MulticastAddr), Port: MulticastPort}
	for _, packet := range q.Packets() {
		if _, err := c.conn.WriteToUDP(packet, dst); err != nil {
			return err
		}
		metrics.Get().PacketsSent.Inc()
	}
	return nil
}

func (c *Client) ingest(data []byte, serviceNames []string, devices map[string]Device, known map[string][]ResourceRecord) {
	metrics.Get().PacketsReceived.Inc()
	resp, err := ParseResponse(data)
	if err != nil {
		if IsProtocolViolation(err) {
			c.log.Debugf("dropping malformed packet: %v", err)
			metrics.Get().RecordPacketDropped("malformed")
			return
		}
		c.log.Warnf("read error: %v", err)
		return
	}
	if !resp.IsResponse() || resp.HasError() {
		metrics.Get().RecordPacketDropped("not-a-response")
		return
	}

	wanted := make(map[string]bool, len(serviceNames))
	for _, s := range serviceNames {
		wanted[s] = true
	}

	all := make([]ResourceRecord, 0, len(resp.Answers)+len(resp.Additional))
	all = append(all, resp.Answers...)
	all = append(all, resp.Additional...)

	now := time.Now()
	byInstance := make(map[string][]ResourceRecord)
	hostToInstance := make(map[string]string)

	// First pass: register every PTR so an instance discovered by this very
	// packet exists in devices before its own SRV/A/AAAA records (typically
	// in the same packet's Additional section, per spec.md §4.1) are
	// attributed to it, and record each SRV target's owning instance up
	// front — Device.Host isn't set until the Merge below runs, so an A/AAAA
	// record naming that host couldn't otherwise be matched to it this round.
	for _, rr := range all {
		switch rr.Type {
		case QTypePTR:
			if !wanted[rr.Name] {
				continue
			}
			// The known-answer collection is a set keyed on (name, target):
			// a device re-answering across resend rounds must not grow the
			// suppression list with duplicates.
			if !hasKnownAnswer(known[rr.Name], rr) {
				known[rr.Name] = append(known[rr.Name], rr)
			}
			byInstance[rr.PTR] = append(byInstance[rr.PTR], rr)
			if _, ok := devices[rr.PTR]; !ok {
				devices[rr.PTR] = Device{InstanceName: rr.PTR, Service: rr.Name}
			}
		case QTypeSRV:
			hostToInstance[rr.SRV.Target] = rr.Name
		}
	}

	// Second pass: attribute every SRV/TXT/A/AAAA record to its owning
	// instance — directly by instance name (SRV, TXT), via the SRV target
	// recorded above (A/AAAA from this same packet), or via an
	// already-known device's Host from an earlier round.
	for _, rr := range all {
		if rr.Type == QTypePTR {
			continue
		}
		if instance, ok := hostToInstance[rr.Name]; ok {
			byInstance[instance] = append(byInstance[instance], rr)
			continue
		}
		if _, ok := devices[rr.Name]; ok {
			byInstance[rr.Name] = append(byInstance[rr.Name], rr)
			continue
		}
		for instance, dev := range devices {
			if dev.Host == rr.Name {
				byInstance[instance] = append(byInstance[instance], rr)
			}
		}
	}

	for instance, recs := range byInstance {
		devices[instance] = devices[instance].Merge(recs, now)
	}
}

func hasKnownAnswer(recs []ResourceRecord, rr ResourceRecord) bool {
	for _, k := range recs {
		if k.Name == rr.Name && k.PTR == rr.PTR {
			return true
		}
	}
	return false
}
