package discovery

import (
	"net"
	"strings"
	"time"
)

// Device is the aggregated view of one discovered service instance, built
// by folding together the PTR, SRV, TXT, and A/AAAA records a responder
// sends in reply to (or unsolicited alongside) a single query — mirroring
// the dict-of-dicts a caller builds by hand in atavism's find_devices()
// loop, but as a typed value with a merge step instead of repeated
// re-reads of raw answer lists.
type Device struct {
	// InstanceName is the PTR target, e.g. "Living Room._googlecast._tcp.local.".
	InstanceName string
	Service      string
	Host         string // SRV target, e.g. "chromecast-abcd.local."
	Port         uint16
	Addrs        []net.IP
	TXT          map[string]string
	LastSeen     time.Time
}

// Merge folds a newly-received set of records about the same instance into
// an existing (or zero-value) Device, returning the updated value. Records
// seen in a later packet overwrite fields from an earlier one; addresses
// accumulate (a host can have both an A and an AAAA record).
func (d Device) Merge(answers []ResourceRecord, now time.Time) Device {
	if d.TXT == nil {
		d.TXT = make(map[string]string)
	}
	d.LastSeen = now

	for _, rr := range answers {
		switch rr.Type {
		case QTypePTR:
			d.InstanceName = rr.PTR
			d.Service = rr.Name
		case QTypeSRV:
			d.Host = rr.SRV.Target
			d.Port = rr.SRV.Port
		case QTypeTXT:
			for k, v := range decodeTXTPairs(rr.Text) {
				d.TXT[k] = v
			}
		case QTypeA:
			d.Addrs = appendAddrIfNew(d.Addrs, rr.A)
		case QTypeAAAA:
			d.Addrs = appendAddrIfNew(d.Addrs, rr.AAAA)
		}
	}
	return d
}

func appendAddrIfNew(addrs []net.IP, ip net.IP) []net.IP {
	if ip == nil {
		return addrs
	}
	for _, existing := range addrs {
		if existing.Equal(ip) {
			return addrs
		}
	}
	return append(addrs, ip)
}

// decodeTXTPairs splits each TXT string on the first '=' into a key/value
// pair (RFC 6763 §6.3); entries without '=' are stored with an empty value
// as boolean attribute flags.
func decodeTXTPairs(entries [][]byte) map[string]string {
	out := make(map[string]string, len(entries))
	for _, e := range entries {
		s := string(e)
		if i := strings.IndexByte(s, '='); i >= 0 {
			out[s[:i]] = s[i+1:]
		} else if s != "" {
			out[s] = ""
		}
	}
	return out
}

// Key identifies a device uniquely within a single service's device table.
func (d Device) Key() string { return d.InstanceName }
