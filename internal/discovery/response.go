package discovery

// ResourceRecord is one parsed answer/authority/additional record.
type ResourceRecord struct {
	Name  string
	Type  uint16
	Class uint16
	TTL   uint32
	RData []byte // raw rdata as received (may hold compression pointers into its packet)

	// Decoded convenience views; only the field matching Type is populated.
	PTR  string
	Text [][]byte
	SRV  SRVData
	A    []byte // 4 bytes
	AAAA []byte // 16 bytes
}

// SRVData is the decoded payload of an SRV record (RFC 2782).
type SRVData struct {
	Priority uint16
	Weight   uint16
	Port     uint16
	Target   string
}

// Response is a parsed mDNS message: a header plus its four sections.
// Grounded on atavism's MDNSResponse, which validates the header then walks
// question/answer/nameserver/additional counts in order.
type Response struct {
	ID          uint16
	Flags       uint16
	Questions   []question
	Answers     []ResourceRecord
	Authorities []ResourceRecord
	Additional  []ResourceRecord
}

// IsResponse reports whether the QR bit marks this as a response rather
// than a question (RFC 1035 §4.1.1).
func (r *Response) IsResponse() bool { return r.Flags&FlagQR != 0 }

// IsAuthoritative reports the AA bit.
func (r *Response) IsAuthoritative() bool { return r.Flags&FlagAA != 0 }

// RCode returns the low 4 bits of Flags (the response code).
func (r *Response) RCode() uint16 { return r.Flags & FlagRCodeMask }

// HasError reports a nonzero RCode, mirroring atavism's is_valid() check
// that rejects responses carrying an error code.
func (r *Response) HasError() bool { return r.RCode() != 0 }

// ParseResponse decodes a raw mDNS datagram into a Response. Malformed
// input returns a *packetError (see IsProtocolViolation) so callers can
// drop bad packets from an otherwise-healthy socket instead of aborting.
func ParseResponse(data []byte) (*Response, error) {
	m := newMessageFrom(data)
	if m.Len() < 12 {
		return nil, newPacketError("packet too short for header: %d bytes", m.Len())
	}

	id, _ := m.unpackUint16(0)
	flags, _ := m.unpackUint16(2)
	qdcount, _ := m.unpackUint16(4)
	ancount, _ := m.unpackUint16(6)
	nscount, _ := m.unpackUint16(8)
	arcount, _ := m.unpackUint16(10)

	resp := &Response{ID: id, Flags: flags}
	pos := 12

	for i := 0; i < int(qdcount); i++ {
		consumed, name, err := m.readName(pos)
		if err != nil {
			return nil, err
		}
		pos += consumed
		qtype, err := m.unpackUint16(pos)
		if err != nil {
			return nil, err
		}
		pos += 4 // qtype + qclass
		resp.Questions = append(resp.Questions, question{name: name, qtype: qtype})
	}

	sections := []struct {
		count int
		dst   *[]ResourceRecord
	}{
		{int(ancount), &resp.Answers},
		{int(nscount), &resp.Authorities},
		{int(arcount), &resp.Additional},
	}
	for _, sec := range sections {
		for i := 0; i < sec.count; i++ {
			rr, next, err := parseRecord(m, pos)
			if err != nil {
				return nil, err
			}
			pos = next
			*sec.dst = append(*sec.dst, rr)
		}
	}

	return resp, nil
}

func parseRecord(m *message, pos int) (ResourceRecord, int, error) {
	consumed, name, err := m.readName(pos)
	if err != nil {
		return ResourceRecord{}, 0, err
	}
	pos += consumed

	rtype, err := m.unpackUint16(pos)
	if err != nil {
		return ResourceRecord{}, 0, err
	}
	rclass, err := m.unpackUint16(pos + 2)
	if err != nil {
		return ResourceRecord{}, 0, err
	}
	ttl, err := m.unpackUint32(pos + 4)
	if err != nil {
		return ResourceRecord{}, 0, err
	}
	rdlen, err := m.unpackUint16(pos + 8)
	if err != nil {
		return ResourceRecord{}, 0, err
	}
	rdataStart := pos + 10
	rdata, err := m.slice(rdataStart, int(rdlen))
	if err != nil {
		return ResourceRecord{}, 0, err
	}
	rr := ResourceRecord{Name: name, Type: rtype, Class: rclass & 0x7FFF, TTL: ttl, RData: append([]byte(nil), rdata...)}

	switch rtype {
	case QTypeA:
		ip, err := m.unpackIPv4(rdataStart)
		if err != nil {
			return ResourceRecord{}, 0, err
		}
		rr.A = ip
	case QTypeAAAA:
		ip, err := m.unpackIPv6(rdataStart)
		if err != nil {
			return ResourceRecord{}, 0, err
		}
		rr.AAAA = ip
	case QTypePTR:
		_, target, err := m.readName(rdataStart)
		if err != nil {
			return ResourceRecord{}, 0, err
		}
		rr.PTR = target
	case QTypeSRV:
		if rdlen < 6 {
			return ResourceRecord{}, 0, newPacketError("SRV rdata too short: %d", rdlen)
		}
		priority, _ := m.unpackUint16(rdataStart)
		weight, _ := m.unpackUint16(rdataStart + 2)
		port, _ := m.unpackUint16(rdataStart + 4)
		_, target, err := m.readName(rdataStart + 6)
		if err != nil {
			return ResourceRecord{}, 0, err
		}
		rr.SRV = SRVData{Priority: priority, Weight: weight, Port: port, Target: target}
	case QTypeTXT:
		rr.Text, err = parseTXT(rdata)
		if err != nil {
			return ResourceRecord{}, 0, err
		}
	}

	return rr, rdataStart + int(rdlen), nil
}

// parseTXT splits a TXT record's rdata into its length-prefixed strings
// (RFC 1035 §3.3.14).
func parseTXT(rdata []byte) ([][]byte, error) {
	var out [][]byte
	pos := 0
	for pos < len(rdata) {
		n := int(rdata[pos])
		pos++
		if pos+n > len(rdata) {
			return nil, newPacketError("TXT entry overruns rdata at %d", pos)
		}
		out = append(out, append([]byte(nil), rdata[pos:pos+n]...))
		pos += n
	}
	return out, nil
}
