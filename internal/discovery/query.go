package discovery

// question is a single mDNS question (RFC 1035 §4.1.2).
type question struct {
	name  string
	qtype uint16
}

// knownAnswer is a previously-seen PTR record a Query can cite to suppress
// a duplicate reply from a responder that has already answered it recently
// (RFC 6762 §7.1 known-answer suppression). The target is kept as a
// decoded name, not raw rdata: a responder's rdata may lean on
// compression pointers into its own packet, so it has to be re-serialized
// against this packet's dictionary.
type knownAnswer struct {
	name  string
	qtype uint16
	ttl   uint32
	ptr   string
}

// Query builds one or more outbound mDNS query datagrams for a set of
// service names, folding in known-answer suppression records and splitting
// into multiple packets (each with the TC bit set except the last) once the
// answer count would exceed MaxAnswers.
//
// Grounded on atavism's MDNSQuery.packet_data(), which walks questions and
// known answers and calls Packet.pack()/write_name() directly; this port
// keeps that two-phase "collect records, then serialize in MaxAnswers-sized
// pages" structure.
type Query struct {
	questions []question
	known     []knownAnswer
}

// NewQuery returns an empty Query.
func NewQuery() *Query {
	return &Query{}
}

// AddQuestion appends a question for serviceName (e.g.
// "_googlecast._tcp.local."), asking for any record type the responder
// holds (qtype ALL, the default the service-discovery probe uses).
func (q *Query) AddQuestion(serviceName string) {
	q.questions = append(q.questions, question{name: serviceName, qtype: QTypeALL})
}

// AddKnownAnswer records a previously-received PTR answer so the emitted
// query asks responders to suppress it if still valid.
func (q *Query) AddKnownAnswer(name string, qtype uint16, ttl uint32, ptr string) {
	q.known = append(q.known, knownAnswer{name: name, qtype: qtype, ttl: ttl, ptr: ptr})
}

// Packets renders the query into one or more wire-format datagrams. When
// the known-answer count exceeds MaxAnswers, multiple datagrams are
// returned and every packet but the last has the TC (truncated) bit set, so
// a responder knows to wait for the remainder before replying (RFC 6762
// §7.2).
func (q *Query) Packets() [][]byte {
	if len(q.known) <= MaxAnswers {
		return [][]byte{q.renderPage(q.known, false, true)}
	}

	var pages [][]byte
	for idx, start := 0, 0; start < len(q.known); idx, start = idx+1, start+MaxAnswers {
		end := start + MaxAnswers
		if end > len(q.known) {
			end = len(q.known)
		}
		truncated := end < len(q.known)
		pages = append(pages, q.renderPage(q.known[start:end], truncated, idx == 0))
	}
	return pages
}

// renderPage serializes one page of the query. Only the first page of a
// multi-page known-answer dump repeats the question section — matching
// atavism's packet_data(), which sets qc = len(questions) on page 0 and 0
// on every later page, since a responder only needs to see the question
// once to match it against the known-answer pages that follow.
func (q *Query) renderPage(answers []knownAnswer, truncated, firstPage bool) []byte {
	m := newMessage()

	flags := uint16(0)
	if truncated {
		flags |= FlagTC
	}

	qc := 0
	if firstPage {
		qc = len(q.questions)
	}

	m.packUint16(0) // transaction ID: zero for multicast per RFC 6762 §18.1
	m.packUint16(flags)
	m.packUint16(uint16(qc))
	m.packUint16(uint16(len(answers))) // ancount: known answers live in the Answer section
	m.packUint16(0)                    // nscount
	m.packUint16(0)                    // arcount

	if firstPage {
		for _, ques := range q.questions {
			m.writeName(ques.name)
			m.packUint16(ques.qtype)
			m.packUint16(QClassIN)
		}
	}

	for _, ans := range answers {
		m.writeName(ans.name)
		m.packUint16(ans.qtype)
		m.packUint16(QClassIN)
		m.packUint32(ans.ttl)
		rdlenPos := m.Len()
		m.packUint16(0)
		rdataStart := m.Len()
		m.writeName(ans.ptr)
		m.packUint16At(uint16(m.Len()-rdataStart), rdlenPos)
	}

	return m.Bytes()
}
