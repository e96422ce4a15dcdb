package http11

// NewParametersBody builds a text/parameters body ("key: value\r\n" lines),
// the content type AirPlay- and Castlink-adjacent control endpoints use for
// simple key/value command payloads.
func NewParametersBody(params map[string]string) *Body {
	b := NewBody()
	b.ContentType = "text/parameters"
	b.AddContent(encodeParameters(params))
	return b
}

// DecodeParameters parses a text/parameters body's raw bytes directly,
// for callers that already have the bytes in hand (e.g. a Castlink HTTP
// companion response read outside of a Body).
func DecodeParameters(raw []byte) map[string]string {
	return decodeParameters(raw)
}
