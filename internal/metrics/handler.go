package metrics

import (
	"bytes"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"

	"github.com/castbeam/castbeam/internal/http11"
)

// Handler returns an http11.Handler serving the process's registered
// metrics in Prometheus text exposition format, so the app's own HTTP/1.1
// server can expose /metrics without pulling in net/http's promhttp
// package (which expects a net/http.Handler, not this engine's type).
func Handler() http11.Handler {
	return func(req *http11.Request) *http11.Response {
		resp := req.MakeResponse()
		families, err := prometheus.DefaultGatherer.Gather()
		if err != nil {
			resp.SetCode(500)
			resp.Body().AddContent([]byte(err.Error()))
			return resp
		}

		var buf bytes.Buffer
		enc := expfmt.NewEncoder(&buf, expfmt.FmtText)
		for _, mf := range families {
			if err := enc.Encode(mf); err != nil {
				resp.SetCode(500)
				resp.Body().AddContent([]byte(err.Error()))
				return resp
			}
		}

		resp.Body().ContentType = "text/plain"
		resp.Body().AddContent(buf.Bytes())
		return resp
	}
}
