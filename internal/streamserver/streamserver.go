// Package streamserver builds the http11.Handler that serves castbeam's
// HLS output (the playlist and segments internal/encoder writes into the
// segment directory) plus the process's own /metrics endpoint.
//
// Grounded on the teacher's cmd/plex-tuner main.go, which wires its
// http.ServeMux routes (/lineup.json, /device.xml, /stream) by hand in
// main() rather than through a router package; since internal/http11's
// Handler is a single func(*Request) *Response rather than net/http's
// mux-compatible interface, this package plays the same "hand-wire the
// routes" role one level down, as its own small package so main.go stays
// a composition root rather than growing route-dispatch logic itself.
package streamserver

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/castbeam/castbeam/internal/http11"
	"github.com/castbeam/castbeam/internal/logging"
	"github.com/castbeam/castbeam/internal/metrics"
)

// contentTypeByExt mirrors the handful of content types an HLS output
// directory ever contains.
var contentTypeByExt = map[string]string{
	".m3u8": "application/vnd.apple.mpegurl",
	".ts":   "video/mp2t",
	".m4s":  "video/iso.segment",
	".mp4":  "video/mp4",
}

// New returns a Handler serving files out of segmentDir at "/" and
// Prometheus metrics at "/metrics". Every file request, including 404 and
// 405 replies, is recorded through the metrics registry; requests to
// "/metrics" itself are not recorded.
func New(segmentDir string, log *logging.Logger) http11.Handler {
	metricsHandler := metrics.Handler()
	reg := metrics.Get()

	return func(req *http11.Request) *http11.Response {
		if req.Path == "/metrics" {
			return metricsHandler(req)
		}
		return serveFile(segmentDir, req, log, reg)
	}
}

func serveFile(segmentDir string, req *http11.Request, log *logging.Logger, reg *metrics.Registry) *http11.Response {
	resp := req.MakeResponse()
	resp.Header().SetAll(map[string]string{
		"Accept-Ranges": "bytes",
		"Server":        "castbeam/1",
	})

	if m := strings.ToUpper(req.Method); m != "GET" && m != "HEAD" {
		resp.SetCode(405)
		reg.RecordHTTPRequest(req.Method, resp.Code, 0, 0)
		return resp
	}

	rel := strings.TrimPrefix(req.Path, "/")
	if rel == "" {
		rel = "index.m3u8"
	}
	path := filepath.Join(segmentDir, filepath.Clean("/"+rel))

	body, err := http11.NewFileBody(path)
	if err != nil {
		log.Warnf("stream: %s: %v", req.Path, err)
		resp.SetCode(404)
		resp.Body().ContentType = "text/plain"
		resp.Body().AddContent([]byte(fmt.Sprintf("%s does not exist on this server.", req.Path)))
		reg.RecordHTTPRequest(req.Method, resp.Code, 0, 0)
		return resp
	}
	if ct, ok := contentTypeByExt[strings.ToLower(filepath.Ext(path))]; ok {
		body.ContentType = ct
	}
	if resp.Body().Compression != "" {
		body.SetCompression(resp.Body().Compression)
	}
	resp.SetBody(body)
	reg.RecordHTTPRequest(req.Method, resp.Code, int(body.Len()), 0)
	return resp
}
