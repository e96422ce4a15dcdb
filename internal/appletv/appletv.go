// Package appletv drives an AirPlay-style receiver's plaintext REST
// control plane (spec.md §6 "AppleTV wire"). This is named in spec.md §1
// as an external collaborator ("AppleTV REST-style control: simple calls
// on top of the HTTP client") and left out of the three core protocol
// engines, but SPEC_FULL.md's supplemented-features list gives it an
// owning package so the app can actually drive one, built entirely on
// internal/http11's client.
//
// Grounded on original_source/atavism/devices.py's AirplayDevice:
// get_info() (GET /server-info, decode the features bitmask),
// play_video()/stop_video() (POST /play, /stop with text/parameters
// bodies), and get_position() (GET /scrub).
package appletv

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/castbeam/castbeam/internal/http11"
	"github.com/castbeam/castbeam/internal/logging"
)

// featureNames mirrors AirplayDevice.features()'s f_list: bit position i
// names the capability reported by server-info's "features" field.
var featureNames = []string{
	"Video", "Photo", "VideoFairPlay", "VideoVolumeControl", "VideoHTTPLiveStreams",
	"Slideshow", "6", "Screen", "ScreenRotate", "Audio", "AudioRedundant",
	"FPSAPv2pt5_AES_GCM", "PhotoCaching",
}

// httpLiveStreamsBit is bit 4 in server-info's features bitmask (spec.md
// §6): "bit 4 = HTTP live streaming supported".
const httpLiveStreamsBit = 1 << 4

// Info is the subset of the /server-info document this package cares
// about: model name and the features capability bitmask.
type Info struct {
	Model    string
	Features uint64
}

// SupportsHLS reports whether the device advertises HTTP Live Streaming
// support (spec.md §6 bit 4).
func (i Info) SupportsHLS() bool { return i.Features&httpLiveStreamsBit != 0 }

// FeatureNames lists the human-readable capability names set in the bitmask,
// matching AirplayDevice.features()'s comma-joined output.
func (i Info) FeatureNames() []string {
	var out []string
	for idx, name := range featureNames {
		if i.Features&(1<<uint(idx)) != 0 {
			out = append(out, name)
		}
	}
	return out
}

// Resolution returns the device's expected output resolution: AirplayDevice
// treats any model name containing "3" as a 1080p-capable AppleTV 3, else
// 720p.
func (i Info) Resolution() (width, height int) {
	if strings.Contains(i.Model, "3") {
		return 1920, 1080
	}
	return 1280, 720
}

// Device drives one AppleTV-style receiver's REST control plane.
type Device struct {
	client *http11.Client
	log    *logging.Logger
}

// NewDevice returns a Device talking to host:port (spec.md §6 default
// port 7000).
func NewDevice(host string, port int, log *logging.Logger) *Device {
	return &Device{client: http11.NewClient(host, port, log), log: log}
}

// Close releases the underlying HTTP client connection.
func (d *Device) Close() error { return d.client.Close() }

// GetInfo fetches and decodes /server-info.
func (d *Device) GetInfo(ctx context.Context) (Info, error) {
	resp, err := d.client.Request(ctx, "/server-info", nil)
	if err != nil {
		return Info{}, fmt.Errorf("appletv: server-info: %w", err)
	}
	if resp.Code != 200 {
		return Info{}, fmt.Errorf("appletv: server-info: HTTP %d", resp.Code)
	}
	raw, err := resp.Body().Content()
	if err != nil {
		return Info{}, fmt.Errorf("appletv: server-info: read body: %w", err)
	}
	fields := parsePlistStrings(raw)
	info := Info{Model: fields["model"]}
	if v, ok := fields["features"]; ok {
		if n, err := strconv.ParseUint(v, 0, 64); err == nil {
			info.Features = n
		}
	}
	return info, nil
}

// Play begins playback of url on the device (spec.md §6: POST /play with
// a text/parameters body naming Content-Location and a zero Start-Position).
func (d *Device) Play(ctx context.Context, url string) error {
	_ = d.Stop(ctx) // AirplayDevice.play_video calls stop_video() first
	params := map[string]string{
		"Content-Location": url,
		"Start-Position":   "0",
	}
	resp, err := d.client.PostData(ctx, "/play", nil, params, "text/parameters")
	if err != nil {
		return fmt.Errorf("appletv: play: %w", err)
	}
	if resp.Code != 200 {
		return fmt.Errorf("appletv: play: HTTP %d", resp.Code)
	}
	return nil
}

// Scrub returns the device's current playback position and total duration
// in seconds, via GET /scrub.
func (d *Device) Scrub(ctx context.Context) (position, duration float64, err error) {
	resp, err := d.client.Request(ctx, "/scrub", nil)
	if err != nil {
		return 0, 0, fmt.Errorf("appletv: scrub: %w", err)
	}
	raw, err := resp.Body().Content()
	if err != nil {
		return 0, 0, fmt.Errorf("appletv: scrub: read body: %w", err)
	}
	fields := parseScrubLines(raw)
	position, _ = strconv.ParseFloat(fields["position"], 64)
	duration, _ = strconv.ParseFloat(fields["duration"], 64)
	return position, duration, nil
}

// Stop ends playback via POST /stop.
func (d *Device) Stop(ctx context.Context) error {
	resp, err := d.client.PostData(ctx, "/stop", nil, nil, "text/plain")
	if err != nil {
		return fmt.Errorf("appletv: stop: %w", err)
	}
	if resp.Code != 200 {
		return fmt.Errorf("appletv: stop: HTTP %d", resp.Code)
	}
	return nil
}

// parseScrubLines decodes /scrub's "key: value\n" body the same way
// AirplayDevice.get_position() does (http11.DecodeParameters covers the
// request-body direction; /scrub's response uses the identical "key:
// value" line shape, so the same decoder applies here).
func parseScrubLines(raw []byte) map[string]string {
	return http11.DecodeParameters(raw)
}

// parsePlistStrings extracts flat <key>/<string-or-integer> pairs from an
// Apple binary-or-XML property list's XML rendering. AirplayDevice's
// server-info responses carry only a handful of top-level scalar keys
// (model, features, protovers, ...); this is not a general plist decoder,
// only enough to read those.
func parsePlistStrings(raw []byte) map[string]string {
	out := map[string]string{}
	s := string(raw)
	for {
		keyStart := strings.Index(s, "<key>")
		if keyStart == -1 {
			break
		}
		keyEnd := strings.Index(s[keyStart:], "</key>")
		if keyEnd == -1 {
			break
		}
		key := s[keyStart+len("<key>") : keyStart+keyEnd]
		rest := s[keyStart+keyEnd+len("</key>"):]

		value, consumed, ok := nextPlistScalar(rest)
		if !ok {
			s = rest
			continue
		}
		out[key] = value
		s = rest[consumed:]
	}
	return out
}

// nextPlistScalar reads one <string>, <integer>, or self-closing
// <true|false/> element from the start of s (after skipping whitespace),
// returning its text value and how many bytes of s it consumed.
func nextPlistScalar(s string) (value string, consumed int, ok bool) {
	trimmed := strings.TrimLeft(s, " \t\r\n")
	skip := len(s) - len(trimmed)
	for _, tag := range []string{"string", "integer", "real"} {
		open := "<" + tag + ">"
		closeTag := "</" + tag + ">"
		if !strings.HasPrefix(trimmed, open) {
			continue
		}
		end := strings.Index(trimmed, closeTag)
		if end == -1 {
			return "", 0, false
		}
		return trimmed[len(open):end], skip + end + len(closeTag), true
	}
	if strings.HasPrefix(trimmed, "<true/>") {
		return "1", skip + len("<true/>"), true
	}
	if strings.HasPrefix(trimmed, "<false/>") {
		return "0", skip + len("<false/>"), true
	}
	return "", 0, false
}
