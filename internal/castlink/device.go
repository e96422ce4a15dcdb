package castlink

import (
	"context"
	"fmt"
	"strings"

	"github.com/castbeam/castbeam/internal/http11"
	"github.com/castbeam/castbeam/internal/logging"
)

// DeviceInfo is the subset of a receiver's UPnP device descriptor this
// package cares about, read from the companion plaintext HTTP endpoint
// (spec.md §6 "Receiver wire (Castlink)": port 8008,
// /ssdp/device-desc.xml). Grounded on devices.py's Chromecast.get_info.
type DeviceInfo struct {
	FriendlyName string
	Manufacturer string
	ModelName    string
	DeviceType   string
	UDN          string
}

// Device wraps the receiver's companion unencrypted HTTP control surface
// (distinct from the TLS control channel a Client maintains): reading the
// UPnP device descriptor and issuing a reboot. Grounded on devices.py's
// Chromecast class, which holds a second HttpClient (self.dial) against
// port 8008 alongside the TLS-backed ChromecastClient.
type Device struct {
	client *http11.Client
}

// NewDevice returns a Device talking to host's companion HTTP port
// (spec.md §6 default 8008).
func NewDevice(host string, port int, log *logging.Logger) *Device {
	return &Device{client: http11.NewClient(host, port, log)}
}

// Close releases the underlying HTTP client connection.
func (d *Device) Close() error { return d.client.Close() }

// GetInfo fetches and decodes /ssdp/device-desc.xml. Grounded on
// Chromecast.get_info's xpath-based field extraction; this package has no
// XML library in the pack's stack to reach for, so it scans the same
// handful of flat element names with a narrow tag reader instead of a
// full XML parser, matching appletv.go's plist-scalar scanner for the
// same kind of small, fixed-shape document.
func (d *Device) GetInfo(ctx context.Context) (DeviceInfo, error) {
	resp, err := d.client.Request(ctx, "/ssdp/device-desc.xml", nil)
	if err != nil {
		return DeviceInfo{}, fmt.Errorf("castlink: device-desc: %w", err)
	}
	if resp.Code != 200 {
		return DeviceInfo{}, fmt.Errorf("castlink: device-desc: HTTP %d", resp.Code)
	}
	raw, err := resp.Body().Content()
	if err != nil {
		return DeviceInfo{}, fmt.Errorf("castlink: device-desc: read body: %w", err)
	}
	xml := string(raw)
	return DeviceInfo{
		FriendlyName: xmlElementText(xml, "friendlyName"),
		Manufacturer: xmlElementText(xml, "manufacturer"),
		ModelName:    xmlElementText(xml, "modelName"),
		DeviceType:   xmlElementText(xml, "deviceType"),
		UDN:          xmlElementText(xml, "UDN"),
	}, nil
}

// Reboot asks the receiver to reboot via POST /setup/reboot, matching
// Chromecast.reboot's literal JSON body. PostData's own body encoding
// only covers text/parameters and form-urlencoded, not a raw JSON
// literal, so this builds the request directly rather than forcing a
// mismatched encoding through PostData.
func (d *Device) Reboot(ctx context.Context) error {
	req := http11.NewRequest("POST", "/setup/reboot")
	req.Header().Set("Content-Type", "application/json")
	req.Body().AddContent([]byte(`{"params": "now"}`))
	resp, err := d.client.SendRequest(ctx, req)
	if err != nil {
		return fmt.Errorf("castlink: reboot: %w", err)
	}
	if resp.Code != 200 {
		return fmt.Errorf("castlink: reboot: HTTP %d", resp.Code)
	}
	return nil
}

// xmlElementText returns the trimmed text content of the first
// <tag>...</tag> element in xml. Only the bare, unprefixed tag with no
// attributes is matched; a namespace-prefixed element or one carrying
// attributes is not found. Returns "" if the tag is absent or empty.
func xmlElementText(xml, tag string) string {
	open := "<" + tag + ">"
	start := strings.Index(xml, open)
	if start == -1 {
		return ""
	}
	rest := xml[start+len(open):]
	end := strings.Index(rest, "</"+tag+">")
	if end == -1 {
		return ""
	}
	return strings.TrimSpace(rest[:end])
}
