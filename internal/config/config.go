// Package config loads castbeam's environment-driven settings. The shape
// (flat struct, getEnv*/Load helpers, optional .env file via LoadEnvFile)
// is lifted from the teacher's internal/config/config.go; the fields are
// retargeted from IPTV/Plex catalog settings to the three protocol
// engines' own knobs.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the settings the discovery, http11, and castlink engines
// (plus their thin outer-app glue) read at startup.
type Config struct {
	// Discovery (internal/discovery)
	DiscoveryServices []string      // mDNS/DNS-SD service names to query, e.g. "_googlecast._tcp.local"
	DiscoveryTimeout  time.Duration // find_devices() deadline, spec.md §4.1 default 10s

	// HTTP server (internal/http11) serving the HLS playlist/segments
	HTTPBindAddr    string // interface to bind, "" = all
	HTTPPortMin     int    // spec.md §6: random port in [8100, 20000)
	HTTPPortMax     int
	HTTPPortRetries int // bind attempts before giving up, spec.md §6 default 5

	// DeviceCachePath is the SQLite file internal/discovery persists its
	// last-seen device map in; "" disables the cache.
	DeviceCachePath string

	// Segment directory and external encoder subprocess (internal/encoder)
	SegmentDir  string
	EncoderBin  string
	EncoderArgs []string // extra args appended after castbeam's own input/output flags

	// Castlink control channel (internal/castlink)
	CastlinkPort               int
	CastlinkInsecureSkipVerify bool // spec.md §4.3: not validated by default; opt-in to verify
	DeviceHTTPPort             int  // companion unencrypted port, spec.md §6 default 8008

	// AppleTV control plane (internal/appletv)
	AppleTVPort int

	UserAgent string
}

// Load reads Config from CASTBEAM_* environment variables. Call
// LoadEnvFile(".env") first to populate the environment from a file.
func Load() *Config {
	return &Config{
		DiscoveryServices: getEnvList("CASTBEAM_DISCOVERY_SERVICES", []string{
			"_googlecast._tcp.local",
			"_airplay._tcp.local",
		}),
		DiscoveryTimeout: getEnvDuration("CASTBEAM_DISCOVERY_TIMEOUT", 10*time.Second),

		DeviceCachePath: getEnv("CASTBEAM_DEVICE_CACHE", defaultSegmentDir()+"/devices.db"),

		HTTPBindAddr:    getEnv("CASTBEAM_HTTP_BIND", ""),
		HTTPPortMin:     getEnvInt("CASTBEAM_HTTP_PORT_MIN", 8100),
		HTTPPortMax:     getEnvInt("CASTBEAM_HTTP_PORT_MAX", 20000),
		HTTPPortRetries: getEnvInt("CASTBEAM_HTTP_PORT_RETRIES", 5),

		SegmentDir:  getEnv("CASTBEAM_SEGMENT_DIR", defaultSegmentDir()),
		EncoderBin:  getEnv("CASTBEAM_ENCODER_BIN", "ffmpeg"),
		EncoderArgs: getEnvList("CASTBEAM_ENCODER_ARGS", nil),

		CastlinkPort:               getEnvInt("CASTBEAM_CASTLINK_PORT", 8009),
		CastlinkInsecureSkipVerify: getEnvBool("CASTBEAM_CASTLINK_INSECURE_SKIP_VERIFY", true),
		DeviceHTTPPort:             getEnvInt("CASTBEAM_DEVICE_HTTP_PORT", 8008),

		AppleTVPort: getEnvInt("CASTBEAM_APPLETV_PORT", 7000),

		UserAgent: getEnv("CASTBEAM_USER_AGENT", "castbeam/1"),
	}
}

func defaultSegmentDir() string {
	return "/tmp/castbeam"
}

func getEnvString(key string) (string, bool) {
	v := os.Getenv(key)
	if v == "" {
		return "", false
	}
	return v, true
}

func getEnv(key, defaultVal string) string {
	if v, ok := getEnvString(key); ok {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if v, ok := getEnvString(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if v, ok := getEnvString(key); ok {
		return v == "1" || strings.EqualFold(v, "true") || strings.EqualFold(v, "yes")
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if v, ok := getEnvString(key); ok {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}

// getEnvList splits a comma-separated CASTBEAM_* variable, trimming
// whitespace around each entry and dropping empties. Returns defaultVal
// when the variable is unset.
func getEnvList(key string, defaultVal []string) []string {
	v, ok := getEnvString(key)
	if !ok {
		return defaultVal
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return defaultVal
	}
	return out
}
