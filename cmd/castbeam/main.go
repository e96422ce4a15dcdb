// Command castbeam discovers a LAN media receiver, drives its control
// channel, and serves a local video file to it as an HLS stream produced
// by an external encoder subprocess.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/castbeam/castbeam/internal/appletv"
	"github.com/castbeam/castbeam/internal/castlink"
	"github.com/castbeam/castbeam/internal/config"
	"github.com/castbeam/castbeam/internal/discovery"
	"github.com/castbeam/castbeam/internal/encoder"
	"github.com/castbeam/castbeam/internal/health"
	"github.com/castbeam/castbeam/internal/http11"
	"github.com/castbeam/castbeam/internal/logging"
	"github.com/castbeam/castbeam/internal/metrics"
	"github.com/castbeam/castbeam/internal/streamserver"
	"github.com/castbeam/castbeam/internal/supervisor"
)

func main() {
	videoPath := flag.String("video", "", "Path to the source video file to cast")
	receiverHost := flag.String("receiver", "", "Hostname or IP of the cast receiver (skip mDNS discovery if set)")
	useAppleTV := flag.Bool("appletv", false, "Drive the receiver as an AppleTV-style REST control plane instead of Castlink")
	envFile := flag.String("env-file", "", "Optional .env file to load before reading CASTBEAM_* vars")
	flag.Parse()

	if *envFile != "" {
		if err := config.LoadEnvFile(*envFile); err != nil {
			log.Fatalf("load env file: %v", err)
		}
	}
	cfg := config.Load()
	runID := uuid.New().String()
	baseLog := logging.New("castbeam").With(runID[:8])

	if *videoPath == "" {
		fmt.Fprintln(os.Stderr, "castbeam: -video is required")
		os.Exit(2)
	}

	host := *receiverHost
	if host == "" {
		found, err := discoverReceiver(cfg, baseLog)
		if err != nil {
			log.Fatalf("discover receiver: %v", err)
		}
		host = found
	}

	if err := os.MkdirAll(cfg.SegmentDir, 0755); err != nil {
		log.Fatalf("create segment dir: %v", err)
	}

	listener, httpPort, err := listenRandomPort(cfg)
	if err != nil {
		log.Fatalf("listen: %v", err)
	}
	streamLog := baseLog.With("http11")
	httpServer := http11.NewServer(streamserver.New(cfg.SegmentDir, streamLog), streamLog)

	playlistURL := fmt.Sprintf("http://%s:%d/%s", receiverFacingHost(cfg), httpPort, "index.m3u8")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tasks := []supervisor.Task{
		{
			Name: "http11-server",
			Run: func(ctx context.Context) error {
				errCh := make(chan error, 1)
				go func() { errCh <- httpServer.Serve(listener) }()
				select {
				case <-ctx.Done():
					httpServer.Close()
					return ctx.Err()
				case err := <-errCh:
					return err
				}
			},
		},
		{
			Name: "encoder",
			Run: func(ctx context.Context) error {
				job := encoder.Job{
					Bin:          cfg.EncoderBin,
					InputPath:    *videoPath,
					OutputDir:    cfg.SegmentDir,
					PlaylistName: "index.m3u8",
					ExtraArgs:    cfg.EncoderArgs,
				}
				return encoder.Run(ctx, job, baseLog.With("encoder"))
			},
		},
		{
			Name: "playback",
			Run: func(ctx context.Context) error {
				return drivePlayback(ctx, cfg, host, playlistURL, *useAppleTV, baseLog)
			},
		},
	}

	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() { errCh <- supervisor.Run(ctx, baseLog, supervisor.Options{FailFast: true}, tasks...) }()

	select {
	case <-sigCtx.Done():
		baseLog.Infof("shutting down")
		cancel()
		<-errCh
	case err := <-errCh:
		if err != nil {
			log.Fatalf("castbeam: %v", err)
		}
	}
}

// listenRandomPort binds the local HLS server to a port chosen uniformly
// from [cfg.HTTPPortMin, cfg.HTTPPortMax), retrying on a fresh random port
// up to cfg.HTTPPortRetries times on bind failure, per spec.md §6.
func listenRandomPort(cfg *config.Config) (net.Listener, int, error) {
	span := cfg.HTTPPortMax - cfg.HTTPPortMin
	var lastErr error
	attempts := cfg.HTTPPortRetries
	if attempts < 1 {
		attempts = 1
	}
	for i := 0; i < attempts; i++ {
		port := cfg.HTTPPortMin
		if span > 0 {
			port += rand.Intn(span)
		}
		l, err := net.Listen("tcp", fmt.Sprintf("%s:%d", cfg.HTTPBindAddr, port))
		if err == nil {
			return l, port, nil
		}
		lastErr = err
	}
	return nil, 0, fmt.Errorf("bind local HLS server after %d attempts in [%d, %d): %w", attempts, cfg.HTTPPortMin, cfg.HTTPPortMax, lastErr)
}

// discoverReceiver runs one mDNS/DNS-SD discovery round across the
// configured service names and returns the first device's address. Found
// devices are persisted in the SQLite device cache; a round that comes up
// empty falls back to the most recently cached device, so a receiver the
// host has cast to before stays reachable across a missed mDNS reply.
func discoverReceiver(cfg *config.Config, baseLog *logging.Logger) (string, error) {
	log := baseLog.With("discovery")
	c, err := discovery.NewClient(log)
	if err != nil {
		return "", err
	}
	defer c.Close()

	var cache *discovery.Cache
	if cfg.DeviceCachePath != "" {
		if cache, err = discovery.OpenCache(cfg.DeviceCachePath); err != nil {
			log.Warnf("device cache unavailable: %v", err)
			cache = nil
		} else {
			defer cache.Close()
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DiscoveryTimeout)
	defer cancel()
	started := time.Now()
	devices, err := c.FindDevices(ctx, cfg.DiscoveryServices, cfg.DiscoveryTimeout)
	if err != nil {
		return "", err
	}

	perService := make(map[string]int)
	for _, d := range devices {
		perService[d.Service]++
		if cache != nil {
			if err := cache.Put(d); err != nil {
				log.Warnf("cache device %s: %v", d.InstanceName, err)
			}
		}
	}
	for _, service := range cfg.DiscoveryServices {
		metrics.Get().RecordDiscoveryRound(service, perService[service], 0, 0, time.Since(started).Seconds())
	}

	for _, d := range devices {
		for _, addr := range d.Addrs {
			return addr.String(), nil
		}
	}

	if cache != nil {
		cached, err := cache.All()
		if err != nil {
			log.Warnf("read device cache: %v", err)
		}
		for _, d := range cached {
			for _, addr := range d.Addrs {
				log.Infof("no live answers; using cached receiver %s (%s)", d.InstanceName, addr)
				return addr.String(), nil
			}
		}
	}
	return "", fmt.Errorf("no devices answered for %v within %s", cfg.DiscoveryServices, cfg.DiscoveryTimeout)
}

// drivePlayback waits for the HTTP server to answer, then tells the
// receiver to play playlistURL, either via Castlink or the AppleTV REST
// control plane.
func drivePlayback(ctx context.Context, cfg *config.Config, host, playlistURL string, useAppleTV bool, baseLog *logging.Logger) error {
	checkHost, checkPort, err := splitHostPort(playlistURL)
	if err != nil {
		return fmt.Errorf("playback: %w", err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	for {
		if err := health.CheckHTTPServer(waitCtx, checkHost, checkPort, baseLog); err == nil {
			break
		}
		select {
		case <-waitCtx.Done():
			return fmt.Errorf("http server never became ready: %w", waitCtx.Err())
		case <-time.After(200 * time.Millisecond):
		}
	}

	if useAppleTV {
		dev := appletv.NewDevice(host, cfg.AppleTVPort, baseLog.With("appletv"))
		defer dev.Close()
		return dev.Play(ctx, playlistURL)
	}

	device := castlink.NewDevice(host, cfg.DeviceHTTPPort, baseLog.With("castlink"))
	defer device.Close()
	if info, err := device.GetInfo(ctx); err == nil {
		baseLog.Infof("receiver: %s (%s %s)", info.FriendlyName, info.Manufacturer, info.ModelName)
	} else {
		baseLog.Warnf("could not read device descriptor: %v", err)
	}

	client := castlink.NewClient(host, cfg.CastlinkPort, cfg.CastlinkInsecureSkipVerify, baseLog.With("castlink"))
	defer client.Close()
	if err := client.Connect(ctx); err != nil {
		return fmt.Errorf("castlink connect: %w", err)
	}

	const defaultMediaApp = "CC1AD845"
	availability, err := client.GetAppAvailability(ctx, defaultMediaApp)
	if err != nil {
		return fmt.Errorf("check app availability: %w", err)
	}
	if !availability[defaultMediaApp] {
		return fmt.Errorf("castlink: receiver does not report %s as available", defaultMediaApp)
	}

	session, err := client.LaunchApp(ctx, defaultMediaApp)
	if err != nil {
		return fmt.Errorf("launch app: %w", err)
	}
	if err := session.Connect(ctx); err != nil {
		return fmt.Errorf("session connect: %w", err)
	}
	if err := session.LoadMovie(ctx, playlistURL, "application/vnd.apple.mpegurl", nil); err != nil {
		return fmt.Errorf("load movie: %w", err)
	}
	if err := session.PlayMedia(ctx); err != nil {
		return fmt.Errorf("play media: %w", err)
	}
	return pollUntilFinished(ctx, session, baseLog)
}

// pollUntilFinished watches the session's media status until the receiver
// reports an idleReason (playback finished) or ctx is cancelled, per
// spec.md §4.3's "Periodically poll GET_STATUS on the media namespace;
// finish when the received status carries an idleReason." A failed poll
// (e.g. one timed-out GET_STATUS) is logged and the watch resumes.
func pollUntilFinished(ctx context.Context, session *castlink.Session, baseLog *logging.Logger) error {
	for {
		err := session.WatchMediaStatus(ctx, 2*time.Second, func(state string, position float64) {
			baseLog.Debugf("media: %s at %.1fs", state, position)
		})
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		baseLog.Warnf("media status poll failed: %v", err)
	}
}

// receiverFacingHost returns the address the receiver should use to reach
// our HTTP server. CASTBEAM_HTTP_BIND is empty by default (bind-all is not
// itself dialable), so fall back to the local address our default route
// would use to reach the LAN.
func receiverFacingHost(cfg *config.Config) string {
	if cfg.HTTPBindAddr != "" && cfg.HTTPBindAddr != "0.0.0.0" {
		return cfg.HTTPBindAddr
	}
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "127.0.0.1"
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP.String()
}

// splitHostPort extracts the host and numeric port from a "http://host:port/..."
// URL for use with health.CheckHTTPServer, which dials by host/port rather
// than by URL.
func splitHostPort(rawURL string) (string, int, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", 0, err
	}
	host := parsed.Hostname()
	port, err := strconv.Atoi(parsed.Port())
	if err != nil {
		return "", 0, fmt.Errorf("no port in %q: %w", rawURL, err)
	}
	return host, port, nil
}
