package castlink

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/castbeam/castbeam/internal/metrics"
)

// SessionState models the lifecycle of one app session on the receiver.
// atavism's ChromecastSession tracks none of this explicitly (just a
// connected bool and a media_loaded bool); this enumerates the full
// progression the spec calls for so callers can branch on where a session
// is rather than inferring it from two booleans.
type SessionState int

const (
	StateNew SessionState = iota
	StateConnecting
	StateConnected
	StateLoading
	StateLoaded
	StatePlaying
	StateFinished
	StateDisconnected
)

func (s SessionState) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateLoading:
		return "loading"
	case StateLoaded:
		return "loaded"
	case StatePlaying:
		return "playing"
	case StateFinished:
		return "finished"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Session is one launched-app session on the receiver. Grounded on
// chromecast.py's ChromecastSession. The back-reference to the owning
// Client is held as the narrow Responder capability, so a Session can
// enqueue envelopes and run correlated requests but never reach the
// socket, the session table, or another session.
type Session struct {
	link Responder

	AppID       string
	DisplayName string
	Namespaces  []string
	SessionID   string
	StatusText  string
	TransportID string

	mu             sync.Mutex
	state          SessionState
	mediaSessionID int
	mediaPosition  float64
	mediaStatus    string
}

func newSessionFromStatus(link Responder, data map[string]interface{}) *Session {
	s := &Session{
		link:  link,
		state: StateNew,
	}
	s.AppID, _ = data["appId"].(string)
	s.DisplayName, _ = data["displayName"].(string)
	s.SessionID, _ = data["sessionId"].(string)
	s.StatusText, _ = data["statusText"].(string)
	s.TransportID, _ = data["transportId"].(string)
	if nsList, ok := data["namespaces"].([]interface{}); ok {
		for _, raw := range nsList {
			if m, ok := raw.(map[string]interface{}); ok {
				if name, ok := m["name"].(string); ok {
					s.Namespaces = append(s.Namespaces, name)
				}
			}
		}
	}
	return s
}

// UsesCastAPI reports whether the launched app exposes the Castlink media
// API (some receiver apps only implement the plain receiver namespace).
func (s *Session) UsesCastAPI() bool {
	return s.TransportID != ""
}

// State returns the session's current lifecycle state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(st SessionState) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
	metrics.Get().RecordSessionStateChange(st.String())
}

func (s *Session) setConnected(connected bool) {
	if connected {
		s.setState(StateConnected)
		return
	}
	s.setState(StateDisconnected)
}

// Connect opens a virtual connection to the session's transport and
// confirms it with a GET_STATUS round trip on the media namespace.
// Grounded on ChromecastSession.connect.
func (s *Session) Connect(ctx context.Context) error {
	if s.TransportID == "" {
		return fmt.Errorf("castlink: session has no transport id")
	}
	s.setState(StateConnecting)

	connectPayload, err := envelopeJSON(map[string]interface{}{"type": "CONNECT"})
	if err != nil {
		return err
	}
	s.link.Enqueue((&Envelope{
		SourceID:      "source-0",
		DestinationID: s.TransportID,
		Namespace:     ConnectionNS,
	}).WithJSON(connectPayload))

	resp, err := s.link.Request(ctx, MediaNS, s.TransportID, map[string]interface{}{"type": "GET_STATUS"})
	if err != nil {
		s.setState(StateDisconnected)
		return err
	}
	_ = resp
	s.setState(StateConnected)
	return nil
}

// Disconnect sends a CLOSE on the connection namespace. Grounded on
// ChromecastSession.disconnect.
func (s *Session) Disconnect() {
	if s.State() == StateDisconnected || s.State() == StateNew {
		return
	}
	closePayload, err := envelopeJSON(map[string]interface{}{"type": "CLOSE"})
	if err != nil {
		return
	}
	s.link.Enqueue((&Envelope{
		SourceID:      "source-0",
		DestinationID: s.TransportID,
		Namespace:     ConnectionNS,
	}).WithJSON(closePayload))
	s.setState(StateDisconnected)
}

// GetMediaStatus requests a fresh media status update, applying it to the
// session if one is loaded. Grounded on ChromecastSession.get_media_status.
func (s *Session) GetMediaStatus(ctx context.Context) error {
	if s.State() != StateLoaded && s.State() != StatePlaying {
		return nil
	}
	resp, err := s.link.Request(ctx, MediaNS, s.TransportID, map[string]interface{}{"type": "GET_STATUS"})
	if err != nil {
		return err
	}
	msg, err := decodeJSON(resp)
	if err != nil {
		return err
	}
	s.updateMediaStatus(msg)
	return nil
}

// GetStatus requests the full session status on its primary namespace.
// Grounded on ChromecastSession.get_status, which in the Python source
// references an undefined name "elf.transport_id" (a typo for
// "self.transport_id") and would raise NameError if ever called; this
// fixes that bug rather than reproducing it.
func (s *Session) GetStatus(ctx context.Context) (*Envelope, error) {
	if len(s.Namespaces) == 0 {
		return nil, fmt.Errorf("castlink: session has no namespaces")
	}
	return s.link.Request(ctx, s.Namespaces[0], s.TransportID, map[string]interface{}{
		"type":           "GET_STATUS",
		"mediaSessionId": s.SessionID,
	})
}

// LoadMovie issues a LOAD for url/contentType and, on success, transitions
// the session to StateLoaded and pulls a fresh media status. Grounded on
// ChromecastSession.load_movie.
func (s *Session) LoadMovie(ctx context.Context, url, contentType string, duration *float64) error {
	if s.State() != StateConnected {
		return fmt.Errorf("castlink: session not connected")
	}
	s.setState(StateLoading)

	media := map[string]interface{}{
		"contentId":   url,
		"contentType": contentType,
		"streamType":  "BUFFERING",
	}
	if duration != nil {
		media["duration"] = *duration
	}
	payload := map[string]interface{}{
		"type":     "LOAD",
		"media":    media,
		"autoplay": false,
	}

	resp, err := s.link.Request(ctx, s.Namespaces[0], s.TransportID, payload)
	if err != nil {
		s.setState(StateConnected)
		return fmt.Errorf("castlink: unable to load media: %w", err)
	}
	msg, err := decodeJSON(resp)
	if err == nil {
		s.updateMediaStatus(msg)
	}
	s.setState(StateLoaded)
	return s.GetMediaStatus(ctx)
}

// PlayMedia issues a PLAY for the currently-loaded media session.
// Grounded on ChromecastSession.play_media.
func (s *Session) PlayMedia(ctx context.Context) error {
	if s.State() != StateLoaded {
		return fmt.Errorf("castlink: no media loaded")
	}
	s.mu.Lock()
	mediaSessionID := s.mediaSessionID
	s.mu.Unlock()

	_, err := s.link.Request(ctx, s.Namespaces[0], s.TransportID, map[string]interface{}{
		"type":           "PLAY",
		"mediaSessionId": mediaSessionID,
	})
	if err != nil {
		return err
	}
	s.setState(StatePlaying)
	return nil
}

// updateMediaStatus applies a MEDIA_STATUS payload (whether received as a
// broadcast or as a GetMediaStatus reply). Grounded on
// ChromecastSession.update_media_status.
func (s *Session) updateMediaStatus(data map[string]interface{}) {
	if data["type"] != "MEDIA_STATUS" {
		return
	}
	status := firstStatus(data["status"])
	if status == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := status["mediaSessionId"].(float64); ok {
		s.mediaSessionID = int(v)
	}
	if v, ok := status["playerState"].(string); ok {
		s.mediaStatus = v
	}
	if v, ok := status["currentTime"].(float64); ok {
		s.mediaPosition = v
	}
	if _, ok := status["idleReason"]; ok {
		s.state = StateFinished
	}
}

// MediaStatus returns the most recently observed player state and
// position.
func (s *Session) MediaStatus() (playerState string, position float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mediaStatus, s.mediaPosition
}

// WatchMediaStatus polls GET_STATUS on the media namespace at roughly the
// given interval, reporting each observed (playerState, position) pair
// through report, until the receiver signals an idleReason (playback
// finished) or ctx is cancelled. Grounded on devices.py's show_progress
// loop; pacing goes through a rate.Limiter so a slow receiver reply never
// triggers a burst of catch-up polls.
func (s *Session) WatchMediaStatus(ctx context.Context, interval time.Duration, report func(playerState string, position float64)) error {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	limiter := rate.NewLimiter(rate.Every(interval), 1)
	for {
		if err := limiter.Wait(ctx); err != nil {
			return err
		}
		if err := s.GetMediaStatus(ctx); err != nil {
			return err
		}
		if report != nil {
			state, position := s.MediaStatus()
			report(state, position)
		}
		if s.State() == StateFinished {
			return nil
		}
	}
}

func firstStatus(v interface{}) map[string]interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		return t
	case []interface{}:
		if len(t) == 0 {
			return nil
		}
		m, _ := t[0].(map[string]interface{})
		return m
	default:
		return nil
	}
}

func envelopeJSON(payload map[string]interface{}) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
