package castlink

import "testing"

func TestNewSessionFromStatusParsesFields(t *testing.T) {
	c := testClient()
	sess := newSessionFromStatus(c, map[string]interface{}{
		"appId":       "CC1AD845",
		"displayName": "Default Media Receiver",
		"sessionId":   "sess-1",
		"statusText":  "Ready To Cast",
		"transportId": "web-1",
		"namespaces": []interface{}{
			map[string]interface{}{"name": MediaNS},
			map[string]interface{}{"name": ConnectionNS},
		},
	})

	if sess.AppID != "CC1AD845" || sess.TransportID != "web-1" {
		t.Fatalf("got %+v", sess)
	}
	if len(sess.Namespaces) != 2 || sess.Namespaces[0] != MediaNS {
		t.Fatalf("got namespaces %v", sess.Namespaces)
	}
	if !sess.UsesCastAPI() {
		t.Fatal("expected UsesCastAPI true when transportId is present")
	}
	if sess.State() != StateNew {
		t.Fatalf("expected new session to start in StateNew, got %v", sess.State())
	}
}

func TestSessionWithoutTransportDoesNotUseCastAPI(t *testing.T) {
	c := testClient()
	sess := newSessionFromStatus(c, map[string]interface{}{"appId": "some-app"})
	if sess.UsesCastAPI() {
		t.Fatal("expected UsesCastAPI false without a transportId")
	}
}

func TestUpdateMediaStatusIgnoresWrongType(t *testing.T) {
	c := testClient()
	sess := newSessionFromStatus(c, map[string]interface{}{"transportId": "web-1"})
	sess.updateMediaStatus(map[string]interface{}{"type": "RECEIVER_STATUS"})
	playerState, _ := sess.MediaStatus()
	if playerState != "" {
		t.Fatalf("expected no update, got %q", playerState)
	}
}

func TestUpdateMediaStatusSetsFinishedOnIdleReason(t *testing.T) {
	c := testClient()
	sess := newSessionFromStatus(c, map[string]interface{}{"transportId": "web-1"})
	sess.setState(StatePlaying)

	sess.updateMediaStatus(map[string]interface{}{
		"type": "MEDIA_STATUS",
		"status": map[string]interface{}{
			"mediaSessionId": 3.0,
			"playerState":    "IDLE",
			"idleReason":     "FINISHED",
		},
	})
	if sess.State() != StateFinished {
		t.Fatalf("expected StateFinished, got %v", sess.State())
	}
}

func TestLoadMovieRequiresConnectedState(t *testing.T) {
	c := testClient()
	sess := newSessionFromStatus(c, map[string]interface{}{
		"transportId": "web-1",
		"namespaces":  []interface{}{map[string]interface{}{"name": MediaNS}},
	})
	// Session starts in StateNew, not StateConnected.
	if err := sess.LoadMovie(nil, "http://example/movie.mp4", "video/mp4", nil); err == nil {
		t.Fatal("expected an error loading media on an unconnected session")
	}
}

func TestPlayMediaRequiresLoadedState(t *testing.T) {
	c := testClient()
	sess := newSessionFromStatus(c, map[string]interface{}{"transportId": "web-1"})
	if err := sess.PlayMedia(nil); err == nil {
		t.Fatal("expected an error playing media before it is loaded")
	}
}

func TestSessionStateString(t *testing.T) {
	cases := map[SessionState]string{
		StateNew:          "new",
		StateConnecting:   "connecting",
		StateConnected:    "connected",
		StateLoading:      "loading",
		StateLoaded:       "loaded",
		StatePlaying:      "playing",
		StateFinished:     "finished",
		StateDisconnected: "disconnected",
	}
	for state, want := range cases {
		if got := state.String(); got != want {
			t.Fatalf("state %d: got %q want %q", state, got, want)
		}
	}
}
