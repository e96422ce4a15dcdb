package castlink

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/castbeam/castbeam/internal/metrics"
)

// routeLoop dispatches decoded envelopes arriving on c.inbox. Grounded on
// switchboard(): heartbeat PINGs get PONGed, CONNECTION_NS CLOSE messages
// mark the owning session disconnected, MEDIA_NS broadcasts update session
// media status, and anything carrying a requestId a caller is waiting on
// gets delivered there.
func (c *Client) routeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case env := <-c.inbox:
			c.route(env)
		}
	}
}

func (c *Client) route(env *Envelope) {
	if env.Namespace == HeartbeatNS {
		c.handleHeartbeat(env)
		return
	}

	msg, err := decodeJSON(env)
	if err != nil {
		c.log.Warnf("non-JSON envelope on %s: %v", env.Namespace, err)
		return
	}

	if env.Namespace == ConnectionNS && msg["type"] == "CLOSE" {
		c.mu.Lock()
		if sess, ok := c.sessions[env.SourceID]; ok {
			sess.setConnected(false)
		}
		c.mu.Unlock()
		return
	}

	if env.Namespace == MediaNS && env.DestinationID == "*" {
		c.mu.Lock()
		sess, ok := c.sessions[env.SourceID]
		c.mu.Unlock()
		if ok {
			sess.updateMediaStatus(msg)
		}
	}

	if reqID, ok := asRequestID(msg["requestId"]); ok {
		c.mu.Lock()
		ch, ok := c.pending[reqID]
		c.mu.Unlock()
		if ok {
			select {
			case ch <- env:
			default:
			}
		}
	}
}

// handleHeartbeat answers a PING in kind, echoing the source/destination
// pair the PING arrived with (they may not be source-0/receiver-0 once a
// session has its own virtual connection). Grounded on
// HeartbeatReceiver.process_message.
func (c *Client) handleHeartbeat(env *Envelope) {
	start := time.Now()
	msg, err := decodeJSON(env)
	if err != nil {
		return
	}
	if msg["type"] != "PING" {
		return
	}
	pong := &Envelope{
		SourceID:      env.DestinationID,
		DestinationID: env.SourceID,
		Namespace:     HeartbeatNS,
	}
	c.output <- pong.WithJSON(`{"type":"PONG"}`)
	metrics.Get().RecordHeartbeat(time.Since(start).Seconds())
}

func decodeJSON(env *Envelope) (map[string]interface{}, error) {
	if env.PayloadType != TypeString {
		return nil, fmt.Errorf("castlink: binary payload has no JSON body")
	}
	var msg map[string]interface{}
	if err := json.Unmarshal(env.Data, &msg); err != nil {
		return nil, err
	}
	return msg, nil
}

func asRequestID(v interface{}) (int, bool) {
	f, ok := v.(float64)
	if !ok {
		return 0, false
	}
	return int(f), true
}
