package castlink

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/castbeam/castbeam/internal/logging"
	"github.com/castbeam/castbeam/internal/metrics"
)

// Responder is the capability a Session holds on its owning Client: enqueue
// an envelope for send, or run a correlated request/response round trip.
// Sessions never see the rest of the Client, so the back-reference carries
// no way to reach the socket or the session table.
type Responder interface {
	Enqueue(env *Envelope)
	Request(ctx context.Context, namespace, destination string, payload map[string]interface{}) (*Envelope, error)
}

const (
	recvBufSize    = 2048
	connectTimeout = 10 * time.Second

	minRequestID = 1000000
	maxRequestID = 80000000
)

// Client holds one Castlink control-channel connection to a receiver
// device. Grounded on chromecast.py's ChromecastClient: the Python's
// communicator()/switchboard() thread pair plus input/output Queues
// becomes a read-loop goroutine, a write-loop goroutine fed by a channel,
// and a router goroutine fed by a channel of decoded envelopes.
type Client struct {
	host string
	port int

	tlsConfig *tls.Config
	conn      net.Conn

	output chan *Envelope
	inbox  chan *Envelope

	mu            sync.Mutex
	reqID         int
	pending       map[int]chan *Envelope
	sessions      map[string]*Session
	availableApps map[string]bool

	log *logging.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// NewClient returns a Client targeting host:port. insecureSkipVerify
// mirrors the Python's unauthenticated ssl.wrap_socket(): Castlink
// receivers present a self-signed device certificate that cannot be
// validated against a public CA, so certificate verification is off by
// default and left to the caller to tighten if their deployment can.
func NewClient(host string, port int, insecureSkipVerify bool, log *logging.Logger) *Client {
	return &Client{
		host: host,
		port: port,
		tlsConfig: &tls.Config{
			InsecureSkipVerify: insecureSkipVerify,
		},
		output:        make(chan *Envelope, 32),
		inbox:         make(chan *Envelope, 32),
		pending:       make(map[int]chan *Envelope),
		sessions:      make(map[string]*Session),
		availableApps: make(map[string]bool),
		log:           log,
	}
}

// Connect dials the receiver, starts the read/write/router goroutines,
// and sends the initial CONNECT handshake on the connection namespace.
// Mirrors ChromecastClient.start().
func (c *Client) Connect(ctx context.Context) error {
	dialer := &net.Dialer{Timeout: connectTimeout}
	raw, err := dialer.DialContext(ctx, "tcp", fmt.Sprintf("%s:%d", c.host, c.port))
	if err != nil {
		return fmt.Errorf("castlink: dial %s:%d: %w", c.host, c.port, err)
	}
	conn := tls.Client(raw, c.tlsConfig)
	if err := conn.HandshakeContext(ctx); err != nil {
		raw.Close()
		return fmt.Errorf("castlink: tls handshake: %w", err)
	}
	c.conn = conn

	runCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.done = make(chan struct{})

	go c.readLoop(runCtx)
	go c.writeLoop(runCtx)
	go c.routeLoop(runCtx)

	c.output <- NewEnvelope().WithJSON(`{"type":"CONNECT"}`)
	return nil
}

// Close stops the background loops and closes the connection.
func (c *Client) Close() error {
	if c.cancel != nil {
		c.cancel()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

func (c *Client) nextRequestID() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.reqID == 0 {
		c.reqID = minRequestID + rand.Intn(maxRequestID-minRequestID)
	}
	c.reqID++
	return c.reqID
}

// Enqueue queues an envelope for the write loop. Part of the Responder
// capability handed to Sessions.
func (c *Client) Enqueue(env *Envelope) {
	c.output <- env
}

// Request is PutAndWait under the Responder capability's name.
func (c *Client) Request(ctx context.Context, namespace, destination string, payload map[string]interface{}) (*Envelope, error) {
	return c.PutAndWait(ctx, namespace, destination, payload)
}

func (c *Client) writeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case env := <-c.output:
			if _, err := c.conn.Write(env.Marshal()); err != nil {
				c.log.Warnf("write failed: %v", err)
				return
			}
			metrics.Get().RecordEnvelopeSent(env.Namespace)
		}
	}
}

func (c *Client) readLoop(ctx context.Context) {
	defer close(c.done)
	var buf []byte
	readBuf := make([]byte, recvBufSize)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		c.conn.SetReadDeadline(time.Now().Add(1 * time.Second))
		n, err := c.conn.Read(readBuf)
		if n > 0 {
			buf = append(buf, readBuf[:n]...)
			frames, consumed, ferr := SplitFrames(buf)
			if ferr != nil {
				c.log.Warnf("frame split error: %v", ferr)
			}
			buf = buf[consumed:]
			for _, frame := range frames {
				env, perr := ParseEnvelope(frame)
				if perr != nil {
					c.log.Warnf("envelope parse error, closing connection: %v", perr)
					c.conn.Close()
					return
				}
				metrics.Get().RecordEnvelopeReceived(env.Namespace)
				select {
				case c.inbox <- env:
				case <-ctx.Done():
					return
				}
			}
		}
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			c.log.Warnf("read failed: %v", err)
			return
		}
	}
}

// PutAndWait sends an envelope on namespace/destination carrying payload
// plus a fresh requestId, then blocks for the matching reply or until ctx
// is done. Grounded on put_and_wait's Event-based correlation.
func (c *Client) PutAndWait(ctx context.Context, namespace, destination string, payload map[string]interface{}) (*Envelope, error) {
	reqID := c.nextRequestID()
	if payload == nil {
		payload = map[string]interface{}{}
	}
	payload["requestId"] = reqID

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("castlink: marshal payload: %w", err)
	}

	ch := make(chan *Envelope, 1)
	c.mu.Lock()
	c.pending[reqID] = ch
	c.mu.Unlock()
	metrics.Get().PendingRequests.Inc()
	defer func() {
		c.mu.Lock()
		delete(c.pending, reqID)
		c.mu.Unlock()
		metrics.Get().PendingRequests.Dec()
	}()

	env := &Envelope{
		SourceID:      "source-0",
		DestinationID: destination,
		Namespace:     namespace,
	}
	env.WithJSON(string(data))

	select {
	case c.output <- env:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case resp := <-ch:
		return resp, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// StopApps tells the receiver to STOP every currently launched session
// and disconnects each locally. Grounded on ChromecastClient.stop_apps;
// the transport ids are snapshotted into a slice before the loop so
// deleting from c.sessions mid-iteration never races a concurrent
// range over the same map.
func (c *Client) StopApps(ctx context.Context) {
	c.mu.Lock()
	transportIDs := make([]string, 0, len(c.sessions))
	for id := range c.sessions {
		transportIDs = append(transportIDs, id)
	}
	c.mu.Unlock()

	for _, id := range transportIDs {
		c.mu.Lock()
		sess, ok := c.sessions[id]
		c.mu.Unlock()
		if !ok {
			continue
		}
		c.PutAndWait(ctx, ReceiverNS, PlatformDest, map[string]interface{}{
			"type":      "STOP",
			"sessionId": sess.SessionID,
		})
		sess.Disconnect()
		c.mu.Lock()
		delete(c.sessions, id)
		c.mu.Unlock()
	}
}

// GetStatus queries the receiver's overall status.
func (c *Client) GetStatus(ctx context.Context) (*Envelope, error) {
	return c.PutAndWait(ctx, ReceiverNS, PlatformDest, map[string]interface{}{"type": "GET_STATUS"})
}

// GetAppAvailability reports, for each of appIDs, whether the receiver
// can launch it. Already-confirmed ids are served from the cache built up
// across the client's lifetime; only unconfirmed ids are actually asked
// about. Grounded on ChromecastClient.get_app_availability.
func (c *Client) GetAppAvailability(ctx context.Context, appIDs ...string) (map[string]bool, error) {
	result := make(map[string]bool, len(appIDs))
	var toAsk []string
	c.mu.Lock()
	for _, id := range appIDs {
		if c.availableApps[id] {
			result[id] = true
		} else {
			toAsk = append(toAsk, id)
		}
	}
	c.mu.Unlock()

	if len(toAsk) > 0 {
		ids := make([]interface{}, len(toAsk))
		for i, id := range toAsk {
			ids[i] = id
		}
		resp, err := c.PutAndWait(ctx, ReceiverNS, PlatformDest, map[string]interface{}{
			"type":  "GET_APP_AVAILABILITY",
			"appId": ids,
		})
		if err != nil {
			return nil, err
		}
		msg, err := decodeJSON(resp)
		if err != nil {
			return nil, err
		}
		availability, _ := msg["availability"].(map[string]interface{})
		c.mu.Lock()
		for id, v := range availability {
			if s, ok := v.(string); ok && s == "APP_AVAILABLE" {
				c.availableApps[id] = true
			}
		}
		c.mu.Unlock()
	}

	c.mu.Lock()
	for _, id := range appIDs {
		if _, ok := result[id]; !ok {
			result[id] = c.availableApps[id]
		}
	}
	c.mu.Unlock()
	return result, nil
}

// LaunchApp requests the receiver launch appID and returns the resulting
// Session. Grounded on ChromecastClient.launch_app.
func (c *Client) LaunchApp(ctx context.Context, appID string) (*Session, error) {
	resp, err := c.PutAndWait(ctx, ReceiverNS, PlatformDest, map[string]interface{}{
		"type":  "LAUNCH",
		"appId": appID,
	})
	if err != nil {
		return nil, err
	}
	msg, err := decodeJSON(resp)
	if err != nil {
		return nil, err
	}
	status, _ := msg["status"].(map[string]interface{})
	apps, _ := status["applications"].([]interface{})
	if len(apps) == 0 {
		return nil, fmt.Errorf("castlink: launch response carried no applications")
	}
	appData, _ := apps[0].(map[string]interface{})
	sess := newSessionFromStatus(c, appData)
	if sess.TransportID == "" {
		return nil, fmt.Errorf("castlink: app %s has been loaded but does not use the cast API", appID)
	}
	c.mu.Lock()
	c.sessions[sess.TransportID] = sess
	c.mu.Unlock()
	return sess, nil
}
