// Package venueclient maintains the dealer's single websocket connection to
// the swap venue. It turns the bidirectional asynchronous message stream
// into synchronous calls: each request carries a monotonically increasing
// identifier and the issuing caller blocks until the response tagged with
// that identifier arrives or the request timeout elapses. The venue contract
// guarantees strict request/response pairing over the connection, so at most
// one request is ever in flight; venue pushes without an identifier are
// delivered as events instead.
package venueclient

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/btcsuite/go-socks/socks"
	"github.com/gorilla/websocket"

	"github.com/swapsuite/swap-dealer-server/dealerjson"
)

const (
	// defaultRequestTimeout bounds every venue call. A stalled venue
	// connection is treated as unrecoverable for the current operation
	// rather than silently retried with stale state.
	defaultRequestTimeout = time.Second * 5

	// connectionRetryInterval is the base delay between reconnection
	// attempts. The delay grows linearly with consecutive failures up
	// to maxRetryMultiplier times this value.
	connectionRetryInterval = time.Second * 5
	maxRetryMultiplier      = 12

	// sendBufferSize is the number of outbound messages that can queue
	// before a sender blocks.
	sendBufferSize = 5
)

var (
	// ErrClientShutdown is returned when a call is issued against a
	// client that has been stopped.
	ErrClientShutdown = errors.New("the venue client has been shutdown")

	// ErrClientDisconnected is returned when a call is issued while the
	// connection to the venue is down.
	ErrClientDisconnected = errors.New("the venue client has been disconnected")
)

// Events delivered on the Events channel alongside typed venue
// notifications.
type (
	// Connected signals a freshly established venue session. The
	// consumer must redo the session handshake (dealer login, asset
	// list) on every Connected event.
	Connected struct{}

	// Disconnected signals the venue connection dropped. Any session
	// scoped state is stale from this point on.
	Disconnected struct{}

	// ProtocolError signals a violation of the venue's request/response
	// contract, such as a response tagged with an identifier that is
	// not the outstanding one. The engine has no defined recovery for
	// this and must treat it as fatal.
	ProtocolError struct {
		Err error
	}
)

// wsConn is the subset of the websocket connection the client uses. It is
// an interface so the correlator can be exercised without a network peer.
type wsConn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// ConnConfig describes the connection to the swap venue.
type ConnConfig struct {
	// Host is the venue endpoint as host:port.
	Host string

	// Endpoint is the websocket path on the venue host.
	Endpoint string

	// UseTLS dictates a wss connection. Certificates, if non-nil, holds
	// PEM encoded root certificates used to validate the server.
	UseTLS       bool
	Certificates []byte

	// Proxy and its credentials optionally route the connection through
	// a SOCKS5 proxy.
	Proxy     string
	ProxyUser string
	ProxyPass string

	// RequestTimeout bounds every venue call. Zero selects the default
	// of five seconds.
	RequestTimeout time.Duration

	// DisableAutoReconnect stops the client from re-dialing after a
	// dropped connection. Reconnection always produces a fresh
	// Connected event; the core never resumes a session.
	DisableAutoReconnect bool
}

// response carries the outcome of one venue call from the input handler to
// the blocked caller.
type response struct {
	result json.RawMessage
	err    error
}

// Client represents the dealer's connection to the swap venue.
type Client struct {
	// requestID is the identifier of the outstanding request. It is
	// incremented atomically by the issuing goroutine and read by the
	// transport reader for correlation, and is never reused.
	requestID int64

	config *ConnConfig

	connMtx      sync.Mutex
	conn         wsConn
	disconnected bool

	// requestLock serializes calls so at most one request is in flight.
	requestLock sync.Mutex

	// responseChan is the single pending response slot.
	responseChan chan *response

	sendChan chan []byte

	enqueueEvent chan interface{}
	dequeueEvent chan interface{}

	started  bool
	quit     chan struct{}
	quitMtx  sync.Mutex
	shutdown int32
	wg       sync.WaitGroup
}

// New creates a venue client for the described endpoint. The connection is
// not established until Start is called.
func New(config *ConnConfig) (*Client, error) {
	if config.Host == "" {
		return nil, errors.New("venue host must not be empty")
	}
	if config.RequestTimeout == 0 {
		config.RequestTimeout = defaultRequestTimeout
	}

	return &Client{
		config:       config,
		responseChan: make(chan *response, 1),
		sendChan:     make(chan []byte, sendBufferSize),
		enqueueEvent: make(chan interface{}),
		dequeueEvent: make(chan interface{}),
		quit:         make(chan struct{}),
	}, nil
}

// Start establishes the websocket connection and launches the handler
// goroutines. A Connected event is delivered once the session is up.
func (c *Client) Start() error {
	conn, err := c.dial()
	if err != nil {
		return err
	}

	c.connMtx.Lock()
	c.conn = conn
	c.disconnected = false
	c.connMtx.Unlock()

	c.quitMtx.Lock()
	c.started = true
	c.quitMtx.Unlock()

	c.wg.Add(3)
	go c.eventHandler()
	go c.wsOutHandler()
	go c.wsInHandler()

	c.notifyEvent(Connected{})
	log.Infof("Connected to venue %v", c.config.Host)
	return nil
}

// Stop disconnects the client and signals the shutdown of all goroutines
// started by Start.
func (c *Client) Stop() {
	c.quitMtx.Lock()
	select {
	case <-c.quit:
	default:
		close(c.quit)
		atomic.StoreInt32(&c.shutdown, 1)

		c.connMtx.Lock()
		if c.conn != nil {
			c.conn.Close()
		}
		c.connMtx.Unlock()

		if !c.started {
			close(c.dequeueEvent)
		}
	}
	c.quitMtx.Unlock()
	log.Trace("Venue client done")
}

// WaitForShutdown blocks until all client goroutines have exited.
func (c *Client) WaitForShutdown() {
	c.wg.Wait()
}

// Events returns the channel carrying connection lifecycle events and typed
// venue notifications. This channel must be continually read or the process
// may abort for running out of memory, as unread events are queued for
// later reads.
func (c *Client) Events() <-chan interface{} {
	return c.dequeueEvent
}

// dial opens the websocket connection described by the client config,
// optionally through a SOCKS5 proxy.
func (c *Client) dial() (wsConn, error) {
	var tlsConfig *tls.Config
	scheme := "ws"
	if c.config.UseTLS {
		scheme = "wss"
		tlsConfig = &tls.Config{}
		if len(c.config.Certificates) > 0 {
			pool := x509.NewCertPool()
			if !pool.AppendCertsFromPEM(c.config.Certificates) {
				return nil, errors.New("invalid venue certificate")
			}
			tlsConfig.RootCAs = pool
		}
	}

	dialer := websocket.Dialer{TLSClientConfig: tlsConfig}
	if c.config.Proxy != "" {
		proxy := &socks.Proxy{
			Addr:     c.config.Proxy,
			Username: c.config.ProxyUser,
			Password: c.config.ProxyPass,
		}
		dialer.NetDial = func(network, addr string) (net.Conn, error) {
			return proxy.Dial(network, addr)
		}
	}

	url := fmt.Sprintf("%s://%s/%s", scheme, c.config.Host, c.config.Endpoint)
	conn, resp, err := dialer.Dial(url, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("venue dial %v: %v (%v)", url,
				err, resp.Status)
		}
		return nil, err
	}
	return conn, nil
}

// call issues one tagged request and blocks until the matching response
// arrives or the request timeout elapses. Calls are serialized; a second
// call issued before the first resolves blocks until the slot frees.
func (c *Client) call(method string, cmd interface{}) (json.RawMessage, error) {
	c.requestLock.Lock()
	defer c.requestLock.Unlock()

	select {
	case <-c.quit:
		return nil, ErrClientShutdown
	default:
	}
	c.connMtx.Lock()
	down := c.disconnected
	c.connMtx.Unlock()
	if down {
		return nil, ErrClientDisconnected
	}

	// Drop any stale response left behind by a timed out predecessor.
	select {
	case <-c.responseChan:
	default:
	}

	id := atomic.AddInt64(&c.requestID, 1)
	payload, err := dealerjson.MarshalRequest(id, method, cmd)
	if err != nil {
		return nil, err
	}

	log.Tracef("Sending venue command %v (id %d)", method, id)
	select {
	case c.sendChan <- payload:
	case <-c.quit:
		return nil, ErrClientShutdown
	}

	select {
	case resp := <-c.responseChan:
		if resp.err != nil {
			return nil, resp.err
		}
		return resp.result, nil
	case <-time.After(c.config.RequestTimeout):
		return nil, dealerjson.ErrRPCTimeout
	case <-c.quit:
		return nil, ErrClientShutdown
	}
}

// handleMessage classifies one inbound venue message: a reply for the
// outstanding request is delivered to the blocked caller, a notification is
// queued as an event, and anything else is a protocol violation.
func (c *Client) handleMessage(payload []byte) {
	var msg dealerjson.ResponseMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		c.notifyEvent(ProtocolError{
			Err: fmt.Errorf("malformed venue message: %v", err),
		})
		return
	}

	if msg.IsNotification() {
		ntfn, err := dealerjson.UnmarshalNotification(&msg)
		if err != nil {
			// Pushes the dealer does not consume are expected;
			// drop them.
			log.Debugf("Ignoring venue notification: %v", err)
			return
		}
		c.notifyEvent(ntfn)
		return
	}

	pending := atomic.LoadInt64(&c.requestID)
	if *msg.ID != pending {
		c.notifyEvent(ProtocolError{
			Err: fmt.Errorf("unexpected response id %d, expecting %d",
				*msg.ID, pending),
		})
		return
	}

	resp := &response{}
	if msg.Error != nil {
		resp.err = msg.Error
	} else {
		resp.result = msg.Result
	}
	select {
	case c.responseChan <- resp:
	default:
		// The caller already gave up on this id; the next call
		// drains the slot.
		log.Warnf("Dropping response for abandoned request id %d", pending)
	}
}

// wsInHandler pumps the websocket connection, classifying every inbound
// message, and drives reconnection when the connection drops.
func (c *Client) wsInHandler() {
	defer c.wg.Done()

out:
	for {
		c.connMtx.Lock()
		conn := c.conn
		c.connMtx.Unlock()

		_, payload, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-c.quit:
				break out
			default:
			}

			log.Warnf("Venue connection lost: %v", err)
			c.connMtx.Lock()
			c.disconnected = true
			c.conn.Close()
			c.connMtx.Unlock()
			c.notifyEvent(Disconnected{})

			if c.config.DisableAutoReconnect {
				break out
			}
			if !c.reconnect() {
				break out
			}
			continue
		}

		c.handleMessage(payload)
	}

	log.Trace("Venue input handler done")
}

// reconnect re-dials the venue until it succeeds or the client shuts down,
// backing off linearly between attempts. On success a fresh Connected event
// is delivered so the consumer redoes the session handshake.
func (c *Client) reconnect() bool {
	for attempt := int64(1); ; attempt++ {
		scaled := attempt
		if scaled > maxRetryMultiplier {
			scaled = maxRetryMultiplier
		}
		delay := connectionRetryInterval * time.Duration(scaled)
		log.Infof("Retrying venue connection in %v...", delay)

		select {
		case <-time.After(delay):
		case <-c.quit:
			return false
		}

		conn, err := c.dial()
		if err != nil {
			log.Warnf("Unable to reconnect to venue: %v", err)
			continue
		}

		c.connMtx.Lock()
		c.conn = conn
		c.disconnected = false
		c.connMtx.Unlock()

		c.notifyEvent(Connected{})
		log.Infof("Reestablished connection to venue %v", c.config.Host)
		return true
	}
}

// wsOutHandler serializes all websocket writes onto one goroutine.
func (c *Client) wsOutHandler() {
	defer c.wg.Done()

out:
	for {
		select {
		case payload := <-c.sendChan:
			c.connMtx.Lock()
			conn := c.conn
			down := c.disconnected
			c.connMtx.Unlock()
			if down {
				continue
			}
			err := conn.WriteMessage(websocket.TextMessage, payload)
			if err != nil {
				// The read side observes the broken
				// connection and owns recovery.
				log.Warnf("Unable to send venue message: %v", err)
			}

		case <-c.quit:
			break out
		}
	}

	log.Trace("Venue output handler done")
}

// notifyEvent queues an event for delivery on the Events channel.
func (c *Client) notifyEvent(event interface{}) {
	select {
	case c.enqueueEvent <- event:
	case <-c.quit:
	}
}

// eventHandler maintains a queue of events so the transport reader is never
// blocked by a slow consumer.
func (c *Client) eventHandler() {
	var events []interface{}
	enqueue := c.enqueueEvent
	var dequeue chan interface{}
	var next interface{}
out:
	for {
		select {
		case e, ok := <-enqueue:
			if !ok {
				// If no events are queued for handling, the
				// queue is finished.
				if len(events) == 0 {
					break out
				}
				// nil channel so no more reads can occur.
				enqueue = nil
				continue
			}
			if len(events) == 0 {
				next = e
				dequeue = c.dequeueEvent
			}
			events = append(events, e)

		case dequeue <- next:
			events[0] = nil
			events = events[1:]
			if len(events) != 0 {
				next = events[0]
			} else {
				// If no more events can be enqueued, the
				// queue is finished.
				if enqueue == nil {
					break out
				}
				dequeue = nil
			}

		case <-c.quit:
			break out
		}
	}

	close(c.dequeueEvent)
	c.wg.Done()
	log.Trace("Venue event handler done")
}
