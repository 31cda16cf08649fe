// Package blockclient delivers new-block signals from the node's ZMQ
// hashblock publisher. Only the fact that a block was observed matters to
// the dealer; the block hash payload is logged and otherwise ignored.
package blockclient

import (
	"encoding/hex"
	"net"
	"sync"
	"time"

	"github.com/lightninglabs/gozmq"
)

const (
	// hashBlockTopic is the ZMQ topic carrying the hash of every newly
	// connected block.
	hashBlockTopic = "hashblock"

	// readDeadline bounds a single receive so the handler can notice a
	// shutdown request. Receive timeouts are not errors.
	readDeadline = time.Second * 5
)

// zmqConn is the subset of the ZMQ subscription the handler uses. It is an
// interface so the receive loop can be exercised without a publisher.
type zmqConn interface {
	Receive([][]byte) ([][]byte, error)
	Close() error
}

var _ zmqConn = (*gozmq.Conn)(nil)

// Client subscribes to the node's ZMQ block feed and forwards one signal
// per observed block on the Blocks channel.
type Client struct {
	host string
	conn zmqConn

	blockNotification chan struct{}

	started bool
	quit    chan struct{}
	quitMtx sync.Mutex
	wg      sync.WaitGroup
}

// New creates a block feed client for the given ZMQ publisher address
// (e.g. tcp://127.0.0.1:28332). The subscription is not established until
// Start is called.
func New(host string) *Client {
	return &Client{
		host:              host,
		blockNotification: make(chan struct{}, 5),
		quit:              make(chan struct{}),
	}
}

// Start establishes the ZMQ subscription and launches the receive handler.
func (c *Client) Start() error {
	conn, err := gozmq.Subscribe(c.host, []string{hashBlockTopic}, readDeadline)
	if err != nil {
		return err
	}
	c.conn = conn

	c.quitMtx.Lock()
	c.started = true
	c.quitMtx.Unlock()

	c.wg.Add(1)
	go c.blockHandler()

	log.Infof("Subscribed to block notifications at %v", c.host)
	return nil
}

// Stop closes the subscription and signals the handler to exit.
func (c *Client) Stop() {
	c.quitMtx.Lock()
	select {
	case <-c.quit:
	default:
		close(c.quit)
		if c.conn != nil {
			c.conn.Close()
		}
	}
	c.quitMtx.Unlock()
	log.Trace("Block client done")
}

// WaitForShutdown blocks until the receive handler has exited.
func (c *Client) WaitForShutdown() {
	c.wg.Wait()
}

// Blocks returns the channel carrying one signal per new block observed.
// The channel is buffered; a momentarily slow consumer coalesces no signals
// but an abandoned one must call Stop to release the handler.
func (c *Client) Blocks() <-chan struct{} {
	return c.blockNotification
}

// blockHandler pumps the ZMQ subscription, turning every hashblock message
// into a signal on the block notification channel.
func (c *Client) blockHandler() {
	defer c.wg.Done()

out:
	for {
		select {
		case <-c.quit:
			break out
		default:
		}

		msgBytes, err := c.conn.Receive(nil)
		if err != nil {
			// Receive deadlines only exist so shutdown is
			// noticed; go back to reading.
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			select {
			case <-c.quit:
				break out
			default:
			}
			log.Errorf("Unable to receive from block feed: %v", err)
			break out
		}

		if len(msgBytes) < 2 || string(msgBytes[0]) != hashBlockTopic {
			log.Warnf("Ignoring unexpected message on block feed")
			continue
		}

		log.Debugf("New block observed: %v", hex.EncodeToString(msgBytes[1]))
		select {
		case c.blockNotification <- struct{}{}:
		case <-c.quit:
			break out
		}
	}

	log.Trace("Block handler done")
}
