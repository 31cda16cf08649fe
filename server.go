package main

import (
	"fmt"
	"sync"

	"github.com/swapsuite/swap-dealer-server/blockclient"
	"github.com/swapsuite/swap-dealer-server/dealerjson"
	"github.com/swapsuite/swap-dealer-server/swapmgr"
	"github.com/swapsuite/swap-dealer-server/utils"
	"github.com/swapsuite/swap-dealer-server/venueclient"
)

// newBlock is the internal event injected for every block signal from the
// block feed, and once at startup to prime the coin ledger.
type newBlock struct{}

// server funnels the venue event stream and the block feed into one channel
// and dispatches sequentially to the swap manager. The single dispatch
// goroutine is what lets the manager and the coin ledger run without locks.
type server struct {
	venue  *venueclient.Client
	blocks *blockclient.Client
	swaps  *swapmgr.Manager

	events chan interface{}

	// fatalErr delivers the first unrecoverable dispatch error.
	fatalErr chan error

	started bool
	quit    chan struct{}
	quitMtx sync.Mutex
	wg      sync.WaitGroup
}

func newServer(venue *venueclient.Client, blocks *blockclient.Client,
	swaps *swapmgr.Manager) *server {

	return &server{
		venue:    venue,
		blocks:   blocks,
		swaps:    swaps,
		events:   make(chan interface{}),
		fatalErr: make(chan error, 1),
		quit:     make(chan struct{}),
	}
}

// Start launches the forwarder and dispatch goroutines. The first event
// dispatched is a synthetic block signal so the coin ledger is populated
// before any RFQ arrives.
func (s *server) Start() {
	s.quitMtx.Lock()
	defer s.quitMtx.Unlock()
	if s.started {
		return
	}
	s.started = true

	dealerLog.Info("Starting dealer engine")
	s.wg.Add(3)
	go s.forwardVenueEvents()
	go s.forwardBlocks()
	go s.dispatchHandler()
}

// Stop signals all server goroutines to shut down.
func (s *server) Stop() {
	s.quitMtx.Lock()
	defer s.quitMtx.Unlock()
	select {
	case <-s.quit:
		return
	default:
	}
	dealerLog.Info("Stopping dealer engine")
	close(s.quit)
}

// WaitForShutdown blocks until all server goroutines have finished.
func (s *server) WaitForShutdown() {
	s.wg.Wait()
}

// FatalError returns the channel delivering the first unrecoverable
// dispatch error. The process must exit when it fires: the engine may hold
// reservations for trades whose outcome is unknown, and restarting from the
// wallet's view is the only safe recovery.
func (s *server) FatalError() <-chan error {
	return s.fatalErr
}

func (s *server) forwardVenueEvents() {
	defer utils.MyRecover()
	defer s.wg.Done()
	for {
		select {
		case event, ok := <-s.venue.Events():
			if !ok {
				return
			}
			select {
			case s.events <- event:
			case <-s.quit:
				return
			}
		case <-s.quit:
			return
		}
	}
}

func (s *server) forwardBlocks() {
	defer utils.MyRecover()
	defer s.wg.Done()

	// Prime the coin ledger before the first real block arrives.
	select {
	case s.events <- newBlock{}:
	case <-s.quit:
		return
	}

	for {
		select {
		case _, ok := <-s.blocks.Blocks():
			if !ok {
				return
			}
			select {
			case s.events <- newBlock{}:
			case <-s.quit:
				return
			}
		case <-s.quit:
			return
		}
	}
}

// dispatchHandler applies events to the swap manager one at a time, in
// arrival order. A handler error is fatal and stops dispatch for good.
func (s *server) dispatchHandler() {
	defer s.wg.Done()
	for {
		select {
		case event := <-s.events:
			if err := s.dispatch(event); err != nil {
				dealerLog.Criticalf("Dealer engine cannot continue: %v", err)
				s.fatalErr <- err
				return
			}
		case <-s.quit:
			return
		}
	}
}

func (s *server) dispatch(event interface{}) error {
	switch e := event.(type) {
	case venueclient.Connected:
		return s.swaps.HandleConnected()

	case venueclient.Disconnected:
		s.swaps.HandleDisconnected()
		return nil

	case venueclient.ProtocolError:
		return e.Err

	case newBlock:
		return s.swaps.HandleNewBlock()

	case *dealerjson.RfqCreatedNtfn:
		return s.swaps.HandleRfqCreated(e)

	case *dealerjson.RfqRemovedNtfn:
		s.swaps.HandleRfqRemoved(e)
		return nil

	case *dealerjson.SwapNtfn:
		return s.swaps.HandleSwap(e)
	}

	return fmt.Errorf("unhandled engine event %T", event)
}
