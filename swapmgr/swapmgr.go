// Package swapmgr orchestrates the dealer's side of the quote and swap
// protocol: pricing incoming RFQs, reserving coins, matching quotes, and
// walking accepted orders through offer review, transaction construction,
// and signing. The manager is driven by the engine's single event loop and
// performs no locking of its own.
//
// Handler errors split two ways. A per-order problem (a price the quoter
// refuses, insufficient coins, a venue rejection) is handled inside the
// handler: reservations are released and the RFQ is skipped. A returned
// error means the session can no longer be trusted, with funds possibly
// committed, and the caller must tear the process down.
package swapmgr

import (
	"context"
	"errors"
	"fmt"

	"github.com/swapsuite/swap-dealer-server/constdef"
	"github.com/swapsuite/swap-dealer-server/dal/do"
	"github.com/swapsuite/swap-dealer-server/dealerjson"
	"github.com/swapsuite/swap-dealer-server/utils"
	"github.com/swapsuite/swap-dealer-server/utxomgr"
	"github.com/swapsuite/swap-dealer-server/walletjson"
)

// Config is the set of collaborators and limits the manager runs with.
type Config struct {
	// APIKey authenticates the dealer session after each connect.
	APIKey string

	// MaxTradeSize caps the bitcoin leg of any single trade, in base
	// units. Zero disables the cap.
	MaxTradeSize int64

	Venue  VenueCaller
	Wallet WalletDriver
	Quoter Quoter
	UTXOs  *utxomgr.Manager

	// Trades may be nil when trade history persistence is disabled.
	Trades TradeRecorder
}

// activeSwap tracks one matched quote through the swap states.
type activeSwap struct {
	// proposal is the amount of sellAsset the dealer committed to
	// deliver, and changeAmount what flows back to the dealer's change
	// output from the reserved coins.
	proposal     int64
	changeAmount int64

	// sellAsset is the asset id the dealer delivers, buyAsset and
	// buyAmount the counter leg.
	sellAsset string
	buyAsset  string
	buyAmount int64

	// swap holds the reviewed offer terms once review_offer has been
	// processed. It stays nil before that, which is the state check for
	// wait_psbt.
	swap *dealerjson.SwapTerms
}

// Manager holds the dealer's session state.
type Manager struct {
	cfg Config

	assets       map[string]*dealerjson.Asset
	bitcoinAsset string
	swaps        map[string]*activeSwap
}

// New creates a manager. The venue, wallet, quoter, and coin ledger are
// required.
func New(cfg *Config) (*Manager, error) {
	if cfg.Venue == nil || cfg.Wallet == nil || cfg.Quoter == nil || cfg.UTXOs == nil {
		return nil, errors.New("swap manager misses a required collaborator")
	}
	return &Manager{
		cfg:    *cfg,
		assets: make(map[string]*dealerjson.Asset),
		swaps:  make(map[string]*activeSwap),
	}, nil
}

// HandleConnected authenticates the fresh session and refreshes the asset
// registry. Orders that were in flight across the reconnect are gone on the
// venue side, so their reservations are released and the records dropped.
func (m *Manager) HandleConnected() error {
	for orderID := range m.swaps {
		log.Warnf("Dropping in-flight order %v lost across reconnect", orderID)
		m.cfg.UTXOs.Release(orderID)
		m.recordFailed(orderID, "connection lost")
		delete(m.swaps, orderID)
	}

	if err := m.cfg.Venue.LoginDealer(m.cfg.APIKey); err != nil {
		return fmt.Errorf("dealer login failed: %v", err)
	}

	assets, err := m.cfg.Venue.Assets()
	if err != nil {
		return fmt.Errorf("asset registry request failed: %v", err)
	}

	m.assets = make(map[string]*dealerjson.Asset, len(assets))
	m.bitcoinAsset = ""
	for i := range assets {
		asset := &assets[i]
		if len(asset.AssetID) == 0 || len(asset.AssetID) > constdef.MaxAssetIDLength {
			return fmt.Errorf("venue registry carries invalid asset id %q", asset.AssetID)
		}
		m.assets[asset.AssetID] = asset
		if asset.Ticker == dealerjson.TickerLBTC {
			m.bitcoinAsset = asset.AssetID
		}
	}
	if m.bitcoinAsset == "" {
		return fmt.Errorf("venue registry lists no %v asset", dealerjson.TickerLBTC)
	}

	log.Infof("Dealer session established, %d assets known", len(m.assets))
	return nil
}

// HandleDisconnected notes the lost session. Cleanup happens on the
// following connect, where the new session state is known.
func (m *Manager) HandleDisconnected() {
	log.Warnf("Venue connection lost, awaiting reconnect")
}

// HandleNewBlock resynchronizes the coin ledger against the wallet. A
// wallet that cannot report its unspent outputs leaves the ledger
// untrustworthy, so the error is returned for teardown.
func (m *Manager) HandleNewBlock() error {
	unspent, err := m.cfg.Wallet.ListUnspent(0)
	if err != nil {
		return fmt.Errorf("unspent output query failed: %v", err)
	}
	m.cfg.UTXOs.Reconcile(unspent)
	log.Debugf("Coin ledger resynced, %d outputs tracked holding %d base units",
		m.cfg.UTXOs.Count(), walletjson.UnspentTotal(unspent))
	return nil
}

// HandleRfqCreated prices a new RFQ and, when the dealer can and wants to
// serve it, reserves coins and submits a matching quote.
func (m *Manager) HandleRfqCreated(ntfn *dealerjson.RfqCreatedNtfn) error {
	orderID := ntfn.OrderID
	if len(orderID) == 0 || len(orderID) > constdef.MaxOrderIDLength {
		return fmt.Errorf("rfq carries invalid order id %q", orderID)
	}
	if _, ok := m.swaps[orderID]; ok {
		return fmt.Errorf("duplicate rfq_created for order %v", orderID)
	}

	rfq := &ntfn.Rfq
	if _, ok := m.assets[rfq.SendAsset]; !ok {
		return fmt.Errorf("rfq %v names unknown asset %v", orderID, rfq.SendAsset)
	}
	if _, ok := m.assets[rfq.RecvAsset]; !ok {
		return fmt.Errorf("rfq %v names unknown asset %v", orderID, rfq.RecvAsset)
	}

	// Exactly one leg is bitcoin; the quoter prices the other one.
	dealerSendsBitcoin := rfq.RecvAsset == m.bitcoinAsset
	dealerRecvsBitcoin := rfq.SendAsset == m.bitcoinAsset
	if dealerSendsBitcoin == dealerRecvsBitcoin {
		return fmt.Errorf("rfq %v has no priceable bitcoin leg (%v/%v)",
			orderID, rfq.SendAsset, rfq.RecvAsset)
	}
	pricedAsset := rfq.SendAsset
	if !dealerSendsBitcoin {
		pricedAsset = rfq.RecvAsset
	}

	proposal, err := m.cfg.Quoter.Proposal(rfq.SendAmount, pricedAsset, dealerSendsBitcoin)
	if err != nil {
		log.Warnf("Not quoting order %v: %v", orderID, err)
		return nil
	}

	bitcoinLeg := rfq.SendAmount
	if dealerSendsBitcoin {
		bitcoinLeg = proposal
	}
	if m.cfg.MaxTradeSize > 0 && bitcoinLeg > m.cfg.MaxTradeSize {
		log.Infof("Not quoting order %v: size %d above limit %d",
			orderID, bitcoinLeg, m.cfg.MaxTradeSize)
		return nil
	}

	coins, err := m.cfg.UTXOs.Select(rfq.RecvAsset, proposal)
	if err != nil {
		if errors.Is(err, utxomgr.ErrInsufficientFunds) {
			log.Infof("Not quoting order %v: %v of asset %v needed, %v unreserved",
				orderID, proposal, rfq.RecvAsset,
				m.cfg.UTXOs.UnreservedTotal(rfq.RecvAsset))
			return nil
		}
		return err
	}
	if err := m.cfg.UTXOs.Reserve(orderID, coins); err != nil {
		return err
	}

	var total int64
	for _, coin := range coins {
		total += coin.Amount
	}
	change := total - proposal

	quote := dealerjson.MatchQuote{
		OrderID:    orderID,
		SendAmount: proposal,
		UTXOCount:  int32(len(coins)),
		WithChange: change > 0,
	}
	if err := m.cfg.Venue.MatchQuote(quote); err != nil {
		var rpcErr *dealerjson.RPCError
		if errors.As(err, &rpcErr) {
			log.Infof("Venue declined quote for order %v: %v", orderID, rpcErr)
			m.cfg.UTXOs.Release(orderID)
			return nil
		}
		return fmt.Errorf("quote submission for order %v failed: %v", orderID, err)
	}

	m.swaps[orderID] = &activeSwap{
		proposal:     proposal,
		changeAmount: change,
		sellAsset:    rfq.RecvAsset,
		buyAsset:     rfq.SendAsset,
		buyAmount:    rfq.SendAmount,
	}
	log.Infof("Quoted order %v: deliver %d of %v for %d of %v (change %d over %d inputs)",
		orderID, proposal, rfq.RecvAsset, rfq.SendAmount, rfq.SendAsset,
		change, len(coins))

	m.recordQuote(orderID, m.swaps[orderID])
	return nil
}

// HandleRfqRemoved releases an order's coins when its RFQ leaves the open
// set without being accepted. An accepted RFQ keeps its reservations; the
// swap notifications take over from there.
func (m *Manager) HandleRfqRemoved(ntfn *dealerjson.RfqRemovedNtfn) {
	orderID := ntfn.OrderID
	if _, ok := m.swaps[orderID]; !ok {
		// RFQs the dealer never quoted come through here too.
		log.Debugf("Ignoring removal of unquoted order %v", orderID)
		return
	}

	if ntfn.Status == dealerjson.RfqAccepted {
		log.Debugf("Order %v accepted, awaiting swap", orderID)
		return
	}

	log.Infof("Order %v withdrawn (%v), releasing coins", orderID, ntfn.Status)
	m.cfg.UTXOs.Release(orderID)
	delete(m.swaps, orderID)
	m.recordWithdrawn(orderID, string(ntfn.Status))
}

// HandleSwap advances a matched order through the swap state machine.
func (m *Manager) HandleSwap(ntfn *dealerjson.SwapNtfn) error {
	orderID := ntfn.OrderID
	sw, ok := m.swaps[orderID]
	if !ok {
		return fmt.Errorf("swap notification for unknown order %v", orderID)
	}

	switch ntfn.State {
	case dealerjson.SwapStateReviewOffer:
		return m.reviewOffer(orderID, sw, ntfn.Offer)

	case dealerjson.SwapStateWaitPSBT:
		return m.producePSBT(orderID, sw)

	case dealerjson.SwapStateWaitSign:
		return m.signPSBT(orderID, sw, ntfn.PSBT)

	case dealerjson.SwapStateFailed:
		log.Warnf("Order %v failed: %v", orderID, ntfn.Error)
		m.cfg.UTXOs.Release(orderID)
		delete(m.swaps, orderID)
		m.recordFailed(orderID, ntfn.Error)
		return nil

	case dealerjson.SwapStateDone:
		log.Infof("Order %v settled in transaction %v", orderID, ntfn.TxID)
		// The reservations stay until the spent outputs drop out of
		// the wallet's unspent view on the next block.
		delete(m.swaps, orderID)
		m.recordDone(orderID, ntfn.TxID)
		return nil

	default:
		return fmt.Errorf("order %v entered unknown swap state %q",
			orderID, ntfn.State)
	}
}

// reviewOffer checks the venue's echoed terms against what was quoted. Any
// discrepancy means the venue is trying to settle a different trade than
// the one priced, which is unrecoverable.
func (m *Manager) reviewOffer(orderID string, sw *activeSwap, offer *dealerjson.SwapOffer) error {
	if offer == nil {
		return fmt.Errorf("order %v review_offer carries no offer", orderID)
	}
	if offer.AcceptRequired {
		return fmt.Errorf("order %v demands manual acceptance", orderID)
	}

	terms := offer.Swap
	if terms.SendAsset != sw.sellAsset || terms.SendAmount != sw.proposal ||
		terms.RecvAsset != sw.buyAsset || terms.RecvAmount != sw.buyAmount {
		return fmt.Errorf("order %v offer diverges from quote: "+
			"offered %d of %v for %d of %v, quoted %d of %v for %d of %v",
			orderID, terms.SendAmount, terms.SendAsset,
			terms.RecvAmount, terms.RecvAsset,
			sw.proposal, sw.sellAsset, sw.buyAmount, sw.buyAsset)
	}

	sw.swap = &terms
	log.Debugf("Order %v offer reviewed", orderID)
	return nil
}

// producePSBT builds the dealer's side of the swap transaction from the
// reserved coins and submits it to the venue. Wallet failures here are
// fatal; a venue rejection leaves the order in place for the failed
// notification that follows it.
func (m *Manager) producePSBT(orderID string, sw *activeSwap) error {
	if sw.swap == nil {
		return fmt.Errorf("order %v asked for psbt before offer review", orderID)
	}

	coins := m.cfg.UTXOs.Reserved(orderID)
	if len(coins) == 0 {
		return fmt.Errorf("order %v has no reserved coins", orderID)
	}

	recvAddr, err := m.cfg.Wallet.GetNewAddress()
	if err != nil {
		return fmt.Errorf("receive address for order %v: %v", orderID, err)
	}

	inputs := make([]walletjson.TxInput, 0, len(coins))
	for _, coin := range coins {
		inputs = append(inputs, walletjson.TxInput{
			TxID: coin.OutPoint.TxID,
			Vout: coin.OutPoint.Vout,
		})
	}

	amounts := map[string]float64{
		recvAddr: utils.AmountToBitcoin(sw.swap.RecvAmount),
	}
	assets := map[string]string{
		recvAddr: sw.buyAsset,
	}
	if sw.changeAmount > 0 {
		changeAddr, err := m.cfg.Wallet.GetNewAddress()
		if err != nil {
			return fmt.Errorf("change address for order %v: %v", orderID, err)
		}
		amounts[changeAddr] = utils.AmountToBitcoin(sw.changeAmount)
		assets[changeAddr] = sw.sellAsset
	}

	rawTx, err := m.cfg.Wallet.CreateRawTransaction(inputs, amounts, assets)
	if err != nil {
		return fmt.Errorf("raw transaction for order %v: %v", orderID, err)
	}
	psbt, err := m.cfg.Wallet.ConvertToPSBT(rawTx)
	if err != nil {
		return fmt.Errorf("psbt conversion for order %v: %v", orderID, err)
	}
	filled, err := m.cfg.Wallet.FillPSBT(psbt)
	if err != nil {
		return fmt.Errorf("psbt fill for order %v: %v", orderID, err)
	}

	err = m.cfg.Venue.SubmitSwap(orderID, dealerjson.SwapAction{PSBT: filled.PSBT})
	if err != nil {
		var rpcErr *dealerjson.RPCError
		if errors.As(err, &rpcErr) {
			// The venue observed the same failure and delivers the
			// failed swap state next, which owns the cleanup.
			log.Warnf("Venue rejected psbt for order %v: %v", orderID, rpcErr)
			return nil
		}
		return fmt.Errorf("psbt submission for order %v failed: %v", orderID, err)
	}

	log.Debugf("Order %v psbt submitted, %d inputs", orderID, len(inputs))
	return nil
}

// signPSBT signs the venue-assembled transaction and returns the
// signatures.
func (m *Manager) signPSBT(orderID string, sw *activeSwap, psbt string) error {
	if sw.swap == nil {
		return fmt.Errorf("order %v asked for signature before offer review", orderID)
	}
	if psbt == "" {
		return fmt.Errorf("order %v wait_sign carries no psbt", orderID)
	}

	signed, err := m.cfg.Wallet.SignPSBT(psbt)
	if err != nil {
		return fmt.Errorf("psbt signing for order %v: %v", orderID, err)
	}

	err = m.cfg.Venue.SubmitSwap(orderID, dealerjson.SwapAction{Sign: signed.PSBT})
	if err != nil {
		var rpcErr *dealerjson.RPCError
		if errors.As(err, &rpcErr) {
			// Cleanup belongs to the failed notification the venue
			// sends for its own rejection.
			log.Warnf("Venue rejected signatures for order %v: %v", orderID, rpcErr)
			return nil
		}
		return fmt.Errorf("signature submission for order %v failed: %v", orderID, err)
	}

	log.Debugf("Order %v signatures submitted", orderID)
	return nil
}

// ActiveOrders returns the number of in-flight orders.
func (m *Manager) ActiveOrders() int {
	return len(m.swaps)
}

func (m *Manager) recordQuote(orderID string, sw *activeSwap) {
	if m.cfg.Trades == nil {
		return
	}
	info := &do.TradeInfo{
		OrderID:      orderID,
		SellAsset:    sw.sellAsset,
		BuyAsset:     sw.buyAsset,
		SellAmount:   sw.proposal,
		BuyAmount:    sw.buyAmount,
		ChangeAmount: sw.changeAmount,
	}
	if err := m.cfg.Trades.RecordQuote(context.Background(), info); err != nil {
		log.Errorf("Cannot record quote for order %v: %v", orderID, err)
	}
}

func (m *Manager) recordDone(orderID string, txid string) {
	if m.cfg.Trades == nil {
		return
	}
	if err := m.cfg.Trades.MarkDone(context.Background(), orderID, txid); err != nil {
		log.Errorf("Cannot record settlement of order %v: %v", orderID, err)
	}
}

func (m *Manager) recordFailed(orderID string, reason string) {
	if m.cfg.Trades == nil {
		return
	}
	if err := m.cfg.Trades.MarkFailed(context.Background(), orderID, reason); err != nil {
		log.Errorf("Cannot record failure of order %v: %v", orderID, err)
	}
}

func (m *Manager) recordWithdrawn(orderID string, reason string) {
	if m.cfg.Trades == nil {
		return
	}
	if err := m.cfg.Trades.MarkWithdrawn(context.Background(), orderID, reason); err != nil {
		log.Errorf("Cannot record withdrawal of order %v: %v", orderID, err)
	}
}
