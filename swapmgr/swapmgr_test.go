package swapmgr

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/swapsuite/swap-dealer-server/dal/do"
	"github.com/swapsuite/swap-dealer-server/dealerjson"
	"github.com/swapsuite/swap-dealer-server/utxomgr"
	"github.com/swapsuite/swap-dealer-server/walletjson"
)

const (
	bitcoinID = "5ac9f65c0efcc4775e0baec4ec03abdde22473cd3cf33c0419ca290e0751b225"
	usdID     = "ce091c998b83c78bb71a632313ba3760f1763d9cfcffae02258ffa9865a37bd2"
)

var testAssets = []dealerjson.Asset{
	{AssetID: bitcoinID, Ticker: dealerjson.TickerLBTC, Precision: 8},
	{AssetID: usdID, Ticker: "USDt", Precision: 8},
}

type submittedSwap struct {
	orderID string
	action  dealerjson.SwapAction
}

type fakeVenue struct {
	assets    []dealerjson.Asset
	loginErr  error
	matchErr  error
	submitErr error

	logins  int
	quotes  []dealerjson.MatchQuote
	submits []submittedSwap
}

func (v *fakeVenue) LoginDealer(apiKey string) error {
	v.logins++
	return v.loginErr
}

func (v *fakeVenue) Assets() ([]dealerjson.Asset, error) {
	return v.assets, nil
}

func (v *fakeVenue) MatchQuote(quote dealerjson.MatchQuote) error {
	if v.matchErr != nil {
		return v.matchErr
	}
	v.quotes = append(v.quotes, quote)
	return nil
}

func (v *fakeVenue) SubmitSwap(orderID string, action dealerjson.SwapAction) error {
	if v.submitErr != nil {
		return v.submitErr
	}
	v.submits = append(v.submits, submittedSwap{orderID: orderID, action: action})
	return nil
}

type fakeWallet struct {
	unspent    []walletjson.UnspentItem
	unspentErr error
	signErr    error

	nextAddr int
	rawCalls []map[string]float64
	rawAsset []map[string]string
}

func (w *fakeWallet) GetNewAddress() (string, error) {
	w.nextAddr++
	return fmt.Sprintf("addr-%d", w.nextAddr), nil
}

func (w *fakeWallet) ListUnspent(minConf int) ([]walletjson.UnspentItem, error) {
	if w.unspentErr != nil {
		return nil, w.unspentErr
	}
	return w.unspent, nil
}

func (w *fakeWallet) CreateRawTransaction(inputs []walletjson.TxInput,
	amounts map[string]float64, assets map[string]string) (string, error) {

	w.rawCalls = append(w.rawCalls, amounts)
	w.rawAsset = append(w.rawAsset, assets)
	return "rawtx", nil
}

func (w *fakeWallet) ConvertToPSBT(rawTx string) (string, error) {
	return "psbt:" + rawTx, nil
}

func (w *fakeWallet) FillPSBT(psbt string) (*walletjson.FillPSBTResult, error) {
	return &walletjson.FillPSBTResult{PSBT: "filled:" + psbt}, nil
}

func (w *fakeWallet) SignPSBT(psbt string) (*walletjson.SignPSBTResult, error) {
	if w.signErr != nil {
		return nil, w.signErr
	}
	return &walletjson.SignPSBTResult{PSBT: "signed:" + psbt, Complete: false}, nil
}

type fakeQuoter struct {
	proposal int64
	err      error
}

func (q *fakeQuoter) Proposal(recvAmount int64, assetID string, dealerSendsBitcoin bool) (int64, error) {
	if q.err != nil {
		return 0, q.err
	}
	return q.proposal, nil
}

type fakeRecorder struct {
	quoted    []string
	done      []string
	failed    []string
	withdrawn []string
}

func (r *fakeRecorder) RecordQuote(ctx context.Context, info *do.TradeInfo) error {
	r.quoted = append(r.quoted, info.OrderID)
	return nil
}

func (r *fakeRecorder) MarkDone(ctx context.Context, orderID string, txid string) error {
	r.done = append(r.done, orderID)
	return nil
}

func (r *fakeRecorder) MarkFailed(ctx context.Context, orderID string, reason string) error {
	r.failed = append(r.failed, orderID)
	return nil
}

func (r *fakeRecorder) MarkWithdrawn(ctx context.Context, orderID string, reason string) error {
	r.withdrawn = append(r.withdrawn, orderID)
	return nil
}

type harness struct {
	venue    *fakeVenue
	wallet   *fakeWallet
	quoter   *fakeQuoter
	recorder *fakeRecorder
	utxos    *utxomgr.Manager
	mgr      *Manager
}

// newHarness builds a connected manager holding usd outputs of 40, 50, and
// 70 base units.
func newHarness(t *testing.T, proposal int64) *harness {
	t.Helper()

	h := &harness{
		venue: &fakeVenue{assets: testAssets},
		wallet: &fakeWallet{
			unspent: []walletjson.UnspentItem{
				{TxID: "aa", Vout: 0, Asset: usdID, Amount: 0.00000040, Confirmations: 2},
				{TxID: "bb", Vout: 0, Asset: usdID, Amount: 0.00000050, Confirmations: 2},
				{TxID: "cc", Vout: 0, Asset: usdID, Amount: 0.00000070, Confirmations: 2},
			},
		},
		quoter:   &fakeQuoter{proposal: proposal},
		recorder: &fakeRecorder{},
		utxos:    utxomgr.New(1),
	}

	mgr, err := New(&Config{
		APIKey: "test-key",
		Venue:  h.venue,
		Wallet: h.wallet,
		Quoter: h.quoter,
		UTXOs:  h.utxos,
		Trades: h.recorder,
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	h.mgr = mgr

	if err := mgr.HandleConnected(); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := mgr.HandleNewBlock(); err != nil {
		t.Fatalf("initial resync: %v", err)
	}
	return h
}

func rfqCreated(orderID string, dealerSells string, dealerBuys string, amount int64) *dealerjson.RfqCreatedNtfn {
	return &dealerjson.RfqCreatedNtfn{
		OrderID: orderID,
		Rfq: dealerjson.Rfq{
			SendAsset:  dealerBuys,
			RecvAsset:  dealerSells,
			SendAmount: amount,
		},
	}
}

func TestSwapLifecycle(t *testing.T) {
	// Counterparty pays 100000 bitcoin units for usd; the quoter prices
	// the dealer's side at 90 usd units, selected as the 40+50 outputs.
	h := newHarness(t, 90)

	if err := h.mgr.HandleRfqCreated(rfqCreated("order-1", usdID, bitcoinID, 100000)); err != nil {
		t.Fatalf("rfq created: %v", err)
	}
	if len(h.venue.quotes) != 1 {
		t.Fatalf("submitted %d quotes, want 1", len(h.venue.quotes))
	}
	quote := h.venue.quotes[0]
	if quote.SendAmount != 90 || quote.UTXOCount != 2 || quote.WithChange {
		t.Fatalf("quote = %+v, want amount 90, 2 inputs, no change", quote)
	}
	if got := len(h.utxos.Reserved("order-1")); got != 2 {
		t.Fatalf("reserved %d outputs, want 2", got)
	}

	h.mgr.HandleRfqRemoved(&dealerjson.RfqRemovedNtfn{
		OrderID: "order-1", Status: dealerjson.RfqAccepted,
	})
	if got := len(h.utxos.Reserved("order-1")); got != 2 {
		t.Fatalf("acceptance dropped reservations, have %d", got)
	}

	terms := dealerjson.SwapTerms{
		SendAsset: usdID, SendAmount: 90,
		RecvAsset: bitcoinID, RecvAmount: 100000,
	}
	err := h.mgr.HandleSwap(&dealerjson.SwapNtfn{
		OrderID: "order-1",
		State:   dealerjson.SwapStateReviewOffer,
		Offer:   &dealerjson.SwapOffer{Swap: terms},
	})
	if err != nil {
		t.Fatalf("review offer: %v", err)
	}

	if err := h.mgr.HandleSwap(&dealerjson.SwapNtfn{
		OrderID: "order-1", State: dealerjson.SwapStateWaitPSBT,
	}); err != nil {
		t.Fatalf("wait psbt: %v", err)
	}
	if len(h.venue.submits) != 1 {
		t.Fatalf("submitted %d swap actions, want 1", len(h.venue.submits))
	}
	if h.venue.submits[0].action.PSBT == "" {
		t.Fatal("wait_psbt submitted no psbt")
	}
	// No change, so a single output paying the dealer the bitcoin leg.
	if len(h.wallet.rawCalls) != 1 || len(h.wallet.rawCalls[0]) != 1 {
		t.Fatalf("raw transaction outputs = %v, want exactly one", h.wallet.rawCalls)
	}
	for addr, asset := range h.wallet.rawAsset[0] {
		if asset != bitcoinID {
			t.Fatalf("output %v carries asset %v, want bitcoin leg", addr, asset)
		}
	}

	if err := h.mgr.HandleSwap(&dealerjson.SwapNtfn{
		OrderID: "order-1", State: dealerjson.SwapStateWaitSign, PSBT: "venue-psbt",
	}); err != nil {
		t.Fatalf("wait sign: %v", err)
	}
	if got := h.venue.submits[1].action.Sign; got != "signed:venue-psbt" {
		t.Fatalf("submitted signature %q", got)
	}

	if err := h.mgr.HandleSwap(&dealerjson.SwapNtfn{
		OrderID: "order-1", State: dealerjson.SwapStateDone, TxID: "txid-1",
	}); err != nil {
		t.Fatalf("done: %v", err)
	}
	if h.mgr.ActiveOrders() != 0 {
		t.Fatalf("%d active orders after settlement", h.mgr.ActiveOrders())
	}
	if len(h.recorder.done) != 1 || h.recorder.done[0] != "order-1" {
		t.Fatalf("settlement not recorded: %v", h.recorder.done)
	}

	// Settled coins stay reserved until the next resync removes them.
	if got := len(h.utxos.Reserved("order-1")); got != 2 {
		t.Fatalf("settled coins released early, have %d", got)
	}
}

func TestRfqCreatedChangeOutput(t *testing.T) {
	// Needing 60 selects the single 70 output, leaving 10 change.
	h := newHarness(t, 60)

	if err := h.mgr.HandleRfqCreated(rfqCreated("order-1", usdID, bitcoinID, 70000)); err != nil {
		t.Fatalf("rfq created: %v", err)
	}
	quote := h.venue.quotes[0]
	if quote.SendAmount != 60 || quote.UTXOCount != 1 || !quote.WithChange {
		t.Fatalf("quote = %+v, want amount 60, 1 input, change", quote)
	}

	terms := dealerjson.SwapTerms{
		SendAsset: usdID, SendAmount: 60,
		RecvAsset: bitcoinID, RecvAmount: 70000,
	}
	if err := h.mgr.HandleSwap(&dealerjson.SwapNtfn{
		OrderID: "order-1",
		State:   dealerjson.SwapStateReviewOffer,
		Offer:   &dealerjson.SwapOffer{Swap: terms},
	}); err != nil {
		t.Fatalf("review offer: %v", err)
	}
	if err := h.mgr.HandleSwap(&dealerjson.SwapNtfn{
		OrderID: "order-1", State: dealerjson.SwapStateWaitPSBT,
	}); err != nil {
		t.Fatalf("wait psbt: %v", err)
	}

	// One output for the bitcoin leg, one usd change output.
	if len(h.wallet.rawCalls[0]) != 2 {
		t.Fatalf("raw transaction outputs = %v, want two", h.wallet.rawCalls[0])
	}
	var sawChange bool
	for addr, asset := range h.wallet.rawAsset[0] {
		if asset == usdID {
			sawChange = true
			if got := h.wallet.rawCalls[0][addr]; got != 0.00000010 {
				t.Fatalf("change output amount %v, want 0.00000010", got)
			}
		}
	}
	if !sawChange {
		t.Fatal("no change output constructed")
	}
}

func TestRfqCreatedSkips(t *testing.T) {
	t.Run("InsufficientFunds", func(t *testing.T) {
		h := newHarness(t, 500)
		if err := h.mgr.HandleRfqCreated(rfqCreated("order-1", usdID, bitcoinID, 100000)); err != nil {
			t.Fatalf("rfq created: %v", err)
		}
		if len(h.venue.quotes) != 0 {
			t.Fatalf("quoted despite insufficient funds: %v", h.venue.quotes)
		}
		if h.utxos.UnreservedTotal(usdID) != 160 {
			t.Fatal("skip left reservations behind")
		}
	})

	t.Run("QuoterRefuses", func(t *testing.T) {
		h := newHarness(t, 0)
		h.quoter.err = errors.New("no price")
		if err := h.mgr.HandleRfqCreated(rfqCreated("order-1", usdID, bitcoinID, 100000)); err != nil {
			t.Fatalf("rfq created: %v", err)
		}
		if len(h.venue.quotes) != 0 {
			t.Fatal("quoted despite quoter refusal")
		}
	})

	t.Run("SizeCap", func(t *testing.T) {
		h := newHarness(t, 90)
		h.mgr.cfg.MaxTradeSize = 50000
		if err := h.mgr.HandleRfqCreated(rfqCreated("order-1", usdID, bitcoinID, 100000)); err != nil {
			t.Fatalf("rfq created: %v", err)
		}
		if len(h.venue.quotes) != 0 {
			t.Fatal("quoted above the size cap")
		}
	})

	t.Run("VenueDeclines", func(t *testing.T) {
		h := newHarness(t, 90)
		h.venue.matchErr = dealerjson.ErrRPCQuoteRejected
		if err := h.mgr.HandleRfqCreated(rfqCreated("order-1", usdID, bitcoinID, 100000)); err != nil {
			t.Fatalf("rfq created: %v", err)
		}
		if h.utxos.UnreservedTotal(usdID) != 160 {
			t.Fatal("venue rejection left reservations behind")
		}
		if h.mgr.ActiveOrders() != 0 {
			t.Fatal("declined order left active")
		}
	})

	t.Run("VenueTimeoutFatal", func(t *testing.T) {
		h := newHarness(t, 90)
		h.venue.matchErr = dealerjson.ErrRPCTimeout
		if err := h.mgr.HandleRfqCreated(rfqCreated("order-1", usdID, bitcoinID, 100000)); err == nil {
			t.Fatal("quote timeout not treated as fatal")
		}
	})
}

// TestVenueRejectedSubmission covers the venue declining a swap action: the
// order must stay in place so the failed notification the venue sends for
// its own rejection can run the cleanup, instead of arriving for an already
// dropped order.
func TestVenueRejectedSubmission(t *testing.T) {
	reviewed := func(t *testing.T) *harness {
		h := newHarness(t, 90)
		if err := h.mgr.HandleRfqCreated(rfqCreated("order-1", usdID, bitcoinID, 100000)); err != nil {
			t.Fatalf("rfq created: %v", err)
		}
		if err := h.mgr.HandleSwap(&dealerjson.SwapNtfn{
			OrderID: "order-1",
			State:   dealerjson.SwapStateReviewOffer,
			Offer: &dealerjson.SwapOffer{Swap: dealerjson.SwapTerms{
				SendAsset: usdID, SendAmount: 90,
				RecvAsset: bitcoinID, RecvAmount: 100000,
			}},
		}); err != nil {
			t.Fatalf("review offer: %v", err)
		}
		return h
	}

	failedCleansUp := func(t *testing.T, h *harness) {
		if h.mgr.ActiveOrders() != 1 {
			t.Fatalf("%d active orders after rejection, want 1", h.mgr.ActiveOrders())
		}
		if h.utxos.UnreservedTotal(usdID) == 160 {
			t.Fatal("rejection released reservations before the failed state")
		}

		if err := h.mgr.HandleSwap(&dealerjson.SwapNtfn{
			OrderID: "order-1", State: dealerjson.SwapStateFailed, Error: "rejected",
		}); err != nil {
			t.Fatalf("failed state after rejection: %v", err)
		}
		if h.mgr.ActiveOrders() != 0 {
			t.Fatal("failed state left the order active")
		}
		if h.utxos.UnreservedTotal(usdID) != 160 {
			t.Fatal("failed state left reservations behind")
		}
		if len(h.recorder.failed) != 1 {
			t.Fatalf("failure not recorded: %v", h.recorder.failed)
		}
	}

	t.Run("PSBTRejected", func(t *testing.T) {
		h := reviewed(t)
		h.venue.submitErr = dealerjson.ErrRPCOrderNotFound
		if err := h.mgr.HandleSwap(&dealerjson.SwapNtfn{
			OrderID: "order-1", State: dealerjson.SwapStateWaitPSBT,
		}); err != nil {
			t.Fatalf("rejected psbt treated as fatal: %v", err)
		}
		failedCleansUp(t, h)
	})

	t.Run("SignRejected", func(t *testing.T) {
		h := reviewed(t)
		h.venue.submitErr = dealerjson.ErrRPCOrderNotFound
		if err := h.mgr.HandleSwap(&dealerjson.SwapNtfn{
			OrderID: "order-1", State: dealerjson.SwapStateWaitSign, PSBT: "venue-psbt",
		}); err != nil {
			t.Fatalf("rejected signatures treated as fatal: %v", err)
		}
		failedCleansUp(t, h)
	})
}

func TestRfqCreatedProtocolViolations(t *testing.T) {
	t.Run("UnknownAsset", func(t *testing.T) {
		h := newHarness(t, 90)
		if err := h.mgr.HandleRfqCreated(rfqCreated("order-1", "bogus", bitcoinID, 100000)); err == nil {
			t.Fatal("unknown asset accepted")
		}
	})

	t.Run("NoBitcoinLeg", func(t *testing.T) {
		h := newHarness(t, 90)
		if err := h.mgr.HandleRfqCreated(rfqCreated("order-1", usdID, usdID, 100000)); err == nil {
			t.Fatal("rfq without bitcoin leg accepted")
		}
	})

	t.Run("OversizedOrderID", func(t *testing.T) {
		h := newHarness(t, 90)
		longID := strings.Repeat("x", 65)
		if err := h.mgr.HandleRfqCreated(rfqCreated(longID, usdID, bitcoinID, 100000)); err == nil {
			t.Fatal("oversized order id accepted")
		}
	})

	t.Run("DuplicateOrder", func(t *testing.T) {
		h := newHarness(t, 90)
		ntfn := rfqCreated("order-1", usdID, bitcoinID, 100000)
		if err := h.mgr.HandleRfqCreated(ntfn); err != nil {
			t.Fatalf("rfq created: %v", err)
		}
		if err := h.mgr.HandleRfqCreated(ntfn); err == nil {
			t.Fatal("duplicate rfq_created accepted")
		}
	})
}

func TestRfqRemoved(t *testing.T) {
	t.Run("WithdrawalReleases", func(t *testing.T) {
		h := newHarness(t, 90)
		if err := h.mgr.HandleRfqCreated(rfqCreated("order-1", usdID, bitcoinID, 100000)); err != nil {
			t.Fatalf("rfq created: %v", err)
		}
		h.mgr.HandleRfqRemoved(&dealerjson.RfqRemovedNtfn{
			OrderID: "order-1", Status: dealerjson.RfqCancelled,
		})
		if h.utxos.UnreservedTotal(usdID) != 160 {
			t.Fatal("withdrawal left reservations behind")
		}
		if h.mgr.ActiveOrders() != 0 {
			t.Fatal("withdrawn order left active")
		}
		if len(h.recorder.withdrawn) != 1 {
			t.Fatalf("withdrawal not recorded: %v", h.recorder.withdrawn)
		}
	})

	t.Run("UnknownOrderIgnored", func(t *testing.T) {
		h := newHarness(t, 90)
		h.mgr.HandleRfqRemoved(&dealerjson.RfqRemovedNtfn{
			OrderID: "never-quoted", Status: dealerjson.RfqExpired,
		})
		if len(h.recorder.withdrawn) != 0 {
			t.Fatal("unquoted removal recorded")
		}
	})
}

func TestHandleSwapErrors(t *testing.T) {
	quoted := func(t *testing.T) *harness {
		h := newHarness(t, 90)
		if err := h.mgr.HandleRfqCreated(rfqCreated("order-1", usdID, bitcoinID, 100000)); err != nil {
			t.Fatalf("rfq created: %v", err)
		}
		return h
	}

	t.Run("UnknownOrder", func(t *testing.T) {
		h := newHarness(t, 90)
		err := h.mgr.HandleSwap(&dealerjson.SwapNtfn{
			OrderID: "mystery", State: dealerjson.SwapStateDone,
		})
		if err == nil {
			t.Fatal("unknown order accepted")
		}
	})

	t.Run("OfferMismatch", func(t *testing.T) {
		h := quoted(t)
		err := h.mgr.HandleSwap(&dealerjson.SwapNtfn{
			OrderID: "order-1",
			State:   dealerjson.SwapStateReviewOffer,
			Offer: &dealerjson.SwapOffer{Swap: dealerjson.SwapTerms{
				SendAsset: usdID, SendAmount: 89,
				RecvAsset: bitcoinID, RecvAmount: 100000,
			}},
		})
		if err == nil {
			t.Fatal("diverging offer accepted")
		}
	})

	t.Run("AcceptRequired", func(t *testing.T) {
		h := quoted(t)
		err := h.mgr.HandleSwap(&dealerjson.SwapNtfn{
			OrderID: "order-1",
			State:   dealerjson.SwapStateReviewOffer,
			Offer: &dealerjson.SwapOffer{
				AcceptRequired: true,
				Swap: dealerjson.SwapTerms{
					SendAsset: usdID, SendAmount: 90,
					RecvAsset: bitcoinID, RecvAmount: 100000,
				},
			},
		})
		if err == nil {
			t.Fatal("manual acceptance demand not rejected")
		}
	})

	t.Run("PSBTBeforeReview", func(t *testing.T) {
		h := quoted(t)
		err := h.mgr.HandleSwap(&dealerjson.SwapNtfn{
			OrderID: "order-1", State: dealerjson.SwapStateWaitPSBT,
		})
		if err == nil {
			t.Fatal("psbt request before review accepted")
		}
	})

	t.Run("UnknownState", func(t *testing.T) {
		h := quoted(t)
		err := h.mgr.HandleSwap(&dealerjson.SwapNtfn{
			OrderID: "order-1", State: "haggling",
		})
		if err == nil {
			t.Fatal("unknown state accepted")
		}
	})

	t.Run("SigningFailureFatal", func(t *testing.T) {
		h := quoted(t)
		if err := h.mgr.HandleSwap(&dealerjson.SwapNtfn{
			OrderID: "order-1",
			State:   dealerjson.SwapStateReviewOffer,
			Offer: &dealerjson.SwapOffer{Swap: dealerjson.SwapTerms{
				SendAsset: usdID, SendAmount: 90,
				RecvAsset: bitcoinID, RecvAmount: 100000,
			}},
		}); err != nil {
			t.Fatalf("review offer: %v", err)
		}

		h.wallet.signErr = errors.New("wallet refuses to sign")
		err := h.mgr.HandleSwap(&dealerjson.SwapNtfn{
			OrderID: "order-1", State: dealerjson.SwapStateWaitSign, PSBT: "venue-psbt",
		})
		if err == nil {
			t.Fatal("signing failure not treated as fatal")
		}
	})

	t.Run("FailedReleases", func(t *testing.T) {
		h := quoted(t)
		if err := h.mgr.HandleSwap(&dealerjson.SwapNtfn{
			OrderID: "order-1", State: dealerjson.SwapStateFailed, Error: "peer vanished",
		}); err != nil {
			t.Fatalf("failed state: %v", err)
		}
		if h.utxos.UnreservedTotal(usdID) != 160 {
			t.Fatal("failure left reservations behind")
		}
		if len(h.recorder.failed) != 1 {
			t.Fatalf("failure not recorded: %v", h.recorder.failed)
		}
	})
}

func TestHandleConnectedErrors(t *testing.T) {
	t.Run("LoginFailure", func(t *testing.T) {
		venue := &fakeVenue{assets: testAssets, loginErr: dealerjson.ErrRPCLoginFailed}
		mgr, err := New(&Config{
			APIKey: "bad-key",
			Venue:  venue,
			Wallet: &fakeWallet{},
			Quoter: &fakeQuoter{},
			UTXOs:  utxomgr.New(1),
		})
		if err != nil {
			t.Fatalf("new manager: %v", err)
		}
		if err := mgr.HandleConnected(); err == nil {
			t.Fatal("login failure not surfaced")
		}
	})

	t.Run("InvalidAssetID", func(t *testing.T) {
		venue := &fakeVenue{assets: []dealerjson.Asset{
			{AssetID: bitcoinID, Ticker: dealerjson.TickerLBTC, Precision: 8},
			{AssetID: strings.Repeat("f", 65), Ticker: "BAD", Precision: 8},
		}}
		mgr, err := New(&Config{
			Venue:  venue,
			Wallet: &fakeWallet{},
			Quoter: &fakeQuoter{},
			UTXOs:  utxomgr.New(1),
		})
		if err != nil {
			t.Fatalf("new manager: %v", err)
		}
		if err := mgr.HandleConnected(); err == nil {
			t.Fatal("registry with oversized asset id accepted")
		}
	})

	t.Run("NoBitcoinAsset", func(t *testing.T) {
		venue := &fakeVenue{assets: []dealerjson.Asset{
			{AssetID: usdID, Ticker: "USDt", Precision: 8},
		}}
		mgr, err := New(&Config{
			Venue:  venue,
			Wallet: &fakeWallet{},
			Quoter: &fakeQuoter{},
			UTXOs:  utxomgr.New(1),
		})
		if err != nil {
			t.Fatalf("new manager: %v", err)
		}
		if err := mgr.HandleConnected(); err == nil {
			t.Fatal("registry without bitcoin asset accepted")
		}
	})

	t.Run("ReconnectDropsOrders", func(t *testing.T) {
		h := newHarness(t, 90)
		if err := h.mgr.HandleRfqCreated(rfqCreated("order-1", usdID, bitcoinID, 100000)); err != nil {
			t.Fatalf("rfq created: %v", err)
		}
		h.mgr.HandleDisconnected()
		if err := h.mgr.HandleConnected(); err != nil {
			t.Fatalf("reconnect: %v", err)
		}
		if h.mgr.ActiveOrders() != 0 {
			t.Fatal("reconnect kept stale orders")
		}
		if h.utxos.UnreservedTotal(usdID) != 160 {
			t.Fatal("reconnect kept stale reservations")
		}
	})
}

func TestHandleNewBlock(t *testing.T) {
	h := newHarness(t, 90)

	t.Run("WalletFailureFatal", func(t *testing.T) {
		h.wallet.unspentErr = errors.New("wallet unreachable")
		if err := h.mgr.HandleNewBlock(); err == nil {
			t.Fatal("wallet failure not surfaced")
		}
		h.wallet.unspentErr = nil
	})

	t.Run("SpentOutputsDropOut", func(t *testing.T) {
		h.wallet.unspent = h.wallet.unspent[:1]
		if err := h.mgr.HandleNewBlock(); err != nil {
			t.Fatalf("resync: %v", err)
		}
		if h.utxos.UnreservedTotal(usdID) != 40 {
			t.Fatalf("unreserved total %d after resync, want 40",
				h.utxos.UnreservedTotal(usdID))
		}
	})
}
