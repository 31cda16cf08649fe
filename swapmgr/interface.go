package swapmgr

import (
	"context"

	"github.com/swapsuite/swap-dealer-server/dal"
	"github.com/swapsuite/swap-dealer-server/dal/do"
	"github.com/swapsuite/swap-dealer-server/dealerjson"
	"github.com/swapsuite/swap-dealer-server/service"
	"github.com/swapsuite/swap-dealer-server/walletjson"
)

// VenueCaller is the slice of the venue client the manager drives. All
// calls block until the venue replies or the request times out.
type VenueCaller interface {
	LoginDealer(apiKey string) error
	Assets() ([]dealerjson.Asset, error)
	MatchQuote(quote dealerjson.MatchQuote) error
	SubmitSwap(orderID string, action dealerjson.SwapAction) error
}

// WalletDriver is the slice of the wallet RPC client the manager drives.
type WalletDriver interface {
	GetNewAddress() (string, error)
	ListUnspent(minConf int) ([]walletjson.UnspentItem, error)
	CreateRawTransaction(inputs []walletjson.TxInput, amounts map[string]float64,
		assets map[string]string) (string, error)
	ConvertToPSBT(rawTx string) (string, error)
	FillPSBT(psbt string) (*walletjson.FillPSBTResult, error)
	SignPSBT(psbt string) (*walletjson.SignPSBTResult, error)
}

// Quoter computes the amount the dealer delivers for a requested amount.
// The asset argument is the non-bitcoin leg of the trade.
type Quoter interface {
	Proposal(recvAmount int64, assetID string, dealerSendsBitcoin bool) (int64, error)
}

// TradeRecorder persists quote lifecycle events. Recording failures are
// logged and never interrupt trading; the history is operator bookkeeping,
// not engine state.
type TradeRecorder interface {
	RecordQuote(ctx context.Context, info *do.TradeInfo) error
	MarkDone(ctx context.Context, orderID string, txid string) error
	MarkFailed(ctx context.Context, orderID string, reason string) error
	MarkWithdrawn(ctx context.Context, orderID string, reason string) error
}

// dbTradeRecorder bridges TradeRecorder onto the trade service and the
// global database handle.
type dbTradeRecorder struct {
	svc service.TradeService
}

// NewDBTradeRecorder returns a recorder writing through the trade service
// to the connected database. The database must be initialized first.
func NewDBTradeRecorder() TradeRecorder {
	return &dbTradeRecorder{svc: service.GetTradeService()}
}

func (r *dbTradeRecorder) RecordQuote(ctx context.Context, info *do.TradeInfo) error {
	return r.svc.RecordQuote(ctx, dal.GetDB(ctx), info)
}

func (r *dbTradeRecorder) MarkDone(ctx context.Context, orderID string, txid string) error {
	return r.svc.MarkDone(ctx, dal.GetDB(ctx), orderID, txid)
}

func (r *dbTradeRecorder) MarkFailed(ctx context.Context, orderID string, reason string) error {
	return r.svc.MarkFailed(ctx, dal.GetDB(ctx), orderID, reason)
}

func (r *dbTradeRecorder) MarkWithdrawn(ctx context.Context, orderID string, reason string) error {
	return r.svc.MarkWithdrawn(ctx, dal.GetDB(ctx), orderID, reason)
}
