// NOTE: This file is intended to house the commands that are supported by
// the swap venue.

package dealerjson

// TickerLBTC is the ticker of the network's native bitcoin-like asset.
// Exactly one leg of every tradable pair must be this asset.
const TickerLBTC = "L-BTC"

// Asset describes a tradable asset as reported by the venue. The list is
// loaded once per connection session and used to resolve tickers to asset
// identifiers.
type Asset struct {
	AssetID   string `json:"asset_id"`
	Ticker    string `json:"ticker"`
	Precision uint8  `json:"precision"`
}

// LoginDealerCmd defines the login_dealer command. The venue only delivers
// RFQs to authenticated dealers.
type LoginDealerCmd struct {
	APIKey string `json:"api_key"`
}

// NewLoginDealerCmd returns a new instance which can be used to issue a
// login_dealer command.
func NewLoginDealerCmd(apiKey string) *LoginDealerCmd {
	return &LoginDealerCmd{
		APIKey: apiKey,
	}
}

// AssetsCmd defines the assets command.
type AssetsCmd struct{}

// NewAssetsCmd returns a new instance which can be used to issue an assets
// command.
func NewAssetsCmd() *AssetsCmd {
	return &AssetsCmd{}
}

// MatchQuote is the dealer's committed response to an RFQ.
type MatchQuote struct {
	OrderID    string `json:"order_id"`
	SendAmount int64  `json:"send_amount"`
	UTXOCount  int32  `json:"utxo_count"`
	WithChange bool   `json:"with_change"`
}

// MatchQuoteCmd defines the match_quote command.
type MatchQuoteCmd struct {
	Quote MatchQuote `json:"quote"`
}

// NewMatchQuoteCmd returns a new instance which can be used to issue a
// match_quote command.
func NewMatchQuoteCmd(quote MatchQuote) *MatchQuoteCmd {
	return &MatchQuoteCmd{
		Quote: quote,
	}
}

// SwapAction carries one settlement step payload. Exactly one of the fields
// is set: PSBT for the unsigned construction, Sign for the signed payload.
type SwapAction struct {
	PSBT string `json:"psbt,omitempty"`
	Sign string `json:"sign,omitempty"`
}

// SwapCmd defines the swap command used to submit a settlement step for an
// in-progress order.
type SwapCmd struct {
	OrderID string     `json:"order_id"`
	Action  SwapAction `json:"action"`
}

// NewSwapCmd returns a new instance which can be used to issue a swap
// command.
func NewSwapCmd(orderID string, action SwapAction) *SwapCmd {
	return &SwapCmd{
		OrderID: orderID,
		Action:  action,
	}
}
