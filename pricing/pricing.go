// Package pricing turns an external price feed into concrete swap
// pricing proposals. A Source reports how many base units of an asset trade
// per base unit of bitcoin; the Quoter wraps a Source and a profit margin
// and computes the amount the dealer is willing to deliver for a requested
// amount.
package pricing

import (
	"errors"
	"fmt"
	"math"
)

// MinProfitRatio is the lowest margin the quoter accepts. Quoting at or
// below break-even leaks funds to fees and price drift, so configurations
// under this floor are rejected outright.
const MinProfitRatio = 1.002

// ErrNoPrice is returned when the source has no price for the asset.
var ErrNoPrice = errors.New("no price for asset")

// Source reports the market price of an asset against bitcoin. The returned
// rate is asset base units per bitcoin base unit and must be positive.
type Source interface {
	BitcoinPrice(assetID string) (float64, error)
}

// Quoter computes dealer proposals from a price source and a profit ratio.
type Quoter struct {
	source Source
	ratio  float64
}

// NewQuoter creates a quoter with the given margin. The ratio is the factor
// the dealer's side of each trade is improved by and must be at least
// MinProfitRatio.
func NewQuoter(source Source, ratio float64) (*Quoter, error) {
	if ratio < MinProfitRatio {
		return nil, fmt.Errorf("profit ratio %v below minimum %v",
			ratio, MinProfitRatio)
	}
	return &Quoter{source: source, ratio: ratio}, nil
}

// Proposal returns the amount of the counter asset the dealer delivers in
// exchange for recvAmount base units of the received asset. The asset
// argument names the non-bitcoin leg of the trade; dealerSendsBitcoin says
// which side of it the dealer is on. The result is rounded down in the
// dealer's favor and must come out positive.
func (q *Quoter) Proposal(recvAmount int64, assetID string, dealerSendsBitcoin bool) (int64, error) {
	if recvAmount <= 0 {
		return 0, fmt.Errorf("non-positive receive amount %d", recvAmount)
	}

	rate, err := q.source.BitcoinPrice(assetID)
	if err != nil {
		return 0, err
	}
	if rate <= 0 {
		return 0, fmt.Errorf("non-positive price %v for asset %v", rate, assetID)
	}

	var proposal float64
	if dealerSendsBitcoin {
		// The dealer pays out bitcoin for the asset: divide by the
		// rate and shave the margin off what is delivered.
		proposal = float64(recvAmount) / (rate * q.ratio)
	} else {
		// The dealer pays out the asset for bitcoin: multiply by the
		// rate and keep the margin.
		proposal = float64(recvAmount) * rate / q.ratio
	}

	amount := int64(math.Floor(proposal))
	if amount <= 0 {
		return 0, fmt.Errorf("proposal for %d units of %v rounds to zero",
			recvAmount, assetID)
	}
	return amount, nil
}
