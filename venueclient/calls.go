// NOTE: This file houses the typed wrappers over the correlator for each
// venue command the dealer issues. Every wrapper blocks for at most the
// configured request timeout; the single-flight discipline of the
// correlator serializes concurrent callers.

package venueclient

import (
	"encoding/json"

	"github.com/swapsuite/swap-dealer-server/dealerjson"
)

// LoginDealer authenticates the session with the venue API key. The venue
// only routes RFQs to authenticated dealers.
func (c *Client) LoginDealer(apiKey string) error {
	_, err := c.call(dealerjson.MethodLoginDealer,
		dealerjson.NewLoginDealerCmd(apiKey))
	return err
}

// Assets fetches the venue's tradable asset list for this session.
func (c *Client) Assets() ([]dealerjson.Asset, error) {
	raw, err := c.call(dealerjson.MethodAssets, dealerjson.NewAssetsCmd())
	if err != nil {
		return nil, err
	}
	var result dealerjson.AssetsResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, err
	}
	return result.Assets, nil
}

// MatchQuote submits the dealer's committed quote for an RFQ. A venue side
// rejection is returned as a *dealerjson.RPCError.
func (c *Client) MatchQuote(quote dealerjson.MatchQuote) error {
	_, err := c.call(dealerjson.MethodMatchQuote,
		dealerjson.NewMatchQuoteCmd(quote))
	return err
}

// SubmitSwap submits one settlement step (unsigned construction or signed
// payload) for an in-progress order.
func (c *Client) SubmitSwap(orderID string, action dealerjson.SwapAction) error {
	_, err := c.call(dealerjson.MethodSwap,
		dealerjson.NewSwapCmd(orderID, action))
	return err
}
