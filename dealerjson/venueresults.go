// NOTE: This file is intended to house the results returned by the swap
// venue for each supported command.

package dealerjson

// LoginDealerResult models the result of the login_dealer command.
type LoginDealerResult struct{}

// AssetsResult models the result of the assets command.
type AssetsResult struct {
	Assets []Asset `json:"assets"`
}

// MatchQuoteResult models the result of the match_quote command. A
// successful reply means the venue has registered the quote; rejection is
// reported through the error field of the response envelope.
type MatchQuoteResult struct{}

// SwapResult models the result of the swap command.
type SwapResult struct{}
