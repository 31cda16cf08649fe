// NOTE: This file is intended to house the notifications pushed by the swap
// venue.

package dealerjson

// RfqStatus describes why an RFQ left the venue's open set.
type RfqStatus string

const (
	RfqAccepted  RfqStatus = "accepted"
	RfqCancelled RfqStatus = "cancelled"
	RfqExpired   RfqStatus = "expired"
)

// Rfq is a counterparty's announcement of desired trade size and direction.
// SendAsset/SendAmount describe what the counterparty delivers; RecvAsset is
// what the counterparty wants back, i.e. what the dealer must deliver.
type Rfq struct {
	SendAsset  string `json:"send_asset"`
	RecvAsset  string `json:"recv_asset"`
	SendAmount int64  `json:"send_amount"`
}

// RfqCreatedNtfn notifies the dealer of a new competitive quote request.
type RfqCreatedNtfn struct {
	OrderID string `json:"order_id"`
	Rfq     Rfq    `json:"rfq"`
}

// RfqRemovedNtfn notifies the dealer that an RFQ left the open set, either
// because a quote was accepted or because it was withdrawn or expired.
type RfqRemovedNtfn struct {
	OrderID string    `json:"order_id"`
	Status  RfqStatus `json:"status"`
}

// Swap state tags carried by SwapNtfn. The orchestrator matches these
// exhaustively; an unrecognized tag is an error, never silently ignored.
const (
	SwapStateReviewOffer = "review_offer"
	SwapStateWaitPSBT    = "wait_psbt"
	SwapStateWaitSign    = "wait_sign"
	SwapStateFailed      = "failed"
	SwapStateDone        = "done"
)

// SwapTerms are the venue's echo of a committed trade, from the dealer's
// perspective: SendAsset/SendAmount is what the dealer delivers,
// RecvAsset/RecvAmount is what the dealer receives.
type SwapTerms struct {
	SendAsset  string `json:"send_asset"`
	SendAmount int64  `json:"send_amount"`
	RecvAsset  string `json:"recv_asset"`
	RecvAmount int64  `json:"recv_amount"`
}

// SwapOffer is the payload of the review_offer state.
type SwapOffer struct {
	AcceptRequired bool      `json:"accept_required"`
	Swap           SwapTerms `json:"swap"`
}

// SwapNtfn notifies the dealer that an in-progress order changed state.
// The fields beyond State are populated per state tag: Offer for
// review_offer, PSBT for wait_sign, Error for failed, TxID for done.
type SwapNtfn struct {
	OrderID string     `json:"order_id"`
	State   string     `json:"state"`
	Offer   *SwapOffer `json:"offer,omitempty"`
	PSBT    string     `json:"psbt,omitempty"`
	Error   string     `json:"error,omitempty"`
	TxID    string     `json:"txid,omitempty"`
}
