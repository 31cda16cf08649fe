package constdef

// Trade record lifecycle. A record is created when a quote is matched and
// moves to exactly one terminal state.
const (
	TradeStatusQuoted    = 0
	TradeStatusDone      = 1
	TradeStatusFailed    = 2
	TradeStatusWithdrawn = 3
)

const (
	// MaxOrderIDLength bounds the venue order identifier column.
	MaxOrderIDLength = 64
	// MaxAssetIDLength bounds asset identifier columns. Asset ids are
	// 32-byte hashes rendered as hex.
	MaxAssetIDLength = 64
)
