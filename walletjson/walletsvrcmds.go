// NOTE: This file is intended to house the RPC commands that are issued to
// the wallet backend over HTTP POST.

package walletjson

// Wallet RPC method names consumed by the dealer.
const (
	MethodGetNewAddress        = "getnewaddress"
	MethodListUnspent          = "listunspent"
	MethodCreateRawTransaction = "createrawtransaction"
	MethodConvertToPSBT        = "converttopsbt"
	MethodFillPSBTData         = "walletfillpsbtdata"
	MethodSignPSBT             = "walletsignpsbt"
)

// TxInput identifies a spendable output used as a transaction input.
type TxInput struct {
	TxID string `json:"txid"`
	Vout uint32 `json:"vout"`
}

// CreateRawTransactionCmd defines the createrawtransaction wallet command.
// Amounts maps receiving address to a decimal bitcoin-denominated amount and
// Assets maps the same addresses to the asset identifier paid out there.
type CreateRawTransactionCmd struct {
	Inputs      []TxInput
	Amounts     map[string]float64
	LockTime    int64
	Replaceable bool
	Assets      map[string]string
}

// Params returns the positional parameter list for the command in the order
// the wallet backend expects.
func (c *CreateRawTransactionCmd) Params() []interface{} {
	return []interface{}{
		c.Inputs, c.Amounts, c.LockTime, c.Replaceable, c.Assets,
	}
}
