// NOTE: This file is intended to house the results returned by the wallet
// backend for the commands the dealer issues.

package walletjson

import (
	"github.com/swapsuite/swap-dealer-server/utils"
)

// UnspentItem models one entry of the listunspent result. Amount is a
// decimal bitcoin-denominated value as reported by the wallet.
type UnspentItem struct {
	TxID          string  `json:"txid"`
	Vout          uint32  `json:"vout"`
	Asset         string  `json:"asset"`
	Amount        float64 `json:"amount"`
	Confirmations int64   `json:"confirmations"`
}

// FillPSBTResult models the result of walletfillpsbtdata: the input PSBT
// annotated with the wallet metadata required for signing.
type FillPSBTResult struct {
	PSBT string `json:"psbt"`
}

// SignPSBTResult models the result of walletsignpsbt.
type SignPSBTResult struct {
	PSBT     string `json:"psbt"`
	Complete bool   `json:"complete"`
}

// UnspentTotal sums the base units of the given unspent set, converting the
// wallet's decimal amounts.
func UnspentTotal(items []UnspentItem) int64 {
	var total int64
	for _, item := range items {
		total += utils.AmountFromBitcoin(item.Amount)
	}
	return total
}
