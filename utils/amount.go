package utils

import "math"

// SatoshiPerBitcoin is the number of satoshi-equivalent base units in one
// bitcoin-denominated unit. Asset amounts on the wallet RPC interface are
// expressed as decimal bitcoin-style values and converted to integer base
// units for all internal accounting.
const SatoshiPerBitcoin = 1e8

// AmountFromBitcoin converts a decimal bitcoin-denominated amount to
// integer satoshi base units, rounding to the nearest unit to absorb
// floating point representation error in RPC values.
func AmountFromBitcoin(v float64) int64 {
	return int64(math.Round(v * SatoshiPerBitcoin))
}

// AmountToBitcoin converts integer satoshi base units to the decimal
// bitcoin-denominated form expected by the wallet RPC interface.
func AmountToBitcoin(sat int64) float64 {
	return float64(sat) / SatoshiPerBitcoin
}
