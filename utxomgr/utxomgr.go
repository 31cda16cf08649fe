// Package utxomgr owns the dealer's authoritative view of spendable
// outputs. Each record carries a soft reservation tying it to at most one
// open order so concurrent quotes never commit the same coin twice. The
// manager is exclusively owned by the engine's event loop: every method
// must be invoked from that single goroutine, which is what makes the
// records safe without locking.
package utxomgr

import (
	"errors"
	"fmt"
	"sort"

	"github.com/swapsuite/swap-dealer-server/utils"
	"github.com/swapsuite/swap-dealer-server/walletjson"
)

// ErrInsufficientFunds is returned by Select when the unreserved outputs of
// the requested asset do not cover the needed amount.
var ErrInsufficientFunds = errors.New("insufficient unreserved funds")

// OutPoint identifies a spendable output by transaction id and output
// index.
type OutPoint struct {
	TxID string
	Vout uint32
}

// String returns the outpoint in the canonical txid:vout form.
func (o OutPoint) String() string {
	return fmt.Sprintf("%s:%d", o.TxID, o.Vout)
}

// UTXO is one tracked spendable output. ReservedBy holds the identifier of
// the open order the output is committed to, or the empty string. The
// reservation is advisory: it is honored by this process, not enforced by
// the wallet.
type UTXO struct {
	OutPoint   OutPoint
	Asset      string
	Amount     int64
	ReservedBy string
}

// Manager tracks the spendable output set and its reservations.
type Manager struct {
	minConf int64
	utxos   map[OutPoint]*UTXO
}

// New creates an empty manager. Outputs below minConf confirmations are
// ignored during reconciliation.
func New(minConf int64) *Manager {
	return &Manager{
		minConf: minConf,
		utxos:   make(map[OutPoint]*UTXO),
	}
}

// Reconcile replaces the tracked set with the wallet's current unspent
// view. It is a full idempotent resync, not an incremental diff: newly seen
// outputs are inserted unreserved, persisting outputs keep their
// reservation untouched, and outputs absent from the new view (spent or
// reorganized away) are removed together with any reservation they carried.
func (m *Manager) Reconcile(unspent []walletjson.UnspentItem) {
	seen := make(map[OutPoint]struct{}, len(unspent))
	for _, item := range unspent {
		if item.Confirmations < m.minConf {
			continue
		}
		op := OutPoint{TxID: item.TxID, Vout: item.Vout}
		seen[op] = struct{}{}
		if _, ok := m.utxos[op]; ok {
			continue
		}
		m.utxos[op] = &UTXO{
			OutPoint: op,
			Asset:    item.Asset,
			Amount:   utils.AmountFromBitcoin(item.Amount),
		}
	}

	for op, utxo := range m.utxos {
		if _, ok := seen[op]; ok {
			continue
		}
		if utxo.ReservedBy != "" {
			log.Debugf("Removing reserved output %v (order %v)",
				op, utxo.ReservedBy)
		} else {
			log.Debugf("Removing consumed output %v", op)
		}
		delete(m.utxos, op)
	}
}

// Select chooses unreserved outputs of the given asset whose total is the
// smallest achievable sum >= needed under a deterministic rule: the single
// smallest output covering the amount on its own competes with the
// ascending-order accumulation of smaller outputs, and the cheaper total
// wins. The returned outputs are not reserved; the caller computes change
// as the returned total minus needed, which is never negative.
func (m *Manager) Select(asset string, needed int64) ([]*UTXO, error) {
	available := m.unreserved(asset)

	sort.Slice(available, func(i, j int) bool {
		if available[i].Amount != available[j].Amount {
			return available[i].Amount < available[j].Amount
		}
		return available[i].OutPoint.String() < available[j].OutPoint.String()
	})

	var total int64
	for _, utxo := range available {
		total += utxo.Amount
	}
	if total < needed {
		return nil, ErrInsufficientFunds
	}

	// Candidate one: accumulate ascending until the target is met.
	var accumulated []*UTXO
	var accumulatedTotal int64
	for _, utxo := range available {
		accumulated = append(accumulated, utxo)
		accumulatedTotal += utxo.Amount
		if accumulatedTotal >= needed {
			break
		}
	}

	// Candidate two: the smallest single output covering the amount.
	for _, utxo := range available {
		if utxo.Amount >= needed && utxo.Amount < accumulatedTotal {
			return []*UTXO{utxo}, nil
		}
	}

	return accumulated, nil
}

// Reserve tags every given output with the order identifier. Reservation is
// all-or-nothing: a selected coin that vanished or got reserved since
// selection is an internal inconsistency reported as an error with nothing
// tagged.
func (m *Manager) Reserve(orderID string, coins []*UTXO) error {
	for _, coin := range coins {
		tracked, ok := m.utxos[coin.OutPoint]
		if !ok {
			return fmt.Errorf("selected output %v no longer tracked",
				coin.OutPoint)
		}
		if tracked.ReservedBy != "" && tracked.ReservedBy != orderID {
			return fmt.Errorf("selected output %v already reserved by order %v",
				coin.OutPoint, tracked.ReservedBy)
		}
	}
	for _, coin := range coins {
		m.utxos[coin.OutPoint].ReservedBy = orderID
	}
	log.Debugf("Reserved %d outputs for order %v", len(coins), orderID)
	return nil
}

// Release clears every reservation tagged with the order identifier. It is
// idempotent: releasing an order with no reservations is a no-op.
func (m *Manager) Release(orderID string) {
	released := 0
	for _, utxo := range m.utxos {
		if utxo.ReservedBy == orderID {
			utxo.ReservedBy = ""
			released++
		}
	}
	if released > 0 {
		log.Debugf("Released %d outputs for order %v", released, orderID)
	}
}

// Reserved returns the outputs tagged with the order identifier, in a
// deterministic order suitable for transaction construction.
func (m *Manager) Reserved(orderID string) []*UTXO {
	var reserved []*UTXO
	for _, utxo := range m.utxos {
		if utxo.ReservedBy == orderID {
			reserved = append(reserved, utxo)
		}
	}
	sort.Slice(reserved, func(i, j int) bool {
		return reserved[i].OutPoint.String() < reserved[j].OutPoint.String()
	})
	return reserved
}

// UnreservedTotal sums the unreserved outputs of the given asset.
func (m *Manager) UnreservedTotal(asset string) int64 {
	var total int64
	for _, utxo := range m.unreserved(asset) {
		total += utxo.Amount
	}
	return total
}

// Count returns the number of tracked outputs.
func (m *Manager) Count() int {
	return len(m.utxos)
}

func (m *Manager) unreserved(asset string) []*UTXO {
	var matched []*UTXO
	for _, utxo := range m.utxos {
		if utxo.Asset == asset && utxo.ReservedBy == "" {
			matched = append(matched, utxo)
		}
	}
	return matched
}
