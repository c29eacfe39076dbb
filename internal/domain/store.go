package domain

import "context"

// LedgerStore persists the full collection of open pair positions. The
// collection is the unit of persistence: Load returns everything, Save
// replaces everything. A missing ledger loads as an empty collection.
//
// Implementations assume a single writer; see LockManager for the guard.
type LedgerStore interface {
	Load(ctx context.Context) ([]PairPosition, error)
	Save(ctx context.Context, positions []PairPosition) error
}

// PairsSource yields the accepted cointegrated pairs table.
type PairsSource interface {
	Pairs(ctx context.Context) ([]CointegratedPair, error)
}
