// Package ledger persists the collection of open pair positions. The
// collection is always read and written whole.
package ledger

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/pairbot/statarb/internal/domain"
)

// Encode serialises positions as an indented JSON array. A nil collection
// encodes as an empty array.
func Encode(positions []domain.PairPosition) ([]byte, error) {
	if positions == nil {
		positions = []domain.PairPosition{}
	}
	data, err := json.MarshalIndent(positions, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("ledger: encode: %w", err)
	}
	return append(data, '\n'), nil
}

// Decode parses a ledger document. Empty input is an empty collection.
func Decode(data []byte) ([]domain.PairPosition, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return []domain.PairPosition{}, nil
	}
	var positions []domain.PairPosition
	if err := json.Unmarshal(data, &positions); err != nil {
		return nil, fmt.Errorf("ledger: decode: %w", err)
	}
	if positions == nil {
		positions = []domain.PairPosition{}
	}
	return positions, nil
}
