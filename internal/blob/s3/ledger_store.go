package s3blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/pairbot/statarb/internal/domain"
	"github.com/pairbot/statarb/internal/ledger"
)

// LedgerStore keeps the whole ledger as one JSON object under key.
type LedgerStore struct {
	reader domain.BlobReader
	writer domain.BlobWriter
	key    string
}

// NewLedgerStore creates a LedgerStore over any blob reader/writer pair.
func NewLedgerStore(r domain.BlobReader, w domain.BlobWriter, key string) *LedgerStore {
	return &LedgerStore{reader: r, writer: w, key: key}
}

// Load fetches and decodes the ledger object. A missing object is an empty
// ledger.
func (s *LedgerStore) Load(ctx context.Context) ([]domain.PairPosition, error) {
	body, err := s.reader.Get(ctx, s.key)
	if errors.Is(err, domain.ErrNotFound) {
		return []domain.PairPosition{}, nil
	}
	if err != nil {
		return nil, err
	}
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("s3blob: read %s: %w", s.key, err)
	}
	return ledger.Decode(data)
}

// Save uploads the encoded ledger, replacing the previous object.
func (s *LedgerStore) Save(ctx context.Context, positions []domain.PairPosition) error {
	data, err := ledger.Encode(positions)
	if err != nil {
		return err
	}
	return s.writer.Put(ctx, s.key, bytes.NewReader(data), "application/json")
}
