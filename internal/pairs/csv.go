// Package pairs reads and writes the accepted cointegrated pairs table.
package pairs

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/renameio/v2"

	"github.com/pairbot/statarb/internal/domain"
)

var header = []string{"base_market", "quote_market", "hedge_ratio", "half_life", "p_value"}

// Write encodes pairs as CSV with a header row.
func Write(w io.Writer, pairs []domain.CointegratedPair) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("pairs: write header: %w", err)
	}
	for _, p := range pairs {
		rec := []string{
			p.BaseMarket,
			p.QuoteMarket,
			strconv.FormatFloat(p.HedgeRatio, 'g', -1, 64),
			strconv.FormatFloat(p.HalfLife, 'g', -1, 64),
			strconv.FormatFloat(p.PValue, 'g', -1, 64),
		}
		if err := cw.Write(rec); err != nil {
			return fmt.Errorf("pairs: write %s/%s: %w", p.BaseMarket, p.QuoteMarket, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// RowError describes a row Read skipped.
type RowError struct {
	Line int
	Err  error
}

func (e *RowError) Error() string { return fmt.Sprintf("pairs: line %d: %v", e.Line, e.Err) }

func (e *RowError) Unwrap() error { return e.Err }

// Read decodes a pairs table. Columns are located by header name so extra
// or reordered columns are accepted; p_value is optional. A malformed row is
// skipped and reported in the returned RowErrors; only an unreadable header,
// a missing column or an I/O failure fails the whole table.
func Read(r io.Reader) ([]domain.CointegratedPair, []*RowError, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	head, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return []domain.CointegratedPair{}, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("pairs: read header: %w", err)
	}
	col := make(map[string]int, len(head))
	for i, name := range head {
		col[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, required := range header[:4] {
		if _, ok := col[required]; !ok {
			return nil, nil, fmt.Errorf("pairs: missing column %q", required)
		}
	}

	out := []domain.CointegratedPair{}
	var skipped []*RowError
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		var perr *csv.ParseError
		if errors.As(err, &perr) {
			skipped = append(skipped, &RowError{Line: perr.StartLine, Err: perr.Err})
			continue
		}
		if err != nil {
			return nil, nil, fmt.Errorf("pairs: read: %w", err)
		}
		line, _ := cr.FieldPos(0)
		p, err := parseRow(rec, col)
		if err != nil {
			skipped = append(skipped, &RowError{Line: line, Err: err})
			continue
		}
		out = append(out, p)
	}
	return out, skipped, nil
}

func parseRow(rec []string, col map[string]int) (domain.CointegratedPair, error) {
	field := func(name string) string {
		i, ok := col[name]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	p := domain.CointegratedPair{
		BaseMarket:  field("base_market"),
		QuoteMarket: field("quote_market"),
	}
	if p.BaseMarket == "" || p.QuoteMarket == "" {
		return p, errors.New("empty market")
	}
	var err error
	if p.HedgeRatio, err = strconv.ParseFloat(field("hedge_ratio"), 64); err != nil {
		return p, fmt.Errorf("hedge_ratio: %w", err)
	}
	if p.HalfLife, err = strconv.ParseFloat(field("half_life"), 64); err != nil {
		return p, fmt.Errorf("half_life: %w", err)
	}
	if v := field("p_value"); v != "" {
		if p.PValue, err = strconv.ParseFloat(v, 64); err != nil {
			return p, fmt.Errorf("p_value: %w", err)
		}
	}
	return p, nil
}

// File is a domain.PairsSource backed by a CSV file.
type File struct {
	path   string
	logger *slog.Logger
}

// NewFile returns a pairs table stored at path.
func NewFile(path string, logger *slog.Logger) *File {
	return &File{path: path, logger: logger.With(slog.String("component", "pairs"))}
}

// Pairs loads the table. Malformed rows are logged and left out.
func (f *File) Pairs(ctx context.Context) ([]domain.CointegratedPair, error) {
	fh, err := os.Open(f.path)
	if err != nil {
		return nil, fmt.Errorf("pairs: open %s: %w", f.path, err)
	}
	defer fh.Close()
	out, skipped, err := Read(fh)
	if err != nil {
		return nil, err
	}
	for _, re := range skipped {
		f.logger.WarnContext(ctx, "skipping malformed pair row",
			slog.String("path", f.path),
			slog.Int("line", re.Line),
			slog.String("error", re.Err.Error()),
		)
	}
	return out, nil
}

// Save atomically replaces the file with pairs.
func (f *File) Save(pairs []domain.CointegratedPair) error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return fmt.Errorf("pairs: create dir: %w", err)
	}
	pf, err := renameio.NewPendingFile(f.path, renameio.WithPermissions(0o644))
	if err != nil {
		return fmt.Errorf("pairs: create %s: %w", f.path, err)
	}
	defer pf.Cleanup()
	if err := Write(pf, pairs); err != nil {
		return err
	}
	if err := pf.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("pairs: replace %s: %w", f.path, err)
	}
	return nil
}

var _ domain.PairsSource = (*File)(nil)
