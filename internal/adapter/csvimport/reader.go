// Package csvimport reads exported chunk tables as batches of domain.ChunkRecord.
package csvimport

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
	"unicode/utf8"

	"rag-retriever/internal/domain"
)

const (
	DefaultDelimiter = '|'
	DefaultBatchSize = 500
)

var requiredColumns = []string{"chunk_id", "page_content", "embedding"}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999-07",
	"2006-01-02 15:04:05.999999999",
}

// Options configures a Reader.
type Options struct {
	Delimiter rune
	BatchSize int
}

// Reader yields chunk records from a headered CSV. Columns are matched by header name.
type Reader struct {
	csv       *csv.Reader
	closer    io.Closer
	columns   map[string]int
	batchSize int
	row       int
}

var _ domain.ChunkSource = (*Reader)(nil)

// ParseDelimiter validates a single-rune delimiter flag value.
func ParseDelimiter(s string) (rune, error) {
	if utf8.RuneCountInString(s) != 1 {
		return 0, fmt.Errorf("delimiter must be a single character, got %q", s)
	}
	r, _ := utf8.DecodeRuneInString(s)
	return r, nil
}

// Open opens path and reads its header.
func Open(path string, opts Options) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	r, err := NewReader(f, opts)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	r.closer = f
	return r, nil
}

// NewReader reads the header from src and checks the required columns.
func NewReader(src io.Reader, opts Options) (*Reader, error) {
	if opts.Delimiter == 0 {
		opts.Delimiter = DefaultDelimiter
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}

	cr := csv.NewReader(src)
	cr.Comma = opts.Delimiter

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	columns := make(map[string]int, len(header))
	for i, name := range header {
		name = strings.ToLower(strings.Trim(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")), `"`))
		columns[name] = i
	}
	for _, name := range requiredColumns {
		if _, ok := columns[name]; !ok {
			return nil, fmt.Errorf("missing required column %q", name)
		}
	}

	return &Reader{csv: cr, columns: columns, batchSize: opts.BatchSize}, nil
}

// Next returns up to BatchSize records, or io.EOF when the file is exhausted.
func (r *Reader) Next(ctx context.Context) ([]domain.ChunkRecord, error) {
	batch := make([]domain.ChunkRecord, 0, r.batchSize)
	for len(batch) < r.batchSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		fields, err := r.csv.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read row: %w", err)
		}
		r.row++

		rec, err := r.parse(fields)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", r.row, err)
		}
		batch = append(batch, rec)
	}

	if len(batch) == 0 {
		return nil, io.EOF
	}
	return batch, nil
}

// Rows reports how many data rows have been read so far.
func (r *Reader) Rows() int {
	return r.row
}

// Close closes the underlying file when the Reader was created by Open.
func (r *Reader) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer.Close()
}

func (r *Reader) field(fields []string, name string) string {
	i, ok := r.columns[name]
	if !ok || i >= len(fields) {
		return ""
	}
	return fields[i]
}

func (r *Reader) parse(fields []string) (domain.ChunkRecord, error) {
	rec := domain.ChunkRecord{
		ChunkID:     r.field(fields, "chunk_id"),
		PageContent: r.field(fields, "page_content"),
		ContentHash: r.field(fields, "content_hash"),
		Tables:      r.field(fields, "tables"),
		Images:      r.field(fields, "images"),
		Videos:      r.field(fields, "videos"),
		References:  r.field(fields, "references"),
		Category:    r.field(fields, "category"),
		URL:         r.field(fields, "url"),
	}

	raw := strings.TrimSpace(r.field(fields, "embedding"))
	if raw == "" {
		return rec, errors.New("embedding is empty")
	}
	if err := rec.Embedding.Scan(raw); err != nil {
		return rec, fmt.Errorf("failed to parse embedding: %w", err)
	}

	var err error
	if rec.CreatedAt, err = parseTimestamp(r.field(fields, "created_at")); err != nil {
		return rec, fmt.Errorf("created_at: %w", err)
	}
	if rec.UpdatedAt, err = parseTimestamp(r.field(fields, "updated_at")); err != nil {
		return rec, fmt.Errorf("updated_at: %w", err)
	}
	return rec, nil
}

// parseTimestamp returns the zero time for an empty value.
func parseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}
