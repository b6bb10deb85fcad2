package ingest

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/shopcsv/internal/logging"
	"github.com/JonMunkholm/shopcsv/internal/shop"
)

// DefaultMaxFileSize is the payload limit applied when none is configured (100MB).
const DefaultMaxFileSize int64 = 100 * 1024 * 1024

// Importer ingests product and order CSV files into a shop.Store.
// An Importer holds no per-import state and is safe for concurrent use.
type Importer struct {
	store   shop.Store
	maxSize int64
	now     func() time.Time
}

// Option configures an Importer.
type Option func(*Importer)

// WithMaxFileSize sets the payload limit in bytes. Non-positive disables it.
func WithMaxFileSize(n int64) Option {
	return func(im *Importer) { im.maxSize = n }
}

// WithClock overrides the clock used for defaulted timestamps.
func WithClock(now func() time.Time) Option {
	return func(im *Importer) { im.now = now }
}

// NewImporter returns an Importer writing to store.
func NewImporter(store shop.Store, opts ...Option) *Importer {
	im := &Importer{
		store:   store,
		maxSize: DefaultMaxFileSize,
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(im)
	}
	return im
}

// RowFailure describes the first row an import stopped at.
type RowFailure struct {
	Line    int    `json:"line"`
	Column  string `json:"column,omitempty"`
	Value   string `json:"value,omitempty"`
	Reason  string `json:"reason"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Action  string `json:"action,omitempty"`
}

// newRowFailure summarises err for callers. Errors that are not tied to a
// row still produce a failure with Line 0.
func newRowFailure(err error) *RowFailure {
	msg := MapError(err)
	f := &RowFailure{
		Reason:  err.Error(),
		Code:    msg.Code,
		Message: msg.Message,
		Action:  msg.Action,
	}
	var re *RowError
	if errors.As(err, &re) {
		f.Line, f.Column, f.Value = re.Line, re.Column, re.Value
	}
	return f
}

// ProductResult is the outcome of a product import.
type ProductResult struct {
	RunID     string          `json:"run_id"`
	Products  []*shop.Product `json:"products"`
	Skipped   int             `json:"skipped"`
	BytesRead int64           `json:"bytes_read"`
	Duration  time.Duration   `json:"duration"`
	Failure   *RowFailure     `json:"failure,omitempty"`
}

// OrderResult is the outcome of an order import.
//
// Orders holds every order constructed and persisted before the import
// stopped; Created counts those the store newly assigned an identity to.
type OrderResult struct {
	RunID     string        `json:"run_id"`
	Orders    []*shop.Order `json:"orders"`
	Created   int           `json:"created"`
	Skipped   int           `json:"skipped"`
	BytesRead int64         `json:"bytes_read"`
	Duration  time.Duration `json:"duration"`
	Failure   *RowFailure   `json:"failure,omitempty"`
}

// open applies the size limit and decoding, then reads the whole table.
func (im *Importer) open(r io.Reader, encoding string) (*table, *sizeLimitedReader, error) {
	counted := newSizeLimitedReader(r, im.maxSize)
	decoded, err := Decode(counted, encoding)
	if err != nil {
		return nil, counted, err
	}
	t, err := readTable(decoded)
	return t, counted, err
}

func runLogger(ctx context.Context, kind, runID, encoding string) *slog.Logger {
	return logging.WithFields(ctx,
		"import", kind,
		"run_id", runID,
		"encoding", encoding,
	)
}

func newRunID() string {
	return uuid.NewString()
}
