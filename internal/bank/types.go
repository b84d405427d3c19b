package bank

import (
	"context"
	"errors"
)

// Config selects the answer bank backend.
//
// Driver values:
//   - "sqlite": SQLite database file
//   - "json":   legacy question_bank.json document, read-only
//
// If Driver is empty or "none", the bank is disabled and every question
// falls through to the oracle.
type Config struct {
	Driver string
	Path   string
}

var ErrReadOnly = errors.New("answer bank is read-only")

// Store is the local answer bank boundary.
//
// Lookup is an exact question-text match searched across all chapter
// partitions; the chapter key only organizes the data.
type Store interface {
	Lookup(ctx context.Context, questionText string) (answer string, ok bool, err error)
	Put(ctx context.Context, chapter, questionText, answer string) error
	Count(ctx context.Context) (int, error)
	Close() error
}
