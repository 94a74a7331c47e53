package batch

import (
	"context"
	"errors"
	"fmt"
	"log"
)

// DefaultSize is the batch size used when none is configured.
const DefaultSize = 500

// WriteFunc persists one batch and returns how many items it applied.
type WriteFunc[T any] func(ctx context.Context, items []T) (int, error)

// WriteError reports a batch that failed after its retry.
type WriteError struct {
	Name   string
	Offset int
	Size   int
	Err    error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("batch %s: write failed offset=%d size=%d: %v", e.Name, e.Offset, e.Size, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// IsWriteError reports whether err wraps a WriteError.
func IsWriteError(err error) bool {
	var target *WriteError
	return errors.As(err, &target)
}

// Result summarises a batched write.
type Result struct {
	Batches int
	Written int
	Failed  int
	Errors  []*WriteError
}

// Writer splits items into bounded batches. A failed batch is retried once,
// then logged and skipped; later batches still run.
type Writer[T any] struct {
	name   string
	size   int
	logger *log.Logger
}

// Option configures a Writer.
type Option[T any] func(*Writer[T])

// WithSize overrides the batch size.
func WithSize[T any](size int) Option[T] {
	return func(w *Writer[T]) {
		if size > 0 {
			w.size = size
		}
	}
}

// WithLogger overrides the logger.
func WithLogger[T any](logger *log.Logger) Option[T] {
	return func(w *Writer[T]) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// NewWriter constructs a Writer.
func NewWriter[T any](name string, opts ...Option[T]) *Writer[T] {
	w := &Writer[T]{name: name, size: DefaultSize, logger: log.Default()}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Size returns the configured batch size.
func (w *Writer[T]) Size() int { return w.size }

// Write runs fn over items in batches. The returned error is non-nil only
// when ctx is done before every batch was attempted.
func (w *Writer[T]) Write(ctx context.Context, items []T, fn WriteFunc[T]) (Result, error) {
	var result Result
	if fn == nil {
		return result, errors.New("batch: nil write func")
	}
	for offset := 0; offset < len(items); offset += w.size {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		end := min(offset+w.size, len(items))
		chunk := items[offset:end]
		result.Batches++

		written, err := fn(ctx, chunk)
		if err != nil && ctx.Err() == nil {
			w.logger.Printf("event=batch.retry batch=%s offset=%d size=%d err=%v", w.name, offset, len(chunk), err)
			written, err = fn(ctx, chunk)
		}
		if err != nil {
			werr := &WriteError{Name: w.name, Offset: offset, Size: len(chunk), Err: err}
			w.logger.Printf("event=batch.skipped batch=%s offset=%d size=%d err=%v", w.name, offset, len(chunk), err)
			result.Failed += len(chunk)
			result.Errors = append(result.Errors, werr)
			continue
		}
		result.Written += written
	}
	return result, nil
}
