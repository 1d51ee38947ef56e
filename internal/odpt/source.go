package odpt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"os"
	"path/filepath"

	"trains.tokyogtfs.org/internal/logging"
)

// Source opens the data dump of one endpoint as a JSON array.
type Source interface {
	Open(ctx context.Context, endpoint string) (io.ReadCloser, error)
}

// DirSource reads dumps saved as "<dir>/<endpoint>.json".
type DirSource struct {
	Dir string
}

func (s DirSource) Open(_ context.Context, endpoint string) (io.ReadCloser, error) {
	f, err := os.Open(filepath.Join(s.Dir, endpoint+".json"))
	if err != nil {
		return nil, fmt.Errorf("error opening %s dump: %w", endpoint, err)
	}
	return f, nil
}

// Stream decodes the endpoint's array one element at a time. Decoding stops
// at the first error, which is yielded with a zero value.
func Stream[T any](ctx context.Context, src Source, endpoint string) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		var zero T
		logger := slog.Default().With(slog.String("component", "odpt_stream"))

		body, err := src.Open(ctx, endpoint)
		if err != nil {
			yield(zero, err)
			return
		}
		defer logging.SafeCloseWithLogging(body, logger, endpoint+"_body")

		dec := json.NewDecoder(body)
		tok, err := dec.Token()
		if err != nil {
			yield(zero, fmt.Errorf("error reading %s: %w", endpoint, err))
			return
		}
		if delim, ok := tok.(json.Delim); !ok || delim != '[' {
			yield(zero, fmt.Errorf("error reading %s: expected a JSON array, got %v", endpoint, tok))
			return
		}

		count := 0
		for dec.More() {
			if err := ctx.Err(); err != nil {
				yield(zero, err)
				return
			}

			var item T
			if err := dec.Decode(&item); err != nil {
				yield(zero, fmt.Errorf("error decoding %s item %d: %w", endpoint, count, err))
				return
			}
			count++
			if !yield(item, nil) {
				return
			}
		}

		if _, err := dec.Token(); err != nil && !errors.Is(err, io.EOF) {
			yield(zero, fmt.Errorf("error reading %s: %w", endpoint, err))
			return
		}
		logger.Debug("endpoint streamed", slog.String("endpoint", endpoint), slog.Int("items", count))
	}
}

// Collect reads the whole endpoint into a slice.
func Collect[T any](ctx context.Context, src Source, endpoint string) ([]T, error) {
	var items []T
	for item, err := range Stream[T](ctx, src, endpoint) {
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}
