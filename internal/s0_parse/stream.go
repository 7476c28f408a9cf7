package s0_parse

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"runtime"

	"golang.org/x/time/rate"

	"github.com/wonny/heatrank/backend/internal/contracts"
)

const (
	DefaultChunkSize   = 64 << 10
	DefaultMaxLineSize = 1 << 20
)

// ChunkReader splits a stream into lines using fixed-size reads. A line cut by
// a chunk boundary is carried into the next read. Between chunks it checks the
// context, yields the processor and, when a limiter is set, waits for budget.
type ChunkReader struct {
	ChunkSize   int
	MaxLineSize int
	Limiter     *rate.Limiter // bytes per second, optional

	// OnOverflow receives a line longer than MaxLineSize. The rest of that
	// line is discarded and reading continues unless it returns an error.
	// nil stops the read with the *contracts.FormatError.
	OnOverflow func(err *contracts.FormatError) error
}

// NewChunkReader creates a reader with the given chunk size (0 = default)
func NewChunkReader(chunkSize int, limiter *rate.Limiter) *ChunkReader {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &ChunkReader{
		ChunkSize:   chunkSize,
		MaxLineSize: DefaultMaxLineSize,
		Limiter:     limiter,
	}
}

// LineFunc receives one line without its terminator. line is only valid for
// the duration of the call.
type LineFunc func(lineNo int, line []byte) error

// Lines reads r to the end calling fn per line and returns the line count.
// An error from fn stops the read and is returned as is.
func (c *ChunkReader) Lines(ctx context.Context, r io.Reader, fn LineFunc) (int, error) {
	chunk := make([]byte, c.ChunkSize)
	pending := make([]byte, 0, c.ChunkSize)
	lineNo := 0
	discarding := false

	emit := func(line []byte) error {
		lineNo++
		if len(line) > c.MaxLineSize {
			return c.overflow(lineNo)
		}
		return fn(lineNo, bytes.TrimSuffix(line, []byte{'\r'}))
	}

	for {
		n, readErr := r.Read(chunk)
		if n > 0 {
			data := chunk[:n]
			if discarding {
				// tail of an oversized line
				idx := bytes.IndexByte(data, '\n')
				if idx < 0 {
					data = nil
				} else {
					data = data[idx+1:]
					discarding = false
				}
			}
			pending = append(pending, data...)

			start := 0
			for {
				idx := bytes.IndexByte(pending[start:], '\n')
				if idx < 0 {
					break
				}
				if err := emit(pending[start : start+idx]); err != nil {
					return lineNo, err
				}
				start += idx + 1
			}
			pending = pending[:copy(pending, pending[start:])]

			if len(pending) > c.MaxLineSize {
				lineNo++
				if err := c.overflow(lineNo); err != nil {
					return lineNo, err
				}
				pending = pending[:0]
				discarding = true
			}

			if err := c.yield(ctx, n); err != nil {
				return lineNo, err
			}
		}

		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				break
			}
			return lineNo, fmt.Errorf("read chunk: %w", readErr)
		}
	}

	if len(pending) > 0 {
		if err := emit(pending); err != nil {
			return lineNo, err
		}
	}

	return lineNo, nil
}

func (c *ChunkReader) overflow(lineNo int) error {
	err := &contracts.FormatError{
		Line:   lineNo,
		Reason: fmt.Sprintf("line exceeds %d bytes", c.MaxLineSize),
	}
	if c.OnOverflow == nil {
		return err
	}
	return c.OnOverflow(err)
}

func (c *ChunkReader) yield(ctx context.Context, n int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	runtime.Gosched()

	if c.Limiter == nil {
		return nil
	}
	if burst := c.Limiter.Burst(); n > burst {
		n = burst
	}
	return c.Limiter.WaitN(ctx, n)
}
