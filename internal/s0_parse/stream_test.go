package s0_parse

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/time/rate"

	"github.com/wonny/heatrank/backend/internal/contracts"
)

func collectLines(t *testing.T, cr *ChunkReader, input string) []string {
	t.Helper()
	var lines []string
	n, err := cr.Lines(context.Background(), strings.NewReader(input), func(lineNo int, line []byte) error {
		assert.Equal(t, len(lines)+1, lineNo)
		lines = append(lines, string(line))
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, len(lines), n)
	return lines
}

func TestChunkReader_CarriesPartialLines(t *testing.T) {
	input := "600000\t2024-01-15\t1\r\n000001\t2024-01-15\t22\nlast-line-without-newline"

	// every chunk size must yield the same lines
	for _, size := range []int{1, 2, 3, 7, 16, 4096} {
		lines := collectLines(t, NewChunkReader(size, nil), input)
		assert.Equal(t, []string{
			"600000\t2024-01-15\t1",
			"000001\t2024-01-15\t22",
			"last-line-without-newline",
		}, lines, "chunk size %d", size)
	}
}

func TestChunkReader_EmptyAndBlankLines(t *testing.T) {
	assert.Empty(t, collectLines(t, NewChunkReader(8, nil), ""))
	assert.Equal(t, []string{"a", "", "b"}, collectLines(t, NewChunkReader(8, nil), "a\n\nb\n"))
}

func TestChunkReader_CallbackErrorStops(t *testing.T) {
	stop := errors.New("stop")
	calls := 0
	_, err := NewChunkReader(4, nil).Lines(context.Background(), strings.NewReader("a\nb\nc\n"), func(int, []byte) error {
		calls++
		return stop
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, calls)
}

func TestChunkReader_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewChunkReader(2, nil).Lines(ctx, strings.NewReader("abcdef\n"), func(int, []byte) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestChunkReader_LineTooLong(t *testing.T) {
	cr := NewChunkReader(4, nil)
	cr.MaxLineSize = 8

	_, err := cr.Lines(context.Background(), strings.NewReader(strings.Repeat("x", 20)), func(int, []byte) error { return nil })
	var fe *contracts.FormatError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, 1, fe.Line)
}

func TestChunkReader_OversizedLineSkipped(t *testing.T) {
	input := "a\n" + strings.Repeat("x", 50) + "\r\nb\nc"

	for _, size := range []int{3, 8, 64} {
		cr := NewChunkReader(size, nil)
		cr.MaxLineSize = 10

		var overflows []int
		cr.OnOverflow = func(err *contracts.FormatError) error {
			overflows = append(overflows, err.Line)
			return nil
		}

		var lines []string
		var numbers []int
		n, err := cr.Lines(context.Background(), strings.NewReader(input), func(lineNo int, line []byte) error {
			numbers = append(numbers, lineNo)
			lines = append(lines, string(line))
			return nil
		})
		require.NoError(t, err, "chunk size %d", size)
		assert.Equal(t, 4, n, "chunk size %d", size)
		assert.Equal(t, []string{"a", "b", "c"}, lines, "chunk size %d", size)
		assert.Equal(t, []int{1, 3, 4}, numbers, "chunk size %d", size)
		assert.Equal(t, []int{2}, overflows, "chunk size %d", size)
	}
}

func TestChunkReader_WithLimiter(t *testing.T) {
	limiter := rate.NewLimiter(rate.Inf, 4)
	lines := collectLines(t, NewChunkReader(16, limiter), "a\nb\n")
	assert.Equal(t, []string{"a", "b"}, lines)
}

func TestDecodeLine(t *testing.T) {
	got, err := DecodeLine([]byte("\xEF\xBB\xBF600000\t2024-01-15\t1"), 1)
	require.NoError(t, err)
	assert.Equal(t, "600000\t2024-01-15\t1", got)

	gbk, err := simplifiedchinese.GBK.NewEncoder().String("人工智能,600000")
	require.NoError(t, err)
	got, err = DecodeLine([]byte(gbk), 5)
	require.NoError(t, err)
	assert.Equal(t, "人工智能,600000", got)

	_, err = DecodeLine([]byte{0x81, 0x30, 0xFF}, 6)
	var encErr *contracts.EncodingError
	require.True(t, errors.As(err, &encErr))
	assert.Equal(t, 6, encErr.Line)
}
