package s0_parse

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/wonny/heatrank/backend/internal/contracts"
)

// Options selects and tunes the parser for one input stream
type Options struct {
	ImportType  contracts.ImportTypeSpec
	Format      contracts.Format
	FileName    string
	TradingDate time.Time // wide forms without a date column
	ChunkSize   int
	Limiter     *rate.Limiter
	Aliases     map[string][]string // wide header aliases, nil = defaults
}

// Sink receives parse output in input order
type Sink interface {
	// Record is called for every valid record; an error aborts parsing
	Record(rec contracts.NormalizedRecord) error
	// Reject is called for every recoverable line error
	Reject(err contracts.LineError)
}

// Stats counts what the parser saw
type Stats struct {
	Lines   int `json:"lines"`
	Blank   int `json:"blank"`
	Headers int `json:"headers"`
	Records int `json:"records"`
	Errors  int `json:"errors"`
}

// Parse streams r through the parser chosen by opts.Format
// ⭐ SSOT: S0 entry point, every import goes through here
func Parse(ctx context.Context, opts Options, r io.Reader, sink Sink) (*Stats, error) {
	switch opts.Format {
	case contracts.FormatTSV:
		return parseTSV(ctx, opts, r, sink)
	case contracts.FormatWide:
		return parseWide(ctx, opts, r, sink)
	case contracts.FormatXLSX:
		return parseXLSX(ctx, opts, r, sink)
	}
	return nil, errors.New("unsupported format: " + string(opts.Format))
}

// counter wraps the sink to keep Stats
type counter struct {
	sink  Sink
	stats *Stats
}

func (c *counter) record(rec *contracts.NormalizedRecord) error {
	c.stats.Records++
	return c.sink.Record(*rec)
}

func (c *counter) reject(err error) error {
	var lineErr contracts.LineError
	if !errors.As(err, &lineErr) {
		return err
	}
	c.stats.Errors++
	c.sink.Reject(lineErr)
	return nil
}

func parseTSV(ctx context.Context, opts Options, r io.Reader, sink Sink) (*Stats, error) {
	stats := &Stats{}
	out := &counter{sink: sink, stats: stats}
	parser := NewLineParser(opts.ImportType.Type)
	seenContent := false

	cr := NewChunkReader(opts.ChunkSize, opts.Limiter)
	cr.OnOverflow = func(err *contracts.FormatError) error {
		seenContent = true
		return out.reject(err)
	}

	n, err := cr.Lines(ctx, r, func(lineNo int, raw []byte) error {
		line, err := DecodeLine(raw, lineNo)
		if err != nil {
			return out.reject(err)
		}
		if strings.TrimSpace(line) == "" {
			stats.Blank++
			return nil
		}
		if !seenContent {
			seenContent = true
			if parser.IsHeader(line) {
				stats.Headers++
				return nil
			}
		}

		rec, err := parser.Parse(line, lineNo)
		if err != nil {
			return out.reject(err)
		}
		return out.record(rec)
	})
	stats.Lines = n
	return stats, err
}

func parseWide(ctx context.Context, opts Options, r io.Reader, sink Sink) (*Stats, error) {
	stats := &Stats{}
	out := &counter{sink: sink, stats: stats}
	parser := NewWideParser(opts.ImportType, wideDefaultDate(opts), opts.Aliases)

	cr := NewChunkReader(opts.ChunkSize, opts.Limiter)
	cr.OnOverflow = func(err *contracts.FormatError) error {
		if !parser.HasHeader() {
			return err
		}
		return out.reject(err)
	}

	n, err := cr.Lines(ctx, r, func(lineNo int, raw []byte) error {
		line, err := DecodeLine(raw, lineNo)
		if err != nil {
			return out.reject(err)
		}
		if strings.TrimSpace(line) == "" {
			stats.Blank++
			return nil
		}

		cells, err := SplitCSVLine(line, lineNo)
		if err != nil {
			return out.reject(err)
		}

		if !parser.HasHeader() {
			stats.Headers++
			// an unusable header makes every following row meaningless
			return parser.SetHeader(cells, lineNo)
		}

		rec, err := parser.ParseRow(cells, lineNo)
		if err != nil {
			return out.reject(err)
		}
		return out.record(rec)
	})
	stats.Lines = n
	return stats, err
}

// wideDefaultDate picks the explicit trading date, else the one in the file name
func wideDefaultDate(opts Options) time.Time {
	if !opts.TradingDate.IsZero() {
		return contracts.DateOnly(opts.TradingDate)
	}
	if d, ok := DateFromFileName(opts.FileName); ok {
		return d
	}
	return time.Time{}
}
