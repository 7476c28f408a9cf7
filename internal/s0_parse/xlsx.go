package s0_parse

import (
	"context"
	"fmt"
	"io"
	"runtime"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/wonny/heatrank/backend/internal/contracts"
)

// xlsxYieldEvery is the row interval between cooperative yields
const xlsxYieldEvery = 1000

// parseXLSX reads the first sheet of a workbook as a wide-form table
func parseXLSX(ctx context.Context, opts Options, r io.Reader, sink Sink) (*Stats, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, &contracts.FormatError{Line: 0, Reason: "open workbook: " + err.Error()}
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, &contracts.FormatError{Line: 0, Reason: "workbook has no sheets"}
	}

	rows, err := f.Rows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read sheet %s: %w", sheets[0], err)
	}
	defer rows.Close()

	stats := &Stats{}
	out := &counter{sink: sink, stats: stats}
	parser := NewWideParser(opts.ImportType, wideDefaultDate(opts), opts.Aliases)
	width := 0

	for rows.Next() {
		stats.Lines++
		lineNo := stats.Lines

		cells, err := rows.Columns()
		if err != nil {
			if rerr := out.reject(&contracts.FormatError{Line: lineNo, Reason: err.Error()}); rerr != nil {
				return stats, rerr
			}
			continue
		}
		if isBlankRow(cells) {
			stats.Blank++
			continue
		}

		if !parser.HasHeader() {
			stats.Headers++
			if err := parser.SetHeader(cells, lineNo); err != nil {
				return stats, err
			}
			width = len(cells)
			continue
		}

		// excelize trims trailing empty cells
		for len(cells) < width {
			cells = append(cells, "")
		}

		rec, err := parser.ParseRow(cells, lineNo)
		if err != nil {
			if rerr := out.reject(err); rerr != nil {
				return stats, rerr
			}
			continue
		}
		if err := out.record(rec); err != nil {
			return stats, err
		}

		if lineNo%xlsxYieldEvery == 0 {
			if err := ctx.Err(); err != nil {
				return stats, err
			}
			runtime.Gosched()
		}
	}

	if err := rows.Error(); err != nil {
		return stats, fmt.Errorf("iterate rows: %w", err)
	}
	return stats, nil
}

func isBlankRow(cells []string) bool {
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
