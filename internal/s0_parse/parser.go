package s0_parse

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"

	"github.com/wonny/heatrank/backend/internal/contracts"
)

// TSVFields is the field count of the tab separated form
const TSVFields = 3

// LineParser validates code<TAB>date<TAB>metric lines
type LineParser struct {
	importType contracts.ImportType
	fields     int
}

// NewLineParser creates a parser for the tab separated form
func NewLineParser(t contracts.ImportType) *LineParser {
	return &LineParser{importType: t, fields: TSVFields}
}

// IsHeader reports whether line looks like a column title row: right field
// count, a code cell without digits, and neither the date nor the metric parse.
func (p *LineParser) IsHeader(line string) bool {
	parts := strings.Split(line, "\t")
	if len(parts) != p.fields {
		return false
	}
	if strings.IndexFunc(parts[0], unicode.IsDigit) >= 0 {
		return false
	}
	if _, err := contracts.ParseDate(parts[1]); err == nil {
		return false
	}
	_, err := parseMetric(parts[2])
	return err != nil
}

// Parse validates one line: (a) field count, (b) ISO date, (c) finite metric.
// Errors are typed and carry the line number.
func (p *LineParser) Parse(line string, lineNo int) (*contracts.NormalizedRecord, error) {
	parts := strings.Split(line, "\t")
	if len(parts) != p.fields {
		return nil, &contracts.FormatError{Line: lineNo, Expected: p.fields, Got: len(parts)}
	}

	code := NormalizeCode(parts[0])
	if code.Code == "" {
		return nil, &contracts.FormatError{Line: lineNo, Reason: "empty stock code"}
	}

	date, err := contracts.ParseDate(parts[1])
	if err != nil {
		return nil, &contracts.DateParseError{Line: lineNo, Value: parts[1], Err: err}
	}

	metric, err := parseMetric(parts[2])
	if err != nil {
		return nil, &contracts.NumericParseError{Line: lineNo, Value: parts[2], Date: date, Err: err}
	}

	return &contracts.NormalizedRecord{
		ImportType:   p.importType,
		CodeOriginal: code.Original,
		Code:         code.Code,
		MarketPrefix: code.Market,
		TradingDate:  date,
		Metric:       metric,
		Line:         lineNo,
	}, nil
}

// parseMetric parses a plain finite float
func parseMetric(s string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("not finite")
	}
	return v, nil
}

// parseFlexibleNumber accepts the decorations found in wide exports:
// thousands separators, a trailing %, and 万/亿 magnitude suffixes.
func parseFlexibleNumber(s string) (float64, error) {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, ",", "")
	s = strings.TrimSuffix(s, "%")

	mult := 1.0
	switch {
	case strings.HasSuffix(s, "亿"):
		mult = 1e8
		s = strings.TrimSuffix(s, "亿")
	case strings.HasSuffix(s, "万"):
		mult = 1e4
		s = strings.TrimSuffix(s, "万")
	}

	v, err := parseMetric(s)
	if err != nil {
		return 0, err
	}
	return v * mult, nil
}
