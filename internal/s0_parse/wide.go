package s0_parse

import (
	"encoding/csv"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/wonny/heatrank/backend/internal/contracts"
)

// Canonical wide-form fields
const (
	FieldCode      = "code"
	FieldName      = "name"
	FieldReads     = "reads"
	FieldVolume    = "volume"
	FieldPrice     = "price"
	FieldIndustry  = "industry"
	FieldConcepts  = "concepts"
	FieldTurnover  = "turnover"
	FieldNetInflow = "net_inflow"
	FieldDate      = "date"
)

// DefaultHeaderAliases maps canonical fields to the column titles seen in exports
var DefaultHeaderAliases = map[string][]string{
	FieldCode:      {"code", "stock_code", "symbol", "代码", "股票代码", "证券代码"},
	FieldName:      {"name", "stock_name", "名称", "股票名称", "股票简称", "证券简称"},
	FieldReads:     {"reads", "read_count", "page_views", "views", "阅读数", "阅读量", "浏览量", "页面浏览量", "访问量"},
	FieldVolume:    {"volume", "成交量"},
	FieldPrice:     {"price", "最新价", "现价", "收盘价", "价格"},
	FieldIndustry:  {"industry", "行业", "所属行业"},
	FieldConcepts:  {"concept", "concepts", "概念", "所属概念", "概念板块", "题材"},
	FieldTurnover:  {"turnover", "turnover_rate", "换手率", "换手"},
	FieldNetInflow: {"net_inflow", "净流入", "主力净流入", "资金净流入"},
	FieldDate:      {"date", "trading_date", "日期", "交易日期"},
}

// WideLayout is a resolved header: canonical field → column index
type WideLayout struct {
	index   map[string]int
	headers []string
}

// Has reports whether the canonical field has a column
func (l *WideLayout) Has(field string) bool {
	_, ok := l.index[field]
	return ok
}

// ResolveHeader maps header cells to canonical fields. Matching ignores case
// and surrounding whitespace. Unknown columns are kept as extras.
func ResolveHeader(header []string, aliases map[string][]string) *WideLayout {
	lookup := make(map[string]string)
	for field, names := range aliases {
		for _, n := range names {
			lookup[strings.ToLower(strings.TrimSpace(n))] = field
		}
	}

	layout := &WideLayout{index: make(map[string]int), headers: make([]string, len(header))}
	for i, h := range header {
		h = strings.TrimSpace(h)
		layout.headers[i] = h
		if field, ok := lookup[strings.ToLower(h)]; ok {
			if _, dup := layout.index[field]; !dup {
				layout.index[field] = i
			}
		}
	}
	return layout
}

// MergeAliases returns DefaultHeaderAliases extended with extra titles
func MergeAliases(extra map[string][]string) map[string][]string {
	out := make(map[string][]string, len(DefaultHeaderAliases))
	for k, v := range DefaultHeaderAliases {
		out[k] = append([]string(nil), v...)
	}
	for k, v := range extra {
		out[k] = append(out[k], v...)
	}
	return out
}

// WideParser validates rows of a header-bearing export
type WideParser struct {
	importType  contracts.ImportType
	metricField string
	defaultDate time.Time
	aliases     map[string][]string
	layout      *WideLayout
}

// NewWideParser creates a parser. defaultDate applies when the file has no
// date column; zero means every row must carry its own date.
func NewWideParser(spec contracts.ImportTypeSpec, defaultDate time.Time, aliases map[string][]string) *WideParser {
	if aliases == nil {
		aliases = DefaultHeaderAliases
	}
	return &WideParser{
		importType:  spec.Type,
		metricField: spec.MetricField,
		defaultDate: defaultDate,
		aliases:     aliases,
	}
}

// SetHeader resolves the header row. The code and metric columns are required.
func (p *WideParser) SetHeader(header []string, lineNo int) error {
	layout := ResolveHeader(header, p.aliases)
	if !layout.Has(FieldCode) {
		return &contracts.FormatError{Line: lineNo, Reason: "header has no stock code column"}
	}
	if !layout.Has(p.metricField) {
		return &contracts.FormatError{Line: lineNo, Reason: fmt.Sprintf("header has no %s column", p.metricField)}
	}
	if !layout.Has(FieldDate) && p.defaultDate.IsZero() {
		return &contracts.FormatError{Line: lineNo, Reason: "no date column and no trading date given"}
	}
	p.layout = layout
	return nil
}

// HasHeader reports whether SetHeader succeeded
func (p *WideParser) HasHeader() bool {
	return p.layout != nil
}

// ParseRow validates one data row
func (p *WideParser) ParseRow(cells []string, lineNo int) (*contracts.NormalizedRecord, error) {
	if p.layout == nil {
		return nil, &contracts.FormatError{Line: lineNo, Reason: "row before header"}
	}
	if len(cells) != len(p.layout.headers) {
		return nil, &contracts.FormatError{Line: lineNo, Expected: len(p.layout.headers), Got: len(cells)}
	}

	cell := func(field string) string {
		if i, ok := p.layout.index[field]; ok {
			return strings.TrimSpace(cells[i])
		}
		return ""
	}

	code := NormalizeCode(cell(FieldCode))
	if code.Code == "" {
		return nil, &contracts.FormatError{Line: lineNo, Reason: "empty stock code"}
	}

	date := p.defaultDate
	if p.layout.Has(FieldDate) {
		raw := cell(FieldDate)
		d, err := parseLooseDate(raw)
		if err != nil {
			return nil, &contracts.DateParseError{Line: lineNo, Value: raw, Err: err}
		}
		date = d
	}

	rawMetric := cell(p.metricField)
	metric, err := parseFlexibleNumber(rawMetric)
	if err != nil {
		return nil, &contracts.NumericParseError{Line: lineNo, Value: rawMetric, Date: date, Err: err}
	}

	extra := make(map[string]string)
	for i, h := range p.layout.headers {
		if h == "" || isStructural(p.layout, i, p.metricField) {
			continue
		}
		if v := strings.TrimSpace(cells[i]); v != "" {
			extra[canonicalName(p.layout, i, h)] = v
		}
	}

	return &contracts.NormalizedRecord{
		ImportType:   p.importType,
		CodeOriginal: code.Original,
		Code:         code.Code,
		MarketPrefix: code.Market,
		TradingDate:  date,
		Metric:       metric,
		Extra:        extra,
		Concepts:     SplitConcepts(cell(FieldConcepts)),
		Line:         lineNo,
	}, nil
}

// isStructural reports columns consumed into record fields rather than extras
func isStructural(l *WideLayout, col int, metricField string) bool {
	for _, f := range []string{FieldCode, FieldDate, FieldConcepts, metricField} {
		if i, ok := l.index[f]; ok && i == col {
			return true
		}
	}
	return false
}

func canonicalName(l *WideLayout, col int, header string) string {
	for field, i := range l.index {
		if i == col {
			return field
		}
	}
	return header
}

// SplitCSVLine splits one decoded wide-form line. Tab is used as the
// delimiter when the line has tabs but no commas.
func SplitCSVLine(line string, lineNo int) ([]string, error) {
	r := csv.NewReader(strings.NewReader(line))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	if strings.Contains(line, "\t") && !strings.Contains(line, ",") {
		r.Comma = '\t'
	}

	cells, err := r.Read()
	if err != nil {
		return nil, &contracts.FormatError{Line: lineNo, Reason: "malformed csv: " + err.Error()}
	}
	return cells, nil
}

// SplitConcepts splits a concept cell on the separators used by data vendors
// and drops duplicates, keeping first-seen order.
func SplitConcepts(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	fields := strings.FieldsFunc(s, func(r rune) bool {
		switch r {
		case ' ', '\t', '\n', '\r', ',', '，', '、', ';', '；', '|', '/', '／':
			return true
		}
		return false
	})

	seen := make(map[string]struct{}, len(fields))
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	return out
}

var looseDateLayouts = []string{contracts.DateLayout, "2006/01/02", "20060102", "2006.01.02"}

func parseLooseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	var lastErr error
	for _, layout := range looseDateLayouts {
		d, err := time.ParseInLocation(layout, s, time.UTC)
		if err == nil {
			return d, nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}

var fileDatePattern = regexp.MustCompile(`(\d{4})[-_.]?(\d{2})[-_.]?(\d{2})`)

// DateFromFileName extracts a trading date embedded in a file name such as
// heat_2024-01-15.csv or 20240115.xlsx
func DateFromFileName(name string) (time.Time, bool) {
	m := fileDatePattern.FindStringSubmatch(filepath.Base(name))
	if m == nil {
		return time.Time{}, false
	}
	d, err := contracts.ParseDate(m[1] + "-" + m[2] + "-" + m[3])
	if err != nil {
		return time.Time{}, false
	}
	return d, true
}
