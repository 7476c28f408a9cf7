package contracts

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// DateLayout is the ISO calendar date used by every input format and API
const DateLayout = "2006-01-02"

// ImportType discriminates metric families stored in the shared tables.
// ⭐ SSOT: the set is closed at compile time, no per-file tables are created
type ImportType string

const (
	// ImportTypeVolume daily trading volume from the tab separated export
	ImportTypeVolume ImportType = "volume"
	// ImportTypeHeat daily attention (read count) from the wide export
	ImportTypeHeat ImportType = "heat"
)

// Format identifies an input layout
type Format string

const (
	FormatTSV  Format = "tsv"  // code<TAB>date<TAB>metric
	FormatWide Format = "wide" // header-bearing CSV
	FormatXLSX Format = "xlsx" // header-bearing Excel sheet
)

// ImportTypeSpec describes one registered import type
type ImportTypeSpec struct {
	Type          ImportType `json:"type"`
	Description   string     `json:"description"`
	DefaultFormat Format     `json:"default_format"`
	// MetricField is the wide-form canonical column holding the metric
	MetricField string `json:"metric_field"`
}

var importTypes = map[ImportType]ImportTypeSpec{
	ImportTypeVolume: {
		Type:          ImportTypeVolume,
		Description:   "daily trading volume per stock",
		DefaultFormat: FormatTSV,
		MetricField:   "volume",
	},
	ImportTypeHeat: {
		Type:          ImportTypeHeat,
		Description:   "daily page read count per stock",
		DefaultFormat: FormatWide,
		MetricField:   "reads",
	},
}

// LookupImportType returns the registered spec for a type name
func LookupImportType(name string) (ImportTypeSpec, error) {
	spec, ok := importTypes[ImportType(strings.ToLower(strings.TrimSpace(name)))]
	if !ok {
		return ImportTypeSpec{}, fmt.Errorf("unknown import type %q", name)
	}
	return spec, nil
}

// ImportTypes lists registered types sorted by name
func ImportTypes() []ImportTypeSpec {
	specs := make([]ImportTypeSpec, 0, len(importTypes))
	for _, s := range importTypes {
		specs = append(specs, s)
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].Type < specs[j].Type })
	return specs
}

// ParseFormat validates a format name
func ParseFormat(name string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(name))); f {
	case FormatTSV, FormatWide, FormatXLSX:
		return f, nil
	}
	return "", fmt.Errorf("unknown format %q", name)
}

// OverwriteMode decides how a date group interacts with stored rows
type OverwriteMode string

const (
	ModeUpdate  OverwriteMode = "update"  // upsert by (code, date)
	ModeAppend  OverwriteMode = "append"  // always insert, duplicates allowed
	ModeReplace OverwriteMode = "replace" // delete the date, insert all
	ModeSync    OverwriteMode = "sync"    // delete store-only, update shared, insert new
)

// ParseOverwriteMode validates a mode name
func ParseOverwriteMode(name string) (OverwriteMode, error) {
	switch m := OverwriteMode(strings.ToLower(strings.TrimSpace(name))); m {
	case ModeUpdate, ModeAppend, ModeReplace, ModeSync:
		return m, nil
	}
	return "", fmt.Errorf("unknown overwrite mode %q", name)
}

// NormalizedRecord is one validated input row. Immutable once built.
type NormalizedRecord struct {
	ImportType   ImportType        `json:"import_type"`
	CodeOriginal string            `json:"stock_code_original"`
	Code         string            `json:"stock_code"`
	MarketPrefix string            `json:"market_prefix"`
	TradingDate  time.Time         `json:"trading_date"`
	Metric       float64           `json:"metric_value"`
	Extra        map[string]string `json:"extra,omitempty"`
	Concepts     []string          `json:"concepts,omitempty"`
	Line         int               `json:"line"`
}

// DateKey returns the trading date as YYYY-MM-DD
func (r NormalizedRecord) DateKey() string {
	return r.TradingDate.Format(DateLayout)
}

// ParseDate parses an ISO calendar date into UTC midnight
func ParseDate(s string) (time.Time, error) {
	return time.ParseInLocation(DateLayout, strings.TrimSpace(s), time.UTC)
}

// DateOnly truncates t to UTC midnight of its calendar date
func DateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
