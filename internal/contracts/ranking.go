package contracts

import (
	"time"

	"github.com/shopspring/decimal"
)

// ConceptMembership links a stock to a concept. Owned by the membership feed.
type ConceptMembership struct {
	Code    string `json:"stock_code"`
	Concept string `json:"concept_name"`
	Source  string `json:"source,omitempty"`
}

// StockConceptRanking is one stock's position inside a concept on a date.
// Unique per (import type, code, concept, date); rewritten wholesale per date.
type StockConceptRanking struct {
	ImportType  ImportType `json:"import_type"`
	Code        string     `json:"stock_code"`
	Concept     string     `json:"concept_name"`
	TradingDate time.Time  `json:"trading_date"`
	Rank        int        `json:"rank_in_concept"`
	Metric      float64    `json:"metric_value"`
	SharePct    float64    `json:"metric_share_pct"` // metric / concept total * 100
}

// ConceptDailySummary aggregates one concept on one date.
// Unique per (import type, concept, date); rewritten wholesale per date.
type ConceptDailySummary struct {
	ImportType    ImportType      `json:"import_type"`
	Concept       string          `json:"concept_name"`
	TradingDate   time.Time       `json:"trading_date"`
	StockCount    int             `json:"stock_count"`
	Total         decimal.Decimal `json:"total_metric"`
	Avg           decimal.Decimal `json:"avg_metric"`
	Max           decimal.Decimal `json:"max_metric"`
	Min           decimal.Decimal `json:"min_metric"`
	ConceptRank   int             `json:"concept_rank"`
	IsNewHigh     bool            `json:"is_new_high"`
	NewHighStreak int             `json:"new_high_streak_days"`
}

// HistoryPoint is a concept total on a past date
type HistoryPoint struct {
	Date  time.Time       `json:"date"`
	Total decimal.Decimal `json:"total"`
}

// DerivedStatus flags whether rankings/summaries match the raw rows
type DerivedStatus string

const (
	DerivedFresh DerivedStatus = "fresh"
	DerivedStale DerivedStatus = "stale"
)

// DerivedState records freshness of derived data for one (type, date)
type DerivedState struct {
	ImportType  ImportType    `json:"import_type"`
	TradingDate time.Time     `json:"trading_date"`
	Status      DerivedStatus `json:"status"`
	Reason      string        `json:"reason,omitempty"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// DeriveResult reports one ranking + new high pass
type DeriveResult struct {
	ImportType ImportType `json:"import_type"`
	Date       time.Time  `json:"trading_date"`
	Concepts   int        `json:"concepts"`
	Rankings   int        `json:"rankings"`
	NewHighs   int        `json:"new_highs"`
}
