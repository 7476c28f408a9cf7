package s3_newhigh

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/wonny/heatrank/backend/internal/contracts"
	"github.com/wonny/heatrank/backend/internal/profile"
)

// DefaultWindowDays is the look-back used when none is configured
const DefaultWindowDays = 10

// Policy decides how a total equal to the window maximum is treated
type Policy string

const (
	// NotNewHigh: equality is not a new high (default)
	NotNewHigh Policy = profile.EqualityNotNewHigh
	// EqualIsNewHigh: equality counts as a new high
	EqualIsNewHigh Policy = profile.EqualityNewHigh
)

// Detector flags concepts whose total exceeds their recent history
// ⭐ SSOT: new high rules live here only
type Detector struct {
	repo   contracts.DerivedRepository
	window int
	policy Policy
}

// NewDetector creates a detector; window <= 0 uses DefaultWindowDays
func NewDetector(repo contracts.DerivedRepository, window int, policy Policy) *Detector {
	if window <= 0 {
		window = DefaultWindowDays
	}
	if policy == "" {
		policy = NotNewHigh
	}
	return &Detector{repo: repo, window: window, policy: policy}
}

// Window returns the look-back in calendar days
func (d *Detector) Window() int { return d.window }

// Annotate sets IsNewHigh and NewHighStreak on every summary of date and
// returns how many are new highs. History is read from stored summaries of
// the window before date; date itself is excluded.
func (d *Detector) Annotate(ctx context.Context, t contracts.ImportType, date time.Time, summaries []contracts.ConceptDailySummary) (int, error) {
	from := date.AddDate(0, 0, -d.window)
	to := date.AddDate(0, 0, -1)

	history, err := d.repo.SummaryHistory(ctx, t, from, to)
	if err != nil {
		return 0, fmt.Errorf("load summary history: %w", err)
	}

	count := 0
	for i := range summaries {
		s := &summaries[i]
		s.IsNewHigh, s.NewHighStreak = Evaluate(s.Total, history[s.Concept], date, d.window, d.policy)
		if s.IsNewHigh {
			count++
		}
	}
	return count, nil
}

// Evaluate applies the new high rule to one concept.
//
//   - no history: new high, streak = window
//   - current above the history maximum (or equal under EqualIsNewHigh):
//     new high, streak = days back to the most recent day that blocks it
//     (>= current, or > current under EqualIsNewHigh), capped at window
//   - otherwise: not a new high, streak 0
//
// Points outside [date-window, date-1] are ignored.
func Evaluate(current decimal.Decimal, history []contracts.HistoryPoint, date time.Time, window int, policy Policy) (bool, int) {
	from := date.AddDate(0, 0, -window)

	points := make([]contracts.HistoryPoint, 0, len(history))
	for _, p := range history {
		if p.Date.Before(from) || !p.Date.Before(date) {
			continue
		}
		points = append(points, p)
	}
	if len(points) == 0 {
		return true, window
	}

	maxTotal := points[0].Total
	for _, p := range points[1:] {
		if p.Total.GreaterThan(maxTotal) {
			maxTotal = p.Total
		}
	}

	isHigh := current.GreaterThan(maxTotal)
	if policy == EqualIsNewHigh {
		isHigh = current.GreaterThanOrEqual(maxTotal)
	}
	if !isHigh {
		return false, 0
	}

	// most recent first
	sort.Slice(points, func(i, j int) bool { return points[i].Date.After(points[j].Date) })
	for _, p := range points {
		blocks := p.Total.GreaterThanOrEqual(current)
		if policy == EqualIsNewHigh {
			blocks = p.Total.GreaterThan(current)
		}
		if blocks {
			days := int(date.Sub(p.Date).Hours() / 24)
			return true, min(days, window)
		}
	}
	return true, window
}
