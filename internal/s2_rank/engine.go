package s2_rank

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/wonny/heatrank/backend/internal/contracts"
	"github.com/wonny/heatrank/backend/pkg/logger"
)

// shareScale is the number of decimals kept for share percentages
const shareScale = 6

// Engine ranks stocks inside concepts and summarizes concepts per date
// ⭐ SSOT: S2 ranking + S3 annotation run through Derive only
type Engine struct {
	metrics  contracts.MetricReader
	members  contracts.MembershipRepository
	derived  contracts.DerivedRepository
	detector contracts.HighDetector
	log      *logger.Logger
}

// NewEngine creates a new ranking engine
func NewEngine(
	metrics contracts.MetricReader,
	members contracts.MembershipRepository,
	derived contracts.DerivedRepository,
	detector contracts.HighDetector,
	log *logger.Logger,
) *Engine {
	return &Engine{
		metrics:  metrics,
		members:  members,
		derived:  derived,
		detector: detector,
		log:      log.Module("ranking"),
	}
}

// Derive implements contracts.Deriver. On any failure derived data of the
// date is marked stale and an *contracts.AggregationError is returned.
func (e *Engine) Derive(ctx context.Context, t contracts.ImportType, date time.Time) (*contracts.DeriveResult, error) {
	date = contracts.DateOnly(date)

	values, err := e.metrics.MetricsForDate(ctx, t, date)
	if err != nil {
		return nil, e.stale(ctx, t, date, contracts.StageRank, fmt.Errorf("load metrics: %w", err))
	}
	members, err := e.members.MembersByConcept(ctx)
	if err != nil {
		return nil, e.stale(ctx, t, date, contracts.StageRank, fmt.Errorf("load memberships: %w", err))
	}

	rankings, summaries := Rank(t, date, values, members)

	newHighs, err := e.detector.Annotate(ctx, t, date, summaries)
	if err != nil {
		return nil, e.stale(ctx, t, date, contracts.StageNewHigh, err)
	}

	if err := e.derived.ReplaceDerived(ctx, t, date, rankings, summaries); err != nil {
		return nil, e.stale(ctx, t, date, contracts.StageRank, fmt.Errorf("store derived rows: %w", err))
	}

	e.log.WithFields(map[string]interface{}{
		"import_type": t,
		"date":        date.Format(contracts.DateLayout),
		"stocks":      len(values),
		"concepts":    len(summaries),
		"rankings":    len(rankings),
		"new_highs":   newHighs,
	}).Info("Concept rankings derived")

	return &contracts.DeriveResult{
		ImportType: t,
		Date:       date,
		Concepts:   len(summaries),
		Rankings:   len(rankings),
		NewHighs:   newHighs,
	}, nil
}

func (e *Engine) stale(ctx context.Context, t contracts.ImportType, date time.Time, stage contracts.Stage, cause error) error {
	aggErr := &contracts.AggregationError{ImportType: t, Date: date, Stage: stage, Err: cause}

	if err := e.derived.MarkStale(context.WithoutCancel(ctx), t, date, aggErr.Error()); err != nil {
		e.log.WithError(err).Error("Failed to mark derived data stale")
	}
	e.log.WithError(aggErr).Warn("Derived data marked stale")
	return aggErr
}

// Rank builds ranking rows and summaries for one date.
//
// Members without a metric on the date are left out; concepts with no
// remaining member produce nothing. Stocks are ordered by metric descending
// then code ascending, concepts by total descending then name ascending.
func Rank(t contracts.ImportType, date time.Time, values map[string]float64, members map[string][]string) ([]contracts.StockConceptRanking, []contracts.ConceptDailySummary) {
	concepts := make([]string, 0, len(members))
	for c := range members {
		concepts = append(concepts, c)
	}
	sort.Strings(concepts)

	type scored struct {
		code  string
		value float64
	}

	var (
		rankings  []contracts.StockConceptRanking
		summaries []contracts.ConceptDailySummary
	)

	for _, concept := range concepts {
		seen := make(map[string]struct{}, len(members[concept]))
		stocks := make([]scored, 0, len(members[concept]))
		for _, code := range members[concept] {
			v, ok := values[code]
			if !ok {
				continue
			}
			if _, dup := seen[code]; dup {
				continue
			}
			seen[code] = struct{}{}
			stocks = append(stocks, scored{code: code, value: v})
		}
		if len(stocks) == 0 {
			continue
		}

		sort.Slice(stocks, func(i, j int) bool {
			if stocks[i].value != stocks[j].value {
				return stocks[i].value > stocks[j].value
			}
			return stocks[i].code < stocks[j].code
		})

		total := decimal.Zero
		maxV := decimal.NewFromFloat(stocks[0].value)
		minV := maxV
		for _, s := range stocks {
			d := decimal.NewFromFloat(s.value)
			total = total.Add(d)
			if d.GreaterThan(maxV) {
				maxV = d
			}
			if d.LessThan(minV) {
				minV = d
			}
		}
		count := decimal.NewFromInt(int64(len(stocks)))

		for i, s := range stocks {
			share := 0.0
			if !total.IsZero() {
				share = decimal.NewFromFloat(s.value).
					Div(total).
					Mul(decimal.NewFromInt(100)).
					Round(shareScale).
					InexactFloat64()
			}
			rankings = append(rankings, contracts.StockConceptRanking{
				ImportType:  t,
				Code:        s.code,
				Concept:     concept,
				TradingDate: date,
				Rank:        i + 1,
				Metric:      s.value,
				SharePct:    share,
			})
		}

		summaries = append(summaries, contracts.ConceptDailySummary{
			ImportType:  t,
			Concept:     concept,
			TradingDate: date,
			StockCount:  len(stocks),
			Total:       total,
			Avg:         total.DivRound(count, shareScale),
			Max:         maxV,
			Min:         minV,
		})
	}

	sort.SliceStable(summaries, func(i, j int) bool {
		if c := summaries[i].Total.Cmp(summaries[j].Total); c != 0 {
			return c > 0
		}
		return summaries[i].Concept < summaries[j].Concept
	})
	for i := range summaries {
		summaries[i].ConceptRank = i + 1
	}

	return rankings, summaries
}
