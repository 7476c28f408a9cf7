// Package memstore keeps every repository in process memory.
// Used by tests and by dry-run imports.
package memstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/wonny/heatrank/backend/internal/contracts"
)

// MetricRow is one stored raw row
type MetricRow struct {
	Seq     int64
	BatchID string
	Record  contracts.NormalizedRecord
}

// Store implements the contracts repositories over maps guarded by one mutex
type Store struct {
	mu sync.RWMutex

	seq     int64
	metrics map[string][]MetricRow // type|date → rows in insert order

	members map[string]map[string]string // concept → code → source
	aliases map[string]string

	rankings  map[string][]contracts.StockConceptRanking
	summaries map[string][]contracts.ConceptDailySummary
	states    map[string]*contracts.DerivedState

	taskSeq int64
	tasks   map[int64]*contracts.ImportTask

	// Fault injection for tests; returned once set and left in place
	ApplyErr   error
	DeriveErr  error
	HistoryErr error
}

// New creates an empty store
func New() *Store {
	return &Store{
		metrics:   make(map[string][]MetricRow),
		members:   make(map[string]map[string]string),
		aliases:   make(map[string]string),
		rankings:  make(map[string][]contracts.StockConceptRanking),
		summaries: make(map[string][]contracts.ConceptDailySummary),
		states:    make(map[string]*contracts.DerivedState),
		tasks:     make(map[int64]*contracts.ImportTask),
	}
}

func key(t contracts.ImportType, date time.Time) string {
	return string(t) + "|" + date.Format(contracts.DateLayout)
}

// ============================================================================
// MetricStore / MetricReader
// ============================================================================

// ExistingCodes implements contracts.MetricStore
func (s *Store) ExistingCodes(_ context.Context, t contracts.ImportType, date time.Time) (map[string]struct{}, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]struct{})
	for _, row := range s.metrics[key(t, date)] {
		out[row.Record.Code] = struct{}{}
	}
	return out, nil
}

// Apply implements contracts.MetricStore. The new row set is built aside and
// swapped in only when every step succeeded.
func (s *Store) Apply(_ context.Context, plan *contracts.WritePlan) (*contracts.WriteResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ApplyErr != nil {
		return nil, &contracts.TransactionError{Date: plan.Date, Op: "apply", Err: s.ApplyErr}
	}

	k := key(plan.ImportType, plan.Date)
	current := s.metrics[k]
	res := &contracts.WriteResult{}

	drop := make(map[string]struct{}, len(plan.DeleteCodes))
	for _, c := range plan.DeleteCodes {
		drop[c] = struct{}{}
	}

	next := make([]MetricRow, 0, len(current)+len(plan.Inserts))
	for _, row := range current {
		if plan.DeleteAll {
			res.Deleted++
			continue
		}
		if _, ok := drop[row.Record.Code]; ok {
			res.Deleted++
			continue
		}
		next = append(next, row)
	}

	updates := make(map[string]contracts.NormalizedRecord, len(plan.Updates))
	for _, rec := range plan.Updates {
		updates[rec.Code] = rec
	}
	matched := make(map[string]struct{}, len(updates))
	for i := range next {
		if rec, ok := updates[next[i].Record.Code]; ok {
			next[i].Record = rec
			next[i].BatchID = plan.BatchID
			matched[rec.Code] = struct{}{}
		}
	}
	res.Updated = len(matched)

	seq := s.seq
	for _, rec := range plan.Inserts {
		seq++
		next = append(next, MetricRow{Seq: seq, BatchID: plan.BatchID, Record: rec})
		res.Inserted++
	}

	s.seq = seq
	s.metrics[k] = next
	return res, nil
}

// MetricsForDate implements contracts.MetricReader
func (s *Store) MetricsForDate(_ context.Context, t contracts.ImportType, date time.Time) (map[string]float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]float64)
	latest := make(map[string]int64)
	for _, row := range s.metrics[key(t, date)] {
		if row.Seq >= latest[row.Record.Code] {
			latest[row.Record.Code] = row.Seq
			out[row.Record.Code] = row.Record.Metric
		}
	}
	return out, nil
}

// ImportedDates implements contracts.MetricReader
func (s *Store) ImportedDates(_ context.Context, t contracts.ImportType, from, to time.Time) ([]time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []time.Time
	for _, rows := range s.metrics {
		if len(rows) == 0 || rows[0].Record.ImportType != t {
			continue
		}
		d := rows[0].Record.TradingDate
		if !d.Before(from) && !d.After(to) {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out, nil
}

// Rows returns a copy of the stored rows for one date
func (s *Store) Rows(t contracts.ImportType, date time.Time) []MetricRow {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]MetricRow(nil), s.metrics[key(t, date)]...)
}

// ============================================================================
// MembershipRepository
// ============================================================================

// MembersByConcept implements contracts.MembershipRepository
func (s *Store) MembersByConcept(_ context.Context) (map[string][]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string][]string, len(s.members))
	for concept, codes := range s.members {
		list := make([]string, 0, len(codes))
		for code := range codes {
			list = append(list, code)
		}
		sort.Strings(list)
		out[concept] = list
	}
	return out, nil
}

// ReplaceSource implements contracts.MembershipRepository
func (s *Store) ReplaceSource(_ context.Context, source string, members []contracts.ConceptMembership) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for concept, codes := range s.members {
		for code, src := range codes {
			if src == source {
				delete(codes, code)
			}
		}
		if len(codes) == 0 {
			delete(s.members, concept)
		}
	}
	return s.addLocked(members, source), nil
}

// AddMembers implements contracts.MembershipRepository
func (s *Store) AddMembers(_ context.Context, members []contracts.ConceptMembership) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addLocked(members, ""), nil
}

func (s *Store) addLocked(members []contracts.ConceptMembership, source string) int {
	added := 0
	for _, m := range members {
		codes, ok := s.members[m.Concept]
		if !ok {
			codes = make(map[string]string)
			s.members[m.Concept] = codes
		}
		if _, exists := codes[m.Code]; exists && source == "" {
			continue
		}
		src := m.Source
		if source != "" {
			src = source
		}
		codes[m.Code] = src
		added++
	}
	return added
}

// Aliases implements contracts.MembershipRepository
func (s *Store) Aliases(_ context.Context) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]string, len(s.aliases))
	for k, v := range s.aliases {
		out[k] = v
	}
	return out, nil
}

// SaveAlias implements contracts.MembershipRepository
func (s *Store) SaveAlias(_ context.Context, alias, canonical string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.aliases[alias] = canonical

	// memberships stored under the alias move to the canonical name
	if codes, ok := s.members[alias]; ok {
		target, ok := s.members[canonical]
		if !ok {
			target = make(map[string]string)
			s.members[canonical] = target
		}
		for code, src := range codes {
			if _, exists := target[code]; !exists {
				target[code] = src
			}
		}
		delete(s.members, alias)
	}
	return nil
}

// ============================================================================
// DerivedRepository
// ============================================================================

// SummaryHistory implements contracts.DerivedRepository
func (s *Store) SummaryHistory(_ context.Context, t contracts.ImportType, from, to time.Time) (map[string][]contracts.HistoryPoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.HistoryErr != nil {
		return nil, s.HistoryErr
	}

	out := make(map[string][]contracts.HistoryPoint)
	for _, rows := range s.summaries {
		for _, sum := range rows {
			if sum.ImportType != t || sum.TradingDate.Before(from) || sum.TradingDate.After(to) {
				continue
			}
			out[sum.Concept] = append(out[sum.Concept], contracts.HistoryPoint{Date: sum.TradingDate, Total: sum.Total})
		}
	}
	for _, pts := range out {
		sort.Slice(pts, func(i, j int) bool { return pts[i].Date.Before(pts[j].Date) })
	}
	return out, nil
}

// ReplaceDerived implements contracts.DerivedRepository
func (s *Store) ReplaceDerived(_ context.Context, t contracts.ImportType, date time.Time, rankings []contracts.StockConceptRanking, summaries []contracts.ConceptDailySummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.DeriveErr != nil {
		return s.DeriveErr
	}

	k := key(t, date)
	s.rankings[k] = append([]contracts.StockConceptRanking(nil), rankings...)
	s.summaries[k] = append([]contracts.ConceptDailySummary(nil), summaries...)
	s.states[k] = &contracts.DerivedState{
		ImportType:  t,
		TradingDate: date,
		Status:      contracts.DerivedFresh,
		UpdatedAt:   time.Now().UTC(),
	}
	return nil
}

// MarkStale implements contracts.DerivedRepository
func (s *Store) MarkStale(_ context.Context, t contracts.ImportType, date time.Time, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.states[key(t, date)] = &contracts.DerivedState{
		ImportType:  t,
		TradingDate: date,
		Status:      contracts.DerivedStale,
		Reason:      reason,
		UpdatedAt:   time.Now().UTC(),
	}
	return nil
}

// State implements contracts.DerivedRepository
func (s *Store) State(_ context.Context, t contracts.ImportType, date time.Time) (*contracts.DerivedState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.states[key(t, date)]
	if !ok {
		return nil, fmt.Errorf("derived state %s: %w", key(t, date), contracts.ErrNotFound)
	}
	cp := *st
	return &cp, nil
}

// Summaries implements contracts.DerivedRepository
func (s *Store) Summaries(_ context.Context, t contracts.ImportType, date time.Time) ([]contracts.ConceptDailySummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := append([]contracts.ConceptDailySummary(nil), s.summaries[key(t, date)]...)
	sort.Slice(out, func(i, j int) bool { return out[i].ConceptRank < out[j].ConceptRank })
	return out, nil
}

// Rankings implements contracts.DerivedRepository
func (s *Store) Rankings(_ context.Context, t contracts.ImportType, date time.Time, concept string) ([]contracts.StockConceptRanking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []contracts.StockConceptRanking
	for _, r := range s.rankings[key(t, date)] {
		if concept == "" || r.Concept == concept {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Concept != out[j].Concept {
			return out[i].Concept < out[j].Concept
		}
		return out[i].Rank < out[j].Rank
	})
	return out, nil
}

// ============================================================================
// TaskRepository
// ============================================================================

// Create implements contracts.TaskRepository
func (s *Store) Create(_ context.Context, task *contracts.ImportTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.taskSeq++
	task.ID = s.taskSeq
	s.tasks[task.ID] = cloneTask(task)
	return nil
}

// Finalize implements contracts.TaskRepository
func (s *Store) Finalize(_ context.Context, task *contracts.ImportTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.tasks[task.ID]
	if !ok {
		return fmt.Errorf("task %d: %w", task.ID, contracts.ErrNotFound)
	}
	if stored.Status != contracts.TaskProcessing {
		return contracts.ErrInvalidTransition
	}
	s.tasks[task.ID] = cloneTask(task)
	return nil
}

// Get implements contracts.TaskRepository
func (s *Store) Get(_ context.Context, id int64) (*contracts.ImportTask, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	task, ok := s.tasks[id]
	if !ok {
		return nil, fmt.Errorf("task %d: %w", id, contracts.ErrNotFound)
	}
	return cloneTask(task), nil
}

// ListByBatch implements contracts.TaskRepository
func (s *Store) ListByBatch(_ context.Context, batchID string) ([]*contracts.ImportTask, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*contracts.ImportTask
	for _, task := range s.tasks {
		if task.BatchID == batchID {
			out = append(out, cloneTask(task))
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("batch %s: %w", batchID, contracts.ErrNotFound)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func cloneTask(t *contracts.ImportTask) *contracts.ImportTask {
	cp := *t
	if t.Breakdown != nil {
		b := *t.Breakdown
		cp.Breakdown = &b
	}
	return &cp
}

// ErrInjected is a ready-made fault for tests
var ErrInjected = errors.New("injected failure")
