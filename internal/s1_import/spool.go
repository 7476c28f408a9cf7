package s1_import

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/wonny/heatrank/backend/internal/contracts"
)

// GroupSpool buffers records by trading date.
// Once more than threshold records are held in memory every group is
// flushed to its own temp file; Load merges file and memory records in
// input order.
type GroupSpool struct {
	dir       string
	threshold int

	mem      map[string][]contracts.NormalizedRecord
	files    map[string]*spillFile
	buffered int
	count    int
	spills   int
}

type spillFile struct {
	path string
	f    *os.File
	w    *bufio.Writer
	n    int
}

// NewGroupSpool creates a spool writing temp files under dir ("" = os.TempDir)
func NewGroupSpool(dir string, threshold int) *GroupSpool {
	if threshold <= 0 {
		threshold = 200_000
	}
	return &GroupSpool{
		dir:       dir,
		threshold: threshold,
		mem:       make(map[string][]contracts.NormalizedRecord),
		files:     make(map[string]*spillFile),
	}
}

// Add buffers one record
func (s *GroupSpool) Add(rec contracts.NormalizedRecord) error {
	key := rec.DateKey()
	s.mem[key] = append(s.mem[key], rec)
	s.buffered++
	s.count++

	if s.buffered > s.threshold {
		return s.spill()
	}
	return nil
}

// Dates returns the buffered date keys in ascending order
func (s *GroupSpool) Dates() []string {
	seen := make(map[string]struct{}, len(s.mem)+len(s.files))
	for k := range s.mem {
		seen[k] = struct{}{}
	}
	for k := range s.files {
		seen[k] = struct{}{}
	}
	dates := make([]string, 0, len(seen))
	for k := range seen {
		dates = append(dates, k)
	}
	sort.Strings(dates)
	return dates
}

// Count returns the total number of records added
func (s *GroupSpool) Count() int { return s.count }

// Spills returns how many times the memory buffer was flushed to disk
func (s *GroupSpool) Spills() int { return s.spills }

// Load returns every record of one date in input order
func (s *GroupSpool) Load(date string) ([]contracts.NormalizedRecord, error) {
	var out []contracts.NormalizedRecord

	if sf, ok := s.files[date]; ok {
		if err := sf.w.Flush(); err != nil {
			return nil, fmt.Errorf("flush spill file: %w", err)
		}
		if _, err := sf.f.Seek(0, 0); err != nil {
			return nil, fmt.Errorf("rewind spill file: %w", err)
		}

		out = make([]contracts.NormalizedRecord, 0, sf.n+len(s.mem[date]))
		dec := json.NewDecoder(bufio.NewReader(sf.f))
		for dec.More() {
			var rec contracts.NormalizedRecord
			if err := dec.Decode(&rec); err != nil {
				return nil, fmt.Errorf("decode spill file: %w", err)
			}
			out = append(out, rec)
		}
		// keep appending after the last record
		if _, err := sf.f.Seek(0, 2); err != nil {
			return nil, fmt.Errorf("seek spill file: %w", err)
		}
	}

	return append(out, s.mem[date]...), nil
}

// Release drops a date that has been processed
func (s *GroupSpool) Release(date string) {
	s.buffered -= len(s.mem[date])
	delete(s.mem, date)
	if sf, ok := s.files[date]; ok {
		sf.f.Close()
		os.Remove(sf.path)
		delete(s.files, date)
	}
}

// Close removes all temp files
func (s *GroupSpool) Close() error {
	var firstErr error
	for date, sf := range s.files {
		if err := sf.f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		if err := os.Remove(sf.path); err != nil && !os.IsNotExist(err) && firstErr == nil {
			firstErr = err
		}
		delete(s.files, date)
	}
	s.mem = make(map[string][]contracts.NormalizedRecord)
	s.buffered = 0
	return firstErr
}

func (s *GroupSpool) spill() error {
	for date, recs := range s.mem {
		sf, ok := s.files[date]
		if !ok {
			f, err := os.CreateTemp(s.dir, "heatrank-spool-"+date+"-*.jsonl")
			if err != nil {
				return fmt.Errorf("create spill file: %w", err)
			}
			sf = &spillFile{path: f.Name(), f: f, w: bufio.NewWriter(f)}
			s.files[date] = sf
		}

		enc := json.NewEncoder(sf.w)
		for i := range recs {
			if err := enc.Encode(&recs[i]); err != nil {
				return fmt.Errorf("write spill file: %w", err)
			}
		}
		sf.n += len(recs)
		delete(s.mem, date)
	}
	s.buffered = 0
	s.spills++
	return nil
}
