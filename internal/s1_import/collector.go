package s1_import

import (
	"sort"

	"github.com/wonny/heatrank/backend/internal/contracts"
)

// collector is the parse sink of one submission: records go to the spool,
// line errors are counted per date with bounded samples
type collector struct {
	spool      *GroupSpool
	maxSamples int

	dateErrors   map[string]int
	dateSamples  map[string][]string
	unattributed int
	samples      []string
}

func newCollector(spool *GroupSpool, maxSamples int) *collector {
	return &collector{
		spool:       spool,
		maxSamples:  maxSamples,
		dateErrors:  make(map[string]int),
		dateSamples: make(map[string][]string),
	}
}

// Record implements s0_parse.Sink
func (c *collector) Record(rec contracts.NormalizedRecord) error {
	return c.spool.Add(rec)
}

// Reject implements s0_parse.Sink
func (c *collector) Reject(err contracts.LineError) {
	msg := err.Error()
	if len(c.samples) < c.maxSamples {
		c.samples = append(c.samples, msg)
	}

	date, ok := contracts.ErrorDate(err)
	if !ok {
		c.unattributed++
		return
	}
	key := date.Format(contracts.DateLayout)
	c.dateErrors[key]++
	if len(c.dateSamples[key]) < c.maxSamples {
		c.dateSamples[key] = append(c.dateSamples[key], msg)
	}
}

// dates returns every date with records or attributed errors, ascending
func (c *collector) dates() []string {
	seen := make(map[string]struct{})
	for _, d := range c.spool.Dates() {
		seen[d] = struct{}{}
	}
	for d := range c.dateErrors {
		seen[d] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for d := range seen {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}
