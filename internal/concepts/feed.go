package concepts

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/wonny/heatrank/backend/internal/contracts"
	"github.com/wonny/heatrank/backend/internal/s0_parse"
)

// Feed is the vendor membership document. Either list may be used.
//
//	{"concepts": [{"name": "Banks", "codes": ["SH600000", "600036"]}]}
//	{"codes": [{"code": "SZ000001", "concepts": ["Banks", "Fintech"]}]}
type Feed struct {
	Concepts []FeedConcept `json:"concepts"`
	Codes    []FeedCode    `json:"codes"`
}

// FeedConcept lists the members of one concept
type FeedConcept struct {
	Name  string   `json:"name"`
	Codes []string `json:"codes"`
}

// FeedCode lists the concepts of one stock
type FeedCode struct {
	Code     string   `json:"code"`
	Concepts []string `json:"concepts"`
}

// Memberships flattens the feed into normalized (code, concept) pairs
func (f *Feed) Memberships(source string) []contracts.ConceptMembership {
	var out []contracts.ConceptMembership
	add := func(code, concept string) {
		c := s0_parse.NormalizeCode(code).Code
		concept = strings.TrimSpace(concept)
		if c == "" || concept == "" {
			return
		}
		out = append(out, contracts.ConceptMembership{Code: c, Concept: concept, Source: source})
	}

	for _, fc := range f.Concepts {
		for _, code := range fc.Codes {
			add(code, fc.Name)
		}
	}
	for _, fc := range f.Codes {
		for _, concept := range fc.Concepts {
			add(fc.Code, concept)
		}
	}
	return out
}

// ParseFeed reads a membership file: a JSON Feed document, or lines of
// "code<sep>concepts" where sep is a tab or comma and the concepts cell
// uses the usual list separators
func ParseFeed(r io.Reader, source string) ([]contracts.ConceptMembership, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read membership file: %w", err)
	}

	trimmed := strings.TrimSpace(strings.TrimPrefix(string(data), "\ufeff"))
	if strings.HasPrefix(trimmed, "{") {
		var feed Feed
		if err := json.Unmarshal([]byte(trimmed), &feed); err != nil {
			return nil, fmt.Errorf("decode membership feed: %w", err)
		}
		return feed.Memberships(source), nil
	}

	var out []contracts.ConceptMembership
	for i, line := range strings.Split(trimmed, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		cells, err := s0_parse.SplitCSVLine(line, i+1)
		if err != nil {
			return nil, err
		}
		if len(cells) < 2 {
			return nil, &contracts.FormatError{Line: i + 1, Expected: 2, Got: len(cells)}
		}
		code := s0_parse.NormalizeCode(cells[0])
		if i == 0 && !s0_parse.IsNumericCode(code.Code) {
			continue // header
		}
		for _, concept := range s0_parse.SplitConcepts(strings.Join(cells[1:], "、")) {
			out = append(out, contracts.ConceptMembership{Code: code.Code, Concept: concept, Source: source})
		}
	}
	return out, nil
}
