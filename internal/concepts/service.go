package concepts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/wonny/heatrank/backend/internal/contracts"
	"github.com/wonny/heatrank/backend/pkg/httputil"
	"github.com/wonny/heatrank/backend/pkg/logger"
	"github.com/wonny/heatrank/backend/pkg/redis"
)

// Membership sources
const (
	SourceFeed   = "feed"
	SourceFile   = "file"
	SourceImport = "import"
)

// Service owns concept membership: alias canonicalization, feed refresh,
// learning from wide imports and a shared read cache.
// It decorates a MembershipRepository and satisfies the same interface.
// ⭐ SSOT: membership writes go through here only
type Service struct {
	repo    contracts.MembershipRepository
	aliases map[string]string
	log     *logger.Logger

	client  *httputil.Client
	feedURL string

	cache    *redis.Cache
	cacheTTL time.Duration
}

var _ contracts.MembershipRepository = (*Service)(nil)

// ErrInvalidAlias rejects empty, self-referencing and chained aliases
var ErrInvalidAlias = errors.New("invalid concept alias")

// ErrFeedNotConfigured is returned by Refresh without a feed URL
var ErrFeedNotConfigured = errors.New("concept feed URL is not configured")

// NewService creates a membership service; aliases map alias → canonical
func NewService(repo contracts.MembershipRepository, aliases map[string]string, log *logger.Logger) *Service {
	a := make(map[string]string, len(aliases))
	for k, v := range aliases {
		a[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return &Service{repo: repo, aliases: a, log: log.Module("concepts")}
}

// WithFeed enables Refresh from a remote JSON feed
func (s *Service) WithFeed(client *httputil.Client, url string) *Service {
	s.client = client
	s.feedURL = url
	return s
}

// WithCache caches MembersByConcept in Redis
func (s *Service) WithCache(cache *redis.Cache, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = redis.TTLLong
	}
	s.cache = cache
	s.cacheTTL = ttl
	return s
}

// Canonical maps an alias to its canonical concept name.
// Profile aliases win over stored ones.
func (s *Service) Canonical(name string, stored map[string]string) string {
	name = strings.TrimSpace(name)
	if c, ok := s.aliases[name]; ok {
		return c
	}
	if c, ok := stored[name]; ok {
		return c
	}
	return name
}

func (s *Service) canonicalize(ctx context.Context, members []contracts.ConceptMembership) ([]contracts.ConceptMembership, error) {
	stored, err := s.repo.Aliases(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aliases: %w", err)
	}

	seen := make(map[[2]string]struct{}, len(members))
	out := make([]contracts.ConceptMembership, 0, len(members))
	for _, m := range members {
		m.Concept = s.Canonical(m.Concept, stored)
		k := [2]string{m.Code, m.Concept}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, m)
	}
	return out, nil
}

// MembersByConcept implements contracts.MembershipRepository with a cache in front
func (s *Service) MembersByConcept(ctx context.Context) (map[string][]string, error) {
	if s.cache != nil {
		var cached map[string][]string
		hit, err := s.cache.Get(ctx, redis.MembershipKey(), &cached)
		if err != nil {
			s.log.WithError(err).Warn("Membership cache read failed")
		} else if hit {
			return cached, nil
		}
	}

	members, err := s.repo.MembersByConcept(ctx)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, redis.MembershipKey(), members, s.cacheTTL); err != nil {
			s.log.WithError(err).Warn("Membership cache write failed")
		}
	}
	return members, nil
}

// ReplaceSource implements contracts.MembershipRepository
func (s *Service) ReplaceSource(ctx context.Context, source string, members []contracts.ConceptMembership) (int, error) {
	members, err := s.canonicalize(ctx, members)
	if err != nil {
		return 0, err
	}
	n, err := s.repo.ReplaceSource(ctx, source, members)
	if err != nil {
		return 0, err
	}
	s.invalidate(ctx)
	return n, nil
}

// AddMembers implements contracts.MembershipRepository
func (s *Service) AddMembers(ctx context.Context, members []contracts.ConceptMembership) (int, error) {
	members, err := s.canonicalize(ctx, members)
	if err != nil {
		return 0, err
	}
	n, err := s.repo.AddMembers(ctx, members)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.invalidate(ctx)
	}
	return n, nil
}

// Aliases implements contracts.MembershipRepository: stored aliases
// overlaid with the profile ones
func (s *Service) Aliases(ctx context.Context) (map[string]string, error) {
	stored, err := s.repo.Aliases(ctx)
	if err != nil {
		return nil, err
	}
	for k, v := range s.aliases {
		stored[k] = v
	}
	return stored, nil
}

// SaveAlias implements contracts.MembershipRepository. Chains are refused.
func (s *Service) SaveAlias(ctx context.Context, alias, canonical string) error {
	alias, canonical = strings.TrimSpace(alias), strings.TrimSpace(canonical)
	if alias == "" || canonical == "" || alias == canonical {
		return fmt.Errorf("%w: %q → %q", ErrInvalidAlias, alias, canonical)
	}

	all, err := s.Aliases(ctx)
	if err != nil {
		return err
	}
	if _, chained := all[canonical]; chained {
		return fmt.Errorf("%w: target %q is itself an alias", ErrInvalidAlias, canonical)
	}

	if err := s.repo.SaveAlias(ctx, alias, canonical); err != nil {
		return err
	}
	s.invalidate(ctx)
	return nil
}

// Learn implements the importer's MembershipLearner: concepts listed in
// wide-form rows are added (never removed) under the import source
func (s *Service) Learn(ctx context.Context, records []contracts.NormalizedRecord) (int, error) {
	var members []contracts.ConceptMembership
	for _, rec := range records {
		for _, concept := range rec.Concepts {
			members = append(members, contracts.ConceptMembership{Code: rec.Code, Concept: concept, Source: SourceImport})
		}
	}
	if len(members) == 0 {
		return 0, nil
	}
	return s.AddMembers(ctx, members)
}

// Refresh replaces the feed-sourced memberships with the remote feed
func (s *Service) Refresh(ctx context.Context) (int, error) {
	if s.client == nil || s.feedURL == "" {
		return 0, ErrFeedNotConfigured
	}

	var feed Feed
	if err := s.client.GetJSON(ctx, s.feedURL, &feed); err != nil {
		return 0, fmt.Errorf("fetch concept feed: %w", err)
	}

	members := feed.Memberships(SourceFeed)
	if len(members) == 0 {
		// an empty feed would wipe every membership
		return 0, fmt.Errorf("concept feed is empty: %w", contracts.ErrEmptyInput)
	}

	n, err := s.ReplaceSource(ctx, SourceFeed, members)
	if err != nil {
		return 0, err
	}
	s.log.WithFields(map[string]interface{}{
		"url":         s.feedURL,
		"memberships": n,
		"concepts":    len(feed.Concepts) + len(feed.Codes),
	}).Info("Concept memberships refreshed")
	return n, nil
}

// RefreshFrom replaces the file-sourced memberships with the content of r
func (s *Service) RefreshFrom(ctx context.Context, r io.Reader) (int, error) {
	members, err := ParseFeed(r, SourceFile)
	if err != nil {
		return 0, err
	}
	if len(members) == 0 {
		return 0, fmt.Errorf("membership file is empty: %w", contracts.ErrEmptyInput)
	}
	n, err := s.ReplaceSource(ctx, SourceFile, members)
	if err != nil {
		return 0, err
	}
	s.log.WithField("memberships", n).Info("Concept memberships loaded from file")
	return n, nil
}

// ConceptNames lists every concept with at least one member
func (s *Service) ConceptNames(ctx context.Context) ([]string, error) {
	members, err := s.MembersByConcept(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(members))
	for name := range members {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (s *Service) invalidate(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, redis.MembershipKey()); err != nil {
		s.log.WithError(err).Warn("Membership cache invalidation failed")
	}
}
