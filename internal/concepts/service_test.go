package concepts

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/heatrank/backend/internal/contracts"
	"github.com/wonny/heatrank/backend/internal/memstore"
	"github.com/wonny/heatrank/backend/pkg/config"
	"github.com/wonny/heatrank/backend/pkg/httputil"
	"github.com/wonny/heatrank/backend/pkg/logger"
	"github.com/wonny/heatrank/backend/pkg/redis"
)

func TestParseFeed_JSON(t *testing.T) {
	doc := `{
		"concepts": [{"name": "Banks", "codes": ["SH600000", "600036", ""]}],
		"codes": [{"code": "sz000001", "concepts": ["Banks", " Fintech "]}]
	}`

	members, err := ParseFeed(strings.NewReader(doc), SourceFile)
	require.NoError(t, err)
	assert.Equal(t, []contracts.ConceptMembership{
		{Code: "600000", Concept: "Banks", Source: SourceFile},
		{Code: "600036", Concept: "Banks", Source: SourceFile},
		{Code: "000001", Concept: "Banks", Source: SourceFile},
		{Code: "000001", Concept: "Fintech", Source: SourceFile},
	}, members)
}

func TestParseFeed_Lines(t *testing.T) {
	doc := "code,concepts\nSH600000,银行、上海国资\n000001\t数字货币\n"

	members, err := ParseFeed(strings.NewReader(doc), SourceFile)
	require.NoError(t, err)
	require.Len(t, members, 3)
	assert.Equal(t, "600000", members[0].Code)
	assert.Equal(t, "上海国资", members[1].Concept)
	assert.Equal(t, "数字货币", members[2].Concept)

	_, err = ParseFeed(strings.NewReader("600000\n"), SourceFile)
	var fe *contracts.FormatError
	assert.True(t, errors.As(err, &fe))
}

func TestService_AliasesAndLearn(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	svc := NewService(store, map[string]string{"AI": "人工智能"}, logger.Nop())

	n, err := svc.Learn(ctx, []contracts.NormalizedRecord{
		{Code: "300750", Concepts: []string{"AI", "人工智能", "储能"}},
		{Code: "600519"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n, "alias and canonical collapse into one membership")

	members, err := svc.MembersByConcept(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"300750"}, members["人工智能"])
	assert.NotContains(t, members, "AI")

	require.NoError(t, svc.SaveAlias(ctx, "储能概念", "储能"))
	assert.ErrorIs(t, svc.SaveAlias(ctx, "x", "储能概念"), ErrInvalidAlias, "chained alias")
	assert.ErrorIs(t, svc.SaveAlias(ctx, "same", "same"), ErrInvalidAlias)

	n, err = svc.AddMembers(ctx, []contracts.ConceptMembership{{Code: "002594", Concept: "储能概念"}})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	names, err := svc.ConceptNames(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"人工智能", "储能"}, names)
}

func TestService_RefreshFromFeed(t *testing.T) {
	ctx := context.Background()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"concepts":[{"name":"Banks","codes":["600000","600036"]}]}`))
	}))
	defer server.Close()

	store := memstore.New()
	_, err := store.AddMembers(ctx, []contracts.ConceptMembership{{Code: "1", Concept: "Old", Source: SourceFeed}})
	require.NoError(t, err)

	client := httputil.New(&config.Config{Concepts: config.ConceptsConfig{Timeout: 5 * time.Second}}, logger.Nop()).DisableRetry()
	svc := NewService(store, nil, logger.Nop()).
		WithFeed(client, server.URL).
		WithCache(redis.NewCache(redis.NewFromRedis(nil), "test"), time.Minute)

	n, err := svc.Refresh(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	members, err := svc.MembersByConcept(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string][]string{"Banks": {"600000", "600036"}}, members)
}

func TestService_RefreshRejectsEmpty(t *testing.T) {
	svc := NewService(memstore.New(), nil, logger.Nop())

	_, err := svc.Refresh(context.Background())
	assert.Error(t, err, "no feed configured")

	_, err = svc.RefreshFrom(context.Background(), strings.NewReader(`{"concepts":[]}`))
	assert.ErrorIs(t, err, contracts.ErrEmptyInput)
}
