package concepts

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wonny/heatrank/backend/internal/contracts"
)

// Repository stores memberships in data.concept_membership
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new membership repository
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// MembersByConcept implements contracts.MembershipRepository
func (r *Repository) MembersByConcept(ctx context.Context) (map[string][]string, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT concept_name, stock_code
		FROM data.concept_membership
		ORDER BY concept_name, stock_code
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query memberships: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]string)
	for rows.Next() {
		var concept, code string
		if err := rows.Scan(&concept, &code); err != nil {
			return nil, fmt.Errorf("failed to scan membership: %w", err)
		}
		out[concept] = append(out[concept], code)
	}
	return out, rows.Err()
}

// ReplaceSource implements contracts.MembershipRepository
func (r *Repository) ReplaceSource(ctx context.Context, source string, members []contracts.ConceptMembership) (int, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "DELETE FROM data.concept_membership WHERE source = $1", source); err != nil {
		return 0, fmt.Errorf("failed to delete memberships: %w", err)
	}

	// rows owned by another source are taken over
	n, err := upsertMembers(ctx, tx, members, source, true)
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return n, nil
}

// AddMembers implements contracts.MembershipRepository; existing pairs are kept
func (r *Repository) AddMembers(ctx context.Context, members []contracts.ConceptMembership) (int, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	n, err := upsertMembers(ctx, tx, members, "", false)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return n, nil
}

func upsertMembers(ctx context.Context, tx pgx.Tx, members []contracts.ConceptMembership, source string, overwrite bool) (int, error) {
	query := `
		INSERT INTO data.concept_membership (stock_code, concept_name, source)
		VALUES ($1, $2, $3)
		ON CONFLICT (stock_code, concept_name) DO NOTHING
	`
	if overwrite {
		query = `
			INSERT INTO data.concept_membership (stock_code, concept_name, source)
			VALUES ($1, $2, $3)
			ON CONFLICT (stock_code, concept_name) DO UPDATE SET
				source = EXCLUDED.source,
				updated_at = NOW()
		`
	}

	batch := &pgx.Batch{}
	for _, m := range members {
		src := m.Source
		if source != "" {
			src = source
		}
		batch.Queue(query, m.Code, m.Concept, src)
	}

	results := tx.SendBatch(ctx, batch)
	defer results.Close()

	added := 0
	for range members {
		tag, err := results.Exec()
		if err != nil {
			return 0, fmt.Errorf("failed to upsert membership: %w", err)
		}
		added += int(tag.RowsAffected())
	}
	return added, nil
}

// Aliases implements contracts.MembershipRepository
func (r *Repository) Aliases(ctx context.Context) (map[string]string, error) {
	rows, err := r.pool.Query(ctx, "SELECT alias, canonical_name FROM data.concept_alias")
	if err != nil {
		return nil, fmt.Errorf("failed to query aliases: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var alias, canonical string
		if err := rows.Scan(&alias, &canonical); err != nil {
			return nil, fmt.Errorf("failed to scan alias: %w", err)
		}
		out[alias] = canonical
	}
	return out, rows.Err()
}

// SaveAlias implements contracts.MembershipRepository. Memberships stored
// under the alias move to the canonical name.
func (r *Repository) SaveAlias(ctx context.Context, alias, canonical string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		INSERT INTO data.concept_alias (alias, canonical_name)
		VALUES ($1, $2)
		ON CONFLICT (alias) DO UPDATE SET canonical_name = EXCLUDED.canonical_name
	`, alias, canonical); err != nil {
		return fmt.Errorf("failed to save alias: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO data.concept_membership (stock_code, concept_name, source)
		SELECT stock_code, $2, source FROM data.concept_membership WHERE concept_name = $1
		ON CONFLICT (stock_code, concept_name) DO NOTHING
	`, alias, canonical); err != nil {
		return fmt.Errorf("failed to move memberships: %w", err)
	}
	if _, err := tx.Exec(ctx, "DELETE FROM data.concept_membership WHERE concept_name = $1", alias); err != nil {
		return fmt.Errorf("failed to delete alias memberships: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
