package postgres

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/runward-io/runward/internal/types"
)

type pgRunbooks Postgres

// Save inserts the next version inside one transaction: the current
// version number is read with the runbook's rows locked, and the
// previous latest is demoted. Status-only updates of the latest
// version rewrite it in place so activation does not mint versions.
func (r *pgRunbooks) Save(ctx context.Context, rb *types.Runbook) error {
	p := (*Postgres)(r)
	return p.inTx(ctx, func(tx pgx.Tx) error {
		var maxVersion int
		err := tx.QueryRow(ctx,
			`SELECT COALESCE(MAX(version), 0) FROM runbooks WHERE id = $1 FOR UPDATE`,
			rb.ID,
		).Scan(&maxVersion)
		if err != nil && err != pgx.ErrNoRows {
			return err
		}

		now := time.Now().UTC()
		if rb.Version > 0 && rb.Version == maxVersion {
			var storedDoc []byte
			err := tx.QueryRow(ctx,
				`SELECT doc FROM runbooks WHERE id = $1 AND version = $2`,
				rb.ID, rb.Version,
			).Scan(&storedDoc)
			if err != nil {
				return err
			}
			var stored types.Runbook
			if err := json.Unmarshal(storedDoc, &stored); err != nil {
				return err
			}
			// Only status changes rewrite the latest version in place.
			// Structural edits fall through and mint a new version;
			// stored versions are immutable.
			if rb.SameDefinition(&stored) {
				rb.UpdatedAt = now
				rb.IsLatest = true
				doc, err := json.Marshal(rb)
				if err != nil {
					return err
				}
				_, err = tx.Exec(ctx,
					`UPDATE runbooks SET doc = $3 WHERE id = $1 AND version = $2`,
					rb.ID, rb.Version, doc,
				)
				return err
			}
		}

		rb.Version = maxVersion + 1
		rb.IsLatest = true
		if rb.CreatedAt.IsZero() {
			rb.CreatedAt = now
		}
		rb.UpdatedAt = now

		doc, err := json.Marshal(rb)
		if err != nil {
			return err
		}

		if _, err := tx.Exec(ctx,
			`UPDATE runbooks SET is_latest = false, doc = doc || '{"isLatest":false}' WHERE id = $1 AND is_latest`,
			rb.ID,
		); err != nil {
			return err
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO runbooks (id, version, is_latest, doc, created_at) VALUES ($1, $2, true, $3, $4)`,
			rb.ID, rb.Version, doc, rb.CreatedAt,
		)
		return err
	})
}

func (r *pgRunbooks) GetLatest(ctx context.Context, id string) (*types.Runbook, error) {
	return r.scanOne(ctx, `SELECT doc FROM runbooks WHERE id = $1 AND is_latest`, id)
}

func (r *pgRunbooks) GetVersion(ctx context.Context, id string, version int) (*types.Runbook, error) {
	return r.scanOne(ctx, `SELECT doc FROM runbooks WHERE id = $1 AND version = $2`, id, version)
}

func (r *pgRunbooks) List(ctx context.Context) ([]*types.Runbook, error) {
	p := (*Postgres)(r)
	rows, err := p.pool.Query(ctx, `SELECT doc FROM runbooks WHERE is_latest ORDER BY doc->>'name'`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*types.Runbook
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		var rb types.Runbook
		if err := json.Unmarshal(doc, &rb); err != nil {
			return nil, err
		}
		out = append(out, &rb)
	}
	return out, rows.Err()
}

func (r *pgRunbooks) scanOne(ctx context.Context, query string, args ...any) (*types.Runbook, error) {
	p := (*Postgres)(r)
	var doc []byte
	if err := p.pool.QueryRow(ctx, query, args...).Scan(&doc); err != nil {
		return nil, mapNoRows(err)
	}
	var rb types.Runbook
	if err := json.Unmarshal(doc, &rb); err != nil {
		return nil, err
	}
	return &rb, nil
}
