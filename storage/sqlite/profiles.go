package sqlite

import (
	"context"
	"database/sql"
	"errors"

	"github.com/VitorFirmino/cachelab/profile"
)

func (s *Store) GetProfile(ctx context.Context, id profile.ID) (profile.Profile, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, label, stale, revalidate, expire, updated_at FROM cache_config WHERE id = ?`, string(id))
	p, err := scanProfile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return profile.Profile{}, profile.ErrNotFound
	}
	if err != nil {
		return profile.Profile{}, profileErr("get profile", err)
	}
	return p, nil
}

// ListProfiles returns the persisted rows ordered by id.
func (s *Store) ListProfiles(ctx context.Context) ([]profile.Profile, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, label, stale, revalidate, expire, updated_at FROM cache_config ORDER BY id`)
	if err != nil {
		return nil, profileErr("list profiles", err)
	}
	defer rows.Close()

	var out []profile.Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, profileErr("list profiles", err)
		}
		out = append(out, p)
	}
	return out, profileErr("list profiles", rows.Err())
}

func (s *Store) UpsertProfile(ctx context.Context, p profile.Profile) error {
	updated := p.UpdatedAt
	if updated.IsZero() {
		updated = s.now()
	}
	err := inTx(ctx, s.db, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
INSERT INTO cache_config (id, label, stale, revalidate, expire, updated_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET
    label = excluded.label,
    stale = excluded.stale,
    revalidate = excluded.revalidate,
    expire = excluded.expire,
    updated_at = excluded.updated_at`,
			string(p.ID), p.Label, p.TTL.Stale, p.TTL.Revalidate, p.TTL.Expire, millis(updated))
		return err
	})
	return profileErr("upsert profile", err)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProfile(r rowScanner) (profile.Profile, error) {
	var (
		p       profile.Profile
		id      string
		updated int64
	)
	if err := r.Scan(&id, &p.Label, &p.TTL.Stale, &p.TTL.Revalidate, &p.TTL.Expire, &updated); err != nil {
		return profile.Profile{}, err
	}
	p.ID = profile.ID(id)
	p.UpdatedAt = fromMillis(updated)
	return p, nil
}
