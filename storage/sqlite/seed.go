package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/VitorFirmino/cachelab"
	"github.com/VitorFirmino/cachelab/catalog"
	"github.com/VitorFirmino/cachelab/profile"
)

//go:embed seed.yaml
var builtinSeed []byte

type SeedProduct struct {
	Name     string  `yaml:"name"`
	Price    float64 `yaml:"price"`
	Stock    int     `yaml:"stock"`
	Category string  `yaml:"category"`
}

type SeedEvent struct {
	Type    string `yaml:"type"`
	Message string `yaml:"message"`
	Product string `yaml:"product"`
}

// SeedData is a catalog snapshot. Products reference categories and events
// reference products by name.
type SeedData struct {
	Categories []string      `yaml:"categories"`
	Products   []SeedProduct `yaml:"products"`
	Events     []SeedEvent   `yaml:"events"`
}

type SeedResult struct {
	Categories int
	Products   int
	Events     int
	Profiles   int
}

// EventSpacing separates seeded events: the i-th event is i*EventSpacing old.
const EventSpacing = 15 * time.Minute

// BuiltinSeed returns the demo catalog.
func BuiltinSeed() SeedData {
	d, err := ParseSeed(builtinSeed)
	if err != nil {
		panic(err)
	}
	return d
}

func ParseSeed(raw []byte) (SeedData, error) {
	var d SeedData
	if err := yaml.Unmarshal(raw, &d); err != nil {
		return SeedData{}, fmt.Errorf("seed: %w", err)
	}
	cats := make(map[string]struct{}, len(d.Categories))
	for _, c := range d.Categories {
		cats[c] = struct{}{}
	}
	for _, p := range d.Products {
		if p.Category != "" {
			if _, ok := cats[p.Category]; !ok {
				return SeedData{}, fmt.Errorf("seed: product %q: unknown category %q", p.Name, p.Category)
			}
		}
	}
	return d, nil
}

// Seed replaces the catalog with d, then resets the persisted cache profiles
// to defaults. A database without the profile table keeps the catalog and
// reports zero profiles.
func (s *Store) Seed(ctx context.Context, d SeedData, defaults profile.Defaults) (SeedResult, error) {
	var res SeedResult
	err := inTx(ctx, s.db, func(tx *sql.Tx) error {
		for _, stmt := range []string{
			`DELETE FROM events`,
			`DELETE FROM products`,
			`DELETE FROM categories`,
			`DELETE FROM sqlite_sequence WHERE name IN ('events', 'products', 'categories')`,
		} {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("reset: %w", err)
			}
		}

		catIDs := make(map[string]int64, len(d.Categories))
		for _, name := range d.Categories {
			r, err := tx.ExecContext(ctx, `INSERT INTO categories (name) VALUES (?)`, name)
			if err != nil {
				return fmt.Errorf("category %q: %w", name, err)
			}
			if catIDs[name], err = r.LastInsertId(); err != nil {
				return err
			}
		}
		res.Categories = len(catIDs)

		now := s.now()
		prodIDs := make(map[string]int64, len(d.Products))
		for _, p := range d.Products {
			var cat *int64
			if id, ok := catIDs[p.Category]; ok {
				cat = &id
			}
			r, err := tx.ExecContext(ctx,
				`INSERT INTO products (name, price, stock, category_id, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
				p.Name, p.Price, p.Stock, nullID(cat), millis(now), millis(now))
			if err != nil {
				return fmt.Errorf("product %q: %w", p.Name, err)
			}
			if prodIDs[p.Name], err = r.LastInsertId(); err != nil {
				return err
			}
		}
		res.Products = len(d.Products)

		for i, e := range d.Events {
			var pid *int64
			if id, ok := prodIDs[e.Product]; ok {
				pid = &id
			}
			if _, err := insertEvent(ctx, tx, catalog.Event{
				Type:      e.Type,
				Message:   e.Message,
				ProductID: pid,
				CreatedAt: now.Add(-time.Duration(i) * EventSpacing),
			}); err != nil {
				return fmt.Errorf("event %d: %w", i, err)
			}
		}
		res.Events = len(d.Events)
		return nil
	})
	if err != nil {
		return SeedResult{}, fmt.Errorf("seed catalog: %w", err)
	}

	if defaults == nil {
		defaults = profile.BuiltinDefaults()
	}
	ids := make([]string, 0, len(defaults))
	for id := range defaults {
		ids = append(ids, string(id))
	}
	sort.Strings(ids)
	for _, id := range ids {
		p := defaults[profile.ID(id)]
		p.UpdatedAt = s.now()
		if err := s.UpsertProfile(ctx, p); err != nil {
			if errors.Is(err, profile.ErrStorageUnavailable) {
				s.log.Warn("sqlite.seed_profiles_skipped", cachelab.Fields{"err": err})
				break
			}
			return res, err
		}
		res.Profiles++
	}
	return res, nil
}
