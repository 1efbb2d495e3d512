package store

import (
	"fmt"
	"time"

	"github.com/acteon/acteon/internal/cascade"
	"github.com/acteon/acteon/internal/health"
)

// SetCredential upserts the credential for one endpoint.
func (d *DB) SetCredential(endpointID, credential string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := d.db.Exec(
		`INSERT INTO credentials (endpoint_id, credential, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(endpoint_id) DO UPDATE SET credential = excluded.credential, updated_at = excluded.updated_at`,
		endpointID, credential, now,
	)
	if err != nil {
		return fmt.Errorf("set credential for %q: %w", endpointID, err)
	}
	return nil
}

// Credential returns the stored credential for an endpoint, or empty.
func (d *DB) Credential(endpointID string) (string, error) {
	var cred string
	err := d.db.QueryRow(`SELECT credential FROM credentials WHERE endpoint_id = ?`, endpointID).Scan(&cred)
	if err != nil {
		return "", nil
	}
	return cred, nil
}

// SaveCascade replaces the persisted cascade configuration.
func (d *DB) SaveCascade(cfg cascade.Config) error {
	tx, err := d.db.Begin()
	if err != nil {
		return fmt.Errorf("save cascade: begin: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM cascade_entries`); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("save cascade: clear: %w", err)
	}
	for tier, entries := range cfg.Tiers {
		for i, e := range entries {
			noTC := 0
			if e.NoToolChoice {
				noTC = 1
			}
			if _, err := tx.Exec(
				`INSERT INTO cascade_entries (tier, position, endpoint_id, model, provider_hint, no_tool_choice) VALUES (?, ?, ?, ?, ?, ?)`,
				string(tier), i, e.Endpoint, e.Model, e.ProviderHint, noTC,
			); err != nil {
				_ = tx.Rollback()
				return fmt.Errorf("save cascade: insert: %w", err)
			}
		}
	}
	return tx.Commit()
}

// LoadCascade reads the persisted cascade configuration. An empty database
// returns a config with no tiers.
func (d *DB) LoadCascade() (cascade.Config, error) {
	cfg := cascade.Config{Tiers: make(map[cascade.Tier][]cascade.Entry)}
	rows, err := d.db.Query(
		`SELECT tier, endpoint_id, model, provider_hint, no_tool_choice FROM cascade_entries ORDER BY tier, position`,
	)
	if err != nil {
		return cfg, fmt.Errorf("load cascade: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var tier, endpoint, model, hint string
		var noTC int
		if err := rows.Scan(&tier, &endpoint, &model, &hint, &noTC); err != nil {
			return cfg, fmt.Errorf("load cascade: scan: %w", err)
		}
		cfg.Tiers[cascade.Tier(tier)] = append(cfg.Tiers[cascade.Tier(tier)], cascade.Entry{
			Endpoint:     endpoint,
			Model:        model,
			ProviderHint: hint,
			NoToolChoice: noTC != 0,
		})
	}
	return cfg, rows.Err()
}

// SaveHealthSnapshot replaces the persisted buckets with the counter's
// current view, so health survives a restart.
func (d *DB) SaveHealthSnapshot(h health.Store) error {
	tx, err := d.db.Begin()
	if err != nil {
		return fmt.Errorf("save health: begin: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM health_snapshots`); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("save health: clear: %w", err)
	}

	insert := func(key string, metric health.Metric, tier string, buckets health.BucketCounts) error {
		for ts, n := range buckets {
			if _, err := tx.Exec(
				`INSERT INTO health_snapshots (key, metric, tier, bucket_ts, count) VALUES (?, ?, ?, ?, ?)`,
				key, string(metric), tier, ts, n,
			); err != nil {
				return err
			}
		}
		return nil
	}

	for _, key := range h.Keys() {
		for metric, st := range h.Stats(key) {
			tiers := map[string]health.BucketCounts{"m": st.Minute, "h": st.Hour, "d": st.Day}
			for tier, buckets := range tiers {
				if err := insert(key, metric, tier, buckets); err != nil {
					_ = tx.Rollback()
					return fmt.Errorf("save health: insert: %w", err)
				}
			}
		}
	}
	return tx.Commit()
}

// LoadHealthSnapshot restores persisted buckets into an in-memory counter.
func (d *DB) LoadHealthSnapshot(c *health.Counter) error {
	rows, err := d.db.Query(`SELECT key, metric, tier, bucket_ts, count FROM health_snapshots`)
	if err != nil {
		return fmt.Errorf("load health: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var key, metric, tier string
		var ts, n int64
		if err := rows.Scan(&key, &metric, &tier, &ts, &n); err != nil {
			return fmt.Errorf("load health: scan: %w", err)
		}
		c.LoadBucket(key, health.Metric(metric), tier, ts, n)
	}
	return rows.Err()
}
