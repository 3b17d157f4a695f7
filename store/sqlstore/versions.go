package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/warp/clinic-engine/generic"
)

// Version kinds sharing the price_versions table.
const (
	kindProduct = "product_price"
	kindService = "service_price"
)

// =============================================================================
// VERSION TABLE (generic.VersionStore)
// =============================================================================

// versionTable stores one kind of versioned value as JSON.
type versionTable[K ~string, V any] struct {
	store *Store
	q     sqlx.ExtContext
	kind  string
	inTx  bool // the enclosing withTx already holds the lock
}

type versionRow struct {
	EntityID      string `db:"entity_id"`
	ValueJSON     string `db:"value_json"`
	EffectiveFrom string `db:"effective_from"`
	RecordedAt    string `db:"recorded_at"`
}

func (t *versionTable[K, V]) lock(write bool) func() {
	if t.inTx {
		return func() {}
	}
	if write {
		return t.store.writeLock()
	}
	return t.store.readLock()
}

// Insert appends a version. Append-only.
func (t *versionTable[K, V]) Insert(ctx context.Context, v generic.Version[K, V]) error {
	defer t.lock(true)()

	valueJSON, err := json.Marshal(v.Value)
	if err != nil {
		return fmt.Errorf("failed to encode %s value: %w", t.kind, err)
	}
	recordedAt := v.RecordedAt
	if recordedAt.IsZero() {
		recordedAt = time.Now().UTC()
	}

	query := t.q.Rebind(`
		INSERT INTO price_versions (kind, entity_id, value_json, effective_from, recorded_at)
		VALUES (?, ?, ?, ?, ?)
	`)
	_, err = t.q.ExecContext(ctx, query,
		t.kind,
		string(v.Key),
		string(valueJSON),
		v.EffectiveFrom.String(),
		recordedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		err = classify(err)
		if errors.Is(err, errUniqueViolation) {
			return generic.ErrDuplicateVersion
		}
		return fmt.Errorf("failed to insert %s version: %w", t.kind, err)
	}
	return nil
}

// AsOf returns the latest version effective on or before date.
func (t *versionTable[K, V]) AsOf(ctx context.Context, key K, date generic.Date) (generic.Version[K, V], error) {
	defer t.lock(false)()

	query := t.q.Rebind(`
		SELECT entity_id, value_json, effective_from, recorded_at
		FROM price_versions
		WHERE kind = ? AND entity_id = ? AND effective_from <= ?
		ORDER BY effective_from DESC
		LIMIT 1
	`)
	var row versionRow
	if err := sqlx.GetContext(ctx, t.q, &row, query, t.kind, string(key), date.String()); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return generic.Version[K, V]{}, generic.ErrNoVersion
		}
		return generic.Version[K, V]{}, fmt.Errorf("failed to load %s version: %w", t.kind, classify(err))
	}
	return t.decode(row)
}

// History returns all versions of key, newest effective date first.
func (t *versionTable[K, V]) History(ctx context.Context, key K) ([]generic.Version[K, V], error) {
	defer t.lock(false)()

	query := t.q.Rebind(`
		SELECT entity_id, value_json, effective_from, recorded_at
		FROM price_versions
		WHERE kind = ? AND entity_id = ?
		ORDER BY effective_from DESC
	`)
	var rows []versionRow
	if err := sqlx.SelectContext(ctx, t.q, &rows, query, t.kind, string(key)); err != nil {
		return nil, fmt.Errorf("failed to load %s history: %w", t.kind, classify(err))
	}

	result := make([]generic.Version[K, V], 0, len(rows))
	for _, row := range rows {
		v, err := t.decode(row)
		if err != nil {
			return nil, err
		}
		result = append(result, v)
	}
	return result, nil
}

func (t *versionTable[K, V]) decode(row versionRow) (generic.Version[K, V], error) {
	var value V
	if err := json.Unmarshal([]byte(row.ValueJSON), &value); err != nil {
		return generic.Version[K, V]{}, fmt.Errorf("failed to decode %s value: %w", t.kind, err)
	}
	from, err := generic.ParseDate(row.EffectiveFrom)
	if err != nil {
		return generic.Version[K, V]{}, err
	}
	recordedAt, _ := time.Parse(time.RFC3339Nano, row.RecordedAt)
	return generic.Version[K, V]{
		Key:           K(row.EntityID),
		Value:         value,
		EffectiveFrom: from,
		RecordedAt:    recordedAt,
	}, nil
}
