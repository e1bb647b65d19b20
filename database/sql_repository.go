package database

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/mycobrun/geofence-service/geo"
	"github.com/mycobrun/geofence-service/geofence"
)

const sequenceName = "geofences"

// raiseHighWater stores the deleted id unless a larger one is already kept.
const raiseHighWater = `INSERT INTO geofence_sequence (name, last_id) VALUES (?, ?)
ON CONFLICT (name) DO UPDATE SET last_id = excluded.last_id
WHERE geofence_sequence.last_id < excluded.last_id`

// SQLRepository persists geofences in a relational table. The schema is the
// same for SQLite and Postgres.
type SQLRepository struct {
	client *SQLClient
}

// NewSQLRepository runs pending schema migrations and returns a repository.
func NewSQLRepository(ctx context.Context, client *SQLClient) (*SQLRepository, error) {
	migrator, err := NewSchemaMigrator(client)
	if err != nil {
		return nil, err
	}
	if _, err := migrator.Up(ctx); err != nil {
		return nil, fmt.Errorf("migrate schema: %w", err)
	}
	return &SQLRepository{client: client}, nil
}

// Client returns the underlying SQL client.
func (r *SQLRepository) Client() *SQLClient {
	return r.client
}

func (r *SQLRepository) Load(ctx context.Context) ([]*geofence.Geofence, error) {
	rows, err := r.client.Query(ctx,
		"SELECT id, name, geom_wkt, metadata, created_at, updated_at FROM geofences ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("query geofences: %w", err)
	}
	defer rows.Close()

	var out []*geofence.Geofence
	for rows.Next() {
		var (
			id                   int64
			name, wkt, metadata  string
			createdAt, updatedAt int64
		)
		if err := rows.Scan(&id, &name, &wkt, &metadata, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan geofence: %w", err)
		}
		g, err := decodeRow(id, name, wkt, metadata, createdAt, updatedAt)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate geofences: %w", err)
	}
	return out, nil
}

func (r *SQLRepository) Insert(ctx context.Context, g *geofence.Geofence) error {
	md, err := encodeMetadata(g.Metadata)
	if err != nil {
		return err
	}
	_, err = r.client.Exec(ctx,
		"INSERT INTO geofences (id, name, geom_wkt, metadata, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)",
		g.ID, g.Name, g.WKT(), md, g.CreatedAt.UnixNano(), g.UpdatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("insert geofence %d: %w", g.ID, err)
	}
	return nil
}

func (r *SQLRepository) Update(ctx context.Context, g *geofence.Geofence) error {
	md, err := encodeMetadata(g.Metadata)
	if err != nil {
		return err
	}
	res, err := r.client.Exec(ctx,
		"UPDATE geofences SET name = ?, geom_wkt = ?, metadata = ?, updated_at = ? WHERE id = ?",
		g.Name, g.WKT(), md, g.UpdatedAt.UnixNano(), g.ID)
	if err != nil {
		return fmt.Errorf("update geofence %d: %w", g.ID, err)
	}
	return requireAffected(res.RowsAffected())
}

// Delete removes the row and raises the stored high-water mark in the same
// transaction.
func (r *SQLRepository) Delete(ctx context.Context, id int64) error {
	return r.client.WithTransaction(ctx, func(tx *Transaction) error {
		res, err := tx.Exec(ctx, "DELETE FROM geofences WHERE id = ?", id)
		if err != nil {
			return fmt.Errorf("delete geofence %d: %w", id, err)
		}
		if err := requireAffected(res.RowsAffected()); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, raiseHighWater, sequenceName, id); err != nil {
			return fmt.Errorf("record deleted id %d: %w", id, err)
		}
		return nil
	})
}

func (r *SQLRepository) HighWater(ctx context.Context) (int64, error) {
	var id int64
	err := r.client.QueryRow(ctx, "SELECT last_id FROM geofence_sequence WHERE name = ?", sequenceName).Scan(&id)
	if stderrors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read id high-water mark: %w", err)
	}
	return id, nil
}

func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.client.Ping(ctx)
}

func (r *SQLRepository) Close() error {
	return r.client.Close()
}

func requireAffected(n int64, err error) error {
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return geofence.ErrRecordNotFound
	}
	return nil
}

func encodeMetadata(md map[string]any) (string, error) {
	if len(md) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(md)
	if err != nil {
		return "", fmt.Errorf("encode metadata: %w", err)
	}
	return string(b), nil
}

func decodeRow(id int64, name, wkt, metadata string, createdAt, updatedAt int64) (*geofence.Geofence, error) {
	poly, err := geo.DecodeWKT(wkt)
	if err != nil {
		return nil, fmt.Errorf("decode geometry of geofence %d: %w", id, err)
	}
	md := map[string]any{}
	if metadata != "" {
		if err := json.Unmarshal([]byte(metadata), &md); err != nil {
			return nil, fmt.Errorf("decode metadata of geofence %d: %w", id, err)
		}
	}
	return &geofence.Geofence{
		ID:        id,
		Name:      name,
		Polygon:   poly,
		Metadata:  md,
		CreatedAt: time.Unix(0, createdAt).UTC(),
		UpdatedAt: time.Unix(0, updatedAt).UTC(),
	}, nil
}
