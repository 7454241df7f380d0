package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"QuantSync/internal/domain/models"
	domrepo "QuantSync/internal/domain/repository"
	"QuantSync/pkg/postgres"
)

type PGInstanceRegistry struct {
	pg *postgres.Client
}

var _ domrepo.InstanceRegistry = (*PGInstanceRegistry)(nil)

func NewPGInstanceRegistry(pg *postgres.Client) *PGInstanceRegistry {
	return &PGInstanceRegistry{pg: pg}
}

func (r *PGInstanceRegistry) Register(ctx context.Context, inst models.Instance) error {
	_, err := r.pg.DB().ExecContext(ctx, `
        INSERT INTO instances (id, name, status, last_sync, last_heartbeat)
        VALUES ($1, $2, $3, NULL, $4)
        ON CONFLICT (id) DO UPDATE
           SET name = EXCLUDED.name, status = EXCLUDED.status, last_heartbeat = EXCLUDED.last_heartbeat`,
		inst.ID, inst.Name, string(inst.Status), inst.LastHeartbeat)
	if err != nil {
		return fmt.Errorf("register instance: %w", err)
	}
	return nil
}

func (r *PGInstanceRegistry) Heartbeat(ctx context.Context, id string, at time.Time) error {
	return r.touch(ctx, `UPDATE instances SET last_heartbeat = GREATEST(last_heartbeat, $2), status = 'active' WHERE id = $1`, id, at)
}

func (r *PGInstanceRegistry) MarkSynced(ctx context.Context, id string, at time.Time) error {
	return r.touch(ctx, `UPDATE instances SET last_sync = GREATEST(COALESCE(last_sync, $2), $2) WHERE id = $1`, id, at)
}

func (r *PGInstanceRegistry) touch(ctx context.Context, q, id string, at time.Time) error {
	res, err := r.pg.DB().ExecContext(ctx, q, id, at)
	if err != nil {
		return fmt.Errorf("instance %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("instance %s: not registered", id)
	}
	return nil
}

func (r *PGInstanceRegistry) List(ctx context.Context) ([]models.Instance, error) {
	rows, err := r.pg.DB().QueryContext(ctx, `
        SELECT id, name, status, last_sync, last_heartbeat FROM instances ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list instances: %w", err)
	}
	defer rows.Close()
	var out []models.Instance
	for rows.Next() {
		var inst models.Instance
		var status string
		var lastSync sql.NullTime
		if err := rows.Scan(&inst.ID, &inst.Name, &status, &lastSync, &inst.LastHeartbeat); err != nil {
			return nil, fmt.Errorf("scan instance: %w", err)
		}
		inst.Status = models.InstanceStatus(status)
		inst.LastSync = timePtr(lastSync)
		inst.LastHeartbeat = inst.LastHeartbeat.UTC()
		out = append(out, inst)
	}
	return out, rows.Err()
}
