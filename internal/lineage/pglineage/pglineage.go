// Package pglineage is the pgx-backed lineage.Store implementation.
package pglineage

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vaultline/cashops/internal/domain"
	"github.com/vaultline/cashops/internal/lineage"
)

// PGLineage wraps a pgx pool.
type PGLineage struct {
	pool *pgxpool.Pool
}

// New wraps an existing pool; cmd/cashopsd opens one for it that is
// separate from the pool pgstore.New builds.
func New(pool *pgxpool.Pool) *PGLineage {
	return &PGLineage{pool: pool}
}

func (p *PGLineage) CreateConnection(ctx context.Context, c *domain.LineageConnection) error {
	cfg, _ := json.Marshal(c.Config)
	_, err := p.pool.Exec(ctx, `
		INSERT INTO lineage_connections (id, entity_id, connector_type, name, status, config, secret_ref)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		c.ID, c.EntityID, c.ConnectorType, c.Name, c.Status, cfg, c.SecretRef)
	return wrapInfra(err, "create connection")
}

func (p *PGLineage) GetConnection(ctx context.Context, id string) (*domain.LineageConnection, error) {
	row := p.pool.QueryRow(ctx, `
		SELECT id, entity_id, connector_type, name, status, config, secret_ref, last_sync_at
		FROM lineage_connections WHERE id = $1`, id)
	var c domain.LineageConnection
	var cfg []byte
	if err := row.Scan(&c.ID, &c.EntityID, &c.ConnectorType, &c.Name, &c.Status, &cfg, &c.SecretRef, &c.LastSyncAt); err != nil {
		if err == pgx.ErrNoRows {
			return nil, &domain.StateError{Message: "connection not found: " + id}
		}
		return nil, wrapInfra(err, "get connection")
	}
	_ = json.Unmarshal(cfg, &c.Config)
	return &c, nil
}

func (p *PGLineage) UpdateConnection(ctx context.Context, c *domain.LineageConnection) error {
	_, err := p.pool.Exec(ctx, `
		UPDATE lineage_connections SET status=$2, last_sync_at=$3 WHERE id=$1`,
		c.ID, c.Status, c.LastSyncAt)
	return wrapInfra(err, "update connection")
}

func (p *PGLineage) ListConnections(ctx context.Context, entityID string) ([]*domain.LineageConnection, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, entity_id, connector_type, name, status, config, secret_ref, last_sync_at
		FROM lineage_connections WHERE entity_id = $1`, entityID)
	if err != nil {
		return nil, wrapInfra(err, "list connections")
	}
	defer rows.Close()
	var out []*domain.LineageConnection
	for rows.Next() {
		var c domain.LineageConnection
		var cfg []byte
		if err := rows.Scan(&c.ID, &c.EntityID, &c.ConnectorType, &c.Name, &c.Status, &cfg, &c.SecretRef, &c.LastSyncAt); err != nil {
			return nil, wrapInfra(err, "scan connection")
		}
		_ = json.Unmarshal(cfg, &c.Config)
		out = append(out, &c)
	}
	return out, rows.Err()
}

func (p *PGLineage) CreateSyncRun(ctx context.Context, r *domain.SyncRun) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO sync_runs (id, connection_id, dataset_id, status, actor, started_at)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		r.ID, r.ConnectionID, r.DatasetID, r.Status, r.Actor, r.StartedAt)
	return wrapInfra(err, "create sync run")
}

func (p *PGLineage) UpdateSyncRun(ctx context.Context, r *domain.SyncRun) error {
	_, err := p.pool.Exec(ctx, `
		UPDATE sync_runs SET status=$2, finished_at=$3, rows_extracted=$4, rows_normalized=$5,
		       rows_committed=$6, rows_failed=$7, errors=$8, warnings=$9
		WHERE id=$1`,
		r.ID, r.Status, r.FinishedAt, r.RowsExtracted, r.RowsNormalized, r.RowsCommitted, r.RowsFailed,
		r.Errors, r.Warnings)
	return wrapInfra(err, "update sync run")
}

func (p *PGLineage) GetSyncRun(ctx context.Context, id string) (*domain.SyncRun, error) {
	row := p.pool.QueryRow(ctx, `
		SELECT id, connection_id, dataset_id, status, actor, started_at, finished_at,
		       rows_extracted, rows_normalized, rows_committed, rows_failed, errors, warnings
		FROM sync_runs WHERE id = $1`, id)
	var r domain.SyncRun
	if err := row.Scan(&r.ID, &r.ConnectionID, &r.DatasetID, &r.Status, &r.Actor, &r.StartedAt, &r.FinishedAt,
		&r.RowsExtracted, &r.RowsNormalized, &r.RowsCommitted, &r.RowsFailed, &r.Errors, &r.Warnings); err != nil {
		if err == pgx.ErrNoRows {
			return nil, &domain.StateError{Message: "sync run not found: " + id}
		}
		return nil, wrapInfra(err, "get sync run")
	}
	return &r, nil
}

func (p *PGLineage) CreateDataset(ctx context.Context, d *domain.Dataset) error {
	cols, _ := json.Marshal(d.SchemaColumns)
	_, err := p.pool.Exec(ctx, `
		INSERT INTO datasets (id, connection_id, source_type, schema_fingerprint, schema_columns, row_count, amount_total,
		                       date_range_start, date_range_end, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		d.ID, d.ConnectionID, d.SourceType, d.SchemaFingerprint, cols, d.RowCount, d.AmountTotal,
		d.DateRangeStart, d.DateRangeEnd, d.CreatedAt)
	return wrapInfra(err, "create dataset")
}

func (p *PGLineage) UpdateDataset(ctx context.Context, d *domain.Dataset) error {
	_, err := p.pool.Exec(ctx, `
		UPDATE datasets SET row_count=$2, amount_total=$3, date_range_start=$4, date_range_end=$5
		WHERE id=$1`,
		d.ID, d.RowCount, d.AmountTotal, d.DateRangeStart, d.DateRangeEnd)
	return wrapInfra(err, "update dataset")
}

func (p *PGLineage) LatestDatasetForConnection(ctx context.Context, connectionID string) (*domain.Dataset, error) {
	row := p.pool.QueryRow(ctx, `
		SELECT id, connection_id, source_type, schema_fingerprint, schema_columns, row_count, amount_total,
		       date_range_start, date_range_end, created_at
		FROM datasets WHERE connection_id = $1 ORDER BY created_at DESC LIMIT 1`, connectionID)
	var d domain.Dataset
	var cols []byte
	if err := row.Scan(&d.ID, &d.ConnectionID, &d.SourceType, &d.SchemaFingerprint, &cols, &d.RowCount, &d.AmountTotal,
		&d.DateRangeStart, &d.DateRangeEnd, &d.CreatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, wrapInfra(err, "latest dataset")
	}
	_ = json.Unmarshal(cols, &d.SchemaColumns)
	return &d, nil
}

func (p *PGLineage) CreateRawRecord(ctx context.Context, r *domain.RawRecord) error {
	payload, _ := json.Marshal(r.Payload)
	_, err := p.pool.Exec(ctx, `
		INSERT INTO raw_records (id, dataset_id, source_table, source_row_id, raw_hash, payload, processed, error_message)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		r.ID, r.DatasetID, r.SourceTable, r.SourceRowID, r.RawHash, payload, r.Processed, r.ErrorMessage)
	return wrapInfra(err, "create raw record")
}

func (p *PGLineage) MarkRawRecordProcessed(ctx context.Context, id string, errMsg string) error {
	_, err := p.pool.Exec(ctx, `
		UPDATE raw_records SET processed=true, error_message=$2 WHERE id=$1`, id, errMsg)
	return wrapInfra(err, "mark raw record processed")
}

func (p *PGLineage) CreateCanonicalRecord(ctx context.Context, r *domain.CanonicalRecord) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO canonical_records (id, dataset_id, raw_record_id, record_type, canonical_id, amount, currency,
		                                record_date, due_date, counterparty, external_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		r.ID, r.DatasetID, r.RawRecordID, r.RecordType, r.CanonicalID, r.Amount, r.Currency,
		r.RecordDate, r.DueDate, r.Counterparty, r.ExternalID)
	if isUniqueViolation(err) {
		return lineage.ErrDuplicateCanonicalID
	}
	return wrapInfra(err, "create canonical record")
}

func (p *PGLineage) ListCanonicalRecords(ctx context.Context, datasetID string) ([]*domain.CanonicalRecord, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, dataset_id, raw_record_id, record_type, canonical_id, amount, currency,
		       record_date, due_date, counterparty, external_id
		FROM canonical_records WHERE dataset_id = $1`, datasetID)
	if err != nil {
		return nil, wrapInfra(err, "list canonical records")
	}
	defer rows.Close()
	var out []*domain.CanonicalRecord
	for rows.Next() {
		var r domain.CanonicalRecord
		if err := rows.Scan(&r.ID, &r.DatasetID, &r.RawRecordID, &r.RecordType, &r.CanonicalID, &r.Amount, &r.Currency,
			&r.RecordDate, &r.DueDate, &r.Counterparty, &r.ExternalID); err != nil {
			return nil, wrapInfra(err, "scan canonical record")
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

func (p *PGLineage) RecordSchemaDriftEvent(ctx context.Context, e *domain.SchemaDriftEvent) error {
	typeChanges, _ := json.Marshal(e.TypeChanges)
	_, err := p.pool.Exec(ctx, `
		INSERT INTO schema_drift_events (id, connection_id, sync_run_id, added_columns, removed_columns,
		                                  type_changes, severity, detected_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		e.ID, e.ConnectionID, e.SyncRunID, e.AddedColumns, e.RemovedColumns, typeChanges, e.Severity, e.DetectedAt)
	return wrapInfra(err, "record schema drift event")
}

func (p *PGLineage) ListSchemaDriftEvents(ctx context.Context, connectionID string) ([]*domain.SchemaDriftEvent, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, connection_id, sync_run_id, added_columns, removed_columns, type_changes, severity, detected_at
		FROM schema_drift_events WHERE connection_id = $1 ORDER BY detected_at ASC`, connectionID)
	if err != nil {
		return nil, wrapInfra(err, "list schema drift events")
	}
	defer rows.Close()
	var out []*domain.SchemaDriftEvent
	for rows.Next() {
		var e domain.SchemaDriftEvent
		var typeChanges []byte
		if err := rows.Scan(&e.ID, &e.ConnectionID, &e.SyncRunID, &e.AddedColumns, &e.RemovedColumns,
			&typeChanges, &e.Severity, &e.DetectedAt); err != nil {
			return nil, wrapInfra(err, "scan schema drift event")
		}
		_ = json.Unmarshal(typeChanges, &e.TypeChanges)
		out = append(out, &e)
	}
	return out, rows.Err()
}

func wrapInfra(err error, op string) error {
	if err == nil {
		return nil
	}
	return &domain.InfrastructureError{Message: op, Cause: err}
}

func isUniqueViolation(err error) bool {
	return err != nil && pgx.ErrNoRows != err && (err.Error() != "" && containsUniqueHint(err.Error()))
}

func containsUniqueHint(msg string) bool {
	for _, hint := range []string{"duplicate key value violates unique constraint", "23505"} {
		if len(msg) >= len(hint) && indexOf(msg, hint) >= 0 {
			return true
		}
	}
	return false
}

func indexOf(s, sub string) int {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return i
		}
	}
	return -1
}
