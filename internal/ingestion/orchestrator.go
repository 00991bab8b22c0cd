// Package ingestion is the Ingestion Orchestrator: it runs a registered
// connector's extract -> normalize -> load cycle inside a SyncRun,
// committing in batches, detecting schema drift against the connection's
// prior Dataset, and rolling results up into the canonical store.
//
// Rows flow through channel-fed batches with a periodic flush and
// structured counters, driven by a single-consumer loop rather than a
// worker pool, since a sync run processes exactly one connector's
// stream at a time under its connection lock.
package ingestion

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/vaultline/cashops/internal/connector"
	"github.com/vaultline/cashops/internal/domain"
	"github.com/vaultline/cashops/internal/lineage"
	"github.com/vaultline/cashops/internal/lock"
	"github.com/vaultline/cashops/internal/metrics"
	"github.com/vaultline/cashops/internal/store"
)

// commitBatchSize mirrors the fixed 100-row commit boundary.
const commitBatchSize = 100

// Orchestrator runs sync cycles for registered connectors.
type Orchestrator struct {
	lineage   lineage.Store
	canonical store.Store
	registry  *connector.Registry
	locks     lock.Manager
	logger    zerolog.Logger
}

// New builds an Orchestrator over the given stores, connector registry,
// and lock manager.
func New(lineageStore lineage.Store, canonicalStore store.Store, registry *connector.Registry, locks lock.Manager, logger zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		lineage:   lineageStore,
		canonical: canonicalStore,
		registry:  registry,
		locks:     locks,
		logger:    logger.With().Str("component", "ingestion-orchestrator").Logger(),
	}
}

// Run executes one sync cycle for connectionID against snapshotID, under
// a per-connection lock so only one sync per connection runs at a time.
func (o *Orchestrator) Run(ctx context.Context, connectionID, snapshotID, actor string, since, until *time.Time) (*domain.SyncRun, error) {
	release, err := o.locks.Acquire(ctx, lock.ConnectionKey(connectionID))
	if err != nil {
		return nil, fmt.Errorf("acquire connection lock: %w", err)
	}
	defer release()

	releaseSnap, err := o.locks.Acquire(ctx, lock.SnapshotKey(snapshotID))
	if err != nil {
		return nil, fmt.Errorf("acquire snapshot lock: %w", err)
	}
	defer releaseSnap()

	snap, err := o.canonical.GetSnapshot(ctx, snapshotID)
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	if err := domain.AssertNotLocked(snap); err != nil {
		return nil, err
	}

	conn, ok := o.registry.Get(connectionID)
	if !ok {
		return nil, &domain.InputError{Field: "connection_id", Message: "no connector registered for " + connectionID}
	}

	run := &domain.SyncRun{
		ID:           uuid.NewString(),
		ConnectionID: connectionID,
		Status:       domain.SyncRunning,
		Actor:        actor,
		StartedAt:    time.Now().UTC(),
	}
	if err := o.lineage.CreateSyncRun(ctx, run); err != nil {
		return nil, fmt.Errorf("create sync run: %w", err)
	}

	schema, err := conn.GetSchema(ctx)
	if err != nil {
		run.Errors = append(run.Errors, err.Error())
		run.Finish(time.Now().UTC())
		_ = o.lineage.UpdateSyncRun(ctx, run)
		return run, fmt.Errorf("get schema: %w", err)
	}

	dataset := &domain.Dataset{
		ID:                uuid.NewString(),
		ConnectionID:      connectionID,
		SourceType:        string(conn.SourceType()),
		SchemaFingerprint: schema.Fingerprint,
		SchemaColumns:     schemaColumnsOf(schema.Columns),
		CreatedAt:         time.Now().UTC(),
	}
	run.DatasetID = dataset.ID

	prev, err := o.lineage.LatestDatasetForConnection(ctx, connectionID)
	if err != nil {
		o.logger.Warn().Err(err).Msg("could not load prior dataset for drift comparison")
	}
	var prevFingerprint string
	var prevColumns map[string]string
	if prev != nil {
		prevFingerprint = prev.SchemaFingerprint
		prevColumns = prev.SchemaColumns
	}
	if drift := detectDrift(connectionID, run.ID, prevColumns, prevFingerprint, schema, time.Now().UTC()); drift != nil {
		if err := o.lineage.RecordSchemaDriftEvent(ctx, drift); err != nil {
			o.logger.Warn().Err(err).Msg("failed to record schema drift event")
		}
		o.logger.Warn().Str("severity", string(drift.Severity)).
			Strs("removed", drift.RemovedColumns).Strs("added", drift.AddedColumns).
			Msg("schema drift detected")
	}

	if err := o.lineage.CreateDataset(ctx, dataset); err != nil {
		run.Errors = append(run.Errors, err.Error())
		run.Finish(time.Now().UTC())
		_ = o.lineage.UpdateSyncRun(ctx, run)
		return run, fmt.Errorf("create dataset: %w", err)
	}

	rawCh, extractErrs := conn.Extract(ctx, since, until, commitBatchSize)

	var amountTotal decimal.Decimal
	var earliestDate, latestDate time.Time
	sinceLastFlush := 0

	flush := func() {
		dataset.RowCount = run.RowsCommitted
		dataset.AmountTotal = amountTotal
		dataset.DateRangeStart = earliestDate
		dataset.DateRangeEnd = latestDate
		if err := o.lineage.UpdateDataset(ctx, dataset); err != nil {
			o.logger.Warn().Err(err).Msg("dataset rollup update failed")
		}
		if err := o.lineage.UpdateSyncRun(ctx, run); err != nil {
			o.logger.Warn().Err(err).Msg("sync run progress update failed")
		}
		sinceLastFlush = 0
	}

loop:
	for raw := range rawCh {
		select {
		case <-ctx.Done():
			run.Status = domain.SyncCancelled
			break loop
		default:
		}

		raw.DatasetID = dataset.ID
		raw.ID = uuid.NewString()
		run.RowsExtracted++

		if err := o.lineage.CreateRawRecord(ctx, raw); err != nil {
			run.RowsFailed++
			run.Errors = append(run.Errors, fmt.Sprintf("row %s: persist raw record: %v", raw.SourceRowID, err))
			continue
		}

		normalized, parseErr := conn.Normalize(raw)
		if parseErr != nil {
			run.RowsFailed++
			run.Errors = append(run.Errors, fmt.Sprintf("row %s: %s: %s", raw.SourceRowID, parseErr.Type, parseErr.Message))
			_ = o.lineage.MarkRawRecordProcessed(ctx, raw.ID, parseErr.Message)
			continue
		}
		run.RowsNormalized++

		canon := &domain.CanonicalRecord{
			ID:           uuid.NewString(),
			DatasetID:    dataset.ID,
			RawRecordID:  raw.ID,
			RecordType:   normalized.RecordType,
			CanonicalID:  normalized.CanonicalID,
			Amount:       decimal.NewFromFloat(normalized.Amount),
			Currency:     normalized.Currency,
			RecordDate:   normalized.RecordDate,
			DueDate:      normalized.DueDate,
			Counterparty: normalized.Counterparty,
			ExternalID:   normalized.ExternalID,
		}
		if err := o.lineage.CreateCanonicalRecord(ctx, canon); err != nil {
			if err == lineage.ErrDuplicateCanonicalID {
				run.Warnings = append(run.Warnings, fmt.Sprintf("row %s: duplicate canonical_id %s, skipped", raw.SourceRowID, normalized.CanonicalID))
				_ = o.lineage.MarkRawRecordProcessed(ctx, raw.ID, "duplicate canonical_id")
				continue
			}
			run.RowsFailed++
			run.Errors = append(run.Errors, fmt.Sprintf("row %s: persist canonical record: %v", raw.SourceRowID, err))
			continue
		}

		if err := o.commit(ctx, snapshotID, normalized); err != nil {
			run.RowsFailed++
			run.Errors = append(run.Errors, fmt.Sprintf("row %s: commit to canonical store: %v", raw.SourceRowID, err))
			continue
		}
		_ = o.lineage.MarkRawRecordProcessed(ctx, raw.ID, "")

		run.RowsCommitted++
		amountTotal = amountTotal.Add(canon.Amount.Abs())
		if earliestDate.IsZero() || canon.RecordDate.Before(earliestDate) {
			earliestDate = canon.RecordDate
		}
		if canon.RecordDate.After(latestDate) {
			latestDate = canon.RecordDate
		}

		sinceLastFlush++
		if sinceLastFlush >= commitBatchSize {
			flush()
		}
	}

	if err := <-extractErrs; err != nil {
		run.Errors = append(run.Errors, err.Error())
	}

	flush()

	now := time.Now().UTC()
	if run.Status != domain.SyncCancelled {
		run.Finish(now)
	} else {
		run.FinishedAt = &now
	}
	if err := o.lineage.UpdateSyncRun(ctx, run); err != nil {
		o.logger.Warn().Err(err).Msg("final sync run update failed")
	}

	o.logger.Info().
		Str("connection_id", connectionID).
		Str("status", string(run.Status)).
		Int("extracted", run.RowsExtracted).
		Int("committed", run.RowsCommitted).
		Int("failed", run.RowsFailed).
		Msg("sync run finished")

	metrics.IngestionRunsTotal.WithLabelValues(connectionID, string(run.Status)).Inc()
	metrics.IngestionRowsCommitted.WithLabelValues(connectionID).Add(float64(run.RowsCommitted))

	return run, nil
}

// commit promotes a normalized record into the canonical store's entity
// tables, scoped to the active snapshot.
func (o *Orchestrator) commit(ctx context.Context, snapshotID string, rec *connector.NormalizedRecord) error {
	invoice, bill, txn := promote(snapshotID, rec)
	switch {
	case invoice != nil:
		return o.canonical.UpsertInvoice(ctx, invoice)
	case bill != nil:
		return o.canonical.UpsertVendorBill(ctx, bill)
	default:
		return o.canonical.UpsertBankTransaction(ctx, txn)
	}
}
