package ingestion

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vaultline/cashops/internal/connector"
	"github.com/vaultline/cashops/internal/domain"
	"github.com/vaultline/cashops/internal/lineage/memlineage"
	"github.com/vaultline/cashops/internal/lock/memlock"
	"github.com/vaultline/cashops/internal/store/memstore"
)

// fakeRow is one record a fakeBankConnector will emit and normalize.
type fakeRow struct {
	sourceRowID string
	canonicalID string
	amount      float64
	counterparty string
}

type fakeBankConnector struct {
	columns []connector.Column
	rows    []fakeRow
}

func (f *fakeBankConnector) Name() string                 { return "fake_bank_csv" }
func (f *fakeBankConnector) SourceType() connector.SourceType { return connector.SourceBankCSV }

func (f *fakeBankConnector) Test(ctx context.Context) (*connector.TestResult, error) {
	return &connector.TestResult{Success: true}, nil
}

func (f *fakeBankConnector) GetSchema(ctx context.Context) (*connector.Schema, error) {
	return &connector.Schema{Columns: f.columns, Fingerprint: connector.SchemaFingerprint(f.columns)}, nil
}

func (f *fakeBankConnector) Extract(ctx context.Context, since, until *time.Time, batchSize int) (<-chan *domain.RawRecord, <-chan error) {
	out := make(chan *domain.RawRecord, len(f.rows))
	errs := make(chan error, 1)
	for _, r := range f.rows {
		out <- &domain.RawRecord{
			SourceTable: "transactions",
			SourceRowID: r.sourceRowID,
			Payload:     map[string]interface{}{"canonical_id": r.canonicalID, "amount": r.amount, "counterparty": r.counterparty},
		}
	}
	close(out)
	close(errs)
	return out, errs
}

func (f *fakeBankConnector) Normalize(raw *domain.RawRecord) (*connector.NormalizedRecord, *connector.ParseError) {
	return &connector.NormalizedRecord{
		RecordType:   "BankTxn",
		CanonicalID:  raw.Payload["canonical_id"].(string),
		Amount:       raw.Payload["amount"].(float64),
		Currency:     "EUR",
		RecordDate:   time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		Counterparty: raw.Payload["counterparty"].(string),
		ExternalID:   raw.SourceRowID,
	}, nil
}

func testOrchestrator() (*Orchestrator, *memstore.MemStore, *memlineage.MemLineage, *connector.Registry) {
	canonical := memstore.New()
	lin := memlineage.New()
	registry := connector.NewRegistry()
	return New(lin, canonical, registry, memlock.New(), zerolog.New(io.Discard)), canonical, lin, registry
}

func seedIngestionSnapshot(t *testing.T, s *memstore.MemStore) *domain.Snapshot {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.CreateEntity(ctx, &domain.Entity{ID: "ent-1", Name: "Acme EU", BaseCurrency: "EUR", PaymentRunDay: 4}))
	snap := &domain.Snapshot{ID: "snap-1", EntityID: "ent-1", Status: domain.SnapshotDraft}
	require.NoError(t, s.CreateSnapshot(ctx, snap))
	return snap
}

var defaultColumns = []connector.Column{{Name: "amount", Type: "decimal"}, {Name: "currency", Type: "string"}}

// S1 — CSV idempotency at the orchestrator level: a row whose canonical
// ID collides with one already committed in the dataset is skipped as a
// duplicate, not double-committed and not counted as a row failure.
func TestOrchestrator_DuplicateCanonicalIDIsSkippedNotFailed(t *testing.T) {
	orch, canonical, _, registry := testOrchestrator()
	ctx := context.Background()
	snap := seedIngestionSnapshot(t, canonical)

	registry.Register("conn-1", &fakeBankConnector{
		columns: defaultColumns,
		rows: []fakeRow{
			{sourceRowID: "row-1", canonicalID: "dup-id", amount: 1000, counterparty: "Customer A"},
			{sourceRowID: "row-2", canonicalID: "dup-id", amount: 1000, counterparty: "Customer A"},
			{sourceRowID: "row-3", canonicalID: "unique-id", amount: 2000, counterparty: "Customer B"},
		},
	})

	run, err := orch.Run(ctx, "conn-1", snap.ID, "alice@acme.com", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.SyncSuccess, run.Status)
	assert.Equal(t, 3, run.RowsExtracted)
	assert.Equal(t, 2, run.RowsCommitted)
	assert.Equal(t, 0, run.RowsFailed)
	require.Len(t, run.Warnings, 1)
	assert.Contains(t, run.Warnings[0], "duplicate canonical_id")

	txns, err := canonical.ListBankTransactions(ctx, snap.ID)
	require.NoError(t, err)
	assert.Len(t, txns, 2)
}

func TestOrchestrator_SchemaDriftRecordedOnSecondRunWithRemovedColumn(t *testing.T) {
	orch, canonical, lin, registry := testOrchestrator()
	ctx := context.Background()
	snap := seedIngestionSnapshot(t, canonical)

	registry.Register("conn-1", &fakeBankConnector{
		columns: []connector.Column{{Name: "amount", Type: "decimal"}, {Name: "currency", Type: "string"}},
		rows:    []fakeRow{{sourceRowID: "row-1", canonicalID: "id-1", amount: 500, counterparty: "Customer A"}},
	})
	_, err := orch.Run(ctx, "conn-1", snap.ID, "alice@acme.com", nil, nil)
	require.NoError(t, err)

	registry.Register("conn-1", &fakeBankConnector{
		columns: []connector.Column{{Name: "amount", Type: "decimal"}},
		rows:    []fakeRow{{sourceRowID: "row-2", canonicalID: "id-2", amount: 750, counterparty: "Customer A"}},
	})
	_, err = orch.Run(ctx, "conn-1", snap.ID, "alice@acme.com", nil, nil)
	require.NoError(t, err)

	events, err := lin.ListSchemaDriftEvents(ctx, "conn-1")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, domain.SeverityError, events[0].Severity)
	assert.Contains(t, events[0].RemovedColumns, "currency")
}

func TestOrchestrator_RejectsLockedSnapshot(t *testing.T) {
	orch, canonical, _, registry := testOrchestrator()
	ctx := context.Background()
	snap := seedIngestionSnapshot(t, canonical)
	snap.Status = domain.SnapshotLocked
	require.NoError(t, canonical.UpdateSnapshot(ctx, snap))

	registry.Register("conn-1", &fakeBankConnector{columns: defaultColumns})

	_, err := orch.Run(ctx, "conn-1", snap.ID, "alice@acme.com", nil, nil)
	require.Error(t, err)
	assert.Equal(t, "Cannot modify locked snapshot.", err.Error())
}

func TestOrchestrator_UnknownConnectionIsInputError(t *testing.T) {
	orch, canonical, _, _ := testOrchestrator()
	ctx := context.Background()
	snap := seedIngestionSnapshot(t, canonical)

	_, err := orch.Run(ctx, "missing-conn", snap.ID, "alice@acme.com", nil, nil)
	require.Error(t, err)
	var inputErr *domain.InputError
	assert.ErrorAs(t, err, &inputErr)
}
