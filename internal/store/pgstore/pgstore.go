// Package pgstore is the pgx-backed Store implementation.
package pgstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vaultline/cashops/internal/config"
	"github.com/vaultline/cashops/internal/domain"
)

// PGStore wraps a pgx connection pool. Construction parses the
// connection URL, builds the pool, and surfaces a wrapped error on
// failure.
type PGStore struct {
	pool *pgxpool.Pool
}

// New connects to Postgres using cfg.DatabaseURL.
func New(ctx context.Context, cfg *config.Config) (*PGStore, error) {
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid DATABASE_URL: %w", err)
	}
	return &PGStore{pool: pool}, nil
}

// Close releases the pool.
func (s *PGStore) Close() {
	s.pool.Close()
}

// Ping verifies connectivity, analogous to redisclient.Client.Ping.
func (s *PGStore) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return s.pool.Ping(ctx)
}

func (s *PGStore) CreateEntity(ctx context.Context, e *domain.Entity) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO entities (id, name, base_currency, payment_run_day, internal_accounts)
		VALUES ($1, $2, $3, $4, $5)`,
		e.ID, e.Name, e.BaseCurrency, e.PaymentRunDay, e.InternalAccounts)
	return wrapInfra(err, "create entity")
}

func (s *PGStore) GetEntity(ctx context.Context, id string) (*domain.Entity, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, name, base_currency, payment_run_day, internal_accounts
		FROM entities WHERE id = $1`, id)
	var e domain.Entity
	if err := row.Scan(&e.ID, &e.Name, &e.BaseCurrency, &e.PaymentRunDay, &e.InternalAccounts); err != nil {
		if err == pgx.ErrNoRows {
			return nil, &domain.StateError{Message: "entity not found: " + id}
		}
		return nil, wrapInfra(err, "get entity")
	}
	return &e, nil
}

func (s *PGStore) CreateSnapshot(ctx context.Context, snap *domain.Snapshot) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO snapshots (id, entity_id, status, opening_bank_balance, min_cash_threshold, dataset_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		snap.ID, snap.EntityID, snap.Status, snap.OpeningBankBalance, snap.MinCashThreshold, snap.DatasetID, snap.CreatedAt)
	return wrapInfra(err, "create snapshot")
}

func (s *PGStore) GetSnapshot(ctx context.Context, id string) (*domain.Snapshot, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, entity_id, status, opening_bank_balance, min_cash_threshold,
		       policies_json, dataset_id, created_at,
		       locked_by, locked_by_role, locked_at, lock_reason
		FROM snapshots WHERE id = $1`, id)
	var snap domain.Snapshot
	var lockedBy, lockedByRole, lockReason *string
	var lockedAt *time.Time
	if err := row.Scan(&snap.ID, &snap.EntityID, &snap.Status, &snap.OpeningBankBalance, &snap.MinCashThreshold,
		&snap.PoliciesJSON, &snap.DatasetID, &snap.CreatedAt,
		&lockedBy, &lockedByRole, &lockedAt, &lockReason); err != nil {
		if err == pgx.ErrNoRows {
			return nil, &domain.StateError{Message: "snapshot not found: " + id}
		}
		return nil, wrapInfra(err, "get snapshot")
	}
	if lockedBy != nil {
		snap.Lock = &domain.LockMetadata{
			LockedBy:     *lockedBy,
			LockedByRole: domain.Role(*lockedByRole),
			Reason:       *lockReason,
		}
		if lockedAt != nil {
			snap.Lock.LockedAt = *lockedAt
		}
	}
	return &snap, nil
}

func (s *PGStore) UpdateSnapshot(ctx context.Context, snap *domain.Snapshot) error {
	var lockedBy, lockedByRole, lockReason *string
	var lockedAt *time.Time
	if snap.Lock != nil {
		lockedBy, lockedByRole, lockReason = &snap.Lock.LockedBy, strPtr(string(snap.Lock.LockedByRole)), &snap.Lock.Reason
		lockedAt = &snap.Lock.LockedAt
	}
	_, err := s.pool.Exec(ctx, `
		UPDATE snapshots SET status=$2, opening_bank_balance=$3, min_cash_threshold=$4,
		       policies_json=$5, dataset_id=$6, locked_by=$7, locked_by_role=$8, locked_at=$9, lock_reason=$10
		WHERE id=$1`,
		snap.ID, snap.Status, snap.OpeningBankBalance, snap.MinCashThreshold,
		snap.PoliciesJSON, snap.DatasetID, lockedBy, lockedByRole, lockedAt, lockReason)
	return wrapInfra(err, "update snapshot")
}

func (s *PGStore) UpsertInvoice(ctx context.Context, inv *domain.Invoice) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO invoices (id, snapshot_id, canonical_id, document_number, counterparty, amount, currency,
		                       issue_date, due_date, payment_date, country, project, payment_term_days, parent_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		ON CONFLICT (snapshot_id, canonical_id) DO UPDATE SET
			payment_date = EXCLUDED.payment_date,
			predicted_payment_date = invoices.predicted_payment_date`,
		inv.ID, inv.SnapshotID, inv.CanonicalID, inv.DocumentNumber, inv.Counterparty, inv.Amount, inv.Currency,
		inv.IssueDate, inv.DueDate, inv.PaymentDate, inv.Country, inv.Project, inv.PaymentTermDays, inv.ParentID)
	return wrapInfra(err, "upsert invoice")
}

func (s *PGStore) GetInvoice(ctx context.Context, snapshotID, id string) (*domain.Invoice, error) {
	invs, err := s.ListInvoices(ctx, snapshotID)
	if err != nil {
		return nil, err
	}
	for _, inv := range invs {
		if inv.ID == id {
			return inv, nil
		}
	}
	return nil, &domain.StateError{Message: "invoice not found: " + id}
}

func (s *PGStore) ListInvoices(ctx context.Context, snapshotID string) ([]*domain.Invoice, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, snapshot_id, canonical_id, document_number, counterparty, amount, currency,
		       issue_date, due_date, payment_date, country, project, payment_term_days, parent_id
		FROM invoices WHERE snapshot_id = $1`, snapshotID)
	if err != nil {
		return nil, wrapInfra(err, "list invoices")
	}
	defer rows.Close()
	var out []*domain.Invoice
	for rows.Next() {
		var inv domain.Invoice
		if err := rows.Scan(&inv.ID, &inv.SnapshotID, &inv.CanonicalID, &inv.DocumentNumber, &inv.Counterparty,
			&inv.Amount, &inv.Currency, &inv.IssueDate, &inv.DueDate, &inv.PaymentDate, &inv.Country, &inv.Project,
			&inv.PaymentTermDays, &inv.ParentID); err != nil {
			return nil, wrapInfra(err, "scan invoice")
		}
		out = append(out, &inv)
	}
	return out, rows.Err()
}

func (s *PGStore) UpsertVendorBill(ctx context.Context, vb *domain.VendorBill) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO vendor_bills (id, snapshot_id, canonical_id, document_number, counterparty, amount, currency,
		                           issue_date, due_date, payment_date, country, project, payment_term_days,
		                           discretionary, on_hold, category, approval_date, scheduled_payment_date)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
		ON CONFLICT (snapshot_id, canonical_id) DO UPDATE SET
			payment_date = EXCLUDED.payment_date`,
		vb.ID, vb.SnapshotID, vb.CanonicalID, vb.DocumentNumber, vb.Counterparty, vb.Amount, vb.Currency,
		vb.IssueDate, vb.DueDate, vb.PaymentDate, vb.Country, vb.Project, vb.PaymentTermDays,
		vb.Discretionary, vb.OnHold, vb.Category, vb.ApprovalDate, vb.ScheduledPaymentDate)
	return wrapInfra(err, "upsert vendor bill")
}

func (s *PGStore) ListVendorBills(ctx context.Context, snapshotID string) ([]*domain.VendorBill, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, snapshot_id, canonical_id, document_number, counterparty, amount, currency,
		       issue_date, due_date, payment_date, country, project, payment_term_days,
		       discretionary, on_hold, category, approval_date, scheduled_payment_date
		FROM vendor_bills WHERE snapshot_id = $1`, snapshotID)
	if err != nil {
		return nil, wrapInfra(err, "list vendor bills")
	}
	defer rows.Close()
	var out []*domain.VendorBill
	for rows.Next() {
		var vb domain.VendorBill
		if err := rows.Scan(&vb.ID, &vb.SnapshotID, &vb.CanonicalID, &vb.DocumentNumber, &vb.Counterparty,
			&vb.Amount, &vb.Currency, &vb.IssueDate, &vb.DueDate, &vb.PaymentDate, &vb.Country, &vb.Project,
			&vb.PaymentTermDays, &vb.Discretionary, &vb.OnHold, &vb.Category, &vb.ApprovalDate, &vb.ScheduledPaymentDate); err != nil {
			return nil, wrapInfra(err, "scan vendor bill")
		}
		out = append(out, &vb)
	}
	return out, rows.Err()
}

func (s *PGStore) UpsertBankTransaction(ctx context.Context, t *domain.BankTransaction) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO bank_transactions (id, snapshot_id, bank_account_id, transaction_date, value_date, amount,
		                                currency, reference_text, counterparty_text, fee, writeoff,
		                                reconciliation_status, reconciliation_type, lifecycle_status)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		ON CONFLICT (id) DO UPDATE SET
			reconciliation_status = EXCLUDED.reconciliation_status,
			reconciliation_type = EXCLUDED.reconciliation_type`,
		t.ID, t.SnapshotID, t.BankAccountID, t.TransactionDate, t.ValueDate, t.Amount, t.Currency,
		t.ReferenceText, t.CounterpartyText, t.Fee, t.Writeoff, t.ReconciliationStatus, t.ReconciliationType, t.LifecycleStatus)
	return wrapInfra(err, "upsert bank transaction")
}

func (s *PGStore) GetBankTransaction(ctx context.Context, snapshotID, id string) (*domain.BankTransaction, error) {
	txns, err := s.ListBankTransactions(ctx, snapshotID)
	if err != nil {
		return nil, err
	}
	for _, t := range txns {
		if t.ID == id {
			return t, nil
		}
	}
	return nil, &domain.StateError{Message: "bank transaction not found: " + id}
}

func (s *PGStore) ListBankTransactions(ctx context.Context, snapshotID string) ([]*domain.BankTransaction, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, snapshot_id, bank_account_id, transaction_date, value_date, amount, currency,
		       reference_text, counterparty_text, fee, writeoff, reconciliation_status, reconciliation_type, lifecycle_status
		FROM bank_transactions WHERE snapshot_id = $1`, snapshotID)
	if err != nil {
		return nil, wrapInfra(err, "list bank transactions")
	}
	defer rows.Close()
	var out []*domain.BankTransaction
	for rows.Next() {
		var t domain.BankTransaction
		if err := rows.Scan(&t.ID, &t.SnapshotID, &t.BankAccountID, &t.TransactionDate, &t.ValueDate, &t.Amount,
			&t.Currency, &t.ReferenceText, &t.CounterpartyText, &t.Fee, &t.Writeoff,
			&t.ReconciliationStatus, &t.ReconciliationType, &t.LifecycleStatus); err != nil {
			return nil, wrapInfra(err, "scan bank transaction")
		}
		out = append(out, &t)
	}
	return out, rows.Err()
}

func (s *PGStore) CreateAllocation(ctx context.Context, a *domain.ReconciliationAllocation) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO reconciliation_allocations (id, snapshot_id, bank_transaction_id, target_type, target_id,
		                                         allocated_amount, tier, status, confidence)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		a.ID, a.SnapshotID, a.BankTransactionID, a.TargetType, a.TargetID, a.AllocatedAmount, a.Tier, a.Status, a.Confidence)
	return wrapInfra(err, "create allocation")
}

func (s *PGStore) UpdateAllocation(ctx context.Context, a *domain.ReconciliationAllocation) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE reconciliation_allocations SET status=$2, allocated_amount=$3 WHERE id=$1`,
		a.ID, a.Status, a.AllocatedAmount)
	return wrapInfra(err, "update allocation")
}

func (s *PGStore) ListAllocations(ctx context.Context, snapshotID string) ([]*domain.ReconciliationAllocation, error) {
	return s.queryAllocations(ctx, `WHERE snapshot_id = $1`, snapshotID)
}

func (s *PGStore) ListAllocationsForTransaction(ctx context.Context, snapshotID, bankTxnID string) ([]*domain.ReconciliationAllocation, error) {
	return s.queryAllocations(ctx, `WHERE snapshot_id = $1 AND bank_transaction_id = $2`, snapshotID, bankTxnID)
}

func (s *PGStore) ListAllocationsForTarget(ctx context.Context, snapshotID string, targetType domain.AllocationTargetType, targetID string) ([]*domain.ReconciliationAllocation, error) {
	return s.queryAllocations(ctx, `WHERE snapshot_id = $1 AND target_type = $2 AND target_id = $3`, snapshotID, targetType, targetID)
}

func (s *PGStore) queryAllocations(ctx context.Context, whereClause string, args ...interface{}) ([]*domain.ReconciliationAllocation, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, snapshot_id, bank_transaction_id, target_type, target_id, allocated_amount, tier, status, confidence
		FROM reconciliation_allocations `+whereClause, args...)
	if err != nil {
		return nil, wrapInfra(err, "query allocations")
	}
	defer rows.Close()
	var out []*domain.ReconciliationAllocation
	for rows.Next() {
		var a domain.ReconciliationAllocation
		if err := rows.Scan(&a.ID, &a.SnapshotID, &a.BankTransactionID, &a.TargetType, &a.TargetID,
			&a.AllocatedAmount, &a.Tier, &a.Status, &a.Confidence); err != nil {
			return nil, wrapInfra(err, "scan allocation")
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}

func (s *PGStore) UpsertFXRate(ctx context.Context, r *domain.FXRate) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO fx_rates (snapshot_id, from_ccy, to_ccy, rate)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (snapshot_id, from_ccy, to_ccy) DO NOTHING`,
		r.SnapshotID, r.FromCcy, r.ToCcy, r.Rate)
	return wrapInfra(err, "upsert fx rate")
}

func (s *PGStore) GetFXRate(ctx context.Context, snapshotID, from, to string) (*domain.FXRate, bool, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT snapshot_id, from_ccy, to_ccy, rate FROM fx_rates
		WHERE snapshot_id = $1 AND from_ccy = $2 AND to_ccy = $3`, snapshotID, from, to)
	var r domain.FXRate
	if err := row.Scan(&r.SnapshotID, &r.FromCcy, &r.ToCcy, &r.Rate); err != nil {
		if err == pgx.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, wrapInfra(err, "get fx rate")
	}
	return &r, true, nil
}

func (s *PGStore) ListFXRates(ctx context.Context, snapshotID string) ([]*domain.FXRate, error) {
	rows, err := s.pool.Query(ctx, `SELECT snapshot_id, from_ccy, to_ccy, rate FROM fx_rates WHERE snapshot_id = $1`, snapshotID)
	if err != nil {
		return nil, wrapInfra(err, "list fx rates")
	}
	defer rows.Close()
	var out []*domain.FXRate
	for rows.Next() {
		var r domain.FXRate
		if err := rows.Scan(&r.SnapshotID, &r.FromCcy, &r.ToCcy, &r.Rate); err != nil {
			return nil, wrapInfra(err, "scan fx rate")
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

func (s *PGStore) AppendAuditLog(ctx context.Context, a *domain.AuditLog) error {
	before, _ := json.Marshal(a.Before)
	after, _ := json.Marshal(a.After)
	_, err := s.pool.Exec(ctx, `
		INSERT INTO audit_logs (id, snapshot_id, actor, role, action, resource_type, resource_id, before, after, ip, note, timestamp)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		a.ID, a.SnapshotID, a.Actor, a.Role, a.Action, a.ResourceType, a.ResourceID, before, after, a.IP, a.Note, a.Timestamp)
	return wrapInfra(err, "append audit log")
}

func (s *PGStore) ListAuditLogs(ctx context.Context, snapshotID string) ([]*domain.AuditLog, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, snapshot_id, actor, role, action, resource_type, resource_id, before, after, ip, note, timestamp
		FROM audit_logs WHERE snapshot_id = $1 ORDER BY timestamp ASC`, snapshotID)
	if err != nil {
		return nil, wrapInfra(err, "list audit logs")
	}
	defer rows.Close()
	var out []*domain.AuditLog
	for rows.Next() {
		var a domain.AuditLog
		var before, after []byte
		if err := rows.Scan(&a.ID, &a.SnapshotID, &a.Actor, &a.Role, &a.Action, &a.ResourceType, &a.ResourceID,
			&before, &after, &a.IP, &a.Note, &a.Timestamp); err != nil {
			return nil, wrapInfra(err, "scan audit log")
		}
		_ = json.Unmarshal(before, &a.Before)
		_ = json.Unmarshal(after, &a.After)
		out = append(out, &a)
	}
	return out, rows.Err()
}

func (s *PGStore) UpsertExceptionRecord(ctx context.Context, e *domain.Exception) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO exceptions (id, snapshot_id, type, severity, amount, currency, status,
		                         assignee_id, assigned_by_id, sla_due_at, resolution_type, resolution_note)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		ON CONFLICT (id) DO UPDATE SET
			status=EXCLUDED.status, assignee_id=EXCLUDED.assignee_id, assigned_by_id=EXCLUDED.assigned_by_id,
			sla_due_at=EXCLUDED.sla_due_at, resolution_type=EXCLUDED.resolution_type, resolution_note=EXCLUDED.resolution_note`,
		e.ID, e.SnapshotID, e.Type, e.Severity, e.Amount, e.Currency, e.Status,
		e.AssigneeID, e.AssignedByID, e.SLADueAt, e.ResolutionType, e.ResolutionNote)
	return wrapInfra(err, "upsert exception")
}

func (s *PGStore) ListExceptions(ctx context.Context, snapshotID string) ([]*domain.Exception, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, snapshot_id, type, severity, amount, currency, status,
		       assignee_id, assigned_by_id, sla_due_at, resolution_type, resolution_note
		FROM exceptions WHERE snapshot_id = $1`, snapshotID)
	if err != nil {
		return nil, wrapInfra(err, "list exceptions")
	}
	defer rows.Close()
	var out []*domain.Exception
	for rows.Next() {
		var e domain.Exception
		if err := rows.Scan(&e.ID, &e.SnapshotID, &e.Type, &e.Severity, &e.Amount, &e.Currency, &e.Status,
			&e.AssigneeID, &e.AssignedByID, &e.SLADueAt, &e.ResolutionType, &e.ResolutionNote); err != nil {
			return nil, wrapInfra(err, "scan exception")
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

func (s *PGStore) CreateScenario(ctx context.Context, sc *domain.Scenario) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO scenarios (id, base_snapshot_id, name, status, approved_by_role)
		VALUES ($1,$2,$3,$4,$5)`,
		sc.ID, sc.BaseSnapshotID, sc.Name, sc.Status, sc.ApprovedByRole)
	return wrapInfra(err, "create scenario")
}

func (s *PGStore) UpdateScenario(ctx context.Context, sc *domain.Scenario) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE scenarios SET name=$2, status=$3, approved_by_role=$4 WHERE id=$1`,
		sc.ID, sc.Name, sc.Status, sc.ApprovedByRole)
	return wrapInfra(err, "update scenario")
}

func (s *PGStore) GetScenario(ctx context.Context, id string) (*domain.Scenario, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, base_snapshot_id, name, status, approved_by_role FROM scenarios WHERE id=$1`, id)
	var sc domain.Scenario
	if err := row.Scan(&sc.ID, &sc.BaseSnapshotID, &sc.Name, &sc.Status, &sc.ApprovedByRole); err != nil {
		if err == pgx.ErrNoRows {
			return nil, &domain.StateError{Message: "scenario not found: " + id}
		}
		return nil, wrapInfra(err, "get scenario")
	}
	return &sc, nil
}

func (s *PGStore) ListScenarios(ctx context.Context, baseSnapshotID string) ([]*domain.Scenario, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, base_snapshot_id, name, status, approved_by_role FROM scenarios WHERE base_snapshot_id=$1`, baseSnapshotID)
	if err != nil {
		return nil, wrapInfra(err, "list scenarios")
	}
	defer rows.Close()
	var out []*domain.Scenario
	for rows.Next() {
		var sc domain.Scenario
		if err := rows.Scan(&sc.ID, &sc.BaseSnapshotID, &sc.Name, &sc.Status, &sc.ApprovedByRole); err != nil {
			return nil, wrapInfra(err, "scan scenario")
		}
		out = append(out, &sc)
	}
	return out, rows.Err()
}

func (s *PGStore) CreateAction(ctx context.Context, a *domain.Action) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO actions (id, snapshot_id, description, status, requires_approval)
		VALUES ($1,$2,$3,$4,$5)`,
		a.ID, a.SnapshotID, a.Description, a.Status, a.RequiresApproval)
	return wrapInfra(err, "create action")
}

func (s *PGStore) UpdateAction(ctx context.Context, a *domain.Action) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE actions SET description=$2, status=$3, requires_approval=$4 WHERE id=$1`,
		a.ID, a.Description, a.Status, a.RequiresApproval)
	return wrapInfra(err, "update action")
}

func (s *PGStore) GetAction(ctx context.Context, id string) (*domain.Action, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, snapshot_id, description, status, requires_approval FROM actions WHERE id=$1`, id)
	var a domain.Action
	if err := row.Scan(&a.ID, &a.SnapshotID, &a.Description, &a.Status, &a.RequiresApproval); err != nil {
		if err == pgx.ErrNoRows {
			return nil, &domain.StateError{Message: "action not found: " + id}
		}
		return nil, wrapInfra(err, "get action")
	}
	return &a, nil
}

func (s *PGStore) ListActions(ctx context.Context, snapshotID string) ([]*domain.Action, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, snapshot_id, description, status, requires_approval FROM actions WHERE snapshot_id=$1`, snapshotID)
	if err != nil {
		return nil, wrapInfra(err, "list actions")
	}
	defer rows.Close()
	var out []*domain.Action
	for rows.Next() {
		var a domain.Action
		if err := rows.Scan(&a.ID, &a.SnapshotID, &a.Description, &a.Status, &a.RequiresApproval); err != nil {
			return nil, wrapInfra(err, "scan action")
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}

func (s *PGStore) CreateComment(ctx context.Context, c *domain.Comment) error {
	evidence, _ := json.Marshal(c.Evidence)
	_, err := s.pool.Exec(ctx, `
		INSERT INTO comments (id, parent_type, parent_id, author, body, reply_to_id, evidence, deleted, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		c.ID, c.ParentType, c.ParentID, c.Author, c.Body, c.ReplyToID, evidence, c.Deleted, c.CreatedAt)
	return wrapInfra(err, "create comment")
}

func (s *PGStore) UpdateComment(ctx context.Context, c *domain.Comment) error {
	_, err := s.pool.Exec(ctx, `UPDATE comments SET body=$2, deleted=$3 WHERE id=$1`, c.ID, c.Body, c.Deleted)
	return wrapInfra(err, "update comment")
}

func (s *PGStore) ListComments(ctx context.Context, parentType, parentID string) ([]*domain.Comment, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, parent_type, parent_id, author, body, reply_to_id, evidence, deleted, created_at
		FROM comments WHERE parent_type=$1 AND parent_id=$2 ORDER BY created_at ASC`, parentType, parentID)
	if err != nil {
		return nil, wrapInfra(err, "list comments")
	}
	defer rows.Close()
	var out []*domain.Comment
	for rows.Next() {
		var c domain.Comment
		var evidence []byte
		if err := rows.Scan(&c.ID, &c.ParentType, &c.ParentID, &c.Author, &c.Body, &c.ReplyToID, &evidence, &c.Deleted, &c.CreatedAt); err != nil {
			return nil, wrapInfra(err, "scan comment")
		}
		_ = json.Unmarshal(evidence, &c.Evidence)
		out = append(out, &c)
	}
	return out, rows.Err()
}

func (s *PGStore) AppendLockGateOverrideLog(ctx context.Context, o *domain.LockGateOverrideLog) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO lock_gate_override_logs (id, snapshot_id, user_name, role, email, ip, failed_gates, acknowledgment, reason, timestamp)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		o.ID, o.SnapshotID, o.User, o.Role, o.Email, o.IP, o.FailedGates, o.Acknowledgment, o.Reason, o.Timestamp)
	return wrapInfra(err, "append lock gate override log")
}

func (s *PGStore) ListLockGateOverrideLogs(ctx context.Context, snapshotID string) ([]*domain.LockGateOverrideLog, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, snapshot_id, user_name, role, email, ip, failed_gates, acknowledgment, reason, timestamp
		FROM lock_gate_override_logs WHERE snapshot_id=$1 ORDER BY timestamp ASC`, snapshotID)
	if err != nil {
		return nil, wrapInfra(err, "list lock gate override logs")
	}
	defer rows.Close()
	var out []*domain.LockGateOverrideLog
	for rows.Next() {
		var o domain.LockGateOverrideLog
		if err := rows.Scan(&o.ID, &o.SnapshotID, &o.User, &o.Role, &o.Email, &o.IP, &o.FailedGates, &o.Acknowledgment, &o.Reason, &o.Timestamp); err != nil {
			return nil, wrapInfra(err, "scan lock gate override log")
		}
		out = append(out, &o)
	}
	return out, rows.Err()
}

func (s *PGStore) UpsertSegment(ctx context.Context, seg *domain.Segment) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO segments (snapshot_id, level, key, count, p25, p50, p75, p90, weighted_mean, weighted_std)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (snapshot_id, level, key) DO UPDATE SET
			count = EXCLUDED.count, p25 = EXCLUDED.p25, p50 = EXCLUDED.p50,
			p75 = EXCLUDED.p75, p90 = EXCLUDED.p90,
			weighted_mean = EXCLUDED.weighted_mean, weighted_std = EXCLUDED.weighted_std`,
		seg.SnapshotID, seg.Level, seg.Key, seg.Count, seg.P25, seg.P50, seg.P75, seg.P90, seg.WeightedMean, seg.WeightedStd)
	return wrapInfra(err, "upsert segment")
}

func (s *PGStore) ListSegments(ctx context.Context, snapshotID string) ([]*domain.Segment, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT snapshot_id, level, key, count, p25, p50, p75, p90, weighted_mean, weighted_std
		FROM segments WHERE snapshot_id = $1`, snapshotID)
	if err != nil {
		return nil, wrapInfra(err, "list segments")
	}
	defer rows.Close()
	var out []*domain.Segment
	for rows.Next() {
		var seg domain.Segment
		if err := rows.Scan(&seg.SnapshotID, &seg.Level, &seg.Key, &seg.Count, &seg.P25, &seg.P50, &seg.P75, &seg.P90, &seg.WeightedMean, &seg.WeightedStd); err != nil {
			return nil, wrapInfra(err, "scan segment")
		}
		out = append(out, &seg)
	}
	return out, rows.Err()
}

func (s *PGStore) UpsertCalibrationRecord(ctx context.Context, c *domain.CalibrationRecord) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO calibration_records (snapshot_id, level, key, coverage_p25, coverage_p50, coverage_p75, coverage_p90, calibration_error, sample_size)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (snapshot_id, level, key) DO UPDATE SET
			coverage_p25 = EXCLUDED.coverage_p25, coverage_p50 = EXCLUDED.coverage_p50,
			coverage_p75 = EXCLUDED.coverage_p75, coverage_p90 = EXCLUDED.coverage_p90,
			calibration_error = EXCLUDED.calibration_error, sample_size = EXCLUDED.sample_size`,
		c.SnapshotID, c.Level, c.Key, c.CoverageP25, c.CoverageP50, c.CoverageP75, c.CoverageP90, c.CalibrationError, c.SampleSize)
	return wrapInfra(err, "upsert calibration record")
}

func (s *PGStore) ListCalibrationRecords(ctx context.Context, snapshotID string) ([]*domain.CalibrationRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT snapshot_id, level, key, coverage_p25, coverage_p50, coverage_p75, coverage_p90, calibration_error, sample_size
		FROM calibration_records WHERE snapshot_id = $1`, snapshotID)
	if err != nil {
		return nil, wrapInfra(err, "list calibration records")
	}
	defer rows.Close()
	var out []*domain.CalibrationRecord
	for rows.Next() {
		var c domain.CalibrationRecord
		if err := rows.Scan(&c.SnapshotID, &c.Level, &c.Key, &c.CoverageP25, &c.CoverageP50, &c.CoverageP75, &c.CoverageP90, &c.CalibrationError, &c.SampleSize); err != nil {
			return nil, wrapInfra(err, "scan calibration record")
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}

func (s *PGStore) CreateRecurringOutflow(ctx context.Context, r *domain.RecurringOutflow) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO recurring_outflows (id, entity_id, category, description, amount, currency,
		                                 frequency, day_of_week, day_of_month, is_last_day, discretionary)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT (id) DO NOTHING`,
		r.ID, r.EntityID, r.Category, r.Description, r.Amount, r.Currency,
		r.Frequency, r.DayOfWeek, r.DayOfMonth, r.IsLastDay, r.Discretionary)
	return wrapInfra(err, "create recurring outflow")
}

func (s *PGStore) ListRecurringOutflows(ctx context.Context, entityID string) ([]*domain.RecurringOutflow, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, entity_id, category, description, amount, currency,
		       frequency, day_of_week, day_of_month, is_last_day, discretionary
		FROM recurring_outflows WHERE entity_id = $1`, entityID)
	if err != nil {
		return nil, wrapInfra(err, "list recurring outflows")
	}
	defer rows.Close()
	var out []*domain.RecurringOutflow
	for rows.Next() {
		var r domain.RecurringOutflow
		if err := rows.Scan(&r.ID, &r.EntityID, &r.Category, &r.Description, &r.Amount, &r.Currency,
			&r.Frequency, &r.DayOfWeek, &r.DayOfMonth, &r.IsLastDay, &r.Discretionary); err != nil {
			return nil, wrapInfra(err, "scan recurring outflow")
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

func (s *PGStore) CreateOutflowItem(ctx context.Context, o *domain.OutflowItem) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO outflow_items (id, snapshot_id, entity_id, category, description, amount, currency,
		                            expected_date, discretionary, source, status)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT (id) DO NOTHING`,
		o.ID, o.SnapshotID, o.EntityID, o.Category, o.Description, o.Amount, o.Currency,
		o.ExpectedDate, o.Discretionary, o.Source, o.Status)
	return wrapInfra(err, "create outflow item")
}

func (s *PGStore) ListOutflowItems(ctx context.Context, snapshotID string) ([]*domain.OutflowItem, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, snapshot_id, entity_id, category, description, amount, currency,
		       expected_date, discretionary, source, status
		FROM outflow_items WHERE snapshot_id = $1`, snapshotID)
	if err != nil {
		return nil, wrapInfra(err, "list outflow items")
	}
	defer rows.Close()
	var out []*domain.OutflowItem
	for rows.Next() {
		var o domain.OutflowItem
		if err := rows.Scan(&o.ID, &o.SnapshotID, &o.EntityID, &o.Category, &o.Description, &o.Amount, &o.Currency,
			&o.ExpectedDate, &o.Discretionary, &o.Source, &o.Status); err != nil {
			return nil, wrapInfra(err, "scan outflow item")
		}
		out = append(out, &o)
	}
	return out, rows.Err()
}

func wrapInfra(err error, op string) error {
	if err == nil {
		return nil
	}
	return &domain.InfrastructureError{Message: op, Cause: err}
}

func strPtr(s string) *string { return &s }
