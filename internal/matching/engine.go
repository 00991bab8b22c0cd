// Package matching implements the reconciliation Matching Engine: it
// classifies every unreconciled bank transaction into a tier and
// allocates its amount across one or more open invoices/vendor bills,
// obeying conservation and non-overmatch, with Tier 3 matches always
// left for explicit human approval.
package matching

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/vaultline/cashops/internal/domain"
	"github.com/vaultline/cashops/internal/lock"
	"github.com/vaultline/cashops/internal/metrics"
	"github.com/vaultline/cashops/internal/store"
)

// Engine runs a reconciliation pass over one snapshot's unreconciled
// transactions.
type Engine struct {
	store  store.Store
	locks  lock.Manager
	logger zerolog.Logger
}

func New(s store.Store, locks lock.Manager, logger zerolog.Logger) *Engine {
	return &Engine{store: s, locks: locks, logger: logger.With().Str("component", "matching-engine").Logger()}
}

// RunResult summarizes one reconciliation pass.
type RunResult struct {
	TransactionsProcessed int
	AutoApplied           int
	SuggestedPending      int
	ManualQueued          int
	Errors                []string
}

// Run builds the blocking index once, then scores and applies matches
// for every unreconciled transaction in the snapshot.
func (e *Engine) Run(ctx context.Context, snapshotID string, policy domain.MatchingPolicy) (*RunResult, error) {
	release, err := e.locks.Acquire(ctx, lock.SnapshotKey(snapshotID))
	if err != nil {
		return nil, fmt.Errorf("acquire snapshot lock: %w", err)
	}
	defer release()

	snap, err := e.store.GetSnapshot(ctx, snapshotID)
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	if err := domain.AssertNotLocked(snap); err != nil {
		return nil, err
	}

	open, err := e.openInvoiceLikes(ctx, snapshotID)
	if err != nil {
		return nil, err
	}
	index := BuildBlockingIndex(open)

	txns, err := e.store.ListBankTransactions(ctx, snapshotID)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}

	result := &RunResult{}
	for _, txn := range txns {
		if txn.ReconciliationStatus == domain.ReconStatusReconciled {
			continue
		}
		result.TransactionsProcessed++
		if err := e.processTransaction(ctx, snapshotID, txn, index, policy, result); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("txn %s: %v", txn.ID, err))
		}
	}
	return result, nil
}

func (e *Engine) openInvoiceLikes(ctx context.Context, snapshotID string) ([]*OpenInvoiceLike, error) {
	var out []*OpenInvoiceLike

	invoices, err := e.store.ListInvoices(ctx, snapshotID)
	if err != nil {
		return nil, fmt.Errorf("list invoices: %w", err)
	}
	for _, inv := range invoices {
		approved, err := e.approvedAllocated(ctx, snapshotID, domain.TargetInvoice, inv.ID)
		if err != nil {
			return nil, err
		}
		if !inv.IsOpen(approved) {
			continue
		}
		out = append(out, &OpenInvoiceLike{
			ID: inv.ID, DocumentNumber: inv.DocumentNumber, Counterparty: inv.Counterparty,
			Amount: inv.Amount, DueDate: inv.DueDate, OpenAmount: inv.OpenAmount(approved),
			TargetType: domain.TargetInvoice,
		})
	}

	bills, err := e.store.ListVendorBills(ctx, snapshotID)
	if err != nil {
		return nil, fmt.Errorf("list vendor bills: %w", err)
	}
	for _, b := range bills {
		if !b.IsOpen() {
			continue
		}
		approved, err := e.approvedAllocated(ctx, snapshotID, domain.TargetVendorBill, b.ID)
		if err != nil {
			return nil, err
		}
		openAmount := b.Amount.Sub(approved)
		if !openAmount.GreaterThan(toleranceDec) {
			continue
		}
		out = append(out, &OpenInvoiceLike{
			ID: b.ID, DocumentNumber: b.DocumentNumber, Counterparty: b.Counterparty,
			Amount: b.Amount, DueDate: b.DueDate, OpenAmount: openAmount,
			TargetType: domain.TargetVendorBill,
		})
	}
	return out, nil
}

func (e *Engine) approvedAllocated(ctx context.Context, snapshotID string, targetType domain.AllocationTargetType, targetID string) (decimal.Decimal, error) {
	allocs, err := e.store.ListAllocationsForTarget(ctx, snapshotID, targetType, targetID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("list allocations for target %s: %w", targetID, err)
	}
	sum := decimal.Zero
	for _, a := range allocs {
		if a.Status == domain.AllocationReconciled {
			sum = sum.Add(a.AllocatedAmount)
		}
	}
	return sum, nil
}

func (e *Engine) processTransaction(ctx context.Context, snapshotID string, txn *domain.BankTransaction, index *BlockingIndex, policy domain.MatchingPolicy, result *RunResult) error {
	refTokens := ExtractReferenceTokens(txn.ReferenceText + " " + txn.CounterpartyText)
	rawCandidates := index.Candidates(refTokens, txn.Amount, txn.CounterpartyText, txn.TransactionDate)
	if len(rawCandidates) == 0 {
		txn.ReconciliationType = domain.ReconManual
		result.ManualQueued++
		return e.store.UpsertBankTransaction(ctx, txn)
	}

	scored := make([]Candidate, 0, len(rawCandidates))
	for _, inv := range rawCandidates {
		c := Score(refTokens, txn.Amount, txn.CounterpartyText, txn.TransactionDate, inv, policy)
		c.Tier = ClassifyTier(c, policy)
		scored = append(scored, c)
	}

	best := bestCandidate(scored)
	switch best.Tier {
	case domain.ReconDeterministic:
		if policy.AutoApplyTier1 {
			return e.applySingle(ctx, snapshotID, txn, best, domain.AllocationReconciled, result, &result.AutoApplied)
		}
		return e.trySolverOrSuggest(ctx, snapshotID, txn, scored, policy, result)
	case domain.ReconRule:
		if policy.AutoApplyTier2 {
			return e.applySingle(ctx, snapshotID, txn, best, domain.AllocationReconciled, result, &result.AutoApplied)
		}
		return e.trySolverOrSuggest(ctx, snapshotID, txn, scored, policy, result)
	case domain.ReconSuggested:
		return e.applySingle(ctx, snapshotID, txn, best, domain.AllocationPendingApproval, result, &result.SuggestedPending)
	default:
		txn.ReconciliationType = domain.ReconManual
		result.ManualQueued++
		return e.store.UpsertBankTransaction(ctx, txn)
	}
}

func bestCandidate(scored []Candidate) Candidate {
	best := scored[0]
	for _, c := range scored[1:] {
		if c.Confidence > best.Confidence {
			best = c
		}
	}
	return best
}

// trySolverOrSuggest runs the allocation solver across multiple
// candidates when more than one qualifies; otherwise falls back to
// persisting the single best candidate pending approval when it is a
// Tier-2 or Tier-3 match, since a lone non-auto-applied match is never
// silently discarded to the manual queue. A lone Tier-1 match with
// auto-apply disabled still falls through to manual, since neither
// qualifies as a rule or suggested match on its own.
func (e *Engine) trySolverOrSuggest(ctx context.Context, snapshotID string, txn *domain.BankTransaction, scored []Candidate, policy domain.MatchingPolicy, result *RunResult) error {
	qualifying := make([]Candidate, 0, len(scored))
	for _, c := range scored {
		if c.Tier == domain.ReconDeterministic || c.Tier == domain.ReconRule {
			qualifying = append(qualifying, c)
		}
	}
	if len(qualifying) >= 2 {
		allocations, err := Solve(txn.Amount, txn.Fee, txn.Writeoff, qualifying)
		if err == nil && len(allocations) > 0 {
			return e.applyMulti(ctx, snapshotID, txn, allocations, result)
		}
	}

	best := bestCandidate(scored)
	if best.Tier == domain.ReconSuggested || best.Tier == domain.ReconRule {
		return e.applySingle(ctx, snapshotID, txn, best, domain.AllocationPendingApproval, result, &result.SuggestedPending)
	}
	txn.ReconciliationType = domain.ReconManual
	result.ManualQueued++
	return e.store.UpsertBankTransaction(ctx, txn)
}

func (e *Engine) applySingle(ctx context.Context, snapshotID string, txn *domain.BankTransaction, c Candidate, status domain.AllocationStatus, result *RunResult, counter *int) error {
	alloc := &domain.ReconciliationAllocation{
		ID:                uuid.NewString(),
		SnapshotID:        snapshotID,
		BankTransactionID: txn.ID,
		TargetType:        c.Invoice.TargetType,
		TargetID:          c.Invoice.ID,
		Tier:              c.Tier,
		Status:            status,
		Confidence:        c.Confidence,
	}
	if txn.Amount.Abs().LessThan(c.Invoice.OpenAmount) {
		alloc.AllocatedAmount = txn.Amount.Abs().Sub(txn.Fee).Sub(txn.Writeoff)
	} else {
		alloc.AllocatedAmount = c.Invoice.OpenAmount
	}
	if err := e.store.CreateAllocation(ctx, alloc); err != nil {
		return fmt.Errorf("create allocation: %w", err)
	}
	metrics.ReconciliationAllocationsTotal.WithLabelValues(string(c.Tier)).Inc()

	txn.ReconciliationType = c.Tier
	if status == domain.AllocationReconciled {
		txn.ReconciliationStatus = domain.ReconStatusReconciled
	}
	if err := e.store.UpsertBankTransaction(ctx, txn); err != nil {
		return fmt.Errorf("update transaction: %w", err)
	}
	*counter++
	return nil
}

func (e *Engine) applyMulti(ctx context.Context, snapshotID string, txn *domain.BankTransaction, allocations []Allocation, result *RunResult) error {
	tier := domain.ReconRule
	for _, a := range allocations {
		if a.Candidate.Tier == domain.ReconDeterministic {
			tier = domain.ReconDeterministic
			break
		}
	}
	for _, a := range allocations {
		alloc := &domain.ReconciliationAllocation{
			ID:                uuid.NewString(),
			SnapshotID:        snapshotID,
			BankTransactionID: txn.ID,
			TargetType:        a.Candidate.Invoice.TargetType,
			TargetID:          a.Candidate.Invoice.ID,
			AllocatedAmount:   a.Amount,
			Tier:              tier,
			Status:            domain.AllocationReconciled,
			Confidence:        a.Candidate.Confidence,
		}
		if err := e.store.CreateAllocation(ctx, alloc); err != nil {
			return fmt.Errorf("create allocation: %w", err)
		}
		metrics.ReconciliationAllocationsTotal.WithLabelValues(string(tier)).Inc()
	}
	txn.ReconciliationType = tier
	txn.ReconciliationStatus = domain.ReconStatusReconciled
	if err := e.store.UpsertBankTransaction(ctx, txn); err != nil {
		return fmt.Errorf("update transaction: %w", err)
	}
	result.AutoApplied++
	return nil
}
