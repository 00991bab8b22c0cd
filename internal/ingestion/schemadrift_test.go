package ingestion

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vaultline/cashops/internal/connector"
	"github.com/vaultline/cashops/internal/domain"
)

func TestDiffSchemas_AddedRemovedAndTypeChanged(t *testing.T) {
	prev := map[string]string{"amount": "decimal", "currency": "string", "document_number": "string"}
	curr := []connector.Column{
		{Name: "amount", Type: "float"},
		{Name: "document_number", Type: "string"},
		{Name: "country", Type: "string"},
	}
	added, removed, typeChanges := diffSchemas(prev, curr)
	assert.ElementsMatch(t, []string{"country"}, added)
	assert.ElementsMatch(t, []string{"currency"}, removed)
	assert.Equal(t, map[string]string{"amount": "decimal -> float"}, typeChanges)
}

func TestDetectDrift_NoPriorDatasetIsNil(t *testing.T) {
	schema := &connector.Schema{Columns: []connector.Column{{Name: "amount", Type: "decimal"}}, Fingerprint: "fp1"}
	drift := detectDrift("conn-1", "run-1", nil, "", schema, time.Now())
	assert.Nil(t, drift)
}

func TestDetectDrift_MatchingFingerprintIsNil(t *testing.T) {
	schema := &connector.Schema{Columns: []connector.Column{{Name: "amount", Type: "decimal"}}, Fingerprint: "fp1"}
	drift := detectDrift("conn-1", "run-1", map[string]string{"amount": "decimal"}, "fp1", schema, time.Now())
	assert.Nil(t, drift)
}

func TestDetectDrift_RemovedCriticalColumnIsError(t *testing.T) {
	prevColumns := map[string]string{"amount": "decimal", "currency": "string"}
	schema := &connector.Schema{Columns: []connector.Column{{Name: "amount", Type: "decimal"}}, Fingerprint: "fp2"}
	drift := detectDrift("conn-1", "run-1", prevColumns, "fp1", schema, time.Now())
	require.NotNil(t, drift)
	assert.Equal(t, domain.SeverityError, drift.Severity)
	assert.Contains(t, drift.RemovedColumns, "currency")
}

func TestDetectDrift_NonCriticalChangeIsWarning(t *testing.T) {
	prevColumns := map[string]string{"amount": "decimal", "description": "string"}
	schema := &connector.Schema{Columns: []connector.Column{{Name: "amount", Type: "decimal"}}, Fingerprint: "fp2"}
	drift := detectDrift("conn-1", "run-1", prevColumns, "fp1", schema, time.Now())
	require.NotNil(t, drift)
	assert.Equal(t, domain.SeverityWarning, drift.Severity)
}

func TestDetectDrift_OnlyAdditionsAreInfo(t *testing.T) {
	prevColumns := map[string]string{"amount": "decimal"}
	schema := &connector.Schema{Columns: []connector.Column{{Name: "amount", Type: "decimal"}, {Name: "country", Type: "string"}}, Fingerprint: "fp2"}
	drift := detectDrift("conn-1", "run-1", prevColumns, "fp1", schema, time.Now())
	require.NotNil(t, drift)
	assert.Equal(t, domain.SeverityInfo, drift.Severity)
}
