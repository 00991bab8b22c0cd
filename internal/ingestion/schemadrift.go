package ingestion

import (
	"time"

	"github.com/vaultline/cashops/internal/connector"
	"github.com/vaultline/cashops/internal/domain"
)

// criticalColumns are the fields whose removal always escalates drift to
// error severity, regardless of anything else that changed.
var criticalColumns = map[connector.CanonicalColumn]bool{
	connector.ColAmount:       true,
	connector.ColCurrency:     true,
	connector.ColDocumentDate: true,
	connector.ColDueDate:      true,
}

// diffSchemas compares the prior dataset's recorded {name: type} map
// against a newly observed column list, keyed by resolved canonical name
// (falling back to the raw header when no alias matches), returning
// added, removed, and type-changed columns.
func diffSchemas(prev map[string]string, curr []connector.Column) (added, removed []string, typeChanges map[string]string) {
	currByName := make(map[string]connector.Column, len(curr))
	for _, c := range curr {
		currByName[normalizedName(c.Name)] = c
	}

	typeChanges = make(map[string]string)
	for name, c := range currByName {
		if _, ok := prev[name]; !ok {
			added = append(added, c.Name)
		}
	}
	for name, oldType := range prev {
		nc, ok := currByName[name]
		if !ok {
			removed = append(removed, name)
			continue
		}
		if nc.Type != oldType {
			typeChanges[name] = oldType + " -> " + nc.Type
		}
	}
	return added, removed, typeChanges
}

func normalizedName(header string) string {
	if col, ok := connector.ResolveColumn(header); ok {
		return string(col)
	}
	return header
}

// schemaColumnsOf reduces a column slice to the {name: type} map stored on
// a Dataset for future drift comparisons.
func schemaColumnsOf(cols []connector.Column) map[string]string {
	out := make(map[string]string, len(cols))
	for _, c := range cols {
		out[normalizedName(c.Name)] = c.Type
	}
	return out
}

// detectDrift compares a newly observed schema against the prior dataset's
// recorded fingerprint/columns for the same connection. It returns nil
// when there is no prior dataset or the fingerprints match.
func detectDrift(connectionID, syncRunID string, prevColumns map[string]string, prevFingerprint string, curr *connector.Schema, now time.Time) *domain.SchemaDriftEvent {
	if prevFingerprint == "" || prevFingerprint == curr.Fingerprint {
		return nil
	}

	added, removed, typeChanges := diffSchemas(prevColumns, curr.Columns)

	severity := domain.SeverityInfo
	for _, name := range removed {
		col, _ := connector.ResolveColumn(name)
		if criticalColumns[col] {
			severity = domain.SeverityError
			break
		}
	}
	if severity != domain.SeverityError && (len(removed) > 0 || len(typeChanges) > 0) {
		severity = domain.SeverityWarning
	}

	return &domain.SchemaDriftEvent{
		ConnectionID:   connectionID,
		SyncRunID:      syncRunID,
		AddedColumns:   added,
		RemovedColumns: removed,
		TypeChanges:    typeChanges,
		Severity:       severity,
		DetectedAt:     now,
	}
}
