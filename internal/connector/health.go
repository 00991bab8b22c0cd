package connector

import "sort"

// QualityLevel buckets a health report's overall valid-row percentage.
type QualityLevel string

const (
	QualityExcellent QualityLevel = "excellent"
	QualityGood      QualityLevel = "good"
	QualityFair      QualityLevel = "fair"
	QualityPoor      QualityLevel = "poor"
)

// Issue is one consolidated normalization problem, aggregated across
// every row that produced it.
type Issue struct {
	Type       string
	Severity   string
	Message    string
	RowIndices []int
}

// FieldCompleteness reports the populated fraction of one canonical field.
type FieldCompleteness struct {
	Field          CanonicalColumn
	PopulatedCount int
	TotalCount     int
}

// Percentage returns the populated fraction as 0-100.
func (f FieldCompleteness) Percentage() float64 {
	if f.TotalCount == 0 {
		return 0
	}
	return 100 * float64(f.PopulatedCount) / float64(f.TotalCount)
}

// Report is the health-report artifact for one sync run.
type Report struct {
	TotalRows   int
	ValidRows   int
	ErrorRows   int
	WarningRows int

	FieldCompleteness []FieldCompleteness
	QualityLevel      QualityLevel
	AmountWeightedTotal float64
	UnmappedColumns     []string
	SchemaFingerprint   string
	Issues              []Issue
}

// Builder accumulates observations row by row and produces a Report.
type Builder struct {
	totalRows   int
	validRows   int
	errorRows   int
	warningRows int

	fieldPopulated map[CanonicalColumn]int
	fieldTotal     map[CanonicalColumn]int
	amountTotal    float64
	unmapped       map[string]struct{}
	schemaFP       string

	issues      map[string]*Issue // key: type|severity|message
	issueOrder  []string
}

// NewBuilder returns an empty Builder for the given schema fingerprint.
func NewBuilder(schemaFingerprint string) *Builder {
	return &Builder{
		fieldPopulated: make(map[CanonicalColumn]int),
		fieldTotal:     make(map[CanonicalColumn]int),
		unmapped:       make(map[string]struct{}),
		schemaFP:       schemaFingerprint,
		issues:         make(map[string]*Issue),
	}
}

// RecordValidRow records one successfully normalized row and its
// per-field population, plus the absolute amount for the weighted total.
func (b *Builder) RecordValidRow(populated map[CanonicalColumn]bool, amount float64) {
	b.totalRows++
	b.validRows++
	b.amountTotal += abs(amount)
	for field, isPopulated := range populated {
		b.fieldTotal[field]++
		if isPopulated {
			b.fieldPopulated[field]++
		}
	}
}

// RecordError records a row that failed to normalize, consolidating the
// issue by (type, severity, message).
func (b *Builder) RecordError(rowIdx int, errType, message string) {
	b.totalRows++
	b.errorRows++
	b.recordIssue(rowIdx, errType, "error", message)
}

// RecordWarning records a row normalized with a non-fatal issue (e.g. a
// duplicate canonical_id).
func (b *Builder) RecordWarning(rowIdx int, warnType, message string) {
	b.warningRows++
	b.recordIssue(rowIdx, warnType, "warning", message)
}

// RecordUnmappedColumn notes a source header that matched no canonical
// column alias.
func (b *Builder) RecordUnmappedColumn(header string) {
	b.unmapped[header] = struct{}{}
}

func (b *Builder) recordIssue(rowIdx int, issueType, severity, message string) {
	key := issueType + "|" + severity + "|" + message
	issue, ok := b.issues[key]
	if !ok {
		issue = &Issue{Type: issueType, Severity: severity, Message: message}
		b.issues[key] = issue
		b.issueOrder = append(b.issueOrder, key)
	}
	issue.RowIndices = append(issue.RowIndices, rowIdx)
}

// Build finalizes the Report.
func (b *Builder) Build() *Report {
	r := &Report{
		TotalRows:           b.totalRows,
		ValidRows:           b.validRows,
		ErrorRows:           b.errorRows,
		WarningRows:         b.warningRows,
		AmountWeightedTotal: b.amountTotal,
		SchemaFingerprint:   b.schemaFP,
	}
	for field, total := range b.fieldTotal {
		r.FieldCompleteness = append(r.FieldCompleteness, FieldCompleteness{
			Field:          field,
			PopulatedCount: b.fieldPopulated[field],
			TotalCount:     total,
		})
	}
	sort.Slice(r.FieldCompleteness, func(i, j int) bool {
		return r.FieldCompleteness[i].Field < r.FieldCompleteness[j].Field
	})
	for col := range b.unmapped {
		r.UnmappedColumns = append(r.UnmappedColumns, col)
	}
	sort.Strings(r.UnmappedColumns)
	for _, key := range b.issueOrder {
		r.Issues = append(r.Issues, *b.issues[key])
	}
	r.QualityLevel = qualityLevel(validPercentage(b.totalRows, b.validRows))
	return r
}

func validPercentage(total, valid int) float64 {
	if total == 0 {
		return 100
	}
	return 100 * float64(valid) / float64(total)
}

// qualityLevel buckets a valid-row percentage into excellent/good/fair/poor.
func qualityLevel(pct float64) QualityLevel {
	switch {
	case pct >= 95:
		return QualityExcellent
	case pct >= 85:
		return QualityGood
	case pct >= 70:
		return QualityFair
	default:
		return QualityPoor
	}
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
