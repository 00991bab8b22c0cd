package connector

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// CanonicalColumn is one of the closed set of fields the normalization
// library recognizes, regardless of source-system header spelling.
type CanonicalColumn string

const (
	ColAmount          CanonicalColumn = "amount"
	ColCurrency        CanonicalColumn = "currency"
	ColDocumentDate    CanonicalColumn = "document_date"
	ColDueDate         CanonicalColumn = "due_date"
	ColPaymentDate     CanonicalColumn = "payment_date"
	ColDocumentNumber  CanonicalColumn = "document_number"
	ColExternalID      CanonicalColumn = "external_id"
	ColCustomer        CanonicalColumn = "customer"
	ColVendor          CanonicalColumn = "vendor"
	ColCounterparty    CanonicalColumn = "counterparty"
	ColDocumentType    CanonicalColumn = "document_type"
	ColCountry         CanonicalColumn = "country"
	ColDescription     CanonicalColumn = "description"
	ColProject         CanonicalColumn = "project"
	ColProjectDesc     CanonicalColumn = "project_desc"
	ColPaymentTerms    CanonicalColumn = "payment_terms"
	ColPaymentTermDays CanonicalColumn = "payment_terms_days"
)

// columnAliases maps each canonical column to the closed alias list
// covering common ERP/bank header variants, including SAP field codes
// and European synonyms. Alias lookup is case- and whitespace-insensitive,
// with `-` and space treated as `_` (see normalizeHeader).
var columnAliases = map[CanonicalColumn][]string{
	ColAmount:          {"amount", "amt", "value", "dmbtr", "betrag", "montant", "sum"},
	ColCurrency:        {"currency", "ccy", "waers", "devise", "curr"},
	ColDocumentDate:    {"document_date", "doc_date", "posting_date", "budat", "invoice_date", "issue_date", "date"},
	ColDueDate:         {"due_date", "fae_date", "zfbdt", "maturity_date", "payment_due"},
	ColPaymentDate:     {"payment_date", "paid_date", "ausgl_date", "clearing_date", "settlement_date"},
	ColDocumentNumber:  {"document_number", "doc_number", "belnr", "invoice_number", "invoice_no", "bill_number", "doc_no"},
	ColExternalID:      {"external_id", "ext_id", "source_id", "reference_id"},
	ColCustomer:        {"customer", "kunnr", "client", "debtor", "buyer"},
	ColVendor:          {"vendor", "lifnr", "supplier", "creditor", "seller"},
	ColCounterparty:    {"counterparty", "name", "partner", "account_name"},
	ColDocumentType:    {"document_type", "doc_type", "blart", "record_type"},
	ColCountry:         {"country", "land1", "pays", "ctry"},
	ColDescription:     {"description", "sgtxt", "text", "memo", "narrative"},
	ColProject:         {"project", "pspnr", "cost_center", "project_code"},
	ColProjectDesc:     {"project_desc", "project_description", "pspnr_text"},
	ColPaymentTerms:    {"payment_terms", "zterm", "terms", "conditions"},
	ColPaymentTermDays: {"payment_terms_days", "net_days", "terms_days"},
}

// normalizeHeader lowercases a header and folds whitespace/hyphen
// variants to underscore, matching the alias lookup's case- and
// whitespace-insensitive rule.
func normalizeHeader(h string) string {
	h = strings.ToLower(strings.TrimSpace(h))
	h = strings.ReplaceAll(h, "-", "_")
	h = regexp.MustCompile(`\s+`).ReplaceAllString(h, "_")
	return h
}

// ResolveColumn maps a raw source header to a canonical column, if any
// alias matches.
func ResolveColumn(header string) (CanonicalColumn, bool) {
	norm := normalizeHeader(header)
	for canonical, aliases := range columnAliases {
		for _, alias := range aliases {
			if normalizeHeader(alias) == norm {
				return canonical, true
			}
		}
	}
	return "", false
}

var dateLayoutsByLocale = map[string][]string{
	"ISO": {"2006-01-02", "2006-01-02T15:04:05", "02/01/2006", "01/02/2006", "02.01.2006", "20060102", "2 January 2006", "January 2, 2006"},
	"EU":  {"02/01/2006", "02.01.2006", "2006-01-02", "01/02/2006", "20060102", "2 January 2006", "January 2, 2006"},
	"US":  {"01/02/2006", "2006-01-02", "02/01/2006", "02.01.2006", "20060102", "January 2, 2006", "2 January 2006"},
	"DE":  {"02.01.2006", "2006-01-02", "02/01/2006", "01/02/2006", "20060102", "2 January 2006", "January 2, 2006"},
}

// ParseDate tries a locale-biased sequence of layouts. An empty or
// whitespace-only input, or one matching no layout, returns nil rather
// than an error — malformed dates never abort normalization.
func ParseDate(raw string, locale string) *time.Time {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil
	}
	layouts, ok := dateLayoutsByLocale[locale]
	if !ok {
		layouts = dateLayoutsByLocale["ISO"]
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}

var (
	parenNegative  = regexp.MustCompile(`^\((.*)\)$`)
	currencySymbol = regexp.MustCompile(`[€$£¥]`)
	nonNumeric     = regexp.MustCompile(`[^0-9.,\-]`)
)

// ParseAmount handles US `1,234.56`, EU `1.234,56`, parenthesized
// negatives, currency symbols, and a leading minus sign. Result is
// rounded to 2 decimals, half-up. Empty input returns nil.
func ParseAmount(raw string) *float64 {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil
	}
	negative := false
	if m := parenNegative.FindStringSubmatch(s); m != nil {
		negative = true
		s = m[1]
	}
	s = currencySymbol.ReplaceAllString(s, "")
	s = strings.TrimSpace(s)
	s = nonNumeric.ReplaceAllString(s, "")

	lastComma := strings.LastIndex(s, ",")
	lastDot := strings.LastIndex(s, ".")
	switch {
	case lastComma > lastDot:
		// EU format: '.' thousands, ',' decimal.
		s = strings.ReplaceAll(s, ".", "")
		s = strings.ReplaceAll(s, ",", ".")
	default:
		// US format: ',' thousands, '.' decimal.
		s = strings.ReplaceAll(s, ",", "")
	}
	if strings.HasPrefix(s, "-") {
		negative = true
		s = strings.TrimPrefix(s, "-")
	}
	val, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	if negative {
		val = -val
	}
	rounded := roundHalfUp(val, 2)
	return &rounded
}

func roundHalfUp(v float64, places int) float64 {
	shift := 1.0
	for i := 0; i < places; i++ {
		shift *= 10
	}
	if v >= 0 {
		return float64(int64(v*shift+0.5)) / shift
	}
	return -float64(int64(-v*shift+0.5)) / shift
}

var currencySymbolAliases = map[string]string{
	"€": "EUR",
	"$": "USD",
	"£": "GBP",
	"¥": "JPY",
}

// NormalizeCurrency uppercases and maps known symbols; otherwise takes
// the first 3 alphabetic characters, uppercased.
func NormalizeCurrency(raw string) string {
	s := strings.TrimSpace(raw)
	if mapped, ok := currencySymbolAliases[s]; ok {
		return mapped
	}
	upper := strings.ToUpper(s)
	var letters strings.Builder
	for _, r := range upper {
		if r >= 'A' && r <= 'Z' {
			letters.WriteRune(r)
			if letters.Len() == 3 {
				break
			}
		}
	}
	return letters.String()
}

// CanonicalIDInput is the fixed-order tuple hashed to produce a
// canonical_id. Every field is trimmed and uppercased before joining.
type CanonicalIDInput struct {
	SourceTag    string
	EntityID     string // "GLOBAL" if not entity-scoped
	RecordType   string
	DocType      string
	DocNumber    string
	Counterparty string // truncated to 50 runes before hashing
	Currency     string
	Amount       float64
	DocDate      string
	DueDate      string
	LineID       string
}

// CanonicalID computes the idempotency hash: SHA-256 hex of the `|`
// joined, trimmed-and-uppercased tuple. Whitespace, case, and row order
// never change the result for equal logical inputs.
func CanonicalID(in CanonicalIDInput) string {
	counterparty := in.Counterparty
	if r := []rune(counterparty); len(r) > 50 {
		counterparty = string(r[:50])
	}
	fields := []string{
		in.SourceTag,
		orGlobal(in.EntityID),
		in.RecordType,
		in.DocType,
		in.DocNumber,
		counterparty,
		in.Currency,
		strconv.FormatFloat(roundHalfUp(in.Amount, 2), 'f', 2, 64),
		in.DocDate,
		in.DueDate,
		in.LineID,
	}
	for i, f := range fields {
		fields[i] = strings.ToUpper(strings.TrimSpace(f))
	}
	joined := strings.Join(fields, "|")
	sum := sha256.Sum256([]byte(joined))
	return hex.EncodeToString(sum[:])
}

func orGlobal(entityID string) string {
	if strings.TrimSpace(entityID) == "" {
		return "GLOBAL"
	}
	return entityID
}

// SchemaFingerprint hashes a sorted "name:type" concatenation,
// deterministic regardless of the column slice's original order.
func SchemaFingerprint(columns []Column) string {
	parts := make([]string, len(columns))
	for i, c := range columns {
		parts[i] = normalizeHeader(c.Name) + ":" + strings.ToLower(c.Type)
	}
	sortStrings(parts)
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}
