package connector

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// S1 — CSV idempotency: the canonical ID is invariant to whitespace,
// case, and the order rows arrive in, so re-ingesting the same logical
// record never creates a duplicate.
func TestCanonicalID_InvariantToWhitespaceAndCase(t *testing.T) {
	a := CanonicalID(CanonicalIDInput{
		SourceTag: "bank_csv", EntityID: "ent-1", RecordType: "bank_transaction",
		DocNumber: "INV-1042", Counterparty: "Widgets Co", Currency: "EUR",
		Amount: 1000.50, DocDate: "2026-03-01", DueDate: "2026-03-10",
	})
	b := CanonicalID(CanonicalIDInput{
		SourceTag: "  BANK_CSV  ", EntityID: "ENT-1", RecordType: "Bank_Transaction",
		DocNumber: " inv-1042", Counterparty: "widgets co  ", Currency: "eur",
		Amount: 1000.50, DocDate: "2026-03-01", DueDate: "2026-03-10",
	})
	assert.Equal(t, a, b)
}

func TestCanonicalID_DifferentLogicalRecordsDiffer(t *testing.T) {
	base := CanonicalIDInput{
		SourceTag: "bank_csv", EntityID: "ent-1", RecordType: "bank_transaction",
		DocNumber: "INV-1042", Counterparty: "Widgets Co", Currency: "EUR",
		Amount: 1000, DocDate: "2026-03-01", DueDate: "2026-03-10",
	}
	other := base
	other.Amount = 1000.01

	assert.NotEqual(t, CanonicalID(base), CanonicalID(other))
}

func TestCanonicalID_MissingEntityDefaultsToGlobal(t *testing.T) {
	withEmpty := CanonicalID(CanonicalIDInput{SourceTag: "warehouse_sql", EntityID: "", RecordType: "invoice", DocNumber: "1"})
	withGlobal := CanonicalID(CanonicalIDInput{SourceTag: "warehouse_sql", EntityID: "global", RecordType: "invoice", DocNumber: "1"})
	assert.Equal(t, withEmpty, withGlobal)
}

func TestCanonicalID_CounterpartyTruncatedBeforeHashing(t *testing.T) {
	long := "A Very Long Counterparty Name That Keeps Going And Going Past Fifty Characters For Sure"
	short := long[:50]

	a := CanonicalID(CanonicalIDInput{SourceTag: "bank_csv", Counterparty: long})
	b := CanonicalID(CanonicalIDInput{SourceTag: "bank_csv", Counterparty: short})
	assert.Equal(t, a, b)
}

func TestCanonicalID_Is64CharHex(t *testing.T) {
	id := CanonicalID(CanonicalIDInput{SourceTag: "bank_csv", DocNumber: "1"})
	require.Len(t, id, 64)
	for _, r := range id {
		assert.True(t, (r >= '0' && r <= '9') || (r >= 'a' && r <= 'f'))
	}
}

func TestResolveColumn_MatchesAliasesCaseAndSeparatorInsensitively(t *testing.T) {
	col, ok := ResolveColumn("Doc-Number")
	require.True(t, ok)
	assert.Equal(t, ColDocumentNumber, col)

	col, ok = ResolveColumn("BELNR")
	require.True(t, ok)
	assert.Equal(t, ColDocumentNumber, col)

	_, ok = ResolveColumn("totally unknown header")
	assert.False(t, ok)
}

func TestParseDate_TriesLocaleLayoutsAndFailsSoft(t *testing.T) {
	got := ParseDate("2026-03-10", "ISO")
	require.NotNil(t, got)
	assert.Equal(t, 2026, got.Year())

	got = ParseDate("10.03.2026", "DE")
	require.NotNil(t, got)
	assert.Equal(t, 3, int(got.Month()))

	assert.Nil(t, ParseDate("not a date", "ISO"))
	assert.Nil(t, ParseDate("   ", "ISO"))
}

func TestParseAmount_HandlesUSAndEUFormatsAndNegatives(t *testing.T) {
	cases := map[string]float64{
		"1,234.56":  1234.56,
		"1.234,56":  1234.56,
		"(500.00)":  -500.00,
		"-75.25":    -75.25,
		"€1.000,00": 1000.00,
		"$42":       42.00,
	}
	for raw, want := range cases {
		got := ParseAmount(raw)
		require.NotNilf(t, got, "raw=%q", raw)
		assert.InDeltaf(t, want, *got, 0.001, "raw=%q", raw)
	}
	assert.Nil(t, ParseAmount(""))
	assert.Nil(t, ParseAmount("not a number"))
}

func TestNormalizeCurrency_MapsSymbolsAndTakesLetters(t *testing.T) {
	assert.Equal(t, "EUR", NormalizeCurrency("€"))
	assert.Equal(t, "USD", NormalizeCurrency("$"))
	assert.Equal(t, "GBP", NormalizeCurrency("gbp"))
	assert.Equal(t, "JPY", NormalizeCurrency(" jpy "))
}

func TestSchemaFingerprint_OrderIndependent(t *testing.T) {
	a := SchemaFingerprint([]Column{{Name: "Amount", Type: "decimal"}, {Name: "Currency", Type: "string"}})
	b := SchemaFingerprint([]Column{{Name: "currency", Type: "STRING"}, {Name: "amount", Type: "DECIMAL"}})
	assert.Equal(t, a, b)
}

func TestSchemaFingerprint_DifferentSchemaDiffers(t *testing.T) {
	a := SchemaFingerprint([]Column{{Name: "amount", Type: "decimal"}})
	b := SchemaFingerprint([]Column{{Name: "amount", Type: "decimal"}, {Name: "currency", Type: "string"}})
	assert.NotEqual(t, a, b)
}
