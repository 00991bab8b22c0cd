// Package bankcsv implements a Connector over delimited bank statement
// exports, with delimiter and encoding auto-detection.
package bankcsv

import (
	"bufio"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/transform"

	"github.com/vaultline/cashops/internal/connector"
	"github.com/vaultline/cashops/internal/domain"
)

// Source reads a CSV bank statement from an in-memory byte source. The
// bytes are supplied wholesale (not streamed from disk) because
// delimiter/encoding sniffing requires looking at the first lines
// before a reader can be constructed.
type Source interface {
	Read(ctx context.Context) ([]byte, error)
}

// Connector is a bank_csv source.
type Connector struct {
	connectionID string
	source       Source
	locale       string // date-parsing locale hint, e.g. "EU"
}

// New returns a bank_csv Connector reading from src.
func New(connectionID string, src Source, locale string) *Connector {
	return &Connector{connectionID: connectionID, source: src, locale: locale}
}

func (c *Connector) Name() string                    { return "bank_csv" }
func (c *Connector) SourceType() connector.SourceType { return connector.SourceBankCSV }

func (c *Connector) Test(ctx context.Context) (*connector.TestResult, error) {
	start := time.Now()
	raw, err := c.source.Read(ctx)
	latency := time.Since(start).Milliseconds()
	if err != nil {
		return &connector.TestResult{Success: false, LatencyMs: latency, Message: err.Error()}, nil
	}
	if len(raw) == 0 {
		return &connector.TestResult{Success: false, LatencyMs: latency, Message: "empty source"}, nil
	}
	return &connector.TestResult{Success: true, LatencyMs: latency, Message: "ok"}, nil
}

func (c *Connector) GetSchema(ctx context.Context) (*connector.Schema, error) {
	raw, err := c.source.Read(ctx)
	if err != nil {
		return nil, &domain.InfrastructureError{Message: "read source", Cause: err}
	}
	decoded, delim := decodeAndSniff(raw)
	reader := csv.NewReader(strings.NewReader(decoded))
	reader.Comma = delim
	header, err := reader.Read()
	if err != nil {
		return nil, &domain.InputError{Field: "header", Message: "could not read CSV header"}
	}
	cols := make([]connector.Column, len(header))
	for i, h := range header {
		cols[i] = connector.Column{Name: strings.TrimSpace(h), Type: "string"}
	}
	return &connector.Schema{Columns: cols, Fingerprint: connector.SchemaFingerprint(cols)}, nil
}

// Extract streams one RawRecord per data row, via a worker goroutine
// feeding a bounded channel so callers can consume lazily.
func (c *Connector) Extract(ctx context.Context, since, until *time.Time, batchSize int) (<-chan *domain.RawRecord, <-chan error) {
	out := make(chan *domain.RawRecord, batchSize)
	errs := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errs)

		raw, err := c.source.Read(ctx)
		if err != nil {
			errs <- &domain.InfrastructureError{Message: "read source", Cause: err}
			return
		}
		decoded, delim := decodeAndSniff(raw)
		reader := csv.NewReader(strings.NewReader(decoded))
		reader.Comma = delim
		reader.FieldsPerRecord = -1

		header, err := reader.Read()
		if err != nil {
			errs <- &domain.InputError{Field: "header", Message: "could not read CSV header"}
			return
		}

		rowIdx := 0
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}
			row, err := reader.Read()
			if err == io.EOF {
				return
			}
			if err != nil {
				errs <- &domain.InputError{Field: "row", Message: err.Error()}
				continue
			}
			payload := make(map[string]interface{}, len(header))
			for i, h := range header {
				if i < len(row) {
					payload[strings.TrimSpace(h)] = row[i]
				}
			}
			raw := &domain.RawRecord{
				SourceTable: "bank_csv",
				SourceRowID: fmt.Sprintf("%d", rowIdx),
				RawHash:     hashPayload(payload),
				Payload:     payload,
			}
			select {
			case out <- raw:
			case <-ctx.Done():
				return
			}
			rowIdx++
		}
	}()

	return out, errs
}

func (c *Connector) Normalize(raw *domain.RawRecord) (*connector.NormalizedRecord, *connector.ParseError) {
	resolved := make(map[connector.CanonicalColumn]string)
	for header, v := range raw.Payload {
		if col, ok := connector.ResolveColumn(header); ok {
			if s, ok := v.(string); ok {
				resolved[col] = s
			}
		}
	}

	amountStr, ok := resolved[connector.ColAmount]
	if !ok {
		return nil, &connector.ParseError{Type: "missing_field", Message: "amount column not found"}
	}
	amount := connector.ParseAmount(amountStr)
	if amount == nil {
		return nil, &connector.ParseError{Type: "invalid_amount", Message: "could not parse amount: " + amountStr}
	}

	docDate := connector.ParseDate(resolved[connector.ColDocumentDate], c.locale)
	dueDate := connector.ParseDate(resolved[connector.ColDueDate], c.locale)

	currency := connector.NormalizeCurrency(resolved[connector.ColCurrency])
	counterparty := resolved[connector.ColCounterparty]

	docDateStr := ""
	if docDate != nil {
		docDateStr = docDate.Format("2006-01-02")
	}
	dueDateStr := ""
	if dueDate != nil {
		dueDateStr = dueDate.Format("2006-01-02")
	}

	canonicalID := connector.CanonicalID(connector.CanonicalIDInput{
		SourceTag:    "bank_csv",
		EntityID:     "",
		RecordType:   "BankTxn",
		DocType:      "",
		DocNumber:    resolved[connector.ColDocumentNumber],
		Counterparty: counterparty,
		Currency:     currency,
		Amount:       *amount,
		DocDate:      docDateStr,
		DueDate:      dueDateStr,
		LineID:       "",
	})

	recordDate := time.Now()
	if docDate != nil {
		recordDate = *docDate
	}

	return &connector.NormalizedRecord{
		RecordType:   "BankTxn",
		CanonicalID:  canonicalID,
		Amount:       *amount,
		Currency:     currency,
		RecordDate:   recordDate,
		DueDate:      dueDate,
		Counterparty: counterparty,
		ExternalID:   resolved[connector.ColExternalID],
		Payload:      raw.Payload,
	}, nil
}

// decodeAndSniff tries encodings in order utf-8, utf-8-sig, latin-1,
// cp1252, then detects the delimiter with the highest frequency among
// `,`, `;`, `\t` over the first 5 lines.
func decodeAndSniff(raw []byte) (string, rune) {
	decoded := decode(raw)
	lines := strings.SplitN(decoded, "\n", 6)
	if len(lines) > 5 {
		lines = lines[:5]
	}
	sample := strings.Join(lines, "\n")

	best := ','
	bestCount := -1
	for _, d := range []rune{',', ';', '\t'} {
		count := strings.Count(sample, string(d))
		if count > bestCount {
			bestCount = count
			best = d
		}
	}
	return decoded, best
}

// decode tries utf-8 (stripping a BOM if present, i.e. utf-8-sig), then
// falls back to latin-1 and cp1252 in that order.
func decode(raw []byte) string {
	raw = bytes.TrimPrefix(raw, []byte{0xEF, 0xBB, 0xBF})
	if utf8.Valid(raw) {
		return string(raw)
	}
	if s, err := decodeWith(charmap.ISO8859_1.NewDecoder(), raw); err == nil {
		return s
	}
	if s, err := decodeWith(charmap.Windows1252.NewDecoder(), raw); err == nil {
		return s
	}
	return string(raw)
}

func decodeWith(dec transformDecoder, raw []byte) (string, error) {
	r := transform.NewReader(bytes.NewReader(raw), dec)
	out, err := io.ReadAll(bufio.NewReader(r))
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// transformDecoder is the minimal interface both x/text decoders satisfy,
// named locally to avoid importing golang.org/x/text/transform twice.
type transformDecoder = transform.Transformer

func hashPayload(payload map[string]interface{}) string {
	keys := make([]string, 0, len(payload))
	for k := range payload {
		keys = append(keys, k)
	}
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && keys[j-1] > keys[j]; j-- {
			keys[j-1], keys[j] = keys[j], keys[j-1]
		}
	}
	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "%s=%v|", k, payload[k])
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}
