// Package erpexcel implements a Connector over ERP spreadsheet exports
// using the tealeg/xlsx reader.
package erpexcel

import (
	"context"
	"fmt"
	"time"

	"github.com/tealeg/xlsx/v2"

	"github.com/vaultline/cashops/internal/connector"
	"github.com/vaultline/cashops/internal/domain"
)

// sheetPreference is the order in which sheets are preferred when a
// workbook exposes more than one.
var sheetPreference = []string{"Data", "AR", "AP", "Invoices", "Bills"}

// Connector is an erp_excel source reading from a file path.
type Connector struct {
	path       string
	recordType string // "Invoice" or "VendorBill"
	locale     string
}

// New returns an erp_excel Connector for the workbook at path.
func New(path, recordType, locale string) *Connector {
	return &Connector{path: path, recordType: recordType, locale: locale}
}

func (c *Connector) Name() string                    { return "erp_excel" }
func (c *Connector) SourceType() connector.SourceType { return connector.SourceERPExcel }

func (c *Connector) Test(ctx context.Context) (*connector.TestResult, error) {
	start := time.Now()
	_, err := xlsx.OpenFile(c.path)
	latency := time.Since(start).Milliseconds()
	if err != nil {
		return &connector.TestResult{Success: false, LatencyMs: latency, Message: err.Error()}, nil
	}
	return &connector.TestResult{Success: true, LatencyMs: latency, Message: "ok"}, nil
}

func (c *Connector) chooseSheet(wb *xlsx.File) *xlsx.Sheet {
	for _, name := range sheetPreference {
		if sheet, ok := wb.Sheet[name]; ok {
			return sheet
		}
	}
	if len(wb.Sheets) > 0 {
		return wb.Sheets[0]
	}
	return nil
}

func (c *Connector) GetSchema(ctx context.Context) (*connector.Schema, error) {
	wb, err := xlsx.OpenFile(c.path)
	if err != nil {
		return nil, &domain.InfrastructureError{Message: "open workbook", Cause: err}
	}
	sheet := c.chooseSheet(wb)
	if sheet == nil || len(sheet.Rows) == 0 {
		return nil, &domain.InputError{Field: "sheet", Message: "workbook has no usable sheet"}
	}
	header := sheet.Rows[0]
	cols := make([]connector.Column, len(header.Cells))
	for i, cell := range header.Cells {
		cols[i] = connector.Column{Name: cell.String(), Type: "string"}
	}
	return &connector.Schema{Columns: cols, Fingerprint: connector.SchemaFingerprint(cols)}, nil
}

func (c *Connector) Extract(ctx context.Context, since, until *time.Time, batchSize int) (<-chan *domain.RawRecord, <-chan error) {
	out := make(chan *domain.RawRecord, batchSize)
	errs := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errs)

		wb, err := xlsx.OpenFile(c.path)
		if err != nil {
			errs <- &domain.InfrastructureError{Message: "open workbook", Cause: err}
			return
		}
		sheet := c.chooseSheet(wb)
		if sheet == nil || len(sheet.Rows) == 0 {
			errs <- &domain.InputError{Field: "sheet", Message: "workbook has no usable sheet"}
			return
		}
		header := sheet.Rows[0]
		headerNames := make([]string, len(header.Cells))
		for i, cell := range header.Cells {
			headerNames[i] = cell.String()
		}

		for rowIdx, row := range sheet.Rows[1:] {
			select {
			case <-ctx.Done():
				return
			default:
			}
			payload := make(map[string]interface{}, len(headerNames))
			for i, name := range headerNames {
				if i < len(row.Cells) {
					payload[name] = row.Cells[i].String()
				}
			}
			raw := &domain.RawRecord{
				SourceTable: c.recordType,
				SourceRowID: fmt.Sprintf("%d", rowIdx),
				RawHash:     hashPayload(payload),
				Payload:     payload,
			}
			select {
			case out <- raw:
			case <-ctx.Done():
				return
			}
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
	if counterparty == "" {
		if c.recordType == "Invoice" {
			counterparty = resolved[connector.ColCustomer]
		} else {
			counterparty = resolved[connector.ColVendor]
		}
	}

	docDateStr, dueDateStr := "", ""
	if docDate != nil {
		docDateStr = docDate.Format("2006-01-02")
	}
	if dueDate != nil {
		dueDateStr = dueDate.Format("2006-01-02")
	}

	canonicalID := connector.CanonicalID(connector.CanonicalIDInput{
		SourceTag:    "erp_excel",
		RecordType:   c.recordType,
		DocType:      resolved[connector.ColDocumentType],
		DocNumber:    resolved[connector.ColDocumentNumber],
		Counterparty: counterparty,
		Currency:     currency,
		Amount:       *amount,
		DocDate:      docDateStr,
		DueDate:      dueDateStr,
	})

	recordDate := time.Now()
	if docDate != nil {
		recordDate = *docDate
	}

	return &connector.NormalizedRecord{
		RecordType:   c.recordType,
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

func hashPayload(payload map[string]interface{}) string {
	return connector.SchemaFingerprint(columnsOf(payload))
}

func columnsOf(payload map[string]interface{}) []connector.Column {
	cols := make([]connector.Column, 0, len(payload))
	for k, v := range payload {
		cols = append(cols, connector.Column{Name: k, Type: fmt.Sprintf("%v", v)})
	}
	return cols
}
