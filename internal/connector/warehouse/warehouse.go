// Package warehouse implements a warehouse_sql Connector over a generic
// database/sql.Rows source, with Snowflake and BigQuery concrete wirings
// in snowflake.go and bigquery.go.
package warehouse

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/vaultline/cashops/internal/connector"
	"github.com/vaultline/cashops/internal/domain"
)

// Config carries the warehouse-specific fields each backend requires:
// Snowflake-like sources need {account, warehouse, database, schema};
// BigQuery-like sources need {project_id, dataset}. Both sets are
// carried as an opaque pass-through; only WarehouseType and Query are
// interpreted by this package.
type Config struct {
	WarehouseType string // "snowflake" | "bigquery"
	Query         string
	Fields        map[string]string
}

// Connector is a warehouse_sql source over an already-open *sql.DB,
// constructed by the snowflake/bigquery wirings below.
type Connector struct {
	db     *sql.DB
	cfg    Config
	locale string
}

// New wraps an open database handle for extraction.
func New(db *sql.DB, cfg Config, locale string) *Connector {
	return &Connector{db: db, cfg: cfg, locale: locale}
}

func (c *Connector) Name() string                    { return "warehouse_sql" }
func (c *Connector) SourceType() connector.SourceType { return connector.SourceWarehouseSQL }

func (c *Connector) Test(ctx context.Context) (*connector.TestResult, error) {
	start := time.Now()
	err := c.db.PingContext(ctx)
	latency := time.Since(start).Milliseconds()
	if err != nil {
		return &connector.TestResult{Success: false, LatencyMs: latency, Message: err.Error()}, nil
	}
	return &connector.TestResult{Success: true, LatencyMs: latency, Message: "ok"}, nil
}

func (c *Connector) GetSchema(ctx context.Context) (*connector.Schema, error) {
	rows, err := c.db.QueryContext(ctx, c.cfg.Query)
	if err != nil {
		return nil, &domain.InfrastructureError{Message: "query warehouse", Cause: err}
	}
	defer rows.Close()
	types, err := rows.ColumnTypes()
	if err != nil {
		return nil, &domain.InfrastructureError{Message: "inspect columns", Cause: err}
	}
	cols := make([]connector.Column, len(types))
	for i, t := range types {
		cols[i] = connector.Column{Name: t.Name(), Type: t.DatabaseTypeName()}
	}
	return &connector.Schema{Columns: cols, Fingerprint: connector.SchemaFingerprint(cols)}, nil
}

func (c *Connector) Extract(ctx context.Context, since, until *time.Time, batchSize int) (<-chan *domain.RawRecord, <-chan error) {
	out := make(chan *domain.RawRecord, batchSize)
	errs := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errs)

		rows, err := c.db.QueryContext(ctx, c.cfg.Query)
		if err != nil {
			errs <- &domain.InfrastructureError{Message: "query warehouse", Cause: err}
			return
		}
		defer rows.Close()

		cols, err := rows.Columns()
		if err != nil {
			errs <- &domain.InfrastructureError{Message: "inspect columns", Cause: err}
			return
		}

		rowIdx := 0
		for rows.Next() {
			select {
			case <-ctx.Done():
				return
			default:
			}
			values := make([]interface{}, len(cols))
			ptrs := make([]interface{}, len(cols))
			for i := range values {
				ptrs[i] = &values[i]
			}
			if err := rows.Scan(ptrs...); err != nil {
				errs <- &domain.InputError{Field: "row", Message: err.Error()}
				continue
			}
			payload := make(map[string]interface{}, len(cols))
			for i, name := range cols {
				payload[name] = fmt.Sprintf("%v", values[i])
			}
			raw := &domain.RawRecord{
				SourceTable: c.cfg.WarehouseType,
				SourceRowID: fmt.Sprintf("%d", rowIdx),
				Payload:     payload,
			}
			select {
			case out <- raw:
			case <-ctx.Done():
				return
			}
			rowIdx++
		}
		if err := rows.Err(); err != nil {
			errs <- &domain.InfrastructureError{Message: "iterate rows", Cause: err}
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

	docDateStr, dueDateStr := "", ""
	if docDate != nil {
		docDateStr = docDate.Format("2006-01-02")
	}
	if dueDate != nil {
		dueDateStr = dueDate.Format("2006-01-02")
	}

	canonicalID := connector.CanonicalID(connector.CanonicalIDInput{
		SourceTag:    c.cfg.WarehouseType,
		RecordType:   "BankTxn",
		DocNumber:    resolved[connector.ColDocumentNumber],
		Counterparty: resolved[connector.ColCounterparty],
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
		RecordType:   "BankTxn",
		CanonicalID:  canonicalID,
		Amount:       *amount,
		Currency:     currency,
		RecordDate:   recordDate,
		DueDate:      dueDate,
		Counterparty: resolved[connector.ColCounterparty],
		ExternalID:   resolved[connector.ColExternalID],
		Payload:      raw.Payload,
	}, nil
}
