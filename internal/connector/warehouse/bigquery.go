package warehouse

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/iterator"

	conn "github.com/vaultline/cashops/internal/connector"
	"github.com/vaultline/cashops/internal/domain"
)

// BigQueryFields are the required config keys for a BigQuery-like
// warehouse connection: project_id, dataset.
type BigQueryFields struct {
	ProjectID string
	Dataset   string
}

// BigQueryConnector is a warehouse_sql Connector backed by the native
// BigQuery client, since BigQuery's row iterator does not implement
// database/sql and is kept as its own concrete variant rather than
// forced through the generic Connector above.
type BigQueryConnector struct {
	client *bigquery.Client
	fields BigQueryFields
	query  string
	locale string
}

// NewBigQueryConnector validates the required config fields and
// constructs a Connector bound to the given query.
func NewBigQueryConnector(ctx context.Context, f BigQueryFields, query, locale string) (*BigQueryConnector, error) {
	if f.ProjectID == "" || f.Dataset == "" {
		return nil, &domain.InputError{Field: "config", Message: fmt.Sprintf(
			"bigquery config requires project_id, dataset (got project_id=%q dataset=%q)", f.ProjectID, f.Dataset)}
	}
	client, err := bigquery.NewClient(ctx, f.ProjectID)
	if err != nil {
		return nil, &domain.InfrastructureError{Message: "open bigquery client", Cause: err}
	}
	return &BigQueryConnector{client: client, fields: f, query: query, locale: locale}, nil
}

func (c *BigQueryConnector) Name() string                    { return "warehouse_sql" }
func (c *BigQueryConnector) SourceType() conn.SourceType { return conn.SourceWarehouseSQL }

func (c *BigQueryConnector) Test(ctx context.Context) (*conn.TestResult, error) {
	start := time.Now()
	q := c.client.Query(fmt.Sprintf("SELECT 1 FROM `%s.%s.INFORMATION_SCHEMA.TABLES` LIMIT 1", c.fields.ProjectID, c.fields.Dataset))
	it, err := q.Read(ctx)
	latency := time.Since(start).Milliseconds()
	if err != nil {
		return &conn.TestResult{Success: false, LatencyMs: latency, Message: err.Error()}, nil
	}
	var row []bigquery.Value
	_ = it.Next(&row)
	return &conn.TestResult{Success: true, LatencyMs: latency, Message: "ok"}, nil
}

func (c *BigQueryConnector) GetSchema(ctx context.Context) (*conn.Schema, error) {
	q := c.client.Query(c.query)
	it, err := q.Read(ctx)
	if err != nil {
		return nil, &domain.InfrastructureError{Message: "query bigquery", Cause: err}
	}
	cols := make([]conn.Column, len(it.Schema))
	for i, f := range it.Schema {
		cols[i] = conn.Column{Name: f.Name, Type: string(f.Type)}
	}
	return &conn.Schema{Columns: cols, Fingerprint: conn.SchemaFingerprint(cols)}, nil
}

func (c *BigQueryConnector) Extract(ctx context.Context, since, until *time.Time, batchSize int) (<-chan *domain.RawRecord, <-chan error) {
	out := make(chan *domain.RawRecord, batchSize)
	errs := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errs)

		q := c.client.Query(c.query)
		it, err := q.Read(ctx)
		if err != nil {
			errs <- &domain.InfrastructureError{Message: "query bigquery", Cause: err}
			return
		}

		rowIdx := 0
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}
			var values []bigquery.Value
			err := it.Next(&values)
			if err == iterator.Done {
				return
			}
			if err != nil {
				errs <- &domain.InputError{Field: "row", Message: err.Error()}
				continue
			}
			payload := make(map[string]interface{}, len(it.Schema))
			for i, f := range it.Schema {
				if i < len(values) {
					payload[f.Name] = fmt.Sprintf("%v", values[i])
				}
			}
			raw := &domain.RawRecord{
				SourceTable: "bigquery",
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
	}()

	return out, errs
}

func (c *BigQueryConnector) Normalize(raw *domain.RawRecord) (*conn.NormalizedRecord, *conn.ParseError) {
	// Delegate to the generic warehouse normalization rules: the payload
	// shape is identical regardless of which warehouse produced it.
	generic := &Connector{cfg: Config{WarehouseType: "bigquery"}, locale: c.locale}
	return generic.Normalize(raw)
}
