package connector

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vaultline/cashops/internal/domain"
)

type fakeConnector struct {
	name   string
	source SourceType
	fail   bool
}

func (f *fakeConnector) Name() string           { return f.name }
func (f *fakeConnector) SourceType() SourceType { return f.source }

func (f *fakeConnector) Test(ctx context.Context) (*TestResult, error) {
	if f.fail {
		return nil, assertErr
	}
	return &TestResult{Success: true}, nil
}

func (f *fakeConnector) GetSchema(ctx context.Context) (*Schema, error) {
	return &Schema{Columns: []Column{{Name: "amount", Type: "decimal"}}}, nil
}

func (f *fakeConnector) Extract(ctx context.Context, since, until *time.Time, batchSize int) (<-chan *domain.RawRecord, <-chan error) {
	out := make(chan *domain.RawRecord)
	errs := make(chan error)
	close(out)
	close(errs)
	return out, errs
}

func (f *fakeConnector) Normalize(raw *domain.RawRecord) (*NormalizedRecord, *ParseError) {
	return &NormalizedRecord{}, nil
}

var assertErr = errStub("connection refused")

type errStub string

func (e errStub) Error() string { return string(e) }

func TestRegistry_RegisterGetList(t *testing.T) {
	reg := NewRegistry()
	_, ok := reg.Get("conn-1")
	assert.False(t, ok)

	reg.Register("conn-1", &fakeConnector{name: "bank_csv", source: SourceBankCSV})
	c, ok := reg.Get("conn-1")
	require.True(t, ok)
	assert.Equal(t, "bank_csv", c.Name())
	assert.Equal(t, []string{"conn-1"}, reg.List())
}

func TestRegistry_TestAllRunsConcurrentlyAndCapturesErrors(t *testing.T) {
	reg := NewRegistry()
	reg.Register("ok", &fakeConnector{name: "ok", source: SourceBankCSV})
	reg.Register("broken", &fakeConnector{name: "broken", source: SourceWarehouseSQL, fail: true})

	results := reg.TestAll(context.Background())
	require.Len(t, results, 2)
	assert.True(t, results["ok"].Success)
	assert.False(t, results["broken"].Success)
	assert.Equal(t, "connection refused", results["broken"].Message)
}
