package metrics

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/shopcsv/internal/ingest"
	"github.com/JonMunkholm/shopcsv/internal/shop"
)

func TestImports_ObserveOutcomes(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewImports(reg)

	m.ObserveProducts(&ingest.ProductResult{
		Products:  []*shop.Product{{}, {}, {}},
		Skipped:   1,
		BytesRead: 120,
		Duration:  20 * time.Millisecond,
	}, nil)
	m.ObserveOrders(&ingest.OrderResult{Created: 2, BytesRead: 80}, ingest.ErrUserNotFound)
	m.ObserveOrders(nil, ingest.ErrTooManyUploads)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues(KindProducts, OutcomeOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues(KindOrders, "REF001")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues(KindOrders, "UPL002")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.records.WithLabelValues(KindProducts)))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.records.WithLabelValues(KindOrders)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.skipped.WithLabelValues(KindProducts)))
	assert.Equal(t, 200.0, testutil.ToFloat64(m.bytes.WithLabelValues(KindProducts))+testutil.ToFloat64(m.bytes.WithLabelValues(KindOrders)))

	n, err := testutil.GatherAndCount(reg, "shopcsv_import_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestRegisterLimiter(t *testing.T) {
	reg := prometheus.NewRegistry()
	l := ingest.NewLimiter(3, time.Second)
	RegisterLimiter(reg, l)

	require.NoError(t, l.Acquire(context.Background()))
	defer l.Release()

	expected := `
# HELP shopcsv_import_slots_active Imports currently holding a limiter slot.
# TYPE shopcsv_import_slots_active gauge
shopcsv_import_slots_active 1
# HELP shopcsv_import_slots_available Free import limiter slots.
# TYPE shopcsv_import_slots_available gauge
shopcsv_import_slots_available 2
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"shopcsv_import_slots_active", "shopcsv_import_slots_available"))
}
