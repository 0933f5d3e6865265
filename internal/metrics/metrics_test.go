package metrics_test

import (
	"errors"
	"strings"
	"testing"
	"time"

	"codeberg.org/mutker/harvester/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterIsIdempotent(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	require.NoError(t, m.Register())
	require.NoError(t, m.Register())

	other := metrics.New(reg)
	assert.NoError(t, other.Register(), "already registered collectors are not an error")
}

func TestRecordDelivery(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	require.NoError(t, m.Register())

	m.RecordDelivery("jserrors", "xhr", metrics.OutcomeSent, 100, 20*time.Millisecond)
	m.RecordDelivery("jserrors", "xhr", metrics.OutcomeRetry, 50, 10*time.Millisecond)
	m.RecordDelivery("jserrors", "xhr", metrics.OutcomeSent, 0, time.Millisecond)

	expected := `
# HELP harvester_harvest_deliveries_total Collector submissions by endpoint, method and outcome
# TYPE harvester_harvest_deliveries_total counter
harvester_harvest_deliveries_total{endpoint="jserrors",method="xhr",outcome="retry"} 1
harvester_harvest_deliveries_total{endpoint="jserrors",method="xhr",outcome="sent"} 2
# HELP harvester_harvest_payload_bytes_total Bytes submitted to the collector
# TYPE harvester_harvest_payload_bytes_total counter
harvester_harvest_payload_bytes_total{endpoint="jserrors"} 150
`
	err := testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"harvester_harvest_deliveries_total", "harvester_harvest_payload_bytes_total")
	assert.NoError(t, err)
}

func TestBusObserverCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	require.NoError(t, m.Register())

	m.HandlerFault("click", errors.New("boom"))
	m.HandlerFault("click", errors.New("boom"))
	m.Dropped("api-addPageAction")
	m.RecordFact("err")

	count, err := testutil.GatherAndCount(reg, "harvester_bus_handler_faults_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	expected := `
# HELP harvester_bus_dropped_emits_total Emissions dropped after the event tree was aborted
# TYPE harvester_bus_dropped_emits_total counter
harvester_bus_dropped_emits_total{type="api-addPageAction"} 1
# HELP harvester_bus_handler_faults_total Handler errors and panics converted to internal-error events
# TYPE harvester_bus_handler_faults_total counter
harvester_bus_handler_faults_total{type="click"} 2
# HELP harvester_input_facts_total Facts accepted from producers
# TYPE harvester_input_facts_total counter
harvester_input_facts_total{type="err"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"harvester_bus_dropped_emits_total", "harvester_bus_handler_faults_total", "harvester_input_facts_total"))
}
