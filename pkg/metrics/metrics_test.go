package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestRecordInjectionIncrementsByResult(t *testing.T) {
	before := testutil.ToFloat64(InjectionsTotal.WithLabelValues("success"))
	RecordInjection(true, 0.01)
	require.Equal(t, before+1, testutil.ToFloat64(InjectionsTotal.WithLabelValues("success")))

	beforeErr := testutil.ToFloat64(InjectionsTotal.WithLabelValues("error"))
	RecordInjection(false, 0.02)
	require.Equal(t, beforeErr+1, testutil.ToFloat64(InjectionsTotal.WithLabelValues("error")))
}

func TestRecordFetchIncrementsByBackendAndResult(t *testing.T) {
	before := testutil.ToFloat64(FetchesTotal.WithLabelValues("op", "success"))
	RecordFetch("op", true, 0.05)
	require.Equal(t, before+1, testutil.ToFloat64(FetchesTotal.WithLabelValues("op", "success")))
}

func TestRecordRestartIncrements(t *testing.T) {
	before := testutil.ToFloat64(RestartsTotal)
	RecordRestart()
	require.Equal(t, before+1, testutil.ToFloat64(RestartsTotal))
}

func TestRecordChildExitIncrementsByOutcome(t *testing.T) {
	before := testutil.ToFloat64(ChildExitsTotal.WithLabelValues("signaled"))
	RecordChildExit("signaled")
	require.Equal(t, before+1, testutil.ToFloat64(ChildExitsTotal.WithLabelValues("signaled")))
}

func TestRecordPluginRequestIncrementsByEndpointAndResult(t *testing.T) {
	before := testutil.ToFloat64(PluginRequestsTotal.WithLabelValues("/VolumeDriver.Mount", "success"))
	RecordPluginRequest("/VolumeDriver.Mount", true)
	require.Equal(t, before+1, testutil.ToFloat64(PluginRequestsTotal.WithLabelValues("/VolumeDriver.Mount", "success")))
}
