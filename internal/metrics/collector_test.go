package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestNewIsSafeToRepeat(t *testing.T) {
	require.NotPanics(t, func() {
		_ = New()
		_ = New()
	})
}

func TestRecordCounters(t *testing.T) {
	c := New()
	c.IncUploaded()
	c.IncUploaded()
	c.IncDuplicate()
	c.IncSkipped()
	c.IncFailed()

	require.Equal(t, float64(2), testutil.ToFloat64(c.recordsTotal.WithLabelValues("uploaded")))
	require.Equal(t, float64(1), testutil.ToFloat64(c.recordsTotal.WithLabelValues("duplicate")))
	require.Equal(t, float64(1), testutil.ToFloat64(c.recordsTotal.WithLabelValues("skipped")))
	require.Equal(t, float64(1), testutil.ToFloat64(c.recordsTotal.WithLabelValues("failed")))
}

func TestDownloadCounters(t *testing.T) {
	c := New()
	c.IncDownloaded()
	c.AddBytes(2048)
	c.AddBytes(1024)

	require.Equal(t, float64(1), testutil.ToFloat64(c.downloadsTotal))
	require.Equal(t, float64(3072), testutil.ToFloat64(c.bytesTotal))
}

func TestMirrorFailureCounter(t *testing.T) {
	c := New()
	c.IncMirrorFailed()
	c.IncMirrorFailed()

	require.Equal(t, float64(2), testutil.ToFloat64(c.mirrorFailures))
}

func TestLedgerGauge(t *testing.T) {
	c := New()
	c.SetLedgerEntries(42)
	require.Equal(t, float64(42), testutil.ToFloat64(c.ledgerEntries))

	c.SetLedgerEntries(40)
	require.Equal(t, float64(40), testutil.ToFloat64(c.ledgerEntries))
}

func TestObserveDuration(t *testing.T) {
	c := New()
	require.NotPanics(t, func() {
		c.ObserveDuration(150 * time.Millisecond)
	})
}
