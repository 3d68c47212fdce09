package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"garminsync/internal/auth"
	"garminsync/internal/config"
	"garminsync/internal/ledger"
	"garminsync/internal/metrics"
	"garminsync/internal/platform"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubCreds struct {
	err   error
	sides []string
}

func (s *stubCreds) Acquire(ctx context.Context, side string, region config.Region) (*auth.Session, error) {
	s.sides = append(s.sides, side)
	if s.err != nil {
		return nil, s.err
	}
	return &auth.Session{Side: side, CookieHeader: "SESSIONID=test"}, nil
}

type fakeSide struct {
	entries      []map[string]any
	payloads     map[string][]byte
	uploadStatus map[string]platform.UploadStatus
	minPage      int
	consentCalls int
	downloads    []string
	uploads      []string
}

func (f *fakeSide) ListActivities(ctx context.Context, minPageSize int) ([]map[string]any, error) {
	f.minPage = minPageSize
	return f.entries, nil
}

func (f *fakeSide) DownloadActivity(ctx context.Context, id string) ([]byte, error) {
	f.downloads = append(f.downloads, id)
	payload, ok := f.payloads[id]
	if !ok {
		return nil, &platform.FetchError{Op: "download", Err: fmt.Errorf("no payload for %s", id)}
	}
	return payload, nil
}

func (f *fakeSide) UploadActivity(ctx context.Context, id string, payload []byte) (platform.UploadStatus, error) {
	f.uploads = append(f.uploads, id)
	if status, ok := f.uploadStatus[id]; ok {
		return status, nil
	}
	return platform.StatusUploaded, nil
}

func (f *fakeSide) Consent(ctx context.Context) error {
	f.consentCalls++
	return nil
}

func testConfig(t *testing.T, mode string) *config.Config {
	t.Helper()
	return &config.Config{
		Origin: config.Region{
			BaseURL: "https://origin.test",
			IDField: "activityId",
			Endpoints: config.Endpoints{
				ListActivities:   "/activities",
				DownloadActivity: "/activities/{id}/export",
			},
		},
		Destination: config.Region{
			BaseURL: "https://dest.test",
			Endpoints: config.Endpoints{
				UploadActivity: "/upload",
				UploadConsent:  "/consent",
			},
		},
		Sync: config.Sync{
			Mode:      mode,
			Limit:     3,
			StatePath: filepath.Join(t.TempDir(), "uploaded.json"),
			FileExt:   ".fit",
		},
		LogLevel: "info",
	}
}

func newTestSyncer(t *testing.T, cfg *config.Config, origin, dest *fakeSide) (*Syncer, *stubCreds) {
	t.Helper()
	store, err := ledger.Open(cfg.Sync.StatePath, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	creds := &stubCreds{}
	return &Syncer{
		cfg:     cfg,
		logger:  zap.NewNop(),
		ledger:  store,
		metrics: metrics.New(),
		creds:   creds,
		newClient: func(region config.Region, sess *auth.Session) platform.Client {
			if region.BaseURL == cfg.Origin.BaseURL {
				return origin
			}
			return dest
		},
		runID: "test-run",
	}, creds
}

func threeActivities() []map[string]any {
	return []map[string]any{
		{"activityId": float64(1), "startTimeGmt": "2026-01-01 08:00:00"},
		{"activityId": float64(3), "startTimeGmt": "2026-01-03 08:00:00"},
		{"activityId": float64(2), "startTimeGmt": "2026-01-02 08:00:00"},
	}
}

func TestRunFullMode(t *testing.T) {
	origin := &fakeSide{
		entries: threeActivities(),
		payloads: map[string][]byte{
			"1": []byte("fit-1"),
			"3": []byte("fit-3"),
		},
	}
	dest := &fakeSide{}

	cfg := testConfig(t, config.ModeFull)
	s, creds := newTestSyncer(t, cfg, origin, dest)
	require.NoError(t, s.ledger.Record(ledger.Entry{ActivityID: "2"}))

	summary, err := s.Run(context.Background())
	require.NoError(t, err)

	require.Equal(t, 3, summary.Considered)
	require.Equal(t, 1, summary.SkippedDuplicate)
	require.Equal(t, 2, summary.Downloaded)
	require.Equal(t, 2, summary.Uploaded)
	require.Empty(t, summary.Failed)

	require.Equal(t, []string{auth.SideOrigin, auth.SideDestination}, creds.sides)
	require.Equal(t, 3, origin.minPage)
	require.Equal(t, []string{"3", "1"}, origin.downloads)
	require.Equal(t, []string{"3", "1"}, dest.uploads)
	require.Equal(t, 1, dest.consentCalls)

	n, err := s.ledger.Len()
	require.NoError(t, err)
	require.Equal(t, 3, n)
}

func TestRunAuthFailureAborts(t *testing.T) {
	cfg := testConfig(t, config.ModeFull)
	s, creds := newTestSyncer(t, cfg, &fakeSide{}, &fakeSide{})
	creds.err = &auth.Error{Side: auth.SideOrigin, Err: errors.New("cookie looks expired")}

	summary, err := s.Run(context.Background())
	var authErr *auth.Error
	require.ErrorAs(t, err, &authErr)
	require.Zero(t, summary.Considered)
}

func TestRunDownloadOnly(t *testing.T) {
	origin := &fakeSide{
		entries: threeActivities(),
		payloads: map[string][]byte{
			"1": []byte("fit-1"),
			"2": []byte("fit-2"),
			"3": []byte("fit-3"),
		},
	}

	cfg := testConfig(t, config.ModeDownloadOnly)
	cfg.Sync.DownloadDir = filepath.Join(t.TempDir(), "downloads")
	s, creds := newTestSyncer(t, cfg, origin, nil)

	summary, err := s.Run(context.Background())
	require.NoError(t, err)

	require.Equal(t, []string{auth.SideOrigin}, creds.sides)
	require.Equal(t, 3, summary.Downloaded)
	require.Zero(t, summary.Uploaded)

	for _, id := range []string{"1", "2", "3"} {
		_, err := os.Stat(filepath.Join(cfg.Sync.DownloadDir, "activity_"+id+".fit"))
		require.NoError(t, err)
	}

	n, err := s.ledger.Len()
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestRunUploadOnly(t *testing.T) {
	dest := &fakeSide{}

	cfg := testConfig(t, config.ModeUploadOnly)
	cfg.Sync.UploadDir = t.TempDir()
	for _, name := range []string{"activity_5.fit", "activity_6.fit"} {
		require.NoError(t, os.WriteFile(filepath.Join(cfg.Sync.UploadDir, name), []byte("fit"), 0o644))
	}

	s, creds := newTestSyncer(t, cfg, nil, dest)

	summary, err := s.Run(context.Background())
	require.NoError(t, err)

	require.Equal(t, []string{auth.SideDestination}, creds.sides)
	require.Equal(t, 2, summary.Considered)
	require.Zero(t, summary.Downloaded)
	require.Equal(t, 2, summary.Uploaded)
	require.Equal(t, []string{"5", "6"}, dest.uploads)

	n, err := s.ledger.Len()
	require.NoError(t, err)
	require.Equal(t, 2, n)
}

func TestRunRecordFailuresDoNotAbort(t *testing.T) {
	origin := &fakeSide{
		entries: []map[string]any{
			{"activityId": float64(1), "startTimeGmt": "2026-01-01 08:00:00"},
			{"activityId": float64(2), "startTimeGmt": "2026-01-02 08:00:00"},
		},
		payloads: map[string][]byte{"2": []byte("fit-2")},
	}
	dest := &fakeSide{}

	cfg := testConfig(t, config.ModeFull)
	s, _ := newTestSyncer(t, cfg, origin, dest)

	summary, err := s.Run(context.Background())
	require.NoError(t, err)

	require.Equal(t, 2, summary.Considered)
	require.Equal(t, 1, summary.Uploaded)
	require.Len(t, summary.Failed, 1)
	require.Equal(t, "1", summary.Failed[0].ActivityID)
	require.Equal(t, "fetch", summary.Failed[0].Stage)
	require.Equal(t, []string{"2"}, dest.uploads)
}

func TestRunDryRun(t *testing.T) {
	origin := &fakeSide{
		entries: threeActivities(),
		payloads: map[string][]byte{
			"1": []byte("fit-1"),
			"2": []byte("fit-2"),
			"3": []byte("fit-3"),
		},
	}
	dest := &fakeSide{}

	cfg := testConfig(t, config.ModeFull)
	cfg.Sync.DryRun = true
	cfg.Sync.DownloadDir = filepath.Join(t.TempDir(), "downloads")
	s, _ := newTestSyncer(t, cfg, origin, dest)

	summary, err := s.Run(context.Background())
	require.NoError(t, err)

	require.Equal(t, 3, summary.Downloaded)
	require.Zero(t, summary.Uploaded)
	require.Empty(t, dest.uploads)
	require.Zero(t, dest.consentCalls)

	// Downloads still land on disk, only the upload side is suppressed
	_, err = os.Stat(filepath.Join(cfg.Sync.DownloadDir, "activity_3.fit"))
	require.NoError(t, err)

	n, err := s.ledger.Len()
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestRunTwiceIsIdempotent(t *testing.T) {
	payloads := map[string][]byte{
		"1": []byte("fit-1"),
		"2": []byte("fit-2"),
		"3": []byte("fit-3"),
	}
	cfg := testConfig(t, config.ModeFull)

	origin := &fakeSide{entries: threeActivities(), payloads: payloads}
	dest := &fakeSide{}
	s, _ := newTestSyncer(t, cfg, origin, dest)

	first, err := s.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 3, first.Uploaded)

	second, err := s.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 3, second.Considered)
	require.Equal(t, 3, second.SkippedDuplicate)
	require.Zero(t, second.Uploaded)
	require.Zero(t, second.Downloaded)

	n, err := s.ledger.Len()
	require.NoError(t, err)
	require.Equal(t, 3, n)
}

func TestRunContextCancelled(t *testing.T) {
	origin := &fakeSide{entries: threeActivities()}
	dest := &fakeSide{}

	cfg := testConfig(t, config.ModeFull)
	s, _ := newTestSyncer(t, cfg, origin, dest)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	summary, err := s.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.Zero(t, summary.Considered)
}

func TestSummaryFormat(t *testing.T) {
	s := Summary{
		Considered:       3,
		SkippedDuplicate: 1,
		Downloaded:       2,
		Uploaded:         1,
		Failed:           []Failure{{ActivityID: "9", Stage: "upload", Reason: "status 500"}},
	}

	out := s.Format()
	require.Contains(t, out, "considered:         3")
	require.Contains(t, out, "skipped duplicates: 1")
	require.Contains(t, out, "failed:             1")
	require.Contains(t, out, "9 (upload): status 500")
}
