package archive

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"conductor/pkg/session"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "archive.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRecordAndRecent(t *testing.T) {
	s := openTestStore(t)

	for i, status := range []string{"ok", "ok", "error"} {
		require.NoError(t, s.Record(&Run{
			JobID:      "job-" + string(rune('a'+i)),
			SessionKey: "100-7",
			Mode:       session.ModeSingle,
			InputKind:  "text",
			Status:     status,
			LatencyMS:  int64(100 * (i + 1)),
			CreatedAt:  time.Now().UTC(),
		}))
	}

	runs, err := s.Recent("100-7", 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	// Most recent first.
	assert.Equal(t, "job-c", runs[0].JobID)
	assert.Equal(t, "error", runs[0].Status)
	assert.Equal(t, "job-b", runs[1].JobID)
}

func TestRecentOtherSessionEmpty(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.Record(&Run{
		JobID:      "job-1",
		SessionKey: "100-7",
		Mode:       session.ModePlan,
		Status:     "ok",
	}))

	runs, err := s.Recent("999-1", 10)
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestSummarize(t *testing.T) {
	s := openTestStore(t)

	seed := []Run{
		{JobID: "j1", SessionKey: "100-7", Mode: session.ModeSingle, Status: "ok", LatencyMS: 100},
		{JobID: "j2", SessionKey: "100-7", Mode: session.ModePlan, Status: "ok", LatencyMS: 300},
		{JobID: "j3", SessionKey: "100-7", Mode: session.ModePlan, Status: "error", LatencyMS: 200},
		{JobID: "j4", SessionKey: "200-8", Mode: session.ModeMulti, Status: "ok", LatencyMS: 400},
	}
	for i := range seed {
		require.NoError(t, s.Record(&seed[i]))
	}

	summary, err := s.Summarize("100-7")
	require.NoError(t, err)
	assert.Equal(t, 3, summary.TotalRuns)
	assert.Equal(t, 2, summary.SucceededRuns)
	assert.Equal(t, 1, summary.FailedRuns)
	assert.Equal(t, int64(200), summary.AvgLatencyMS)
	assert.Equal(t, map[session.Mode]int{
		session.ModeSingle: 1,
		session.ModePlan:   2,
	}, summary.ByMode)

	all, err := s.Summarize("")
	require.NoError(t, err)
	assert.Equal(t, 4, all.TotalRuns)
	assert.Equal(t, 1, all.ByMode[session.ModeMulti])
}

func TestSummarizeEmpty(t *testing.T) {
	s := openTestStore(t)

	summary, err := s.Summarize("100-7")
	require.NoError(t, err)
	assert.Equal(t, 0, summary.TotalRuns)
	assert.Equal(t, int64(0), summary.AvgLatencyMS)
	assert.Empty(t, summary.ByMode)
}
