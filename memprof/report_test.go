package memprof

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func sampleSession(t *testing.T) *ProfileSession {
	t.Helper()
	start := time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)
	end := start.Add(42 * time.Second)
	snap := MemorySnapshot{
		TotalAllocated:  4 << 20,
		TotalFreed:      1 << 20,
		CurrentUsage:    3 << 20,
		PeakUsage:       4 << 20,
		AllocationCount: 5,
		FreeCount:       2,
		ActiveAllocations: map[uint64]AllocationRecord{
			0x1000: {Size: 1 << 20, Timestamp: start, ThreadID: 1, CallStack: []string{"alloc_buffer", "main"}},
			0x2000: {Size: 1 << 20, Timestamp: start, ThreadID: 1, CallStack: []string{"alloc_buffer", "main"}},
			0x3000: {Size: 1 << 20, Timestamp: start.Add(time.Second), ThreadID: 2},
		},
	}
	return &ProfileSession{
		PID:           1234,
		Command:       "leaky --fast",
		StartTime:     start,
		EndTime:       end,
		DurationNS:    int64(end.Sub(start)),
		DurationText:  end.Sub(start).String(),
		StopReason:    StopProcessEnded,
		ExitStatus:    &ExitStatus{Code: 0},
		FinalSnapshot: snap,
		LeakSummary:   AnalyzeLeaks(snap),
	}
}

func TestWriteJSONRoundTrip(t *testing.T) {
	session := sampleSession(t)

	var buf bytes.Buffer
	require.NoError(t, WriteJSON(&buf, session))

	var decoded ProfileSession
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	require.Equal(t, session.PID, decoded.PID)
	require.Equal(t, session.Command, decoded.Command)
	require.Equal(t, session.DurationNS, decoded.DurationNS)
	require.Equal(t, session.FinalSnapshot.PeakUsage, decoded.FinalSnapshot.PeakUsage)
	require.Equal(t, session.LeakSummary, decoded.LeakSummary)
	require.Len(t, decoded.FinalSnapshot.ActiveAllocations, 3)

	// The record must carry the reason and exit status symbolically.
	require.Contains(t, buf.String(), `"stop_reason": "process_ended"`)
	require.Contains(t, buf.String(), `"exit_status"`)
}

func TestWriteReportPicksFormatByExtension(t *testing.T) {
	dir := t.TempDir()
	session := sampleSession(t)

	jsonPath := filepath.Join(dir, "report.json")
	require.NoError(t, WriteReport(jsonPath, session))
	raw, err := os.ReadFile(jsonPath)
	require.NoError(t, err)
	require.True(t, json.Valid(raw))

	yamlPath := filepath.Join(dir, "report.yaml")
	require.NoError(t, WriteReport(yamlPath, session))
	raw, err = os.ReadFile(yamlPath)
	require.NoError(t, err)
	require.Contains(t, string(raw), "total_leaked_bytes:")
	require.Contains(t, string(raw), "stop_reason: process_ended")
}

func TestWriteReportFailure(t *testing.T) {
	session := sampleSession(t)
	err := WriteReport(filepath.Join(t.TempDir(), "missing", "report.json"), session)
	require.ErrorIs(t, err, ErrWriteReport)
}

func TestPrintSummary(t *testing.T) {
	var buf bytes.Buffer
	PrintSummary(&buf, sampleSession(t))
	out := buf.String()

	require.Contains(t, out, "MEMORY PROFILE REPORT")
	require.Contains(t, out, "leaky --fast")
	require.Contains(t, out, "MEMORY STATISTICS")
	require.Contains(t, out, "Total Allocated")
	require.Contains(t, out, "LEAK ANALYSIS")
	require.Contains(t, out, "Number of leaks: 3")
	require.Contains(t, out, "Largest leak: 1.00 MB")
	require.Contains(t, out, "ACTIVE ALLOCATIONS")
	require.Contains(t, out, "0x1000")
}

func TestPrintSummaryNoLeaks(t *testing.T) {
	session := sampleSession(t)
	session.FinalSnapshot.ActiveAllocations = map[uint64]AllocationRecord{}
	session.LeakSummary = AnalyzeLeaks(session.FinalSnapshot)
	session.LeakSummary.TotalLeakedBytes = 0

	var buf bytes.Buffer
	PrintSummary(&buf, session)
	out := buf.String()
	require.Contains(t, out, "No allocations still active")
	require.NotContains(t, out, "ACTIVE ALLOCATIONS")
}

func TestPrintLiveStats(t *testing.T) {
	var buf bytes.Buffer
	PrintLiveStats(&buf, MemorySnapshot{
		CurrentUsage:   2048,
		PeakUsage:      4096,
		TotalAllocated: 8192,
	})
	out := buf.String()
	require.Contains(t, out, "Current Usage: 2 KB")
	require.Contains(t, out, "Peak Usage: 4 KB")
	require.Contains(t, out, "Total Allocated: 8 KB")
}

func TestFormatBytes(t *testing.T) {
	cases := []struct {
		in   uint64
		want string
	}{
		{0, "0 B"},
		{512, "512 B"},
		{1024, "1.00 KB"},
		{1536, "1.50 KB"},
		{3 << 20, "3.00 MB"},
		{5 << 30, "5.00 GB"},
		{2 << 40, "2.00 TB"},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, formatBytes(tc.in), "formatBytes(%d)", tc.in)
	}
}

func TestStopReasonText(t *testing.T) {
	require.Equal(t, "process_ended", StopProcessEnded.String())
	require.Equal(t, "timeout_exceeded", StopTimeoutExceeded.String())
	require.Equal(t, "user_cancelled", StopUserCancelled.String())

	out, err := StopTimeoutExceeded.MarshalText()
	require.NoError(t, err)
	require.Equal(t, "timeout_exceeded", string(out))
	require.False(t, strings.Contains(string(out), " "))
}
