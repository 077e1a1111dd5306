package memprof

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/goccy/go-yaml"
	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/renderer"
	"github.com/olekukonko/tablewriter/tw"
	log "github.com/sirupsen/logrus"
)

// ErrWriteReport is returned when the final report cannot be persisted.
// The in-memory session is still complete when this happens.
var ErrWriteReport = errors.New("cannot write report")

// WriteJSON serializes the full session record as indented JSON.
func WriteJSON(w io.Writer, session *ProfileSession) error {
	out, err := json.MarshalIndent(session, "", "  ")
	if err != nil {
		return err
	}
	_, err = w.Write(append(out, '\n'))
	return err
}

// WriteYAML serializes the full session record as YAML.
func WriteYAML(w io.Writer, session *ProfileSession) error {
	out, err := yaml.Marshal(session)
	if err != nil {
		return err
	}
	_, err = w.Write(out)
	return err
}

// WriteReport persists the structured record to path, choosing YAML for
// .yaml/.yml extensions and JSON otherwise.
func WriteReport(path string, session *ProfileSession) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrWriteReport, err)
	}
	defer f.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = WriteYAML(f, session)
	default:
		err = WriteJSON(f, session)
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrWriteReport, err)
	}
	log.WithField("path", path).Info("report saved")
	return nil
}

// PrintLiveStats writes the live-mode stats block shown after each
// successful sample.
func PrintLiveStats(w io.Writer, stats MemorySnapshot) {
	fmt.Fprintln(w, "=== Live Memory Stats ===")
	fmt.Fprintf(w, "Current Usage: %d KB\n", stats.CurrentUsage/1024)
	fmt.Fprintf(w, "Peak Usage: %d KB\n", stats.PeakUsage/1024)
	fmt.Fprintf(w, "Total Allocated: %d KB\n", stats.TotalAllocated/1024)
	fmt.Fprintf(w, "Allocations: %d\n", stats.AllocationCount)
	fmt.Fprintf(w, "Active Allocations: %d\n", len(stats.ActiveAllocations))
	fmt.Fprintln(w, "========================")
}

// PrintSummary writes the human-readable report: session header, memory
// statistics, leak analysis and the largest active allocations.
func PrintSummary(w io.Writer, session *ProfileSession) {
	fmt.Fprintln(w, "\n=== MEMORY PROFILE REPORT ===")
	fmt.Fprintf(w, "Process: %s (PID: %d)\n", session.Command, session.PID)
	fmt.Fprintf(w, "Duration: %s\n", session.DurationText)
	fmt.Fprintf(w, "Profiling Period: %s to %s\n",
		session.StartTime.Format(time.RFC3339), session.EndTime.Format(time.RFC3339))
	fmt.Fprintf(w, "Stop Reason: %s\n", session.StopReason)
	if session.ExitStatus != nil {
		fmt.Fprintf(w, "Exit Code: %d\n", session.ExitStatus.Code)
	}
	fmt.Fprintln(w)

	printMemoryStatistics(w, session)
	printLeakAnalysis(w, session)
	printAllocationDetails(w, session)
}

func newReportTable(w io.Writer) *tablewriter.Table {
	return tablewriter.NewTable(w,
		tablewriter.WithRenderer(
			renderer.NewBlueprint(tw.Rendition{Symbols: tw.NewSymbols(tw.StyleASCII)})),
		tablewriter.WithHeaderAlignment(tw.AlignLeft),
		tablewriter.WithHeaderAutoFormat(tw.Off),
	)
}

func printMemoryStatistics(w io.Writer, session *ProfileSession) {
	stats := session.FinalSnapshot

	fmt.Fprintln(w, "=== MEMORY STATISTICS ===")
	table := newReportTable(w)
	table.Header([]string{"Metric", "Value", "Human Readable"})
	rows := [][]string{
		{"Total Allocated", fmt.Sprint(stats.TotalAllocated), formatBytes(stats.TotalAllocated)},
		{"Total Freed", fmt.Sprint(stats.TotalFreed), formatBytes(stats.TotalFreed)},
		{"Current Usage", fmt.Sprint(stats.CurrentUsage), formatBytes(stats.CurrentUsage)},
		{"Peak Usage", fmt.Sprint(stats.PeakUsage), formatBytes(stats.PeakUsage)},
		{"Allocations", fmt.Sprint(stats.AllocationCount), "-"},
		{"Frees", fmt.Sprint(stats.FreeCount), "-"},
		{"Active Allocations", fmt.Sprint(len(stats.ActiveAllocations)), "-"},
	}
	for _, row := range rows {
		if err := table.Append(row); err != nil {
			log.WithError(err).Error("appending statistics row")
		}
	}
	renderTable(table)
	fmt.Fprintln(w)
}

func printLeakAnalysis(w io.Writer, session *ProfileSession) {
	summary := session.LeakSummary

	fmt.Fprintln(w, "=== LEAK ANALYSIS ===")
	if summary.LeakCount == 0 {
		color.New(color.FgGreen).Fprintln(w, "No allocations still active at end of profiling.")
		fmt.Fprintln(w)
		return
	}

	color.New(color.FgYellow).Fprintf(w, "%d allocations still active at end of profiling\n", summary.LeakCount)
	fmt.Fprintf(w, "Total leaked: %s\n", formatBytes(summary.TotalLeakedBytes))
	fmt.Fprintf(w, "Number of leaks: %d\n", summary.LeakCount)
	if summary.LargestLeak != nil {
		fmt.Fprintf(w, "Largest leak: %s\n", formatBytes(*summary.LargestLeak))
	}

	fmt.Fprintln(w, "\nLeaks by size:")
	table := newReportTable(w)
	table.Header([]string{"Size", "Count", "Total"})
	for _, group := range summary.LeaksBySize {
		if err := table.Append([]string{
			formatBytes(group.Size),
			fmt.Sprint(group.Count),
			formatBytes(group.Size * group.Count),
		}); err != nil {
			log.WithError(err).Error("appending leak row")
		}
	}
	renderTable(table)
	fmt.Fprintln(w)
}

const maxDetailedAllocations = 10

func printAllocationDetails(w io.Writer, session *ProfileSession) {
	stats := session.FinalSnapshot
	if len(stats.ActiveAllocations) == 0 {
		return
	}

	entries := make([]AllocationEntry, 0, len(stats.ActiveAllocations))
	for addr, rec := range stats.ActiveAllocations {
		entries = append(entries, AllocationEntry{Address: addr, Record: rec})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Record.Size == entries[j].Record.Size {
			return entries[i].Address < entries[j].Address
		}
		return entries[i].Record.Size > entries[j].Record.Size
	})

	fmt.Fprintln(w, "=== ACTIVE ALLOCATIONS ===")
	table := newReportTable(w)
	table.Header([]string{"Address", "Size", "Age", "Thread"})
	for i, entry := range entries {
		if i == maxDetailedAllocations {
			break
		}
		age := session.EndTime.Sub(entry.Record.Timestamp).Round(time.Second)
		if err := table.Append([]string{
			fmt.Sprintf("0x%x", entry.Address),
			formatBytes(entry.Record.Size),
			age.String(),
			fmt.Sprint(entry.Record.ThreadID),
		}); err != nil {
			log.WithError(err).Error("appending allocation row")
		}
	}
	renderTable(table)

	if len(entries) > maxDetailedAllocations {
		fmt.Fprintf(w, "... and %d more allocations\n", len(entries)-maxDetailedAllocations)
	}
	fmt.Fprintln(w)
}

func renderTable(table *tablewriter.Table) {
	if err := table.Render(); err != nil {
		log.WithError(err).Error("rendering table")
	}
}

var byteUnits = []string{"B", "KB", "MB", "GB", "TB"}

func formatBytes(bytes uint64) string {
	size := float64(bytes)
	unit := 0
	for size >= 1024 && unit < len(byteUnits)-1 {
		size /= 1024
		unit++
	}
	if unit == 0 {
		return fmt.Sprintf("%d %s", bytes, byteUnits[unit])
	}
	return fmt.Sprintf("%.2f %s", size, byteUnits[unit])
}
