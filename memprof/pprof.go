package memprof

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/google/pprof/profile"
	log "github.com/sirupsen/logrus"
)

// LedgerProfile renders the active-allocation ledger as a heap-style pprof
// profile, one sample per distinct call stack. Only live allocations are
// known here, so the alloc_* values equal the inuse_* values. Records
// without a call stack collapse into a single "unknown" frame.
func LedgerProfile(snap MemorySnapshot) *profile.Profile {
	prof := &profile.Profile{
		DefaultSampleType: "inuse_space",
		SampleType: []*profile.ValueType{
			{Type: "alloc_objects", Unit: "count"},
			{Type: "alloc_space", Unit: "bytes"},
			{Type: "inuse_objects", Unit: "count"},
			{Type: "inuse_space", Unit: "bytes"},
		},
		PeriodType: &profile.ValueType{Type: "space", Unit: "bytes"},
		Period:     1,
	}

	type group struct {
		stack   []string
		objects int64
		bytes   int64
	}
	groups := make(map[string]*group)
	for _, rec := range snap.ActiveAllocations {
		stack := rec.CallStack
		if len(stack) == 0 {
			stack = []string{"unknown"}
		}
		key := strings.Join(stack, ";")
		g, ok := groups[key]
		if !ok {
			g = &group{stack: stack}
			groups[key] = g
		}
		g.objects++
		g.bytes += int64(rec.Size)
	}

	// Deterministic output regardless of map iteration.
	keys := make([]string, 0, len(groups))
	for key := range groups {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	functionIDs := make(map[string]*profile.Function)
	locationIDs := make(map[string]*profile.Location)
	for _, key := range keys {
		g := groups[key]
		var locations []*profile.Location
		for _, frame := range g.stack {
			loc, ok := locationIDs[frame]
			if !ok {
				fn, ok := functionIDs[frame]
				if !ok {
					fn = &profile.Function{
						ID:         uint64(len(functionIDs) + 1),
						Name:       frame,
						SystemName: frame,
					}
					functionIDs[frame] = fn
					prof.Function = append(prof.Function, fn)
				}
				loc = &profile.Location{
					ID:   uint64(len(locationIDs) + 1),
					Line: []profile.Line{{Function: fn, Line: 1}},
				}
				locationIDs[frame] = loc
				prof.Location = append(prof.Location, loc)
			}
			locations = append(locations, loc)
		}
		prof.Sample = append(prof.Sample, &profile.Sample{
			Location: locations,
			Value:    []int64{g.objects, g.bytes, g.objects, g.bytes},
		})
	}

	return prof
}

// WritePprof writes the ledger profile gzip-compressed to path.
func WritePprof(path string, snap MemorySnapshot) error {
	prof := LedgerProfile(snap)
	if err := prof.CheckValid(); err != nil {
		return fmt.Errorf("building ledger profile: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrWriteReport, err)
	}
	defer f.Close()
	if err := prof.Write(f); err != nil {
		return fmt.Errorf("%w: %v", ErrWriteReport, err)
	}
	log.WithField("path", path).Info("ledger profile saved")
	return nil
}
