// Command memprof samples a process's memory footprint, tracks totals and
// peaks across the run, and reports allocations still active when the
// session ends. It either attaches to a running PID or spawns the given
// command and profiles it to exit.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/peterbourgon/ff/v3"
	log "github.com/sirupsen/logrus"

	"github.com/davidaparicio/memprof/memprof"
)

func main() {
	fs := flag.NewFlagSet("memprof", flag.ExitOnError)
	var (
		pid      = fs.Int("pid", 0, "attach to existing process (conflicts with a command)")
		output   = fs.String("output", "memory_profile.json", "output report file (.json, .yaml)")
		interval = fs.Int("interval", 1, "sampling interval in seconds")
		duration = fs.Int("duration", 60, "maximum profiling duration in seconds")
		live     = fs.Bool("live", false, "show live memory statistics")
		pprofOut = fs.String("pprof", "", "also write active allocations as a pprof profile")
		verbose  = fs.Bool("verbose", false, "enable debug logging")
	)
	if err := ff.Parse(fs, os.Args[1:], ff.WithEnvVarPrefix("MEMPROF")); err != nil {
		log.Fatal(err)
	}
	if *verbose {
		log.SetLevel(log.DebugLevel)
	}

	command := fs.Args()
	if (*pid == 0) == (len(command) == 0) {
		fmt.Fprintln(os.Stderr, "Error: Must specify either -pid or a command to run")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := memprof.Config{
		PID:         int32(*pid),
		Command:     command,
		Interval:    time.Duration(*interval) * time.Second,
		MaxDuration: time.Duration(*duration) * time.Second,
	}
	if *live {
		cfg.OnSample = func(stats memprof.MemorySnapshot) {
			memprof.PrintLiveStats(os.Stdout, stats)
		}
	}

	session, err := memprof.Profile(ctx, cfg)
	if err != nil {
		log.Fatal(err)
	}

	memprof.PrintSummary(os.Stdout, session)

	if err := memprof.WriteReport(*output, session); err != nil {
		log.Fatal(err)
	}
	if *pprofOut != "" {
		if err := memprof.WritePprof(*pprofOut, session.FinalSnapshot); err != nil {
			log.Fatal(err)
		}
	}
}
