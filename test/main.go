// A deliberately leaky target program for exercising memprof in spawn
// mode: it allocates blocks on a steady cadence, frees only every other
// one, and touches every retained page so the leak shows up in RSS.
package main

import (
	"flag"
	"fmt"
	"time"
)

func main() {
	blockKB := flag.Int("block", 256, "allocation block size in KB")
	period := flag.Duration("period", 100*time.Millisecond, "time between allocations")
	runFor := flag.Duration("for", 10*time.Second, "how long to keep allocating")
	flag.Parse()

	fmt.Printf("leaking %d KB every %v for %v\n", *blockKB, *period, *runFor)

	var retained [][]byte
	deadline := time.Now().Add(*runFor)
	for i := 0; time.Now().Before(deadline); i++ {
		block := make([]byte, *blockKB*1024)
		for k := 0; k < len(block); k += 4096 {
			block[k] = byte(k)
		}
		// Every other block is dropped so the profile shows churn, not
		// just growth.
		if i%2 == 0 {
			retained = append(retained, block)
		}
		time.Sleep(*period)
	}

	fmt.Printf("exiting with %d retained blocks\n", len(retained))
}
