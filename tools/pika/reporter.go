package main

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
)

// reportProgress prints real-time progress every second.
func reportProgress(ctx context.Context, stats *Stats, watching bool) {
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	var lastSnapshot Snapshot
	startTime := time.Now()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snapshot := stats.GetSnapshot()
			elapsed := time.Since(startTime)

			if watching {
				framesSec := snapshot.Received - lastSnapshot.Received
				bytesSec := snapshot.ReceivedBytes - lastSnapshot.ReceivedBytes
				fmt.Printf("[%5.0fs] frames/sec: %6d | %9s/sec | total: %8d | decode errors: %4d\n",
					elapsed.Seconds(),
					framesSec,
					humanize.IBytes(bytesSec),
					snapshot.Received,
					snapshot.DecodeErrors,
				)
			} else {
				eventsSec := snapshot.Published - lastSnapshot.Published
				fmt.Printf("[%5.0fs] events/sec: %6d | total: %8d | throughput: %.1f events/sec\n",
					elapsed.Seconds(),
					eventsSec,
					snapshot.Published,
					float64(snapshot.Published)/elapsed.Seconds(),
				)
			}

			lastSnapshot = snapshot
		}
	}
}
