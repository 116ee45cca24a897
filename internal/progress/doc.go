// Package progress carries transfer progress from the synchronization engine
// to whoever displays it.
//
// The engine publishes [Event] values to a [Sink]. Sinks must not block: the
// engine calls Publish from transfer goroutines and treats it as
// fire-and-forget. [ChannelSink] buffers events for a consumer goroutine and
// drops them when the buffer is full; [Reporter] aggregates them into
// human-readable console output.
//
// # Usage
//
//	reporter := progress.NewReporter(Options{
//	    TotalFiles: m.Len(),
//	    TotalSize:  m.TotalSize(),
//	    Output:     os.Stderr,
//	})
//
//	reporter.Start()
//	defer reporter.Stop()
//
//	opts.Progress = reporter
//
// # Output Format
//
//	[assetsync] Synchronizing: https://cdn.example.com/game
//	[assetsync] Total size: 41 GiB | Files: 1204 | Concurrency: 16
//	[assetsync] Progress: 45.2% | 18 GiB / 41 GiB | Speed: 120 MiB/s | ETA: 3m 12s
//	[assetsync] Files: 512 done | 0 failed | 16 in-progress | 676 pending
package progress
