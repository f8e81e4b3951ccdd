package engine

import (
	"runtime/metrics"
	"time"

	"go.uber.org/zap"
)

const (
	allocsMetric = "/gc/heap/allocs:bytes"
	liveMetric   = "/memory/classes/heap/objects:bytes"
)

// watchdog samples heap usage while an isolate runs script and interrupts
// the run when a memory cap is exceeded.
type watchdog struct {
	done chan struct{}
	quit chan struct{}
}

func startWatchdog(iso *Isolate, limits ResourceLimits) *watchdog {
	interval := limits.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	wd := &watchdog{
		done: make(chan struct{}),
		quit: make(chan struct{}),
	}

	samples := []metrics.Sample{{Name: allocsMetric}, {Name: liveMetric}}
	metrics.Read(samples)
	lastAllocs := samples[0].Value.Uint64()
	baseLive := samples[1].Value.Uint64()

	go func() {
		defer close(wd.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-wd.quit:
				return
			case <-ticker.C:
			}

			metrics.Read(samples)
			allocs, live := samples[0].Value.Uint64(), samples[1].Value.Uint64()
			young := allocs - lastAllocs
			lastAllocs = allocs

			var grown uint64
			if live > baseLive {
				grown = live - baseLive
			}
			if (limits.MaxYoungSpaceSize > 0 && young > limits.MaxYoungSpaceSize) ||
				(limits.MaxOldSpaceSize > 0 && grown > limits.MaxOldSpaceSize) {
				iso.oom.Store(true)
				iso.metrics.RecordFault("oom")
				iso.logger.Warn("memory limit exceeded",
					zap.Uint64("young_bytes", young),
					zap.Uint64("old_growth_bytes", grown))
				iso.interruptAll(ErrOutOfMemory)
				return
			}
		}
	}()
	return wd
}

func (wd *watchdog) stop() {
	close(wd.quit)
	<-wd.done
}
