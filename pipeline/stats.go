package pipeline

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/montanaflynn/stats"
)

// maxTimeStats bounds how many frame durations are kept for the benchmark
const maxTimeStats = 1024

// Benchmark summarizes how long frames took, in nanoseconds, and how many were lost.
type Benchmark struct {
	Slowest      float64
	Fastest      float64
	Average      float64
	P95          float64
	NumberOfRuns int
	Dropped      int
	Skipped      int
	FPS          float64
}

// frameStats is shared between the frame loop and readers of the benchmark.
type frameStats struct {
	mu      sync.Mutex
	clk     clock.Clock
	times   []float64
	runs    int
	dropped int
	skipped int

	windowStart time.Time
	windowCount int
	fps         float64
}

func newFrameStats(clk clock.Clock) *frameStats {
	return &frameStats{
		clk:         clk,
		times:       make([]float64, 0, maxTimeStats),
		windowStart: clk.Now(),
	}
}

// start counts a frame towards the current one second window and returns its start time.
func (s *frameStats) start() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clk.Now()
	s.windowCount++
	if elapsed := now.Sub(s.windowStart); elapsed >= time.Second {
		s.fps = float64(s.windowCount) / elapsed.Seconds()
		s.windowCount = 0
		s.windowStart = now
	}
	return now
}

func (s *frameStats) finish(started time.Time) {
	took := s.clk.Since(started)
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.times) == maxTimeStats {
		s.times = s.times[1:]
	}
	s.times = append(s.times, float64(took))
	s.runs++
}

func (s *frameStats) drop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dropped++
}

func (s *frameStats) skip() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.skipped++
}

func (s *frameStats) benchmark() Benchmark {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := Benchmark{
		NumberOfRuns: s.runs,
		Dropped:      s.dropped,
		Skipped:      s.skipped,
		FPS:          s.fps,
	}
	if len(s.times) == 0 {
		return out
	}
	data := stats.Float64Data(s.times)
	// errors only come back for empty input, ruled out above
	out.Slowest, _ = stats.Max(data)
	out.Fastest, _ = stats.Min(data)
	out.Average, _ = stats.Mean(data)
	out.P95, _ = stats.Percentile(data, 95)
	return out
}
