package main

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrEthical07/authsdk"
)

type recorder struct {
	mu        sync.Mutex
	latencies []time.Duration
	failures  int64
	refused   int64
	started   time.Time
}

func newRecorder() *recorder {
	return &recorder{started: time.Now()}
}

// time runs op and records its latency. Non-OK statuses count as refused;
// only errors count as failures.
func (r *recorder) time(op func() (authsdk.SignInUpResult, error)) (authsdk.SignInUpResult, error) {
	t0 := time.Now()
	res, err := op()
	d := time.Since(t0)
	switch {
	case err != nil:
		atomic.AddInt64(&r.failures, 1)
	case res.Status != authsdk.StatusOK:
		atomic.AddInt64(&r.refused, 1)
	}
	r.mu.Lock()
	r.latencies = append(r.latencies, d)
	r.mu.Unlock()
	return res, err
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	refused  int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func (r *recorder) stats() phaseStats {
	r.mu.Lock()
	samples := append([]time.Duration(nil), r.latencies...)
	r.mu.Unlock()

	total := time.Since(r.started)
	out := phaseStats{
		total:    total,
		failures: atomic.LoadInt64(&r.failures),
		refused:  atomic.LoadInt64(&r.refused),
	}
	if len(samples) == 0 {
		return out
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	out.ops = len(samples)
	out.p50 = percentile(samples, 50)
	out.p95 = percentile(samples, 95)
	out.p99 = percentile(samples, 99)
	out.opsPerS = float64(len(samples)) / total.Seconds()
	return out
}

func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	idx := (len(samples) - 1) * p / 100
	return samples[idx]
}

func printStats(name string, r *recorder) {
	s := r.stats()
	fmt.Printf("%s: ops=%d failures=%d refused=%d ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.refused,
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}
