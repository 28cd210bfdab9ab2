package metrics

import (
	"math"
	"sort"
	"sync"
)

// =============================================================================
// 📈 滚动窗口延迟 / Token 聚合器
// =============================================================================

// DefaultWindowSize is the number of latency samples kept for percentiles.
const DefaultWindowSize = 512

// Snapshot is a point-in-time view of the aggregator.
type Snapshot struct {
	RequestsTotal         int64   `json:"requests_total"`
	TokensPromptTotal     int64   `json:"tokens_prompt_total"`
	TokensCompletionTotal int64   `json:"tokens_completion_total"`
	LatencyP50            float64 `json:"latency_ms_p50"`
	LatencyP95            float64 `json:"latency_ms_p95"`
}

// Aggregator keeps cumulative request and token totals plus a fixed-size
// ring of the most recent latency samples.
type Aggregator struct {
	mu     sync.Mutex
	window []float64
	next   int
	filled bool

	requestsTotal         int64
	tokensPromptTotal     int64
	tokensCompletionTotal int64
}

// NewAggregator creates an aggregator whose window holds capacity samples.
// A non-positive capacity selects DefaultWindowSize.
func NewAggregator(capacity int) *Aggregator {
	if capacity <= 0 {
		capacity = DefaultWindowSize
	}
	return &Aggregator{window: make([]float64, capacity)}
}

// Record accounts one finished turn. Negative inputs count as zero.
func (a *Aggregator) Record(latencyMs float64, promptTokens, completionTokens int) {
	if !(latencyMs >= 0) {
		latencyMs = 0
	}
	if promptTokens < 0 {
		promptTokens = 0
	}
	if completionTokens < 0 {
		completionTokens = 0
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.window[a.next] = latencyMs
	a.next++
	if a.next == len(a.window) {
		a.next = 0
		a.filled = true
	}

	a.requestsTotal++
	a.tokensPromptTotal += int64(promptTokens)
	a.tokensCompletionTotal += int64(completionTokens)
}

// Snapshot returns the totals and the p50/p95 of the current window.
func (a *Aggregator) Snapshot() Snapshot {
	samples, snap := a.copyOut()

	sort.Float64s(samples)
	snap.LatencyP50 = Percentile(samples, 0.50)
	snap.LatencyP95 = Percentile(samples, 0.95)
	return snap
}

// Window returns a copy of the samples currently in the window, oldest first.
func (a *Aggregator) Window() []float64 {
	samples, _ := a.copyOut()
	return samples
}

// copyOut copies state under the lock so sorting happens outside it.
func (a *Aggregator) copyOut() ([]float64, Snapshot) {
	a.mu.Lock()
	defer a.mu.Unlock()

	snap := Snapshot{
		RequestsTotal:         a.requestsTotal,
		TokensPromptTotal:     a.tokensPromptTotal,
		TokensCompletionTotal: a.tokensCompletionTotal,
	}

	if !a.filled {
		return append([]float64(nil), a.window[:a.next]...), snap
	}
	samples := make([]float64, 0, len(a.window))
	samples = append(samples, a.window[a.next:]...)
	samples = append(samples, a.window[:a.next]...)
	return samples, snap
}

// Percentile returns the p-th percentile (0..1) of sorted values using
// linear interpolation between the closest ranks. An empty input yields 0.
func Percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	k := float64(len(sorted)-1) * p
	f := math.Floor(k)
	c := math.Ceil(k)
	if f == c {
		return sorted[int(k)]
	}
	return sorted[int(f)]*(c-k) + sorted[int(c)]*(k-f)
}
