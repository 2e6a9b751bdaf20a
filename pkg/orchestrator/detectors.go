package orchestrator

// Incident codes recorded in metrics and emitted on the bus.
const (
	IncidentNoProgress       = "no_progress"
	IncidentOscillation      = "oscillation_detected"
	IncidentMaxIters         = "max_iters_reached"
	IncidentBudgetOverrun    = "budget_overrun"
	IncidentSinkWrite        = "sink_write_failure"
	IncidentOrchestratorFail = "orchestrator_lite_failure"
)

// ProgressWindow detects a KPI plateau: once at least k samples exist, a
// spread (max-min) below epsilon over the last k samples means the loop is
// no longer moving.
type ProgressWindow struct {
	k       int
	epsilon float64
	samples []float64
}

// NewProgressWindow creates a detector over a window of k samples.
func NewProgressWindow(k int, epsilon float64) *ProgressWindow {
	return &ProgressWindow{k: k, epsilon: epsilon}
}

// Observe appends one KPI sample; exactly one per iteration.
func (w *ProgressWindow) Observe(v float64) {
	w.samples = append(w.samples, v)
}

// Plateaued reports whether the last k samples span less than epsilon.
func (w *ProgressWindow) Plateaued() bool {
	if len(w.samples) < w.k {
		return false
	}
	window := w.samples[len(w.samples)-w.k:]
	min, max := window[0], window[0]
	for _, v := range window[1:] {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	return max-min < w.epsilon
}

// Series returns the full sample history in observation order.
func (w *ProgressWindow) Series() []float64 {
	out := make([]float64, len(w.samples))
	copy(out, w.samples)
	return out
}

// OscillationCounter counts alternations between iterations that ended in
// acceptance and iterations that ended in failure. Repeated flips signal
// non-convergence.
type OscillationCounter struct {
	threshold    int
	seen         bool
	last         bool
	alternations int
}

// NewOscillationCounter creates a counter that trips at the given number of
// alternations.
func NewOscillationCounter(threshold int) *OscillationCounter {
	return &OscillationCounter{threshold: threshold}
}

// Observe records one iteration outcome and reports whether the alternation
// threshold has been reached.
func (c *OscillationCounter) Observe(accepted bool) bool {
	if c.seen && accepted != c.last {
		c.alternations++
	}
	c.seen = true
	c.last = accepted
	return c.alternations >= c.threshold
}

// Alternations returns the current alternation count.
func (c *OscillationCounter) Alternations() int {
	return c.alternations
}
