package testrun

import (
	"slices"
	"time"
)

// TestResult is the tracked state of one named test within a run.
type TestResult struct {
	Name        string     `json:"name"`
	Status      TestStatus `json:"status"`
	DurationMS  *int64     `json:"duration_ms"`
	Timestamp   time.Time  `json:"timestamp"`
	LogMessages []string   `json:"log_messages"`
}

// clone returns a deep copy of the result.
func (r *TestResult) clone() *TestResult {
	out := *r

	if r.DurationMS != nil {
		d := *r.DurationMS
		out.DurationMS = &d
	}

	out.LogMessages = slices.Clone(r.LogMessages)
	if out.LogMessages == nil {
		out.LogMessages = []string{}
	}

	return &out
}

// Registry maps test names to their results. Keys are never removed once
// added; values are mutated in place. Not safe for concurrent use.
type Registry struct {
	now     func() time.Time
	order   []string
	results map[string]*TestResult
}

// NewRegistry creates an empty registry stamping new records with now.
// A nil now falls back to time.Now.
func NewRegistry(now func() time.Time) *Registry {
	if now == nil {
		now = time.Now
	}

	return &Registry{
		now:     now,
		order:   make([]string, 0, 16),
		results: make(map[string]*TestResult, 16),
	}
}

// ApplyStatus creates the test with the given status if it is unknown, or
// overwrites the status of the existing record. Returns true on creation.
func (r *Registry) ApplyStatus(name string, status TestStatus) bool {
	if existing, ok := r.results[name]; ok {
		existing.Status = status

		return false
	}

	r.results[name] = &TestResult{
		Name:        name,
		Status:      status,
		Timestamp:   r.now(),
		LogMessages: []string{},
	}
	r.order = append(r.order, name)

	return true
}

// ApplyResult records the outcome and duration of a known test. Results for
// tests that were never announced by a status marker are dropped and false
// is returned.
func (r *Registry) ApplyResult(name string, status TestStatus, durationMS int64) bool {
	existing, ok := r.results[name]
	if !ok {
		return false
	}

	existing.Status = status
	existing.DurationMS = &durationMS

	return true
}

// Get returns the live record for name.
func (r *Registry) Get(name string) (*TestResult, bool) {
	res, ok := r.results[name]

	return res, ok
}

// Len returns the number of tracked tests.
func (r *Registry) Len() int {
	return len(r.results)
}

// Names returns test names in first-seen order.
func (r *Registry) Names() []string {
	return slices.Clone(r.order)
}

// Each calls fn for every test in first-seen order. Iteration stops when fn
// returns false.
func (r *Registry) Each(fn func(*TestResult) bool) {
	for _, name := range r.order {
		if !fn(r.results[name]) {
			return
		}
	}
}

// CountByStatus returns how many tests currently hold each status.
func (r *Registry) CountByStatus() map[TestStatus]int {
	counts := make(map[TestStatus]int, len(AllStatuses))
	for _, res := range r.results {
		counts[res.Status]++
	}

	return counts
}

// Snapshot returns a deep copy of all records keyed by name.
func (r *Registry) Snapshot() map[string]*TestResult {
	out := make(map[string]*TestResult, len(r.results))
	for name, res := range r.results {
		out[name] = res.clone()
	}

	return out
}
