// Package loadgen drives load through a scheduler or an HTTP endpoint and
// reports wall time and throughput, so configurations can be compared side
// by side.
package loadgen

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Result is the outcome of one load run.
type Result struct {
	Name     string
	RunID    string
	Duration time.Duration
	Success  int64
	Errors   int64
}

func newResult(name string) Result {
	return Result{Name: name, RunID: uuid.NewString()}
}

// Total is Success plus Errors.
func (r Result) Total() int64 { return r.Success + r.Errors }

// PerSecond is the completed operations per second of wall time.
func (r Result) PerSecond() float64 {
	if r.Duration <= 0 {
		return 0
	}
	return float64(r.Total()) / r.Duration.Seconds()
}

func (r Result) String() string {
	return fmt.Sprintf("%s: %d successful, %d failed in %s (%.2f ops/sec)",
		r.Name, r.Success, r.Errors, r.Duration.Round(time.Millisecond), r.PerSecond())
}

// Speedup is how many times faster a finished than b.
func Speedup(a, b Result) float64 {
	if a.Duration <= 0 {
		return 0
	}
	return float64(b.Duration) / float64(a.Duration)
}

// Report renders results under a title. When there are at least two, the
// first is compared against each of the others.
func Report(title string, results ...Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "=== %s ===\n", title)
	for _, r := range results {
		b.WriteString(r.String())
		b.WriteByte('\n')
	}
	if len(results) > 1 {
		b.WriteByte('\n')
		for _, other := range results[1:] {
			fmt.Fprintf(&b, "%s was %.2fx faster than %s\n",
				results[0].Name, Speedup(results[0], other), other.Name)
		}
	}
	return b.String()
}
