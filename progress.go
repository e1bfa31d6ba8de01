package ngstore

import "fmt"

// Progress receives the status of a long running operation. complete is in
// the range [0, 1]. Returning false asks the operation to stop at the next
// checkpoint.
type Progress func(code Code, complete float64, message string) bool

func (p Progress) report(code Code, complete float64, format string, args ...interface{}) bool {
	if p == nil {
		return true
	}
	return p(code, complete, fmt.Sprintf(format, args...))
}

// steppedProgress maps the progress of one step onto the whole operation.
type steppedProgress struct {
	progress Progress
	total    int
	step     int
}

func newSteppedProgress(p Progress, total int) *steppedProgress {
	if total < 1 {
		total = 1
	}
	return &steppedProgress{progress: p, total: total}
}

func (s *steppedProgress) setStep(step int) { s.step = step }

func (s *steppedProgress) report(code Code, complete float64, format string, args ...interface{}) bool {
	overall := (float64(s.step) + complete) / float64(s.total)
	return s.progress.report(code, overall, format, args...)
}
