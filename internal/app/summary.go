package app

import (
	"fmt"
	"strings"

	"garminsync/internal/worker"
)

// Summary aggregates per-record outcomes for one run. It is built once per
// run and returned by value.
type Summary struct {
	Considered       int
	SkippedDuplicate int
	Downloaded       int
	Uploaded         int
	Failed           []Failure
}

// Failure is one record that did not complete, in occurrence order
type Failure struct {
	ActivityID string
	Stage      string
	Reason     string
}

// Add folds one record result into the summary
func (s *Summary) Add(res worker.Result) {
	if res.Skipped {
		s.SkippedDuplicate++
	}
	if res.Downloaded {
		s.Downloaded++
	}
	if res.Uploaded {
		s.Uploaded++
	}
	if res.Err != nil {
		s.Failed = append(s.Failed, Failure{
			ActivityID: res.ID,
			Stage:      res.Stage,
			Reason:     res.Err.Error(),
		})
	}
}

// Format renders the summary for the CLI
func (s *Summary) Format() string {
	var b strings.Builder
	fmt.Fprintf(&b, "considered:         %d\n", s.Considered)
	fmt.Fprintf(&b, "skipped duplicates: %d\n", s.SkippedDuplicate)
	fmt.Fprintf(&b, "downloaded:         %d\n", s.Downloaded)
	fmt.Fprintf(&b, "uploaded:           %d\n", s.Uploaded)
	fmt.Fprintf(&b, "failed:             %d\n", len(s.Failed))
	for _, f := range s.Failed {
		fmt.Fprintf(&b, "  %s (%s): %s\n", f.ActivityID, f.Stage, f.Reason)
	}
	return b.String()
}
