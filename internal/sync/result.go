// Package sync implements the pull and push reconcilers that move
// contact data between remote directory servers and local storage.
package sync

// Outcome classifies what happened to a single record during a pass.
type Outcome int

const (
	// OutcomeOK means the record was processed and persisted/pushed.
	OutcomeOK Outcome = iota
	// OutcomeSkipped means the record was dropped with a logged reason;
	// the pass continued.
	OutcomeSkipped
	// OutcomeFatal means the record hit an error that aborted the rest
	// of the pass.
	OutcomeFatal
)

func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "ok"
	case OutcomeSkipped:
		return "skipped"
	case OutcomeFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// ItemResult is the per-record outcome. Callers decide abort-vs-continue
// from these instead of using errors as control flow.
type ItemResult struct {
	UID     string
	Outcome Outcome
	Reason  string
	Err     error
}

// Summary aggregates the item results of one reconciler pass.
type Summary struct {
	Results []ItemResult
}

func (s *Summary) ok(uid string) {
	s.Results = append(s.Results, ItemResult{UID: uid, Outcome: OutcomeOK})
}

func (s *Summary) skip(uid, reason string, err error) {
	s.Results = append(s.Results, ItemResult{UID: uid, Outcome: OutcomeSkipped, Reason: reason, Err: err})
}

func (s *Summary) fatal(uid string, err error) {
	s.Results = append(s.Results, ItemResult{UID: uid, Outcome: OutcomeFatal, Err: err})
}

// OKCount returns the number of successfully processed records.
func (s *Summary) OKCount() int { return s.count(OutcomeOK) }

// SkippedCount returns the number of records dropped mid-pass.
func (s *Summary) SkippedCount() int { return s.count(OutcomeSkipped) }

// Failed reports whether the pass was aborted.
func (s *Summary) Failed() bool { return s.count(OutcomeFatal) > 0 }

func (s *Summary) count(o Outcome) int {
	n := 0
	for _, r := range s.Results {
		if r.Outcome == o {
			n++
		}
	}
	return n
}
