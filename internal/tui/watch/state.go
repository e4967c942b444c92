package watch

import (
	"cmp"
	"fmt"
	"slices"
	"time"

	"github.com/mattjoyce/devbench/internal/devbench"
	"github.com/mattjoyce/devbench/internal/notify"
	"github.com/mattjoyce/devbench/internal/reconciler"
	"github.com/mattjoyce/devbench/internal/runner"
)

// maxOutputLines bounds the per-devbench output kept in memory.
const maxOutputLines = 500

// BenchState is what the watch screen knows about one devbench.
type BenchState struct {
	ID           string
	Name         string
	ExternalName string
	State        string
	LastError    string
	Busy         bool
	Verb         string
	LastActivity time.Time
}

// benchRow is one element of GET /devbenches.
type benchRow struct {
	devbench.Devbench
	Busy bool `json:"busy"`
}

// benchSet holds the devbenches and their recent script output.
type benchSet struct {
	benches map[string]*BenchState
	output  map[string][]string
}

func newBenchSet() *benchSet {
	return &benchSet{
		benches: make(map[string]*BenchState),
		output:  make(map[string][]string),
	}
}

// replace syncs the set with a full listing. Output is kept for devbenches
// that are still present.
func (s *benchSet) replace(rows []benchRow) {
	seen := make(map[string]bool, len(rows))
	for _, r := range rows {
		seen[r.ID] = true
		b, ok := s.benches[r.ID]
		if !ok {
			b = &BenchState{ID: r.ID}
			s.benches[r.ID] = b
		}
		b.Name = r.RequestedName
		b.ExternalName = r.ExternalName
		b.State = string(r.State)
		b.LastError = r.LastError
		b.Busy = r.Busy
		if !r.Busy {
			b.Verb = ""
		}
		if r.UpdatedAt.After(b.LastActivity) {
			b.LastActivity = r.UpdatedAt
		}
	}
	for id := range s.benches {
		if !seen[id] {
			delete(s.benches, id)
			delete(s.output, id)
		}
	}
}

// apply folds one live event into the set.
func (s *benchSet) apply(ev notify.Event) {
	id := ev.DevbenchID
	if ev.Kind == notify.KindStatus && ev.State == reconciler.StateDeleted {
		delete(s.benches, id)
		delete(s.output, id)
		return
	}

	b, ok := s.benches[id]
	if !ok {
		b = &BenchState{ID: id}
		s.benches[id] = b
	}
	b.LastActivity = ev.At
	if b.LastActivity.IsZero() {
		b.LastActivity = time.Now()
	}

	switch ev.Kind {
	case notify.KindStatus:
		b.State = ev.State
		b.LastError = ev.LastError
		if ev.State == string(devbench.StateCreating) {
			b.Busy = true
			b.Verb = string(runner.VerbCreate)
		}
	case notify.KindOutput:
		b.Busy = true
		b.Verb = ev.Verb
		line := ev.Text
		if ev.Stream == string(runner.Stderr) {
			line = "! " + line
		}
		s.appendOutput(id, line)
	case notify.KindComplete:
		b.Busy = false
		b.Verb = ""
		s.appendOutput(id, completionLine(ev))
	}
}

func (s *benchSet) appendOutput(id, line string) {
	lines := append(s.output[id], line)
	if len(lines) > maxOutputLines {
		lines = lines[len(lines)-maxOutputLines:]
	}
	s.output[id] = lines
}

// ordered returns devbenches sorted by name, unnamed ones last by id.
func (s *benchSet) ordered() []*BenchState {
	out := make([]*BenchState, 0, len(s.benches))
	for _, b := range s.benches {
		out = append(out, b)
	}
	slices.SortFunc(out, func(a, b *BenchState) int {
		if (a.Name == "") != (b.Name == "") {
			if a.Name == "" {
				return 1
			}
			return -1
		}
		if c := cmp.Compare(a.Name, b.Name); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out
}

func completionLine(ev notify.Event) string {
	switch {
	case ev.TimedOut:
		return fmt.Sprintf("── %s timed out", ev.Verb)
	case ev.ExitCode != nil:
		return fmt.Sprintf("── %s exited %d", ev.Verb, *ev.ExitCode)
	default:
		return fmt.Sprintf("── %s finished", ev.Verb)
	}
}
