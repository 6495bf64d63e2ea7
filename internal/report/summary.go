package report

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/forkpool/internal/suite"
)

// Summary tallies results for the end-of-run table. It is safe for concurrent use.
type Summary struct {
	lock sync.Mutex // held by Synchronize

	mu         sync.Mutex
	started    time.Time
	counts     map[suite.Status]int
	total      int
	assertions int
	busy       time.Duration
	problems   []*suite.Result
}

// NewSummary starts the wall clock now.
func NewSummary() *Summary {
	return &Summary{started: time.Now(), counts: make(map[suite.Status]int)}
}

func (s *Summary) Record(result *suite.Result) {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := result.Status()
	s.counts[status]++
	s.total++
	s.assertions += result.Assertions
	s.busy += result.Duration
	if status == suite.StatusFail || status == suite.StatusError {
		s.problems = append(s.problems, result)
	}
}

func (s *Summary) Synchronize(fn func()) {
	s.lock.Lock()
	defer s.lock.Unlock()
	fn()
}

// Totals is a snapshot of a Summary.
type Totals struct {
	Results    int
	Assertions int
	Pass       int
	Fail       int
	Error      int
	Skip       int
}

// Totals returns the counts recorded so far.
func (s *Summary) Totals() Totals {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Totals{
		Results:    s.total,
		Assertions: s.assertions,
		Pass:       s.counts[suite.StatusPass],
		Fail:       s.counts[suite.StatusFail],
		Error:      s.counts[suite.StatusError],
		Skip:       s.counts[suite.StatusSkip],
	}
}

// OK reports whether nothing failed or errored.
func (s *Summary) OK() bool {
	t := s.Totals()
	return t.Fail == 0 && t.Error == 0
}

// Render writes the problems followed by the totals box.
func (s *Summary) Render(w io.Writer, theme Theme) error {
	s.mu.Lock()
	problems := append([]*suite.Result(nil), s.problems...)
	wall := time.Since(s.started)
	busy := s.busy
	s.mu.Unlock()
	t := s.Totals()

	sort.Slice(problems, func(i, j int) bool { return problems[i].Name() < problems[j].Name() })

	var b strings.Builder
	for i, r := range problems {
		style := theme.Fail
		if r.Status() == suite.StatusError {
			style = theme.Error
		}
		fmt.Fprintf(&b, "%d) %s %s\n", i+1, style.Render(strings.ToUpper(string(r.Status()))), r.Name())
		for _, f := range r.Failures {
			if f.Kind == suite.KindSkip {
				continue
			}
			fmt.Fprintf(&b, "   %s\n", f.Message())
		}
	}
	if len(problems) > 0 {
		b.WriteString("\n")
	}

	counts := strings.Join([]string{
		theme.Pass.Render(fmt.Sprintf("%d passed", t.Pass)),
		theme.Fail.Render(fmt.Sprintf("%d failed", t.Fail)),
		theme.Error.Render(fmt.Sprintf("%d errors", t.Error)),
		theme.Skip.Render(fmt.Sprintf("%d skipped", t.Skip)),
	}, ", ")
	body := lipgloss.JoinVertical(lipgloss.Left,
		theme.Title.Render(fmt.Sprintf("%d results, %d assertions", t.Results, t.Assertions)),
		counts,
		theme.Dim.Render(fmt.Sprintf("wall %s, test time %s", wall.Round(time.Millisecond), busy.Round(time.Millisecond))),
	)
	b.WriteString(theme.Border.Render(body))
	b.WriteString("\n")

	_, err := io.WriteString(w, b.String())
	return err
}
