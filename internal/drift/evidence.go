package drift

import (
	"regexp"
	"time"

	"github.com/rajeshgoli/engram/internal/marshal"
)

var (
	datedLine    = regexp.MustCompile(`^(\d{4}-\d{2}-\d{2})\b`)
	evidenceLine = regexp.MustCompile(`^Evidence@([0-9a-fA-F]{7,40})\b`)
)

// lastTimestamp derives a claim's most recent activity from its history
// lines. Dated lines parse directly; Evidence@<sha> lines resolve through
// git, cached for the run. Lines with neither are ignored; an unresolvable
// sha does not raise.
func (s *Scanner) lastTimestamp(e marshal.Entry) (time.Time, bool) {
	var last time.Time
	found := false
	for _, line := range e.History {
		ts, err := s.lineTimestamp(line)
		if err != nil {
			continue
		}
		if ts.After(last) {
			last = ts
			found = true
		}
	}
	return last, found
}

func (s *Scanner) lineTimestamp(line string) (time.Time, error) {
	if m := datedLine.FindStringSubmatch(line); m != nil {
		return time.Parse("2006-01-02", m[1])
	}
	if m := evidenceLine.FindStringSubmatch(line); m != nil {
		return s.evidenceTime(m[1])
	}
	return time.Time{}, errNoTimestamp
}

func (s *Scanner) evidenceTime(sha string) (time.Time, error) {
	if cached, ok := s.commitTimes[sha]; ok {
		if cached == nil {
			return time.Time{}, errNoTimestamp
		}
		return *cached, nil
	}
	if s.git == nil {
		s.commitTimes[sha] = nil
		return time.Time{}, errNoTimestamp
	}
	ts, err := s.git.CommitTime(sha)
	if err != nil {
		// Negative result is cached too; a dangling sha should not
		// cost one subprocess per history line per scan.
		s.commitTimes[sha] = nil
		return time.Time{}, errNoTimestamp
	}
	s.commitTimes[sha] = &ts
	return ts, nil
}
