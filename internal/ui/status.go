// Package ui holds the UI shells the core reports to: a recording status
// model served over HTTP, a log-only shell and a console shell.
package ui

import (
	"sync"

	"github.com/italolelis/tle_downloader/internal/boundary"
)

const maxMessages = 20

// Snapshot is the state a UI shell would render.
type Snapshot struct {
	Progress  int                 `json:"progress"`
	Label     string              `json:"label"`
	FrameRate float64             `json:"frame_rate"`
	Messages  []string            `json:"messages"`
	Notice    *boundary.Notice    `json:"notice,omitempty"`
	Beam      *boundary.BeamEvent `json:"beam,omitempty"`
}

// Status records everything shown on the UI boundary. It is safe to read from
// any goroutine; writes come from the foreground loop.
type Status struct {
	mu   sync.RWMutex
	snap Snapshot
}

func NewStatus() *Status {
	return &Status{}
}

func (s *Status) ShowProgress(percent int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.snap.Progress = percent
}

// ShowMessage keeps the most recent messages, newest last.
func (s *Status) ShowMessage(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.snap.Messages = append(s.snap.Messages, text)
	if len(s.snap.Messages) > maxMessages {
		s.snap.Messages = s.snap.Messages[len(s.snap.Messages)-maxMessages:]
	}
}

// ShowNotice replaces the pending notice.
func (s *Status) ShowNotice(n boundary.Notice) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.snap.Notice = &n
}

// DismissNotice clears the pending notice.
func (s *Status) DismissNotice() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.snap.Notice = nil
}

func (s *Status) SetFrameRate(fps float64, label string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.snap.FrameRate = fps
	s.snap.Label = label
}

func (s *Status) SetBeam(ev boundary.BeamEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.snap.Beam = &ev
}

// Snapshot returns a copy of the current state.
func (s *Status) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := s.snap
	snap.Messages = make([]string, len(s.snap.Messages))
	copy(snap.Messages, s.snap.Messages)

	if s.snap.Notice != nil {
		n := *s.snap.Notice
		snap.Notice = &n
	}

	if s.snap.Beam != nil {
		b := *s.snap.Beam
		snap.Beam = &b
	}

	return snap
}
