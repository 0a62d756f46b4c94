package mux

import (
	"context"
	"fmt"
	"sync"
)

// FakeDriver is an in-memory Driver for unit tests, per the "capability
// trait" design note in SPEC_FULL.md §9 — it records every key sequence
// sent to each pane so tests can assert on the exact protocol the input
// injector produced without a real tmux binary.
type FakeDriver struct {
	mu       sync.Mutex
	sessions map[string]*fakeSession
	nextPane int
}

type fakeSession struct {
	pane            string
	cwd             string
	sent            []string // keys/literal sends, in order
	captureOverride string
	hasOverride     bool
}

// NewFakeDriver returns an empty fake multiplexer.
func NewFakeDriver() *FakeDriver {
	return &FakeDriver{sessions: make(map[string]*fakeSession)}
}

func (f *FakeDriver) HasSession(_ context.Context, target string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	name := sessionOf(target)
	_, ok := f.sessions[name]
	return ok
}

func (f *FakeDriver) NewSession(_ context.Context, name, dir string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.sessions[name]; ok {
		return f.sessions[name].pane, nil
	}
	pane := fmt.Sprintf("%s:0.0", name)
	f.sessions[name] = &fakeSession{pane: pane, cwd: dir}
	return pane, nil
}

func (f *FakeDriver) KillSession(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.sessions, name)
	return nil
}

func (f *FakeDriver) ListPanes(_ context.Context, _ bool, session string) ([]Pane, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Pane
	for name, s := range f.sessions {
		if session != "" && name != session {
			continue
		}
		out = append(out, Pane{ID: s.pane, Session: name, CWD: s.cwd, Active: true})
	}
	return out, nil
}

func (f *FakeDriver) PaneCWD(_ context.Context, pane string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[sessionOf(pane)]
	if !ok {
		return "", fmt.Errorf("no such pane %s", pane)
	}
	return s.cwd, nil
}

func (f *FakeDriver) SendLiteral(_ context.Context, pane, text string) error {
	return f.record(pane, "lit:"+text)
}

func (f *FakeDriver) SendKey(_ context.Context, pane, key string) error {
	return f.record(pane, "key:"+key)
}

func (f *FakeDriver) CapturePane(_ context.Context, pane string, _ int) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[sessionOf(pane)]
	if !ok {
		return "", fmt.Errorf("no such pane %s", pane)
	}
	if s.hasOverride {
		return s.captureOverride, nil
	}
	out := ""
	for _, e := range s.sent {
		out += e + "\n"
	}
	return out, nil
}

// SetCapture overrides what CapturePane returns for pane, letting tests
// simulate specific on-screen content (e.g. a CLI's "no prior session"
// message) without a real terminal behind it.
func (f *FakeDriver) SetCapture(pane, text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.sessions[sessionOf(pane)]; ok {
		s.captureOverride = text
		s.hasOverride = true
	}
}

func (f *FakeDriver) record(pane, entry string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[sessionOf(pane)]
	if !ok {
		return fmt.Errorf("no such pane %s", pane)
	}
	s.sent = append(s.sent, entry)
	return nil
}

// Sent returns the recorded key/literal sends for a pane, for test
// assertions.
func (f *FakeDriver) Sent(pane string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[sessionOf(pane)]
	if !ok {
		return nil
	}
	out := make([]string, len(s.sent))
	copy(out, s.sent)
	return out
}

func sessionOf(target string) string {
	for i, r := range target {
		if r == ':' {
			return target[:i]
		}
	}
	return target
}
