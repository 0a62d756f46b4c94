// Package mux abstracts the terminal multiplexer (tmux) behind a small
// capability interface, per the "subprocess-driven input -> capability
// trait" design note: integration tests can substitute an in-memory fake
// instead of shelling out to a real tmux binary.
package mux

import "context"

// Pane describes one addressable tmux pane.
type Pane struct {
	ID      string // "session:window.pane"
	Session string
	CWD     string
	Active  bool
}

// Driver is the multiplexer contract the rest of the bridge programs
// against. All methods may shell out to a subprocess and should be called
// with a bounded context where the caller cares about hanging children.
type Driver interface {
	// HasSession reports whether a session (or addressable pane/session
	// target) currently exists.
	HasSession(ctx context.Context, target string) bool

	// NewSession creates a detached session named name with its initial
	// working directory set to dir. Returns the new pane id.
	NewSession(ctx context.Context, name, dir string) (string, error)

	// KillSession destroys a session by name. Not an error if absent.
	KillSession(ctx context.Context, name string) error

	// ListPanes returns every pane across every session (used for
	// discovery sweeps) when all is true, or just the panes of the named
	// session otherwise.
	ListPanes(ctx context.Context, all bool, session string) ([]Pane, error)

	// PaneCWD returns the current working directory of a single pane.
	PaneCWD(ctx context.Context, pane string) (string, error)

	// SendLiteral performs a "tmux send-keys -l" literal send: no
	// key-name interpretation, the bytes are typed as-is.
	SendLiteral(ctx context.Context, pane, text string) error

	// SendKey sends one named key (e.g. "Enter", "Down", "C-u") with
	// key-name interpretation enabled.
	SendKey(ctx context.Context, pane, key string) error

	// CapturePane returns the visible (and optionally scrollback) pane
	// content. historyLines < 0 captures the full scrollback.
	CapturePane(ctx context.Context, pane string, historyLines int) (string, error)
}

// FindPaneByCWD returns the first pane (from panes) whose CWD exactly
// matches cwd. It's a plain helper, not part of Driver, since the caller
// usually already has a fresh pane listing in hand from a discovery sweep.
func FindPaneByCWD(panes []Pane, cwd string) (Pane, bool) {
	for _, p := range panes {
		if p.CWD == cwd {
			return p, true
		}
	}
	return Pane{}, false
}
