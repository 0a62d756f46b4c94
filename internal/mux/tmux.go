package mux

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
)

// TmuxDriver is the real Driver implementation, shelling out to the tmux
// binary on PATH.
type TmuxDriver struct{}

// NewTmuxDriver returns a Driver backed by a real tmux installation.
func NewTmuxDriver() *TmuxDriver {
	return &TmuxDriver{}
}

func (d *TmuxDriver) HasSession(ctx context.Context, target string) bool {
	cmd := exec.CommandContext(ctx, "tmux", "has-session", "-t", target)
	return cmd.Run() == nil
}

func (d *TmuxDriver) NewSession(ctx context.Context, name, dir string) (string, error) {
	args := []string{"new-session", "-d", "-s", name}
	if dir != "" {
		args = append(args, "-c", dir)
	}
	cmd := exec.CommandContext(ctx, "tmux", args...)
	cmd.Env = filterTMUXEnv(os.Environ())

	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("tmux new-session %s: %s: %w", name, stderr.String(), err)
	}

	panes, err := d.ListPanes(ctx, false, name)
	if err != nil || len(panes) == 0 {
		return name + ":0.0", nil
	}
	return panes[0].ID, nil
}

func (d *TmuxDriver) KillSession(ctx context.Context, name string) error {
	if !d.HasSession(ctx, name) {
		return nil
	}
	cmd := exec.CommandContext(ctx, "tmux", "kill-session", "-t", name)
	return cmd.Run()
}

func (d *TmuxDriver) ListPanes(ctx context.Context, all bool, session string) ([]Pane, error) {
	format := "#{session_name}:#{window_index}.#{pane_index}\t#{session_name}\t#{pane_current_path}\t#{?pane_active,1,0}"
	args := []string{"list-panes", "-F", format}
	if all {
		args = append(args, "-a")
	} else {
		args = append(args, "-t", session)
	}

	cmd := exec.CommandContext(ctx, "tmux", args...)
	out, err := cmd.Output()
	if err != nil {
		if strings.Contains(err.Error(), "no server running") {
			return nil, nil
		}
		return nil, err
	}
	return parsePaneList(string(out)), nil
}

func parsePaneList(output string) []Pane {
	var panes []Pane
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) != 4 {
			continue
		}
		panes = append(panes, Pane{
			ID:      fields[0],
			Session: fields[1],
			CWD:     fields[2],
			Active:  fields[3] == "1",
		})
	}
	return panes
}

func (d *TmuxDriver) PaneCWD(ctx context.Context, pane string) (string, error) {
	cmd := exec.CommandContext(ctx, "tmux", "display-message", "-t", pane, "-p", "#{pane_current_path}")
	out, err := cmd.Output()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

func (d *TmuxDriver) SendLiteral(ctx context.Context, pane, text string) error {
	cmd := exec.CommandContext(ctx, "tmux", "send-keys", "-t", pane, "-l", text)
	return cmd.Run()
}

func (d *TmuxDriver) SendKey(ctx context.Context, pane, key string) error {
	cmd := exec.CommandContext(ctx, "tmux", "send-keys", "-t", pane, key)
	return cmd.Run()
}

func (d *TmuxDriver) CapturePane(ctx context.Context, pane string, historyLines int) (string, error) {
	args := []string{"capture-pane", "-t", pane, "-p"}
	if historyLines < 0 {
		args = append(args, "-S", "-")
	} else if historyLines > 0 {
		args = append(args, "-S", "-"+strconv.Itoa(historyLines))
	}
	cmd := exec.CommandContext(ctx, "tmux", args...)
	out, err := cmd.Output()
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// filterTMUXEnv strips the TMUX env var so a nested tmux invocation from
// inside the daemon's own controlling terminal (if any) doesn't confuse
// itself for a client of the session it's creating.
func filterTMUXEnv(env []string) []string {
	out := make([]string, 0, len(env))
	for _, e := range env {
		if !strings.HasPrefix(e, "TMUX=") {
			out = append(out, e)
		}
	}
	return out
}
