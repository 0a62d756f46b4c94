package registry

import (
	"io/fs"
	"path/filepath"
)

// PendingMarker describes a marker found mid-creation during a recovery
// walk — left alone for operator review (Open Question (b): no automatic
// garbage collection).
type PendingMarker struct {
	TaskDir          string
	PendingTopicName string
	PendingSince     string
}

// RecoverResult summarizes one crash-recovery walk.
type RecoverResult struct {
	Reinserted []Task
	Pending    []PendingMarker
	Corrupt    []string // marker paths that failed to parse
}

// RecoverFromMarkers walks the tree rooted at root looking for
// .claude/army.json files and reconciles them against reg: a completed
// marker with no existing registry entry under its name is reinserted (the
// pane will be discovered or recreated on demand); a pending marker is
// left alone and reported for operator review; a corrupt marker is
// reported but never auto-repaired (§7).
func RecoverFromMarkers(root string, reg *Registry) (RecoverResult, error) {
	var result RecoverResult

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// Permission errors etc. on individual subtrees shouldn't
			// abort the whole walk.
			return nil
		}
		if d.IsDir() || filepath.Base(path) != MarkerFileName || filepath.Base(filepath.Dir(path)) != ".claude" {
			return nil
		}

		taskDir := filepath.Dir(filepath.Dir(path))
		m, err := ReadMarker(taskDir)
		if err != nil {
			result.Corrupt = append(result.Corrupt, path)
			return nil
		}
		if m == nil {
			return nil
		}

		switch {
		case m.IsPending():
			result.Pending = append(result.Pending, PendingMarker{
				TaskDir:          taskDir,
				PendingTopicName: m.PendingTopicName,
				PendingSince:     m.PendingSince.String(),
			})
		case m.IsComplete():
			if !reg.Has(m.Name) {
				task := Task{
					Name:    m.Name,
					Flavor:  m.Flavor,
					Path:    taskDir,
					TopicID: m.TopicID,
					Repo:    m.Repo,
					Status:  StatusActive,
				}
				reg.AddTask(task)
				result.Reinserted = append(result.Reinserted, task)
			}
		}
		return nil
	})
	if err != nil {
		return result, err
	}
	return result, nil
}
