// Package daemon wires every other package into the single long-running
// process described by spec §5: one chat long-poll goroutine, one
// orchestration-loop goroutine ticking every 100ms, joined by an unbounded
// in-process channel, supervised by golang.org/x/sync/errgroup so a SIGTERM
// cancellation (or either goroutine's fatal error) tears both down together.
// Grounded on original_source/telegram-daemon.py's main().
package daemon

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/cabridge/cabridge/internal/chat"
	"github.com/cabridge/cabridge/internal/commands"
	"github.com/cabridge/cabridge/internal/lifecycle"
	"github.com/cabridge/cabridge/internal/mux"
	"github.com/cabridge/cabridge/internal/notify"
	"github.com/cabridge/cabridge/internal/poller"
	"github.com/cabridge/cabridge/internal/registry"
	"github.com/cabridge/cabridge/internal/watch"
	"golang.org/x/sync/errgroup"
)

// tick is the orchestration loop's polling interval, per spec §5.
const tick = 100 * time.Millisecond

// discoverInterval is how often the loop re-scans every pane for a new
// transcript, per telegram-daemon.py's 30-second discover_transcripts cadence.
const discoverInterval = 30 * time.Second

// cleanupInterval is how often dead panes are swept from message-state and
// the watcher set, per telegram-daemon.py's CLEANUP_INTERVAL.
const cleanupInterval = 5 * time.Minute

// Paths bundles the fixed file locations spec §6 names.
type Paths struct {
	ConfigJSON   string // <app dir>/config.json
	RegistryJSON string // <app dir>/registry.json
	StateJSON    string // /tmp/<app>-state.json
	PIDFile      string // /tmp/<app>-daemon.pid
}

// DefaultPaths returns the standard layout: config.json/registry.json under
// ~/.cabridge, and the /tmp-rooted state/lock files spec §6 names literally.
func DefaultPaths(home string) Paths {
	appDir := filepath.Join(home, ".cabridge")
	return Paths{
		ConfigJSON:   filepath.Join(appDir, "config.json"),
		RegistryJSON: filepath.Join(appDir, "registry.json"),
		StateJSON:    "/tmp/cabridge-state.json",
		PIDFile:      "/tmp/cabridge-daemon.pid",
	}
}

// Daemon owns every long-lived component and the two supervised goroutines.
type Daemon struct {
	Home   string
	Paths  Paths
	Chat   chat.API
	Driver mux.Driver

	// StartUpdates launches the chat long-poll loop and returns the
	// channel of inbound updates; bound to (*chat.Client).Start in
	// production. Kept separate from the chat.API interface so tests can
	// drive the orchestration loop against chat.FakeClient, which has no
	// long-poll loop of its own.
	StartUpdates func(context.Context) <-chan chat.Update

	Config    *registry.ConfigStore
	Registry  *registry.Registry
	State     *notify.Store
	Watch     *watch.Manager
	Notifier  *notify.Notifier
	Lifecycle *lifecycle.Manager
	Commands  *commands.Handler
	Router    *poller.Router

	lock *Lock
}

// New builds a Daemon from its external collaborators (a real chat.Client
// and mux driver in production, fakes in tests) and the fixed paths,
// loading whatever persisted state already exists. It does not yet acquire
// the PID lock or start the goroutines — call Run for that.
func New(c chat.API, startUpdates func(context.Context) <-chan chat.Update, driver mux.Driver, home string, paths Paths) (*Daemon, error) {
	cfg := registry.NewConfigStore(paths.ConfigJSON)
	if err := cfg.Load(); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	reg := registry.New(paths.RegistryJSON)
	if err := reg.Load(); err != nil {
		return nil, fmt.Errorf("load registry: %w", err)
	}
	state := notify.NewStore(paths.StateJSON)
	if err := state.Load(); err != nil {
		return nil, fmt.Errorf("load message state: %w", err)
	}

	watchMgr := watch.NewManager(driver, home)
	var saved []watch.SavedStateEntry
	for _, e := range state.All() {
		saved = append(saved, watch.SavedStateEntry{
			TranscriptPath: e.TranscriptPath,
			Pane:           e.Pane,
			CWD:            e.CWD,
		})
	}
	watchMgr.AttachFromState(saved)

	notifier := notify.New(c, home, state)
	lifecycleMgr := lifecycle.New(driver, c, reg, cfg, home)

	cmdHandler := &commands.Handler{
		Chat:     c,
		Driver:   driver,
		Registry: reg,
		Config:   cfg,
		State:    state,
		Home:     home,
	}

	router := &poller.Router{
		Chat:     c,
		Driver:   driver,
		Registry: reg,
		Config:   cfg,
		State:    state,
		Home:     home,
		Commands: cmdHandler,
	}

	d := &Daemon{
		Home:         home,
		Paths:        paths,
		Chat:         c,
		Driver:       driver,
		StartUpdates: startUpdates,
		Config:       cfg,
		Registry:     reg,
		State:        state,
		Watch:        watchMgr,
		Notifier:     notifier,
		Lifecycle:    lifecycleMgr,
		Commands:     cmdHandler,
		Router:       router,
	}

	if result, err := registry.RecoverFromMarkers(home, reg); err != nil {
		log.Printf("marker recovery: %v", err)
	} else if len(result.Reinserted) > 0 || len(result.Pending) > 0 || len(result.Corrupt) > 0 {
		log.Printf("marker recovery: reinserted=%d pending=%d corrupt=%d",
			len(result.Reinserted), len(result.Pending), len(result.Corrupt))
	}

	return d, nil
}

// Run acquires the PID lock, discovers already-running panes, and blocks
// running the long-poll and orchestration goroutines until ctx is
// cancelled (SIGTERM per spec §5) or either goroutine returns a fatal
// error. The lock is always released before Run returns.
func (d *Daemon) Run(ctx context.Context) error {
	lock, err := AcquireLock(d.Paths.PIDFile)
	if err != nil {
		return err
	}
	d.lock = lock
	defer func() {
		if err := d.lock.Release(); err != nil {
			log.Printf("release lockfile: %v", err)
		}
	}()

	d.Watch.DiscoverTranscripts(ctx)

	group, gctx := errgroup.WithContext(ctx)

	raw := d.StartUpdates(gctx)
	relayed := unboundedRelay(gctx, raw)

	group.Go(func() error {
		<-gctx.Done()
		return gctx.Err()
	})
	group.Go(func() error {
		return d.orchestrate(gctx, relayed)
	})

	err = group.Wait()
	if err != nil && ctx.Err() != nil {
		// A cancellation from the caller (SIGTERM) is a clean shutdown,
		// not a failure to report up to main.
		return nil
	}
	return err
}

// orchestrate is the 100ms tick loop: drain pending chat updates, check
// every watcher for new events, notify/reconcile/expire, and run the two
// periodic sweeps. Grounded on telegram-daemon.py's main while-loop body.
func (d *Daemon) orchestrate(ctx context.Context, updates <-chan chat.Update) error {
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	lastDiscover := time.Now()
	lastCleanup := time.Now()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			d.tickOnce(ctx, updates, &lastDiscover, &lastCleanup)
		}
	}
}

func (d *Daemon) tickOnce(ctx context.Context, updates <-chan chat.Update, lastDiscover, lastCleanup *time.Time) {
	now := time.Now()

	if now.Sub(*lastDiscover) > discoverInterval {
		d.Watch.DiscoverTranscripts(ctx)
		*lastDiscover = now
	}

drainLoop:
	for {
		select {
		case u, ok := <-updates:
			if !ok {
				break drainLoop
			}
			d.Router.HandleUpdate(ctx, u)
		default:
			break drainLoop
		}
	}

	tools, compactions, idle, activity := d.Watch.CheckAll()
	for _, a := range activity {
		chatID, threadID := d.routeTarget(a.Pane)
		_ = d.Chat.SendChatAction(ctx, chatID, threadID, "typing")
	}
	for _, tool := range tools {
		chatID, threadID := d.routeTarget(tool.Pane)
		if _, err := d.Notifier.NotifyTool(ctx, chatID, threadID, tool); err != nil {
			log.Printf("notify tool: %v", err)
		}
	}
	for _, event := range compactions {
		chatID, threadID := d.routeTarget(event.Pane)
		if err := d.Notifier.NotifyCompaction(ctx, chatID, threadID, event); err != nil {
			log.Printf("notify compaction: %v", err)
		}
	}
	for _, event := range idle {
		chatID, threadID := d.routeTarget(event.Pane)
		if _, err := d.Notifier.NotifyIdle(ctx, chatID, threadID, event); err != nil {
			log.Printf("notify idle: %v", err)
		}
	}

	d.Notifier.ReconcileCompletedTools(ctx, d.Watch)
	d.Notifier.ReconcileSupersededIdle(ctx, d.Watch)
	for _, pane := range d.Watch.Panes() {
		d.Notifier.ExpireOldButtons(ctx, pane)
	}

	if now.Sub(*lastCleanup) > cleanupInterval {
		if removed := d.Notifier.CleanupDeadPanes(d.Watch); removed > 0 {
			log.Printf("cleaned %d dead message-state entries", removed)
		}
		d.Watch.CleanupDead(ctx)
		*lastCleanup = now
	}

	if err := d.State.Save(); err != nil {
		log.Printf("save message state: %v", err)
	}
	if err := d.Config.ReloadIfChanged(); err != nil {
		log.Printf("reload config: %v", err)
	}
}

// routeTarget resolves the chat id/thread id a pane's events should be
// posted to: the configured group and, if the pane belongs to a
// registered task, that task's topic; otherwise the general topic.
func (d *Daemon) routeTarget(pane string) (int64, int) {
	cfg := d.Config.Get()
	if task, ok := d.Registry.GetByPane(pane); ok && task.TopicID != 0 {
		return cfg.GroupID, task.TopicID
	}
	return cfg.GroupID, cfg.GeneralTopicID
}

// unboundedRelay copies from in to an unbounded internal queue and streams
// it out a single channel, matching the Python original's queue.Queue()
// (which never blocks the long-poll thread on a slow consumer). A fixed
// boundary on a channel size here would reintroduce exactly the backpressure
// the two-goroutine split is meant to avoid.
func unboundedRelay(ctx context.Context, in <-chan chat.Update) <-chan chat.Update {
	out := make(chan chat.Update)
	go func() {
		defer close(out)
		var queue []chat.Update
		for {
			if len(queue) == 0 {
				if in == nil {
					return
				}
				select {
				case <-ctx.Done():
					return
				case u, ok := <-in:
					if !ok {
						return
					}
					queue = append(queue, u)
				}
				continue
			}
			select {
			case <-ctx.Done():
				return
			case u, ok := <-in:
				if !ok {
					// Producer closed: stop receiving, but flush what is queued.
					in = nil
					continue
				}
				queue = append(queue, u)
			case out <- queue[0]:
				queue = queue[1:]
			}
		}
	}()
	return out
}

// EnsureAppDir creates the directory holding config.json/registry.json if
// it doesn't already exist.
func EnsureAppDir(paths Paths) error {
	return os.MkdirAll(filepath.Dir(paths.ConfigJSON), 0o755)
}
