package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/cabridge/cabridge/internal/chat"
	"github.com/cabridge/cabridge/internal/daemon"
	"github.com/cabridge/cabridge/internal/mux"
	"github.com/cabridge/cabridge/internal/registry"
)

var version = "0.1"

func main() {
	// Check for subcommands before flag parsing, mirroring cmd/trellis's
	// init-before-flag.Parse() dispatch.
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "init":
			if err := runInit(); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			os.Exit(0)
		case "recover":
			if err := runRecover(); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			os.Exit(0)
		}
	}

	var (
		home        string
		showVersion bool
	)
	flag.StringVar(&home, "home", "", "Home directory to scan for agent panes (default: $HOME)")
	flag.BoolVar(&showVersion, "version", false, "Show version")
	flag.BoolVar(&showVersion, "v", false, "Show version (short)")
	flag.Parse()

	if showVersion {
		fmt.Printf("cabridge %s\n", version)
		os.Exit(0)
	}

	if home == "" {
		h, err := os.UserHomeDir()
		if err != nil {
			log.Fatalf("determine home directory: %v", err)
		}
		home = h
	}

	token := os.Getenv("CABRIDGE_BOT_TOKEN")
	if token == "" {
		fmt.Fprintln(os.Stderr, "Error: CABRIDGE_BOT_TOKEN is not set; run \"cabridge init\" first")
		os.Exit(1)
	}

	paths := daemon.DefaultPaths(home)
	if err := daemon.EnsureAppDir(paths); err != nil {
		log.Fatalf("create app directory: %v", err)
	}

	logFile, err := os.OpenFile("/tmp/cabridge-daemon.log", os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		log.Fatalf("open log file: %v", err)
	}
	defer logFile.Close()
	log.SetOutput(logFile)
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)

	client, err := chat.New(token)
	if err != nil {
		log.Fatalf("create chat client: %v", err)
	}
	driver := mux.NewTmuxDriver()

	d, err := daemon.New(client, client.Start, driver, home, paths)
	if err != nil {
		log.Fatalf("initialize daemon: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := d.Run(ctx); err != nil {
		log.Printf("daemon exited with error: %v", err)
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runInit() error {
	initFlags := flag.NewFlagSet("init", flag.ExitOnError)
	showHelp := initFlags.Bool("help", false, "Show help for init command")
	initFlags.BoolVar(showHelp, "h", false, "Show help for init command")
	initFlags.Parse(os.Args[2:])

	if *showHelp {
		fmt.Println(`Usage: cabridge init [options]

Interactively create the bot token environment file and the app directory
(~/.cabridge) holding config.json and registry.json.

After running init:
  1. Invite the bot to a group chat with forum topics enabled.
  2. Run /setup in that chat.
  3. Run: cabridge`)
		return nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("determine home directory: %w", err)
	}
	paths := daemon.DefaultPaths(home)

	if _, err := os.Stat(paths.ConfigJSON); err == nil {
		return fmt.Errorf("%s already exists; remove it first to reinitialize", paths.ConfigJSON)
	}

	if err := daemon.EnsureAppDir(paths); err != nil {
		return fmt.Errorf("create app directory: %w", err)
	}

	reader := bufio.NewReader(os.Stdin)
	fmt.Println("cabridge setup")
	fmt.Println("==============")
	fmt.Println()
	fmt.Println("Paste the bot token from @BotFather:")
	fmt.Print("> ")
	tokenLine, err := reader.ReadString('\n')
	if err != nil {
		return fmt.Errorf("read token: %w", err)
	}
	token := strings.TrimSpace(tokenLine)
	if token == "" {
		return fmt.Errorf("a bot token is required")
	}

	fmt.Println()
	fmt.Println("Which tmux pane runs the operator agent session (e.g. ca-op:0.0)?")
	fmt.Println("Leave blank to set this up later with /setup and manual editing.")
	fmt.Print("> ")
	operatorLine, err := reader.ReadString('\n')
	if err != nil && operatorLine == "" {
		return fmt.Errorf("read operator pane: %w", err)
	}
	operatorPane := strings.TrimSpace(operatorLine)

	cfgStore := registry.NewConfigStore(paths.ConfigJSON)
	if err := cfgStore.Set(registry.Config{OperatorPane: operatorPane}); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	envPath := paths.ConfigJSON[:len(paths.ConfigJSON)-len("config.json")] + "env"
	if err := os.WriteFile(envPath, []byte("CABRIDGE_BOT_TOKEN="+token+"\n"), 0o600); err != nil {
		return fmt.Errorf("write token file: %w", err)
	}

	fmt.Println()
	fmt.Printf("Wrote %s and %s.\n", paths.ConfigJSON, envPath)
	fmt.Println("Export CABRIDGE_BOT_TOKEN (or `set -a; source` the env file), invite the bot")
	fmt.Println("to a group with topics enabled, run /setup there, then start: cabridge")
	return nil
}

func runRecover() error {
	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("determine home directory: %w", err)
	}
	paths := daemon.DefaultPaths(home)

	reg := registry.New(paths.RegistryJSON)
	if err := reg.Load(); err != nil {
		return fmt.Errorf("load registry: %w", err)
	}

	result, err := registry.RecoverFromMarkers(home, reg)
	if err != nil {
		return fmt.Errorf("recovery walk: %w", err)
	}
	if err := reg.Save(); err != nil {
		return fmt.Errorf("save registry: %w", err)
	}

	fmt.Printf("Recovery complete: reinserted=%d pending=%d corrupt=%d\n",
		len(result.Reinserted), len(result.Pending), len(result.Corrupt))
	for _, p := range result.Pending {
		fmt.Printf("  pending: %s (since %s)\n", p.TaskDir, p.PendingSince)
	}
	for _, c := range result.Corrupt {
		fmt.Printf("  corrupt: %s\n", c)
	}
	return nil
}
