/*
Package main runs hound, a typeahead suggestion server for operations
consoles.

Hound keeps one prefetched index per configured dataset (patch windows,
Puppet environments, plans and tasks by default). Each index is fetched from a
remote endpoint once, answered from memory afterwards and refreshed when its
time to live runs out or a parameter its URL depends on changes.

# Usage

Serve MessagePack IPC over stdin/stdout:

	hound

Serve the JSON HTTP API instead:

	hound --http 127.0.0.1:7410

Run the interactive prompt for testing datasets by hand:

	hound -c --limit 5

# Configuration

Runtime configuration lives in [UserConfigDir]/hound/config.toml and is
created with defaults when missing:

	[server]
	listen = "127.0.0.1:7410"
	max_limit = 64

	[index]
	base_url = "http://localhost:8080"
	ttl_seconds = 86400
	prefetch_on_start = true

	[params]
	server = "1"
	environment = "production"

	[[dataset]]
	name = "puppet_plans"
	url = "/config/puppetServer/{server}/apiPlans/{environment}"
	tokenizer = "nonword"
	transform = "plans"

# IPC Protocol

Requests and responses are MessagePack maps on stdin and stdout:

	{"id": "q1", "action": "query", "dataset": "patch_windows", "q": "week sat", "l": 10}
	{"id": "q1", "d": "patch_windows", "s": [{"v": "Week 1 Sat 0200", "c": 1}], "c": 1, "g": 1, "t": 12}

	{"id": "r1", "action": "refresh", "dataset": "puppet_plans", "force": true}
	{"id": "p1", "action": "set_param", "param": "environment", "value": "staging"}
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/bastiangx/hound/internal/cli"
	"github.com/bastiangx/hound/internal/logger"
	"github.com/bastiangx/hound/pkg/config"
	"github.com/bastiangx/hound/pkg/console"
	"github.com/bastiangx/hound/pkg/server"
	"github.com/bastiangx/hound/pkg/suggest"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/log"
	"github.com/spf13/pflag"
)

const (
	Version = "0.3.0"
	AppName = "hound"
	gh      = "https://github.com/bastiangx/hound"
)

// sigHandler cancels the returned context on SIGINT or SIGTERM. A second
// signal exits immediately.
func sigHandler() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	c := make(chan os.Signal, 2)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-c
		fmt.Fprintf(os.Stderr, "\nExiting...\n")
		cancel()
		<-c
		os.Exit(1)
	}()
	return ctx
}

// main wires config, console and the chosen front end together; the
// packages own the logic.
func main() {
	ctx := sigHandler()
	defaultConfig := config.DefaultConfig()

	flags := pflag.NewFlagSet(AppName, pflag.ExitOnError)
	showVersion := flags.Bool("version", false, "Show current version")
	debugMode := flags.BoolP("debug", "d", false, "Toggle debug mode")
	jsonLogs := flags.Bool("json-logs", false, "Write logs as JSON")
	cliMode := flags.BoolP("cli", "c", false, "Run the interactive prompt -- useful for testing datasets")
	httpAddr := flags.String("http", "", "Serve the JSON HTTP API on this address instead of IPC (\"config\" uses server.listen)")
	configPath := flags.String("config", "", "Path to a custom config.toml file")
	rebuildConfig := flags.Bool("rebuild-config", false, "Rebuild the config file with defaults and exit")
	limit := flags.Int("limit", defaultConfig.CLI.DefaultLimit, "Number of suggestions per query in CLI mode (0 uses the dataset limit)")
	noPrefetch := flags.Bool("no-prefetch", false, "Do not fetch datasets on start")
	flags.Parse(os.Args[1:])

	if *showVersion {
		printVersion()
		os.Exit(0)
	}

	logger.Setup(*debugMode, *jsonLogs)

	if *rebuildConfig {
		path, err := config.RebuildConfigFile()
		if err != nil {
			log.Fatalf("Failed to rebuild config: %v", err)
		}
		fmt.Fprintf(os.Stderr, "Config rebuilt at %s\n", path)
		os.Exit(0)
	}

	appConfig, activePath, err := config.LoadConfigWithPriority(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	log.Debugf("Using config file: (%s)", config.GetActiveConfigPath(activePath))

	c, err := console.New(appConfig)
	if err != nil {
		log.Fatalf("Failed to build console: %v", err)
	}
	unsubscribe := c.Subscribe(func(ev suggest.Event) {
		if ev.Type == suggest.RefreshFailed {
			log.Warn("refresh failed", "dataset", ev.Index, "err", ev.Err)
		}
	})
	defer unsubscribe()

	if appConfig.Index.PrefetchOnStart && !*noPrefetch {
		if err := c.Prefetch(ctx, false); err != nil {
			log.Warnf("Prefetch incomplete: %v", err)
		}
	}

	switch {
	case *cliMode:
		log.SetReportTimestamp(false)
		handler := cli.NewInputHandler(c, os.Stderr, *limit)
		if err := handler.Start(ctx, os.Stdin); err != nil && !errors.Is(err, context.Canceled) {
			log.Fatalf("CLI error: %v", err)
		}

	case *httpAddr != "":
		addr := *httpAddr
		if addr == "config" {
			addr = appConfig.Server.Listen
		}
		showStartupInfo(c, config.GetActiveConfigPath(activePath), "http "+addr)
		if err := server.ListenAndServe(ctx, addr, server.NewHTTPHandler(c, appConfig.Server)); err != nil {
			log.Fatalf("HTTP server error: %v", err)
		}

	default:
		log.Debug("spawning IPC")
		showStartupInfo(c, config.GetActiveConfigPath(activePath), "ipc stdio")
		srv := server.NewServer(c, appConfig.Server)
		if err := srv.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Fatalf("Failed to start server: %v", err)
		}
	}
}

func printVersion() {
	banner := log.NewWithOptions(os.Stderr, log.Options{
		ReportCaller:    false,
		ReportTimestamp: false,
	})

	styles := log.DefaultStyles()
	styles.Values["version"] = lipgloss.NewStyle().Bold(true).
		Foreground(lipgloss.AdaptiveColor{Light: "#575279", Dark: "#e0def4"}).
		Background(lipgloss.AdaptiveColor{Light: "#f2e9e1", Dark: "#26233a"})
	styles.Values["gh"] = lipgloss.NewStyle().Italic(true).
		Foreground(lipgloss.AdaptiveColor{Light: "#575279", Dark: "#e0def4"})
	banner.SetStyles(styles)

	banner.Print("")
	banner.Print("[ hound ] Prefetched typeahead for operations consoles")
	banner.Print("", "version", Version)
	banner.Print("")
	banner.Print("use -h or --help to see available options")
	banner.Print("Github Repo", "gh", gh)
}

// showStartupInfo displays some basic info about the init process on stderr.
func showStartupInfo(c *console.Console, configPath, mode string) {
	currentLevel := log.GetLevel()
	log.SetLevel(log.InfoLevel)
	defer log.SetLevel(currentLevel)

	fmt.Fprintln(os.Stderr, "===========")
	fmt.Fprintln(os.Stderr, "   hound   ")
	fmt.Fprintln(os.Stderr, "===========")
	log.Infof("Version: %s", Version)
	log.Infof("Process ID: [ %d ]", os.Getpid())
	log.Infof("config: ( %s )", configPath)
	log.Infof("mode: %s", mode)
	for _, st := range c.Status() {
		log.Info("dataset", "name", st.Name, "state", st.State, "items", st.Items)
	}
	fmt.Fprintln(os.Stderr, "===========")
	fmt.Fprintln(os.Stderr, "Press Ctrl+C to exit")
}
