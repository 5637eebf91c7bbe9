// contentctl is the command-line client for the content automation service.
package main

import (
	"flag"
	"fmt"
	"os"

	"lessonsync/internal/config"
	"lessonsync/internal/contentapi"
	"lessonsync/internal/history"
	"lessonsync/internal/logging"
	"lessonsync/internal/store"
	"lessonsync/internal/teachermode"
)

var (
	configPath = flag.String("config", "", "path to config file")
	verbose    = flag.Bool("v", false, "log debug output")
)

func main() {
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
		os.Exit(1)
	}

	cmd := flag.Arg(0)
	args := flag.Args()[1:]

	var err error
	switch cmd {
	case "get":
		err = cmdGet(args)
	case "push":
		err = cmdPush(args)
	case "watch":
		err = cmdWatch(args)
	case "diff":
		err = cmdDiff(args)
	case "history":
		err = cmdHistory(args)
	case "teacher":
		err = cmdTeacher(args)
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		usage()
		os.Exit(1)
	}
	if err != nil {
		printError(err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `contentctl - Edit lesson content through the automation service

Usage: contentctl [options] <command> [args]

Commands:
  get <path>              Print a remote document
  push <file> <path>      Save a local JSON file as a remote document
  watch <file> <path>     Autosave a local JSON file while it is edited
  diff <file> <path>      Compare a local file with the remote document
  history [path]          Show recent save attempts
  teacher [on|off|status] Show or change teacher mode
  help                    Show this help message

Options:
  -config <path>  Path to config file (default: `+config.ConfigPath()+`)
  -v              Log debug output

Environment:
  LESSONSYNC_AUTOMATION_URL    Automation service base URL
  LESSONSYNC_AUTOMATION_TOKEN  Teacher token sent with every request`)
}

// app bundles what every command needs.
type app struct {
	cfg    *config.Config
	logger *logging.Logger
	client *contentapi.Client
	store  *store.Store
	mode   *teachermode.Mode
}

func setup() (*app, error) {
	cfg, err := config.Load(*configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if *verbose {
		cfg.Logging.Level = "debug"
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, err
	}

	logger, err := cfg.NewLogger("contentctl")
	if err != nil {
		return nil, err
	}
	logging.SetDefault(logger)

	st, err := store.Open(cfg.Storage.Path)
	if err != nil {
		logger.Close()
		return nil, err
	}

	return &app{
		cfg:    cfg,
		logger: logger,
		client: contentapi.NewClient(contentapi.ClientConfig{
			BaseURL: cfg.Automation.BaseURL,
			Token:   cfg.Automation.Token,
			Timeout: cfg.RequestTimeout(),
			Logger:  logger,
		}),
		store: st,
		mode:  teachermode.Init(st),
	}, nil
}

func (a *app) recorder() *history.Recorder {
	return history.NewRecorder(a.store, a.cfg.Storage.HistoryLimit, a.logger)
}

func (a *app) close() {
	a.store.Close()
	a.logger.Close()
}
