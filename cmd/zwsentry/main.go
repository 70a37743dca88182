// zwsentry detects zero-width watermarks in text.
//
//	zwsentry scan [file]       Scan a file or stdin and print the verdict
//	zwsentry strip [file]      Print text with zero-width characters removed
//	zwsentry verify [file]     Ask the registry whether text was registered
//	zwsentry mode [mode]       Show or persist the scanning mode
//	zwsentry run [dir]         Scan a directory in the persisted mode
//	zwsentry watch [dir]       Run in auto-detect mode
//	zwsentry inspect [dir]     Run in selection-scan mode
//	zwsentry history           Show recent scans and verifications
//	zwsentry registry          List the zero-width characters recognised
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"zwsentry/internal/config"
	"zwsentry/internal/logging"
	"zwsentry/internal/store"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(newApp(os.Stdin, os.Stdout, os.Stderr).run(os.Args[1:]))
}

type app struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer

	configPath string
	cfg        *config.Config
	logger     *logging.Logger
}

func newApp(stdin io.Reader, stdout, stderr io.Writer) *app {
	return &app{stdin: stdin, stdout: stdout, stderr: stderr}
}

func (a *app) run(args []string) int {
	global := flag.NewFlagSet("zwsentry", flag.ContinueOnError)
	global.SetOutput(a.stderr)
	global.StringVar(&a.configPath, "config", "", "path to config file")
	global.Usage = a.usage
	if err := global.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	if global.NArg() < 1 {
		a.usage()
		return 1
	}

	cmd, rest := global.Arg(0), global.Args()[1:]

	var err error
	switch cmd {
	case "scan":
		err = a.cmdScan(rest)
	case "strip":
		err = a.cmdStrip(rest)
	case "verify":
		err = a.cmdVerify(rest)
	case "mode":
		err = a.cmdMode(rest)
	case "run":
		err = a.cmdRun(rest, "")
	case "watch":
		err = a.cmdRun(rest, "auto")
	case "inspect":
		err = a.cmdRun(rest, "selection")
	case "history":
		err = a.cmdHistory(rest)
	case "registry":
		err = a.cmdRegistry()
	case "version":
		fmt.Fprintf(a.stdout, "zwsentry %s\n", version)
	case "help", "-h", "--help":
		a.usage()
	default:
		fmt.Fprintf(a.stderr, "Unknown command: %s\n\n", cmd)
		a.usage()
		return 1
	}

	if a.logger != nil {
		_ = a.logger.Close()
	}
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(a.stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func (a *app) usage() {
	fmt.Fprintln(a.stderr, `zwsentry - Zero-width watermark detection

USAGE:
    zwsentry [-config <path>] <command> [options]

COMMANDS:
    scan [-json] [file]     Scan a file (or stdin) and print the verdict
    strip [file]            Print text with zero-width characters removed
    verify [file]           Check text against the provenance registry
    mode [off|auto|selection]
                            Show or persist the scanning mode
    run [dir]               Scan a directory in the persisted mode
    watch [dir]             Same as run, forcing auto-detect mode
    inspect [dir]           Same as run, forcing selection-scan mode
    history [-limit n]      Show recent scans and verifications
    registry                List the recognised zero-width characters
    version                 Print the version
    help                    Show this help message

INTERACTIVE COMMANDS (run, watch, inspect):
    Type text to scan it as a selection; :help lists the rest.

OPTIONS:
    -config <path>  Path to config file (default: ~/.zwsentry/config.toml)`)
}

// setup loads the configuration and builds the logger. Commands call it
// first so that usage errors do not touch the filesystem.
func (a *app) setup() error {
	path := a.configPath
	if path == "" {
		path = config.FindConfigFile()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	a.configPath = path

	lc, err := cfg.LoggerConfig()
	if err != nil {
		return err
	}
	lc.Component = "zwsentry"
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}
	var logger *logging.Logger
	if strings.EqualFold(lc.Output, "stderr") || lc.Output == "" {
		logger = logging.NewWithWriter(a.stderr, lc)
	} else if logger, err = logging.New(lc); err != nil {
		return err
	}
	logging.SetDefault(logger)

	a.cfg = cfg
	a.logger = logger
	return nil
}

func (a *app) openStore() (store.Store, error) {
	st, err := store.Open(a.cfg.Storage.Type, a.cfg.Storage.Path,
		store.WithBusyTimeout(a.cfg.Storage.BusyTimeoutMs))
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return st, nil
}

// readInput returns the text named by args: a file path, "-" or nothing
// for stdin. Input is capped at scan.max_text_bytes.
func (a *app) readInput(args []string) (text, source string, err error) {
	var r io.Reader = a.stdin
	source = "stdin"
	if len(args) > 0 && args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return "", "", err
		}
		defer f.Close()
		r = f
		source = args[0]
	}

	limit := a.cfg.Scan.MaxTextBytes
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return "", "", fmt.Errorf("read %s: %w", source, err)
	}
	if int64(len(data)) > limit {
		return "", "", fmt.Errorf("%s exceeds %d bytes", source, limit)
	}
	return string(data), source, nil
}
