// portal is the student exam client. It logs in against the exam
// backend, lists and starts exams, and runs a timed attempt either in
// the terminal ("take") or behind a local HTTP/WebSocket server
// ("serve") for a browser front end.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"github.com/stemsi/exstem-portal/internal/apperror"
	"github.com/stemsi/exstem-portal/internal/config"
	"github.com/stemsi/exstem-portal/internal/logger"
	"github.com/stemsi/exstem-portal/internal/validator"
)

type command struct {
	name    string
	summary string
	// fullscreen commands own the terminal; their logs go to LOG_FILE
	// or nowhere.
	fullscreen bool
	run        func(ctx context.Context, cfg *config.Config, log zerolog.Logger, args []string) error
}

var commands = []command{
	{"login", "authenticate and store the credential", false, runLogin},
	{"logout", "remove the stored credential", false, runLogout},
	{"whoami", "show the logged-in student", false, runWhoami},
	{"exams", "list the exam catalog", false, runExams},
	{"start", "start an exam attempt", true, runStart},
	{"take", "take the running exam in the terminal", true, runTake},
	{"serve", "serve the portal API and exam stream over HTTP", false, runServe},
	{"reconcile", "retry unacknowledged exam completions", false, runReconcile},
}

func main() {
	if err := run(); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %s\n", apperror.MessageOf(err))
		os.Exit(exitCode(err))
	}
}

func run() error {
	if len(os.Args) < 2 || os.Args[1] == "-h" || os.Args[1] == "--help" || os.Args[1] == "help" {
		printUsage()
		return nil
	}

	name, args := os.Args[1], os.Args[2:]
	for _, cmd := range commands {
		if cmd.name != name {
			continue
		}

		// ─── Load Configuration ────────────────────────────────────────
		cfg := config.Load()

		// ─── Initialize Logger ─────────────────────────────────────────
		logFile, err := logger.OpenFile(cfg.LogFile)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		if logFile != nil {
			defer logFile.Close()
		}
		log := logger.Setup(cfg.LogLevel, cfg.LogFormat, logFile)
		if cmd.fullscreen && logFile == nil {
			log = zerolog.Nop()
		}

		// ─── Initialize Validator ──────────────────────────────────────
		validator.Setup()

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		return cmd.run(ctx, cfg, log, args)
	}

	printUsage()
	return fmt.Errorf("unknown command %q", name)
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "ExStem student portal.\n\nUsage:\n  portal <command> [flags]\n\nCommands:")
	for _, cmd := range commands {
		fmt.Fprintf(os.Stderr, "  %-10s %s\n", cmd.name, cmd.summary)
	}
	fmt.Fprintln(os.Stderr, "\nRun \"portal <command> --help\" for the flags of a command.")
}

// exitCode maps error kinds onto distinct process exit statuses.
func exitCode(err error) int {
	switch {
	case apperror.IsKind(err, apperror.KindValidation):
		return 2
	case apperror.IsKind(err, apperror.KindSessionInvalid):
		return 3
	case apperror.IsKind(err, apperror.KindTransport):
		return 4
	case apperror.IsKind(err, apperror.KindDataIntegrity):
		return 5
	default:
		return 1
	}
}

func newFlagSet(name string) *pflag.FlagSet {
	return pflag.NewFlagSet("portal "+name, pflag.ContinueOnError)
}

func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}
