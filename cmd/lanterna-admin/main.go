package main

import (
	"bufio"
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/lanterna/lanterna-api/config"
	"github.com/lanterna/lanterna-api/internal/bootstrap"
	"github.com/lanterna/lanterna-api/internal/migrate"
)

type commandFn func(ctx *commandContext, args []string) error

type command struct {
	name        string
	description string
	run         commandFn
}

type commandContext struct {
	Ctx    context.Context
	Logger *slog.Logger
	Config config.AppConfig
	Stdin  io.Reader
	Stdout io.Writer
}

const (
	defaultMigrationTimeout = 5 * time.Minute
	defaultCommandTimeout   = time.Minute
)

func main() {
	logger := bootstrap.InitLogger(os.Getenv("LOG_LEVEL"))

	if len(os.Args) < 2 {
		if err := printUsage(os.Stdout); err != nil {
			logger.Error("print usage failed", "error", err)
		}
		os.Exit(2) //nolint:forbidigo // CLI must exit with failure status when no command is provided
	}

	cmdName := os.Args[1]
	cmd, ok := commands()[cmdName]
	if !ok {
		if err := writef(os.Stderr, "unknown command %q\n\n", cmdName); err != nil {
			logger.Error("print unknown command message failed", "error", err)
		}
		if err := printUsage(os.Stdout); err != nil {
			logger.Error("print usage failed", "error", err)
		}
		os.Exit(2) //nolint:forbidigo // CLI must exit with failure status when command is unknown
	}

	cfg, err := bootstrap.LoadConfig()
	if err != nil {
		logger.ErrorContext(context.Background(), "load config", "error", err)
		os.Exit(1) //nolint:forbidigo // CLI must signal configuration load failure to shell scripts
	}

	cmdCtx := &commandContext{
		Ctx:    context.Background(),
		Logger: logger,
		Config: cfg,
		Stdin:  os.Stdin,
		Stdout: os.Stdout,
	}
	if runErr := cmd.run(cmdCtx, os.Args[2:]); runErr != nil {
		logger.ErrorContext(cmdCtx.Ctx, "command failed", "command", cmdName, "error", runErr)
		os.Exit(1) //nolint:forbidigo // CLI must propagate command execution failure to callers
	}
}

func commands() map[string]command {
	return map[string]command{
		"migrate": {
			name:        "migrate",
			description: "Run database migrations (--status to list them)",
			run:         runMigrations,
		},
		"auth-stats": {
			name:        "auth-stats",
			description: "Summarise the auth log for the last N days",
			run:         runAuthStats,
		},
		"clean-sessions": {
			name:        "clean-sessions",
			description: "Invalidate every expired session in Redis",
			run:         runCleanSessions,
		},
		"purge-audit": {
			name:        "purge-audit",
			description: "Delete auth log entries older than the retention window",
			run:         runPurgeAudit,
		},
		"create-user": {
			name:        "create-user",
			description: "Create a local-credential account and its profile",
			run:         runCreateUser,
		},
		"grant-role": {
			name:        "grant-role",
			description: "Change the role stored on a profile",
			run:         runGrantRole,
		},
		"list-admins": {
			name:        "list-admins",
			description: "List profiles holding the admin role",
			run:         runListAdmins,
		},
		"shell": {
			name:        "shell",
			description: "Interactive operator session against a running server",
			run:         runShell,
		},
	}
}

func printUsage(w io.Writer) error {
	if err := writef(w, "Usage: lanterna-admin <command> [flags]\n\n"); err != nil {
		return err
	}
	if err := writef(w, "Available commands:\n"); err != nil {
		return err
	}
	names := make([]string, 0, len(commands()))
	for name := range commands() {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		c := commands()[name]
		if err := writef(w, "  %-16s %s\n", c.name, c.description); err != nil {
			return err
		}
	}
	return nil
}

type migrateOptions struct {
	Timeout time.Duration
	Status  bool
}

func parseMigrateFlags(args []string) (migrateOptions, error) {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	opts := migrateOptions{}
	fs.DurationVar(&opts.Timeout, "timeout", defaultMigrationTimeout, "Maximum duration to wait for migrations to complete")
	fs.BoolVar(&opts.Status, "status", false, "List migrations and whether they are applied, without applying")

	if err := fs.Parse(args); err != nil {
		return migrateOptions{}, err
	}
	if opts.Timeout <= 0 {
		return migrateOptions{}, errors.New("--timeout must be greater than zero")
	}
	return opts, nil
}

func runMigrations(cmdCtx *commandContext, args []string) error {
	opts, err := parseMigrateFlags(args)
	if err != nil {
		return err
	}

	return withDatabase(cmdCtx, opts.Timeout, func(ctx context.Context, db *sql.DB) error {
		if opts.Status {
			statuses, statusErr := migrate.Status(ctx, db)
			if statusErr != nil {
				return fmt.Errorf("migration status: %w", statusErr)
			}
			return printMigrationStatus(cmdCtx.Stdout, statuses)
		}

		cmdCtx.Logger.Info("running database migrations")
		if migrateErr := bootstrap.RunMigrations(ctx, db, cmdCtx.Logger); migrateErr != nil {
			return fmt.Errorf("run migrations: %w", migrateErr)
		}
		cmdCtx.Logger.Info("migrations completed successfully")
		return nil
	})
}

func printMigrationStatus(w io.Writer, statuses []migrate.MigrationStatus) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	if err := writef(tw, "VERSION\tAPPLIED\n"); err != nil {
		return err
	}
	for _, s := range statuses {
		if err := writef(tw, "%s\t%t\n", s.Version, s.Applied); err != nil {
			return err
		}
	}
	return tw.Flush()
}

func withDatabase(
	cmdCtx *commandContext,
	timeout time.Duration,
	f func(context.Context, *sql.DB) error,
) error {
	ctx, stop := signal.NotifyContext(cmdCtx.Ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	db, err := bootstrap.ConnectDB(bootstrap.DatabaseConfig{
		DBConfig: cmdCtx.Config.Postgres,
		Logger:   cmdCtx.Logger,
	})
	if err != nil {
		return fmt.Errorf("connect db: %w", err)
	}
	defer func() {
		if cerr := db.Close(); cerr != nil {
			cmdCtx.Logger.Warn("db close failed", "error", cerr)
		}
	}()

	return f(ctx, db)
}

func guardRemoteHost(cmdCtx *commandContext, allow bool, action string) error {
	host := cmdCtx.Config.Postgres.Host
	if !isLikelyRemoteHost(host) {
		return nil
	}
	if !allow {
		return fmt.Errorf(
			"refusing to run against potentially remote database host %q; re-run with --allow-remote if this is intentional",
			host,
		)
	}
	return requireConfirmation(cmdCtx, fmt.Sprintf("This operation will %s on %q.", action, host), host)
}

func isLikelyRemoteHost(host string) bool {
	h := strings.ToLower(strings.TrimSpace(host))
	if h == "" {
		return false
	}
	if h == "localhost" || h == "127.0.0.1" || h == "::1" {
		return false
	}
	if strings.HasSuffix(h, ".local") {
		return false
	}
	if ip := net.ParseIP(h); ip != nil {
		return !ip.IsLoopback()
	}
	return true
}

// requireConfirmation prints warning and reads one line; it succeeds only when
// the line equals expected ("y"/"yes" when expected is empty).
func requireConfirmation(cmdCtx *commandContext, warning, expected string) error {
	if err := writeln(cmdCtx.Stdout, warning); err != nil {
		return fmt.Errorf("print confirmation warning: %w", err)
	}
	prompt := "Continue? [y/N]: "
	if expected != "" {
		prompt = fmt.Sprintf("Type %q to continue or press enter to abort: ", expected)
	}
	if err := write(cmdCtx.Stdout, prompt); err != nil {
		return fmt.Errorf("print confirmation prompt: %w", err)
	}
	resp, err := bufio.NewReader(cmdCtx.Stdin).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("read confirmation: %w", err)
	}
	resp = strings.TrimSpace(resp)
	if expected != "" {
		if resp == expected {
			return nil
		}
		return errors.New("aborted by user")
	}
	switch strings.ToLower(resp) {
	case "y", "yes":
		return nil
	}
	return errors.New("aborted by user")
}

func writef(w io.Writer, format string, args ...any) error {
	_, err := fmt.Fprintf(w, format, args...)
	return err
}

func write(w io.Writer, args ...any) error {
	_, err := fmt.Fprint(w, args...)
	return err
}

func writeln(w io.Writer, args ...any) error {
	_, err := fmt.Fprintln(w, args...)
	return err
}
