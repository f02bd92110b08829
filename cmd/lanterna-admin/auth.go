package main

import (
	"bufio"
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/lanterna/lanterna-api/config"
	"github.com/lanterna/lanterna-api/internal/adapters/localauth"
	redisadapter "github.com/lanterna/lanterna-api/internal/adapters/redis"
	"github.com/lanterna/lanterna-api/internal/data"
	domainauth "github.com/lanterna/lanterna-api/internal/domain/auth"
	"github.com/lanterna/lanterna-api/internal/ports"
	"github.com/lanterna/lanterna-api/internal/service"
)

type statsOptions struct {
	Days int
}

func parseStatsFlags(args []string) (statsOptions, error) {
	fs := flag.NewFlagSet("auth-stats", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	opts := statsOptions{}
	fs.IntVar(&opts.Days, "days", 7, "Window in days (1-365)")
	if err := fs.Parse(args); err != nil {
		return statsOptions{}, err
	}
	if opts.Days < 1 || opts.Days > 365 {
		return statsOptions{}, errors.New("--days must be between 1 and 365")
	}
	return opts, nil
}

func runAuthStats(cmdCtx *commandContext, args []string) error {
	opts, err := parseStatsFlags(args)
	if err != nil {
		return err
	}
	return withDatabase(cmdCtx, defaultCommandTimeout, func(ctx context.Context, db *sql.DB) error {
		audit, err := service.NewAuthLogger(service.AuthLoggerOptions{
			Store:  data.NewAuditRepo(db),
			Logger: cmdCtx.Logger,
		})
		if err != nil {
			return err
		}
		defer audit.Close()

		stats, err := audit.Statistics(ctx, opts.Days)
		if err != nil {
			return fmt.Errorf("auth statistics: %w", err)
		}
		return printStatistics(cmdCtx.Stdout, stats)
	})
}

func printStatistics(w io.Writer, stats domainauth.Statistics) error {
	if err := writef(w, "Auth log since %s (%d days)\n", stats.Since.Format(time.RFC3339), stats.Days); err != nil {
		return err
	}
	if err := writef(w, "Unique principals: %d\nFallback admin checks: %d\n\n", stats.UniquePrincipals, stats.FallbackChecks); err != nil {
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	if err := writef(tw, "ACTION\tTOTAL\tFAILURES\n"); err != nil {
		return err
	}
	for _, a := range stats.Actions {
		if err := writef(tw, "%s\t%d\t%d\n", a.Action, a.Total, a.Failures); err != nil {
			return err
		}
	}
	return tw.Flush()
}

func runCleanSessions(cmdCtx *commandContext, _ []string) error {
	return withRedis(cmdCtx, func(ctx context.Context, client redis.UniversalClient) error {
		sessions, err := service.NewSessionManager(service.SessionManagerOptions{
			Store:  sessionStore(cmdCtx.Config.Redis, client),
			Config: service.SessionManagerConfig{Duration: cmdCtx.Config.Auth.SessionDuration},
			Logger: cmdCtx.Logger,
		})
		if err != nil {
			return err
		}
		n, err := sessions.CleanExpired(ctx)
		if err != nil {
			return fmt.Errorf("clean sessions: %w", err)
		}
		return writef(cmdCtx.Stdout, "Invalidated %d expired session(s)\n", n)
	})
}

func sessionStore(cfg config.RedisConfig, client redis.UniversalClient) *redisadapter.SessionStore {
	if cfg.SessionPrefix == "" {
		return redisadapter.NewSessionStore(client)
	}
	return redisadapter.NewSessionStoreWithPrefix(client, cfg.SessionPrefix)
}

type purgeOptions struct {
	OlderThan   time.Duration
	Yes         bool
	AllowRemote bool
}

func parsePurgeFlags(args []string, defaultRetention time.Duration) (purgeOptions, error) {
	fs := flag.NewFlagSet("purge-audit", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	opts := purgeOptions{}
	fs.DurationVar(&opts.OlderThan, "older-than", defaultRetention, "Delete entries older than this")
	fs.BoolVar(&opts.Yes, "yes", false, "Skip the confirmation prompt")
	fs.BoolVar(&opts.AllowRemote, "allow-remote", false, "Permit running against a non-local database host")
	if err := fs.Parse(args); err != nil {
		return purgeOptions{}, err
	}
	if opts.OlderThan < 24*time.Hour {
		return purgeOptions{}, errors.New("--older-than must be at least 24h")
	}
	return opts, nil
}

func runPurgeAudit(cmdCtx *commandContext, args []string) error {
	opts, err := parsePurgeFlags(args, cmdCtx.Config.Reaper.AuditRetention)
	if err != nil {
		return err
	}
	if err := guardRemoteHost(cmdCtx, opts.AllowRemote, "delete auth log entries"); err != nil {
		return err
	}
	cutoff := time.Now().Add(-opts.OlderThan).UTC()
	if !opts.Yes {
		warning := fmt.Sprintf("About to delete auth log entries older than %s.", cutoff.Format(time.RFC3339))
		if err := requireConfirmation(cmdCtx, warning, ""); err != nil {
			return err
		}
	}
	return withDatabase(cmdCtx, defaultCommandTimeout, func(ctx context.Context, db *sql.DB) error {
		n, err := data.NewAuditRepo(db).DeleteOlderThan(ctx, cutoff)
		if err != nil {
			return fmt.Errorf("purge audit: %w", err)
		}
		return writef(cmdCtx.Stdout, "Deleted %d auth log entries\n", n)
	})
}

type createUserOptions struct {
	Email string
	Role  domainauth.Role
}

func parseCreateUserFlags(args []string) (createUserOptions, error) {
	fs := flag.NewFlagSet("create-user", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	var email, role string
	fs.StringVar(&email, "email", "", "Account email (required)")
	fs.StringVar(&role, "role", string(domainauth.RoleUser), "Initial role: user, moderator or admin")
	if err := fs.Parse(args); err != nil {
		return createUserOptions{}, err
	}
	email = domainauth.NormalizeEmail(email)
	if email == "" {
		return createUserOptions{}, errors.New("--email is required")
	}
	r := domainauth.Role(strings.ToLower(strings.TrimSpace(role)))
	if !r.Valid() {
		return createUserOptions{}, fmt.Errorf("invalid role %q", role)
	}
	return createUserOptions{Email: email, Role: r}, nil
}

// readPassword takes the password from LANTERNA_PASSWORD or the first stdin line.
func readPassword(cmdCtx *commandContext) (string, error) {
	if pw := os.Getenv("LANTERNA_PASSWORD"); pw != "" {
		return pw, nil
	}
	if err := write(cmdCtx.Stdout, "Password: "); err != nil {
		return "", err
	}
	line, err := bufio.NewReader(cmdCtx.Stdin).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func runCreateUser(cmdCtx *commandContext, args []string) error {
	opts, err := parseCreateUserFlags(args)
	if err != nil {
		return err
	}
	if cmdCtx.Config.Auth.Mode != config.AuthModeLocal {
		return errors.New("create-user requires AUTH_MODE=local; provision accounts in the identity provider instead")
	}
	password, err := readPassword(cmdCtx)
	if err != nil {
		return err
	}

	return withDatabase(cmdCtx, defaultCommandTimeout, func(ctx context.Context, db *sql.DB) error {
		provider, err := localauth.NewProvider(data.NewCredentialRepo(db), localauth.Config{
			SigningKey: []byte(cmdCtx.Config.Auth.Local.SigningKey),
			Issuer:     cmdCtx.Config.Auth.Local.Issuer,
		})
		if err != nil {
			return err
		}
		principal, err := provider.SignUp(ctx, ports.SignInInput{Email: opts.Email, Password: password})
		if err != nil {
			return fmt.Errorf("create account: %w", err)
		}
		profiles := data.NewProfileRepo(db)
		profile, err := profiles.UpsertProfile(ctx, principal, opts.Role)
		if err != nil {
			return fmt.Errorf("create profile: %w", err)
		}
		return writef(cmdCtx.Stdout, "Created %s (%s) with role %s\n", profile.Email, profile.ID, profile.Role)
	})
}

type grantRoleOptions struct {
	ID    string
	Email string
	Role  domainauth.Role
}

func parseGrantRoleFlags(args []string) (grantRoleOptions, error) {
	fs := flag.NewFlagSet("grant-role", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	var opts grantRoleOptions
	var role string
	fs.StringVar(&opts.ID, "id", "", "Principal id")
	fs.StringVar(&opts.Email, "email", "", "Account email (local mode lookup)")
	fs.StringVar(&role, "role", "", "Role to store: user, moderator or admin (required)")
	if err := fs.Parse(args); err != nil {
		return grantRoleOptions{}, err
	}
	opts.Email = domainauth.NormalizeEmail(opts.Email)
	if (opts.ID == "") == (opts.Email == "") {
		return grantRoleOptions{}, errors.New("exactly one of --id or --email is required")
	}
	opts.Role = domainauth.Role(strings.ToLower(strings.TrimSpace(role)))
	if !opts.Role.Valid() {
		return grantRoleOptions{}, fmt.Errorf("invalid role %q", role)
	}
	return opts, nil
}

func runGrantRole(cmdCtx *commandContext, args []string) error {
	opts, err := parseGrantRoleFlags(args)
	if err != nil {
		return err
	}
	return withDatabase(cmdCtx, defaultCommandTimeout, func(ctx context.Context, db *sql.DB) error {
		id := opts.ID
		if id == "" {
			principal, _, lookupErr := data.NewCredentialRepo(db).GetByEmail(ctx, opts.Email)
			if lookupErr != nil {
				return fmt.Errorf("look up %s: %w", opts.Email, lookupErr)
			}
			id = principal.ID
		}
		if err := data.NewProfileRepo(db).SetRole(ctx, id, opts.Role); err != nil {
			return fmt.Errorf("set role: %w", err)
		}
		return writef(cmdCtx.Stdout,
			"Role of %s set to %s. Running servers keep cached decisions for up to %s; use `clear-cache %s` in the shell to apply now.\n",
			id, opts.Role, cmdCtx.Config.Auth.AdminCacheTTL, id)
	})
}

func runListAdmins(cmdCtx *commandContext, _ []string) error {
	return withDatabase(cmdCtx, defaultCommandTimeout, func(ctx context.Context, db *sql.DB) error {
		admins, err := data.NewProfileRepo(db).ListByRole(ctx, domainauth.RoleAdmin)
		if err != nil {
			return fmt.Errorf("list admins: %w", err)
		}
		tw := tabwriter.NewWriter(cmdCtx.Stdout, 0, 0, 2, ' ', 0)
		if err := writef(tw, "ID\tEMAIL\tLOGINS\tLAST LOGIN\n"); err != nil {
			return err
		}
		for _, p := range admins {
			last := "never"
			if p.LastLoginAt != nil {
				last = p.LastLoginAt.Format(time.RFC3339)
			}
			if err := writef(tw, "%s\t%s\t%d\t%s\n", p.ID, p.Email, p.LoginCount, last); err != nil {
				return err
			}
		}
		return tw.Flush()
	})
}
