package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/lanterna/lanterna-api/config"
	"github.com/lanterna/lanterna-api/internal/adminclient"
	"github.com/lanterna/lanterna-api/internal/util"
)

const shellPrompt = "lanterna> "

const shellHelp = `Commands:
  login <email> [password]   sign in (password falls back to LANTERNA_PASSWORD)
  status                     show the server-side session state
  me                         show the admitted principal
  stats [days]               auth log summary (default 7 days)
  extend                     extend the session now
  clear-cache [id ...]       drop cached admin decisions (all when no id)
  logout                     sign out
  help                       this text
  quit                       leave the shell
`

// lockedWriter serialises output from timer callbacks and the command loop.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}

type shellOptions struct {
	Client   *adminclient.Client
	Timeouts config.ClientConfig
	Out      io.Writer
	Logger   *slog.Logger

	// Test hooks; nil uses the system clock and time.AfterFunc.
	Clock     util.Clock
	AfterFunc adminclient.AfterFunc
}

type shell struct {
	client *adminclient.Client
	cfg    config.ClientConfig
	out    io.Writer
	logger *slog.Logger
	clock  util.Clock
	after  adminclient.AfterFunc

	timeouts *adminclient.TimeoutManager
}

func newShell(opts shellOptions) (*shell, error) {
	if opts.Client == nil {
		return nil, errors.New("shell: client is required")
	}
	if opts.Out == nil {
		opts.Out = io.Discard
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cfg := opts.Timeouts
	cfg.Sanitize()
	return &shell{
		client: opts.Client,
		cfg:    cfg,
		out:    &lockedWriter{w: opts.Out},
		logger: logger,
		clock:  opts.Clock,
		after:  opts.AfterFunc,
	}, nil
}

func runShell(cmdCtx *commandContext, _ []string) error {
	ctx, stop := signal.NotifyContext(cmdCtx.Ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := adminclient.New(adminclient.Options{BaseURL: cmdCtx.Config.Client.URL})
	if err != nil {
		return err
	}
	sh, err := newShell(shellOptions{
		Client:   client,
		Timeouts: cmdCtx.Config.Client,
		Out:      cmdCtx.Stdout,
		Logger:   cmdCtx.Logger,
	})
	if err != nil {
		return err
	}
	defer sh.close()

	if err := writef(sh.out, "Connected to %s. Type help for commands.\n", client.BaseURL()); err != nil {
		return err
	}
	scanner := bufio.NewScanner(cmdCtx.Stdin)
	for {
		if err := write(sh.out, shellPrompt); err != nil {
			return err
		}
		if !scanner.Scan() {
			return scanner.Err()
		}
		quit, execErr := sh.exec(ctx, scanner.Text())
		if execErr != nil {
			if werr := writef(sh.out, "error: %v\n", execErr); werr != nil {
				return werr
			}
		}
		if quit || ctx.Err() != nil {
			return nil
		}
	}
}

// exec runs one shell line. It reports whether the shell should exit.
func (s *shell) exec(ctx context.Context, line string) (bool, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false, nil
	}
	cmd, args := strings.ToLower(fields[0]), fields[1:]

	switch cmd {
	case "help":
		return false, write(s.out, shellHelp)
	case "quit", "exit":
		return true, nil
	case "login":
		return false, s.login(ctx, args)
	}

	if !s.client.HasSession() {
		return false, errors.New("not signed in; use login <email>")
	}
	if s.timeouts != nil {
		s.timeouts.Activity()
	}

	var err error
	switch cmd {
	case "status":
		err = s.status(ctx)
	case "me":
		err = s.me(ctx)
	case "stats":
		err = s.stats(ctx, args)
	case "extend":
		err = s.extend(ctx)
	case "clear-cache":
		err = s.clearCache(ctx, args)
	case "logout":
		err = s.logout(ctx)
	default:
		return false, fmt.Errorf("unknown command %q (try help)", cmd)
	}
	if adminclient.IsSessionLost(err) {
		s.stopTimeouts()
		s.client.ClearCredentials()
	}
	return false, err
}

func (s *shell) login(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errors.New("usage: login <email> [password]")
	}
	password := os.Getenv("LANTERNA_PASSWORD")
	if len(args) > 1 {
		password = args[1]
	}
	if password == "" {
		return errors.New("password required as second argument or in LANTERNA_PASSWORD")
	}

	s.stopTimeouts()
	resp, err := s.client.Login(ctx, args[0], password)
	if err != nil {
		return err
	}
	if err := s.startTimeouts(); err != nil {
		return err
	}
	return writef(s.out, "Signed in as %s (admin=%t via %s), session expires %s\n",
		resp.User.Email, resp.IsAdmin, resp.Method, resp.ExpiresAt.Format(time.RFC3339))
}

func (s *shell) startTimeouts() error {
	tm, err := adminclient.NewTimeoutManager(adminclient.TimeoutOptions{
		Timeout:        s.cfg.IdleTimeout,
		Warning:        s.cfg.WarningBefore,
		Absolute:       s.cfg.AbsoluteLimit,
		CheckInterval:  s.cfg.CheckInterval,
		ExtendThrottle: s.cfg.ExtendThrottle,

		SignOut:          s.client.Logout,
		ClearCredentials: s.client.ClearCredentials,
		CheckValid:       s.client.CheckValid,
		OnWarning: func(remaining time.Duration) {
			_ = writef(s.out, "\nwarning: session ends in %s without activity; run extend to stay signed in\n",
				util.FormatRemaining(remaining))
		},
		OnTimeout: func(reason adminclient.TimeoutReason) {
			_ = writef(s.out, "\nsession ended (%s)\n", reason)
		},
		OnRedirect: func(target string) {
			s.logger.Debug("client session redirect", "target", target)
		},
		Clock:     s.clock,
		AfterFunc: s.after,
		Logger:    s.logger,
	})
	if err != nil {
		return fmt.Errorf("session timeout: %w", err)
	}
	s.timeouts = tm
	tm.Start()
	return nil
}

func (s *shell) stopTimeouts() {
	if s.timeouts != nil {
		s.timeouts.Stop()
		s.timeouts = nil
	}
}

func (s *shell) status(ctx context.Context) error {
	st, err := s.client.Status(ctx)
	if err != nil {
		return err
	}
	if !st.Authenticated {
		return writef(s.out, "not authenticated (%s)\n", st.Reason)
	}
	idle := "n/a"
	if s.timeouts != nil {
		idle = util.FormatRemaining(s.timeouts.Remaining())
	}
	return writef(s.out, "authenticated, server session %s left, idle timeout in %s\n",
		util.FormatRemaining(time.Duration(st.RemainingSeconds)*time.Second), idle)
}

func (s *shell) me(ctx context.Context) error {
	me, err := s.client.Me(ctx)
	if err != nil {
		return err
	}
	return writef(s.out, "%s (%s) verified by %s, session started %s\n",
		me.User.Email, me.User.ID, me.Method, me.SessionStart.Format(time.RFC3339))
}

func (s *shell) stats(ctx context.Context, args []string) error {
	days := 7
	if len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil || n < 1 {
			return fmt.Errorf("invalid days %q", args[0])
		}
		days = n
	}
	st, err := s.client.Stats(ctx, days)
	if err != nil {
		return err
	}
	return printStatistics(s.out, st)
}

func (s *shell) extend(ctx context.Context) error {
	st, err := s.client.Extend(ctx)
	if err != nil {
		return err
	}
	if s.timeouts != nil {
		s.timeouts.Extend()
	}
	return writef(s.out, "session extended, %s left\n",
		util.FormatRemaining(time.Duration(st.RemainingSeconds)*time.Second))
}

func (s *shell) clearCache(ctx context.Context, ids []string) error {
	if err := s.client.ClearCache(ctx, ids...); err != nil {
		return err
	}
	if len(ids) == 0 {
		return writeln(s.out, "admin cache cleared")
	}
	return writef(s.out, "admin cache cleared for %s\n", strings.Join(ids, ", "))
}

func (s *shell) logout(ctx context.Context) error {
	s.stopTimeouts()
	err := s.client.Logout(ctx)
	if werr := writeln(s.out, "signed out"); werr != nil && err == nil {
		err = werr
	}
	return err
}

func (s *shell) close() {
	s.stopTimeouts()
}
