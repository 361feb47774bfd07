// schedscan — консольный клиент сессии SchedScan.
//
// Использование:
//
//	schedscan [--config path] [--metrics] <command> [flags]
//
// Команды: login, register, logout, whoami, profile, status.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/pribylovaa/schedscan-client/internal/clients"
	"github.com/pribylovaa/schedscan-client/internal/config"
	apierrors "github.com/pribylovaa/schedscan-client/internal/errors"
	"github.com/pribylovaa/schedscan-client/internal/metrics"
	"github.com/pribylovaa/schedscan-client/internal/models"
	"github.com/pribylovaa/schedscan-client/internal/session"
	"github.com/pribylovaa/schedscan-client/internal/storage"
)

const (
	envLocal = "local"
	envDev   = "dev"
	envProd  = "prod"
)

const passwordEnv = "SCHEDSCAN_PASSWORD"

type app struct {
	sess   *session.Session
	stdin  io.Reader
	stdout io.Writer
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("schedscan", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to config file")
	dumpMetrics := fs.Bool("metrics", false, "print client metrics to stderr on exit")
	fs.Usage = func() {
		fmt.Fprintln(fs.Output(), "usage: schedscan [--config path] [--metrics] <login|register|logout|whoami|profile|status> [flags]")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return 2
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		return 1
	}

	log := setupLogger(cfg.Env)
	slog.SetDefault(log)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := openStore(ctx, cfg.Storage)
	if err != nil {
		log.Error("storage_open_failed", slog.String("driver", cfg.Storage.Driver), slog.String("err", err.Error()))
		return 1
	}
	defer func() {
		if cerr := closeStore(); cerr != nil {
			log.Warn("storage_close_failed", slog.String("err", cerr.Error()))
		}
	}()

	reg := prometheus.NewRegistry()
	creds := storage.NewCredentials(store)

	d, err := clients.New(*cfg, creds, clients.Options{Logger: log, Metrics: metrics.New(reg)})
	if err != nil {
		log.Error("clients_init_failed", slog.String("err", err.Error()))
		return 1
	}
	defer d.Close()

	log.Debug("clients_initialized", slog.String("base_url", cfg.API.BaseURL))

	a := &app{sess: session.New(d, creds, log), stdin: os.Stdin, stdout: os.Stdout}

	code := a.dispatch(ctx, fs.Arg(0), fs.Args()[1:])

	if *dumpMetrics {
		printMetrics(os.Stderr, reg)
	}

	return code
}

func (a *app) dispatch(ctx context.Context, cmd string, args []string) int {
	var err error

	switch cmd {
	case "login":
		err = a.login(ctx, args)
	case "register":
		err = a.register(ctx, args)
	case "logout":
		err = a.sess.Logout(ctx)
		if err == nil {
			fmt.Fprintln(a.stdout, "logged out")
		}
	case "whoami":
		err = a.whoami(ctx)
	case "profile":
		err = a.profile(ctx, args)
	case "status":
		err = a.status(ctx)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", cmd)
		return 2
	}

	if errors.Is(err, flag.ErrHelp) {
		return 2
	}
	if err != nil {
		printError(os.Stderr, err)
		return 1
	}

	return 0
}

func (a *app) login(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("login", flag.ContinueOnError)
	email := fs.String("email", "", "account email")
	password := fs.String("password", "", "password (or "+passwordEnv+", or stdin)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	pw, err := a.readPassword(*password)
	if err != nil {
		return err
	}

	sess, err := a.sess.Login(ctx, *email, pw)
	if err != nil {
		return err
	}

	fmt.Fprintf(a.stdout, "logged in as %s <%s>\n", sess.User.FullName(), sess.User.Email)
	return nil
}

func (a *app) register(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("register", flag.ContinueOnError)
	var in models.RegisterInput
	fs.StringVar(&in.Email, "email", "", "account email")
	fs.StringVar(&in.Password, "password", "", "password (or "+passwordEnv+", or stdin)")
	fs.StringVar(&in.PasswordConfirm, "password2", "", "password confirmation")
	fs.StringVar(&in.FirstName, "first-name", "", "first name")
	fs.StringVar(&in.LastName, "last-name", "", "last name")
	fs.StringVar(&in.ProfilePicture, "picture", "", "path to a profile picture")
	if err := fs.Parse(args); err != nil {
		return err
	}

	pw, err := a.readPassword(in.Password)
	if err != nil {
		return err
	}
	in.Password = pw

	sess, err := a.sess.Register(ctx, in)
	if err != nil {
		return err
	}

	fmt.Fprintf(a.stdout, "registered %s <%s> (id %d)\n", sess.User.FullName(), sess.User.Email, sess.User.ID)
	return nil
}

func (a *app) whoami(ctx context.Context) error {
	u, err := a.sess.CurrentUser(ctx)
	if err != nil {
		return err
	}

	return printJSON(a.stdout, u)
}

func (a *app) profile(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("profile", flag.ContinueOnError)
	first := fs.String("first-name", "", "new first name")
	last := fs.String("last-name", "", "new last name")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var upd models.ProfileUpdate
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "first-name":
			upd.FirstName = first
		case "last-name":
			upd.LastName = last
		}
	})
	if upd.FirstName == nil && upd.LastName == nil {
		return fmt.Errorf("nothing to update: pass --first-name and/or --last-name")
	}

	u, err := a.sess.UpdateProfile(ctx, upd)
	if err != nil {
		return err
	}

	return printJSON(a.stdout, u)
}

// status — локальное состояние сессии и доступность сервера.
func (a *app) status(ctx context.Context) error {
	if a.sess.IsAuthenticated(ctx) {
		if u, ok := a.sess.StoredUser(ctx); ok {
			fmt.Fprintf(a.stdout, "session: present (%s <%s>)\n", u.FullName(), u.Email)
		} else {
			fmt.Fprintln(a.stdout, "session: present")
		}
	} else {
		fmt.Fprintln(a.stdout, "session: absent")
	}

	if err := a.sess.Ping(ctx); err != nil {
		fmt.Fprintln(a.stdout, "server: unreachable")
		return err
	}

	fmt.Fprintln(a.stdout, "server: ok")
	return nil
}

// readPassword: флаг, затем переменная окружения, затем первая строка stdin.
func (a *app) readPassword(flagValue string) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}
	if v := os.Getenv(passwordEnv); v != "" {
		return v, nil
	}

	line, err := bufio.NewReader(a.stdin).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read password: %w", err)
	}

	return strings.TrimRight(line, "\r\n"), nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printError выводит ошибку в виде, пригодном для пользователя.
func printError(w io.Writer, err error) {
	var ae *apierrors.Error
	if !errors.As(err, &ae) {
		fmt.Fprintln(w, "error:", err)
		return
	}

	switch ae.Kind {
	case apierrors.KindNetwork:
		fmt.Fprintln(w, "error: server unreachable, check your connection")
	case apierrors.KindAuthorization:
		if ae.RefreshErr != nil || ae.Message == "" {
			fmt.Fprintln(w, "error: session expired, please log in again")
		} else {
			fmt.Fprintln(w, "error:", ae.Message)
		}
	default:
		msg := ae.Message
		if msg == "" || len(ae.Fields) > 0 {
			msg = ae.Kind.String() + " error"
		}
		fmt.Fprintln(w, "error:", msg)
	}

	for _, m := range ae.FieldMessages() {
		fmt.Fprintln(w, "  -", m)
	}
}

func printMetrics(w io.Writer, reg *prometheus.Registry) {
	mfs, err := reg.Gather()
	if err != nil {
		fmt.Fprintln(w, "metrics:", err)
		return
	}

	for _, mf := range mfs {
		for _, m := range mf.GetMetric() {
			labels := make([]string, 0, len(m.GetLabel()))
			for _, lp := range m.GetLabel() {
				labels = append(labels, lp.GetName()+"="+lp.GetValue())
			}

			value := m.GetCounter().GetValue()
			if h := m.GetHistogram(); h != nil {
				value = float64(h.GetSampleCount())
			}

			fmt.Fprintf(w, "%s{%s} %g\n", mf.GetName(), strings.Join(labels, ","), value)
		}
	}
}

// setupLogger: CLI пишет диагностику в stderr, stdout остаётся для результата.
func setupLogger(env string) *slog.Logger {
	switch env {
	case envLocal:
		return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	case envDev:
		return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	case envProd:
		return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	default:
		return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	}
}
