package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/asaskevich/EventBus"
	"github.com/common-nighthawk/go-figure"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/jrsteele09/wanderwave-session/api"
	"github.com/jrsteele09/wanderwave-session/api/backendfake"
	"github.com/jrsteele09/wanderwave-session/credstore"
	"github.com/jrsteele09/wanderwave-session/internal/config"
	"github.com/jrsteele09/wanderwave-session/profile"
	"github.com/jrsteele09/wanderwave-session/session"
)

const (
	stubEmail    = "demo@wanderwave.local"
	stubPassword = "wanderwave"
)

var (
	errUsage       = errors.New("usage")
	errNotSignedIn = errors.New("not signed in")
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, errUsage) {
			os.Exit(2)
		}
		log.Fatal().Err(err).Msg("wanderwave failed")
	}
}

// app bundles everything a subcommand needs.
type app struct {
	cfg      config.Config
	creds    credstore.Store
	client   *api.Client
	store    *session.Store
	profiles *profile.Service
	registry *prometheus.Registry
}

func run(args []string) (returnError error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("recovered from panic")
			debug.PrintStack()
			returnError = errors.New("panic recovered")
		}
	}()

	global := flag.NewFlagSet("wanderwave", flag.ContinueOnError)
	envFile := global.String("env-file", ".env", "dotenv file loaded before reading the environment")
	stub := global.Bool("stub", false, "talk to an in-process fake backend seeded with "+stubEmail)
	quiet := global.Bool("quiet", false, "skip the banner")
	global.Usage = usage(global)
	if err := global.Parse(args); err != nil {
		return errUsage
	}
	if global.NArg() == 0 {
		global.Usage()
		return errUsage
	}

	cfg, err := config.Load(true, *envFile)
	if err != nil {
		return fmt.Errorf("config.Load: %w", err)
	}
	setupLogging(cfg)
	if !*quiet {
		displayAppname(cfg.GetAppName())
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	baseURL := cfg.GetAPIBaseURL()
	if *stub {
		fake, err := startStub()
		if err != nil {
			return err
		}
		defer fake.Close()
		baseURL = fake.URL()
	}

	a, err := newApp(ctx, cfg, baseURL)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.creds.Close(context.Background()); err != nil {
			log.Err(err).Msg("closing credential store")
		}
	}()

	return a.dispatch(ctx, global.Arg(0), global.Args()[1:])
}

func newApp(ctx context.Context, cfg config.Config, baseURL string) (*app, error) {
	creds, err := credstore.New(ctx, storeConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("credstore.New: %w", err)
	}

	client, err := api.New(baseURL, creds, api.WithTimeout(cfg.GetRequestTimeout()), api.WithLogger(log.Logger))
	if err != nil {
		return nil, fmt.Errorf("api.New: %w", err)
	}

	registry := prometheus.NewRegistry()
	metrics, err := session.NewMetrics(registry)
	if err != nil {
		return nil, err
	}

	bus := EventBus.New()
	profiles := profile.New(client)
	if err := profiles.Subscribe(bus); err != nil {
		return nil, err
	}

	store, err := session.New(client, creds,
		session.WithLogger(log.Logger),
		session.WithProfileFetcher(profiles),
		session.WithEventBus(bus),
		session.WithMetrics(metrics),
		session.WithRefreshLeeway(cfg.GetRefreshLeeway()),
	)
	if err != nil {
		return nil, fmt.Errorf("session.New: %w", err)
	}

	return &app{
		cfg:      cfg,
		creds:    creds,
		client:   client,
		store:    store,
		profiles: profiles,
		registry: registry,
	}, nil
}

func storeConfig(cfg config.StorageConfig) credstore.Config {
	return credstore.Config{
		Driver: cfg.GetCredentialStore(),
		File:   &credstore.FileConfig{Path: cfg.GetCredentialFile()},
		Redis: &credstore.RedisConfig{
			Addr:     cfg.GetRedisAddr(),
			Password: cfg.GetRedisPassword(),
			DB:       cfg.GetRedisDB(),
			Prefix:   cfg.GetRedisPrefix(),
		},
		SQLite: &credstore.SQLiteConfig{DSN: cfg.GetSQLiteDSN()},
	}
}

func startStub() (*backendfake.Backend, error) {
	fake := backendfake.New(backendfake.WithLogger(log.Logger)).Start()
	if _, err := fake.AddUser(stubEmail, stubPassword); err != nil {
		fake.Close()
		return nil, fmt.Errorf("seeding stub backend: %w", err)
	}
	log.Info().Str("url", fake.URL()).Str("email", stubEmail).Msg("stub backend started")
	return fake, nil
}

func setupLogging(cfg config.EnvConfig) {
	level, err := zerolog.ParseLevel(cfg.GetLogLevel())
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339

	if cfg.GetEnv() == "DEV" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
		return
	}
	log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}

func usage(fs *flag.FlagSet) func() {
	return func() {
		out := fs.Output()
		fmt.Fprintf(out, "Usage: wanderwave [flags] <command> [command flags]\n\nCommands:\n")
		for _, c := range commands {
			fmt.Fprintf(out, "  %-10s %s\n", c.name, c.summary)
		}
		fmt.Fprintf(out, "\nFlags:\n")
		fs.PrintDefaults()
	}
}
