package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/jrsteele09/wanderwave-session/api"
	"github.com/jrsteele09/wanderwave-session/session"
	"github.com/jrsteele09/wanderwave-session/token"
)

type command struct {
	name    string
	summary string
	run     func(a *app, ctx context.Context, args []string) error
}

var commands = []command{
	{"login", "exchange email and password for a session", (*app).login},
	{"register", "create an account and sign in", (*app).register},
	{"status", "restore the persisted session and print it", (*app).status},
	{"refresh", "trade the refresh credential for a new access credential", (*app).refresh},
	{"logout", "end the session on the server and locally", (*app).logout},
	{"profile", "print the signed-in user's profile", (*app).profile},
	{"watch", "keep the session fresh until interrupted", (*app).watch},
}

func (a *app) dispatch(ctx context.Context, name string, args []string) error {
	for _, c := range commands {
		if c.name == name {
			return c.run(a, ctx, args)
		}
	}
	fmt.Fprintf(os.Stderr, "unknown command %q\n", name)
	return errUsage
}

func parse(fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	return nil
}

func (a *app) login(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("login", flag.ContinueOnError)
	email := fs.String("email", "", "account email")
	password := fs.String("password", "", "account password")
	if err := parse(fs, args); err != nil {
		return err
	}
	if *email == "" || *password == "" {
		fmt.Fprintln(os.Stderr, "login requires -email and -password")
		return errUsage
	}

	if err := a.store.Login(ctx, *email, *password); err != nil {
		return err
	}
	printSession(os.Stdout, a.store.Snapshot())
	return nil
}

func (a *app) register(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("register", flag.ContinueOnError)
	var fields api.RegisterFields
	fs.StringVar(&fields.Username, "username", "", "username")
	fs.StringVar(&fields.Email, "email", "", "account email")
	fs.StringVar(&fields.Password, "password", "", "account password")
	fs.StringVar(&fields.FirstName, "first-name", "", "first name")
	fs.StringVar(&fields.LastName, "last-name", "", "last name")
	fs.StringVar(&fields.Status, "status", "", "status line")
	fs.StringVar(&fields.AboutMe, "about", "", "about me")
	avatar := fs.String("avatar", "", "path to an avatar image")
	if err := parse(fs, args); err != nil {
		return err
	}

	if *avatar != "" {
		f, err := os.Open(*avatar)
		if err != nil {
			return fmt.Errorf("opening avatar: %w", err)
		}
		defer f.Close()
		fields.Avatar = &api.Avatar{Filename: filepath.Base(*avatar), Content: f}
	}

	if err := a.store.Register(ctx, fields); err != nil {
		if ve, ok := asValidation(err); ok {
			for name, msgs := range ve.Fields {
				for _, msg := range msgs {
					fmt.Fprintf(os.Stderr, "%s: %s\n", name, msg)
				}
			}
		}
		return err
	}
	printSession(os.Stdout, a.store.Snapshot())
	return nil
}

func (a *app) status(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	remote := fs.Bool("remote", false, "also ask the backend to verify the access credential")
	if err := parse(fs, args); err != nil {
		return err
	}

	if err := a.store.CheckStatus(ctx); err != nil {
		log.Warn().Err(err).Msg("session could not be restored")
	}
	snapshot := a.store.Snapshot()
	printSession(os.Stdout, snapshot)

	if *remote && snapshot.AccessToken != "" {
		if err := a.client.VerifyToken(ctx, snapshot.AccessToken); err != nil {
			fmt.Println("remote:        rejected")
			return err
		}
		fmt.Println("remote:        valid")
	}
	return nil
}

func (a *app) refresh(ctx context.Context, args []string) error {
	if err := parse(flag.NewFlagSet("refresh", flag.ContinueOnError), args); err != nil {
		return err
	}
	if err := a.store.Refresh(ctx); err != nil {
		return err
	}
	printSession(os.Stdout, a.store.Snapshot())
	return nil
}

func (a *app) logout(ctx context.Context, args []string) error {
	if err := parse(flag.NewFlagSet("logout", flag.ContinueOnError), args); err != nil {
		return err
	}
	if err := a.store.Logout(ctx); err != nil {
		return err
	}
	fmt.Println("signed out")
	return nil
}

func (a *app) profile(ctx context.Context, args []string) error {
	if err := parse(flag.NewFlagSet("profile", flag.ContinueOnError), args); err != nil {
		return err
	}
	if err := a.store.CheckStatus(ctx); err != nil {
		return err
	}
	if !a.store.Authenticated() {
		return errNotSignedIn
	}

	p, ok := a.profiles.Current()
	if !ok {
		if err := a.profiles.Fetch(ctx); err != nil {
			return err
		}
		p, _ = a.profiles.Current()
	}
	out, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func (a *app) watch(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	interval := fs.Duration("interval", a.cfg.GetRefreshInterval(), "how often to check the credential expiry")
	metricsAddr := fs.String("metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9100")
	if err := parse(fs, args); err != nil {
		return err
	}

	if err := a.store.CheckStatus(ctx); err != nil {
		return err
	}
	if !a.store.Authenticated() {
		return errNotSignedIn
	}

	if *metricsAddr != "" {
		server := &http.Server{
			Addr:              *metricsAddr,
			Handler:           promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			log.Info().Str("addr", server.Addr).Msg("serving metrics")
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Err(err).Msg("metrics server failed")
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = server.Shutdown(shutdownCtx)
		}()
	}

	log.Info().Dur("interval", *interval).Msg("watching session, press Ctrl+C to stop")
	return a.store.Watch(ctx, *interval)
}

func printSession(w io.Writer, s session.Session) {
	fmt.Fprintf(w, "authenticated: %t\n", s.Authenticated)
	if claims, err := token.Decode(s.AccessToken); err == nil && claims.UserID != nil {
		fmt.Fprintf(w, "user id:       %d\n", *claims.UserID)
	}
	if s.ExpiresAt != nil {
		fmt.Fprintf(w, "expires:       %s\n", time.Unix(*s.ExpiresAt, 0).UTC().Format(time.RFC1123))
	}
	fmt.Fprintf(w, "refreshable:   %t\n", s.RefreshToken != "")
	if s.LastError != "" {
		fmt.Fprintf(w, "last error:    %s\n", s.LastError)
	}
}

func asValidation(err error) (*session.ValidationError, bool) {
	var ve *session.ValidationError
	ok := errors.As(err, &ve)
	return ve, ok
}
