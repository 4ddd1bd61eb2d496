// Command geocatalog runs the catalog service and its maintenance tasks.
//
// All commands read the service configuration from the environment, see package config.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"

	"github.com/relabs-tech/geocatalog/core/backend"
	"github.com/relabs-tech/geocatalog/core/config"
	"github.com/relabs-tech/geocatalog/core/csql"
	"github.com/relabs-tech/geocatalog/core/kss"
	"github.com/relabs-tech/geocatalog/core/logger"
	"github.com/relabs-tech/geocatalog/core/metrics"
	"github.com/relabs-tech/geocatalog/core/outbox"
	"github.com/relabs-tech/geocatalog/core/seed"
	"github.com/relabs-tech/geocatalog/core/store"
)

func main() {
	app := cli.NewApp()
	app.Name = "geocatalog"
	app.Usage = "geospatial metadata catalog"
	app.Version = backend.Version

	relayInterval := cli.DurationFlag{
		Name:  "interval",
		Usage: "pause between two outbox relay runs",
		Value: 5 * time.Second,
	}

	app.Commands = []cli.Command{
		{
			Name:  "serve",
			Usage: "Serve the REST api",
			Flags: []cli.Flag{
				cli.BoolTFlag{Name: "migrate", Usage: "create missing tables at startup"},
				cli.BoolFlag{Name: "relay", Usage: "relay change events from within the server"},
				relayInterval,
				cli.DurationFlag{Name: "shutdown-timeout", Usage: "grace period for open requests", Value: 15 * time.Second},
			},
			Action: serve,
		},
		{
			Name:   "migrate",
			Usage:  "Create missing tables",
			Action: migrate,
		},
		{
			Name:   "populate",
			Usage:  "Fill an empty catalog with sample users and metadata records",
			Action: populate,
		},
		{
			Name:  "createadmin",
			Usage: "Create an ADMIN account unless the email is taken",
			Flags: []cli.Flag{
				cli.StringFlag{Name: "email", Usage: "email of the account"},
				cli.StringFlag{Name: "password", Usage: "password of the account", EnvVar: "ADMIN_PASSWORD"},
			},
			Action: createAdmin,
		},
		{
			Name:  "relay",
			Usage: "Relay change events from the outbox to the configured sink",
			Flags: []cli.Flag{
				relayInterval,
				cli.BoolFlag{Name: "once", Usage: "drain the outbox once and exit"},
				cli.BoolFlag{Name: "retry-failed", Usage: "give events which ran out of attempts a fresh set first"},
			},
			Action: relay,
		},
	}

	if err := app.Run(os.Args); err != nil {
		logrus.WithError(err).Fatalln("geocatalog failed")
	}
}

// environment is what every command needs: configuration and database
type environment struct {
	ctx context.Context
	cfg *config.Config
	db  *csql.DB
}

func setup(ctx context.Context) (*environment, error) {
	cfg, err := config.FromEnv()
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	logger.InitLogger(logger.ParseLevel(cfg.LogLevel))
	db, err := csql.Open(ctx, cfg.DatabaseDriver, cfg.DSN(), cfg.DatabaseSchema)
	if err != nil {
		return nil, err
	}
	return &environment{ctx: ctx, cfg: cfg, db: db}, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func serve(c *cli.Context) error {
	ctx, stop := signalContext()
	defer stop()
	env, err := setup(ctx)
	if err != nil {
		return err
	}
	defer env.db.Close()
	rlog := logger.FromContext(ctx)

	snapshots, err := kss.New(ctx, kss.ConfigurationFrom(env.cfg))
	if err != nil {
		return err
	}
	m := metrics.New()
	router := mux.NewRouter()
	backend.New(&backend.Builder{
		Config:       env.cfg,
		DB:           env.db,
		Router:       router,
		KSS:          snapshots,
		Metrics:      m,
		UpdateSchema: c.BoolT("migrate"),
	})

	if c.Bool("relay") {
		r, err := newRelay(ctx, env, m)
		if err != nil {
			return err
		}
		stopRelay := r.Start(ctx, c.Duration("interval"))
		defer func() {
			if err := stopRelay(); err != nil {
				rlog.WithError(err).Errorln("Error 4103: could not close outbox sink")
			}
		}()
	}

	server := &http.Server{
		Addr:              env.cfg.ListenAddress,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errs := make(chan error, 1)
	go func() {
		rlog.Infoln("listen on", env.cfg.ListenAddress)
		errs <- server.ListenAndServe()
	}()

	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
	}
	rlog.Infoln("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), c.Duration("shutdown-timeout"))
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errs; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func migrate(c *cli.Context) error {
	env, err := setup(context.Background())
	if err != nil {
		return err
	}
	defer env.db.Close()
	if err := store.Migrate(env.ctx, env.db); err != nil {
		return err
	}
	fmt.Println("database is up to date")
	return nil
}

func populate(c *cli.Context) error {
	env, err := setup(context.Background())
	if err != nil {
		return err
	}
	defer env.db.Close()
	if err := store.Migrate(env.ctx, env.db); err != nil {
		return err
	}
	snapshots, err := kss.New(env.ctx, kss.ConfigurationFrom(env.cfg))
	if err != nil {
		return err
	}
	summary, err := seed.Populate(env.ctx, env.db, snapshots)
	if errors.Is(err, seed.ErrPopulated) {
		fmt.Println("catalog is already populated, nothing to do")
		return nil
	}
	if err != nil {
		return err
	}
	fmt.Printf("created %d users and %d metadata records\n", summary.Users, summary.Records)
	return nil
}

func createAdmin(c *cli.Context) error {
	email, password := c.String("email"), c.String("password")
	if email == "" || password == "" {
		return errors.New("email and password are required")
	}
	env, err := setup(context.Background())
	if err != nil {
		return err
	}
	defer env.db.Close()
	b := backend.New(&backend.Builder{
		Config:       env.cfg,
		DB:           env.db,
		Router:       mux.NewRouter(),
		UpdateSchema: true,
	})
	created, err := b.EnsureAdmin(env.ctx, email, password)
	if err != nil {
		return err
	}
	if created {
		fmt.Println("created admin", email)
	} else {
		fmt.Println("an account with this email exists already")
	}
	return nil
}

func relay(c *cli.Context) error {
	ctx, stop := signalContext()
	defer stop()
	env, err := setup(ctx)
	if err != nil {
		return err
	}
	defer env.db.Close()

	if c.Bool("retry-failed") {
		n, err := store.RetryFailedOutboxEvents(ctx, env.db)
		if err != nil {
			return err
		}
		fmt.Printf("retrying %d failed events\n", n)
	}
	r, err := newRelay(ctx, env, metrics.New())
	if err != nil {
		return err
	}
	defer r.Sink.Close()
	if c.Bool("once") {
		n, err := r.Drain(ctx)
		fmt.Printf("relayed %d events\n", n)
		return err
	}
	return r.Run(ctx, c.Duration("interval"))
}

func newRelay(ctx context.Context, env *environment, m *metrics.Metrics) (*outbox.Relay, error) {
	sink, err := outbox.NewSink(ctx, env.cfg)
	if err != nil {
		return nil, err
	}
	return &outbox.Relay{
		Store:     store.New(env.db),
		Sink:      sink,
		BatchSize: env.cfg.OutboxBatchSize,
		Metrics:   m,
	}, nil
}
