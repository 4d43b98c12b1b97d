// Copyright 2025 V Kontakte LLC
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/gorilla/handlers"
	"github.com/mailru/easyjson/jwriter"
	"github.com/spf13/pflag"
	"go.uber.org/multierr"

	"github.com/VKCOM/calcheck/internal/api"
	"github.com/VKCOM/calcheck/internal/config"
	"github.com/VKCOM/calcheck/internal/evalfunc"
	"github.com/VKCOM/calcheck/internal/expression"
	"github.com/VKCOM/calcheck/internal/fixture"
	"github.com/VKCOM/calcheck/internal/history"
	"github.com/VKCOM/calcheck/internal/inventory"
	"github.com/VKCOM/calcheck/internal/rate"
)

const (
	shutdownTimeout = 30 * time.Second

	httpReadHeaderTimeout = 10 * time.Second
	httpReadTimeout       = 30 * time.Second
	httpIdleTimeout       = 5 * time.Minute

	sqliteBusyTimeout = 5 * time.Second
)

var argv struct {
	listenAddr string
	dbPath     string
	fixture    string
	configPath string
	logLevel   string
	accessLog  bool
	evalRate   float64
	evalBurst  int
	help       bool

	evalCalls []string
	evalHost  string
	evalID    uint64
	evalMode  string

	expression.Config
}

type inventoryStore interface {
	inventory.Store
	Load(ctx context.Context, snap *inventory.Snapshot) error
}

func parseCommandLine() error {
	pflag.StringVar(&argv.listenAddr, "listen", ":8080", "HTTP listen address")
	pflag.StringVar(&argv.dbPath, "db-path", "", "path to SQLite inventory, in-memory inventory if empty")
	pflag.StringVar(&argv.fixture, "fixture", "", "YAML file with inventory and history, reloaded on change")
	pflag.StringVar(&argv.configPath, "config", "", "file with expression config flags, reloaded on change")
	pflag.StringVar(&argv.logLevel, "log-level", "info", "one of debug, info, warn, error")
	pflag.BoolVar(&argv.accessLog, "access-log", false, "write HTTP access log to stdout")
	pflag.Float64Var(&argv.evalRate, "eval-rate", 0, "eval requests per second, 0 for unlimited")
	pflag.IntVar(&argv.evalBurst, "eval-burst", 10, "eval requests burst when --eval-rate is set")
	pflag.BoolVarP(&argv.help, "help", "h", false, "print usage instructions and exit")
	pflag.StringArrayVar(&argv.evalCalls, "eval", nil, "evaluate function call like 'max_foreach(/*/cpu.load,5m)' and exit, may be repeated")
	pflag.StringVar(&argv.evalHost, "eval-host", "", "host of the evaluated item for --eval, looked up by --eval-hostid if empty")
	pflag.Uint64Var(&argv.evalID, "eval-hostid", 0, "host ID of the evaluated item for --eval")
	pflag.StringVar(&argv.evalMode, "eval-mode", "", "normal or aggregate for --eval, config default if empty")

	var fs flag.FlagSet
	d := expression.DefaultConfig()
	argv.Config.Bind(&fs, &d)
	pflag.CommandLine.AddGoFlagSet(&fs)
	pflag.Parse()
	return argv.Config.ValidateConfig()
}

func newLogger() (log.Logger, error) {
	logger := log.NewLogfmtLogger(log.NewSyncWriter(os.Stderr))
	logger = log.With(logger, "ts", log.DefaultTimestampUTC, "caller", log.DefaultCaller)
	var opt level.Option
	switch argv.logLevel {
	case "debug":
		opt = level.AllowDebug()
	case "info":
		opt = level.AllowInfo()
	case "warn":
		opt = level.AllowWarn()
	case "error":
		opt = level.AllowError()
	default:
		return nil, fmt.Errorf("invalid --log-level %q", argv.logLevel)
	}
	return level.NewFilter(logger, opt), nil
}

func main() {
	if err := parseCommandLine(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if argv.help {
		pflag.Usage()
		return
	}
	logger, err := newLogger()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if err := run(logger); err != nil {
		level.Error(logger).Log("msg", "exiting", "err", err)
		os.Exit(1)
	}
}

func run(logger log.Logger) (err error) {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var inv inventoryStore
	if argv.dbPath != "" {
		s, openErr := inventory.OpenSQLite(ctx, argv.dbPath, sqliteBusyTimeout)
		if openErr != nil {
			return fmt.Errorf("failed to open inventory %q: %w", argv.dbPath, openErr)
		}
		defer func() { err = multierr.Append(err, s.Close()) }()
		inv = s
	} else {
		inv = inventory.NewMemStore()
	}
	hist := history.NewMemStore()

	closeFixture, err := fixture.ListenFixtureFile(ctx, argv.fixture, inv, hist, logger)
	if err != nil {
		return fmt.Errorf("failed to load fixture: %w", err)
	}
	defer closeFixture()

	h := api.NewHandler(expression.Deps{
		Inventory: inv,
		History:   hist,
		Func:      evalfunc.NewEvaluator(hist, logger),
		Rate:      rate.NewEvaluator(hist, logger),
		Config:    argv.Config,
	}, logger)
	h.SetEvalRateLimit(argv.evalRate, argv.evalBurst)

	cl := config.NewConfigListener(&argv.Config, logger)
	cl.AddChangeCB(func(c config.Config) {
		cfg := c.(*expression.Config)
		h.SetConfig(*cfg)
		level.Info(logger).Log("msg", "config applied", "aggregate", cfg.Aggregate, "bucket_param", cfg.BucketParam, "max_candidates", cfg.MaxCandidates)
	})
	closeConfig, err := cl.ListenConfigFile(argv.configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	defer closeConfig()

	if len(argv.evalCalls) != 0 {
		return evalOnce(ctx, h)
	}
	return serve(ctx, h, logger)
}

func evalOnce(ctx context.Context, h *api.Handler) error {
	req := &api.EvalRequest{
		HostID: argv.evalID,
		Host:   argv.evalHost,
		Mode:   argv.evalMode,
	}
	for _, text := range argv.evalCalls {
		c, err := api.ParseCall(text)
		if err != nil {
			return err
		}
		req.Calls = append(req.Calls, c)
	}
	resp, err := h.Eval(ctx, req)
	if err != nil {
		return err
	}
	for i := range resp.Results {
		var w jwriter.Writer
		resp.Results[i].MarshalEasyJSON(&w)
		w.RawByte('\n')
		if _, err := w.DumpTo(os.Stdout); err != nil {
			return err
		}
	}
	return nil
}

func serve(ctx context.Context, h *api.Handler, logger log.Logger) error {
	handler := h.Routes()
	handler = handlers.RecoveryHandler(handlers.PrintRecoveryStack(true))(handler)
	handler = handlers.CompressHandler(handler)
	if argv.accessLog {
		handler = handlers.CombinedLoggingHandler(os.Stdout, handler)
	}
	handler = handlers.ProxyHeaders(handler)

	s := &http.Server{
		Addr:              argv.listenAddr,
		Handler:           handler,
		ReadHeaderTimeout: httpReadHeaderTimeout,
		ReadTimeout:       httpReadTimeout,
		IdleTimeout:       httpIdleTimeout,
	}
	errCh := make(chan error, 1)
	go func() {
		level.Info(logger).Log("msg", "listening", "addr", argv.listenAddr)
		errCh <- s.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	level.Info(logger).Log("msg", "shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err := s.Shutdown(shutdownCtx)
	if serveErr := <-errCh; !errors.Is(serveErr, http.ErrServerClosed) {
		err = multierr.Append(err, serveErr)
	}
	return err
}
