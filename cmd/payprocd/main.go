// Command payprocd is the payment broker daemon: it listens on a Unix
// domain socket and answers SESSION, CARDTOKEN, CHARGECARD, PPCHECKOUT,
// SEPAPREORDER, CHECKAMOUNT, PPIPNHD, GETINFO, PING and the admin-only
// COMMITPREORDER/GETPREORDER/LISTPREORDER/SHUTDOWN commands.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/gnupg/payproc/internal/account"
	"github.com/gnupg/payproc/internal/commands"
	"github.com/gnupg/payproc/internal/config"
	"github.com/gnupg/payproc/internal/currency"
	"github.com/gnupg/payproc/internal/gateway"
	"github.com/gnupg/payproc/internal/journal"
	"github.com/gnupg/payproc/internal/lifecycle"
	"github.com/gnupg/payproc/internal/logger"
	"github.com/gnupg/payproc/internal/metrics"
	"github.com/gnupg/payproc/internal/paypal"
	"github.com/gnupg/payproc/internal/preorder"
	"github.com/gnupg/payproc/internal/server"
	"github.com/gnupg/payproc/internal/session"
	"github.com/gnupg/payproc/internal/stripe"
)

var version = "0.0.0-dev"

func main() {
	configPath := flag.String("config", "", "path to a YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "payprocd: %v\n", err)
		os.Exit(2)
	}

	appLogger := logger.New(logger.Config{
		Level:   cfg.Logging.Level,
		Format:  cfg.Logging.Format,
		Service: "payprocd",
		Version: version,
	})
	log.Logger = appLogger

	lc := lifecycle.New()
	defer func() {
		if err := lc.Close(); err != nil {
			appLogger.Error().Err(err).Msg("payprocd.shutdown_with_errors")
		}
	}()

	metricsCollector := metrics.New(prometheus.DefaultRegisterer)
	if cfg.Metrics.Enabled {
		go serveMetrics(cfg.Metrics.Address, appLogger)
	}

	jrnl := journal.New(cfg.Journal.BaseName, func(err error) {
		appLogger.Error().Err(err).Msg("payprocd.journal_write_failed")
		os.Exit(4)
	})
	lc.RegisterFunc("journal", func() error { jrnl.Close(); return nil })

	curr := currency.New(func(code string, rate float64) {
		jrnl.StoreExchangeRate(code, rate)
	})
	if cfg.CurrencyFile != "" {
		if err := curr.Reload(currency.FileSource{Path: cfg.CurrencyFile}); err != nil {
			appLogger.Warn().Err(err).Msg("payprocd.currency_reload_failed")
		}
	}

	accounts, err := account.Open(account.Config{
		DSN:              cfg.Account.DSN,
		DBKeyFPR:         cfg.Account.DBKeyFPR,
		BackofficeKeyFPR: cfg.Account.BackofficeKeyFPR,
	})
	if err != nil {
		appLogger.Fatal().Err(err).Msg("payprocd.account_store_open_failed")
	}
	lc.Register("account-store", accounts)

	preorders, err := preorder.Open(cfg.Preorder.DSN)
	if err != nil {
		appLogger.Fatal().Err(err).Msg("payprocd.preorder_store_open_failed")
	}
	lc.Register("preorder-store", preorders)

	sessions := session.New()

	breakerCfg := gateway.DefaultBreakerConfig()
	onTrip := func(svc gateway.Service) { metricsCollector.ObserveBreakerTrip(string(svc)) }

	stripeClient := stripe.New(cfg.Stripe.SecretKey, breakerCfg, onTrip, accounts)
	paypalClient := paypal.New(
		cfg.PayPal.ClientID, cfg.PayPal.ClientSecret, cfg.PayPal.Sandbox,
		cfg.PayPal.ReceiverEmail, breakerCfg, onTrip, sessions, accounts,
	)

	srv := &server.Server{
		SocketPath: cfg.SocketPath(),
		AllowUID:   cfg.Socket.AllowUID,
		AdminUID:   cfg.Socket.AdminUID,
		Metrics:    metricsCollector,
		Log:        appLogger,
		OnTick: func() {
			n := sessions.Housekeeping()
			if n > 0 {
				appLogger.Info().Int("expired", n).Msg("payprocd.session_housekeeping")
			}
			if cfg.CurrencyFile != "" {
				if err := curr.Reload(currency.FileSource{Path: cfg.CurrencyFile}); err != nil {
					appLogger.Warn().Err(err).Msg("payprocd.currency_reload_failed")
				}
			}
		},
	}
	srv.Dispatcher = commands.New(commands.Deps{
		Version:   version,
		Pid:       os.Getpid(),
		Live:      cfg.Socket.Live,
		Sessions:  sessions,
		Preorders: preorders,
		Accounts:  accounts,
		Currency:  curr,
		Journal:   jrnl,
		Stripe:    stripeClient,
		PayPal:    paypalClient,
		Shutdown:  func() { srv.Shutdown() },
	})

	if err := srv.Listen(); err != nil {
		appLogger.Fatal().Err(err).Msg("payprocd.listen_failed")
	}
	lc.RegisterFunc("socket", func() error { os.Remove(cfg.SocketPath()); return nil })

	jrnl.StoreSystem(fmt.Sprintf("payprocd %s started", version))
	appLogger.Info().Str("version", version).Msg("payprocd.started")

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	signal.Ignore(syscall.SIGHUP, syscall.SIGUSR1, syscall.SIGUSR2)
	go func() {
		sig := <-sigCh
		appLogger.Info().Str("signal", sig.String()).Msg("payprocd.signal_received")
		cancel()
	}()

	if err := srv.Serve(ctx); err != nil {
		appLogger.Error().Err(err).Msg("payprocd.serve_failed")
	}
	jrnl.StoreSystem(fmt.Sprintf("payprocd %s stopped", version))
}

func serveMetrics(addr string, log zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadTimeout: 5 * time.Second}
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error().Err(err).Msg("payprocd.metrics_server_failed")
	}
}
