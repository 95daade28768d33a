// main.go - Confidential balance daemon.
//
// Usage:
//
//	confidentiald [-config path] serve
//	confidentiald [-config path] demo [-remote url]
//
// serve runs the ledger with its HTTP settlement endpoint, metrics and
// health. demo walks two wallets through deposit, transfer, withdrawal and
// account closure against an in-process or remote ledger.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/gitteri/confidential-balances-exploration/internal/balance"
	"github.com/gitteri/confidential-balances-exploration/internal/encryption"
	"github.com/gitteri/confidential-balances-exploration/internal/settlement"
	"github.com/gitteri/confidential-balances-exploration/internal/store"
	"github.com/gitteri/confidential-balances-exploration/internal/transfer"
	"github.com/gitteri/confidential-balances-exploration/internal/wallet"
)

const version = "0.1.0"

func main() {
	configPath := flag.String("config", "confidentiald.yaml", "path to the YAML configuration")
	flag.Parse()

	cfg, err := LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	if err := run(cfg, flag.Args(), os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cfg *Config, args []string, out io.Writer) error {
	if len(args) == 0 {
		return errors.New("usage: confidentiald [-config path] serve|demo")
	}

	switch args[0] {
	case "serve":
	case "demo":
		fs := flag.NewFlagSet("demo", flag.ContinueOnError)
		fs.StringVar(&cfg.Demo.Remote, "remote", cfg.Demo.Remote, "settlement URL; empty runs an in-process ledger")
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}
	default:
		return errors.Errorf("unknown command %q", args[0])
	}
	if err := cfg.Validate(); err != nil {
		return errors.Wrap(err, "invalid config")
	}

	logger, err := NewLogger(cfg.Logging, os.Stderr)
	if err != nil {
		return err
	}
	defer logger.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if args[0] == "serve" {
		return serve(ctx, cfg, logger)
	}
	return demo(ctx, cfg, logger.Logger, out)
}

func openLedger(cfg *Config, log zerolog.Logger) (*settlement.Ledger, *store.DB, error) {
	db, err := store.Open(cfg.Ledger.StorePath, cfg.Ledger.InMemory)
	if err != nil {
		return nil, nil, errors.Wrap(err, "open ledger store")
	}
	l, err := settlement.NewLedger(db, cfg.Ledger.LedgerConfig, log)
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	return l, db, nil
}

func serve(ctx context.Context, cfg *Config, logger *Logger) error {
	log := logger.Logger
	l, db, err := openLedger(cfg, log)
	if err != nil {
		return err
	}
	defer db.Close()

	var front settlement.Settlement = l
	if cfg.Throttle.Enabled {
		limiter, err := settlement.NewAuthorityLimiter(settlement.LimitConfig{
			Burst:       cfg.Throttle.MaxTokens,
			Refill:      cfg.Throttle.RefillRate,
			Period:      cfg.Throttle.RefillPeriod,
			Authorities: cfg.Throttle.Authorities,
		})
		if err != nil {
			return errors.Wrap(err, "throttle")
		}
		front = settlement.NewThrottled(l, limiter)
	}

	health := NewHealthChecker(version)
	registerLedgerChecks(health, l, cfg.Ledger.SlotInterval, 4*cfg.Throttle.MaxTokens)

	mux := http.NewServeMux()
	mux.Handle(settlement.RPCPath, settlement.NewServer(front, l, log).Handler())
	mux.Handle(cfg.Server.MetricsPath, metricsHandler())
	mux.Handle(cfg.Server.HealthPath, health)

	srv := &http.Server{
		Addr:              cfg.Server.Listen,
		Handler:           mux,
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return l.Run(gctx)
	})
	g.Go(func() error {
		log.Info().Str("listen", cfg.Server.Listen).Str("version", version).Msg("serving")
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		logger.Audit("shutdown", map[string]any{"slot": l.Slot(), "locked_rent": l.LockedRent()})
		return srv.Shutdown(sctx)
	})

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// backend is what the demo talks to.
type backend interface {
	settlement.Settlement
	settlement.AccountReader
}

func demo(ctx context.Context, cfg *Config, log zerolog.Logger, out io.Writer) error {
	var b backend
	if cfg.Demo.Remote != "" {
		b = settlement.NewClient(cfg.Demo.Remote, "demo", &http.Client{Timeout: 30 * time.Second})
	} else {
		ledgerCfg := *cfg
		ledgerCfg.Ledger.InMemory = true
		l, db, err := openLedger(&ledgerCfg, log)
		if err != nil {
			return err
		}
		defer db.Close()
		go l.Run(ctx)
		b = l
	}

	progressDB, err := store.Open(cfg.Orchestrator.ProgressPath, cfg.Orchestrator.InMemory)
	if err != nil {
		return errors.Wrap(err, "open transfer store")
	}
	defer progressDB.Close()
	orch, err := transfer.New(b, b, transfer.NewStore(progressDB), nil, cfg.Orchestrator.Config, log)
	if err != nil {
		return err
	}
	if err := orch.ResumeAll(ctx); err != nil {
		log.Warn().Err(err).Msg("unfinished transfers remain")
	}

	log.Info().Uint("window_bits", cfg.Decoder.WindowBits).Msg("building discrete log table")
	decoder := encryption.NewDecoder(encryption.WithWindowBits(cfg.Decoder.WindowBits), encryption.WithWorkers(cfg.Decoder.Workers))

	d := &demoRun{ctx: ctx, cfg: cfg.Demo, b: b, orch: orch, decoder: decoder, log: log}
	return d.run(out)
}

type demoRun struct {
	ctx     context.Context
	cfg     DemoConfig
	b       backend
	orch    *transfer.Orchestrator
	decoder *encryption.Decoder
	log     zerolog.Logger
	mint    balance.Address
}

func (d *demoRun) commit(op settlement.Operation) error {
	fresh, err := d.b.Freshness(d.ctx)
	if err != nil {
		return err
	}
	_, err = d.b.ReferenceAndCommit(d.ctx, op, nil, fresh)
	return errors.Wrapf(err, "commit %s", op.Kind())
}

func (d *demoRun) wallet(name string) (*wallet.Wallet, error) {
	signer, err := wallet.NewEd448Signer()
	if err != nil {
		return nil, err
	}
	id, err := balance.NewAddress()
	if err != nil {
		return nil, err
	}
	w, err := wallet.New(signer, id, d.b, d.b, d.decoder, d.log.With().Str("wallet", name).Logger(), wallet.WithLocks(d.orch.Locks()))
	if err != nil {
		return nil, err
	}
	return w, errors.Wrapf(w.Configure(d.ctx, d.mint, 0), "configure %s", name)
}

func (d *demoRun) run(out io.Writer) error {
	var err error
	if d.mint, err = balance.NewAddress(); err != nil {
		return err
	}
	mint := balance.Mint{ID: d.mint, Decimals: d.cfg.Decimals}
	if d.cfg.Auditor {
		auditor, err := encryption.NewKeypair()
		if err != nil {
			return err
		}
		mint.Auditor = &auditor.Public
	}
	if err := d.commit(&settlement.CreateMintOp{Mint: mint}); err != nil {
		return err
	}

	alice, err := d.wallet("alice")
	if err != nil {
		return err
	}
	bob, err := d.wallet("bob")
	if err != nil {
		return err
	}
	wallets := []struct {
		name string
		w    *wallet.Wallet
	}{{"alice", alice}, {"bob", bob}}
	report := func(step string) error {
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', tabwriter.AlignRight)
		fmt.Fprintf(out, "\n== %s\n", step)
		fmt.Fprintln(tw, "account\tpublic\tpending\tavailable\t")
		for _, e := range wallets {
			bd, err := e.w.Balances(d.ctx)
			if err != nil {
				return errors.Wrapf(err, "balances of %s", e.name)
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t\n", e.name,
				wallet.Format(bd.Public, d.cfg.Decimals),
				wallet.Format(bd.Pending, d.cfg.Decimals),
				wallet.Format(bd.Available, d.cfg.Decimals))
		}
		return tw.Flush()
	}

	if err := d.commit(&settlement.MintToOp{Account: alice.ID(), Amount: d.cfg.Mint}); err != nil {
		return err
	}
	if err := alice.Deposit(d.ctx, d.cfg.Deposit); err != nil {
		return err
	}
	if err := report("alice deposits"); err != nil {
		return err
	}
	if _, err := alice.ApplyPending(d.ctx); err != nil {
		return err
	}
	if err := report("alice applies pending"); err != nil {
		return err
	}

	res, err := alice.Transfer(d.ctx, d.orch, bob.ID(), d.cfg.Transfer)
	if err != nil {
		return err
	}
	d.log.Info().Str("transfer", res.ID.String()).Uint64("slot", res.Receipt.Slot).Msg("transfer committed")
	if err := report("alice transfers to bob"); err != nil {
		return err
	}
	if _, err := bob.ApplyPending(d.ctx); err != nil {
		return err
	}
	if err := bob.Withdraw(d.ctx, d.cfg.Withdraw); err != nil {
		return err
	}
	if err := report("bob applies and withdraws"); err != nil {
		return err
	}
	for _, e := range wallets {
		if err := e.w.Verify(d.ctx); err != nil {
			return errors.Wrapf(err, "verify %s", e.name)
		}
	}

	carol, err := d.wallet("carol")
	if err != nil {
		return err
	}
	if err := carol.Close(d.ctx); err != nil {
		return err
	}
	fmt.Fprintf(out, "\ncarol opened and closed %s\n", carol.ID())
	return nil
}
