// Copyright 2025 Certen Protocol
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tracechain/tracechain/pkg/anchorchain"
	"github.com/tracechain/tracechain/pkg/cache"
	"github.com/tracechain/tracechain/pkg/config"
	"github.com/tracechain/tracechain/pkg/consistency"
	"github.com/tracechain/tracechain/pkg/firestoresync"
	"github.com/tracechain/tracechain/pkg/record"
	"github.com/tracechain/tracechain/pkg/tracewrap"
)

// Ledger is a minimal example service: the kind of arbitrary object a
// caller wraps with tracewrap to get tamper-evident, chain-anchored
// call records for free.
type Ledger struct {
	balance int
}

func (l *Ledger) Deposit(ctx context.Context, amount int) (int, error) {
	if amount < 0 {
		return 0, fmt.Errorf("deposit: negative amount %d", amount)
	}
	l.balance += amount
	return l.balance, nil
}

func (l *Ledger) Withdraw(ctx context.Context, amount int) (int, error) {
	if amount > l.balance {
		return 0, fmt.Errorf("withdraw: insufficient balance")
	}
	l.balance -= amount
	return l.balance, nil
}

func main() {
	var (
		configPath = flag.String("config", "", "path to a YAML config file (overrides TRACECHAIN_* env vars)")
		showHelp   = flag.Bool("help", false, "show help message")
	)
	flag.Parse()
	if *showHelp {
		flag.Usage()
		return
	}

	log.Printf("starting tracechain demo")

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sink, err := firestoresync.New(ctx, firestoresync.DefaultConfig())
	if err != nil {
		log.Printf("firestore sync disabled: %v", err)
		sink = nil
	}

	anchor, err := buildAnchor(cfg)
	if err != nil {
		log.Printf("no anchor function configured, records will stay in pending state: %v", err)
	}

	opts := []tracewrap.Option{tracewrap.WithCallbacks(demoCallbacks(sink))}
	w, err := tracewrap.New(&Ledger{}, cfg, anchor, opts...)
	if err != nil {
		log.Fatalf("build tracewrap: %v", err)
	}
	defer func() {
		if err := w.Close(context.Background()); err != nil {
			log.Printf("wrapper close error: %v", err)
		}
		if sink != nil {
			if err := sink.Close(); err != nil {
				log.Printf("firestore sink close error: %v", err)
			}
		}
	}()

	if _, err := w.Agent.Invoke(ctx, "Deposit", 100); err != nil {
		log.Printf("deposit call failed: %v", err)
	}
	if _, err := w.Agent.Invoke(ctx, "Withdraw", 40); err != nil {
		log.Printf("withdraw call failed: %v", err)
	}

	pending, err := w.GetPendingRecords(ctx)
	if err != nil {
		log.Printf("get pending records: %v", err)
	} else {
		log.Printf("%d record(s) awaiting anchor confirmation", len(pending))
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(http.StatusOK)
		rw.Write([]byte("ok"))
	})

	httpServer := &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
	if httpServer.Addr == "" {
		httpServer.Addr = ":9090"
	}

	go func() {
		log.Printf("metrics listening on %s", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("metrics server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Printf("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("metrics server shutdown error: %v", err)
	}
	log.Printf("stopped")
}

// loadConfig loads from the YAML file at path if given, else from
// environment variables, falling back to the fixed key returned by
// ephemeralKeyHex when no key is configured.
func loadConfig(path string) (config.Config, error) {
	if path != "" {
		return config.LoadYAML(path)
	}
	cfg, err := config.Load()
	if err == nil {
		return cfg, nil
	}
	if os.Getenv("TRACECHAIN_PRIVATE_KEY") == "" && os.Getenv("TRACECHAIN_KEY_SOURCE_PATH") == "" {
		cfg = config.DefaultConfig()
		cfg.PrivateKeyHex = ephemeralKeyHex()
		return cfg, cfg.Validate()
	}
	return cfg, err
}

// buildAnchor wires an anchorchain.Submitter when Ethereum settings are
// present; otherwise it returns an error and the Wrapper leaves new
// records in the pending state.
func buildAnchor(cfg config.Config) (consistency.AnchorFunc, error) {
	if cfg.EthereumRPCURL == "" || cfg.AnchorContractAddr == "" {
		return nil, fmt.Errorf("ethereumRpcURL/anchorContractAddress not configured")
	}
	gas, err := toGasStrategy(cfg.GasStrategy)
	if err != nil {
		return nil, err
	}
	submitter, err := anchorchain.NewSubmitter(cfg.EthereumRPCURL, cfg.EthChainID, cfg.AnchorContractAddr, cfg.PrivateKeyHex, cfg.MaxRetries, gas)
	if err != nil {
		return nil, err
	}
	return submitter.Submit, nil
}

// toGasStrategy converts a config.GasStrategy's decimal wei strings into
// an anchorchain.GasStrategy's big.Int fee caps.
func toGasStrategy(g config.GasStrategy) (anchorchain.GasStrategy, error) {
	out := anchorchain.GasStrategy{Tier: g.Tier}
	if g.MaxFeePerGas == "" && g.MaxPriorityFeePerGas == "" {
		return out, nil
	}
	feeCap, ok := new(big.Int).SetString(g.MaxFeePerGas, 10)
	if !ok {
		return out, fmt.Errorf("invalid gasStrategy.maxFeePerGas %q", g.MaxFeePerGas)
	}
	tipCap, ok := new(big.Int).SetString(g.MaxPriorityFeePerGas, 10)
	if !ok {
		return out, fmt.Errorf("invalid gasStrategy.maxPriorityFeePerGas %q", g.MaxPriorityFeePerGas)
	}
	out.MaxFeePerGas = feeCap
	out.MaxPriorityFeePerGas = tipCap
	return out, nil
}

// demoCallbacks logs every lifecycle transition through the standard
// logger (stderr) and, when
// Firestore is configured, mirrors it there too.
func demoCallbacks(sink *firestoresync.Sink) cache.Callbacks {
	mirror := func(event string) func(*record.Signed) {
		return func(sr *record.Signed) {
			log.Printf("%s: %s", event, sr.EntryHash)
			if sink != nil {
				switch event {
				case "signed":
					sink.OnRecordSigned(sr)
				case "anchor pending":
					sink.OnAnchorPending(sr)
				case "anchor confirmed":
					sink.OnAnchorConfirmed(sr)
				case "anchor failed":
					sink.OnAnchorFailed(sr)
				}
			}
		}
	}
	return cache.Callbacks{
		OnRecordSigned:    mirror("signed"),
		OnAnchorPending:   mirror("anchor pending"),
		OnAnchorConfirmed: mirror("anchor confirmed"),
		OnAnchorFailed:    mirror("anchor failed"),
		OnStorageWarning: func(pct float64) {
			log.Printf("store capacity warning: %.1f%% full", pct)
		},
	}
}

func ephemeralKeyHex() string {
	// a fixed demo-only key so the binary runs with no configuration;
	// never use this for anything beyond the local demo.
	return "b71c71a67e1177ad4e901695e1b4b9ee17ae16c6668d313eac2f96dbcda3f25"
}
