// Command export-training writes approved learning signals as chat-format
// JSONL for fine-tuning.
//
//	export-training -since 720h -min-grade 4 -out train.jsonl
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	appbootstrap "github.com/wolfman30/support-hitl/internal/app/bootstrap"
	appconfig "github.com/wolfman30/support-hitl/internal/config"
	"github.com/wolfman30/support-hitl/internal/learning"
	"github.com/wolfman30/support-hitl/pkg/logging"
)

type exportOptions struct {
	since        time.Duration
	limit        int
	minGrade     float64
	systemPrompt string
}

type signalLister interface {
	ListApproved(ctx context.Context, since time.Time, limit int) ([]learning.Signal, error)
}

func main() {
	var (
		opts exportOptions
		out  string
	)
	flag.DurationVar(&opts.since, "since", 30*24*time.Hour, "how far back to read signals")
	flag.IntVar(&opts.limit, "limit", 5000, "maximum signals to read")
	flag.Float64Var(&opts.minGrade, "min-grade", 4, "minimum average grade to include")
	flag.StringVar(&opts.systemPrompt, "system-prompt", learning.DefaultSystemPrompt, "system message for every example")
	flag.StringVar(&out, "out", "", "output file (default stdout)")
	flag.Parse()

	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, opts, out, logger); err != nil {
		logger.Error("export failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *appconfig.Config, opts exportOptions, out string, logger *logging.Logger) error {
	pool, sqlDB, err := appbootstrap.BuildPostgres(ctx, cfg)
	if err != nil {
		return err
	}
	if pool == nil {
		return errors.New("DATABASE_URL is required")
	}
	defer pool.Close()
	defer sqlDB.Close()

	var w io.Writer = os.Stdout
	if out != "" {
		f, err := os.Create(out)
		if err != nil {
			return fmt.Errorf("create %s: %w", out, err)
		}
		defer f.Close()
		w = f
	}

	read, written, err := export(ctx, learning.NewPostgresStore(sqlDB), opts, time.Now(), w)
	if err != nil {
		return err
	}
	logger.Info("training examples exported", "signals_read", read, "examples_written", written, "min_grade", opts.minGrade)
	return nil
}

func export(ctx context.Context, store signalLister, opts exportOptions, now time.Time, w io.Writer) (read, written int, err error) {
	signals, err := store.ListApproved(ctx, now.Add(-opts.since), opts.limit)
	if err != nil {
		return 0, 0, err
	}
	written, err = learning.FineTuningJSONL(w, signals, opts.minGrade, opts.systemPrompt)
	if err != nil {
		return len(signals), written, err
	}
	return len(signals), written, nil
}
