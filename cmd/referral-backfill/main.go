package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"

	"github.com/go-faster/errors"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/storefront/internal/domain/buyer"
	"github.com/xenking/storefront/internal/repository"
)

func main() {
	var (
		databaseURL   string
		batchSize     int
		concurrency   int
		expectedCodes uint
		dryRun        bool
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.IntVar(&batchSize, "batch-size", 500, "buyers loaded per batch")
	flag.IntVar(&concurrency, "concurrency", 8, "parallel code assignments")
	flag.UintVar(&expectedCodes, "expected-codes", 1_000_000, "expected number of referral codes, sizes the bloom filter")
	flag.BoolVar(&dryRun, "dry-run", false, "report buyers without a code and exit")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if batchSize <= 0 || concurrency <= 0 {
		slog.Error("batch size and concurrency must be positive")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, batchSize, concurrency, expectedCodes, dryRun); err != nil {
		slog.Error("referral backfill failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("referral backfill completed successfully")
}

func run(ctx context.Context, databaseURL string, batchSize, concurrency int, expected uint, dryRun bool) error {
	slog.Info("connecting to database")

	pool, err := repository.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	buyers := repository.NewBuyerRepository(repository.NewDB(pool))

	if dryRun {
		ids, err := buyers.ListWithoutReferralCode(ctx, batchSize)
		if err != nil {
			return errors.Wrap(err, "list buyers without code")
		}
		slog.Info("dry run", slog.Int("buyers_without_code", len(ids)), slog.Int("limit", batchSize))
		return nil
	}

	issuer := buyer.NewCodeIssuer(buyers, expected)
	known, err := issuer.Warm(ctx)
	if err != nil {
		return errors.Wrap(err, "warm referral codes")
	}
	slog.Info("loaded existing codes", slog.Int("count", known))

	var assigned atomic.Int64
	for {
		ids, err := buyers.ListWithoutReferralCode(ctx, batchSize)
		if err != nil {
			return errors.Wrap(err, "list buyers without code")
		}
		if len(ids) == 0 {
			break
		}

		if err := assignBatch(ctx, issuer, ids, concurrency, &assigned); err != nil {
			return err
		}
		slog.Info("batch complete", slog.Int("batch", len(ids)), slog.Int64("assigned", assigned.Load()))
	}

	slog.Info("all buyers hold a referral code", slog.Int64("assigned", assigned.Load()))
	return nil
}

// assignBatch issues codes for ids in parallel. The first failure cancels the
// rest of the batch.
func assignBatch(ctx context.Context, issuer *buyer.CodeIssuer, ids []string, concurrency int, assigned *atomic.Int64) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for _, id := range ids {
		g.Go(func() error {
			if _, err := issuer.Assign(ctx, id); err != nil {
				return errors.Wrapf(err, "assign code to buyer %s", id)
			}
			assigned.Add(1)
			return nil
		})
	}
	return g.Wait()
}
