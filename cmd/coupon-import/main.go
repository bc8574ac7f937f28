// Command coupon-import loads coupon definitions from gzip-compressed JSON
// Lines files into the catalog. Codes already present are skipped.
package main

import (
	"bufio"
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	pgzip "github.com/klauspost/pgzip"
	"golang.org/x/sync/errgroup"

	"github.com/couponengine/coupon-engine/internal/domain/coupon"
	"github.com/couponengine/coupon-engine/internal/handler"
	"github.com/couponengine/coupon-engine/internal/storage/postgres"
)

const (
	bloomCapacity = 1_000_000
	bloomFPR      = 0.001
	progressEvery = 10_000
	maxLineBytes  = 1 << 20
)

// importer owns the shared state of one import run.
type importer struct {
	catalog *coupon.Catalog
	repo    *postgres.CouponRepository

	mu   sync.Mutex
	seen *bloom.BloomFilter

	created atomic.Int64
	skipped atomic.Int64
	failed  atomic.Int64
}

func main() {
	var (
		dataDir     string
		databaseURL string
		workers     int
	)

	flag.StringVar(&dataDir, "data-dir", "data", "directory containing *.jsonl.gz coupon files")
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.IntVar(&workers, "workers", 4, "files processed concurrently")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, dataDir, databaseURL, workers); err != nil {
		slog.Error("coupon import failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("coupon import completed successfully")
}

func run(ctx context.Context, dataDir, databaseURL string, workers int) error {
	files, err := filepath.Glob(filepath.Join(dataDir, "*.jsonl.gz"))
	if err != nil {
		return errors.Wrap(err, "list data files")
	}
	if len(files) == 0 {
		slog.Info("no coupon files found", slog.String("dir", dataDir))
		return nil
	}

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	repo := postgres.NewCouponRepository(pool)
	imp := &importer{
		catalog: coupon.NewCatalog(repo),
		repo:    repo,
		seen:    bloom.NewWithEstimates(bloomCapacity, bloomFPR),
	}

	// Pass 1: remember every code the catalog already holds.
	existing, err := repo.List(ctx)
	if err != nil {
		return errors.Wrap(err, "list existing coupons")
	}
	for _, c := range existing {
		imp.seen.AddString(c.Code)
	}
	slog.Info("pass 1 complete", slog.Int("existing_codes", len(existing)))

	// Pass 2: stream every file and create the coupons not seen yet.
	slog.Info("pass 2: importing coupons", slog.Int("files", len(files)))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(workers, 1))
	for _, f := range files {
		g.Go(func() error {
			return imp.importFile(ctx, f)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	slog.Info("import summary",
		slog.Int64("created", imp.created.Load()),
		slog.Int64("skipped", imp.skipped.Load()),
		slog.Int64("failed", imp.failed.Load()),
	)
	return nil
}

func (imp *importer) importFile(ctx context.Context, path string) error {
	var lines uint64
	err := streamGzFile(ctx, path, func(line []byte) error {
		lines++
		if lines%progressEvery == 0 {
			slog.Info("import progress", slog.String("file", path), slog.Uint64("lines", lines))
		}
		return imp.importLine(ctx, path, lines, line)
	})
	if err != nil {
		return errors.Wrapf(err, "import %s", path)
	}

	slog.Info("file complete", slog.String("file", path), slog.Uint64("lines", lines))
	return nil
}

func (imp *importer) importLine(ctx context.Context, path string, lineNo uint64, line []byte) error {
	in, err := handler.DecodeCoupon(jx.DecodeBytes(line))
	if err != nil {
		imp.reject(path, lineNo, err)
		return nil
	}
	c, err := in.Coupon()
	if err != nil {
		imp.reject(path, lineNo, err)
		return nil
	}

	exists, err := imp.exists(ctx, strings.TrimSpace(c.Code))
	if err != nil {
		return err
	}
	if exists {
		imp.skipped.Add(1)
		return nil
	}

	if _, err := imp.catalog.Create(ctx, c); err != nil {
		switch {
		case errors.Is(err, coupon.ErrCodeTaken):
			imp.skipped.Add(1)
			return nil
		case errors.Is(err, coupon.ErrInvalid):
			imp.reject(path, lineNo, err)
			return nil
		}
		return errors.Wrapf(err, "create coupon %s", c.Code)
	}
	imp.created.Add(1)
	return nil
}

// exists reports whether code is already in the catalog or was imported
// earlier in this run. A bloom filter hit is confirmed against the database.
func (imp *importer) exists(ctx context.Context, code string) (bool, error) {
	imp.mu.Lock()
	hit := imp.seen.TestOrAddString(code)
	imp.mu.Unlock()
	if !hit {
		return false, nil
	}

	_, err := imp.repo.FindByCode(ctx, code)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, coupon.ErrNotFound):
		return false, nil
	default:
		return false, errors.Wrapf(err, "find coupon %s", code)
	}
}

func (imp *importer) reject(path string, lineNo uint64, err error) {
	imp.failed.Add(1)
	slog.Warn("skipping invalid coupon",
		slog.String("file", path),
		slog.Uint64("line", lineNo),
		slog.String("error", err.Error()),
	)
}

// streamGzFile opens a gzip-compressed file and calls fn for each non-empty line.
func streamGzFile(ctx context.Context, path string, fn func(line []byte) error) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return errors.Wrapf(err, "create gzip reader for %s", path)
	}
	defer func() { _ = gz.Close() }()

	scanner := bufio.NewScanner(gz)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		if err := fn(line); err != nil {
			return err
		}
	}

	if err := scanner.Err(); err != nil {
		return errors.Wrapf(err, "scan %s", path)
	}

	return nil
}
