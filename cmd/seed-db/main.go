// Command seed-db applies the schema, registers the admin API key and
// optionally loads sample coupons from a JSON array file.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/couponengine/coupon-engine/internal/domain/auth"
	"github.com/couponengine/coupon-engine/internal/domain/coupon"
	"github.com/couponengine/coupon-engine/internal/handler"
	"github.com/couponengine/coupon-engine/internal/storage/postgres"
)

func main() {
	var (
		databaseURL  string
		couponsFile  string
		apiKey       string
		apiKeyPepper string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&couponsFile, "coupons-file", "", "optional path to a JSON array of sample coupons")
	flag.StringVar(&apiKey, "api-key", "", "admin API key to seed (or COUPON_SEED_API_KEY env)")
	flag.StringVar(&apiKeyPepper, "api-key-pepper", "", "HMAC pepper for API key hashing (or COUPON_API_KEY_PEPPER env)")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if apiKey == "" {
		apiKey = os.Getenv("COUPON_SEED_API_KEY")
	}
	if apiKey == "" {
		slog.Error("API key is required: set --api-key or COUPON_SEED_API_KEY")
		os.Exit(1)
	}
	if apiKeyPepper == "" {
		apiKeyPepper = os.Getenv("COUPON_API_KEY_PEPPER")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, couponsFile, apiKey, apiKeyPepper); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL, couponsFile, apiKey, pepper string) error {
	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	if err := seedAPIKey(ctx, postgres.NewAPIKeyRepository(pool), apiKey, pepper); err != nil {
		return errors.Wrap(err, "seed api key")
	}

	if couponsFile != "" {
		catalog := coupon.NewCatalog(postgres.NewCouponRepository(pool))
		if err := seedCoupons(ctx, catalog, couponsFile); err != nil {
			return errors.Wrap(err, "seed coupons")
		}
	}

	return nil
}

func seedAPIKey(ctx context.Context, keys auth.Repository, apiKey, pepper string) error {
	slog.Info("seeding admin API key")

	if err := keys.Upsert(ctx, auth.APIKeyInfo{
		ID:      "default",
		KeyHash: auth.Hash([]byte(pepper), apiKey),
		Name:    "Default admin key",
		Scopes:  []string{auth.ScopeAdmin},
	}); err != nil {
		return errors.Wrap(err, "upsert default API key")
	}

	slog.Info("upserted API key", slog.String("id", "default"))
	return nil
}

func seedCoupons(ctx context.Context, catalog *coupon.Catalog, couponsFile string) error {
	slog.Info("reading coupons file", slog.String("path", couponsFile))

	data, err := os.ReadFile(couponsFile)
	if err != nil {
		return errors.Wrap(err, "read coupons file")
	}

	var inputs []handler.CouponInput
	if err := jx.DecodeBytes(data).Arr(func(d *jx.Decoder) error {
		in, err := handler.DecodeCoupon(d)
		if err != nil {
			return err
		}
		inputs = append(inputs, in)
		return nil
	}); err != nil {
		return errors.Wrap(err, "parse coupons JSON")
	}

	for i, in := range inputs {
		c, err := in.Coupon()
		if err != nil {
			return errors.Wrapf(err, "coupon #%d", i)
		}
		created, err := catalog.Create(ctx, c)
		if errors.Is(err, coupon.ErrCodeTaken) {
			slog.Info("coupon exists, skipping", slog.String("code", c.Code))
			continue
		}
		if err != nil {
			return errors.Wrapf(err, "create coupon %s", c.Code)
		}

		slog.Info("created coupon", slog.String("code", created.Code), slog.String("id", created.ID))
	}

	return nil
}
