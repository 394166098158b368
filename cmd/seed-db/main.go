// Command seed-db migrates the database and loads the development data
// set: catalog products, demo coupons and newsletter subscribers.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront-checkout/internal/domain/coupon"
	"github.com/xenking/storefront-checkout/internal/domain/product"
	"github.com/xenking/storefront-checkout/internal/storage/postgres"
)

type productJSON struct {
	ID       string          `json:"id"`
	Title    string          `json:"title"`
	Price    decimal.Decimal `json:"price"`
	Category string          `json:"category"`
	Stock    int             `json:"stock"`
}

func main() {
	var (
		databaseURL  string
		productsFile string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&productsFile, "products-file", "db/seed/products.json", "path to products JSON file")
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

	if err := run(ctx, databaseURL, productsFile); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL, productsFile string) error {
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

	if err := seedProducts(ctx, postgres.NewProductRepository(pool), productsFile); err != nil {
		return errors.Wrap(err, "seed products")
	}

	if err := seedCoupons(ctx, postgres.NewCouponRepository(pool)); err != nil {
		return errors.Wrap(err, "seed coupons")
	}

	if err := seedSubscribers(ctx, postgres.NewShopperRepository(pool)); err != nil {
		return errors.Wrap(err, "seed subscribers")
	}

	return nil
}

func seedProducts(ctx context.Context, repo *postgres.ProductRepository, productsFile string) error {
	slog.Info("reading products file", slog.String("path", productsFile))

	data, err := os.ReadFile(productsFile)
	if err != nil {
		return errors.Wrap(err, "read products file")
	}

	var products []productJSON
	if err := json.Unmarshal(data, &products); err != nil {
		return errors.Wrap(err, "parse products JSON")
	}

	slog.Info("upserting products", slog.Int("count", len(products)))

	for _, p := range products {
		err := repo.Upsert(ctx, product.Product{
			ID:       p.ID,
			Title:    p.Title,
			Price:    p.Price,
			Category: p.Category,
			Stock:    p.Stock,
		})
		if err != nil {
			return errors.Wrapf(err, "upsert product %s", p.ID)
		}

		slog.Info("upserted product", slog.String("id", p.ID), slog.String("title", p.Title))
	}

	return nil
}

func seedCoupons(ctx context.Context, repo *postgres.CouponRepository) error {
	slog.Info("seeding demo coupons")

	soon := time.Now().AddDate(0, 6, 0)
	welcomeLimit := 1000

	coupons := []coupon.Coupon{
		{
			Code:         "SAVE10",
			DiscountType: coupon.DiscountPercentage,
			Value:        decimal.NewFromInt(10),
			CustomerType: coupon.CustomerGeneral,
			IsActive:     true,
		},
		{
			Code:           "WELCOME20",
			DiscountType:   coupon.DiscountPercentage,
			Value:          decimal.NewFromInt(20),
			CustomerType:   coupon.CustomerNew,
			UsageLimit:     &welcomeLimit,
			PerUserLimit:   1,
			ValidUntil:     &soon,
			MinOrderAmount: decimal.NewFromInt(25),
			IsActive:       true,
		},
		{
			Code:         "NEWSLETTER5",
			DiscountType: coupon.DiscountFixed,
			Value:        decimal.NewFromInt(5),
			CustomerType: coupon.CustomerSubscriber,
			PerUserLimit: 3,
			IsActive:     true,
		},
		{
			Code:               "SHOEFAN15",
			DiscountType:       coupon.DiscountPercentage,
			Value:              decimal.NewFromInt(15),
			CustomerType:       coupon.CustomerGeneral,
			AppliedCategories:  []string{"shoes"},
			ExcludedCategories: []string{"giftcards"},
			IsActive:           true,
		},
	}

	for _, c := range coupons {
		if err := repo.Upsert(ctx, c); err != nil {
			return errors.Wrapf(err, "upsert coupon %s", c.Code)
		}

		slog.Info("upserted coupon", slog.String("code", c.Code))
	}

	return nil
}

func seedSubscribers(ctx context.Context, repo *postgres.ShopperRepository) error {
	slog.Info("seeding newsletter subscribers")

	for _, email := range []string{"demo@example.com", "tester@example.com"} {
		if err := repo.Subscribe(ctx, email); err != nil {
			return errors.Wrapf(err, "subscribe %s", email)
		}
	}

	return nil
}
