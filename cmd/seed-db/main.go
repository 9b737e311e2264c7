package main

import (
	"context"
	"encoding/json"
	"flag"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/go-faster/errors"
	pgzip "github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront/internal/domain/auth"
	"github.com/xenking/storefront/internal/domain/buyer"
	"github.com/xenking/storefront/internal/domain/product"
	"github.com/xenking/storefront/internal/domain/seller"
	"github.com/xenking/storefront/internal/repository"
	"github.com/xenking/storefront/internal/security"
)

type sellerJSON struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type productJSON struct {
	ID              string          `json:"id"`
	SellerID        string          `json:"sellerId"`
	Name            string          `json:"name"`
	Category        string          `json:"category"`
	Price           decimal.Decimal `json:"price"`
	DiscountPercent decimal.Decimal `json:"discountPercent"`
	DeliveryPrice   decimal.Decimal `json:"deliveryPrice"`
	Stock           int             `json:"stock"`
	Colors          []product.Color `json:"colors"`
	Image           struct {
		Thumbnail string `json:"thumbnail"`
		Mobile    string `json:"mobile"`
		Tablet    string `json:"tablet"`
		Desktop   string `json:"desktop"`
	} `json:"image"`
}

type buyerJSON struct {
	ID           string `json:"id"`
	Username     string `json:"username"`
	Phone        string `json:"phone"`
	Password     string `json:"password"`
	ReferralCode string `json:"referralCode"`
	ReferredBy   string `json:"referredBy"`
	Coins        int64  `json:"referralCoins"`
}

type catalogJSON struct {
	Sellers  []sellerJSON  `json:"sellers"`
	Products []productJSON `json:"products"`
	// Buyers are created in file order, so referrers must precede the buyers they referred.
	Buyers []buyerJSON `json:"buyers"`
}

func main() {
	var (
		databaseURL  string
		catalogFile  string
		apiKey       string
		apiKeySeller string
		apiKeyPepper string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&catalogFile, "catalog-file", "db/seed/catalog.json", "path to seed JSON (sellers, products, buyers), optionally gzipped (.gz)")
	flag.StringVar(&apiKey, "api-key", "", "seller API key to seed (or STOREFRONT_SEED_API_KEY env)")
	flag.StringVar(&apiKeySeller, "api-key-seller", "", "seller owning the seeded API key (defaults to the first seller)")
	flag.StringVar(&apiKeyPepper, "api-key-pepper", "", "HMAC pepper for API key hashing (or STOREFRONT_AUTH_API_KEY_PEPPER env)")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if apiKey == "" {
		apiKey = os.Getenv("STOREFRONT_SEED_API_KEY")
	}
	if apiKeyPepper == "" {
		apiKeyPepper = os.Getenv("STOREFRONT_AUTH_API_KEY_PEPPER")
	}
	if apiKey != "" && apiKeyPepper == "" {
		slog.Error("API key pepper is required to seed an API key")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, catalogFile, apiKey, apiKeySeller, apiKeyPepper); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL, catalogFile, apiKey, keySeller, pepper string) error {
	catalog, err := readCatalog(catalogFile)
	if err != nil {
		return err
	}

	slog.Info("connecting to database")

	pool, err := repository.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")

	if err := repository.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}
	db := repository.NewDB(pool)

	return db.InTx(ctx, func(ctx context.Context) error {
		if err := seedSellers(ctx, repository.NewSellerRepository(db), catalog.Sellers); err != nil {
			return errors.Wrap(err, "seed sellers")
		}
		if err := seedProducts(ctx, repository.NewProductRepository(db), catalog.Products); err != nil {
			return errors.Wrap(err, "seed products")
		}
		if err := seedBuyers(ctx, repository.NewBuyerRepository(db), catalog.Buyers); err != nil {
			return errors.Wrap(err, "seed buyers")
		}
		if apiKey == "" {
			slog.Info("no API key given, skipping")
			return nil
		}
		if keySeller == "" {
			if len(catalog.Sellers) == 0 {
				return errors.New("no seller to own the API key")
			}
			keySeller = catalog.Sellers[0].ID
		}
		if err := seedAPIKey(ctx, repository.NewAPIKeyRepository(db), apiKey, keySeller, pepper); err != nil {
			return errors.Wrap(err, "seed api key")
		}
		return nil
	})
}

func readCatalog(path string) (*catalogJSON, error) {
	slog.Info("reading catalog file", slog.String("path", path))

	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open catalog file")
	}
	defer func() { _ = f.Close() }()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gz, err := pgzip.NewReader(f)
		if err != nil {
			return nil, errors.Wrap(err, "open gzip stream")
		}
		defer func() { _ = gz.Close() }()
		r = gz
	}

	var catalog catalogJSON
	if err := json.NewDecoder(r).Decode(&catalog); err != nil {
		return nil, errors.Wrap(err, "parse catalog JSON")
	}
	return &catalog, nil
}

func seedSellers(ctx context.Context, repo *repository.SellerRepository, sellers []sellerJSON) error {
	slog.Info("upserting sellers", slog.Int("count", len(sellers)))

	hasher := security.NewBcryptHasher(0)
	for _, s := range sellers {
		hash, err := hasher.Hash(s.Password)
		if err != nil {
			return errors.Wrapf(err, "hash password for seller %s", s.ID)
		}
		if err := repo.Create(ctx, &seller.Seller{
			ID:           s.ID,
			Name:         s.Name,
			Email:        strings.ToLower(s.Email),
			PasswordHash: hash,
			CreatedAt:    time.Now().UTC(),
		}); err != nil {
			return err
		}

		slog.Info("upserted seller", slog.String("id", s.ID), slog.String("email", s.Email))
	}
	return nil
}

func seedProducts(ctx context.Context, repo *repository.ProductRepository, products []productJSON) error {
	slog.Info("upserting products", slog.Int("count", len(products)))

	for _, p := range products {
		if err := repo.Upsert(ctx, &product.Product{
			ID:              p.ID,
			SellerID:        p.SellerID,
			Name:            p.Name,
			Category:        p.Category,
			Price:           p.Price,
			DiscountPercent: p.DiscountPercent,
			DeliveryPrice:   p.DeliveryPrice,
			Stock:           p.Stock,
			Colors:          p.Colors,
			Image: product.Image{
				Thumbnail: p.Image.Thumbnail,
				Mobile:    p.Image.Mobile,
				Tablet:    p.Image.Tablet,
				Desktop:   p.Image.Desktop,
			},
		}); err != nil {
			return errors.Wrapf(err, "upsert product %s", p.ID)
		}

		slog.Info("upserted product", slog.String("id", p.ID), slog.String("name", p.Name))
	}
	return nil
}

// seedBuyers creates buyers that do not exist yet. Existing usernames are
// skipped, since a failed insert would abort the surrounding transaction.
func seedBuyers(ctx context.Context, repo *repository.BuyerRepository, buyers []buyerJSON) error {
	slog.Info("creating buyers", slog.Int("count", len(buyers)))

	hasher := security.NewBcryptHasher(0)
	for _, b := range buyers {
		_, err := repo.GetByUsername(ctx, b.Username)
		if err == nil {
			slog.Info("buyer exists, skipping", slog.String("username", b.Username))
			continue
		}
		if !errors.Is(err, buyer.ErrNotFound) {
			return errors.Wrapf(err, "look up buyer %s", b.Username)
		}

		hash, err := hasher.Hash(b.Password)
		if err != nil {
			return errors.Wrapf(err, "hash password for buyer %s", b.Username)
		}
		if err := repo.Create(ctx, &buyer.Buyer{
			ID:            b.ID,
			Username:      b.Username,
			Phone:         b.Phone,
			PasswordHash:  hash,
			ReferralCode:  buyer.NormalizeCode(b.ReferralCode),
			ReferredBy:    b.ReferredBy,
			ReferralCoins: b.Coins,
			CreatedAt:     time.Now().UTC(),
		}); err != nil {
			return errors.Wrapf(err, "create buyer %s", b.Username)
		}
		if b.ReferredBy != "" {
			if err := repo.IncrementReferrals(ctx, b.ReferredBy); err != nil {
				return errors.Wrapf(err, "credit referral of %s", b.Username)
			}
		}

		slog.Info("created buyer", slog.String("id", b.ID), slog.String("username", b.Username))
	}
	return nil
}

func seedAPIKey(ctx context.Context, repo *repository.APIKeyRepository, apiKey, sellerID, pepper string) error {
	slog.Info("seeding seller API key", slog.String("seller", sellerID))

	info := &auth.APIKeyInfo{
		ID:       "default-" + sellerID,
		KeyHash:  auth.HashAPIKey([]byte(pepper), apiKey),
		Name:     "Default seller key",
		SellerID: sellerID,
		Scopes:   []string{auth.ScopeOrders},
	}
	if err := repo.Upsert(ctx, info); err != nil {
		return errors.Wrap(err, "upsert default API key")
	}

	slog.Info("upserted API key", slog.String("id", info.ID), slog.String("name", info.Name))
	return nil
}
