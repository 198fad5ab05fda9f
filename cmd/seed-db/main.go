// Command seed-db loads the catalog, demo customer accounts, and API keys
// into the database. The catalog file may be plain JSON or gzip-compressed
// (.gz suffix).
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

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	pgzip "github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"

	"github.com/xenking/threadline/internal/domain/auth"
	"github.com/xenking/threadline/internal/storage/postgres"
)

type itemJSON struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Price    decimal.Decimal `json:"price"`
	Category string          `json:"category"`
	InStock  *bool           `json:"in_stock"`
}

type customerJSON struct {
	Username string `json:"username"`
	APIKey   string `json:"api_key"`
	Address  struct {
		Name     string `json:"name"`
		Phone    string `json:"phone"`
		Pincode  string `json:"pincode"`
		Landmark string `json:"landmark"`
		Line     string `json:"line"`
		City     string `json:"city"`
		State    string `json:"state"`
		Country  string `json:"country"`
	} `json:"address"`
}

func main() {
	var (
		databaseURL   string
		catalogFile   string
		customersFile string
		adminKey      string
		apiKeyPepper  string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&catalogFile, "catalog-file", "db/seed/catalog.json", "path to catalog JSON file (optionally .gz)")
	flag.StringVar(&customersFile, "customers-file", "", "optional path to demo customers JSON file")
	flag.StringVar(&adminKey, "admin-key", "", "admin API key to seed (or THREADLINE_SEED_ADMIN_KEY env)")
	flag.StringVar(&apiKeyPepper, "api-key-pepper", "", "HMAC pepper for API key hashing (or THREADLINE_API_KEY_PEPPER env)")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if adminKey == "" {
		adminKey = os.Getenv("THREADLINE_SEED_ADMIN_KEY")
	}
	if adminKey == "" {
		slog.Error("admin API key is required: set --admin-key or THREADLINE_SEED_ADMIN_KEY")
		os.Exit(1)
	}
	if apiKeyPepper == "" {
		apiKeyPepper = os.Getenv("THREADLINE_API_KEY_PEPPER")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, catalogFile, customersFile, adminKey, apiKeyPepper); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL, catalogFile, customersFile, adminKey, pepper string) error {
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

	if err := seedCatalog(ctx, pool, catalogFile); err != nil {
		return errors.Wrap(err, "seed catalog")
	}

	if customersFile != "" {
		if err := seedCustomers(ctx, pool, customersFile, pepper); err != nil {
			return errors.Wrap(err, "seed customers")
		}
	}

	if err := seedAdminKey(ctx, pool, adminKey, pepper); err != nil {
		return errors.Wrap(err, "seed admin key")
	}

	return nil
}

// openSeedFile opens path, transparently decompressing .gz files.
func openSeedFile(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	if !strings.HasSuffix(path, ".gz") {
		return f, nil
	}
	gz, err := pgzip.NewReader(f)
	if err != nil {
		f.Close()
		return nil, errors.Wrap(err, "open gzip reader")
	}
	return struct {
		io.Reader
		io.Closer
	}{gz, f}, nil
}

func seedCatalog(ctx context.Context, pool *pgxpool.Pool, path string) error {
	slog.Info("reading catalog file", slog.String("path", path))

	r, err := openSeedFile(path)
	if err != nil {
		return errors.Wrap(err, "open catalog file")
	}
	defer r.Close()

	var items []itemJSON
	if err := json.NewDecoder(r).Decode(&items); err != nil {
		return errors.Wrap(err, "parse catalog JSON")
	}

	for _, it := range items {
		inStock := true
		if it.InStock != nil {
			inStock = *it.InStock
		}
		_, err := pool.Exec(ctx, `
			INSERT INTO catalog_items (id, name, price, category, in_stock)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (id) DO UPDATE
			SET name = EXCLUDED.name, price = EXCLUDED.price,
			    category = EXCLUDED.category, in_stock = EXCLUDED.in_stock`,
			it.ID, it.Name, it.Price, it.Category, inStock,
		)
		if err != nil {
			return errors.Wrapf(err, "upsert item %s", it.ID)
		}
	}

	slog.Info("catalog seeded", slog.Int("items", len(items)))
	return nil
}

// ensureAccount inserts an account by username if missing and returns its id.
func ensureAccount(ctx context.Context, pool *pgxpool.Pool, username string) (string, error) {
	id := uuid.New().String()
	var out string
	err := pool.QueryRow(ctx, `
		INSERT INTO accounts (id, username)
		VALUES ($1, $2)
		ON CONFLICT (username) DO UPDATE SET username = EXCLUDED.username
		RETURNING id`,
		id, username,
	).Scan(&out)
	return out, err
}

func upsertAPIKey(ctx context.Context, pool *pgxpool.Pool, accountID, rawKey, name, pepper string, isAdmin bool) error {
	hash := auth.HashKey([]byte(pepper), rawKey)
	_, err := pool.Exec(ctx, `
		INSERT INTO api_keys (id, key_hash, account_id, name, is_admin, active)
		VALUES ($1, $2, $3, $4, $5, TRUE)
		ON CONFLICT (key_hash) DO UPDATE
		SET account_id = EXCLUDED.account_id, is_admin = EXCLUDED.is_admin, active = TRUE`,
		uuid.New().String(), hash, accountID, name, isAdmin,
	)
	return err
}

func seedCustomers(ctx context.Context, pool *pgxpool.Pool, path, pepper string) error {
	slog.Info("reading customers file", slog.String("path", path))

	r, err := openSeedFile(path)
	if err != nil {
		return errors.Wrap(err, "open customers file")
	}
	defer r.Close()

	var customers []customerJSON
	if err := json.NewDecoder(r).Decode(&customers); err != nil {
		return errors.Wrap(err, "parse customers JSON")
	}

	for _, c := range customers {
		accountID, err := ensureAccount(ctx, pool, c.Username)
		if err != nil {
			return errors.Wrapf(err, "ensure account %s", c.Username)
		}

		if c.APIKey != "" {
			if err := upsertAPIKey(ctx, pool, accountID, c.APIKey, c.Username, pepper, false); err != nil {
				return errors.Wrapf(err, "seed key for %s", c.Username)
			}
		}

		a := c.Address
		if a.Line == "" {
			continue
		}
		country := a.Country
		if country == "" {
			country = "India"
		}
		_, err = pool.Exec(ctx, `
			INSERT INTO addresses (id, account_id, name, phone, pincode, landmark, line, city, state, country)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			ON CONFLICT (id) DO NOTHING`,
			uuid.New().String(), accountID, a.Name, a.Phone, a.Pincode, a.Landmark, a.Line, a.City, a.State, country,
		)
		if err != nil {
			return errors.Wrapf(err, "seed address for %s", c.Username)
		}
	}

	slog.Info("customers seeded", slog.Int("customers", len(customers)))
	return nil
}

func seedAdminKey(ctx context.Context, pool *pgxpool.Pool, rawKey, pepper string) error {
	accountID, err := ensureAccount(ctx, pool, "admin")
	if err != nil {
		return errors.Wrap(err, "ensure admin account")
	}
	if err := upsertAPIKey(ctx, pool, accountID, rawKey, "admin", pepper, true); err != nil {
		return errors.Wrap(err, "upsert admin key")
	}
	slog.Info("admin API key seeded")
	return nil
}
