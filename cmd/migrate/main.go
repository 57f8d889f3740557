package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
)

type migration struct {
	version string
	up      string
}

var migrations = []migration{
	{
		version: "001_init_schema",
		up: `
			CREATE TABLE IF NOT EXISTS organizations (
				id VARCHAR(64) PRIMARY KEY,
				name VARCHAR(255) NOT NULL,
				gst_number VARCHAR(64) NOT NULL,
				status VARCHAR(20) NOT NULL DEFAULT 'active',
				created_at TIMESTAMPTZ NOT NULL
			);

			CREATE TABLE IF NOT EXISTS stores (
				store_id VARCHAR(32) PRIMARY KEY,
				organization_id VARCHAR(64) NOT NULL REFERENCES organizations(id),
				name VARCHAR(255) NOT NULL,
				email VARCHAR(255) NOT NULL,
				phone VARCHAR(32),
				address TEXT,
				gst_rate DOUBLE PRECISION NOT NULL DEFAULT 0,
				discount_rate DOUBLE PRECISION NOT NULL DEFAULT 0,
				status VARCHAR(20) NOT NULL DEFAULT 'active',
				created_at TIMESTAMPTZ NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_stores_organization_id ON stores(organization_id);

			CREATE TABLE IF NOT EXISTS store_users (
				id VARCHAR(64) PRIMARY KEY,
				email VARCHAR(255) UNIQUE NOT NULL,
				name VARCHAR(255) NOT NULL,
				store_id VARCHAR(32) REFERENCES stores(store_id),
				status VARCHAR(20) NOT NULL DEFAULT 'pending',
				signup_token TEXT,
				token_expiry TIMESTAMPTZ,
				password_hash VARCHAR(255),
				created_at TIMESTAMPTZ NOT NULL,
				updated_at TIMESTAMPTZ NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_store_users_store_id ON store_users(store_id);

			CREATE TABLE IF NOT EXISTS store_id_counter (
				id SMALLINT PRIMARY KEY,
				current BIGINT NOT NULL
			);
			INSERT INTO store_id_counter (id, current) VALUES (1, 0)
			ON CONFLICT (id) DO NOTHING;
		`,
	},
	{
		version: "002_catalogue_and_overrides",
		up: `
			CREATE TABLE IF NOT EXISTS catalogue_items (
				sku VARCHAR(64) NOT NULL,
				organization_id VARCHAR(64) NOT NULL REFERENCES organizations(id),
				item_name VARCHAR(255) NOT NULL,
				price NUMERIC(15,4) NOT NULL,
				stock INTEGER NOT NULL DEFAULT 0 CHECK (stock >= 0),
				active BOOLEAN NOT NULL DEFAULT true,
				created_at TIMESTAMPTZ NOT NULL,
				updated_at TIMESTAMPTZ NOT NULL,
				PRIMARY KEY (organization_id, sku)
			);
			CREATE INDEX IF NOT EXISTS idx_catalogue_items_active ON catalogue_items(active);

			CREATE TABLE IF NOT EXISTS store_price_overrides (
				id VARCHAR(64) PRIMARY KEY,
				store_id VARCHAR(32) NOT NULL REFERENCES stores(store_id),
				sku VARCHAR(64) NOT NULL,
				override_price NUMERIC(15,4),
				margin_type VARCHAR(20),
				margin_value NUMERIC(15,4) NOT NULL DEFAULT 0,
				status VARCHAR(20) NOT NULL DEFAULT 'active',
				updated_at TIMESTAMPTZ NOT NULL,
				UNIQUE (store_id, sku)
			);
		`,
	},
	{
		version: "003_sales",
		up: `
			CREATE TABLE IF NOT EXISTS sales (
				transaction_id VARCHAR(64) PRIMARY KEY,
				store_id VARCHAR(32) NOT NULL REFERENCES stores(store_id),
				payment_method VARCHAR(32) NOT NULL,
				customer_name VARCHAR(255),
				customer_phone VARCHAR(32),
				sub_total NUMERIC(15,4) NOT NULL,
				discount_total NUMERIC(15,4) NOT NULL,
				gst_total NUMERIC(15,4) NOT NULL,
				grand_total NUMERIC(15,4) NOT NULL,
				created_at TIMESTAMPTZ NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_sales_store_id ON sales(store_id);
			CREATE INDEX IF NOT EXISTS idx_sales_created_at ON sales(created_at);

			CREATE TABLE IF NOT EXISTS sale_items (
				transaction_id VARCHAR(64) NOT NULL REFERENCES sales(transaction_id),
				sku VARCHAR(64) NOT NULL,
				item_name VARCHAR(255) NOT NULL,
				quantity INTEGER NOT NULL CHECK (quantity > 0),
				price_per_unit NUMERIC(15,4) NOT NULL,
				subtotal NUMERIC(15,4) NOT NULL,
				discount NUMERIC(15,4) NOT NULL,
				gst NUMERIC(15,4) NOT NULL,
				total NUMERIC(15,4) NOT NULL,
				PRIMARY KEY (transaction_id, sku)
			);
		`,
	},
	{
		version: "004_orders_and_invoices",
		up: `
			CREATE TABLE IF NOT EXISTS orders (
				id VARCHAR(64) PRIMARY KEY,
				store_id VARCHAR(32) NOT NULL REFERENCES stores(store_id),
				status VARCHAR(20) NOT NULL DEFAULT 'pending',
				invoice_id VARCHAR(64),
				admin_note TEXT,
				created_at TIMESTAMPTZ NOT NULL,
				updated_at TIMESTAMPTZ NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_orders_store_id ON orders(store_id);
			CREATE INDEX IF NOT EXISTS idx_orders_status ON orders(status);

			CREATE TABLE IF NOT EXISTS order_items (
				order_id VARCHAR(64) NOT NULL REFERENCES orders(id),
				sku VARCHAR(64) NOT NULL,
				item_name VARCHAR(255) NOT NULL,
				quantity INTEGER NOT NULL CHECK (quantity > 0),
				PRIMARY KEY (order_id, sku)
			);

			CREATE TABLE IF NOT EXISTS invoices (
				id VARCHAR(64) PRIMARY KEY,
				invoice_no VARCHAR(64) UNIQUE NOT NULL,
				kind VARCHAR(20) NOT NULL,
				store_id VARCHAR(32) NOT NULL REFERENCES stores(store_id),
				order_id VARCHAR(64) REFERENCES orders(id),
				transaction_id VARCHAR(64) REFERENCES sales(transaction_id),
				store_name VARCHAR(255) NOT NULL,
				organization_name VARCHAR(255) NOT NULL,
				gst_number VARCHAR(64) NOT NULL,
				amount NUMERIC(15,4) NOT NULL,
				status VARCHAR(20) NOT NULL DEFAULT 'pending',
				issued_at TIMESTAMPTZ NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_invoices_store_id ON invoices(store_id);

			CREATE TABLE IF NOT EXISTS invoice_items (
				invoice_id VARCHAR(64) NOT NULL REFERENCES invoices(id),
				sku VARCHAR(64) NOT NULL,
				item_name VARCHAR(255) NOT NULL,
				quantity INTEGER NOT NULL CHECK (quantity > 0),
				price_per_unit NUMERIC(15,4) NOT NULL,
				total NUMERIC(15,4) NOT NULL,
				PRIMARY KEY (invoice_id, sku)
			);
		`,
	},
	{
		version: "005_app_users",
		up: `
			CREATE TABLE IF NOT EXISTS app_users (
				username VARCHAR(64) PRIMARY KEY,
				password VARCHAR(255) NOT NULL,
				role VARCHAR(20) NOT NULL,
				store_id VARCHAR(32) REFERENCES stores(store_id),
				active BOOLEAN NOT NULL DEFAULT true,
				created_at TIMESTAMPTZ NOT NULL
			);
		`,
	},
}

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("dotenv: %v", err)
	}

	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		log.Fatal("DATABASE_URL must be set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()

	if err := run(ctx, db); err != nil {
		log.Fatalf("migrate: %v", err)
	}
	log.Println("migrations complete")
}

func run(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version VARCHAR(100) PRIMARY KEY,
			executed_at TIMESTAMPTZ NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	applied, err := appliedVersions(ctx, db)
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if applied[m.version] {
			log.Printf("skip %s (already applied)", m.version)
			continue
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, m.up); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("apply %s: %w", m.version, err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO schema_migrations (version, executed_at) VALUES ($1, $2)
		`, m.version, time.Now().UTC()); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record %s: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit %s: %w", m.version, err)
		}
		log.Printf("applied %s", m.version)
	}
	return nil
}

func appliedVersions(ctx context.Context, db *sql.DB) (map[string]bool, error) {
	rows, err := db.QueryContext(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return map[string]bool{}, nil
		}
		return nil, err
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var version string
		if err := rows.Scan(&version); err != nil {
			return nil, err
		}
		applied[version] = true
	}
	return applied, rows.Err()
}
