// Command seed inserts a development admin and customer account.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"storefront-auth/internal/config"
	"storefront-auth/internal/db"
	"storefront-auth/internal/ids"
	"storefront-auth/internal/security"
)

type seedAccount struct {
	email       string
	role        string
	password    string
	displayName string
}

func main() {
	adminPass := flag.String("admin-password", "admin-password", "password for the seeded admin")
	customerPass := flag.String("customer-password", "customer-password", "password for the seeded customer")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	if cfg.Env == "production" {
		fmt.Fprintln(os.Stderr, "refusing to seed a production database")
		os.Exit(1)
	}

	database, err := db.Open(cfg.DatabaseURL, db.Pool{MaxOpenConns: 2})
	if err != nil {
		fmt.Fprintln(os.Stderr, "database:", err)
		os.Exit(1)
	}
	defer func() { _ = database.Close() }()

	hasher := security.NewHasher(cfg.BcryptCost)
	accounts := []seedAccount{
		{email: "admin@storefront.local", role: "admin", password: *adminPass, displayName: "Dev Admin"},
		{email: "customer@storefront.local", role: "customer", password: *customerPass, displayName: "Dev Customer"},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	for _, a := range accounts {
		hash, err := hasher.Hash([]byte(a.password))
		if err != nil {
			fmt.Fprintln(os.Stderr, "hash:", err)
			os.Exit(1)
		}
		_, err = database.ExecContext(ctx,
			`INSERT INTO accounts (id, email, role, password_hash, display_name)
			 VALUES ($1, $2, $3, $4, $5)
			 ON CONFLICT (email) DO UPDATE
			    SET password_hash = EXCLUDED.password_hash,
			        updated_at    = now()`,
			ids.New(), a.email, a.role, hash, a.displayName)
		if err != nil {
			fmt.Fprintln(os.Stderr, "insert:", err)
			os.Exit(1)
		}
		fmt.Printf("seeded %s (%s)\n", a.email, a.role)
	}
}
