package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/af-corp/kinsafe/internal/auth"
	"github.com/af-corp/kinsafe/internal/config"
)

func main() {
	user := flag.String("user", "", "owning user ID (required)")
	name := flag.String("name", "", "human-friendly key name (required)")
	env := flag.String("env", "prod", "environment prefix")
	dailyLimit := flag.Int("daily-limit", 0, "requests per day (0 = unlimited)")
	rpmLimit := flag.Int("rpm-limit", 0, "requests per minute (0 = server default)")
	expires := flag.String("expires", "365d", "expiry duration (e.g., 365d, 720h)")
	dbURL := flag.String("db-url", "", "database URL (overrides env and config)")
	configDir := flag.String("config", "configs", "configuration directory used when no database URL is given")
	flag.Parse()

	if *user == "" || *name == "" {
		flag.Usage()
		fmt.Fprintln(os.Stderr, "\nerror: -user and -name are required")
		os.Exit(1)
	}

	ttl, err := auth.ParseDuration(*expires)
	if err != nil {
		log.Fatalf("invalid expires: %v", err)
	}

	dsn, err := resolveDSN(*dbURL, *configDir)
	if err != nil {
		log.Fatalf("resolve database url: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer pool.Close()

	store := auth.NewCachedKeyStore(pool, nil)
	created, err := store.Create(ctx, auth.NewKey{
		UserID:     *user,
		Name:       *name,
		Env:        *env,
		DailyLimit: positive(*dailyLimit),
		RPMLimit:   positive(*rpmLimit),
		TTL:        ttl,
	})
	if err != nil {
		log.Fatalf("failed to create key: %v", err)
	}

	fmt.Println("=== KinSafe API Key Generated ===")
	fmt.Println()
	fmt.Printf("  Key ID:       %s\n", created.ID)
	fmt.Printf("  Key Prefix:   %s\n", created.KeyPrefix)
	fmt.Printf("  User:         %s\n", *user)
	fmt.Printf("  Name:         %s\n", created.Name)
	if created.DailyLimit != nil {
		fmt.Printf("  Daily limit:  %d\n", *created.DailyLimit)
	}
	if created.RPMLimit != nil {
		fmt.Printf("  RPM limit:    %d\n", *created.RPMLimit)
	}
	fmt.Printf("  Expires:      %s\n", created.ExpiresAt.Format(time.RFC3339))
	fmt.Println()
	fmt.Println("  API Key (save this, it will NOT be shown again):")
	fmt.Printf("  %s\n", created.Key)
	fmt.Println()
	fmt.Println("=================================")
}

func positive(n int) *int {
	if n <= 0 {
		return nil
	}
	return &n
}

// resolveDSN prefers the flag, then DATABASE_URL, then the database section
// of server.yaml (with ${VAR:default} expansion).
func resolveDSN(flagURL, configDir string) (string, error) {
	if flagURL != "" {
		return flagURL, nil
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		return v, nil
	}
	cfg := config.DefaultConfig()
	path := filepath.Join(configDir, config.ServerFile)
	if _, err := os.Stat(path); err == nil {
		if err := config.LoadFile(path, cfg); err != nil {
			return "", err
		}
	}
	return cfg.Database.DSN(), nil
}
