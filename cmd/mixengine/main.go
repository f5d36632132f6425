package main

import (
	"context"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/rawblock/mixcore/internal/api"
	"github.com/rawblock/mixcore/internal/db"
	"github.com/rawblock/mixcore/internal/denomstore"
	"github.com/rawblock/mixcore/internal/keypairs"
	"github.com/rawblock/mixcore/internal/mixconfig"
	"github.com/rawblock/mixcore/internal/mixer"
	"github.com/rawblock/mixcore/internal/netcfg"
	"github.com/rawblock/mixcore/internal/p2p"
	"github.com/rawblock/mixcore/internal/workflow"
)

func main() {
	log.Println("Starting RawBlock Mixcore (PrivateSend-style CoinJoin client core)...")

	// ─── Required Environment Variables ─────────────────────────────────
	// All credentials MUST come from environment variables. No fallback
	// defaults for security-sensitive values. Use a .env file for local
	// development: cp .env.example .env && edit .env
	// ────────────────────────────────────────────────────────────────────

	dbURL := requireEnv("DATABASE_URL")

	dbConn, err := db.Connect(dbURL)
	if err != nil {
		log.Printf("Warning: Failed to connect to PostgreSQL, continuing without persisting ps_data. Error: %v", err)
	} else {
		defer dbConn.Close()
		if err := dbConn.InitSchema(); err != nil {
			log.Printf("Warning: DB schema init failed: %v", err)
		}
	}

	params := netcfg.ByName(getEnvOrDefault("PS_NETWORK", "mainnet"))
	workflow.SetNetwork(params)

	cfg := mixconfig.Default()
	if v := os.Getenv("PS_KEEP_AMOUNT"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.KeepAmount = n
		}
	}
	if v := os.Getenv("PS_MIX_ROUNDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MixRounds = n
		}
	}
	if v := os.Getenv("PS_MAX_SESSIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxSessions = n
		}
	}
	cfg = cfg.Normalize(params.MaxMixRounds())

	store := denomstore.New(cfg.MixRounds)
	kp := keypairs.New(cfg.KeypairTimeout)

	maxPeers, _ := strconv.Atoi(getEnvOrDefault("P2P_MAX_PEERS", "2"))
	var staticPeers []string
	if v := os.Getenv("P2P_STATIC_PEERS"); v != "" {
		for _, addr := range strings.Split(v, ",") {
			if addr = strings.TrimSpace(addr); addr != "" {
				staticPeers = append(staticPeers, addr)
			}
		}
	}
	pool := p2p.NewPool(p2p.PoolConfig{
		Params: params,
		PeerConfig: p2p.Config{
			Params:      params,
			UserAgent:   "/mixcore:1.0/",
			StartHeight: 0,
		},
		MaxPeers:    maxPeers,
		StaticPeers: staticPeers,
	})

	pctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go pool.Run(pctx)

	// Wallet-side boundaries (internal/walletiface) are implemented by the
	// host process embedding this core, not by this binary, and are left nil
	// here. With no Readiness wired, Start performs none of its readiness
	// checks (it never returns ErrNoNetwork/ErrWatchingOnly); with no
	// keypair Deriver wired, the keypair cache never fills, so Start waits
	// until its context ends. RunFindUntracked no-ops without a wired
	// History source.
	manager := mixer.New(cfg, mixer.Deps{
		Store:    store,
		Keypairs: kp,
		Pool:     pool,
	})

	if _, err := manager.RunFindUntracked(context.Background()); err != nil {
		log.Printf("Warning: initial untracked-tx discovery failed: %v", err)
	}

	wsHub := api.NewHub()
	go wsHub.Run()

	maxMixRounds := params.MaxMixRounds()
	r := api.SetupRouter(manager, dbConn, wsHub, maxMixRounds)

	port := getEnvOrDefault("PORT", "5339")

	log.Printf("Mixcore control API listening on :%s (network: %s)\n", port, params.Name)
	if err := r.Run(":" + port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}

// requireEnv reads a required environment variable and exits if it is not set.
func requireEnv(key string) string {
	val := os.Getenv(key)
	if val == "" {
		log.Fatalf("FATAL: Required environment variable %s is not set. "+
			"Copy .env.example to .env and fill in your values: cp .env.example .env", key)
	}
	return val
}

// getEnvOrDefault returns the env var value or a safe default for non-secret settings.
func getEnvOrDefault(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}
