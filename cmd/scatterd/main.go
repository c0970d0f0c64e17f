package main

import (
	"log"
	"net/http"
	"os"
	"time"

	"github.com/tbury/scatter/internal/api"
	"github.com/tbury/scatter/internal/config"
	"github.com/tbury/scatter/internal/dispatch"
	"github.com/tbury/scatter/internal/search"
	"github.com/tbury/scatter/internal/store"
	"github.com/tbury/scatter/internal/upstream"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}
	logger := config.NewLogger(os.Stdout, cfg.LogLevel)

	logger.Info("scatterd: starting",
		"listen_addr", cfg.ListenAddr,
		"db_path", cfg.DBPath,
		"default_deadline_ms", cfg.DeadlineMS,
	)

	db, err := store.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	// One shared client for all replica calls. Per-call timeouts come from
	// the query deadline via token-derived contexts, not from the client.
	client := &http.Client{
		Transport: &http.Transport{
			MaxIdleConnsPerHost: 8,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	reg := upstream.NewRegistry()
	for _, g := range cfg.Upstreams {
		replicas := make([]search.ReplicaFunc, len(g.URLs))
		for i, u := range g.URLs {
			replicas[i] = upstream.HTTPReplica(client, u)
		}
		reg.Register(g.Name, replicas...)
		logger.Info("registered upstream group", "name", g.Name, "replicas", len(g.URLs))
	}

	d := dispatch.NewDispatcher(db, reg, logger)
	srv := api.NewServer(cfg.ListenAddr, db, reg, d, logger)

	if err := srv.Run(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
