// testserver starts a scatter API server with stub upstream groups for E2E
// testing. Usage: go run ./cmd/testserver
package main

import (
	"fmt"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/tbury/scatter/internal/api"
	"github.com/tbury/scatter/internal/dispatch"
	"github.com/tbury/scatter/internal/search"
	"github.com/tbury/scatter/internal/store"
	"github.com/tbury/scatter/internal/token"
	"github.com/tbury/scatter/internal/upstream"
)

// stubReplica answers after delay with a canned payload naming the group and
// replica, or observes cancellation first.
func stubReplica(group string, idx int, delay time.Duration) search.ReplicaFunc {
	return func(tok *token.Token, term string) ([]byte, error) {
		select {
		case <-time.After(delay):
		case <-tok.Done():
			return nil, tok.Err()
		}
		return fmt.Appendf(nil, "%s/replica-%d results for %q", group, idx, term), nil
	}
}

// failingReplica always errors after delay.
func failingReplica(delay time.Duration) search.ReplicaFunc {
	return func(tok *token.Token, _ string) ([]byte, error) {
		select {
		case <-time.After(delay):
		case <-tok.Done():
			return nil, tok.Err()
		}
		return nil, fmt.Errorf("upstream unavailable")
	}
}

func main() {
	addr := ":8080"
	if v := os.Getenv("SCATTER_LISTEN_ADDR"); v != "" {
		addr = v
	}

	db, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	reg := upstream.NewRegistry()
	reg.Register("web",
		stubReplica("web", 0, 40*time.Millisecond),
		stubReplica("web", 1, 120*time.Millisecond),
	)
	reg.Register("news",
		failingReplica(20*time.Millisecond),
		stubReplica("news", 1, 80*time.Millisecond),
	)
	reg.Register("images",
		stubReplica("images", 0, 300*time.Millisecond),
	)
	// A group whose replicas never beat a short deadline.
	reg.Register("archive",
		stubReplica("archive", 0, 5*time.Second),
	)

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	d := dispatch.NewDispatcher(db, reg, logger)
	srv := api.NewServer(addr, db, reg, d, logger)

	logger.Info("testserver: starting", "addr", addr)
	if err := srv.Run(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
