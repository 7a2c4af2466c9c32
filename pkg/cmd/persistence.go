package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/helixcrm/flowengine/pkg/persistence"
	"github.com/helixcrm/flowengine/pkg/persistence/memory"
	"github.com/helixcrm/flowengine/pkg/persistence/postgresql"
)

// NewPersistence creates a store from a database URL. PostgreSQL backs
// deployed environments; "memory://" is for development and tests.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) persistence.Persistence {
	switch {
	case strings.HasPrefix(databaseURL, "postgres://"), strings.HasPrefix(databaseURL, "postgresql://"):
		store, err := postgresql.NewPersistence(ctx, logger, databaseURL)
		if err != nil {
			panic(fmt.Errorf("failed to connect to PostgreSQL: %w", err))
		}

		return store
	case databaseURL == "" || strings.HasPrefix(databaseURL, "memory://"):
		return memory.NewPersistence()
	default:
		panic("Unsupported database URL: " + databaseURL)
	}
}
