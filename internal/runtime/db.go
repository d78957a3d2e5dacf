package runtime

import (
	"context"
	"fmt"

	"github.com/mohammad-safakhou/resourcefinder/config"
	"github.com/mohammad-safakhou/resourcefinder/internal/store"
)

// OpenArchive connects the transcript archive. It returns nil without error
// when no Postgres database is configured.
func OpenArchive(ctx context.Context, cfg *config.Config) (*store.Store, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}
	p := cfg.Storage.Postgres
	if !p.Enabled() {
		return nil, nil
	}
	if p.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.Timeout)
		defer cancel()
	}
	st, err := store.NewWithDSN(ctx, p.DSN())
	if err != nil {
		return nil, fmt.Errorf("open transcript archive: %w", err)
	}
	return st, nil
}
