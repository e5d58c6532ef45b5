package profile

import (
	"context"
	"log/slog"

	"github.com/MrWong99/neurolink/internal/config"
)

// Open returns the backend selected by cfg: PostgreSQL when PostgresDSN is
// set, otherwise SQLite at SQLitePath (or [DefaultSQLitePath]).
func Open(ctx context.Context, cfg config.ProfileConfig) (Store, error) {
	if cfg.PostgresDSN != "" {
		slog.Debug("profile: using postgres backend")
		return OpenPostgres(ctx, cfg.PostgresDSN)
	}

	path := cfg.SQLitePath
	if path == "" {
		var err error
		if path, err = DefaultSQLitePath(); err != nil {
			return nil, err
		}
	}
	slog.Debug("profile: using sqlite backend", "path", path)
	return OpenSQLite(ctx, path)
}
