package database

import (
	"fmt"
	"net/url"

	"github.com/rickgao/auction-intel/internal/config"
)

// ApplicationName is reported to the server in pg_stat_activity.
const ApplicationName = "auction-intel"

// BuildConnString builds a PostgreSQL connection URL from config.
// The password is query-escaped; sslmode falls back to prefer.
func BuildConnString(cfg config.DBConfig) string {
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "prefer"
	}

	params := url.Values{}
	params.Set("sslmode", sslMode)
	params.Set("application_name", ApplicationName)

	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?%s",
		cfg.User,
		url.QueryEscape(cfg.Password),
		cfg.Host,
		cfg.Port,
		cfg.Name,
		params.Encode(),
	)
}
