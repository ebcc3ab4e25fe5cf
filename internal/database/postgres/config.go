package postgres

import (
	"fmt"
	"net/url"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/koustreak/pgtable/internal/database"
	"github.com/koustreak/pgtable/internal/errs"
)

// buildConnConfig turns an identity into a pgx connection config.
func buildConnConfig(id database.Identity) (*pgx.ConnConfig, error) {
	cfg, err := pgx.ParseConfig(buildDSN(id))
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindInvalidInput, "invalid postgres connection settings", err)
	}
	if id.ConnectTimeout > 0 {
		cfg.ConnectTimeout = id.ConnectTimeout
	}
	return cfg, nil
}

// buildDSN constructs the postgres connection URL. Credentials are escaped
// by net/url so passwords may contain any character.
func buildDSN(id database.Identity) string {
	sslMode := id.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	port := id.Port
	if port == 0 {
		port = database.DefaultPort
	}

	u := url.URL{
		Scheme: "postgres",
		Host:   fmt.Sprintf("%s:%d", id.Host, port),
		Path:   "/" + id.DBName,
	}
	if id.Password != "" {
		u.User = url.UserPassword(id.User, id.Password)
	} else if id.User != "" {
		u.User = url.User(id.User)
	}

	q := url.Values{}
	q.Set("sslmode", sslMode)
	if id.ConnectTimeout > 0 {
		q.Set("connect_timeout", strconv.Itoa(int(id.ConnectTimeout.Seconds())))
	}
	u.RawQuery = q.Encode()
	return u.String()
}
