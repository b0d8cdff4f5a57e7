package runtime

import (
	"errors"
	"net"
	"net/url"

	"github.com/mohammad-safakhou/replanner/config"
)

// BuildPostgresDSN returns storage.postgres.url when set, otherwise a
// postgres:// URL assembled from the discrete fields with credentials escaped.
func BuildPostgresDSN(cfg *config.Config) (string, error) {
	if cfg == nil {
		return "", errors.New("config is nil")
	}
	p := cfg.Storage.Postgres
	if p.URL != "" {
		return p.URL, nil
	}
	if p.Host == "" || p.DBName == "" {
		return "", errors.New("postgres configuration incomplete: host/dbname required")
	}
	port := p.Port
	if port == "" {
		port = "5432"
	}
	ssl := p.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	u := url.URL{
		Scheme:   "postgres",
		Host:     net.JoinHostPort(p.Host, port),
		Path:     "/" + p.DBName,
		RawQuery: url.Values{"sslmode": {ssl}}.Encode(),
	}
	if p.User != "" {
		u.User = url.UserPassword(p.User, p.Password)
	}
	return u.String(), nil
}
