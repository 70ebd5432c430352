package app

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// initPrefill mirrors InitRequest so the dashboard can prefill the setup
// form from an existing DB_CONNECTION value. Only the two dialects the
// service runs on are recognized, and the password itself is never echoed.
type initPrefill struct {
	DatabaseType        string `json:"database_type"`
	DatabaseHost        string `json:"database_host"`
	DatabasePort        int    `json:"database_port"`
	DatabaseUser        string `json:"database_user"`
	DatabaseName        string `json:"database_name"`
	DatabaseSSLMode     string `json:"database_ssl_mode"`
	DatabasePath        string `json:"database_path"`
	DatabasePasswordSet bool   `json:"database_password_set"`
}

func initPrefillFromDSN(dsn string) (initPrefill, error) {
	trimmed := strings.TrimSpace(dsn)
	if trimmed == "" {
		return initPrefill{}, fmt.Errorf("empty dsn")
	}
	if rest, ok := cutCaseInsensitivePrefix(trimmed, "file:"); ok {
		return sqlitePrefill(rest), nil
	}

	u, errParse := url.Parse(trimmed)
	if errParse != nil {
		return initPrefill{}, fmt.Errorf("parse dsn: %w", errParse)
	}
	switch strings.ToLower(strings.TrimSpace(u.Scheme)) {
	case "postgres", "postgresql":
		return postgresPrefill(u)
	default:
		return initPrefill{}, fmt.Errorf("unsupported dsn scheme")
	}
}

func sqlitePrefill(rest string) initPrefill {
	path, _, _ := strings.Cut(rest, "?")
	return initPrefill{
		DatabaseType: "sqlite",
		DatabasePath: strings.TrimSpace(path),
	}
}

func postgresPrefill(u *url.URL) (initPrefill, error) {
	prefill := initPrefill{
		DatabaseType:    "postgres",
		DatabaseHost:    strings.TrimSpace(u.Hostname()),
		DatabasePort:    5432,
		DatabaseName:    strings.TrimSpace(strings.TrimPrefix(u.Path, "/")),
		DatabaseSSLMode: strings.TrimSpace(u.Query().Get("sslmode")),
	}
	if prefill.DatabaseSSLMode == "" {
		prefill.DatabaseSSLMode = "disable"
	}
	if rawPort := strings.TrimSpace(u.Port()); rawPort != "" {
		port, errPort := strconv.Atoi(rawPort)
		if errPort != nil {
			return initPrefill{}, fmt.Errorf("parse port: %w", errPort)
		}
		prefill.DatabasePort = port
	}
	if u.User != nil {
		prefill.DatabaseUser = strings.TrimSpace(u.User.Username())
		_, prefill.DatabasePasswordSet = u.User.Password()
	}
	return prefill, nil
}

func cutCaseInsensitivePrefix(s, prefix string) (string, bool) {
	if len(s) < len(prefix) || !strings.EqualFold(s[:len(prefix)], prefix) {
		return s, false
	}
	return s[len(prefix):], true
}
