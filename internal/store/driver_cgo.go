//go:build cgo_sqlite

package store

import (
	_ "github.com/mattn/go-sqlite3" // cgo SQLite driver, faster under write load
)

const driverName = "sqlite3"

func buildConnectionString(path string, profile Profile) string {
	connStr := path + "?_journal_mode=WAL"

	switch profile {
	case ProfileLedger:
		connStr += "&_synchronous=FULL"
		connStr += "&_auto_vacuum=none"
	case ProfileCache:
		connStr += "&_synchronous=OFF"
		connStr += "&_auto_vacuum=full"
	default:
		connStr += "&_synchronous=NORMAL"
		connStr += "&_auto_vacuum=incremental"
	}

	connStr += "&_foreign_keys=1"
	connStr += "&_cache_size=-64000"
	connStr += "&_busy_timeout=5000"
	return connStr
}
