//go:build cgo
// +build cgo

package store

import (
	_ "github.com/mattn/go-sqlite3"
)

const sqliteDriver = "sqlite3"

func dsn(path string) string {
	return path + "?_journal_mode=WAL&_foreign_keys=off&_busy_timeout=5000"
}
