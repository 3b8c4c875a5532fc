package core

import (
	"os"
	"path/filepath"

	"github.com/jakebutler/pithy-jaunt-sub000/internals/conf"
	"github.com/jakebutler/pithy-jaunt-sub000/pithyd/core/db"
)

// DBPath is where the store and the job queue live inside the data dir.
func DBPath(config *conf.Config) string {
	return filepath.Join(config.Server.DataDir, "db", "pithy.db")
}

// InitDB opens the store and applies pending migrations.
func InitDB(config *conf.Config) (*db.SQLiteStore, error) {
	dbPath := DBPath(config)
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, err
	}
	return db.Open(dbPath)
}
