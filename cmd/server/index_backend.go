package main

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"mechgrid.ai/internal/persistence/indexdb"
)

// openRuntimeIndex opens the sqlite read model unless it is disabled by flag or
// MG_INDEX_BACKEND=none. A nil index is valid everywhere it is used.
func openRuntimeIndex(worldDir string, disableDB bool, logger *log.Logger) (*indexdb.SQLiteIndex, error) {
	if disableDB {
		return nil, nil
	}

	backend := strings.ToLower(strings.TrimSpace(os.Getenv("MG_INDEX_BACKEND")))
	if backend == "" {
		backend = "sqlite"
	}

	switch backend {
	case "none", "off", "disabled":
		return nil, nil
	case "sqlite":
		path := filepath.Join(worldDir, "index", "world.sqlite")
		idx, err := indexdb.OpenSQLite(path)
		if err != nil {
			return nil, err
		}
		logger.Printf("index backend: sqlite path=%s", path)
		return idx, nil
	default:
		return nil, fmt.Errorf("unsupported MG_INDEX_BACKEND=%q", backend)
	}
}
