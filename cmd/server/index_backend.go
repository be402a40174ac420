package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"brickstream.ai/internal/persistence/indexdb"
)

// openIndex opens the read model. It never affects what gets streamed.
func openIndex(dataDir string, disableDB bool) (*indexdb.SQLiteIndex, error) {
	if disableDB {
		return nil, nil
	}

	backend := strings.ToLower(strings.TrimSpace(os.Getenv("BS_INDEX_BACKEND")))
	if backend == "" {
		backend = "sqlite"
	}

	switch backend {
	case "none", "off", "disabled":
		return nil, nil
	case "sqlite":
		return indexdb.OpenSQLite(filepath.Join(dataDir, "index", "stream.sqlite"))
	default:
		return nil, fmt.Errorf("unsupported BS_INDEX_BACKEND: %s", backend)
	}
}
