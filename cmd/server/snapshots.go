package main

import (
	"context"
	"log"

	"brickstream.ai/internal/persistence/indexdb"
	"brickstream.ai/internal/persistence/snapshot"
)

// writeSnapshots persists snapshots from ch until ctx ends.
func writeSnapshots(ctx context.Context, dataDir string, ch <-chan snapshot.SnapshotV1, idx *indexdb.SQLiteIndex, logger *log.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case snap := <-ch:
			path := snapshot.Path(dataDir, snap.Header.Frame)
			if err := snapshot.WriteSnapshot(path, snap); err != nil {
				logger.Printf("snapshot write: %v", err)
				continue
			}
			if idx != nil {
				idx.RecordSnapshot(path, snap)
			}
		}
	}
}
