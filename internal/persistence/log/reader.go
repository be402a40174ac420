package log

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/klauspost/compress/zstd"

	"brickstream.ai/internal/stream/runtime"
	"brickstream.ai/internal/transport/ws"
)

// FrameFiles lists the frame log files in dataDir in chronological order.
func FrameFiles(dataDir string) ([]string, error) {
	return logFiles(dataDir, "frames")
}

func SessionFiles(dataDir string) ([]string, error) {
	return logFiles(dataDir, "sessions")
}

func logFiles(dataDir, prefix string) ([]string, error) {
	files, err := filepath.Glob(filepath.Join(dataDir, prefix, prefix+"-*.jsonl.zst"))
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

// ReadFrames streams every entry of one frame log file to fn, stopping at the
// first error fn returns.
func ReadFrames(path string, fn func(runtime.FrameLogEntry) error) error {
	return readJSONL(path, fn)
}

func ReadSessions(path string, fn func(ws.SessionEvent) error) error {
	return readJSONL(path, fn)
}

func readJSONL[T any](path string, fn func(T) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return err
	}
	defer dec.Close()

	sc := bufio.NewScanner(dec)
	sc.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		var e T
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			return fmt.Errorf("%s:%d: %w", filepath.Base(path), line, err)
		}
		if err := fn(e); err != nil {
			return err
		}
	}
	return sc.Err()
}
