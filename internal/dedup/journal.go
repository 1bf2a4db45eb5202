package dedup

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Journal is a flat append-only file of dedup observations, one per line:
//
//	source \t itemID \t contentHash \t runID \t unixSeconds
//
// It is a cache layer, not the source of truth: replayed at startup to warm
// the in-memory hash cache and flushed on shutdown.
type Journal struct {
	path string

	mu sync.Mutex
	f  *os.File
	w  *bufio.Writer
}

func OpenJournal(path string) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create journal dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	return &Journal{path: path, f: f, w: bufio.NewWriter(f)}, nil
}

// Replay reads every line written so far and returns the latest hash per
// identity. Malformed lines (e.g. a truncated tail after a crash) are skipped.
func (j *Journal) Replay() (map[string]string, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	f, err := os.Open(j.path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	entries := make(map[string]string)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		fields := strings.Split(scanner.Text(), "\t")
		if len(fields) < 3 {
			continue
		}
		entries[cacheKey(fields[0], fields[1])] = fields[2]
	}
	return entries, scanner.Err()
}

func (j *Journal) Append(source, itemID, contentHash, runID string) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	_, err := fmt.Fprintf(j.w, "%s\t%s\t%s\t%s\t%d\n",
		source, itemID, contentHash, runID, time.Now().Unix())
	return err
}

func (j *Journal) Flush() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.w.Flush(); err != nil {
		return err
	}
	return j.f.Sync()
}

func (j *Journal) Close() error {
	if err := j.Flush(); err != nil {
		return err
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.f.Close()
}
