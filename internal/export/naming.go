package export

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
)

// Namer hands out sequential output file names (cow_0001.mp4, cow_0002.mp4,
// ...). The counter is global for the whole run so tracks from different
// source videos can never collide, and it is mutex-guarded in case videos
// are ever processed concurrently.
type Namer struct {
	mu     sync.Mutex
	dir    string
	prefix string
	ext    string
	next   int
}

// NewNamer creates a namer rooted at dir
func NewNamer(dir, prefix, ext string) *Namer {
	return &Namer{
		dir:    dir,
		prefix: prefix,
		ext:    ext,
		next:   1,
	}
}

// Next allocates the next output path. Names are strictly increasing and
// never reused, even if the file is later discarded.
func (n *Namer) Next() string {
	n.mu.Lock()
	defer n.mu.Unlock()

	name := fmt.Sprintf("%s_%04d%s", n.prefix, n.next, n.ext)
	n.next++
	return filepath.Join(n.dir, name)
}

// SeedFromDir advances the counter past any outputs already present, so a
// resumed run keeps numbering where the previous run stopped.
func (n *Namer) SeedFromDir() error {
	entries, err := os.ReadDir(n.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to scan output directory: %w", err)
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasPrefix(name, n.prefix+"_") || !strings.HasSuffix(name, n.ext) {
			continue
		}
		digits := strings.TrimSuffix(strings.TrimPrefix(name, n.prefix+"_"), n.ext)
		seq, err := strconv.Atoi(digits)
		if err != nil {
			continue
		}
		if seq >= n.next {
			n.next = seq + 1
		}
	}

	return nil
}
