package builder

import (
	"hash/fnv"
	"os"
	"path/filepath"
	"sync"
	"time"

	mapsync "github.com/flywave/go-mapsync"
	"github.com/flywave/go-mapsync/logging"
)

type catalogEntry struct {
	file       string
	catalog    *mapsync.Catalog
	modTime    time.Time
	lastUpdate time.Time
}

func catalogHash(file string) uint32 {
	f := fnv.New32()
	f.Write([]byte(file))
	return f.Sum32()
}

func (e *catalogEntry) isStale() (bool, error) {
	if e.catalog == nil {
		return true, nil
	}
	info, err := os.Stat(e.file)
	if err != nil {
		return true, err
	}
	return !info.ModTime().Equal(e.modTime), nil
}

// Cache keeps parsed catalogs and re-parses a file only when its
// modification time changed.
type Cache struct {
	mu      sync.Mutex
	entries map[uint32]*catalogEntry
}

func NewCache() *Cache {
	return &Cache{entries: make(map[uint32]*catalogEntry)}
}

// Update reports the outcome of a Cache lookup. Updated is set when the
// catalog was (re)parsed.
type Update struct {
	Err     error
	Time    time.Time
	Updated bool
}

// Catalog returns the parsed catalog at file. When the file changed but no
// longer parses, the previous catalog is returned along with the error.
func (c *Cache) Catalog(file string) (*mapsync.Catalog, Update) {
	abs, err := filepath.Abs(file)
	if err == nil {
		file = abs
	}
	hash := catalogHash(file)

	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[hash]
	if !ok {
		e = &catalogEntry{file: file}
		c.entries[hash] = e
	}

	stale, err := e.isStale()
	if err != nil {
		return e.catalog, Update{Err: err, Time: time.Now()}
	}
	if !stale {
		return e.catalog, Update{Time: e.lastUpdate}
	}
	if err := c.parse(e); err != nil {
		return e.catalog, Update{Err: err, Time: time.Now()}
	}
	return e.catalog, Update{Time: e.lastUpdate, Updated: true}
}

func (c *Cache) parse(e *catalogEntry) error {
	info, err := os.Stat(e.file)
	if err != nil {
		return err
	}
	cat, err := mapsync.ParseFile(e.file)
	if err != nil {
		return err
	}
	e.catalog = cat
	e.modTime = info.ModTime()
	e.lastUpdate = time.Now()
	log := logging.Component("builder")
	log.Info().Str("catalog", e.file).
		Int("layers", len(cat.Layers)).Int("boundaries", len(cat.Boundaries)).Msg("catalog parsed")
	return nil
}

func (c *Cache) ClearAll() {
	c.ClearTill(time.Now())
}

// ClearTill drops the catalogs parsed before till.
func (c *Cache) ClearTill(till time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for hash, e := range c.entries {
		if e.lastUpdate.Before(till) {
			delete(c.entries, hash)
		}
	}
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
