// Package catalog is the dataset index: the set of preprocessed spreadsheets
// questions are answered against.
//
// Readers get an immutable Snapshot through an atomic pointer and never block.
// Writers (Register, Remove, Rebuild, Load) are serialized and publish a new
// snapshot when they finish, so a request that read a snapshot keeps a stable
// view for its whole lifetime.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/leapstack-labs/leapask/internal/sheet"
	lstar "github.com/leapstack-labs/leapask/internal/starlark"
	"github.com/leapstack-labs/leapask/pkg/core"
)

// ErrNotFound is returned when a dataset is not in the index.
var ErrNotFound = errors.New("dataset not found")

// Snapshot is one published version of the index. It must not be modified.
type Snapshot struct {
	Version  uint64
	Datasets []core.Dataset
}

// Lookup finds a dataset by file name or absolute path.
func (s *Snapshot) Lookup(name string) (core.Dataset, bool) {
	for _, ds := range s.Datasets {
		if ds.Name == name || ds.Path == name {
			return ds, true
		}
	}
	return core.Dataset{}, false
}

// KnownColumns returns the ordered union of every dataset's columns.
func (s *Snapshot) KnownColumns() []string {
	seen := make(map[string]bool)
	var out []string
	for _, ds := range s.Datasets {
		for _, c := range ds.Columns {
			if !seen[c] {
				seen[c] = true
				out = append(out, c)
			}
		}
	}
	return out
}

// Config configures a Catalog.
type Config struct {
	// DataDir is scanned by Rebuild and watched by Watch.
	DataDir string
	// Store persists the index. Nil keeps it in memory only.
	Store core.Store
	// Loader reads files. Nil creates one with default options.
	Loader *sheet.Loader
	Logger *slog.Logger
	// Now stamps IndexedAt. Nil means time.Now.
	Now func() time.Time
}

// Catalog is the dataset index. It is safe for concurrent use.
type Catalog struct {
	dataDir string
	store   core.Store
	loader  *sheet.Loader
	logger  *slog.Logger
	now     func() time.Time

	snap atomic.Pointer[Snapshot]
	mu   sync.Mutex

	framesMu sync.Mutex
	frames   map[string]cachedFrame
}

type cachedFrame struct {
	indexedAt time.Time
	frame     *lstar.Frame
}

// New creates an empty catalog.
func New(cfg Config) *Catalog {
	c := &Catalog{
		dataDir: cfg.DataDir,
		store:   cfg.Store,
		loader:  cfg.Loader,
		logger:  cfg.Logger,
		now:     cfg.Now,
		frames:  make(map[string]cachedFrame),
	}
	if c.logger == nil {
		c.logger = slog.New(slog.DiscardHandler)
	}
	if c.loader == nil {
		c.loader = sheet.NewLoader(sheet.Options{Logger: c.logger})
	}
	if c.now == nil {
		c.now = time.Now
	}
	c.snap.Store(&Snapshot{})
	return c
}

// DataDir returns the directory the catalog scans.
func (c *Catalog) DataDir() string { return c.dataDir }

// Snapshot returns the current published index. Callers must not modify it.
func (c *Catalog) Snapshot() *Snapshot {
	return c.snap.Load()
}

// List returns a copy of the indexed datasets ordered by name.
func (c *Catalog) List() []core.Dataset {
	return slices.Clone(c.snap.Load().Datasets)
}

// Lookup finds a dataset by file name or absolute path.
func (c *Catalog) Lookup(name string) (core.Dataset, bool) {
	return c.snap.Load().Lookup(name)
}

// Load restores the index from the store.
func (c *Catalog) Load(ctx context.Context) error {
	if c.store == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	datasets, err := c.store.ListDatasets(ctx)
	if err != nil {
		return fmt.Errorf("load dataset index: %w", err)
	}
	c.publish(datasets)
	c.logger.Info("dataset index loaded", "datasets", len(datasets))
	return nil
}

// Register preprocesses the file at path and adds or replaces it in the index.
func (c *Catalog) Register(ctx context.Context, path string) (core.Dataset, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ds, err := c.index(ctx, path)
	if err != nil {
		return core.Dataset{}, err
	}
	next := replace(c.snap.Load().Datasets, ds)
	c.publish(next)
	c.logger.Info("dataset registered", "file", ds.Name, "columns", ds.NumColumns(), "rows", ds.RowCount)
	return ds, nil
}

// index loads path and persists its descriptor. Callers hold c.mu.
func (c *Catalog) index(ctx context.Context, path string) (core.Dataset, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return core.Dataset{}, fmt.Errorf("resolve %s: %w", path, err)
	}
	if !sheet.Supported(abs) {
		return core.Dataset{}, fmt.Errorf("unsupported file %s (want one of %v)", filepath.Base(abs), sheet.Extensions)
	}
	table, err := c.loader.Load(ctx, abs)
	if err != nil {
		return core.Dataset{}, fmt.Errorf("load %s: %w", filepath.Base(abs), err)
	}
	frame, err := lstar.NewFrame(table.Columns, table.Rows)
	if err != nil {
		return core.Dataset{}, fmt.Errorf("load %s: %w", filepath.Base(abs), err)
	}

	ds := core.Dataset{
		Name:      filepath.Base(abs),
		Path:      abs,
		Columns:   table.Columns,
		RowCount:  table.NumRows(),
		IndexedAt: c.now().UTC(),
	}
	if c.store != nil {
		if err := c.store.SaveDataset(ctx, ds); err != nil {
			return core.Dataset{}, err
		}
	}

	c.framesMu.Lock()
	c.frames[ds.Name] = cachedFrame{indexedAt: ds.IndexedAt, frame: frame}
	c.framesMu.Unlock()
	return ds, nil
}

// Remove drops a dataset from the index. The file itself is left alone.
func (c *Catalog) Remove(ctx context.Context, name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	ds, ok := c.snap.Load().Lookup(name)
	if !ok {
		return fmt.Errorf("%s: %w", name, ErrNotFound)
	}
	if err := c.drop(ctx, ds.Name); err != nil {
		return err
	}
	c.publish(without(c.snap.Load().Datasets, ds.Name))
	c.logger.Info("dataset removed", "file", ds.Name)
	return nil
}

// drop deletes the persisted descriptor and cached frame. Callers hold c.mu.
func (c *Catalog) drop(ctx context.Context, name string) error {
	if c.store != nil {
		if err := c.store.DeleteDataset(ctx, name); err != nil && !errors.Is(err, core.ErrNotFound) {
			return err
		}
	}
	c.framesMu.Lock()
	delete(c.frames, name)
	c.framesMu.Unlock()
	return nil
}

// Rebuild rescans the data directory: every supported file is reindexed and
// datasets whose file is gone are removed. Files that fail to load are skipped
// and reported in the returned error.
func (c *Catalog) Rebuild(ctx context.Context) ([]core.Dataset, error) {
	if c.dataDir == "" {
		return nil, fmt.Errorf("no data directory configured")
	}
	dir, err := filepath.Abs(c.dataDir)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", c.dataDir, err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", c.dataDir, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	var (
		indexed []core.Dataset
		errs    []error
	)
	present := make(map[string]bool)
	for _, e := range entries {
		if e.IsDir() || !sheet.Supported(e.Name()) || isHidden(e.Name()) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ds, err := c.index(ctx, filepath.Join(dir, e.Name()))
		if err != nil {
			c.logger.Warn("skipping file", "file", e.Name(), "error", err)
			errs = append(errs, err)
			continue
		}
		present[ds.Name] = true
		indexed = append(indexed, ds)
	}

	for _, ds := range c.snap.Load().Datasets {
		if present[ds.Name] {
			continue
		}
		if _, err := os.Stat(ds.Path); err == nil && filepath.Dir(ds.Path) != dir {
			// registered from outside the data directory and still there
			indexed = append(indexed, ds)
			continue
		}
		if err := c.drop(ctx, ds.Name); err != nil {
			errs = append(errs, err)
		}
	}

	c.publish(indexed)
	c.logger.Info("dataset index rebuilt", "datasets", len(indexed), "failed", len(errs))
	return c.snap.Load().Datasets, errors.Join(errs...)
}

// Open returns the rows of ds as a frame. Frames are cached per index version
// of the dataset.
func (c *Catalog) Open(ctx context.Context, ds core.Dataset) (*lstar.Frame, error) {
	c.framesMu.Lock()
	cached, ok := c.frames[ds.Name]
	c.framesMu.Unlock()
	if ok && cached.indexedAt.Equal(ds.IndexedAt) {
		return cached.frame, nil
	}

	table, err := c.loader.Load(ctx, ds.Path)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", ds.Name, err)
	}
	frame, err := lstar.NewFrame(table.Columns, table.Rows)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", ds.Name, err)
	}

	c.framesMu.Lock()
	c.frames[ds.Name] = cachedFrame{indexedAt: ds.IndexedAt, frame: frame}
	c.framesMu.Unlock()
	return frame, nil
}

// Close releases the file loader.
func (c *Catalog) Close() error {
	return c.loader.Close()
}

// publish stores a new snapshot built from datasets. Callers hold c.mu.
func (c *Catalog) publish(datasets []core.Dataset) {
	sorted := append([]core.Dataset(nil), datasets...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })
	prev := c.snap.Load()
	c.snap.Store(&Snapshot{Version: prev.Version + 1, Datasets: sorted})
}

func replace(datasets []core.Dataset, ds core.Dataset) []core.Dataset {
	return append(without(datasets, ds.Name), ds)
}

func without(datasets []core.Dataset, name string) []core.Dataset {
	out := make([]core.Dataset, 0, len(datasets))
	for _, d := range datasets {
		if d.Name != name {
			out = append(out, d)
		}
	}
	return out
}

func isHidden(name string) bool {
	return len(name) > 0 && (name[0] == '.' || name[0] == '~')
}
