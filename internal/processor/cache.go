package processor

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/20after4/configdir"
	"github.com/google/uuid"
	"go.uber.org/multierr"
)

const (
	standardSlot = "standard"
	blurredSlot  = "blurred"
)

// Cache owns the working directory and its two slots. Runs hold the
// read side of mu; Clear takes the write side and so waits for them.
type Cache struct {
	dir string

	mu       sync.RWMutex
	commitMu sync.Mutex
}

// NewCache binds a cache to dir, made absolute
func NewCache(dir string) (*Cache, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve cache dir %q: %w", dir, err)
	}
	return &Cache{dir: abs}, nil
}

// Dir returns the absolute working directory
func (c *Cache) Dir() string {
	return c.dir
}

// StandardPath is the slot holding the acquired image
func (c *Cache) StandardPath() string {
	return filepath.Join(c.dir, standardSlot)
}

// BlurredPath is the slot holding the transformed image
func (c *Cache) BlurredPath() string {
	return filepath.Join(c.dir, blurredSlot)
}

// Init creates the working directory. It is idempotent.
func (c *Cache) Init() error {
	if err := configdir.MakePath(c.dir); err != nil {
		return fmt.Errorf("failed to create cache dir: %w", err)
	}
	return nil
}

// Clear removes the working directory once in-flight runs finish
func (c *Cache) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := os.RemoveAll(c.dir); err != nil {
		return fmt.Errorf("failed to clear cache dir: %w", err)
	}
	return nil
}

// staging is one run's private pair of files next to the slots
type staging struct {
	standard string
	blurred  string
}

func (c *Cache) stage() staging {
	id := uuid.NewString()
	return staging{
		standard: filepath.Join(c.dir, standardSlot+"-"+id),
		blurred:  filepath.Join(c.dir, blurredSlot+"-"+id),
	}
}

// discard removes whatever the run left behind
func (s staging) discard() error {
	var err error
	for _, p := range []string{s.standard, s.blurred} {
		if rmErr := os.Remove(p); rmErr != nil && !os.IsNotExist(rmErr) {
			err = multierr.Append(err, rmErr)
		}
	}
	return err
}

// commit moves a run's files into the slots if current reports true.
// Both renames happen under one lock so readers never see a mixed pair
// from two runs.
func (c *Cache) commit(s staging, current func() bool) error {
	c.commitMu.Lock()
	defer c.commitMu.Unlock()

	if !current() {
		return multierr.Append(ErrSuperseded, s.discard())
	}
	if err := os.Rename(s.standard, c.StandardPath()); err != nil {
		return multierr.Append(fmt.Errorf("failed to commit standard slot: %w", err), s.discard())
	}
	if err := os.Rename(s.blurred, c.BlurredPath()); err != nil {
		return multierr.Append(fmt.Errorf("failed to commit blurred slot: %w", err), s.discard())
	}
	return nil
}
