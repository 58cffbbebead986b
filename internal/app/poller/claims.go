package poller

import (
	"path/filepath"
	"sync"
)

// Claims keeps device paths exclusive to one poller. Paths are resolved
// through symlinks so /dev/gmc500 and the tty it points at are one device.
type Claims struct {
	mu     sync.Mutex
	owners map[string]string
}

func NewClaims() *Claims {
	return &Claims{owners: make(map[string]string)}
}

// Claim reports whether owner now holds path.
func (c *Claims) Claim(path, owner string) bool {
	key := canonical(path)
	c.mu.Lock()
	defer c.mu.Unlock()
	if cur, ok := c.owners[key]; ok && cur != owner {
		return false
	}
	c.owners[key] = owner
	return true
}

func (c *Claims) Release(path, owner string) {
	key := canonical(path)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.owners[key] == owner {
		delete(c.owners, key)
	}
}

// Owner returns the current holder of path, if any.
func (c *Claims) Owner(path string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	o, ok := c.owners[canonical(path)]
	return o, ok
}

func canonical(path string) string {
	if resolved, err := filepath.EvalSymlinks(path); err == nil {
		return resolved
	}
	return filepath.Clean(path)
}
