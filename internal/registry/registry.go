// Package registry keeps the catalog of MCP servers that tasks may hand to
// the agent CLI. The catalog is a JSON file guarded by a flock so multiple
// agentd processes sharing a data directory cannot corrupt it.
package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/gofrs/flock"

	"github.com/harrison/agentd/internal/models"
)

// ErrServerNotFound is returned when removing or fetching an unknown server.
var ErrServerNotFound = errors.New("mcp server not found")

// Registry is a file-backed MCP server catalog. All methods are safe for
// concurrent use across goroutines and processes.
type Registry struct {
	path string
	lock *flock.Flock
}

// catalog is the on-disk shape.
type catalog struct {
	Servers map[string]models.MCPServer `json:"servers"`
}

// New creates a registry backed by the JSON file at path. The file is
// created lazily on the first write.
func New(path string) *Registry {
	return &Registry{
		path: path,
		lock: flock.New(path + ".lock"),
	}
}

// Add registers a server, replacing any existing entry with the same name.
func (r *Registry) Add(server models.MCPServer) error {
	if err := server.Validate(); err != nil {
		return err
	}
	return r.update(func(c *catalog) error {
		c.Servers[server.Name] = server
		return nil
	})
}

// Remove deletes a server by name. Removing an unknown name returns
// ErrServerNotFound.
func (r *Registry) Remove(name string) error {
	return r.update(func(c *catalog) error {
		if _, ok := c.Servers[name]; !ok {
			return fmt.Errorf("%w: %s", ErrServerNotFound, name)
		}
		delete(c.Servers, name)
		return nil
	})
}

// Get returns a registered server by name.
func (r *Registry) Get(name string) (models.MCPServer, error) {
	c, err := r.read()
	if err != nil {
		return models.MCPServer{}, err
	}
	server, ok := c.Servers[name]
	if !ok {
		return models.MCPServer{}, fmt.Errorf("%w: %s", ErrServerNotFound, name)
	}
	return server, nil
}

// List returns all registered servers sorted by name.
func (r *Registry) List() ([]models.MCPServer, error) {
	c, err := r.read()
	if err != nil {
		return nil, err
	}
	servers := make([]models.MCPServer, 0, len(c.Servers))
	for _, s := range c.Servers {
		servers = append(servers, s)
	}
	sort.Slice(servers, func(i, j int) bool { return servers[i].Name < servers[j].Name })
	return servers, nil
}

// Names returns the sorted registered server names. This is the lookup the
// execution engine uses to filter task requests.
func (r *Registry) Names() ([]string, error) {
	servers, err := r.List()
	if err != nil {
		return nil, err
	}
	names := make([]string, len(servers))
	for i, s := range servers {
		names[i] = s.Name
	}
	return names, nil
}

// read loads the catalog under a shared lock. A missing file is an empty
// catalog, not an error.
func (r *Registry) read() (*catalog, error) {
	if err := r.lock.RLock(); err != nil {
		return nil, fmt.Errorf("failed to acquire lock on %s: %w", r.path, err)
	}
	defer r.lock.Unlock()
	return r.load()
}

// update applies fn to the catalog under an exclusive lock and writes the
// result back atomically.
func (r *Registry) update(fn func(*catalog) error) error {
	if err := r.lock.Lock(); err != nil {
		return fmt.Errorf("failed to acquire lock on %s: %w", r.path, err)
	}
	defer r.lock.Unlock()

	c, err := r.load()
	if err != nil {
		return err
	}
	if err := fn(c); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode registry: %w", err)
	}
	return atomicWrite(r.path, data)
}

// load reads and decodes the catalog file. Callers hold the lock.
func (r *Registry) load() (*catalog, error) {
	c := &catalog{Servers: make(map[string]models.MCPServer)}

	data, err := os.ReadFile(r.path)
	if errors.Is(err, os.ErrNotExist) {
		return c, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read registry %s: %w", r.path, err)
	}
	if len(data) == 0 {
		return c, nil
	}
	if err := json.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("failed to parse registry %s: %w", r.path, err)
	}
	if c.Servers == nil {
		c.Servers = make(map[string]models.MCPServer)
	}
	return c, nil
}

// atomicWrite writes data via a temp file and rename so readers never see a
// partial catalog, even if the write is interrupted.
func atomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	tempFile, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tempPath := tempFile.Name()

	defer func() {
		if tempFile != nil {
			tempFile.Close()
			os.Remove(tempPath)
		}
	}()

	if _, err := tempFile.Write(data); err != nil {
		return fmt.Errorf("failed to write to temp file: %w", err)
	}
	if err := tempFile.Sync(); err != nil {
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Chmod(tempPath, 0644); err != nil {
		return fmt.Errorf("failed to set permissions: %w", err)
	}

	// Rename is atomic within the same filesystem.
	if err := os.Rename(tempPath, path); err != nil {
		return fmt.Errorf("failed to rename temp file to %s: %w", path, err)
	}

	tempFile = nil
	return nil
}
