package storage

import (
	"encoding/json"
	"fmt"

	"nore/mcp"
)

const (
	serversBucket = "servers"
	serversKey    = "catalog"
)

// ServerCatalog stores the tool server configuration list. It
// implements mcp.CatalogSaver. Statuses are never stored; a loaded
// catalog always rehydrates as stopped.
type ServerCatalog struct {
	store *Store
}

func NewServerCatalog(store *Store) *ServerCatalog {
	return &ServerCatalog{store: store}
}

// SaveServers writes the full config catalog as one document.
func (c *ServerCatalog) SaveServers(configs []mcp.ServerConfig) error {
	data, err := json.Marshal(configs)
	if err != nil {
		return fmt.Errorf("failed to marshal server catalog: %w", err)
	}
	return c.store.Put(serversBucket, serversKey, string(data))
}

// LoadServers reads the persisted config catalog. A fresh database
// yields an empty catalog.
func (c *ServerCatalog) LoadServers() ([]mcp.ServerConfig, error) {
	data, ok, err := c.store.Get(serversBucket, serversKey)
	if err != nil {
		return nil, fmt.Errorf("failed to read server catalog: %w", err)
	}
	if !ok {
		return nil, nil
	}

	var configs []mcp.ServerConfig
	if err := json.Unmarshal([]byte(data), &configs); err != nil {
		return nil, fmt.Errorf("failed to parse server catalog: %w", err)
	}
	return configs, nil
}
