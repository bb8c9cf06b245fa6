package main

import (
	"fmt"

	"github.com/BurntSushi/toml"

	"github.com/goraft/server/pkg/raft/core"
	"github.com/goraft/server/pkg/raft/types"
)

// fileConfig mirrors the TOML configuration schema documented for this
// server: a numeric local id, a bind address, the fixed peer set keyed by
// peer id, and the connection/backoff tunables. reconnect_initial_ms and
// reconnect_ceiling_ms are parsed but not applied: the reconnect backoff
// always uses pkg/raft/core's fixed 100ms start and 20s ceiling.
type fileConfig struct {
	Id                 uint64            `toml:"id"`
	Bind               string            `toml:"bind"`
	MaxConnections     int               `toml:"max_connections"`
	ReconnectInitialMs int               `toml:"reconnect_initial_ms"`
	ReconnectCeilingMs int               `toml:"reconnect_ceiling_ms"`
	Peers              map[string]string `toml:"peers"`
}

func loadConfig(path string) (core.Config, error) {
	var fc fileConfig
	if _, err := toml.DecodeFile(path, &fc); err != nil {
		return core.Config{}, fmt.Errorf("load config %q: %w", path, err)
	}
	if fc.Bind == "" {
		return core.Config{}, fmt.Errorf("load config %q: bind address is required", path)
	}

	peers := make(map[types.ServerId]string, len(fc.Peers))
	for idStr, address := range fc.Peers {
		var id uint64
		if _, err := fmt.Sscanf(idStr, "%d", &id); err != nil {
			return core.Config{}, fmt.Errorf("load config %q: peer id %q is not numeric: %w", path, idStr, err)
		}
		peers[types.ServerId(id)] = address
	}

	return core.Config{
		Self:           types.ServerId(fc.Id),
		BindAddress:    fc.Bind,
		Peers:          peers,
		MaxConnections: fc.MaxConnections,
	}, nil
}
