package main

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/wippyai/micro-rpc/server"
)

// hostConfig is the resolved devhost configuration: server buffer sizes
// plus the wasm kernels to load at startup.
type hostConfig struct {
	Server           server.Config
	WasmModules      []string
	MemoryLimitPages uint32
}

func defaultConfig() hostConfig {
	return hostConfig{
		Server: server.Config{
			InitialNonce:      0x10,
			ReceiveBufferSize: 1024,
			ArenaSize:         512,
		},
	}
}

type fileConfig struct {
	Nonce             int64    `toml:"nonce"`
	ReceiveBufferSize int      `toml:"receive_buffer_size"`
	ArenaSize         int      `toml:"arena_size"`
	WasmModules       []string `toml:"wasm_modules"`
	MemoryLimitPages  int64    `toml:"memory_limit_pages"`
}

// loadConfig applies a TOML file over cfg. Only keys present in the file
// override the defaults.
func loadConfig(path string, cfg hostConfig) (hostConfig, error) {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return hostConfig{}, fmt.Errorf("load devhost config: %w", err)
	}

	if meta.IsDefined("nonce") {
		if raw.Nonce < 0 || raw.Nonce > 0xFF {
			return hostConfig{}, fmt.Errorf("nonce %d out of byte range", raw.Nonce)
		}
		cfg.Server.InitialNonce = uint8(raw.Nonce)
	}

	if meta.IsDefined("receive_buffer_size") {
		if raw.ReceiveBufferSize <= 0 {
			return hostConfig{}, fmt.Errorf("receive_buffer_size must be positive")
		}
		cfg.Server.ReceiveBufferSize = raw.ReceiveBufferSize
	}

	if meta.IsDefined("arena_size") {
		if raw.ArenaSize <= 0 {
			return hostConfig{}, fmt.Errorf("arena_size must be positive")
		}
		cfg.Server.ArenaSize = raw.ArenaSize
	}

	if meta.IsDefined("wasm_modules") {
		for _, p := range raw.WasmModules {
			p = strings.TrimSpace(p)
			if p != "" {
				cfg.WasmModules = append(cfg.WasmModules, p)
			}
		}
	}

	if meta.IsDefined("memory_limit_pages") {
		if raw.MemoryLimitPages < 0 {
			return hostConfig{}, fmt.Errorf("memory_limit_pages must not be negative")
		}
		cfg.MemoryLimitPages = uint32(raw.MemoryLimitPages)
	}

	return cfg, nil
}
