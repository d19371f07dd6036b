package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/wippyai/micro-rpc/packed"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "devhost.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfigOverridesOnlyDefinedKeys(t *testing.T) {
	path := writeConfig(t, `
nonce = 7
wasm_modules = ["kernels/matmul.wasm", " "]
`)

	cfg, err := loadConfig(path, defaultConfig())
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.Server.InitialNonce != 7 {
		t.Errorf("InitialNonce = %d, want 7", cfg.Server.InitialNonce)
	}
	if cfg.Server.ArenaSize != defaultConfig().Server.ArenaSize {
		t.Errorf("ArenaSize = %d, want default", cfg.Server.ArenaSize)
	}
	if len(cfg.WasmModules) != 1 || cfg.WasmModules[0] != "kernels/matmul.wasm" {
		t.Errorf("WasmModules = %v", cfg.WasmModules)
	}
}

func TestLoadConfigRejectsBadValues(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"nonce too large", "nonce = 300"},
		{"negative arena", "arena_size = -1"},
		{"zero receive buffer", "receive_buffer_size = 0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := loadConfig(writeConfig(t, tt.body), defaultConfig()); err == nil {
				t.Error("bad config accepted")
			}
		})
	}
}

func TestParseArgs(t *testing.T) {
	values, codes, err := parseArgs("int32:5, float64:2.5, handle:3, 9")
	if err != nil {
		t.Fatalf("parseArgs: %v", err)
	}
	wantCodes := []packed.TypeCode{
		packed.TypeCodeInt, packed.TypeCodeFloat, packed.TypeCodeHandle, packed.TypeCodeInt,
	}
	if len(codes) != len(wantCodes) {
		t.Fatalf("codes = %v", codes)
	}
	for i := range wantCodes {
		if codes[i] != wantCodes[i] {
			t.Errorf("codes[%d] = %d, want %d", i, codes[i], wantCodes[i])
		}
	}
	if values[0].Int64() != 5 || values[1].Float64() != 2.5 || values[2].Handle() != 3 || values[3].Int64() != 9 {
		t.Errorf("values = %v", values)
	}

	if _, _, err := parseArgs("float32:not-a-number"); err == nil {
		t.Error("bad literal accepted")
	}

	values, codes, err = parseArgs("")
	if err != nil || values != nil || codes != nil {
		t.Errorf("empty line = %v %v %v", values, codes, err)
	}
}
