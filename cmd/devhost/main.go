// devhost runs the device-side RPC endpoint on a workstation. In the
// default mode stdin/stdout carry the framed transport, so the binary
// can sit behind a socat pty or a test harness exactly like firmware
// sits behind a UART. With -i it opens an interactive console that talks
// to the server over an in-process loopback instead.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/wippyai/micro-rpc/dtype"
	"github.com/wippyai/micro-rpc/kernel"
	"github.com/wippyai/micro-rpc/server"
	"github.com/wippyai/micro-rpc/session"
)

func main() {
	var (
		configPath  = flag.String("config", "", "Path to TOML config file")
		wasmFile    = flag.String("wasm", "", "Wasm module whose exports become callable kernels")
		nonce       = flag.Uint("nonce", 0, "Initial session nonce (overrides config)")
		start       = flag.Bool("start", false, "Initiate the session instead of waiting for the peer")
		interactive = flag.Bool("i", false, "Interactive console instead of stdio transport")
	)
	flag.Parse()

	cfg := defaultConfig()
	if *configPath != "" {
		var err error
		cfg, err = loadConfig(*configPath, cfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	}
	if *nonce != 0 {
		if *nonce > 0xFF {
			fmt.Fprintln(os.Stderr, "Error: nonce out of byte range")
			os.Exit(1)
		}
		cfg.Server.InitialNonce = uint8(*nonce)
	}
	if *wasmFile != "" {
		cfg.WasmModules = append(cfg.WasmModules, *wasmFile)
	}

	if *interactive {
		if !term.IsTerminal(int(os.Stdin.Fd())) {
			fmt.Fprintln(os.Stderr, "Error: interactive mode needs a terminal")
			os.Exit(1)
		}
		if err := runInteractive(cfg); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := run(cfg, *start); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run serves the framed transport over stdin/stdout until stdin closes.
func run(cfg hostConfig, start bool) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer logger.Sync()
	installLoggers(logger)

	ctx := context.Background()
	srv, cleanup, err := buildServer(ctx, os.Stdout, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	logger.Info("devhost ready",
		zap.Int("functions", srv.Registry().Len()),
		zap.Strings("names", srv.Registry().Names()))

	if start {
		if err := srv.StartSession(); err != nil {
			return fmt.Errorf("start session: %w", err)
		}
	}

	return serve(os.Stdin, srv, logger)
}

// serve pumps transport bytes into the server until r is exhausted.
// Receive-path errors (oversized or malformed peer traffic) are logged
// and the receive buffer cleared so one bad message does not take the
// device down; the unframer resynchronizes on the next packet marker.
func serve(r io.Reader, srv *server.Server, logger *zap.Logger) error {
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			feed(buf[:n], srv, logger)
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("transport: %w", err)
		}
	}
}

func feed(chunk []byte, srv *server.Server, logger *zap.Logger) {
	for len(chunk) > 0 {
		n, err := srv.Write(chunk)
		if err == nil {
			return
		}
		logger.Warn("receive error, resynchronizing", zap.Error(err))
		srv.Session().ClearReceiveBuffer()
		if n < len(chunk) {
			n++ // the byte the unframer stopped on was already consumed
		}
		chunk = chunk[n:]
	}
}

func installLoggers(l *zap.Logger) {
	dtype.SetLogger(l.Named("dtype"))
	session.SetLogger(l.Named("session"))
	server.SetLogger(l.Named("server"))
	kernel.SetLogger(l.Named("kernel"))
}

// buildServer constructs the server writing frames to w and loads the
// configured wasm kernels into its registry.
func buildServer(ctx context.Context, w io.Writer, cfg hostConfig) (*server.Server, func(), error) {
	srv := server.New(w, cfg.Server)

	if len(cfg.WasmModules) == 0 {
		return srv, func() {}, nil
	}

	var engCfg *kernel.Config
	if cfg.MemoryLimitPages > 0 {
		engCfg = &kernel.Config{MemoryLimitPages: cfg.MemoryLimitPages}
	}
	eng := kernel.NewEngine(ctx, engCfg)
	cleanup := func() { eng.Close(ctx) }

	for _, path := range cfg.WasmModules {
		data, err := os.ReadFile(path)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("read %s: %w", path, err)
		}
		mod, err := eng.Load(ctx, data)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("load %s: %w", path, err)
		}
		if err := mod.Register(ctx, srv.Registry(), false); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("register %s: %w", path, err)
		}
	}
	return srv, cleanup, nil
}
