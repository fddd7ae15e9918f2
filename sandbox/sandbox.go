package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
)

// pageSize is wazero's fixed WASM linear memory page size (64 KiB).
const pageSize = 64 * 1024

// Config controls a Sandbox's resource limits.
type Config struct {
	// MaxMemoryPages caps a module instance's linear memory, in 64 KiB
	// pages. Default 1024 pages (64 MiB), matching the original runtime's
	// max_memory default.
	MaxMemoryPages uint32
	// MaxExecutionTime bounds how long a single execution may run before
	// the sandbox cancels it. wazero has no wasmtime-style fuel metering,
	// so this wall-clock deadline is this port's substitute for the
	// original's instruction-count fuel limit.
	MaxExecutionTime time.Duration
	// EnableWASI instantiates the wasi_snapshot_preview1 host module so
	// WASI modules can run.
	EnableWASI bool
}

// DefaultConfig mirrors the original runtime's defaults: 64 MiB memory,
// a 30 second execution deadline, WASI enabled.
func DefaultConfig() Config {
	return Config{
		MaxMemoryPages:    (64 * 1024 * 1024) / pageSize,
		MaxExecutionTime:  30 * time.Second,
		EnableWASI:        true,
	}
}

// ExecContext carries the per-call environment a module runs under.
type ExecContext struct {
	Env  map[string]string
	Args []string
}

// Sandbox owns one long-lived wazero runtime and a hash-keyed cache of
// compiled modules shared across every execution, so executions of the
// same module bytes reuse one cached compilation for the sandbox's
// lifetime. LoadModule's validation pass compiles separately each time
// (see extractMetadata) and does not use this cache.
type Sandbox struct {
	config  Config
	runtime wazero.Runtime

	mu    sync.Mutex
	cache map[string]wazero.CompiledModule
}

// New constructs a Sandbox and, if config.EnableWASI is set,
// instantiates the WASI preview1 host module into it.
func New(ctx context.Context, config Config) (*Sandbox, error) {
	rtConfig := wazero.NewRuntimeConfig()
	if config.MaxMemoryPages > 0 {
		rtConfig = rtConfig.WithMemoryLimitPages(config.MaxMemoryPages)
	}
	rt := wazero.NewRuntimeWithConfig(ctx, rtConfig)

	if config.EnableWASI {
		if _, err := wasi_snapshot_preview1.Instantiate(ctx, rt); err != nil {
			_ = rt.Close(ctx)
			return nil, fmt.Errorf("sandbox: instantiate wasi: %w", err)
		}
	}

	return &Sandbox{
		config:  config,
		runtime: rt,
		cache:   make(map[string]wazero.CompiledModule),
	}, nil
}

// Close tears down the sandbox's runtime and every compiled module it
// cached.
func (s *Sandbox) Close(ctx context.Context) error {
	return s.runtime.Close(ctx)
}

// LoadModule validates and loads raw through this sandbox's runtime.
func (s *Sandbox) LoadModule(ctx context.Context, raw []byte) (*Module, error) {
	return LoadModule(ctx, s.runtime, raw)
}

// compiled returns m's compiled form, compiling and caching it by hash
// on first use.
func (s *Sandbox) compiled(ctx context.Context, m *Module) (wazero.CompiledModule, error) {
	s.mu.Lock()
	if cm, ok := s.cache[m.Hash()]; ok {
		s.mu.Unlock()
		return cm, nil
	}
	s.mu.Unlock()

	cm, err := s.runtime.CompileModule(ctx, m.bytes)
	if err != nil {
		return nil, fmt.Errorf("sandbox: compile module: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.cache[m.Hash()]; ok {
		_ = cm.Close(ctx)
		return existing, nil
	}
	s.cache[m.Hash()] = cm
	return cm, nil
}

// ExecuteWithStdio runs m, delivering input over its stdin and
// returning whatever it wrote to stdout. WASI modules run via their
// _start entrypoint (wazero's default instantiate behavior); non-WASI
// modules run via an exported "main" function and produce no output,
// matching the original runtime's echo/no-output split.
func (s *Sandbox) ExecuteWithStdio(ctx context.Context, m *Module, input string, execCtx ExecContext) (string, error) {
	cm, err := s.compiled(ctx, m)
	if err != nil {
		return "", err
	}

	runCtx, cancel := context.WithTimeout(ctx, s.config.MaxExecutionTime)
	defer cancel()

	var stdout bytes.Buffer
	modConfig := wazero.NewModuleConfig().
		WithStdin(strings.NewReader(input)).
		WithStdout(&stdout).
		WithStderr(io.Discard).
		WithCloseOnContextDone(true)
	for k, v := range execCtx.Env {
		modConfig = modConfig.WithEnv(k, v)
	}
	if len(execCtx.Args) > 0 {
		modConfig = modConfig.WithArgs(execCtx.Args...)
	}

	if m.IsWASI() {
		mod, err := s.runtime.InstantiateModule(runCtx, cm, modConfig)
		if err != nil {
			if runCtx.Err() != nil {
				return "", fmt.Errorf("sandbox: execution timed out: %w", runCtx.Err())
			}
			return "", fmt.Errorf("sandbox: wasm execution failed: %w", err)
		}
		defer mod.Close(ctx)
		return stdout.String(), nil
	}

	mod, err := s.runtime.InstantiateModule(runCtx, cm, modConfig.WithStartFunctions())
	if err != nil {
		return "", fmt.Errorf("sandbox: instantiate module: %w", err)
	}
	defer mod.Close(ctx)

	main := mod.ExportedFunction("main")
	if main == nil {
		return "", fmt.Errorf("sandbox: no suitable entry point found (main or _start)")
	}
	if _, err := main.Call(runCtx); err != nil {
		if runCtx.Err() != nil {
			return "", fmt.Errorf("sandbox: execution timed out: %w", runCtx.Err())
		}
		return "", fmt.Errorf("sandbox: wasm execution failed: %w", err)
	}
	return "", nil
}

// ExecuteJSON marshals input to JSON, runs m with it as stdin, and
// unmarshals its stdout as JSON into out.
func (s *Sandbox) ExecuteJSON(ctx context.Context, m *Module, input interface{}, out interface{}, execCtx ExecContext) error {
	inputJSON, err := json.Marshal(input)
	if err != nil {
		return fmt.Errorf("sandbox: marshal input: %w", err)
	}

	outputJSON, err := s.ExecuteWithStdio(ctx, m, string(inputJSON), execCtx)
	if err != nil {
		return err
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal([]byte(outputJSON), out); err != nil {
		return fmt.Errorf("sandbox: unmarshal output: %w", err)
	}
	return nil
}

// CallFunction invokes a module's exported function directly with raw
// i32/i64/f32/f64-encoded parameters, bypassing stdio entirely.
func (s *Sandbox) CallFunction(ctx context.Context, m *Module, name string, params ...uint64) ([]uint64, error) {
	cm, err := s.compiled(ctx, m)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithTimeout(ctx, s.config.MaxExecutionTime)
	defer cancel()

	modConfig := wazero.NewModuleConfig().WithStartFunctions()
	mod, err := s.runtime.InstantiateModule(runCtx, cm, modConfig)
	if err != nil {
		return nil, fmt.Errorf("sandbox: instantiate module: %w", err)
	}
	defer mod.Close(ctx)

	fn := mod.ExportedFunction(name)
	if fn == nil {
		return nil, fmt.Errorf("sandbox: no exported function named %q", name)
	}

	results, err := fn.Call(runCtx, params...)
	if err != nil {
		if runCtx.Err() != nil {
			return nil, fmt.Errorf("sandbox: function call timed out: %w", runCtx.Err())
		}
		return nil, fmt.Errorf("sandbox: function call failed: %w", err)
	}
	return results, nil
}
