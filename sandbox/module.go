// Package sandbox loads, validates, and executes WebAssembly modules
// inside a process-wide wazero runtime, the host side of the agent's
// wasm_exec request.
package sandbox

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/tetratelabs/wazero"
)

// maxModuleSize bounds how large a module this sandbox will load.
const maxModuleSize = 64 * 1024 * 1024

var (
	// ErrInvalidFormat is returned when a module fails basic WASM format
	// checks (magic number, minimum size) before it is ever compiled.
	ErrInvalidFormat = errors.New("sandbox: invalid wasm format")
	// ErrUnsupportedCapability is returned when a module requires a
	// capability this sandbox deliberately refuses to grant.
	ErrUnsupportedCapability = errors.New("sandbox: unsupported capability")
)

// Capability is a coarse-grained permission a module's imports imply it
// needs.
type Capability string

const (
	CapWasiFs        Capability = "wasi_fs"
	CapWasiEnv       Capability = "wasi_env"
	CapWasiArgs      Capability = "wasi_args"
	CapWasiStdio     Capability = "wasi_stdio"
	CapWasiNet       Capability = "wasi_net"
	CapHostFunctions Capability = "host_functions"
)

// Import describes one function a module imports from its host.
type Import struct {
	Module string
	Name   string
}

// Metadata is what the sandbox learns about a module before running it.
type Metadata struct {
	Hash         string
	Size         int
	Capabilities map[Capability]bool
	Exports      []string
	Imports      []Import
	IsWASI       bool
}

// Module is a loaded, validated WASM module ready for compilation and
// execution by a Sandbox.
type Module struct {
	bytes    []byte
	metadata Metadata
}

// LoadModule validates raw as a WASM module using rt to parse its import
// and export sections, and rejects it if validation fails.
func LoadModule(ctx context.Context, rt wazero.Runtime, raw []byte) (*Module, error) {
	if err := validateBasicFormat(raw); err != nil {
		return nil, err
	}

	metadata, err := extractMetadata(ctx, rt, raw)
	if err != nil {
		return nil, err
	}
	if err := validateModule(metadata); err != nil {
		return nil, err
	}

	return &Module{bytes: raw, metadata: metadata}, nil
}

// LoadModuleFile reads path and loads it as a Module.
func LoadModuleFile(ctx context.Context, rt wazero.Runtime, path string) (*Module, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("sandbox: read module file: %w", err)
	}
	return LoadModule(ctx, rt, raw)
}

// Hash returns the module's SHA-256 hash as lowercase hex.
func (m *Module) Hash() string { return m.metadata.Hash }

// Metadata returns the module's extracted metadata.
func (m *Module) Metadata() Metadata { return m.metadata }

// Bytes returns the module's raw bytecode.
func (m *Module) Bytes() []byte { return m.bytes }

// IsWASI reports whether the module imports any wasi_* functions.
func (m *Module) IsWASI() bool { return m.metadata.IsWASI }

// RequiresCapability reports whether the module's imports imply cap.
func (m *Module) RequiresCapability(cap Capability) bool {
	return m.metadata.Capabilities[cap]
}

func validateBasicFormat(raw []byte) error {
	if len(raw) < 8 {
		return fmt.Errorf("%w: module too small (minimum 8 bytes)", ErrInvalidFormat)
	}
	if string(raw[0:4]) != "\x00asm" {
		return fmt.Errorf("%w: invalid wasm magic number", ErrInvalidFormat)
	}
	if len(raw) > maxModuleSize {
		return fmt.Errorf("sandbox: module too large: %d bytes (max %d bytes)", len(raw), maxModuleSize)
	}
	return nil
}

// extractMetadata compiles raw just long enough to read its import and
// export sections, then discards the compiled module — the sandbox's
// cache compiles it again (and keeps it) only once a caller actually
// executes it.
func extractMetadata(ctx context.Context, rt wazero.Runtime, raw []byte) (Metadata, error) {
	sum := sha256.Sum256(raw)

	compiled, err := rt.CompileModule(ctx, raw)
	if err != nil {
		return Metadata{}, fmt.Errorf("sandbox: compile module: %w", err)
	}
	defer compiled.Close(ctx)

	capabilities := make(map[Capability]bool)
	var exports []string
	var imports []Import
	var isWASI bool

	for _, fn := range compiled.ImportedFunctions() {
		moduleName, name, _ := fn.Import()
		imports = append(imports, Import{Module: moduleName, Name: name})

		switch {
		case strings.HasPrefix(moduleName, "wasi_"):
			isWASI = true
			switch {
			case strings.HasPrefix(name, "fd_"):
				capabilities[CapWasiFs] = true
				capabilities[CapWasiStdio] = true
			case strings.HasPrefix(name, "environ_"):
				capabilities[CapWasiEnv] = true
			case strings.HasPrefix(name, "args_"):
				capabilities[CapWasiArgs] = true
			case strings.HasPrefix(name, "sock_"):
				capabilities[CapWasiNet] = true
			}
		case moduleName != "env":
			capabilities[CapHostFunctions] = true
		}
	}
	if isWASI {
		capabilities[CapWasiStdio] = true
	}

	for name := range compiled.ExportedFunctions() {
		exports = append(exports, name)
	}

	return Metadata{
		Hash:         hex.EncodeToString(sum[:]),
		Size:         len(raw),
		Capabilities: capabilities,
		Exports:      exports,
		Imports:      imports,
		IsWASI:       isWASI,
	}, nil
}

func validateModule(metadata Metadata) error {
	if metadata.Capabilities[CapWasiNet] {
		return fmt.Errorf("%w: wasi networking is not supported", ErrUnsupportedCapability)
	}

	if metadata.IsWASI {
		hasStart := false
		for _, name := range metadata.Exports {
			if name == "_start" {
				hasStart = true
				break
			}
		}
		if !hasStart {
			return fmt.Errorf("sandbox: wasi module must export '_start' function")
		}
	}
	return nil
}
