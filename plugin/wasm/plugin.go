// Package wasm runs WebAssembly node plugins with wazero.
//
// A plugin module must export memory and three functions:
//
//	__taskgraph_alloc(size i32) i32
//	__taskgraph_free(ptr i32, size i32)
//	__taskgraph_call(ptr i32, size i32) i64
//
// __taskgraph_call receives a JSON plugin.Request and returns a JSON
// plugin.Response, packed as the pointer in the high 32 bits and the
// length in the low 32 bits. Importing the package registers the module loader for
// ".wasm" files.
package wasm

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"

	"github.com/agentstation/taskgraph/plugin"
)

// ErrClosed is returned by calls into a closed plugin.
var ErrClosed = errors.New("wasm: plugin closed")

// Exported function names.
const (
	exportCall  = "__taskgraph_call"
	exportAlloc = "__taskgraph_alloc"
	exportFree  = "__taskgraph_free"
)

// wasmPlugin implements plugin.Plugin for WebAssembly modules.
type wasmPlugin struct {
	metadata plugin.Metadata
	runtime  wazero.Runtime
	module   api.Module
	memory   api.Memory

	callFunc  api.Function
	allocFunc api.Function
	freeFunc  api.Function

	// A module instance is single threaded.
	mu     sync.Mutex
	closed bool
}

// NewPlugin compiles and instantiates wasmBytes under the limits of meta.
func NewPlugin(ctx context.Context, wasmBytes []byte, meta *plugin.Metadata) (plugin.Plugin, error) {
	runtimeConfig := wazero.NewRuntimeConfig().WithCloseOnContextDone(true)
	if meta.Permissions.Memory != "" {
		limit, err := plugin.ParseMemoryLimit(meta.Permissions.Memory)
		if err != nil {
			return nil, err
		}
		runtimeConfig = runtimeConfig.WithMemoryLimitPages(uint32(limit / 65536)) // 64KB pages
	}

	r := wazero.NewRuntimeWithConfig(ctx, runtimeConfig)
	wasi_snapshot_preview1.MustInstantiate(ctx, r)

	compiled, err := r.CompileModule(ctx, wasmBytes)
	if err != nil {
		_ = r.Close(ctx)
		return nil, fmt.Errorf("failed to compile WASM module: %w", err)
	}

	moduleConfig := wazero.NewModuleConfig().
		WithName(meta.Name).
		WithStartFunctions() // no _start
	for _, envVar := range meta.Permissions.Env {
		if value := os.Getenv(envVar); value != "" {
			moduleConfig = moduleConfig.WithEnv(envVar, value)
		}
	}

	module, err := r.InstantiateModule(ctx, compiled, moduleConfig)
	if err != nil {
		_ = r.Close(ctx)
		return nil, fmt.Errorf("failed to instantiate WASM module: %w", err)
	}

	p := &wasmPlugin{
		metadata:  *meta,
		runtime:   r,
		module:    module,
		memory:    module.ExportedMemory("memory"),
		callFunc:  module.ExportedFunction(exportCall),
		allocFunc: module.ExportedFunction(exportAlloc),
		freeFunc:  module.ExportedFunction(exportFree),
	}
	switch {
	case p.memory == nil:
		err = errors.New("plugin does not export memory")
	case p.callFunc == nil:
		err = fmt.Errorf("plugin does not export required function: %s", exportCall)
	case p.allocFunc == nil:
		err = fmt.Errorf("plugin does not export required function: %s", exportAlloc)
	}
	if err != nil {
		_ = r.Close(ctx)
		return nil, err
	}
	return p, nil
}

// Metadata returns the plugin's manifest.
func (p *wasmPlugin) Metadata() plugin.Metadata {
	return p.metadata
}

// Call copies input into the module, runs the call export and copies the
// response out.
func (p *wasmPlugin) Call(ctx context.Context, input []byte) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrClosed
	}

	if p.metadata.Permissions.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.metadata.Permissions.Timeout)
		defer cancel()
	}

	inputLen := uint32(len(input))
	results, err := p.allocFunc.Call(ctx, uint64(inputLen))
	if err != nil {
		return nil, fmt.Errorf("failed to allocate memory: %w", err)
	}
	inputPtr := uint32(results[0])
	if !p.memory.Write(inputPtr, input) {
		return nil, errors.New("failed to write input to memory")
	}

	results, err = p.callFunc.Call(ctx, uint64(inputPtr), uint64(inputLen))
	p.free(ctx, inputPtr, inputLen)
	if err != nil {
		return nil, fmt.Errorf("plugin call failed: %w", err)
	}
	if len(results) != 1 {
		return nil, fmt.Errorf("%s returned %d values, want 1", exportCall, len(results))
	}

	resultPtr, resultLen := uint32(results[0]>>32), uint32(results[0])
	if resultLen == 0 {
		return nil, nil
	}
	view, ok := p.memory.Read(resultPtr, resultLen)
	if !ok {
		return nil, errors.New("failed to read output from memory")
	}
	// Read returns a view into module memory; copy it before freeing.
	output := append([]byte(nil), view...)
	p.free(ctx, resultPtr, resultLen)
	return output, nil
}

func (p *wasmPlugin) free(ctx context.Context, ptr, size uint32) {
	if p.freeFunc != nil {
		_, _ = p.freeFunc.Call(ctx, uint64(ptr), uint64(size))
	}
}

// Close releases plugin resources. Closing twice is a no-op.
func (p *wasmPlugin) Close(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	return p.runtime.Close(ctx)
}
