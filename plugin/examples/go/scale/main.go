//go:build wasm

// Command scale is a taskgraph plugin built with TinyGo:
//
//	tinygo build -o plugin.wasm -target wasi -no-debug .
package main

import (
	"encoding/json"
	"fmt"
	"unsafe"
)

type request struct {
	Node     string          `json:"node"`
	Function string          `json:"function"`
	Task     string          `json:"task"`
	Config   config          `json:"config"`
	Inputs   json.RawMessage `json:"inputs"`
}

type response struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Output  any    `json:"output,omitempty"`
}

type config struct {
	Factor  float64  `json:"factor"`
	Columns []string `json:"columns"`
}

// Allocations handed to the host stay reachable until it frees them.
var buffers = map[uint32][]byte{}

//export __taskgraph_alloc
func alloc(size uint32) uint32 {
	buf := make([]byte, size)
	ptr := uint32(uintptr(unsafe.Pointer(&buf[0])))
	buffers[ptr] = buf
	return ptr
}

//export __taskgraph_free
func free(ptr, size uint32) {
	delete(buffers, ptr)
}

//export __taskgraph_call
func call(ptr, size uint32) uint64 {
	input := unsafe.Slice((*byte)(unsafe.Pointer(uintptr(ptr))), size)

	var resp response
	var req request
	if err := json.Unmarshal(input, &req); err != nil {
		resp.Error = fmt.Sprintf("parse request: %v", err)
	} else {
		resp = handle(&req)
	}

	out, err := json.Marshal(resp)
	if err != nil {
		out = []byte(`{"success":false,"error":"encode response"}`)
	}
	outPtr := alloc(uint32(len(out)))
	copy(buffers[outPtr], out)
	return uint64(outPtr)<<32 | uint64(len(out))
}

func handle(req *request) response {
	switch req.Function {
	case "columns":
		var inputs map[string]map[string]string
		if err := json.Unmarshal(req.Inputs, &inputs); err != nil {
			return response{Error: err.Error()}
		}
		cols, err := scaleColumns(req.Config, inputs)
		if err != nil {
			return response{Error: err.Error()}
		}
		return response{Success: true, Output: cols}
	case "process":
		var inputs map[string][]map[string]any
		if err := json.Unmarshal(req.Inputs, &inputs); err != nil {
			return response{Error: err.Error()}
		}
		rows, err := scaleRows(req.Config, inputs)
		if err != nil {
			return response{Error: err.Error()}
		}
		return response{Success: true, Output: rows}
	default:
		return response{Error: "unknown function " + req.Function}
	}
}

func single[T any](inputs map[string]T) (T, error) {
	var zero T
	if len(inputs) != 1 {
		return zero, fmt.Errorf("scale takes one input, got %d", len(inputs))
	}
	for _, v := range inputs {
		return v, nil
	}
	return zero, nil
}

func scaleColumns(conf config, inputs map[string]map[string]string) (map[string]string, error) {
	have, err := single(inputs)
	if err != nil {
		return nil, err
	}
	if have == nil {
		return nil, nil
	}
	out := make(map[string]string, len(have))
	for name, dtype := range have {
		out[name] = dtype
	}
	for _, name := range conf.Columns {
		dtype, ok := have[name]
		if !ok {
			return nil, fmt.Errorf("column %q is missing", name)
		}
		if dtype != "float64" && dtype != "int64" && dtype != "" && dtype != "any" {
			return nil, fmt.Errorf("cannot scale %s column %q", dtype, name)
		}
		out[name] = "float64"
	}
	return out, nil
}

func scaleRows(conf config, inputs map[string][]map[string]any) ([]map[string]any, error) {
	rows, err := single(inputs)
	if err != nil {
		return nil, err
	}
	for i, row := range rows {
		for _, name := range conf.Columns {
			v, ok := row[name].(float64)
			if !ok {
				return nil, fmt.Errorf("row %d column %q is not a number", i, name)
			}
			row[name] = v * conf.Factor
		}
	}
	return rows, nil
}

func main() {}
