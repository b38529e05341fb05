// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package wgslcache

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/gogpu/gputypes"
)

// stageName renders a shader stage for error messages and logs.
func stageName(stage gputypes.ShaderStage) string {
	switch stage {
	case gputypes.ShaderStageCompute:
		return "compute"
	case gputypes.ShaderStageVertex:
		return "vertex"
	case gputypes.ShaderStageFragment:
		return "fragment"
	default:
		return "unknown"
	}
}

// bindClass is the pipeline-facing category of one module-scope resource.
type bindClass int

const (
	bindUniform bindClass = iota
	bindSRV
	bindUAV
)

// binding is one reflected module-scope resource declaration.
type binding struct {
	group int
	slot  int
	name  string
	class bindClass
}

// moduleInfo is what pipeline construction needs to know about a WGSL
// module without consulting the compiler: the binding signature, the entry
// point per stage, and the compute thread-group size.
type moduleInfo struct {
	bindings    []binding
	entryPoints map[gputypes.ShaderStage]string
	groupSize   [3]uint32
}

// srvNames returns read-only binding names ordered by (group, binding).
func (mi *moduleInfo) srvNames() []string { return mi.names(bindSRV) }

// uavNames returns read-write binding names ordered by (group, binding).
func (mi *moduleInfo) uavNames() []string { return mi.names(bindUAV) }

func (mi *moduleInfo) names(class bindClass) []string {
	var out []string
	for _, b := range mi.bindings {
		if b.class == class {
			out = append(out, b.name)
		}
	}
	return out
}

func (mi *moduleInfo) uniformCount() int {
	n := 0
	for _, b := range mi.bindings {
		if b.class == bindUniform {
			n++
		}
	}
	return n
}

// parseModule reflects over WGSL source. It understands the declaration
// forms compute and raster shaders in this project actually use:
//
//	@group(G) @binding(B) var<uniform> name: T;
//	@group(G) @binding(B) var<storage, read> name: T;
//	@group(G) @binding(B) var<storage, read_write> name: T;
//	@group(G) @binding(B) var name: texture_2d<f32>;
//	@group(G) @binding(B) var name: texture_storage_2d<F, write>;
//	@group(G) @binding(B) var name: sampler;
//	@compute @workgroup_size(X, Y, Z) fn name(...)
//	@vertex fn name(...)
//	@fragment fn name(...)
//
// Anything it cannot classify under a @group attribute is an error: a
// binding the pipeline layout does not account for would fail at draw time
// with a far worse message.
func parseModule(src string) (*moduleInfo, error) {
	toks := tokenize(stripComments(src))
	info := &moduleInfo{entryPoints: make(map[gputypes.ShaderStage]string)}

	var (
		group, slot         = -1, -1
		pendingStage        gputypes.ShaderStage
		hasPendingStage     bool
		pendingGroupSize    [3]uint32
		hasPendingGroupSize bool
	)

	for i := 0; i < len(toks); i++ {
		switch toks[i] {
		case "@":
			if i+1 >= len(toks) {
				break
			}
			switch toks[i+1] {
			case "group":
				n, next, err := attrInt(toks, i+2)
				if err != nil {
					return nil, fmt.Errorf("@group: %w", err)
				}
				group, i = n, next-1
			case "binding":
				n, next, err := attrInt(toks, i+2)
				if err != nil {
					return nil, fmt.Errorf("@binding: %w", err)
				}
				slot, i = n, next-1
			case "compute":
				pendingStage, hasPendingStage = gputypes.ShaderStageCompute, true
				i++
			case "vertex":
				pendingStage, hasPendingStage = gputypes.ShaderStageVertex, true
				i++
			case "fragment":
				pendingStage, hasPendingStage = gputypes.ShaderStageFragment, true
				i++
			case "workgroup_size":
				dims, next, err := attrInts(toks, i+2)
				if err != nil {
					return nil, fmt.Errorf("@workgroup_size: %w", err)
				}
				if len(dims) < 1 || len(dims) > 3 {
					return nil, fmt.Errorf("@workgroup_size: want 1 to 3 dimensions, have %d", len(dims))
				}
				pendingGroupSize = [3]uint32{1, 1, 1}
				for d, v := range dims {
					pendingGroupSize[d] = uint32(v)
				}
				hasPendingGroupSize = true
				i = next - 1
			default:
				i++
			}
		case "fn":
			if !hasPendingStage {
				break
			}
			if i+1 >= len(toks) || !isIdent(toks[i+1]) {
				return nil, fmt.Errorf("entry point missing a name")
			}
			name := toks[i+1]
			if prev, dup := info.entryPoints[pendingStage]; dup {
				return nil, fmt.Errorf("two %s entry points: %s and %s", stageName(pendingStage), prev, name)
			}
			info.entryPoints[pendingStage] = name
			if pendingStage == gputypes.ShaderStageCompute {
				if !hasPendingGroupSize {
					return nil, fmt.Errorf("compute entry %s lacks @workgroup_size", name)
				}
				info.groupSize = pendingGroupSize
			}
			hasPendingStage = false
			hasPendingGroupSize = false
			i++
		case "var":
			if group < 0 && slot < 0 {
				break // function-scope or private module var
			}
			if group < 0 || slot < 0 {
				return nil, fmt.Errorf("binding %q needs both @group and @binding", peekIdent(toks, i+1))
			}
			b, next, err := parseBindingVar(toks, i, group, slot)
			if err != nil {
				return nil, err
			}
			info.bindings = append(info.bindings, b)
			group, slot = -1, -1
			i = next - 1
		}
	}

	sort.Slice(info.bindings, func(a, b int) bool {
		x, y := info.bindings[a], info.bindings[b]
		if x.group != y.group {
			return x.group < y.group
		}
		return x.slot < y.slot
	})
	for i := 1; i < len(info.bindings); i++ {
		p, q := info.bindings[i-1], info.bindings[i]
		if p.group == q.group && p.slot == q.slot {
			return nil, fmt.Errorf("bindings %s and %s share @group(%d) @binding(%d)",
				p.name, q.name, p.group, p.slot)
		}
	}
	return info, nil
}

// parseBindingVar consumes a module-scope var declaration starting at the
// "var" token and classifies it. Returns the binding and the index of the
// first token after the declaration's name and type head.
func parseBindingVar(toks []string, i, group, slot int) (binding, int, error) {
	b := binding{group: group, slot: slot}
	i++ // past "var"

	// Optional address-space template: var<uniform>, var<storage, read_write>.
	space, access := "", ""
	if i < len(toks) && toks[i] == "<" {
		i++
		if i < len(toks) && isIdent(toks[i]) {
			space = toks[i]
			i++
		}
		if i < len(toks) && toks[i] == "," {
			i++
			if i < len(toks) && isIdent(toks[i]) {
				access = toks[i]
				i++
			}
		}
		if i >= len(toks) || toks[i] != ">" {
			return b, i, fmt.Errorf("unterminated var template for @group(%d) @binding(%d)", group, slot)
		}
		i++
	}

	if i >= len(toks) || !isIdent(toks[i]) {
		return b, i, fmt.Errorf("binding at @group(%d) @binding(%d) has no name", group, slot)
	}
	b.name = toks[i]
	i++

	typeName := ""
	if i < len(toks) && toks[i] == ":" {
		i++
		if i < len(toks) && isIdent(toks[i]) {
			typeName = toks[i]
			i++
		}
	}

	switch space {
	case "uniform":
		b.class = bindUniform
		return b, i, nil
	case "storage":
		if access == "read_write" {
			b.class = bindUAV
		} else {
			b.class = bindSRV
		}
		return b, i, nil
	case "":
		// Handle-typed binding: texture or sampler.
	default:
		return b, i, fmt.Errorf("binding %s has unsupported address space %q", b.name, space)
	}

	switch {
	case strings.HasPrefix(typeName, "texture_storage"):
		// texture_storage_2d<FORMAT, ACCESS>
		acc := storageTextureAccess(toks, i)
		if acc == "read" {
			b.class = bindSRV
		} else {
			b.class = bindUAV
		}
	case strings.HasPrefix(typeName, "texture"):
		b.class = bindSRV
	case strings.HasPrefix(typeName, "sampler"):
		b.class = bindSRV
	default:
		return b, i, fmt.Errorf("binding %s has unclassifiable type %q", b.name, typeName)
	}
	return b, i, nil
}

// storageTextureAccess extracts the access token of a storage texture's
// template, "write" when absent or malformed.
func storageTextureAccess(toks []string, i int) string {
	if i >= len(toks) || toks[i] != "<" {
		return "write"
	}
	for j := i + 1; j < len(toks) && j < i+8; j++ {
		switch toks[j] {
		case ">":
			return "write"
		case "read", "write", "read_write":
			return toks[j]
		}
	}
	return "write"
}

// attrInt parses "( N )" at toks[i:]. Returns the value and the index after
// the closing parenthesis.
func attrInt(toks []string, i int) (int, int, error) {
	vals, next, err := attrInts(toks, i)
	if err != nil {
		return 0, next, err
	}
	if len(vals) != 1 {
		return 0, next, fmt.Errorf("want one argument, have %d", len(vals))
	}
	return vals[0], next, nil
}

// attrInts parses "( N, N, ... )" at toks[i:].
func attrInts(toks []string, i int) ([]int, int, error) {
	if i >= len(toks) || toks[i] != "(" {
		return nil, i, fmt.Errorf("missing argument list")
	}
	i++
	var vals []int
	for i < len(toks) && toks[i] != ")" {
		if toks[i] == "," {
			i++
			continue
		}
		n, err := wgslInt(toks[i])
		if err != nil {
			return nil, i, err
		}
		vals = append(vals, n)
		i++
	}
	if i >= len(toks) {
		return nil, i, fmt.Errorf("unterminated argument list")
	}
	return vals, i + 1, nil
}

// wgslInt parses a WGSL integer literal, tolerating the u/i suffixes.
func wgslInt(tok string) (int, error) {
	tok = strings.TrimSuffix(strings.TrimSuffix(tok, "u"), "i")
	n, err := strconv.Atoi(tok)
	if err != nil {
		return 0, fmt.Errorf("%q is not an integer literal", tok)
	}
	return n, nil
}

func peekIdent(toks []string, i int) string {
	for j := i; j < len(toks) && j < i+6; j++ {
		switch toks[j] {
		case "uniform", "storage", "read", "read_write", "write":
			continue
		}
		if isIdent(toks[j]) {
			return toks[j]
		}
	}
	return "?"
}

func isIdent(tok string) bool {
	if tok == "" {
		return false
	}
	c := tok[0]
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

// stripComments removes // line comments and /* */ block comments, which
// nest in WGSL.
func stripComments(src string) string {
	var b strings.Builder
	b.Grow(len(src))
	for i := 0; i < len(src); {
		if strings.HasPrefix(src[i:], "//") {
			j := strings.IndexByte(src[i:], '\n')
			if j < 0 {
				break
			}
			i += j
			continue
		}
		if strings.HasPrefix(src[i:], "/*") {
			depth := 1
			i += 2
			for i < len(src) && depth > 0 {
				switch {
				case strings.HasPrefix(src[i:], "/*"):
					depth++
					i += 2
				case strings.HasPrefix(src[i:], "*/"):
					depth--
					i += 2
				default:
					i++
				}
			}
			b.WriteByte(' ')
			continue
		}
		b.WriteByte(src[i])
		i++
	}
	return b.String()
}

// tokenize splits WGSL into identifiers, numeric literals and single-byte
// punctuation. Attributes arrive as a "@" token followed by the name.
func tokenize(src string) []string {
	toks := make([]string, 0, len(src)/4)
	for i := 0; i < len(src); {
		c := src[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z'):
			j := i + 1
			for j < len(src) && isIdentByte(src[j]) {
				j++
			}
			toks = append(toks, src[i:j])
			i = j
		case c >= '0' && c <= '9':
			j := i + 1
			for j < len(src) && (isIdentByte(src[j]) || src[j] == '.') {
				j++
			}
			toks = append(toks, src[i:j])
			i = j
		default:
			toks = append(toks, string(c))
			i++
		}
	}
	return toks
}

func isIdentByte(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}
