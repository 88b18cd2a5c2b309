// Package compiler is the coordinator: it drives the pipeline stages
// in order, joins the parallel analyzers deterministically, caches
// artifacts by content, and exposes the host embedding surface.
package compiler

import (
	"encoding/json"

	"mlc/internal/ast"
	"mlc/internal/capability"
	"mlc/internal/diag"
	"mlc/internal/source"
	"mlc/internal/sourcemap"
	"mlc/internal/transform"
)

// Stage names for the compile-unit state machine.
const (
	StageLoaded      = "loaded"
	StageParsed      = "parsed"
	StageValidated   = "validated"
	StageTransformed = "transformed"
	StageCollected   = "collected"
	StageAnalyzed    = "analyzed"
	StageOptimized   = "optimized"
	StageEmitted     = "emitted"
	StageFailed      = "failed"
)

// Artifact is the compilation output: target source, source map,
// required-capability manifest, and the full diagnostic set. The
// optimized tree rides along for execution and is serialized with the
// artifact so cached entries stay runnable.
type Artifact struct {
	UnitPath             string
	UnitHash             string
	TargetSource         string
	SourceMap            *sourcemap.Map
	RequiredCapabilities []capability.Requirement
	Diagnostics          diag.List
	RewriteLog           *transform.Log
	State                string

	Nodes []ast.Node
	Root  ast.NodeID
}

// Success reports whether the compile produced a usable artifact: no
// error-severity diagnostics.
func (a *Artifact) Success() bool {
	return !a.Diagnostics.HasErrors()
}

// Critical reports whether a security-critical diagnostic blocked
// emission.
func (a *Artifact) Critical() bool {
	return a.Diagnostics.HasCritical()
}

// Tree rebuilds the executable tree from the serialized arena.
func (a *Artifact) Tree() *ast.Tree {
	return &ast.Tree{
		Arena: ast.FromNodes(a.Nodes),
		Root:  a.Root,
		Unit:  &source.Unit{Path: a.UnitPath, Hash: a.UnitHash},
	}
}

// artifactPayload is the disk-cache serialization of an artifact.
type artifactPayload struct {
	UnitPath             string                   `json:"unit_path"`
	UnitHash             string                   `json:"unit_hash"`
	TargetSource         string                   `json:"target_source"`
	SourceMap            *sourcemap.Map           `json:"source_map"`
	RequiredCapabilities []capability.Requirement `json:"required_capabilities"`
	Diagnostics          diag.List                `json:"diagnostics"`
	State                string                   `json:"state"`
	Nodes                []ast.Node               `json:"nodes"`
	Root                 ast.NodeID               `json:"root"`
}

func (a *Artifact) encode() ([]byte, error) {
	return json.Marshal(artifactPayload{
		UnitPath:             a.UnitPath,
		UnitHash:             a.UnitHash,
		TargetSource:         a.TargetSource,
		SourceMap:            a.SourceMap,
		RequiredCapabilities: a.RequiredCapabilities,
		Diagnostics:          a.Diagnostics,
		State:                a.State,
		Nodes:                a.Nodes,
		Root:                 a.Root,
	})
}

func decodeArtifact(data []byte) (*Artifact, error) {
	var p artifactPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, err
	}
	return &Artifact{
		UnitPath:             p.UnitPath,
		UnitHash:             p.UnitHash,
		TargetSource:         p.TargetSource,
		SourceMap:            p.SourceMap,
		RequiredCapabilities: p.RequiredCapabilities,
		Diagnostics:          p.Diagnostics,
		State:                p.State,
		Nodes:                p.Nodes,
		Root:                 p.Root,
	}, nil
}
