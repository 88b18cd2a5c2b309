package runtime

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gobwas/glob"

	"mlc/internal/capability"
	"mlc/internal/value"
)

// FSPolicy bounds what the file module may touch. An empty Allowed
// list denies everything; Root anchors relative paths.
type FSPolicy struct {
	Root           string
	Allowed        []string // glob patterns over slash paths
	DisableNetwork bool
}

// Allows reports whether a path clears the policy globs.
func (p *FSPolicy) Allows(path string) bool {
	if p == nil {
		return false
	}
	clean := filepath.ToSlash(filepath.Clean(path))
	for _, pat := range p.Allowed {
		g, err := glob.Compile(pat, '/')
		if err != nil {
			continue
		}
		if g.Match(clean) {
			return true
		}
	}
	return false
}

// resolve anchors a path under the policy root and rejects escapes.
func (p *FSPolicy) resolve(path string) (string, error) {
	if p == nil {
		return "", fmt.Errorf("filesystem access is disabled")
	}
	if !p.Allows(path) {
		return "", fmt.Errorf("path %q is outside the filesystem policy", path)
	}
	root := p.Root
	if root == "" {
		root = "."
	}
	full := filepath.Join(root, filepath.FromSlash(path))
	rel, err := filepath.Rel(root, full)
	if err != nil || rel == ".." || len(rel) >= 3 && rel[:3] == ".."+string(filepath.Separator) {
		return "", fmt.Errorf("path %q escapes the sandbox root", path)
	}
	return full, nil
}

// RegisterFileModule installs the capability-gated file host module.
// Every operation demands a (file, <op>) capability on the path and
// clears the filesystem policy before touching the disk.
func RegisterFileModule(h *HostRegistry) error {
	entries := []HostEntry{
		{
			MLName:       "read",
			Fn:           fileRead,
			RequiredCaps: []capability.Requirement{{Type: "file", Op: "read"}},
			ResourceArg:  0,
			ParamKinds:   []string{"string"},
			ReturnKind:   "string",
		},
		{
			MLName:       "write",
			Fn:           fileWrite,
			RequiredCaps: []capability.Requirement{{Type: "file", Op: "write"}},
			ResourceArg:  0,
			ParamKinds:   []string{"string", "string"},
			ReturnKind:   "null",
		},
		{
			MLName:       "exists",
			Fn:           fileExists,
			RequiredCaps: []capability.Requirement{{Type: "file", Op: "read"}},
			ResourceArg:  0,
			ParamKinds:   []string{"string"},
			ReturnKind:   "boolean",
		},
	}
	return h.RegisterHostModule("file", entries)
}

func fileArg(args []value.Value) (string, error) {
	if len(args) < 1 {
		return "", fmt.Errorf("missing path argument")
	}
	path, ok := args[0].(string)
	if !ok {
		return "", fmt.Errorf("path must be a string")
	}
	return path, nil
}

func fileRead(rt *Runtime, args []value.Value) (value.Value, error) {
	path, err := fileArg(args)
	if err != nil {
		return nil, err
	}
	full, err := rt.FS.resolve(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(full)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return string(data), nil
}

func fileWrite(rt *Runtime, args []value.Value) (value.Value, error) {
	path, err := fileArg(args)
	if err != nil {
		return nil, err
	}
	if len(args) < 2 {
		return nil, fmt.Errorf("missing content argument")
	}
	content, ok := args[1].(string)
	if !ok {
		return nil, fmt.Errorf("content must be a string")
	}
	full, err := rt.FS.resolve(path)
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(full, []byte(content), 0644); err != nil {
		return nil, fmt.Errorf("write %s: %w", path, err)
	}
	return nil, nil
}

func fileExists(rt *Runtime, args []value.Value) (value.Value, error) {
	path, err := fileArg(args)
	if err != nil {
		return nil, err
	}
	full, err := rt.FS.resolve(path)
	if err != nil {
		return nil, err
	}
	_, statErr := os.Stat(full)
	return statErr == nil, nil
}
