// Package jail confines client-supplied paths to a single root directory.
package jail

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

var (
	// ErrEscapesRoot is returned when a ".." segment would climb above the root.
	ErrEscapesRoot = errors.New("path escapes root")
	// ErrInvalidPath is returned for paths the server refuses to interpret.
	ErrInvalidPath = errors.New("invalid path")
)

// Path is a client path resolved against the root.
type Path struct {
	// Virtual is the slash-rooted path as the client sees it ("/incoming/orders").
	Virtual string
	// Local is the absolute path on the host, always the root or below it.
	Local string
}

// Resolver maps client paths onto a fixed root.
type Resolver struct {
	root string
}

// NewResolver returns a resolver for root. The root is made absolute and cleaned.
func NewResolver(root string) (*Resolver, error) {
	if root == "" {
		return nil, fmt.Errorf("root: %w", ErrInvalidPath)
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve root %q: %w", root, err)
	}
	return &Resolver{root: filepath.Clean(abs)}, nil
}

// Root returns the absolute root directory.
func (r *Resolver) Root() string {
	return r.root
}

// Resolve treats clientPath as relative to the root, whether or not it starts
// with a slash. Any ".." that would leave the root is rejected rather than clamped,
// so two different requests never alias the same file.
func (r *Resolver) Resolve(clientPath string) (Path, error) {
	if strings.IndexByte(clientPath, 0) >= 0 {
		return Path{}, ErrInvalidPath
	}

	segments := make([]string, 0, 8)
	for _, seg := range strings.Split(clientPath, "/") {
		switch seg {
		case "", ".":
			continue
		case "..":
			if len(segments) == 0 {
				return Path{}, ErrEscapesRoot
			}
			segments = segments[:len(segments)-1]
		default:
			// A backslash is an ordinary name byte on the wire but a separator on Windows hosts.
			if filepath.Separator != '/' && strings.ContainsRune(seg, filepath.Separator) {
				return Path{}, ErrInvalidPath
			}
			segments = append(segments, seg)
		}
	}

	rel := strings.Join(segments, "/")
	return Path{
		Virtual: "/" + rel,
		Local:   filepath.Join(r.root, filepath.FromSlash(rel)),
	}, nil
}

// Contains reports whether local is the root or one of its descendants.
func (r *Resolver) Contains(local string) bool {
	rel, err := filepath.Rel(r.root, local)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}
