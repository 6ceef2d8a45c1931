package goftp

import (
	"path"
	"strings"
)

// NormalizeRemotePath returns p as an absolute, cleaned, slash-separated
// path with no trailing slash (except for the root itself).
func NormalizeRemotePath(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return path.Clean(p)
}

// joinRemote joins an entry name onto a base directory.
func joinRemote(base, name string) string {
	if base == "" {
		base = "/"
	}
	return NormalizeRemotePath(path.Join(base, name))
}

// splitRemote returns the parent directory and base name of a normalized path.
func splitRemote(p string) (string, string) {
	p = NormalizeRemotePath(p)
	return path.Dir(p), path.Base(p)
}

// pathSegments splits a path into its non-empty components.
func pathSegments(p string) []string {
	var segs []string
	for _, s := range strings.Split(p, "/") {
		if s != "" && s != "." {
			segs = append(segs, s)
		}
	}
	return segs
}

// isSafeEntryName reports whether a listed name can be used as a single
// local path component.
func isSafeEntryName(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	return !strings.ContainsAny(name, "/\\")
}
