// Package vfspath implements the pure-function path parser shared by
// the VFS: separator normalisation, "." / ".." folding, drive-root
// jail enforcement, and basename/parent/extension extraction.
package vfspath

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

const (
	Separator    = '/'
	WinSeparator = '\\'
	MaxPath      = 256
	MaxFilename  = 255
)

var upperFolder = cases.Upper(language.Und)

// Type tags whether a parsed path is a Unix path or a drive-letter path.
type Type int

const (
	Unix Type = iota
	Drive
)

// Parsed is a path after separator/dot-dot normalisation, tagged with
// its namespace.
type Parsed struct {
	Type   Type
	Letter byte // valid only when Type == Drive; always upper-case A-Z
	Path   string
}

// isDriveLetter reports whether s begins with "<letter>:".
func isDriveLetter(s string) bool {
	if len(s) < 2 {
		return false
	}
	c := s[0]
	isLetter := (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z')
	return isLetter && s[1] == ':'
}

// Parse classifies path and normalises it: drive-letter paths are
// jailed (never emit a leading ".."), Unix paths use standard
// normalisation (leading ".." runs preserved when relative, dropped
// at an absolute root).
func Parse(path string) Parsed {
	if isDriveLetter(path) {
		letter := foldDriveLetter(path[0])
		rest := strings.ReplaceAll(path[2:], string(WinSeparator), string(Separator))
		return Parsed{Type: Drive, Letter: letter, Path: normalizeJailed(rest)}
	}
	converted := strings.ReplaceAll(path, string(WinSeparator), string(Separator))
	return Parsed{Type: Unix, Path: normalize(converted)}
}

// foldDriveLetter upper-cases a single ASCII drive letter using the
// same Unicode-aware case folder the rest of the VFS layer uses for
// case-insensitive drive-path comparison.
func foldDriveLetter(c byte) byte {
	folded := upperFolder.String(string(c))
	if len(folded) == 0 {
		return c
	}
	return folded[0]
}

// normalize applies standard Unix semantics: empty -> ".", "." is
// dropped, ".." pops the previous component unless the path is
// relative and nothing has been pushed yet (in which case ".." is
// itself preserved), and a ".." at an absolute root is silently
// dropped.
func normalize(path string) string {
	if path == "" {
		return "."
	}
	absolute := strings.HasPrefix(path, string(Separator))
	parts := strings.Split(path, string(Separator))

	var stack []string
	for _, p := range parts {
		switch p {
		case "", ".":
			continue
		case "..":
			switch {
			case len(stack) > 0 && stack[len(stack)-1] != "..":
				stack = stack[:len(stack)-1]
			case !absolute:
				stack = append(stack, "..")
			default:
				// absolute root: drop silently
			}
		default:
			stack = append(stack, p)
		}
	}

	joined := strings.Join(stack, string(Separator))
	switch {
	case absolute:
		return string(Separator) + joined
	case joined == "":
		return "."
	default:
		return joined
	}
}

// normalizeJailed applies drive-root jail semantics: ".." pops if the
// stack is non-empty, and is silently discarded at the root — it can
// never produce a leading "..". Always returns a "/"-prefixed path.
func normalizeJailed(path string) string {
	parts := strings.Split(path, string(Separator))
	var stack []string
	for _, p := range parts {
		switch p {
		case "", ".":
			continue
		case "..":
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		default:
			stack = append(stack, p)
		}
	}
	return "/" + strings.Join(stack, "/")
}

// Split returns (parent, filename) split at the last separator. Unlike
// filepath.Split, the parent carries no trailing separator.
func Split(path string) (dir, name string) {
	i := strings.LastIndexByte(path, Separator)
	if i < 0 {
		return "", path
	}
	return path[:i], path[i+1:]
}

// Parent returns the parent component of a normalised path.
func Parent(path string) string {
	dir, _ := Split(path)
	if dir == "" {
		if strings.HasPrefix(path, string(Separator)) {
			return "/"
		}
		return "."
	}
	return dir
}

// Filename returns the final path component.
func Filename(path string) string {
	_, name := Split(path)
	return name
}

// Extension returns the filename's extension including the leading
// dot, or "" if none.
func Extension(name string) string {
	i := strings.LastIndexByte(name, '.')
	if i <= 0 {
		return ""
	}
	return name[i:]
}

// Join joins a base path and a component with a single separator.
func Join(base, component string) string {
	if base == "" {
		return component
	}
	if strings.HasSuffix(base, string(Separator)) {
		return base + component
	}
	return base + string(Separator) + component
}

// IsAbsolute reports whether path begins with '/'.
func IsAbsolute(path string) bool {
	return strings.HasPrefix(path, string(Separator))
}

// IsValidName reports whether name is a legal single path component:
// non-empty, not containing '/', and within MaxFilename bytes.
func IsValidName(name string) bool {
	if name == "" || len(name) > MaxFilename {
		return false
	}
	return !strings.ContainsRune(name, Separator)
}

// PathsEqual compares two Unix-normalised paths byte-exactly.
func PathsEqual(a, b string) bool {
	return normalize(a) == normalize(b)
}

// FilenamesEqual compares two drive-path filenames case-insensitively,
// matching the drive namespace's case-folding semantics.
func FilenamesEqual(a, b string) bool {
	return upperFolder.String(a) == upperFolder.String(b)
}

// Components splits a normalised path into its non-empty parts.
func Components(path string) []string {
	var out []string
	for _, p := range strings.Split(path, string(Separator)) {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
