package hierarchy

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrMalformedPath is returned when a stored ancestor path cannot be decoded.
var ErrMalformedPath = errors.New("hierarchy: malformed ancestor path")

const pathSeparator = ","

// Path is the ordered list of ancestor ids of a node, root first and direct
// parent last. The root node has an empty path.
type Path []int64

// Delimit wraps a single id in the bracket pair used by the stored form.
// Every substring test against a stored path must go through this function.
func Delimit(id int64) string {
	return "[" + strconv.FormatInt(id, 10) + "]"
}

// Encode serialises ancestor ids to the stored form, e.g. "[1],[7]".
func Encode(ids []int64) string {
	if len(ids) == 0 {
		return ""
	}
	var b strings.Builder
	for i, id := range ids {
		if i > 0 {
			b.WriteString(pathSeparator)
		}
		b.WriteString(Delimit(id))
	}
	return b.String()
}

// Decode parses the stored form back into a Path.
func Decode(raw string) (Path, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Path{}, nil
	}
	parts := strings.Split(raw, pathSeparator)
	path := make(Path, 0, len(parts))
	for _, part := range parts {
		if len(part) < 3 || part[0] != '[' || part[len(part)-1] != ']' {
			return nil, fmt.Errorf("%w: %q", ErrMalformedPath, raw)
		}
		id, err := strconv.ParseInt(part[1:len(part)-1], 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("%w: %q", ErrMalformedPath, raw)
		}
		path = append(path, id)
	}
	return path, nil
}

// AppendChild returns the stored path of a child of parentID, given the
// parent's own stored path.
func AppendChild(parentPath string, parentID int64) string {
	if parentPath == "" {
		return Delimit(parentID)
	}
	return parentPath + pathSeparator + Delimit(parentID)
}

// ContainsAncestor reports whether ancestorID appears in the stored path.
// Bracketing keeps id 12 from matching inside [120].
func ContainsAncestor(path string, ancestorID int64) bool {
	return strings.Contains(path, Delimit(ancestorID))
}

// String returns the stored form.
func (p Path) String() string {
	return Encode(p)
}

// Contains reports whether id is one of the ancestors.
func (p Path) Contains(id int64) bool {
	for _, v := range p {
		if v == id {
			return true
		}
	}
	return false
}

// Child returns the path a child of the node with this path and id would have.
// The receiver is never modified.
func (p Path) Child(id int64) Path {
	out := make(Path, len(p), len(p)+1)
	copy(out, p)
	return append(out, id)
}

// Rebase replaces the prefix oldPrefix with newPrefix. ok is false when the
// path does not start with oldPrefix.
func (p Path) Rebase(oldPrefix, newPrefix Path) (Path, bool) {
	if len(p) < len(oldPrefix) {
		return nil, false
	}
	for i := range oldPrefix {
		if p[i] != oldPrefix[i] {
			return nil, false
		}
	}
	out := make(Path, 0, len(newPrefix)+len(p)-len(oldPrefix))
	out = append(out, newPrefix...)
	return append(out, p[len(oldPrefix):]...), true
}

// Parent returns the direct parent id, or 0 for a root path.
func (p Path) Parent() int64 {
	if len(p) == 0 {
		return 0
	}
	return p[len(p)-1]
}

// MarshalText implements encoding.TextMarshaler using the stored form.
func (p Path) MarshalText() ([]byte, error) {
	return []byte(Encode(p)), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Path) UnmarshalText(text []byte) error {
	decoded, err := Decode(string(text))
	if err != nil {
		return err
	}
	*p = decoded
	return nil
}
