package negotiation

import (
	"fmt"
	"strconv"
	"strings"
)

// FileSelector is the a=file-selector value: name:"x" type:t [size:n] [hash:h]
type FileSelector struct {
	Name string
	Type string
	// Size is -1 when unknown.
	Size int64
	Hash string
}

// String encodes the selector. An unknown size is left out.
func (f FileSelector) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "name:%q type:%s", strings.ReplaceAll(f.Name, `"`, ""), f.Type)
	if f.Size >= 0 {
		fmt.Fprintf(&b, " size:%d", f.Size)
	}
	if f.Hash != "" {
		b.WriteString(" hash:")
		b.WriteString(f.Hash)
	}
	return b.String()
}

// ParseFileSelector decodes a selector. name and type are required; a
// missing size is reported as -1.
func ParseFileSelector(s string) (FileSelector, error) {
	f := FileSelector{Size: -1}
	seen := map[string]bool{}
	rest := strings.TrimSpace(s)

	for rest != "" {
		colon := strings.IndexByte(rest, ':')
		if colon <= 0 {
			return FileSelector{}, fmt.Errorf("%w: %q", ErrInvalidSelector, s)
		}
		key := strings.ToLower(rest[:colon])
		rest = rest[colon+1:]

		var value string
		if strings.HasPrefix(rest, `"`) {
			end := strings.IndexByte(rest[1:], '"')
			if end < 0 {
				return FileSelector{}, fmt.Errorf("%w: unterminated quote in %q", ErrInvalidSelector, s)
			}
			value = rest[1 : end+1]
			rest = rest[end+2:]
		} else if sp := strings.IndexByte(rest, ' '); sp >= 0 {
			value, rest = rest[:sp], rest[sp:]
		} else {
			value, rest = rest, ""
		}
		rest = strings.TrimLeft(rest, " ")

		switch key {
		case "name":
			f.Name = value
		case "type":
			f.Type = value
		case "size":
			n, err := strconv.ParseInt(value, 10, 64)
			if err != nil || n < 0 {
				return FileSelector{}, fmt.Errorf("%w: size %q", ErrInvalidSelector, value)
			}
			f.Size = n
		case "hash":
			f.Hash = value
		}
		seen[key] = true
	}

	if !seen["name"] || !seen["type"] || f.Type == "" {
		return FileSelector{}, fmt.Errorf("%w: %q", ErrInvalidSelector, s)
	}
	return f, nil
}
