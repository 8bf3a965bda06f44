// Package objpath reads and writes values inside nested map[string]any / []any
// trees addressed by dot/bracket paths such as "a.b[2].c".
//
// Writes never mutate their input. Every node on the way from the root to the
// written leaf is copied, siblings off that path are shared with the previous
// tree, so callers can detect changes to a subtree with Same.
package objpath

import (
	"strconv"
	"strings"
)

// Segment is one step of a parsed path. Index is set for bracket segments
// ("[2]") and for purely numeric dot segments. Quoted bracket segments
// (`["2"]`) are always map keys.
type Segment struct {
	Key     string
	Index   int
	IsIndex bool
}

// Parse splits path into segments. Empty segments are skipped, so "" and "."
// both address the root. Inside a quoted bracket segment such as `["a]b"]`
// dots and brackets are literal and a backslash escapes the next byte.
func Parse(path string) []Segment {
	if path == "" {
		return nil
	}
	segments := make([]Segment, 0, strings.Count(path, ".")+1)
	var token strings.Builder
	flush := func(bracket bool) {
		if token.Len() == 0 {
			return
		}
		key := token.String()
		token.Reset()
		if bracket {
			key = strings.Trim(key, `"'`)
		}
		seg := Segment{Key: key}
		if n, err := strconv.Atoi(key); err == nil && n >= 0 {
			seg.Index = n
			seg.IsIndex = true
		}
		segments = append(segments, seg)
	}
	for i := 0; i < len(path); i++ {
		switch c := path[i]; c {
		case '.':
			flush(false)
		case '[':
			flush(false)
			if key, next, ok := quotedKey(path, i+1); ok {
				segments = append(segments, Segment{Key: key})
				i = next
				continue
			}
			end := strings.IndexByte(path[i:], ']')
			if end < 0 {
				token.WriteString(path[i+1:])
				flush(true)
				return segments
			}
			token.WriteString(path[i+1 : i+end])
			flush(true)
			i += end
		default:
			token.WriteByte(c)
		}
	}
	flush(false)
	return segments
}

// quotedKey reads a quoted key starting at path[start] and returns it with the
// index of the closing bracket. ok is false when path[start] is not a quote or
// the quote is never closed.
func quotedKey(path string, start int) (key string, end int, ok bool) {
	if start >= len(path) || (path[start] != '"' && path[start] != '\'') {
		return "", 0, false
	}
	quote := path[start]
	var b strings.Builder
	for i := start + 1; i < len(path); i++ {
		c := path[i]
		switch {
		case c == '\\' && i+1 < len(path):
			i++
			b.WriteByte(path[i])
		case c == quote:
			end = strings.IndexByte(path[i:], ']')
			if end < 0 {
				return b.String(), len(path), true
			}
			return b.String(), i + end, true
		default:
			b.WriteByte(c)
		}
	}
	return "", 0, false
}

var keyEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`)

// Join appends key to path as a single map key segment. Keys that would
// otherwise be split or read as an index are written in quoted bracket form.
func Join(path, key string) string {
	plain := key != "" && !strings.ContainsAny(key, `.[]"'\`)
	if plain {
		if _, err := strconv.Atoi(key); err == nil {
			plain = false
		}
	}
	switch {
	case !plain:
		return path + `["` + keyEscaper.Replace(key) + `"]`
	case path == "":
		return key
	default:
		return path + "." + key
	}
}

// Get resolves path inside root. The boolean is false when some segment does
// not exist, which is distinct from an explicitly stored nil.
func Get(root any, path string) (any, bool) {
	current := root
	for _, seg := range Parse(path) {
		next, ok := child(current, seg)
		if !ok {
			return nil, false
		}
		current = next
	}
	return current, true
}

// Set returns a copy of root with value written at path. Missing or scalar
// intermediate nodes are replaced by []any when the following segment is an
// index and by map[string]any otherwise. Root itself is returned when nothing
// changed, including for a named segment under a []any node.
func Set(root any, path string, value any) any {
	return setSegments(root, Parse(path), value)
}

// Delete returns a copy of root without the entry at path. Slice elements are
// removed and the slice shortened. Root is returned unchanged when the path
// does not exist.
func Delete(root any, path string) any {
	segments := Parse(path)
	if len(segments) == 0 {
		return nil
	}
	if _, ok := Get(root, path); !ok {
		return root
	}
	return deleteSegments(root, segments)
}

func child(node any, seg Segment) (any, bool) {
	switch typed := node.(type) {
	case map[string]any:
		value, ok := typed[seg.Key]
		return value, ok
	case []any:
		if !seg.IsIndex || seg.Index >= len(typed) {
			return nil, false
		}
		return typed[seg.Index], true
	default:
		return nil, false
	}
}

func setSegments(node any, segments []Segment, value any) any {
	if len(segments) == 0 {
		return value
	}
	seg := segments[0]
	rest := segments[1:]

	switch typed := node.(type) {
	case map[string]any:
		prev, exists := typed[seg.Key]
		next := setSegments(prev, rest, value)
		if exists && Same(prev, next) {
			return node
		}
		out := make(map[string]any, len(typed)+1)
		for k, v := range typed {
			out[k] = v
		}
		out[seg.Key] = next
		return out
	case []any:
		if seg.IsIndex {
			var prev any
			exists := seg.Index < len(typed)
			if exists {
				prev = typed[seg.Index]
			}
			next := setSegments(prev, rest, value)
			if exists && Same(prev, next) {
				return node
			}
			size := len(typed)
			if seg.Index >= size {
				size = seg.Index + 1
			}
			out := make([]any, size)
			copy(out, typed)
			out[seg.Index] = next
			return out
		}
		// A slice has no named entries, so the write is dropped.
		return node
	}

	if seg.IsIndex {
		out := make([]any, seg.Index+1)
		out[seg.Index] = setSegments(nil, rest, value)
		return out
	}
	return map[string]any{seg.Key: setSegments(nil, rest, value)}
}

func deleteSegments(node any, segments []Segment) any {
	seg := segments[0]
	if len(segments) == 1 {
		switch typed := node.(type) {
		case map[string]any:
			out := make(map[string]any, len(typed))
			for k, v := range typed {
				if k != seg.Key {
					out[k] = v
				}
			}
			return out
		case []any:
			out := make([]any, 0, len(typed)-1)
			out = append(out, typed[:seg.Index]...)
			return append(out, typed[seg.Index+1:]...)
		}
		return node
	}
	next, _ := child(node, seg)
	return setSegments(node, segments[:1], deleteSegments(next, segments[1:]))
}
