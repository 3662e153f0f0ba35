package facts

import (
	"strconv"
	"strings"
)

// Lookup resolves a fact and an optional path into it. The path accepts
// dotted and bracket segments with an optional leading "$", e.g.
// "$.zones[0].name" or "labels['front door']". Any unresolvable segment
// yields (nil, false).
func (f FactMap) Lookup(fact, path string) (any, bool) {
	v, ok := f[fact]
	if !ok || v == nil {
		return nil, false
	}
	if path == "" {
		return v, true
	}
	segments, ok := parsePath(path)
	if !ok {
		return nil, false
	}
	return walk(v, segments)
}

// LookupPath resolves a full path whose first segment is the fact name,
// e.g. "event.deviceName" or "actions[0].result.id".
func (f FactMap) LookupPath(path string) (any, bool) {
	segments, ok := parsePath(path)
	if !ok || len(segments) == 0 || segments[0].index >= 0 {
		return nil, false
	}
	v, found := f[segments[0].key]
	if !found || v == nil {
		return nil, false
	}
	return walk(v, segments[1:])
}

type segment struct {
	key   string
	index int // -1 when the segment is a key
}

func walk(v any, segments []segment) (any, bool) {
	cur := v
	for _, seg := range segments {
		switch node := cur.(type) {
		case map[string]any:
			if seg.index >= 0 {
				return nil, false
			}
			next, ok := node[seg.key]
			if !ok {
				return nil, false
			}
			cur = next
		case []any:
			if seg.index < 0 || seg.index >= len(node) {
				return nil, false
			}
			cur = node[seg.index]
		default:
			return nil, false
		}
		if cur == nil {
			return nil, false
		}
	}
	return cur, true
}

func parsePath(path string) ([]segment, bool) {
	p := strings.TrimSpace(path)
	p = strings.TrimPrefix(p, "$")
	var segs []segment
	for len(p) > 0 {
		switch p[0] {
		case '.':
			p = p[1:]
		case '[':
			end := strings.IndexByte(p, ']')
			if end < 0 {
				return nil, false
			}
			inner := strings.TrimSpace(p[1:end])
			p = p[end+1:]
			if len(inner) >= 2 && (inner[0] == '\'' || inner[0] == '"') && inner[len(inner)-1] == inner[0] {
				segs = append(segs, segment{key: inner[1 : len(inner)-1], index: -1})
				continue
			}
			idx, err := strconv.Atoi(inner)
			if err != nil || idx < 0 {
				return nil, false
			}
			segs = append(segs, segment{index: idx})
		default:
			end := strings.IndexAny(p, ".[")
			if end < 0 {
				end = len(p)
			}
			segs = append(segs, segment{key: p[:end], index: -1})
			p = p[end:]
		}
	}
	return segs, true
}
