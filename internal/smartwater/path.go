package smartwater

import (
	"strconv"
	"strings"

	"github.com/maypok86/otter"
)

// pathCacheSize bounds the number of compiled paths kept in memory.
const pathCacheSize = 512

// segment is one step of a compiled path: a map key or a slice index.
type segment struct {
	key   string
	index int
	isIdx bool
}

// compiledPaths memoizes parsed paths. The table is static, so the cache
// normally holds one entry per datapoint.
var compiledPaths = newPathCache()

func newPathCache() otter.Cache[string, []segment] {
	cache, err := otter.MustBuilder[string, []segment](pathCacheSize).
		Cost(func(_ string, _ []segment) uint32 { return 1 }).
		Build()
	if err != nil {
		panic("smartwater: failed to create path cache: " + err.Error())
	}
	return cache
}

// compilePath parses "a.b[0].c" into segments. It returns false on a
// malformed path.
func compilePath(path string) ([]segment, bool) {
	if segs, ok := compiledPaths.Get(path); ok {
		return segs, true
	}
	if path == "" {
		return nil, false
	}

	var segs []segment
	for _, part := range strings.Split(path, ".") {
		name, rest, hasIdx := strings.Cut(part, "[")
		if name != "" {
			segs = append(segs, segment{key: name})
		} else if !hasIdx {
			return nil, false
		}
		for hasIdx {
			var raw string
			var ok bool
			raw, rest, ok = strings.Cut(rest, "]")
			if !ok {
				return nil, false
			}
			n, err := strconv.Atoi(raw)
			if err != nil {
				return nil, false
			}
			segs = append(segs, segment{index: n, isIdx: true})
			if rest == "" {
				break
			}
			if !strings.HasPrefix(rest, "[") {
				return nil, false
			}
			rest = rest[1:]
		}
	}

	compiledPaths.Set(path, segs)
	return segs, true
}

// lookupPath walks root along path. Negative indices count from the end.
func lookupPath(root map[string]any, path string) (any, bool) {
	segs, ok := compilePath(path)
	if !ok {
		return nil, false
	}

	var cur any = root
	for _, s := range segs {
		if s.isIdx {
			list, ok := cur.([]any)
			if !ok {
				return nil, false
			}
			i := s.index
			if i < 0 {
				i += len(list)
			}
			if i < 0 || i >= len(list) {
				return nil, false
			}
			cur = list[i]
			continue
		}
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[s.key]
		if !ok {
			return nil, false
		}
	}
	if cur == nil {
		return nil, false
	}
	return cur, true
}

// computedPaths derive values that are not a single payload field.
var computedPaths = map[string]func(root map[string]any) (any, bool){
	"#canEdit":     memberField("canEdit"),
	"#enabled":     memberField("enabled"),
	"#waterHeight": waterHeight,
}

// memberField reads a field of the members entry for the current profile.
// Members may be keyed by profile id or be a list of objects keyed that way.
func memberField(field string) func(root map[string]any) (any, bool) {
	return func(root map[string]any) (any, bool) {
		pid, ok := lookupPath(root, "context."+ContextProfileID)
		if !ok {
			return nil, false
		}
		key, ok := pid.(string)
		if !ok {
			return nil, false
		}

		var member any
		switch members := root["members"].(type) {
		case map[string]any:
			member = members[key]
		case []any:
			for _, item := range members {
				if m, ok := item.(map[string]any); ok {
					if v, found := m[key]; found {
						member = v
						break
					}
				}
			}
		}

		m, ok := member.(map[string]any)
		if !ok {
			return nil, false
		}
		v, ok := m[field]
		return v, ok && v != nil
	}
}

// waterHeight is the water column above the tank floor in metres:
// (height - outflowHeight) * waterLevel / 100 + outflowHeight.
func waterHeight(root map[string]any) (any, bool) {
	height, ok := numberAt(root, "settings.height")
	if !ok {
		return nil, false
	}
	outflow, ok := numberAt(root, "settings.outflowHeight")
	if !ok {
		return nil, false
	}
	level, ok := numberAt(root, "waterLevel")
	if !ok {
		return nil, false
	}
	return (height-outflow)*level/100.0 + outflow, true
}

func numberAt(root map[string]any, path string) (float64, bool) {
	v, ok := lookupPath(root, path)
	if !ok {
		return 0, false
	}
	return toFloat(v)
}

// evaluate resolves a datapoint path, computed or plain.
func evaluate(root map[string]any, path string) (any, bool) {
	if root == nil {
		return nil, false
	}
	if strings.HasPrefix(path, "#") {
		fn, ok := computedPaths[path]
		if !ok {
			return nil, false
		}
		return fn(root)
	}
	return lookupPath(root, path)
}
