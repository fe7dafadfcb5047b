package hashchain

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Op is a single RFC-6902-style patch operation over "add", "remove", and
// "replace". Move-detection is intentionally omitted: arrays are patched
// positionally and objects are diffed key by key, trading minimality for a
// simple, deterministic algorithm.
type Op struct {
	Op    string      `json:"op"`
	Path  string      `json:"path"`
	Value interface{} `json:"value,omitempty"`
}

// JSONPatch computes the minimal-ish set of add/remove/replace operations
// that transform old into new. Both arguments must already be the generic
// representation produced by decoding JSON (map[string]interface{},
// []interface{}, or scalars) — callers working with Go structs should
// round-trip through json.Marshal/Unmarshal first.
func JSONPatch(old, new interface{}) ([]Op, error) {
	var ops []Op
	diff("", old, new, &ops)
	return ops, nil
}

func diff(path string, oldV, newV interface{}, ops *[]Op) {
	oldMap, oldIsMap := oldV.(map[string]interface{})
	newMap, newIsMap := newV.(map[string]interface{})
	if oldIsMap && newIsMap {
		diffMaps(path, oldMap, newMap, ops)
		return
	}

	oldArr, oldIsArr := oldV.([]interface{})
	newArr, newIsArr := newV.([]interface{})
	if oldIsArr && newIsArr {
		diffArrays(path, oldArr, newArr, ops)
		return
	}

	if !equalScalar(oldV, newV) {
		*ops = append(*ops, Op{Op: "replace", Path: path, Value: newV})
	}
}

func diffMaps(path string, oldMap, newMap map[string]interface{}, ops *[]Op) {
	keys := make(map[string]struct{}, len(oldMap)+len(newMap))
	for k := range oldMap {
		keys[k] = struct{}{}
	}
	for k := range newMap {
		keys[k] = struct{}{}
	}
	sorted := make([]string, 0, len(keys))
	for k := range keys {
		sorted = append(sorted, k)
	}
	sort.Strings(sorted)

	for _, k := range sorted {
		childPath := path + "/" + escapePointer(k)
		oldChild, inOld := oldMap[k]
		newChild, inNew := newMap[k]
		switch {
		case inOld && !inNew:
			*ops = append(*ops, Op{Op: "remove", Path: childPath})
		case !inOld && inNew:
			*ops = append(*ops, Op{Op: "add", Path: childPath, Value: newChild})
		default:
			diff(childPath, oldChild, newChild, ops)
		}
	}
}

func diffArrays(path string, oldArr, newArr []interface{}, ops *[]Op) {
	maxLen := len(oldArr)
	if len(newArr) > maxLen {
		maxLen = len(newArr)
	}
	for i := 0; i < maxLen; i++ {
		childPath := fmt.Sprintf("%s/%d", path, i)
		switch {
		case i >= len(newArr):
			*ops = append(*ops, Op{Op: "remove", Path: childPath})
		case i >= len(oldArr):
			*ops = append(*ops, Op{Op: "add", Path: childPath, Value: newArr[i]})
		default:
			diff(childPath, oldArr[i], newArr[i], ops)
		}
	}
}

func equalScalar(a, b interface{}) bool {
	ab, errA := json.Marshal(a)
	bb, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return false
	}
	return string(ab) == string(bb)
}

func escapePointer(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '~':
			out = append(out, '~', '0')
		case '/':
			out = append(out, '~', '1')
		default:
			out = append(out, s[i])
		}
	}
	return string(out)
}

// Apply applies a patch produced by JSONPatch to old, returning the
// reconstructed document. Only used by round-trip tests; the version
// store itself stores full content per version and uses patches only for
// delta responses.
func Apply(ops []Op, old interface{}) (interface{}, error) {
	doc := cloneJSON(old)
	for _, op := range ops {
		ptr, err := splitPointer(op.Path)
		if err != nil {
			return nil, err
		}
		switch op.Op {
		case "remove":
			doc, err = removeAt(doc, ptr)
		case "add", "replace":
			doc, err = setAt(doc, ptr, op.Value)
		default:
			return nil, fmt.Errorf("hashchain: unsupported op %q", op.Op)
		}
		if err != nil {
			return nil, err
		}
	}
	return doc, nil
}

func cloneJSON(v interface{}) interface{} {
	b, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out interface{}
	if err := json.Unmarshal(b, &out); err != nil {
		return v
	}
	return out
}

func splitPointer(path string) ([]string, error) {
	if path == "" {
		return nil, nil
	}
	if path[0] != '/' {
		return nil, fmt.Errorf("hashchain: invalid JSON pointer %q", path)
	}
	parts := []string{}
	cur := ""
	for i := 1; i < len(path); i++ {
		if path[i] == '/' {
			parts = append(parts, unescapePointer(cur))
			cur = ""
			continue
		}
		cur += string(path[i])
	}
	parts = append(parts, unescapePointer(cur))
	return parts, nil
}

func unescapePointer(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '~' && i+1 < len(s) {
			switch s[i+1] {
			case '0':
				out = append(out, '~')
				i++
				continue
			case '1':
				out = append(out, '/')
				i++
				continue
			}
		}
		out = append(out, s[i])
	}
	return string(out)
}

func setAt(doc interface{}, ptr []string, value interface{}) (interface{}, error) {
	if len(ptr) == 0 {
		return value, nil
	}
	key := ptr[0]

	if arr, ok := doc.([]interface{}); ok {
		idx, err := arrayIndex(key, len(arr))
		if err != nil {
			return nil, err
		}
		if len(ptr) == 1 {
			if idx == len(arr) {
				arr = append(arr, value)
			} else {
				arr[idx] = value
			}
			return arr, nil
		}
		updated, err := setAt(arr[idx], ptr[1:], value)
		if err != nil {
			return nil, err
		}
		arr[idx] = updated
		return arr, nil
	}

	m, ok := doc.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("hashchain: cannot set into non-object at %v", ptr)
	}
	if len(ptr) == 1 {
		m[key] = value
		return m, nil
	}
	child, ok := m[key]
	if !ok {
		child = map[string]interface{}{}
	}
	updated, err := setAt(child, ptr[1:], value)
	if err != nil {
		return nil, err
	}
	m[key] = updated
	return m, nil
}

func removeAt(doc interface{}, ptr []string) (interface{}, error) {
	if len(ptr) == 0 {
		return nil, fmt.Errorf("hashchain: cannot remove root")
	}
	key := ptr[0]

	if arr, ok := doc.([]interface{}); ok {
		idx, err := arrayIndex(key, len(arr))
		if err != nil {
			return nil, err
		}
		if idx >= len(arr) {
			return arr, nil
		}
		if len(ptr) == 1 {
			return append(arr[:idx], arr[idx+1:]...), nil
		}
		updated, err := removeAt(arr[idx], ptr[1:])
		if err != nil {
			return nil, err
		}
		arr[idx] = updated
		return arr, nil
	}

	m, ok := doc.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("hashchain: cannot remove from non-object at %v", ptr)
	}
	if len(ptr) == 1 {
		delete(m, key)
		return m, nil
	}
	child, ok := m[key]
	if !ok {
		return m, nil
	}
	updated, err := removeAt(child, ptr[1:])
	if err != nil {
		return nil, err
	}
	m[key] = updated
	return m, nil
}

func arrayIndex(key string, length int) (int, error) {
	if key == "-" {
		return length, nil
	}
	var idx int
	if _, err := fmt.Sscanf(key, "%d", &idx); err != nil {
		return 0, fmt.Errorf("hashchain: invalid array index %q", key)
	}
	if idx < 0 || idx > length {
		return 0, fmt.Errorf("hashchain: array index %d out of range (len %d)", idx, length)
	}
	return idx, nil
}
