package engineargs

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// noneString is the literal some upstream tooling produces when it
// stringifies an absent value.
const noneString = "None"

// Options tunes how raw values are rendered into flags.
type Options struct {
	// LegacyNoneString renders the string "None" as a bare flag, exactly
	// like an absent value. Disable it to pass "None" through literally.
	LegacyNoneString bool
}

// DefaultOptions returns the options used by chatd unless configured otherwise.
func DefaultOptions() Options {
	return Options{LegacyNoneString: true}
}

// Args renders a raw key/value mapping as command-line tokens. Keys are
// visited in sorted order so the output is deterministic.
func Args(raw map[string]any, opts Options) []string {
	var out []string
	for _, key := range sortedKeys(raw) {
		out = append(out, renderEntry(normalizeKey(key), raw[key], opts)...)
	}
	return out
}

// renderEntry renders one key/value pair:
//
//	true           -> --key
//	nil / absent   -> --key
//	"None"         -> --key           (LegacyNoneString only)
//	false          -> --key=false
//	anything else  -> --key <value>
func renderEntry(key string, value any, opts Options) []string {
	flag := "--" + key
	switch v := value.(type) {
	case nil:
		return []string{flag}
	case bool:
		if v {
			return []string{flag}
		}
		return []string{flag + "=false"}
	case string:
		if opts.LegacyNoneString && v == noneString {
			return []string{flag}
		}
		return []string{flag, v}
	default:
		return []string{flag, formatValue(v)}
	}
}

func formatValue(v any) string {
	switch t := v.(type) {
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'g', -1, 32)
	case []string:
		return strings.Join(t, ",")
	case []any:
		parts := make([]string, 0, len(t))
		for _, e := range t {
			parts = append(parts, formatValue(e))
		}
		return strings.Join(parts, ",")
	default:
		return fmt.Sprint(t)
	}
}

// Override returns a copy of raw with key set to value. Existing entries
// naming the same flag (e.g. max_model_len vs --max-model-len) are dropped.
func Override(raw map[string]any, key string, value any) map[string]any {
	out := make(map[string]any, len(raw)+1)
	nk := normalizeKey(key)
	for k, v := range raw {
		if normalizeKey(k) != nk {
			out[k] = v
		}
	}
	out[key] = value
	return out
}

// normalizeKey strips leading dashes and maps underscores to dashes so
// "response_role", "--response-role" and "response-role" are the same flag.
func normalizeKey(key string) string {
	key = strings.TrimLeft(strings.TrimSpace(key), "-")
	return strings.ReplaceAll(key, "_", "-")
}

func sortedKeys(raw map[string]any) []string {
	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
