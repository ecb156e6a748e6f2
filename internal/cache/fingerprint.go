package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
)

// Fingerprint derives the cache key for a path and parameter set. Parameter
// names are sorted and values serialized as JSON before hashing, so two
// logically equal parameter maps fingerprint identically regardless of
// insertion order. encoding/json already emits nested map keys sorted.
func Fingerprint(path string, params map[string]interface{}) string {
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)

	h := sha256.New()
	h.Write([]byte(path))
	for _, name := range names {
		value, err := json.Marshal(params[name])
		if err != nil {
			value = []byte(fmt.Sprintf("%v", params[name]))
		}
		h.Write([]byte{0})
		h.Write([]byte(name))
		h.Write([]byte{'='})
		h.Write(value)
	}
	return hex.EncodeToString(h.Sum(nil))
}
