//go:build property

package hashchain

import (
	"math/rand"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestContentHashKeyOrderInvariant covers §8's quantified invariant:
// for all contents c, ContentHash(c) == ContentHash(shuffleKeys(c)).
func TestContentHashKeyOrderInvariant(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	properties := gopter.NewProperties(parameters)

	properties.Property("content hash is stable under key shuffling", prop.ForAll(
		func(keys []string, vals []int) bool {
			n := len(keys)
			if len(vals) < n {
				n = len(vals)
			}
			orig := map[string]interface{}{}
			for i := 0; i < n; i++ {
				orig[keys[i]] = vals[i]
			}

			shuffled := shuffleMap(orig)

			h1, err1 := ContentHash(orig)
			h2, err2 := ContentHash(shuffled)
			return err1 == nil && err2 == nil && h1 == h2
		},
		gen.SliceOf(gen.Identifier()),
		gen.SliceOf(gen.IntRange(-1000, 1000)),
	))

	properties.TestingRun(t)
}

func shuffleMap(m map[string]interface{}) map[string]interface{} {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	rand.Shuffle(len(keys), func(i, j int) { keys[i], keys[j] = keys[j], keys[i] })

	out := map[string]interface{}{}
	for _, k := range keys {
		out[k] = m[k]
	}
	return out
}
