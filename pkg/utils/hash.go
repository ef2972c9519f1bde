package utils

import (
	"strconv"

	"github.com/cespare/xxhash/v2"
)

// HashText returns a stable hex key for text, used for cache keys.
func HashText(parts ...string) string {
	d := xxhash.New()
	for i, p := range parts {
		if i > 0 {
			_, _ = d.Write([]byte{0})
		}
		_, _ = d.WriteString(p)
	}
	return strconv.FormatUint(d.Sum64(), 16)
}
