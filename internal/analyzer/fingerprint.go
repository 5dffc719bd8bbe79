package analyzer

import (
	"strconv"
	"unicode/utf16"
)

// Fingerprint hashes s with DJB2-xor over its UTF-16 code units and returns
// the 32-bit result as unpadded lower-case hex. The value is stable across
// implementations that hash the same code units.
func Fingerprint(s string) string {
	h := uint32(5381)
	for _, c := range utf16.Encode([]rune(s)) {
		h = (h * 33) ^ uint32(c)
	}
	return strconv.FormatUint(uint64(h), 16)
}
