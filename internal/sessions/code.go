package sessions

import (
	"crypto/rand"
	"math/big"
	"strings"
)

// codeAlphabet omits characters that are easy to confuse when read aloud (0/O, 1/I).
const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// RandomCode returns a join code of length n.
func RandomCode(n int) string {
	if n <= 0 {
		n = 6
	}
	var b strings.Builder
	max := big.NewInt(int64(len(codeAlphabet)))
	for i := 0; i < n; i++ {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			// crypto/rand does not fail on supported platforms
			panic(err)
		}
		b.WriteByte(codeAlphabet[idx.Int64()])
	}
	return b.String()
}

// NormalizeCode upper-cases and trims a user-entered join code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
