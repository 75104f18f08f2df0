package captcha

import (
	"crypto/rand"
	"math/big"
	mrand "math/rand"
	"time"
)

// Alphabet holds the 34 symbols a code may contain: digits 1-9 and A-Z without O.
const Alphabet = "123456789ABCDEFGHIJKLMNPQRSTUVWXYZ"

// draws come from the full 0-9A-Z range and the ambiguous 0 and O are re-rolled.
const drawRange = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"

// GenerateCode returns an n-symbol code drawn uniformly from Alphabet.
func GenerateCode(n int) string {
	if n <= 0 {
		n = DefaultLength
	}
	code := make([]byte, 0, n)
	for len(code) < n {
		c := drawRange[randIndex(len(drawRange))]
		if c == '0' || c == 'O' {
			continue
		}
		code = append(code, c)
	}
	return string(code)
}

func randIndex(n int) int {
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		// fallback when the system source fails
		return mrand.New(mrand.NewSource(time.Now().UnixNano())).Intn(n)
	}
	return int(v.Int64())
}
