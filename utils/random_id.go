package utils

import (
	"crypto/rand"
	"math/big"
)

const letters = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

var mock = ""

// MockRandomID makes RandomID return s. An empty string restores randomness.
func MockRandomID(s string) {
	mock = s
}

// RandomID returns an unguessable alphanumeric identifier of length n.
func RandomID(n int) string {
	if mock != "" {
		return mock
	}
	max := big.NewInt(int64(len(letters)))
	b := make([]byte, n)
	for i := range b {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			panic(err)
		}
		b[i] = letters[idx.Int64()]
	}
	return string(b)
}
