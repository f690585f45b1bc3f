package client

import (
	"crypto/rand"
	"math/big"
)

// Author tokens are 8 characters from a 64-symbol URL-safe alphabet,
// generated client-side. They only need to be unique enough to correlate
// a pending post with its confirmation on one connection.
const tokenAlphabet = "_abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789-"

const tokenLength = 8

// GenName returns a fresh author token.
func GenName() string {
	buf := make([]byte, tokenLength)
	for i := range buf {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(tokenAlphabet))))
		if err != nil {
			// crypto/rand only fails when the platform source is broken;
			// fall back to a fixed symbol rather than panicking mid-game.
			buf[i] = tokenAlphabet[0]
			continue
		}
		buf[i] = tokenAlphabet[n.Int64()]
	}
	return string(buf)
}
