package domain

import (
	"crypto/rand"
	"io"
	"time"
)

// Clock supplies the current UTC time.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to the Clock interface.
type ClockFunc func() time.Time

// Now returns the function result normalised to UTC.
func (f ClockFunc) Now() time.Time {
	return f().UTC()
}

// SystemClock reads the wall clock.
var SystemClock Clock = ClockFunc(time.Now)

// RandomSource is the cryptographically secure byte generator behind every
// code, token, and secret the engine produces.
type RandomSource interface {
	Read(p []byte) (int, error)
}

// CryptoRandom is backed by crypto/rand.
var CryptoRandom RandomSource = rand.Reader

func readRandom(src RandomSource, n int) ([]byte, error) {
	if src == nil {
		src = CryptoRandom
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(src, buf); err != nil {
		return nil, err
	}
	return buf, nil
}
