package domain

import (
	"crypto/md5"
	"encoding/hex"
	"strconv"
	"time"
)

const FingerprintAlgorithm = "md5"

// Fingerprint is the hex md5 digest of seed.
func Fingerprint(seed string) string {
	sum := md5.Sum([]byte(seed))
	return hex.EncodeToString(sum[:])
}

// FingerprintSeed joins a pairing locator with a creation instant in fractional unix seconds.
func FingerprintSeed(locator string, at time.Time) string {
	secs := float64(at.Unix()) + float64(at.Nanosecond())/float64(time.Second)
	return locator + "." + strconv.FormatFloat(secs, 'f', -1, 64)
}
