package platform

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
)

// Encoding is one candidate transformation of the secret tried during
// session establishment.
type Encoding struct {
	Name  string
	Value string
}

func md5Hex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

func sha1Hex(s string) string {
	sum := sha1.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

func sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// Encodings builds the ordered candidate table for one establishment pass.
// The key-salted variants are only produced when a page key was found (or
// generated); ordering is fixed and deterministic.
func Encodings(secret, key string) []Encoding {
	out := []Encoding{
		{Name: "plain", Value: secret},
		{Name: "md5", Value: md5Hex(secret)},
		{Name: "sha1", Value: sha1Hex(secret)},
		{Name: "sha256", Value: sha256Hex(secret)},
	}
	if key != "" {
		out = append(out,
			Encoding{Name: "md5+key", Value: md5Hex(secret + key)},
			Encoding{Name: "key+md5", Value: md5Hex(key + secret)},
			Encoding{Name: "sha1+key", Value: sha1Hex(secret + key)},
			Encoding{Name: "sha256+key", Value: sha256Hex(secret + key)},
		)
	}
	return out
}
