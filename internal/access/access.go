// Package access implements the password gate for private objects.
package access

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"

	"golang.org/x/crypto/argon2"
)

// argon2id parameters. Changing them invalidates stored hashes.
const (
	saltLen = 16
	keyLen  = 32
	passes  = 1
	memory  = 64 * 1024
	threads = 4
)

// ErrEmptyPassword is returned when hashing an empty password.
var ErrEmptyPassword = errors.New("password is empty")

// Hash derives a salted hash for password. Both values are hex encoded.
func Hash(password string) (salt, hash string, err error) {
	if password == "" {
		return "", "", ErrEmptyPassword
	}
	s := make([]byte, saltLen)
	if _, err := rand.Read(s); err != nil {
		return "", "", err
	}
	return hex.EncodeToString(s), derive(password, s), nil
}

// Verify reports whether password matches the stored salt and hash. An
// empty password or a malformed salt never matches.
func Verify(password, salt, hash string) bool {
	if password == "" || hash == "" {
		return false
	}
	s, err := hex.DecodeString(salt)
	if err != nil {
		return false
	}
	got := derive(password, s)
	return subtle.ConstantTimeCompare([]byte(got), []byte(hash)) == 1
}

func derive(password string, salt []byte) string {
	return hex.EncodeToString(argon2.IDKey([]byte(password), salt, passes, memory, threads, keyLen))
}
