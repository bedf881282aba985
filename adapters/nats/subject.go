package nats

import (
	"encoding/hex"

	"golang.org/x/crypto/blake2b"
)

// SubjectToken maps an arbitrary identifier to a fixed-width token that
// is always a valid NATS subject segment. Natural identifiers such as
// email addresses contain '.' and '@', which NATS treats as structure;
// hashing sidesteps any escaping rules. The original id still travels in
// the envelope and in a message header.
func SubjectToken(id string) string {
	sum := blake2b.Sum256([]byte(id))
	return hex.EncodeToString(sum[:16])
}
