package account

import (
	"encoding/base64"
	"errors"

	"golang.org/x/crypto/argon2"
)

// Hasher turns a plaintext password into the stored form. It must be
// deterministic: the same input always yields the same output, so stored
// and presented passwords are compared by equality.
type Hasher interface {
	Encrypt(plain string) (string, error)
}

// Argon2Hasher is a Hasher using argon2id keyed by an application secret.
type Argon2Hasher struct {
	secret  []byte
	time    uint32
	memory  uint32
	threads uint8
	keyLen  uint32
}

// HasherOption tunes the argon2 parameters.
type HasherOption func(*Argon2Hasher)

// WithArgon2Params overrides time, memory (KiB) and parallelism.
func WithArgon2Params(time, memory uint32, threads uint8) HasherOption {
	return func(h *Argon2Hasher) {
		if time > 0 {
			h.time = time
		}
		if memory > 0 {
			h.memory = memory
		}
		if threads > 0 {
			h.threads = threads
		}
	}
}

// ErrShortSecret is returned for secrets under 16 bytes.
var ErrShortSecret = errors.New("account: hasher secret must be at least 16 bytes")

// NewArgon2Hasher returns a hasher keyed by secret.
func NewArgon2Hasher(secret string, opts ...HasherOption) (*Argon2Hasher, error) {
	if len(secret) < 16 {
		return nil, ErrShortSecret
	}
	h := &Argon2Hasher{
		secret:  []byte(secret),
		time:    1,
		memory:  64 * 1024,
		threads: 2,
		keyLen:  32,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// Encrypt implements Hasher.
func (h *Argon2Hasher) Encrypt(plain string) (string, error) {
	key := argon2.IDKey([]byte(plain), h.secret, h.time, h.memory, h.threads, h.keyLen)
	return base64.RawStdEncoding.EncodeToString(key), nil
}
