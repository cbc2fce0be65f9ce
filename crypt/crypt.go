// Package crypt implements the sector-keyed confidentiality layer every
// logical block passes through before it touches the device: AES-256-ECB,
// then a seeded Fisher-Yates byte shuffle, then a seeded XOR stream.
package crypt

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"math/big"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/sha3"

	"github.com/nottruefalse/sfse/crypt/internal/mt19937"
	"github.com/nottruefalse/sfse/ferrors"
)

const (
	pinDigestSize   = 16
	argon2TimeCost  = 2
	argon2MemoryKiB = 1024 // 1 MiB, per spec
	argon2Threads   = 2
	argon2KeyLen    = 32
)

// SectorCrypt is a stateless, deterministic per-block transform keyed by a
// password and a PIN. Every method is safe to call concurrently once
// constructed: all state needed per call is derived fresh from the block
// index.
type SectorCrypt struct {
	key      [argon2KeyLen]byte
	pinBytes [pinDigestSize]byte
	block    cipher.Block
}

// New derives the AES-256 key from password and pin following §4.2 of the
// spec: SHAKE256(pin) -> Argon2id(password, salt=pin digest) -> SHA-256 of
// the PHC-encoded Argon2 string.
func New(password, pin string) (*SectorCrypt, error) {
	var pinBytes [pinDigestSize]byte
	sha3.ShakeSum256(pinBytes[:], []byte(pin))

	argonHash := argon2.IDKey([]byte(password), pinBytes[:], argon2TimeCost, argon2MemoryKiB, argon2Threads, argon2KeyLen)
	encoded := fmt.Sprintf(
		"$argon2id$v=19$m=%d,t=%d,p=%d$%s$%s",
		argon2MemoryKiB, argon2TimeCost, argon2Threads,
		base64.RawStdEncoding.EncodeToString(pinBytes[:]),
		base64.RawStdEncoding.EncodeToString(argonHash),
	)

	key := sha256.Sum256([]byte(encoded))

	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}

	return &SectorCrypt{key: key, pinBytes: pinBytes, block: block}, nil
}

// seed computes the per-block integer seed: the big-endian integer
// interpretation of K || be32(i) || pin_bytes.
func (c *SectorCrypt) seed(index uint32) *big.Int {
	buf := make([]byte, 0, len(c.key)+4+len(c.pinBytes))
	buf = append(buf, c.key[:]...)
	var idxBytes [4]byte
	binary.BigEndian.PutUint32(idxBytes[:], index)
	buf = append(buf, idxBytes[:]...)
	buf = append(buf, c.pinBytes[:]...)
	return new(big.Int).SetBytes(buf)
}

// EncryptBlock transforms plaintext into ciphertext of the same length
// (after PKCS#7 padding to a 16-byte boundary, which is a no-op for the
// engine's block-sized traffic).
func (c *SectorCrypt) EncryptBlock(index uint32, plaintext []byte) ([]byte, error) {
	data := plaintext
	if len(data)%aes.BlockSize != 0 {
		data = pkcs7Pad(data, aes.BlockSize)
	}

	encrypted := make([]byte, len(data))
	ecbEncrypt(c.block, encrypted, data)

	s := c.seed(index)
	shuffled := shuffleBytes(s, encrypted)
	noisy := noiseBytes(s, shuffled)

	if len(noisy) != len(data) {
		return nil, ferrors.ErrCryptLengthChange
	}
	return noisy, nil
}

// DecryptBlock reverses EncryptBlock using the same per-index seed.
func (c *SectorCrypt) DecryptBlock(index uint32, ciphertext []byte) ([]byte, error) {
	s := c.seed(index)
	unnoised := noiseBytes(s, ciphertext)
	unshuffled := unshuffleBytes(s, unnoised)

	plaintext := make([]byte, len(unshuffled))
	ecbDecrypt(c.block, plaintext, unshuffled)

	// The reference implementation only strips padding when the AES
	// output isn't already block-aligned, which -- since AES's block size
	// is 16 -- never actually happens. Kept for fidelity with the
	// original, not because it fires in practice.
	if len(plaintext)%aes.BlockSize != 0 {
		plaintext = pkcs7Unpad(plaintext)
	}
	return plaintext, nil
}

func shuffleBytes(seed *big.Int, data []byte) []byte {
	out := append([]byte(nil), data...)
	r := mt19937.NewFromSeed(seed)
	mt19937.Shuffle(out, r)
	return out
}

// unshuffleBytes reverses shuffleBytes. It replicates the reference
// implementation's approach of shuffling an identity index array with a
// freshly-seeded generator (the same seed, so the same sequence of swaps),
// then scattering each input byte to the position recorded in that
// permutation.
func unshuffleBytes(seed *big.Int, data []byte) []byte {
	n := len(data)
	indexes := make([]int, n)
	for i := range indexes {
		indexes[i] = i
	}
	r := mt19937.NewFromSeed(seed)
	mt19937.Shuffle(indexes, r)

	out := make([]byte, n)
	for i, k := range indexes {
		out[k] = data[i]
	}
	return out
}

// noiseBytes reseeds independently of the shuffle step (spec: "the XOR step
// separately reseeds from the same seed, not continuing the shuffle PRNG
// state") and XORs each byte with a byte drawn uniformly from [0,255]. XOR
// is its own inverse, so this same function is used for both directions.
func noiseBytes(seed *big.Int, data []byte) []byte {
	r := mt19937.NewFromSeed(seed)
	out := make([]byte, len(data))
	for i, b := range data {
		out[i] = b ^ r.RandBelow256()
	}
	return out
}
