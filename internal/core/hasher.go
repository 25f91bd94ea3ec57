package core

import (
	"crypto/sha256"
	"encoding/binary"
)

const GenesisHashSeed = "usdt-core:genesis:v1:"

// ChainHasher links consecutive log records:
// hash[N] = SHA-256(hash[N-1] || sequence || body).
type ChainHasher struct {
	prevHash [32]byte
}

// GenesisHash is the chain anchor for a log domain.
func GenesisHash(domain string) [32]byte {
	return sha256.Sum256([]byte(GenesisHashSeed + domain))
}

// NewChainHasher starts a chain at the domain's genesis hash.
func NewChainHasher(domain string) *ChainHasher {
	return &ChainHasher{prevHash: GenesisHash(domain)}
}

// ResumeChainHasher continues a chain whose tip is prev.
func ResumeChainHasher(prev [32]byte) *ChainHasher {
	return &ChainHasher{prevHash: prev}
}

// Compute returns the hash for the next record without advancing the tip,
// so a failed write leaves the chain untouched.
func (h *ChainHasher) Compute(sequence int64, body []byte) [32]byte {
	return ChainHash(h.prevHash, sequence, body)
}

// Advance moves the tip to hash.
func (h *ChainHasher) Advance(hash [32]byte) {
	h.prevHash = hash
}

// Tip returns the current chain tip.
func (h *ChainHasher) Tip() [32]byte {
	return h.prevHash
}

// ChainHash is the stateless form used by verifiers.
func ChainHash(prev [32]byte, sequence int64, body []byte) [32]byte {
	hasher := sha256.New()
	hasher.Write(prev[:])

	var seqBuf [8]byte
	binary.LittleEndian.PutUint64(seqBuf[:], uint64(sequence))
	hasher.Write(seqBuf[:])

	hasher.Write(body)

	var hash [32]byte
	copy(hash[:], hasher.Sum(nil))
	return hash
}
