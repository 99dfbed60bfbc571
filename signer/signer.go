package signer

import (
	"context"
	"sync"

	"github.com/centrifuge/go-substrate-rpc-client/v4/signature"
	"github.com/cockroachdb/errors"
)

// Signer signs arbitrary payloads for transaction submission.
type Signer interface {
	Sign(payload []byte) ([]byte, error)
	PublicKey() []byte
	Verify(payload, sig []byte) bool
}

// KeyringSigner signs with an sr25519 keypair derived from a secret URI.
type KeyringSigner struct {
	keyring signature.KeyringPair
}

func NewKeyringSigner(suri string, network uint16) (*KeyringSigner, error) {
	keyring, err := signature.KeyringPairFromSecret(suri, network)
	if err != nil {
		return nil, errors.Wrap(err, "failed to derive keypair from secret URI")
	}
	return &KeyringSigner{keyring: keyring}, nil
}

func (s *KeyringSigner) Keyring() signature.KeyringPair {
	return s.keyring
}

func (s *KeyringSigner) Sign(payload []byte) ([]byte, error) {
	sig, err := signature.Sign(payload, s.keyring.URI)
	if err != nil {
		return nil, errors.Wrap(err, "failed to sign payload")
	}
	return sig, nil
}

func (s *KeyringSigner) PublicKey() []byte {
	return s.keyring.PublicKey
}

func (s *KeyringSigner) Verify(payload, sig []byte) bool {
	ok, err := signature.Verify(payload, sig, s.keyring.URI)
	return err == nil && ok
}

// SubmitLock serializes transaction submissions of a single signing account
// so that account nonces are read and consumed in order.
type SubmitLock struct {
	mu sync.Mutex
}

func (l *SubmitLock) WithLock(ctx context.Context, fn func() error) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn()
}
