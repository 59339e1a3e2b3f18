package crypto

import (
	"crypto/ed25519"
	"crypto/x509"
	"fmt"

	"github.com/layer-3/rendezvous/core"
	"github.com/layer-3/rendezvous/ports"
)

// Ed25519Verifier implements the SignatureVerifier interface for Ed25519
// keys encoded as SubjectPublicKeyInfo (DER).
type Ed25519Verifier struct{}

// NewEd25519Verifier creates a new verifier
func NewEd25519Verifier() ports.SignatureVerifier {
	return Ed25519Verifier{}
}

// ParsePublicKey decodes an SPKI/DER public key and insists on Ed25519.
func (Ed25519Verifier) ParsePublicKey(der []byte) (ed25519.PublicKey, error) {
	if len(der) == 0 {
		return nil, fmt.Errorf("empty key: %w", core.ErrInvalidKeyFormat)
	}

	key, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, fmt.Errorf("parse spki: %v: %w", err, core.ErrInvalidKeyFormat)
	}

	pub, ok := key.(ed25519.PublicKey)
	if !ok {
		return nil, fmt.Errorf("unsupported key type %T: %w", key, core.ErrInvalidKeyFormat)
	}

	return pub, nil
}

// Verify reports whether signature is a valid Ed25519 signature of message.
// Structurally invalid keys or signatures read as false.
func (Ed25519Verifier) Verify(publicKey ed25519.PublicKey, message, signature []byte) bool {
	if len(publicKey) != ed25519.PublicKeySize || len(signature) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(publicKey, message, signature)
}

// MarshalPublicKey encodes an Ed25519 key as SPKI/DER, the form clients
// upload at registration.
func MarshalPublicKey(publicKey ed25519.PublicKey) ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(publicKey)
	if err != nil {
		return nil, fmt.Errorf("marshal spki: %w", err)
	}
	return der, nil
}
