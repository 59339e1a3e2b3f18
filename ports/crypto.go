package ports

import "crypto/ed25519"

// SignatureVerifier parses client keys and checks signatures over nonces.
type SignatureVerifier interface {
	// ParsePublicKey fails with core.ErrInvalidKeyFormat for anything but
	// an SPKI/DER encoded Ed25519 key.
	ParsePublicKey(der []byte) (ed25519.PublicKey, error)
	Verify(publicKey ed25519.PublicKey, message, signature []byte) bool
}
