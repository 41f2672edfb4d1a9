package cryptokernel

import (
	"crypto/sha256"
	"io"

	"golang.org/x/crypto/hkdf"
)

// DeriveSubKey stretches rootSecret into a 32-byte purpose-scoped key using
// HKDF-SHA256, letting a deployment run one root secret (e.g. supplied by
// an external secrets manager) instead of provisioning separate PEM files
// for ledger signing vs. manifest signing. Returned bytes are suitable as
// an ed25519/AES seed for collaborating services that don't need full
// RSA-4096; the Crypto Kernel's own RSA keys are always file-backed via
// LoadOrGenerate, never derived.
func DeriveSubKey(rootSecret []byte, purpose string) ([]byte, error) {
	r := hkdf.New(sha256.New, rootSecret, nil, []byte(purpose))
	out := make([]byte, 32)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, newFailure(ReasonKeyMalformed, "hkdf derive", err)
	}
	return out, nil
}
