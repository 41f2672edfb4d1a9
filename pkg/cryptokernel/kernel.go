// Package cryptokernel implements the Crypto Kernel: RSA-PSS sign/verify,
// SHA-256 file/stream hashing, and file-backed RSA-4096 key management.
// Every other core (Bundle Verifier, Audit Ledger, Run Attestation)
// signs and verifies through this package rather than calling crypto/rsa
// directly.
package cryptokernel

import (
	"bufio"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

const keyBits = 4096

var pssOptions = &rsa.PSSOptions{
	SaltLength: rsa.PSSSaltLengthAuto,
	Hash:       crypto.SHA256,
}

// Signer signs bytes with a private key held in memory or on disk.
type Signer interface {
	Sign(data []byte) ([]byte, error)
	PublicKey() *rsa.PublicKey
}

// Verifier verifies a signature against a public key.
type Verifier interface {
	Verify(pub *rsa.PublicKey, data, signature []byte) error
}

// Kernel is the concrete Signer+Verifier+Hasher backed by one RSA-4096
// key pair, loaded from (or generated into) PEM files on disk.
type Kernel struct {
	priv *rsa.PrivateKey
	pub  *rsa.PublicKey
}

// LoadOrGenerate loads the PEM key pair at privPath/pubPath, generating a
// fresh RSA-4096 PKCS#8 pair on first use if privPath does not exist.
// The private key file is written with mode 0600, the public key with
// 0644, and the containing directory is created with mode 0700 if
// missing.
func LoadOrGenerate(privPath, pubPath string) (*Kernel, error) {
	if _, err := os.Stat(privPath); os.IsNotExist(err) {
		return generate(privPath, pubPath)
	} else if err != nil {
		return nil, newFailure(ReasonKeyMissing, "stat private key", err)
	}
	return load(privPath, pubPath)
}

func generate(privPath, pubPath string) (*Kernel, error) {
	if err := os.MkdirAll(filepath.Dir(privPath), 0o700); err != nil {
		return nil, newFailure(ReasonKeyMissing, "create key directory", err)
	}

	priv, err := rsa.GenerateKey(rand.Reader, keyBits)
	if err != nil {
		return nil, newFailure(ReasonKeyMalformed, "generate rsa key", err)
	}

	privDER, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return nil, newFailure(ReasonKeyMalformed, "marshal pkcs8 private key", err)
	}
	privPEM := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: privDER})
	if err := os.WriteFile(privPath, privPEM, 0o600); err != nil {
		return nil, newFailure(ReasonKeyMissing, "write private key", err)
	}

	pubDER, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		return nil, newFailure(ReasonKeyMalformed, "marshal pkix public key", err)
	}
	pubPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})
	if pubPath != "" {
		if err := os.WriteFile(pubPath, pubPEM, 0o644); err != nil {
			return nil, newFailure(ReasonKeyMissing, "write public key", err)
		}
	}

	return &Kernel{priv: priv, pub: &priv.PublicKey}, nil
}

func load(privPath, pubPath string) (*Kernel, error) {
	privPEM, err := os.ReadFile(privPath)
	if err != nil {
		return nil, newFailure(ReasonKeyMissing, "read private key", err)
	}
	block, _ := pem.Decode(privPEM)
	if block == nil {
		return nil, newFailure(ReasonKeyMalformed, "no PEM block in private key file", nil)
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, newFailure(ReasonKeyMalformed, "parse pkcs8 private key", err)
	}
	priv, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, newFailure(ReasonKeyMalformed, "private key is not RSA", nil)
	}

	k := &Kernel{priv: priv, pub: &priv.PublicKey}
	_ = pubPath // the public half is derivable from priv; pubPath is kept only for symmetry with generate()
	return k, nil
}

// PublicKey returns the kernel's RSA public key.
func (k *Kernel) PublicKey() *rsa.PublicKey { return k.pub }

// Sign signs data with RSA-PSS (MGF1-SHA256, max salt length for the key
// size, SHA-256 digest).
func (k *Kernel) Sign(data []byte) ([]byte, error) {
	digest := sha256.Sum256(data)
	sig, err := rsa.SignPSS(rand.Reader, k.priv, crypto.SHA256, digest[:], pssOptions)
	if err != nil {
		return nil, newFailure(ReasonKeyMalformed, "rsa-pss sign", err)
	}
	return sig, nil
}

// Verify verifies an RSA-PSS signature over data against pub.
func (k *Kernel) Verify(pub *rsa.PublicKey, data, signature []byte) error {
	return Verify(pub, data, signature)
}

// Verify verifies an RSA-PSS signature over data against pub. It is a
// package-level function, not a Kernel method, because verification only
// ever needs a public key — callers that never hold a private key (a
// bundle verifier distributed without signing capability) shouldn't need
// to construct a Kernel at all.
func Verify(pub *rsa.PublicKey, data, signature []byte) error {
	digest := sha256.Sum256(data)
	if err := rsa.VerifyPSS(pub, crypto.SHA256, digest[:], signature, pssOptions); err != nil {
		return newFailure(ReasonSignatureInvalid, "rsa-pss verify", err)
	}
	return nil
}

// HashFile computes the lowercase hex SHA-256 digest of the file at path,
// reading in fixed-size chunks so arbitrarily large bundle members never
// load entirely into memory.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", newFailure(ReasonHashMismatch, "open file for hashing", err)
	}
	defer f.Close()
	return HashStream(bufio.NewReaderSize(f, 64*1024))
}

// HashStream computes the lowercase hex SHA-256 digest of everything read
// from r.
func HashStream(r io.Reader) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", newFailure(ReasonHashMismatch, "hash stream", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// ParsePublicKeyPEM decodes a PKIX public key PEM block, used by verifiers
// operating against a detached public key (e.g. a bundle's signer identity
// separate from the local signing kernel).
func ParsePublicKeyPEM(pemBytes []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, newFailure(ReasonKeyMalformed, "no PEM block in public key", nil)
	}
	key, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, newFailure(ReasonKeyMalformed, "parse pkix public key", err)
	}
	pub, ok := key.(*rsa.PublicKey)
	if !ok {
		return nil, newFailure(ReasonKeyMalformed, "public key is not RSA", nil)
	}
	return pub, nil
}

// EncodePublicKeyPEM encodes pub as a PKIX public key PEM block, the wire
// format the bundle verifier and ledger readers exchange alongside a
// signature when they don't already hold the kernel that produced it.
func EncodePublicKeyPEM(pub *rsa.PublicKey) ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, newFailure(ReasonKeyMalformed, "marshal pkix public key", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), nil
}

var _ Signer = (*Kernel)(nil)
var _ Verifier = (*Kernel)(nil)

// fmtErr builds a plain error instead of a typed CryptoFailure. Nothing
// in this package calls it at present.
func fmtErr(format string, args ...interface{}) error { return fmt.Errorf(format, args...) }
