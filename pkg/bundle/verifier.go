package bundle

import (
	"crypto/rsa"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ransomeye/rebuild-sub001/pkg/cryptokernel"
	"github.com/ransomeye/rebuild-sub001/pkg/manifest"
)

const (
	manifestFileName  = "manifest.json"
	signatureFileName = "manifest.sig"
)

// Verified is the outcome of a successful Verify call: the sandbox
// directory holding the extracted, now-trusted contents, and the
// manifest that was checked against them.
type Verified struct {
	SandboxDir string
	Manifest   *manifest.Manifest
	ManifestID string // SHA-256 hex of the manifest's canonical bytes
}

// Verifier runs the ordered checks required before any bundle's
// contents may be trusted: extract, require manifest + signature,
// verify the signature, validate the manifest shape, then verify every
// declared file hash.
type Verifier struct {
	publicKey *rsa.PublicKey
	limits    Limits
	workDir   string
}

// NewVerifier builds a Verifier that checks signatures against publicKey
// and stages extraction under workDir (a parent directory for ephemeral
// per-bundle sandboxes — typically <storage_root>/.extracting).
func NewVerifier(publicKey *rsa.PublicKey, workDir string, limits Limits) *Verifier {
	return &Verifier{publicKey: publicKey, limits: limits, workDir: workDir}
}

// Verify extracts the archive read from path into a fresh sandbox under
// v.workDir and runs every check. On any failure the sandbox is removed
// and a *Rejected describing the first failure is returned.
func (v *Verifier) Verify(archivePath string) (*Verified, error) {
	f, err := os.Open(archivePath)
	if err != nil {
		return nil, reject(ReasonArchiveMalformed, "cannot open archive", err)
	}
	defer f.Close()

	if err := os.MkdirAll(v.workDir, 0o755); err != nil {
		return nil, fmt.Errorf("create verifier work dir: %w", err)
	}
	sandbox, err := os.MkdirTemp(v.workDir, "bundle-*")
	if err != nil {
		return nil, fmt.Errorf("create sandbox dir: %w", err)
	}

	verified, err := v.verifyInto(f, sandbox)
	if err != nil {
		_ = os.RemoveAll(sandbox)
		return nil, err
	}
	return verified, nil
}

func (v *Verifier) verifyInto(archive *os.File, sandbox string) (*Verified, error) {
	if _, err := extractSandboxed(archive, sandbox, v.limits); err != nil {
		return nil, err
	}

	manifestPath := filepath.Join(sandbox, manifestFileName)
	manifestRaw, err := os.ReadFile(manifestPath)
	if err != nil {
		return nil, reject(ReasonMissingManifest, manifestFileName+" not present in bundle", err)
	}

	sigPath := filepath.Join(sandbox, signatureFileName)
	sigRaw, err := os.ReadFile(sigPath)
	if err != nil {
		return nil, reject(ReasonMissingSignature, signatureFileName+" not present in bundle", err)
	}

	signature, err := decodeSignature(sigRaw)
	if err != nil {
		return nil, reject(ReasonSignatureInvalid, "manifest.sig is not valid base64", err)
	}

	if err := cryptokernel.Verify(v.publicKey, manifestRaw, signature); err != nil {
		return nil, reject(ReasonSignatureInvalid, "manifest signature does not verify", err)
	}

	if err := manifest.ValidateShape(manifestRaw); err != nil {
		return nil, reject(ReasonManifestInvalid, "manifest.json failed schema validation", err)
	}

	m, err := manifest.Parse(manifestRaw)
	if err != nil {
		return nil, reject(ReasonManifestInvalid, "manifest.json failed to parse", err)
	}

	for _, relPath := range m.SortedPaths() {
		expected := m.Files[relPath]
		fullPath, safeErr := safeJoin(sandbox, relPath)
		if safeErr != nil {
			return nil, safeErr
		}
		actual, err := cryptokernel.HashFile(fullPath)
		if err != nil {
			return nil, reject(ReasonHashMismatch, "listed file missing or unreadable: "+relPath, err)
		}
		if !strings.EqualFold(actual, expected) {
			return nil, reject(ReasonHashMismatch, fmt.Sprintf("file %s: expected %s got %s", relPath, expected, actual), nil)
		}
	}

	manifestID, err := m.Hash()
	if err != nil {
		return nil, fmt.Errorf("compute manifest hash: %w", err)
	}

	return &Verified{SandboxDir: sandbox, Manifest: m, ManifestID: manifestID}, nil
}

func decodeSignature(raw []byte) ([]byte, error) {
	trimmed := strings.TrimSpace(string(raw))
	decoded, err := base64.StdEncoding.DecodeString(trimmed)
	if err != nil {
		return nil, errors.New("base64 decode failed")
	}
	return decoded, nil
}
