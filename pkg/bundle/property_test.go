//go:build property
// +build property

package bundle_test

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/ransomeye/rebuild-sub001/pkg/bundle"
	"github.com/ransomeye/rebuild-sub001/pkg/cryptokernel"
)

// buildAndSign assembles a single-file bundle archive from name/content,
// signed by kernel, returning the archive bytes alongside the raw
// content bytes so a mutation can be applied afterward.
func buildAndSign(t *testing.T, kernel *cryptokernel.Kernel, name string, content []byte) []byte {
	t.Helper()

	hash, err := cryptokernel.HashStream(bytes.NewReader(content))
	if err != nil {
		t.Fatal(err)
	}
	manifestJSON := []byte(fmt.Sprintf(
		`{"metadata":{"name":"prop-bundle","version":"1.0.0"},"files":{"%s":"%s"}}`, name, hash,
	))
	sig, err := kernel.Sign(manifestJSON)
	if err != nil {
		t.Fatal(err)
	}
	sigB64 := []byte(base64.StdEncoding.EncodeToString(sig))

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for fname, fcontent := range map[string][]byte{name: content, "manifest.json": manifestJSON, "manifest.sig": sigB64} {
		hdr := &tar.Header{Name: fname, Mode: 0o644, Size: int64(len(fcontent))}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatal(err)
		}
		if _, err := tw.Write(fcontent); err != nil {
			t.Fatal(err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := gz.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

// TestBundleRoundTrip_AcceptsSignedRejectsTampered covers property 1: a
// bundle produced by the canonical signer verifies, and flipping any
// byte of its one content file causes rejection with hash_mismatch.
func TestBundleRoundTrip_AcceptsSignedRejectsTampered(t *testing.T) {
	dir := t.TempDir()
	k, err := cryptokernel.LoadOrGenerate(filepath.Join(dir, "k.pem"), filepath.Join(dir, "k.pub"))
	if err != nil {
		t.Fatal(err)
	}

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 40
	properties := gopter.NewProperties(parameters)

	properties.Property("well-formed bundles verify; single-byte content tamper is rejected", prop.ForAll(
		func(contentInts []int, flipIndex int) bool {
			if len(contentInts) == 0 {
				return true
			}
			content := make([]byte, len(contentInts))
			for i, v := range contentInts {
				content[i] = byte(v)
			}

			good := buildAndSign(t, k, "payload.bin", content)
			archivePath := filepath.Join(t.TempDir(), "b.tar.gz")
			if err := os.WriteFile(archivePath, good, 0o644); err != nil {
				t.Fatal(err)
			}

			v := bundle.NewVerifier(k.PublicKey(), t.TempDir(), bundle.DefaultLimits())
			if _, err := v.Verify(archivePath); err != nil {
				return false
			}

			tampered := append([]byte(nil), content...)
			idx := flipIndex % len(tampered)
			if idx < 0 {
				idx += len(tampered)
			}
			tampered[idx] ^= 0xFF

			bad := buildBundleWithMismatchedManifest(t, k, "payload.bin", content, tampered)
			badPath := filepath.Join(t.TempDir(), "bad.tar.gz")
			if err := os.WriteFile(badPath, bad, 0o644); err != nil {
				t.Fatal(err)
			}

			_, err := v.Verify(badPath)
			if err == nil {
				return false
			}
			var rej *bundle.Rejected
			return errors.As(err, &rej) && rej.Kind() == bundle.ReasonHashMismatch
		},
		gen.SliceOf(gen.IntRange(0, 255)),
		gen.IntRange(0, 1<<20),
	))

	properties.TestingRun(t)
}

// buildBundleWithMismatchedManifest signs a manifest declaring
// origContent's hash but packages tamperedContent under the same path,
// reproducing the hash_mismatch case without risking an accidental
// signature mismatch from re-signing the tampered bytes.
func buildBundleWithMismatchedManifest(t *testing.T, k *cryptokernel.Kernel, name string, origContent, tamperedContent []byte) []byte {
	t.Helper()
	hash, err := cryptokernel.HashStream(bytes.NewReader(origContent))
	if err != nil {
		t.Fatal(err)
	}
	manifestJSON := []byte(fmt.Sprintf(
		`{"metadata":{"name":"prop-bundle","version":"1.0.0"},"files":{"%s":"%s"}}`, name, hash,
	))
	sig, err := k.Sign(manifestJSON)
	if err != nil {
		t.Fatal(err)
	}
	sigB64 := []byte(base64.StdEncoding.EncodeToString(sig))

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for fname, fcontent := range map[string][]byte{name: tamperedContent, "manifest.json": manifestJSON, "manifest.sig": sigB64} {
		hdr := &tar.Header{Name: fname, Mode: 0o644, Size: int64(len(fcontent))}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatal(err)
		}
		if _, err := tw.Write(fcontent); err != nil {
			t.Fatal(err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := gz.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}
