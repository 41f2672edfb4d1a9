package bundle_test

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/ransomeye/rebuild-sub001/pkg/bundle"
	"github.com/ransomeye/rebuild-sub001/pkg/cryptokernel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fixture builds a minimal signed bundle in memory: a single file
// "model.bin" with known content, a manifest.json listing its hash, and
// a manifest.sig signed by kernel.
func fixture(t *testing.T, kernel *cryptokernel.Kernel, modelContent []byte, corruptSig bool) []byte {
	t.Helper()

	modelHash, err := cryptokernel.HashStream(bytes.NewReader(modelContent))
	require.NoError(t, err)

	manifestJSON := []byte(fmt.Sprintf(
		`{"metadata":{"name":"test-bundle","version":"1.0.0"},"files":{"model.bin":"%s"}}`,
		modelHash,
	))

	sig, err := kernel.Sign(manifestJSON)
	require.NoError(t, err)
	if corruptSig {
		sig[0] ^= 0xFF
	}
	sigB64 := []byte(base64.StdEncoding.EncodeToString(sig))

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)

	writeFile(t, tw, "model.bin", modelContent)
	writeFile(t, tw, "manifest.json", manifestJSON)
	writeFile(t, tw, "manifest.sig", sigB64)

	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
	return buf.Bytes()
}

func writeFile(t *testing.T, tw *tar.Writer, name string, content []byte) {
	t.Helper()
	hdr := &tar.Header{Name: name, Mode: 0o644, Size: int64(len(content))}
	require.NoError(t, tw.WriteHeader(hdr))
	_, err := tw.Write(content)
	require.NoError(t, err)
}

func newKernel(t *testing.T) *cryptokernel.Kernel {
	t.Helper()
	dir := t.TempDir()
	k, err := cryptokernel.LoadOrGenerate(filepath.Join(dir, "k.pem"), filepath.Join(dir, "k.pub"))
	require.NoError(t, err)
	return k
}

func writeArchive(t *testing.T, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bundle.tar.gz")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestVerify_AcceptsWellFormedBundle(t *testing.T) {
	k := newKernel(t)
	data := fixture(t, k, []byte("abc"), false)
	archive := writeArchive(t, data)

	v := bundle.NewVerifier(k.PublicKey(), t.TempDir(), bundle.DefaultLimits())
	result, err := v.Verify(archive)
	require.NoError(t, err)
	assert.DirExists(t, result.SandboxDir)
	assert.Equal(t, "test-bundle", result.Manifest.Metadata.Name)
	assert.FileExists(t, filepath.Join(result.SandboxDir, "model.bin"))
}

func TestVerify_RejectsHashMismatch(t *testing.T) {
	k := newKernel(t)
	data := fixture(t, k, []byte("abc"), false)

	// Tamper with the tar stream's model.bin content after signing by
	// rebuilding with a different payload but reusing the same manifest
	// is awkward; instead flip a byte inside the already-built archive's
	// file content region is brittle across gzip framing, so instead
	// build a bundle whose declared hash doesn't match the real content
	// by constructing the fixture with mismatched inputs directly.
	_ = data
	modelContent := []byte("abc")
	tamperedContent := []byte("abcd")

	modelHash, err := cryptokernel.HashStream(bytes.NewReader(modelContent))
	require.NoError(t, err)
	manifestJSON := []byte(fmt.Sprintf(
		`{"metadata":{"name":"t","version":"1"},"files":{"model.bin":"%s"}}`, modelHash,
	))
	sig, err := k.Sign(manifestJSON)
	require.NoError(t, err)
	sigB64 := []byte(base64.StdEncoding.EncodeToString(sig))

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	writeFile(t, tw, "model.bin", tamperedContent)
	writeFile(t, tw, "manifest.json", manifestJSON)
	writeFile(t, tw, "manifest.sig", sigB64)
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())

	archive := writeArchive(t, buf.Bytes())
	v := bundle.NewVerifier(k.PublicKey(), t.TempDir(), bundle.DefaultLimits())
	_, err = v.Verify(archive)
	require.Error(t, err)

	var rej *bundle.Rejected
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, bundle.ReasonHashMismatch, rej.Kind())
}

func TestVerify_RejectsTamperedSignature(t *testing.T) {
	k := newKernel(t)
	data := fixture(t, k, []byte("abc"), true)
	archive := writeArchive(t, data)

	v := bundle.NewVerifier(k.PublicKey(), t.TempDir(), bundle.DefaultLimits())
	_, err := v.Verify(archive)
	require.Error(t, err)

	var rej *bundle.Rejected
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, bundle.ReasonSignatureInvalid, rej.Kind())
}

func TestVerify_RejectsWrongPublicKey(t *testing.T) {
	k := newKernel(t)
	other := newKernel(t)
	data := fixture(t, k, []byte("abc"), false)
	archive := writeArchive(t, data)

	v := bundle.NewVerifier(other.PublicKey(), t.TempDir(), bundle.DefaultLimits())
	_, err := v.Verify(archive)
	require.Error(t, err)

	var rej *bundle.Rejected
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, bundle.ReasonSignatureInvalid, rej.Kind())
}

func TestVerify_RejectsMissingManifest(t *testing.T) {
	k := newKernel(t)

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	writeFile(t, tw, "model.bin", []byte("abc"))
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())

	archive := writeArchive(t, buf.Bytes())
	v := bundle.NewVerifier(k.PublicKey(), t.TempDir(), bundle.DefaultLimits())
	_, err := v.Verify(archive)
	require.Error(t, err)

	var rej *bundle.Rejected
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, bundle.ReasonMissingManifest, rej.Kind())
}

func TestVerify_RejectsPathEscape(t *testing.T) {
	k := newKernel(t)

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	hdr := &tar.Header{Name: "../../etc/passwd", Mode: 0o644, Size: 3}
	require.NoError(t, tw.WriteHeader(hdr))
	_, err := tw.Write([]byte("abc"))
	require.NoError(t, err)
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())

	archive := writeArchive(t, buf.Bytes())
	v := bundle.NewVerifier(k.PublicKey(), t.TempDir(), bundle.DefaultLimits())
	_, err = v.Verify(archive)
	require.Error(t, err)

	var rej *bundle.Rejected
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, bundle.ReasonPathEscape, rej.Kind())
}

func TestVerify_RejectsSymlinkEntry(t *testing.T) {
	k := newKernel(t)

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	hdr := &tar.Header{Name: "evil-link", Typeflag: tar.TypeSymlink, Linkname: "/etc/passwd", Mode: 0o777}
	require.NoError(t, tw.WriteHeader(hdr))
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())

	archive := writeArchive(t, buf.Bytes())
	v := bundle.NewVerifier(k.PublicKey(), t.TempDir(), bundle.DefaultLimits())
	_, err := v.Verify(archive)
	require.Error(t, err)

	var rej *bundle.Rejected
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, bundle.ReasonPathEscape, rej.Kind())
}

func TestVerify_RejectsMalformedArchive(t *testing.T) {
	k := newKernel(t)
	archive := writeArchive(t, []byte("not a gzip stream at all"))

	v := bundle.NewVerifier(k.PublicKey(), t.TempDir(), bundle.DefaultLimits())
	_, err := v.Verify(archive)
	require.Error(t, err)

	var rej *bundle.Rejected
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, bundle.ReasonArchiveMalformed, rej.Kind())
}

func TestVerify_RejectsOversizedArchive(t *testing.T) {
	k := newKernel(t)
	data := fixture(t, k, bytes.Repeat([]byte("a"), 1024), false)
	archive := writeArchive(t, data)

	tight := bundle.Limits{MaxTotalBytes: 10, MaxFileCount: 100, MaxEntryBytes: 10}
	v := bundle.NewVerifier(k.PublicKey(), t.TempDir(), tight)
	_, err := v.Verify(archive)
	require.Error(t, err)

	var rej *bundle.Rejected
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, bundle.ReasonSizeExceeded, rej.Kind())
}
