package ledger_test

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"

	"github.com/ransomeye/rebuild-sub001/pkg/cryptokernel"
	"github.com/ransomeye/rebuild-sub001/pkg/ledger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newKernel(t *testing.T) *cryptokernel.Kernel {
	t.Helper()
	dir := t.TempDir()
	k, err := cryptokernel.LoadOrGenerate(filepath.Join(dir, "k.pem"), filepath.Join(dir, "k.pub"))
	require.NoError(t, err)
	return k
}

func TestAppend_ChainsSequentialEntries(t *testing.T) {
	k := newKernel(t)
	path := filepath.Join(t.TempDir(), "ledger.ndjson")
	l, err := ledger.Open(path, k)
	require.NoError(t, err)
	defer l.Close()

	e1, err := l.Append("admission", "operator", map[string]string{"artifact": "a1"})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), e1.Sequence)
	assert.Equal(t, "genesis", e1.PreviousHash)

	e2, err := l.Append("activation", "operator", map[string]string{"artifact": "a1"})
	require.NoError(t, err)
	assert.Equal(t, uint64(2), e2.Sequence)
	assert.Equal(t, e1.EntryHash, e2.PreviousHash)
	assert.Equal(t, e2.EntryHash, l.Head())
}

func TestAppend_ProducesBase64Signature(t *testing.T) {
	k := newKernel(t)
	path := filepath.Join(t.TempDir(), "ledger.ndjson")
	l, err := ledger.Open(path, k)
	require.NoError(t, err)
	defer l.Close()

	entry, err := l.Append("audit", "system", map[string]string{"k": "v"})
	require.NoError(t, err)

	_, err = base64.StdEncoding.DecodeString(entry.Signature)
	assert.NoError(t, err)
}

func TestVerifyChain_AcceptsIntactLedger(t *testing.T) {
	k := newKernel(t)
	path := filepath.Join(t.TempDir(), "ledger.ndjson")
	l, err := ledger.Open(path, k)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		_, err := l.Append("audit", "system", map[string]int{"i": i})
		require.NoError(t, err)
	}
	require.NoError(t, l.Close())

	assert.NoError(t, ledger.VerifyChain(path, k.PublicKey()))
}

func TestVerifyChain_DetectsTamperedBody(t *testing.T) {
	k := newKernel(t)
	path := filepath.Join(t.TempDir(), "ledger.ndjson")
	l, err := ledger.Open(path, k)
	require.NoError(t, err)
	_, err = l.Append("audit", "system", map[string]int{"i": 1})
	require.NoError(t, err)
	_, err = l.Append("audit", "system", map[string]int{"i": 2})
	require.NoError(t, err)
	require.NoError(t, l.Close())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	tampered := []byte(string(raw)[:len(raw)-2] + "X\n")
	require.NoError(t, os.WriteFile(path, tampered, 0o600))

	err = ledger.VerifyChain(path, k.PublicKey())
	require.Error(t, err)
}

func TestOpen_ReseedsFromExistingFile(t *testing.T) {
	k := newKernel(t)
	path := filepath.Join(t.TempDir(), "ledger.ndjson")
	l, err := ledger.Open(path, k)
	require.NoError(t, err)
	e1, err := l.Append("audit", "system", map[string]int{"i": 1})
	require.NoError(t, err)
	require.NoError(t, l.Close())

	reopened, err := ledger.Open(path, k)
	require.NoError(t, err)
	defer reopened.Close()
	assert.Equal(t, e1.EntryHash, reopened.Head())

	e2, err := reopened.Append("audit", "system", map[string]int{"i": 2})
	require.NoError(t, err)
	assert.Equal(t, uint64(2), e2.Sequence)
	assert.Equal(t, e1.EntryHash, e2.PreviousHash)
}
