package binary

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/ProtonMail/go-crypto/openpgp" //nolint:staticcheck // Using ProtonMail's maintained fork
	"github.com/ProtonMail/go-crypto/openpgp/armor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func TestVerifyChecksum(t *testing.T) {
	content := []byte("test binary content")
	archive := writeArchive(t, "tool.tar.zst", content)
	digest := sha256Hex(content)
	other := sha256Hex([]byte("something else"))

	tests := []struct {
		name    string
		sums    string
		wantErr error
		fails   bool
	}{
		{name: "bare_digest", sums: digest + "\n"},
		{name: "sha256sum_listing", sums: other + "  other.tar.zst\n" + digest + "  tool.tar.zst\n"},
		{name: "binary_mode_marker", sums: digest + " *tool.tar.zst"},
		{name: "path_prefixed_name", sums: digest + "  dist/tool.tar.zst"},
		{name: "uppercase_digest", sums: hexUpper(digest)},
		{name: "mismatch", sums: other, wantErr: ErrChecksumMismatch, fails: true},
		{name: "missing_entry", sums: digest + "  different.zip", fails: true},
		{name: "empty", sums: "   ", fails: true},
		{name: "malformed", sums: "not-a-digest", fails: true},
	}

	v := NewVerifier("")
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.VerifyChecksum(archive, "tool.tar.zst", tt.sums)
			if !tt.fails {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func hexUpper(s string) string {
	return string(bytes.ToUpper([]byte(s)))
}

type signingFixture struct {
	entity      *openpgp.Entity
	keyringPath string
}

func newSigningFixture(t *testing.T, armored bool) signingFixture {
	t.Helper()

	entity, err := openpgp.NewEntity("Release Signer", "test", "release@example.com", nil)
	require.NoError(t, err)

	var buf bytes.Buffer
	if armored {
		w, err := armor.Encode(&buf, openpgp.PublicKeyType, nil)
		require.NoError(t, err)
		require.NoError(t, entity.Serialize(w))
		require.NoError(t, w.Close())
	} else {
		require.NoError(t, entity.Serialize(&buf))
	}

	path := filepath.Join(t.TempDir(), "keyring.gpg")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	return signingFixture{entity: entity, keyringPath: path}
}

func (f signingFixture) sign(t *testing.T, data []byte, armored bool) []byte {
	t.Helper()
	var sig bytes.Buffer
	if armored {
		require.NoError(t, openpgp.ArmoredDetachSign(&sig, f.entity, bytes.NewReader(data), nil))
	} else {
		require.NoError(t, openpgp.DetachSign(&sig, f.entity, bytes.NewReader(data), nil))
	}
	return sig.Bytes()
}

func TestVerifySignature(t *testing.T) {
	content := []byte("release archive bytes")
	archive := writeArchive(t, "tool.tar.gz", content)

	tests := []struct {
		name        string
		armoredKey  bool
		armoredSig  bool
		tamper      bool
		wantSuccess bool
	}{
		{name: "armored_key_armored_sig", armoredKey: true, armoredSig: true, wantSuccess: true},
		{name: "binary_key_binary_sig", wantSuccess: true},
		{name: "armored_key_binary_sig", armoredKey: true, wantSuccess: true},
		{name: "tampered_archive", armoredKey: true, armoredSig: true, tamper: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fixture := newSigningFixture(t, tt.armoredKey)
			signed := content
			if tt.tamper {
				signed = []byte("different bytes")
			}
			sig := fixture.sign(t, signed, tt.armoredSig)

			err := NewVerifier(fixture.keyringPath).VerifySignature(archive, sig)
			if tt.wantSuccess {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestVerifySignature_WrongKey(t *testing.T) {
	content := []byte("release archive bytes")
	archive := writeArchive(t, "tool.tar.gz", content)

	signer := newSigningFixture(t, true)
	stranger := newSigningFixture(t, true)

	err := NewVerifier(stranger.keyringPath).VerifySignature(archive, signer.sign(t, content, true))
	assert.Error(t, err)
}

func TestVerifySignature_KeyringProblems(t *testing.T) {
	archive := writeArchive(t, "tool.tar.gz", []byte("x"))

	err := NewVerifier("").VerifySignature(archive, []byte("sig"))
	assert.ErrorContains(t, err, "needs a keyring")

	err = NewVerifier(filepath.Join(t.TempDir(), "missing.gpg")).VerifySignature(archive, []byte("sig"))
	assert.ErrorContains(t, err, "open keyring")

	garbage := writeArchive(t, "garbage.gpg", []byte("not a keyring"))
	err = NewVerifier(garbage).VerifySignature(archive, []byte("sig"))
	assert.Error(t, err)
}
