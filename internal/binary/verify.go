package binary

import (
	"bufio"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"github.com/ProtonMail/go-crypto/openpgp" //nolint:staticcheck // Using ProtonMail's maintained fork
)

// Verifier checks downloaded archives against published digests and
// signatures.
type Verifier struct {
	keyringPath string
}

// NewVerifier creates a verifier. keyringPath may be empty when no
// signature checks are configured.
func NewVerifier(keyringPath string) *Verifier {
	return &Verifier{keyringPath: keyringPath}
}

// VerifyChecksum compares the sha256 of archivePath against sums, which is
// either a bare digest or a sha256sum listing naming archiveName.
func (v *Verifier) VerifyChecksum(archivePath, archiveName, sums string) error {
	expected, err := findChecksum(sums, archiveName)
	if err != nil {
		return err
	}

	actual, err := calculateSHA256(archivePath)
	if err != nil {
		return fmt.Errorf("calculate checksum: %w", err)
	}

	if !strings.EqualFold(actual, expected) {
		return fmt.Errorf("%w: expected %s, got %s", ErrChecksumMismatch, expected, actual)
	}
	return nil
}

// VerifySignature checks a detached OpenPGP signature, armored or binary,
// over archivePath.
func (v *Verifier) VerifySignature(archivePath string, signature []byte) error {
	keyring, err := v.loadKeyring()
	if err != nil {
		return err
	}

	archiveFile, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer archiveFile.Close()

	_, err = openpgp.CheckArmoredDetachedSignature(keyring, archiveFile, bytes.NewReader(signature), nil)
	if err != nil {
		// Try non-armored signature
		if _, serr := archiveFile.Seek(0, io.SeekStart); serr != nil {
			return fmt.Errorf("rewind archive: %w", serr)
		}
		_, err = openpgp.CheckDetachedSignature(keyring, archiveFile, bytes.NewReader(signature), nil)
	}
	if err != nil {
		return fmt.Errorf("verify signature: %w", err)
	}
	return nil
}

// loadKeyring loads the configured keyring, armored or binary.
func (v *Verifier) loadKeyring() (openpgp.EntityList, error) {
	if v.keyringPath == "" {
		return nil, errors.New("signature verification needs a keyring")
	}

	data, err := os.ReadFile(v.keyringPath)
	if err != nil {
		return nil, fmt.Errorf("open keyring: %w", err)
	}

	keyring, err := openpgp.ReadArmoredKeyRing(bytes.NewReader(data))
	if err != nil {
		keyring, err = openpgp.ReadKeyRing(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("read keyring: %w", err)
		}
	}

	if len(keyring) == 0 {
		return nil, fmt.Errorf("keyring is empty")
	}
	return keyring, nil
}

// calculateSHA256 calculates the SHA256 checksum of a file
func calculateSHA256(filePath string) (string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return "", err
	}
	defer file.Close()

	hasher := sha256.New()
	if _, err := io.Copy(hasher, file); err != nil {
		return "", err
	}

	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// findChecksum extracts the digest for filename from a sums document.
// Format: "abc123def456  filename.tar.gz", "abc123 *filename" or just "abc123".
func findChecksum(sums, filename string) (string, error) {
	trimmed := strings.TrimSpace(sums)
	if trimmed == "" {
		return "", errors.New("checksum file is empty")
	}
	if fields := strings.Fields(trimmed); len(fields) == 1 {
		if !isHexDigest(fields[0]) {
			return "", fmt.Errorf("malformed checksum %q", fields[0])
		}
		return fields[0], nil
	}

	scanner := bufio.NewScanner(strings.NewReader(trimmed))
	for scanner.Scan() {
		parts := strings.Fields(scanner.Text())
		if len(parts) < 2 {
			continue
		}

		name := strings.TrimPrefix(parts[1], "*")
		if name == filename || path.Base(name) == filename {
			if !isHexDigest(parts[0]) {
				return "", fmt.Errorf("malformed checksum for %s", filename)
			}
			return parts[0], nil
		}
	}

	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("scan checksum file: %w", err)
	}

	return "", fmt.Errorf("checksum not found for %s", filename)
}

func isHexDigest(s string) bool {
	if len(s) != sha256.Size*2 {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}
