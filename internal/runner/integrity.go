package runner

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/zeebo/blake3"
)

// HashFile computes the hex BLAKE3 digest of a file.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	h := blake3.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// VerifyScript checks path against an expected hex BLAKE3 digest.
func VerifyScript(path, expected string) error {
	actual, err := HashFile(path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrScriptIntegrity, err)
	}
	if !strings.EqualFold(actual, strings.TrimSpace(expected)) {
		return fmt.Errorf("%w: %s expected %s, got %s", ErrScriptIntegrity, path, expected, actual)
	}
	return nil
}
