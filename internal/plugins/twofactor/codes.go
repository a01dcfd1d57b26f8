package twofactor

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
)

// backupAlphabet omits characters that are easy to misread (0/O, 1/I/L).
const backupAlphabet = "23456789ABCDEFGHJKMNPQRSTUVWXYZ"

// generateBackupCodes returns n codes formatted XXXX-XXXX and their hashes.
func generateBackupCodes(n int) (codes, hashes []string, err error) {
	alphabetLen := big.NewInt(int64(len(backupAlphabet)))
	for i := 0; i < n; i++ {
		var b strings.Builder
		for j := 0; j < 8; j++ {
			if j == 4 {
				b.WriteByte('-')
			}
			idx, err := rand.Int(rand.Reader, alphabetLen)
			if err != nil {
				return nil, nil, fmt.Errorf("generating backup code: %w", err)
			}
			b.WriteByte(backupAlphabet[idx.Int64()])
		}
		code := b.String()
		codes = append(codes, code)
		hashes = append(hashes, hashBackupCode(code))
	}
	return codes, hashes, nil
}

// normalizeCode strips separators and whitespace and upper-cases.
func normalizeCode(code string) string {
	r := strings.NewReplacer(" ", "", "-", "", "\t", "")
	return strings.ToUpper(r.Replace(strings.TrimSpace(code)))
}

// hashBackupCode returns the hex SHA-256 of the normalized code. Codes carry
// enough entropy that a fast hash is sufficient.
func hashBackupCode(code string) string {
	sum := sha256.Sum256([]byte(normalizeCode(code)))
	return hex.EncodeToString(sum[:])
}

// matchIndex compares candidate against every hash in constant time per
// entry and without stopping early. Returns -1 when nothing matches.
func matchIndex(hashes []string, candidate string) int {
	found := -1
	for i, h := range hashes {
		if subtle.ConstantTimeCompare([]byte(h), []byte(candidate)) == 1 && found == -1 {
			found = i
		}
	}
	return found
}

func encodeHashes(hashes []string) (string, error) {
	if hashes == nil {
		hashes = []string{}
	}
	b, err := json.Marshal(hashes)
	if err != nil {
		return "", fmt.Errorf("encoding backup codes: %w", err)
	}
	return string(b), nil
}

func decodeHashes(raw string) ([]string, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var hashes []string
	if err := json.Unmarshal([]byte(raw), &hashes); err != nil {
		return nil, fmt.Errorf("decoding backup codes: %w", err)
	}
	return hashes, nil
}
