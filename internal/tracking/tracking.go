// Package tracking generates and recovers the short visible token that links an
// inbound reply back to the outbound message that carried it.
package tracking

import (
	"crypto/rand"
	"math/big"
	"strings"
)

// Prefix is the literal marker that precedes every tracking code in a message
// body. It is the only bit-exact wire convention owned by this service.
const Prefix = "by"

// codeLen is the number of random characters after the prefix.
const codeLen = 4

// alphabet excludes glyphs that are easy to misread when a recipient types the
// code back by hand: zero/O and one/l/I.
const alphabet = "23456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"

// Generate returns a fresh tracking code: the fixed prefix plus four random
// characters from the unambiguous alphabet.
func Generate() string {
	var sb strings.Builder
	sb.WriteString(Prefix)
	max := big.NewInt(int64(len(alphabet)))
	for i := 0; i < codeLen; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			// crypto/rand only fails when the OS entropy source is broken;
			// fall back to a fixed glyph rather than panic mid-send.
			sb.WriteByte(alphabet[0])
			continue
		}
		sb.WriteByte(alphabet[n.Int64()])
	}
	return sb.String()
}

// Embed appends the code as plain visible text to the outbound body.
func Embed(body, code string) string {
	body = strings.TrimRight(body, " \t\n")
	if body == "" {
		return code
	}
	return body + "\n\n" + code
}

// Extract scans text case-insensitively for the first occurrence of the prefix
// followed by four valid-alphabet characters and returns that code. The second
// return is false when no code is present. Staleness is not checked here; the
// resolver applies its own time windows.
func Extract(text string) (string, bool) {
	for i := 0; i+len(Prefix)+codeLen <= len(text); i++ {
		if !strings.EqualFold(text[i:i+len(Prefix)], Prefix) {
			continue
		}
		candidate := text[i+len(Prefix) : i+len(Prefix)+codeLen]
		if validCode(candidate) {
			return Prefix + candidate, true
		}
	}
	return "", false
}

func validCode(candidate string) bool {
	for i := 0; i < len(candidate); i++ {
		if !strings.ContainsRune(alphabet, rune(candidate[i])) {
			return false
		}
	}
	return true
}
