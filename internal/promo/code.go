// Package promo implements the discount code lifecycle: checksum-verifiable
// code generation, validation against expiry and reuse rules, and single-use
// redemption.
package promo

import (
	"fmt"
	"math/rand/v2"
	"regexp"
	"strings"
)

const (
	// codePrefix is the fixed literal prefix of every code.
	codePrefix = "DISC"

	// codeAlphabet excludes visually ambiguous characters (0/O, 1/I) so codes
	// survive being read aloud or retyped from a phone screen. 32 characters,
	// which keeps the checksum a single mod-32 index.
	codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

	segmentLen = 4
)

var codePattern = regexp.MustCompile(
	fmt.Sprintf(`^%s-[%s]{4}-[%s]{5}$`, codePrefix, codeAlphabet, codeAlphabet),
)

// GenerateCode produces a random code of the form DISC-XXXX-XXXXC where C is
// a checksum character over the two random segments. Codes are identifiers,
// not secrets: uniqueness is enforced by the database, and the checksum only
// catches transcription errors before a storage lookup.
func GenerateCode() string {
	seg1 := randomSegment()
	seg2 := randomSegment()
	check := checksumChar(seg1 + seg2)
	return fmt.Sprintf("%s-%s-%s%c", codePrefix, seg1, seg2, check)
}

// ValidateCodeFormat reports whether a candidate string matches the code
// pattern and carries a correct checksum. Pure function, no storage access.
func ValidateCodeFormat(code string) bool {
	if !codePattern.MatchString(code) {
		return false
	}

	parts := strings.Split(code, "-")
	seg1 := parts[1]
	seg2 := parts[2][:segmentLen]
	check := parts[2][segmentLen]

	return checksumChar(seg1+seg2) == check
}

// NormalizeCode uppercases and trims a candidate code so lookups are
// insensitive to how the user typed it.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func randomSegment() string {
	b := make([]byte, segmentLen)
	for i := range b {
		b[i] = codeAlphabet[rand.IntN(len(codeAlphabet))]
	}
	return string(b)
}

// checksumChar computes the weighted character-code sum of s and maps it into
// the alphabet. Position-weighted so transpositions change the result.
func checksumChar(s string) byte {
	sum := 0
	for i := 0; i < len(s); i++ {
		sum += int(s[i]) * (i + 1)
	}
	return codeAlphabet[sum%len(codeAlphabet)]
}
