package protocol

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// FallbackSlug is used for game names that contain no letters or digits.
const FallbackSlug = "room"

// NormalizeGameName maps a free-text game name to its canonical room key:
// diacritics stripped, lowercased, and every run of other characters collapsed
// to a single hyphen with none leading or trailing. The mapping is total and
// idempotent.
func NormalizeGameName(name string) string {
	// transform chains keep state, so one is built per call.
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, name)
	if err != nil {
		folded = name
	}

	var b strings.Builder
	b.Grow(len(folded))
	gap := false
	for _, r := range strings.ToLower(folded) {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			gap = true
			continue
		}
		if gap && b.Len() > 0 {
			b.WriteByte('-')
		}
		gap = false
		b.WriteRune(r)
	}

	if b.Len() == 0 {
		return FallbackSlug
	}
	return b.String()
}

// CanonicalRoomKey returns the key a room of type t is stored under. Game
// names are normalized; group identifiers are used as given.
func CanonicalRoomKey(t RoomType, key string) string {
	if t == RoomGame {
		return NormalizeGameName(key)
	}
	return key
}
