// Package sanitize canonicalizes untrusted strings and numbers before they are
// stored, relayed to other participants, or rendered.
//
// The same functions run on the server (before any registry mutation) and on
// the client (before a participant's own name or chat line is echoed locally),
// so both sides always agree on the canonical form.
package sanitize

import (
	"encoding/json"
	"errors"
	"math"
	"math/rand/v2"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"
)

const (
	MinDisplayNameLength = 3
	MaxDisplayNameLength = 20
	MaxChatLength        = 500
	MaxRoomNameLength    = 50
	MaxDescriptorEntries = 16
	MaxDescriptorLength  = 64

	DefaultRoomName = "Room"
	guestPrefix     = "Guest"
)

// ErrEmptyMessage is returned by ChatText when nothing survives sanitization.
var ErrEmptyMessage = errors.New("sanitize: empty message")

var (
	scriptBlockRe = regexp.MustCompile(`(?is)<script\b[^>]*>.*?</script\s*>`)
	styleBlockRe  = regexp.MustCompile(`(?is)<style\b[^>]*>.*?</style\s*>`)
	tagRe         = regexp.MustCompile(`<[^>]*>`)
	jsSchemeRe    = regexp.MustCompile(`(?i)javascript:`)
	eventAttrRe   = regexp.MustCompile(`(?i)on\w+\s*=`)

	displayNameRe = regexp.MustCompile(`[^A-Za-z0-9 _.\-]`)
	roomNameRe    = regexp.MustCompile(`[^A-Za-z0-9 _#\-]`)

	bracketReplacer = strings.NewReplacer("<", "", ">", "")
)

// guestSuffix is swapped in tests for a deterministic fallback name.
var guestSuffix = func() int { return rand.IntN(1000) } //nolint:gosec // not security sensitive

// StripMarkup removes script/style blocks and every remaining tag. It is
// applied until a fixed point so nested fragments like "<<b>i>" cannot
// reassemble into a tag.
func StripMarkup(s string) string {
	for {
		next := scriptBlockRe.ReplaceAllString(s, "")
		next = styleBlockRe.ReplaceAllString(next, "")
		next = tagRe.ReplaceAllString(next, "")
		if next == s {
			return s
		}
		s = next
	}
}

// DisplayName returns the canonical form of a participant name. Names that
// are too short after filtering are replaced by a generated guest name.
func DisplayName(raw string) string {
	name := StripMarkup(raw)
	name = displayNameRe.ReplaceAllString(name, "")
	name = strings.TrimSpace(name)
	if len(name) < MinDisplayNameLength {
		return guestPrefix + strconv.Itoa(guestSuffix())
	}
	if len(name) > MaxDisplayNameLength {
		name = strings.TrimSpace(name[:MaxDisplayNameLength])
		if len(name) < MinDisplayNameLength {
			return guestPrefix + strconv.Itoa(guestSuffix())
		}
	}
	return name
}

// ChatText returns the canonical chat line or ErrEmptyMessage.
func ChatText(raw string) (string, error) {
	text := raw
	for {
		next := StripMarkup(text)
		next = jsSchemeRe.ReplaceAllString(next, "")
		next = eventAttrRe.ReplaceAllString(next, "")
		// Unpaired brackets are dropped too, otherwise a renderer that
		// concatenates lines could rebuild a tag.
		next = bracketReplacer.Replace(next)
		if next == text {
			break
		}
		text = next
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrEmptyMessage
	}
	return strings.TrimSpace(truncateRunes(text, MaxChatLength)), nil
}

// RoomName returns the canonical room title, "Room" when nothing is left.
func RoomName(raw string) string {
	name := StripMarkup(raw)
	name = roomNameRe.ReplaceAllString(name, "")
	name = strings.TrimSpace(name)
	if len(name) > MaxRoomNameLength {
		name = strings.TrimSpace(name[:MaxRoomNameLength])
	}
	if name == "" {
		return DefaultRoomName
	}
	return name
}

// BoundedNumber parses raw as a float and clamps it to [lo, hi]. Anything that
// does not parse (including NaN) yields def.
func BoundedNumber(raw any, lo, hi, def float64) float64 {
	var (
		v  float64
		ok = true
	)
	switch n := raw.(type) {
	case float64:
		v = n
	case float32:
		v = float64(n)
	case int:
		v = float64(n)
	case int32:
		v = float64(n)
	case int64:
		v = float64(n)
	case uint32:
		v = float64(n)
	case json.Number:
		f, err := n.Float64()
		v, ok = f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		v, ok = f, err == nil
	default:
		ok = false
	}
	if !ok || math.IsNaN(v) {
		return def
	}
	return math.Max(lo, math.Min(hi, v))
}

// DescriptorMap bounds an appearance or equipment descriptor: at most
// MaxDescriptorEntries entries, keys and values filtered like room names and
// capped at MaxDescriptorLength. Entries whose key is empty after filtering
// are dropped. A nil map stays nil.
func DescriptorMap(raw map[string]string) map[string]string {
	if raw == nil {
		return nil
	}
	out := make(map[string]string, min(len(raw), MaxDescriptorEntries))
	for k, v := range raw {
		if len(out) == MaxDescriptorEntries {
			break
		}
		key := Descriptor(k)
		if key == "" {
			continue
		}
		out[key] = Descriptor(v)
	}
	return out
}

// Descriptor bounds a single appearance, equipment or animation token.
func Descriptor(s string) string {
	s = roomNameRe.ReplaceAllString(StripMarkup(s), "")
	s = strings.TrimSpace(s)
	if len(s) > MaxDescriptorLength {
		s = s[:MaxDescriptorLength]
	}
	return s
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
