// Package hostname cleans the device hostname before it is sent in
// option 12 or registered in DNS. Hostnames picked up from the OS carry
// garbage more often than expected: spaces, emoji, control characters,
// stale cloud-init defaults like "localhost". The pipeline strips,
// validates, and falls back to a MAC-derived name when nothing usable
// remains.
package hostname

import (
	"net"
	"regexp"
	"strings"
	"unicode"
)

// maxLabelLength is the DNS label limit (RFC 1035).
const maxLabelLength = 63

// builtinDeny matches well-known junk hostnames that must never be sent
// to the server or registered in DNS.
var builtinDeny = compileDeny([]string{
	`^localhost$`,
	`^localhost\.localdomain$`,
	`^android-[a-f0-9]{12,}$`,
	`^galaxy-[a-f0-9]+$`,
	`^iphone$`,
	`^ipad$`,
	`^host$`,
	`^dhcp$`,
	`^unknown$`,
	`^none$`,
	`^null$`,
	`^test$`,
	`^default$`,
	`^changeme$`,
	`^\*$`,
	`^_$`,
})

func compileDeny(patterns []string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		out = append(out, regexp.MustCompile("(?i)"+p))
	}
	return out
}

// Sanitise runs the cleanup pipeline on a hostname.
// Returns the cleaned hostname and whether it differs from the input.
// Inputs that clean to nothing, or that match the deny list, come back
// as Fallback(mac).
func Sanitise(name string, mac net.HardwareAddr) (string, bool) {
	original := name

	name = stripControlChars(name)
	name = stripEmoji(name)
	name = stripInvalidDNS(name)
	name = strings.ToLower(name)
	name = strings.Trim(name, ".-")
	name = collapseRepeated(name)

	if len(name) > maxLabelLength {
		name = name[:maxLabelLength]
		name = strings.TrimRight(name, ".-")
	}

	if name == "" || matchesBuiltinDeny(name) {
		return Fallback(mac), true
	}

	return name, name != original
}

// Fallback derives a hostname from the MAC address, e.g. dhcp-aabbccddeeff.
func Fallback(mac net.HardwareAddr) string {
	macStr := strings.ReplaceAll(mac.String(), ":", "")
	if macStr == "" {
		return "dhcp-unknown"
	}
	return "dhcp-" + macStr
}

func matchesBuiltinDeny(name string) bool {
	for _, re := range builtinDeny {
		if re.MatchString(name) {
			return true
		}
	}
	return false
}

// --- low-level helpers ---

// stripControlChars removes ASCII control characters and non-printable runes.
func stripControlChars(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= 32 && r != 127 {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// stripEmoji removes emoji and other symbol runes.
func stripEmoji(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if !isEmoji(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// isEmoji returns true for common emoji/symbol Unicode ranges.
func isEmoji(r rune) bool {
	if r < 128 {
		return false
	}
	return unicode.Is(unicode.So, r) || // Other_Symbol (most emoji)
		unicode.Is(unicode.Sk, r) || // Modifier_Symbol
		(r >= 0x1F600 && r <= 0x1F64F) || // Emoticons
		(r >= 0x1F300 && r <= 0x1F5FF) || // Misc Symbols and Pictographs
		(r >= 0x1F680 && r <= 0x1F6FF) || // Transport and Map Symbols
		(r >= 0x1F900 && r <= 0x1F9FF) || // Supplemental Symbols
		(r >= 0x2600 && r <= 0x26FF) || // Misc Symbols
		(r >= 0x2700 && r <= 0x27BF) || // Dingbats
		(r >= 0xFE00 && r <= 0xFE0F) || // Variation Selectors
		(r >= 0x200D && r <= 0x200D) // Zero-width joiner
}

// stripInvalidDNS removes characters not valid in DNS labels (RFC 952/1123).
// Valid: a-z, A-Z, 0-9, hyphen, dot.
func stripInvalidDNS(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, c := range []byte(s) {
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') ||
			(c >= '0' && c <= '9') || c == '-' || c == '.' {
			b.WriteByte(c)
		}
	}
	return b.String()
}

// collapseRepeated collapses consecutive dots or hyphens into single instances.
func collapseRepeated(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	var prev byte
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c == '.' || c == '-') && c == prev {
			continue
		}
		b.WriteByte(c)
		prev = c
	}
	return b.String()
}
