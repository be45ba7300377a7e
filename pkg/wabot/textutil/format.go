// Package textutil holds the small string helpers shared by command handlers
// and plugin manifests.
package textutil

import "strings"

// Format replaces each "{}" in s with the next value from args, in order.
// Placeholders without a matching argument are replaced by the empty string.
func Format(s string, args ...string) string {
	if !strings.Contains(s, "{}") {
		return s
	}

	var b strings.Builder
	b.Grow(len(s))

	i := 0
	for {
		idx := strings.Index(s, "{}")
		if idx < 0 {
			b.WriteString(s)
			return b.String()
		}
		b.WriteString(s[:idx])
		if i < len(args) {
			b.WriteString(args[i])
		}
		i++
		s = s[idx+2:]
	}
}

// UserPart strips the domain suffix from a WhatsApp identifier,
// e.g. "905551112233@s.whatsapp.net" -> "905551112233". A device suffix
// ("905551112233:12@s.whatsapp.net") is dropped as well.
func UserPart(id string) string {
	if at := strings.IndexByte(id, '@'); at >= 0 {
		id = id[:at]
	}
	if colon := strings.IndexByte(id, ':'); colon >= 0 {
		id = id[:colon]
	}
	return id
}

// SplitList splits a comma separated list, trimming blanks and dropping
// empty items.
func SplitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
