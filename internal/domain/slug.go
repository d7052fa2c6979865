package domain

import "strings"

// maxSlugLength caps generated slugs so they stay usable as URL path segments
const maxSlugLength = 80

// Slugify derives a URL-safe slug from a product name and its external
// reference. Lowercased, runs of non-alphanumerics collapse to a single
// hyphen, leading/trailing hyphens are trimmed, length is capped.
func Slugify(name, externalReference string) string {
	base := strings.ToLower(name + " " + externalReference)

	var b strings.Builder
	b.Grow(len(base))
	lastHyphen := true // suppress a leading hyphen
	for _, r := range base {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastHyphen = false
		default:
			if !lastHyphen {
				b.WriteByte('-')
				lastHyphen = true
			}
		}
	}

	slug := strings.TrimRight(b.String(), "-")
	if len(slug) > maxSlugLength {
		slug = strings.TrimRight(slug[:maxSlugLength], "-")
	}
	return slug
}

// SafeFilenamePart sanitizes an external reference for use in derived asset
// filenames. Only alphanumerics, hyphen and underscore survive; everything
// else becomes a hyphen. Never derived from untrusted URL text.
func SafeFilenamePart(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToUpper(strings.TrimSpace(s)) {
		switch {
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('-')
		}
	}
	return strings.Trim(b.String(), "-")
}
