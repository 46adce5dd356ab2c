package acquire

import (
	"strings"
	"unicode"
)

const (
	maxTitleChars    = 100
	maxFilenameTitle = 80
)

// NormalizeTitle repairs titles from platforms that put the caption in the description
// and leave the title empty or set to the video id.
func NormalizeTitle(title, videoID, description string) string {
	title = strings.TrimSpace(title)
	if title == "" || title == strings.TrimSpace(videoID) {
		title = strings.TrimSpace(description)
	}
	if title == "" {
		return "Untitled"
	}
	return truncateRunes(title, maxTitleChars)
}

// SmartFilename builds "<sanitized title> - <Capitalized Uploader>.<ext>".
func SmartFilename(title, uploader, ext string) string {
	if ext == "" {
		ext = "mp4"
	}
	kept := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsNumber(r) || unicode.IsSpace(r) {
			return r
		}
		return -1
	}, title)
	sanitized := truncateRunes(strings.Join(strings.Fields(kept), " "), maxFilenameTitle)

	words := strings.Fields(uploaderSpaces.Replace(uploader))
	for i, w := range words {
		words[i] = capitalize(w)
	}
	return sanitized + " - " + strings.Join(words, " ") + "." + ext
}

// uploaderSpaces turns underscores and path separators in uploader names into spaces.
var uploaderSpaces = strings.NewReplacer("_", " ", "/", " ", "\\", " ")

// capitalize upper-cases the first rune and lower-cases the rest.
func capitalize(w string) string {
	r := []rune(strings.ToLower(w))
	if len(r) == 0 {
		return w
	}
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
