package util

import (
	"fmt"
	"net/url"
	"os"
	pathpkg "path"
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"
)

const maxFilenameRunes = 150

var unsafeFilenameChars = strings.NewReplacer(
	"<", "_", ">", "_", ":", "_", `"`, "_", "/", "_", `\`, "_",
	"|", "_", "?", "_", "*", "_", "\t", "_", "\n", "_", "\r", "_",
)

// SanitizeFilename makes name safe to use as a single path element on every platform:
// parent references and NULs are dropped, reserved characters become '_', and the
// result is capped at 150 runes with the extension kept.
func SanitizeFilename(name string) string {
	name = strings.ReplaceAll(name, "..", "")
	name = strings.ReplaceAll(name, "\x00", "")
	name = strings.TrimSpace(unsafeFilenameChars.Replace(name))
	if name == "" {
		return "download"
	}
	if utf8.RuneCountInString(name) <= maxFilenameRunes {
		return name
	}
	ext := filepath.Ext(name)
	if utf8.RuneCountInString(ext) > 16 {
		ext = ""
	}
	base := []rune(strings.TrimSuffix(name, ext))
	return string(base[:maxFilenameRunes-utf8.RuneCountInString(ext)]) + ext
}

// URLPathBase extracts the last element of the URL path, ignoring query and fragment.
// If parsing fails or the path is empty, it falls back to "download".
func URLPathBase(u string) string {
	s := strings.TrimSpace(u)
	if s == "" {
		return "download"
	}
	if pu, err := url.Parse(s); err == nil && pu != nil {
		b := pathpkg.Base(pu.Path)
		if b != "" && b != "/" && b != "." {
			return b
		}
		return "download"
	}
	if i := strings.IndexAny(s, "?#"); i >= 0 {
		s = s[:i]
	}
	b := filepath.Base(s)
	if b == "" || b == "/" || b == "." {
		return "download"
	}
	return b
}

var imageTransform = regexp.MustCompile(`/(width|height|fit|quality|format)=\w+`)

// CleanImageURL removes the resize and format segments Civitai's image CDN puts in the
// path, so the URL points at the original upload.
func CleanImageURL(u string) string {
	return imageTransform.ReplaceAllString(u, "")
}

// UniquePath returns a path inside dir for base that does not exist yet, adding
// " (2)", " (3)", ... before the extension when needed.
func UniquePath(dir, base string) (string, error) {
	base = SanitizeFilename(base)
	ext := filepath.Ext(base)
	name := strings.TrimSuffix(base, ext)
	path := filepath.Join(dir, base)
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return path, nil
		}
		return "", err
	}
	for i := 2; ; i++ {
		cand := filepath.Join(dir, fmt.Sprintf("%s (%d)%s", name, i, ext))
		if _, err := os.Stat(cand); os.IsNotExist(err) {
			return cand, nil
		}
	}
}

// RelativeTo returns path relative to root with forward slashes, or the base name when
// path is not under root.
func RelativeTo(root, path string) string {
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return filepath.Base(path)
	}
	return filepath.ToSlash(rel)
}
