package fingerprint

import (
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

// fontExtensions is the allowlist of file extensions that are treated as
// fonts. Everything else is filtered out before any hashing work happens.
var fontExtensions = map[string]bool{
	".ttf":   true,
	".otf":   true,
	".woff":  true,
	".woff2": true,
	".eot":   true,
	".ttc":   true,
	".pfa":   true,
	".pfb":   true,
	".afm":   true,
	".pfm":   true,
}

var mimeTypes = map[string]string{
	".ttf":   "font/ttf",
	".otf":   "font/otf",
	".woff":  "font/woff",
	".woff2": "font/woff2",
	".eot":   "application/vnd.ms-fontobject",
	".ttc":   "font/collection",
	".pfa":   "application/x-font-type1",
	".pfb":   "application/x-font-type1",
	".afm":   "application/x-font-afm",
	".pfm":   "application/x-font-pfm",
}

// IsFontFile returns whether the path has a font-typed extension. The check
// is case-insensitive.
func IsFontFile(path string) bool {
	return fontExtensions[strings.ToLower(filepath.Ext(path))]
}

// MimeType returns the MIME type for the font at the given path, falling
// back to application/octet-stream for unrecognized extensions.
func MimeType(path string) string {
	if mime, ok := mimeTypes[strings.ToLower(filepath.Ext(path))]; ok {
		return mime
	}
	return "application/octet-stream"
}

// fontMagics are the leading bytes of the font container formats we can
// cheaply recognize. Type 1 and metrics formats have no single reliable
// magic, so they're accepted on extension alone.
var fontMagics = [][4]byte{
	{0x00, 0x01, 0x00, 0x00}, // TTF
	{'O', 'T', 'T', 'O'},     // OTF
	{'w', 'O', 'F', 'F'},     // WOFF
	{'w', 'O', 'F', '2'},     // WOFF2
	{'t', 't', 'c', 'f'},     // TTC
}

// ValidFontHeader reports whether the first bytes of the file look like a
// known font container. It never returns an error: unreadable or truncated
// files are simply not valid fonts.
func ValidFontHeader(path string) bool {
	return ValidFontHeaderAs(path, path)
}

// ValidFontHeaderAs is like ValidFontHeader but takes the font's intended
// name separately, for files that haven't landed at their final name yet.
func ValidFontHeaderAs(path, name string) bool {
	if !IsFontFile(name) {
		return false
	}

	ext := strings.ToLower(filepath.Ext(name))
	switch ext {
	case ".ttf", ".otf", ".woff", ".woff2", ".ttc":
	default:
		return true
	}

	f, err := fs.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()

	var header [4]byte
	if _, err := f.Read(header[:]); err != nil {
		return false
	}

	for _, magic := range fontMagics {
		if header == magic {
			return true
		}
	}
	return false
}

// dirExists returns whether the path exists and is a directory.
func dirExists(path string) bool {
	ok, err := afero.DirExists(fs, path)
	return err == nil && ok
}
