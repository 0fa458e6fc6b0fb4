package storage

import (
	"errors"
	"net/http"
	"strings"
)

var ErrUnsupportedContent = errors.New("unsupported media type")

// NormalizeContentType trusts the declared type when it is a known media type and
// sniffs the bytes otherwise.
func NormalizeContentType(declared string, data []byte) (string, error) {
	ct := stripParams(declared)
	if _, ok := extensions[ct]; !ok && len(data) > 0 {
		ct = stripParams(http.DetectContentType(data))
	}
	switch ct {
	case "image/jpg":
		return "image/jpeg", nil
	case "image/jpeg", "image/png", "image/webp", "image/gif", "video/mp4", "video/webm":
		return ct, nil
	}
	return "", ErrUnsupportedContent
}

var extensions = map[string]string{
	"image/jpeg": "jpg",
	"image/jpg":  "jpg",
	"image/png":  "png",
	"image/webp": "webp",
	"image/gif":  "gif",
	"video/mp4":  "mp4",
	"video/webm": "webm",
}

// ExtensionFor maps a content type to a file extension without the dot.
func ExtensionFor(contentType string) string {
	if ext, ok := extensions[stripParams(contentType)]; ok {
		return ext
	}
	return "bin"
}

// ContentTypeFor is the inverse of ExtensionFor for the formats providers return.
func ContentTypeFor(format string) string {
	switch strings.ToLower(strings.TrimPrefix(format, ".")) {
	case "jpg", "jpeg":
		return "image/jpeg"
	case "png":
		return "image/png"
	case "webp":
		return "image/webp"
	case "gif":
		return "image/gif"
	case "mp4":
		return "video/mp4"
	case "webm":
		return "video/webm"
	}
	return ""
}

func stripParams(ct string) string {
	ct = strings.ToLower(strings.TrimSpace(ct))
	if idx := strings.Index(ct, ";"); idx >= 0 {
		ct = strings.TrimSpace(ct[:idx])
	}
	return ct
}
