package mediatypes

import (
	"path/filepath"
	"strings"
	"unicode"
)

// OutputMimeType is the content type of every encoded artifact.
const OutputMimeType = "video/mp4"

// OutputExtension is the extension of every encoded artifact.
const OutputExtension = ".mp4"

// downloadPrefix is prepended to the original file stem for downloads.
const downloadPrefix = "converted_"

// UploadExtensions maps file extensions to whether they are accepted for upload.
var UploadExtensions = map[string]bool{
	".mp4":   true,
	".mov":   true,
	".avi":   true,
	".mpeg4": true,
}

// MimeTypes maps upload extensions to their MIME types.
var MimeTypes = map[string]string{
	".mp4":   "video/mp4",
	".mov":   "video/quicktime",
	".avi":   "video/x-msvideo",
	".mpeg4": "video/mp4",
}

// SizeClassName identifies a target size budget.
type SizeClassName string

const (
	// SizeClassNormal is an inline WhatsApp video.
	SizeClassNormal SizeClassName = "normal"
	// SizeClassDocument is a video sent as a WhatsApp document.
	SizeClassDocument SizeClassName = "document"
)

// Default size budgets in MB (1 MB = 1024*1024 bytes).
const (
	DefaultNormalLimitMB   = 16
	DefaultDocumentLimitMB = 100
)

// SizeClass is a named size budget offered to the user.
type SizeClass struct {
	Name    SizeClassName `json:"name"`
	Label   string        `json:"label"`
	LimitMB float64       `json:"limitMB"`
}

// SizeClasses builds the two offered classes with the given limits.
func SizeClasses(normalMB, documentMB float64) []SizeClass {
	return []SizeClass{
		{Name: SizeClassNormal, Label: "Normal WhatsApp video", LimitMB: normalMB},
		{Name: SizeClassDocument, Label: "WhatsApp document", LimitMB: documentMB},
	}
}

// LookupSizeClass finds name (case-insensitive) in classes.
func LookupSizeClass(classes []SizeClass, name string) (SizeClass, bool) {
	want := SizeClassName(strings.ToLower(strings.TrimSpace(name)))
	for _, c := range classes {
		if c.Name == want {
			return c, true
		}
	}
	return SizeClass{}, false
}

// Extension returns the lowercased extension of filename, including the dot.
func Extension(filename string) string {
	return strings.ToLower(filepath.Ext(filename))
}

// IsUploadExtension reports whether filename has an accepted extension.
func IsUploadExtension(filename string) bool {
	return UploadExtensions[Extension(filename)]
}

// AcceptedExtensions returns the accepted extensions in a stable order.
func AcceptedExtensions() []string {
	return []string{".mp4", ".mov", ".avi", ".mpeg4"}
}

// GetMimeType returns the MIME type for a given file extension.
// Returns "application/octet-stream" if the extension is not recognized.
func GetMimeType(ext string) string {
	if mime, ok := MimeTypes[strings.ToLower(ext)]; ok {
		return mime
	}
	return "application/octet-stream"
}

// CleanFilename reduces a client-supplied name to a safe base name: directory
// parts, control characters and quotes are dropped.
func CleanFilename(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = filepath.Base(name)
	name = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) || r == '"' || r == '/' {
			return -1
		}
		return r
	}, name)
	name = strings.TrimSpace(name)
	if name == "" || name == "." || name == ".." {
		return "video"
	}
	return name
}

// DownloadName is the suggested file name for the artifact encoded from
// original: "converted_<stem>.mp4".
func DownloadName(original string) string {
	base := CleanFilename(original)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	if stem == "" {
		stem = "video"
	}
	return downloadPrefix + stem + OutputExtension
}
