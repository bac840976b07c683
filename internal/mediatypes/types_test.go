package mediatypes

import (
	"testing"
)

func TestIsUploadExtension(t *testing.T) {
	tests := []struct {
		name     string
		filename string
		want     bool
	}{
		{"mp4", "clip.mp4", true},
		{"uppercase mov", "CLIP.MOV", true},
		{"avi", "old.avi", true},
		{"mpeg4", "camera.mpeg4", true},
		{"mkv not accepted", "film.mkv", false},
		{"image", "photo.jpg", false},
		{"no extension", "README", false},
		{"dot only", "clip.", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsUploadExtension(tt.filename); got != tt.want {
				t.Errorf("IsUploadExtension(%q) = %v, want %v", tt.filename, got, tt.want)
			}
		})
	}
}

func TestAcceptedExtensionsMatchesMap(t *testing.T) {
	exts := AcceptedExtensions()
	if len(exts) != len(UploadExtensions) {
		t.Fatalf("AcceptedExtensions() has %d entries, map has %d", len(exts), len(UploadExtensions))
	}
	for _, ext := range exts {
		if !UploadExtensions[ext] {
			t.Errorf("%s listed but not accepted", ext)
		}
		if _, ok := MimeTypes[ext]; !ok {
			t.Errorf("%s has no MIME type", ext)
		}
	}
}

func TestGetMimeType(t *testing.T) {
	tests := []struct {
		ext  string
		want string
	}{
		{".mp4", "video/mp4"},
		{".MOV", "video/quicktime"},
		{".avi", "video/x-msvideo"},
		{".xyz", "application/octet-stream"},
		{"", "application/octet-stream"},
	}

	for _, tt := range tests {
		t.Run(tt.ext, func(t *testing.T) {
			if got := GetMimeType(tt.ext); got != tt.want {
				t.Errorf("GetMimeType(%q) = %q, want %q", tt.ext, got, tt.want)
			}
		})
	}
}

func TestLookupSizeClass(t *testing.T) {
	classes := SizeClasses(DefaultNormalLimitMB, DefaultDocumentLimitMB)

	tests := []struct {
		name   string
		want   SizeClassName
		limit  float64
		wantOK bool
	}{
		{"normal", SizeClassNormal, 16, true},
		{"Document", SizeClassDocument, 100, true},
		{" normal ", SizeClassNormal, 16, true},
		{"huge", "", 0, false},
		{"", "", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := LookupSizeClass(classes, tt.name)
			if ok != tt.wantOK {
				t.Fatalf("LookupSizeClass(%q) ok = %v, want %v", tt.name, ok, tt.wantOK)
			}
			if got.Name != tt.want || got.LimitMB != tt.limit {
				t.Errorf("LookupSizeClass(%q) = %+v", tt.name, got)
			}
		})
	}
}

func TestCleanFilename(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"holiday.mov", "holiday.mov"},
		{"../../etc/passwd", "passwd"},
		{`C:\Users\me\clip.mp4`, "clip.mp4"},
		{"bad\"name\n.mp4", "badname.mp4"},
		{"", "video"},
		{"..", "video"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := CleanFilename(tt.in); got != tt.want {
				t.Errorf("CleanFilename(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestDownloadName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"holiday.mov", "converted_holiday.mp4"},
		{"clip.mp4", "converted_clip.mp4"},
		{"my.trip.avi", "converted_my.trip.mp4"},
		{"/tmp/upload/x.MPEG4", "converted_x.mp4"},
		{".mp4", "converted_video.mp4"},
		{"", "converted_video.mp4"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := DownloadName(tt.in); got != tt.want {
				t.Errorf("DownloadName(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
