// Package mediatypes holds the dependency-free vocabulary shared by the
// upload, job and HTTP layers: which container extensions are accepted, the
// size classes a user can pick from, and how the encoded artifact is named
// and typed.
//
// # Size Classes
//
//	classes := mediatypes.SizeClasses(16, 100)
//	class, ok := mediatypes.LookupSizeClass(classes, "normal")
//
// # Uploads and Downloads
//
//	if !mediatypes.IsUploadExtension(filename) {
//	    // reject
//	}
//	name := mediatypes.DownloadName("holiday.mov") // "converted_holiday.mp4"
package mediatypes
