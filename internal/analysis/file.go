package analysis

import (
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"path/filepath"
	"strings"
)

// MediaType returns the file's media type without parameters, falling back
// to the extension when the client did not send one.
func (f File) MediaType() string {
	ct := f.ContentType
	if ct == "" || ct == "application/octet-stream" {
		if byExt := mime.TypeByExtension(strings.ToLower(filepath.Ext(f.Name))); byExt != "" {
			ct = byExt
		}
	}
	if mt, _, err := mime.ParseMediaType(ct); err == nil {
		return mt
	}
	return strings.ToLower(strings.TrimSpace(ct))
}

// HasExtension reports whether the file name ends with one of exts.
func (f File) HasExtension(exts ...string) bool {
	ext := strings.ToLower(filepath.Ext(f.Name))
	for _, e := range exts {
		if ext == e {
			return true
		}
	}
	return false
}

// IsImage accepts any image/* upload.
func IsImage(f File) bool {
	return strings.HasPrefix(f.MediaType(), "image/")
}

// IsCSV accepts call-log exports.
func IsCSV(f File) bool {
	if f.HasExtension(".csv") {
		return true
	}
	switch f.MediaType() {
	case "text/csv", "application/csv":
		return true
	}
	return false
}

// IsDocument accepts images, PDF and Word documents.
func IsDocument(f File) bool {
	if IsImage(f) || f.HasExtension(".pdf", ".doc", ".docx") {
		return true
	}
	switch f.MediaType() {
	case "application/pdf", "application/msword",
		"application/vnd.openxmlformats-officedocument.wordprocessingml.document":
		return true
	}
	return false
}

// Any accepts every upload.
func Any(File) bool { return true }

// FromHeader reads an uploaded multipart file into memory.
func FromHeader(fh *multipart.FileHeader) (File, error) {
	src, err := fh.Open()
	if err != nil {
		return File{}, fmt.Errorf("open %s: %w", fh.Filename, err)
	}
	defer src.Close()
	data, err := io.ReadAll(src)
	if err != nil {
		return File{}, fmt.Errorf("read %s: %w", fh.Filename, err)
	}
	return File{Name: fh.Filename, ContentType: fh.Header.Get("Content-Type"), Data: data}, nil
}

// FromHeaders reads every header in order.
func FromHeaders(headers []*multipart.FileHeader) ([]File, error) {
	files := make([]File, 0, len(headers))
	for _, fh := range headers {
		f, err := FromHeader(fh)
		if err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	return files, nil
}
