package session

import (
	"github.com/SakshamManav/File-Synchronization/backend/internal/mirror"
	"github.com/SakshamManav/File-Synchronization/backend/internal/model/session"
)

// listedUploads turns a directory listing into upload records. A file found
// only on disk uses its stored name as the original name.
func listedUploads(entries []mirror.Entry) []session.Upload {
	uploads := make([]session.Upload, 0, len(entries))
	for _, e := range entries {
		uploads = append(uploads, session.Upload{
			Filename:     e.Name,
			OriginalName: e.Name,
			Size:         e.Size,
			UploadedAt:   e.ModTime.UTC(),
		})
	}
	return uploads
}
