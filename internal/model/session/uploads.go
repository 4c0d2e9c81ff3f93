package session

import "time"

// MergeUploads folds a directory listing taken at listedAt into the recorded
// uploads. Recorded files that are still listed keep their metadata with the
// size refreshed. Recorded files missing from the listing are dropped unless
// they were recorded at or after listedAt, which the listing cannot reflect.
// Listed files without a record follow in listing order. The second result
// reports whether the merged list differs from recorded.
func MergeUploads(recorded, listed []Upload, listedAt time.Time) ([]Upload, bool) {
	onDisk := make(map[string]Upload, len(listed))
	for _, u := range listed {
		onDisk[u.Filename] = u
	}

	merged := make([]Upload, 0, max(len(recorded), len(listed)))
	seen := make(map[string]struct{}, len(recorded)+len(listed))
	changed := false
	for _, u := range recorded {
		if _, dup := seen[u.Filename]; dup {
			changed = true
			continue
		}
		if l, ok := onDisk[u.Filename]; ok {
			if u.Size != l.Size {
				u.Size = l.Size
				changed = true
			}
		} else if u.UploadedAt.Before(listedAt) {
			changed = true
			continue
		}
		seen[u.Filename] = struct{}{}
		merged = append(merged, u)
	}
	for _, l := range listed {
		if _, ok := seen[l.Filename]; ok {
			continue
		}
		seen[l.Filename] = struct{}{}
		merged = append(merged, l)
		changed = true
	}
	return merged, changed
}

// UpsertUpload replaces the record with the same filename, or appends u.
func UpsertUpload(uploads []Upload, u Upload) []Upload {
	for i := range uploads {
		if uploads[i].Filename == u.Filename {
			uploads[i] = u
			return uploads
		}
	}
	return append(uploads, u)
}
