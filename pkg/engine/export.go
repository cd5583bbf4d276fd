package engine

import (
	"encoding/json"
	"fmt"
	"path"
	"sort"
	"time"

	"coalesce/pkg/types"
)

// ExportBlob is the human-recoverable interchange format. Locks and
// presence are session-local and stripped.
type ExportBlob struct {
	Files      []*types.SyncedFile `json:"files"`
	ExportTime time.Time           `json:"exportTime"`
	UserID     types.UserID        `json:"userId"`
}

// Export serializes every known file for interchange.
func (e *Engine) Export() ([]byte, error) {
	files := e.Files()
	for _, f := range files {
		f.Locks = nil
		f.Presence = nil
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })

	blob := ExportBlob{
		Files:      files,
		ExportTime: e.now().UTC(),
		UserID:     e.userID,
	}
	data, err := json.MarshalIndent(blob, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("export encode failed: %w", err)
	}
	return data, nil
}

// Import replays each exported file through CreateFile, reproducing its
// content, permissions and metadata under fresh ids.
func (e *Engine) Import(data []byte) (int, error) {
	var blob ExportBlob
	if err := json.Unmarshal(data, &blob); err != nil {
		return 0, fmt.Errorf("import decode failed: %w", err)
	}

	imported := 0
	for _, f := range blob.Files {
		created, err := e.CreateFile(f.Name, f.Content, f.Metadata.MimeType, f.Permissions, path.Dir(f.Path))
		if err != nil {
			return imported, fmt.Errorf("import of %s failed: %w", f.Path, err)
		}
		if len(f.Metadata.Tags) > 0 {
			e.mu.Lock()
			if live, ok := e.files[created.ID]; ok {
				live.Metadata.Tags = append([]string(nil), f.Metadata.Tags...)
				e.persistFile(live)
			}
			e.mu.Unlock()
		}
		imported++
	}
	return imported, nil
}
