package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coalesce/pkg/types"
)

func TestExportImportRoundTrip(t *testing.T) {
	src, srcTr := newCapturedEngine(t, "node-a", "alice")

	f1, err := src.CreateFile("readme.md", []byte("# hello"), "text/markdown", types.FilePermissions{}, "/docs")
	require.NoError(t, err)
	src.HandleAction(srcTr.last())
	f2, err := src.CreateFile("open.txt", []byte("shared"), "text/plain", publicPerms(), "/pub")
	require.NoError(t, err)
	src.HandleAction(srcTr.last())

	require.NoError(t, src.DeleteFile(f1.ID, true)) // soft-deleted files travel too
	src.HandleAction(srcTr.last())

	// Session-local state is stripped on export.
	_, err = src.AcquireLock(f2.ID, types.LockEdit, time.Minute)
	require.NoError(t, err)
	src.HandleAction(srcTr.last())
	require.NoError(t, src.UpdatePresence(f2.ID, "Alice", types.PresenceViewing))
	src.HandleAction(srcTr.last())

	data, err := src.Export()
	require.NoError(t, err)

	dst, dstTr := newCapturedEngine(t, "node-b", "alice")
	n, err := dst.Import(data)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	for _, a := range dstTr.published {
		dst.HandleAction(a)
	}

	files := dst.Files()
	require.Len(t, files, 2)

	byPath := map[string]*types.SyncedFile{}
	for _, f := range files {
		byPath[f.Path] = f
	}

	readme := byPath["/docs/readme.md"]
	require.NotNil(t, readme)
	assert.Equal(t, []byte("# hello"), readme.Content)
	assert.Equal(t, "text/markdown", readme.Metadata.MimeType)
	assert.Equal(t, types.UserID("alice"), readme.Permissions.Owner)
	assert.True(t, readme.Metadata.HasTag(types.TagDeleted))

	open := byPath["/pub/open.txt"]
	require.NotNil(t, open)
	assert.Equal(t, []byte("shared"), open.Content)
	assert.True(t, open.Permissions.Public)
	assert.Equal(t, types.AccessWrite, open.Permissions.PublicAccess)
	assert.Empty(t, open.Locks, "locks do not travel through export")
	assert.Empty(t, open.Presence, "presence does not travel through export")
}

func TestExportStripsSessionState(t *testing.T) {
	e, tr := newCapturedEngine(t, "node-a", "alice")
	f, err := e.CreateFile("doc", []byte("v1"), "text/plain", types.FilePermissions{}, "")
	require.NoError(t, err)
	e.HandleAction(tr.last())
	_, err = e.AcquireLock(f.ID, types.LockEdit, time.Minute)
	require.NoError(t, err)
	e.HandleAction(tr.last())

	data, err := e.Export()
	require.NoError(t, err)
	assert.NotContains(t, string(data), `"locks"`)
	assert.NotContains(t, string(data), `"presence"`)
	assert.Contains(t, string(data), `"userId": "alice"`)
}

func TestImportRejectsGarbage(t *testing.T) {
	e, _ := newCapturedEngine(t, "node-a", "alice")
	_, err := e.Import([]byte("not json"))
	assert.Error(t, err)
}
