package workspace

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"pagetagger/internal/config"
	"pagetagger/internal/settings"
	"pagetagger/internal/storage/fs"
)

func seedWorkspace(t *testing.T) (config.Config, settings.Settings) {
	t.Helper()
	root := t.TempDir()
	booksDir := filepath.Join(root, "books")
	for book, n := range map[string]int{"mdp.001": 4, "uc1.002": 2} {
		dir := filepath.Join(booksDir, book)
		require.NoError(t, os.MkdirAll(dir, 0o755))
		for i := 1; i <= n; i++ {
			name := filepath.Join(dir, fmt.Sprintf("%04d.txt", i))
			require.NoError(t, os.WriteFile(name, []byte("text"), 0o644))
		}
	}
	meta := filepath.Join(root, "meta.csv")
	require.NoError(t, os.WriteFile(meta, []byte("htid,title,author,date\nmdp.001,Whales,Melville,1851\n"), 0o644))

	s := settings.Defaults()
	s.BooksDir = booksDir
	s.AnnotationsCSV = filepath.Join(root, "annotations.csv")
	s.VolumeNotesCSV = filepath.Join(root, "notes.csv")
	s.MetadataCSV = meta
	return config.Config{StoreBackend: config.StoreCSV}, s
}

func TestOpenRejectsIncompleteSettings(t *testing.T) {
	_, err := Open(context.Background(), config.Config{}, settings.Defaults())
	require.True(t, errors.Is(err, ErrIncomplete))
}

func TestOpenUnknownBackend(t *testing.T) {
	cfg, s := seedWorkspace(t)
	cfg.StoreBackend = "redis"
	_, err := Open(context.Background(), cfg, s)
	require.ErrorContains(t, err, "unknown store backend")
}

func TestSummarizeAndSearch(t *testing.T) {
	ctx := context.Background()
	for _, backend := range []string{config.StoreCSV, config.StoreSQLite} {
		t.Run(backend, func(t *testing.T) {
			cfg, s := seedWorkspace(t)
			cfg.StoreBackend = backend
			ws, err := Open(ctx, cfg, s)
			require.NoError(t, err)
			defer ws.Close(ctx)

			pages, err := ws.Library.Pages("mdp.001")
			require.NoError(t, err)
			_, err = ws.Annotations.MarkUnannotated(ctx, "mdp.001", pages[:1], "Core")
			require.NoError(t, err)

			ids, err := ws.SearchBooks("")
			require.NoError(t, err)
			require.Equal(t, []string{"mdp.001", "uc1.002"}, ids)

			ids, err = ws.SearchBooks("whales")
			require.NoError(t, err)
			require.Equal(t, []string{"mdp.001"}, ids)

			ids, err = ws.SearchBooks("UC1")
			require.NoError(t, err)
			require.Equal(t, []string{"uc1.002"}, ids)

			summaries := ws.Summarize([]string{"mdp.001", "uc1.002"})
			require.Len(t, summaries, 2)
			require.Equal(t, 4, summaries[0].Pages)
			require.Equal(t, 1, summaries[0].Annotated)
			require.Equal(t, 25.0, summaries[0].Completion)
			require.True(t, summaries[0].HasMeta)
			require.Equal(t, "Whales", summaries[0].Metadata.Title)
			require.False(t, summaries[1].HasMeta)
			require.Equal(t, 0.0, summaries[1].Completion)
		})
	}
}

func TestReopenCarriesOverUnwrittenAnnotations(t *testing.T) {
	ctx := context.Background()
	cfg, s := seedWorkspace(t)
	ws, err := Open(ctx, cfg, s)
	require.NoError(t, err)

	held, err := fs.TryLockFile(s.AnnotationsCSV)
	require.NoError(t, err)
	_, err = ws.Annotations.SetState(ctx, "mdp.001", "0001.txt", "Front")
	require.Error(t, err)
	require.Equal(t, 1, ws.Annotations.Pending())

	s.PagesPerView = 7
	next, err := Reopen(ctx, cfg, ws, s)
	require.NoError(t, err)
	require.Same(t, ws.Annotations, next.Annotations)
	require.Same(t, ws.Notes, next.Notes)
	require.Equal(t, 7, next.Settings.PagesPerView)
	state, ok := next.Annotations.State("mdp.001", "0001.txt")
	require.True(t, ok)
	require.Equal(t, "Front", state)

	require.NoError(t, held.Release())
	require.NoError(t, next.Close(ctx))
	data, err := os.ReadFile(s.AnnotationsCSV)
	require.NoError(t, err)
	require.Equal(t, "ID,Page,State\nmdp.001,0001.txt,Front\n", string(data))
}

func TestReopenRefusesToDropUnwrittenAnnotations(t *testing.T) {
	ctx := context.Background()
	cfg, s := seedWorkspace(t)
	ws, err := Open(ctx, cfg, s)
	require.NoError(t, err)
	defer ws.Close(ctx)

	held, err := fs.TryLockFile(s.AnnotationsCSV)
	require.NoError(t, err)
	defer held.Release()
	_, err = ws.Annotations.SetState(ctx, "mdp.001", "0002.txt", "Back")
	require.Error(t, err)

	moved := s
	moved.AnnotationsCSV = filepath.Join(filepath.Dir(s.AnnotationsCSV), "moved.csv")
	next, err := Reopen(ctx, cfg, ws, moved)
	require.ErrorIs(t, err, ErrUnsaved)
	require.Nil(t, next)

	// prev stays open and keeps the change.
	require.Equal(t, 1, ws.Annotations.Pending())
	state, ok := ws.Annotations.State("mdp.001", "0002.txt")
	require.True(t, ok)
	require.Equal(t, "Back", state)
	_, err = os.Stat(moved.AnnotationsCSV)
	require.True(t, os.IsNotExist(err))
}
