package rasterizer

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEnumeratePagesMultiPageStartsAtZeroZero(t *testing.T) {
	dir := t.TempDir()

	writeFile := func(name string) {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("jpeg"), 0o644))
	}
	// This is the real ImageMagick multi-page output shape: no bare 0.jpg.
	writeFile("0-0.jpg")
	writeFile("0-1.jpg")
	writeFile("0-2.jpg")
	// gap at 0-3.jpg
	writeFile("0-4.jpg")

	pages := enumeratePages(dir)
	require.Len(t, pages, 3)
	require.Equal(t, filepath.Join(dir, "0-0.jpg"), pages[0])
	require.Equal(t, filepath.Join(dir, "0-1.jpg"), pages[1])
	require.Equal(t, filepath.Join(dir, "0-2.jpg"), pages[2])
}

func TestEnumeratePagesSinglePageUsesBareFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "0.jpg"), []byte("jpeg"), 0o644))

	pages := enumeratePages(dir)
	require.Equal(t, []string{filepath.Join(dir, "0.jpg")}, pages)
}

func TestEnumeratePagesEmptyDir(t *testing.T) {
	dir := t.TempDir()
	pages := enumeratePages(dir)
	require.Empty(t, pages)
}

// fakeInvoker is an Invoker test double that returns fixed pages without
// shelling out to a real rasterizer binary.
type fakeInvoker struct {
	pages []string
	err   error
}

func (f *fakeInvoker) Rasterize(_ context.Context, _, _ string) ([]string, error) {
	return f.pages, f.err
}
