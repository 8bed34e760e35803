package scanner

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"knowledge-engine/internal/enginetypes"
	"knowledge-engine/internal/logging"
)

type fakeFolders struct {
	folders []*enginetypes.MonitoredFolder
	bundles []*enginetypes.BundleExtension
}

func (f *fakeFolders) ListFolders(_ context.Context) ([]*enginetypes.MonitoredFolder, error) {
	return f.folders, nil
}

func (f *fakeFolders) ListBundleExtensions(_ context.Context) ([]*enginetypes.BundleExtension, error) {
	return f.bundles, nil
}

func collect(t *testing.T, out <-chan Candidate, errc <-chan error) []Candidate {
	t.Helper()
	var got []Candidate
	for c := range out {
		got = append(got, c)
	}
	require.NoError(t, <-errc)
	return got
}

// TestWhitelistBlacklistInteraction matches spec.md §8 scenario 1:
// whitelist a folder, blacklist a subdirectory, and confirm everything
// under the blacklist is omitted while siblings are emitted.
func TestWhitelistBlacklistInteraction(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "readme.md"), []byte("hi"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "draft.pdf"), []byte("draft"), 0o644))

	cacheDir := filepath.Join(root, ".cache")
	require.NoError(t, os.Mkdir(cacheDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(cacheDir, "blob.bin"), []byte("x"), 0o644))

	folders := &fakeFolders{
		folders: []*enginetypes.MonitoredFolder{
			{ID: "1", Path: root, IsBlacklist: false},
			{ID: "2", Path: cacheDir, IsBlacklist: true},
		},
	}

	s := New(folders, nil, logging.NewLogger(logging.INFO))
	out, errc := s.InitialSweep(context.Background())
	got := collect(t, out, errc)

	var paths []string
	for _, c := range got {
		paths = append(paths, c.Path)
	}
	require.Contains(t, paths, filepath.Join(root, "readme.md"))
	require.Contains(t, paths, filepath.Join(root, "draft.pdf"))
	for _, p := range paths {
		require.NotContains(t, p, ".cache")
	}
}

// TestBundleDirectoryEmittedOpaque matches the "bundle-extension
// opacity" boundary: a bundle directory is surfaced as a single file
// candidate, its contents never walked.
func TestBundleDirectoryEmittedOpaque(t *testing.T) {
	root := t.TempDir()
	bundleDir := filepath.Join(root, "Project.bundle")
	require.NoError(t, os.Mkdir(bundleDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(bundleDir, "inner.json"), []byte("{}"), 0o644))

	folders := &fakeFolders{
		folders: []*enginetypes.MonitoredFolder{{ID: "1", Path: root, IsBlacklist: false}},
		bundles: []*enginetypes.BundleExtension{{ID: "b1", Extension: "bundle", IsActive: true}},
	}

	s := New(folders, nil, logging.NewLogger(logging.INFO))
	out, errc := s.InitialSweep(context.Background())
	got := collect(t, out, errc)

	require.Len(t, got, 1)
	require.True(t, got[0].IsBundle)
	require.Equal(t, bundleDir, got[0].Path)
}
