package integrity

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

// TestBaselineRoundTrip implements property 7 from spec.md §8:
// create_baseline; verify_integrity on an unchanged tree returns
// ok=true, errors=[].
func TestBaselineRoundTrip(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "src/a.py", []byte("def f():\n    pass\n"), 0o644))
	require.NoError(t, afero.WriteFile(fs, "src/pkg/b.py", []byte("x = 1\n"), 0o644))

	path, err := CreateBaseline(fs, "src", "reports", "rel-1")
	require.NoError(t, err)
	require.Equal(t, "reports/integrity/rel-1.json", path)

	result, err := Verify(fs, "src", "reports", "rel-1")
	require.NoError(t, err)
	require.True(t, result.OK)
	require.Empty(t, result.Errors)
	require.Empty(t, result.Modified)
	require.Empty(t, result.Deleted)
	require.Empty(t, result.Added)
}

func TestVerify_DetectsModified(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "src/a.py", []byte("v1\n"), 0o644))
	_, err := CreateBaseline(fs, "src", "reports", "rel-1")
	require.NoError(t, err)

	require.NoError(t, afero.WriteFile(fs, "src/a.py", []byte("v2\n"), 0o644))

	result, err := Verify(fs, "src", "reports", "rel-1")
	require.NoError(t, err)
	require.False(t, result.OK)
	require.Equal(t, []string{"a.py"}, result.Modified)
}

func TestVerify_DetectsAddedAndDeleted(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "src/a.py", []byte("v1\n"), 0o644))
	_, err := CreateBaseline(fs, "src", "reports", "rel-1")
	require.NoError(t, err)

	require.NoError(t, fs.Remove("src/a.py"))
	require.NoError(t, afero.WriteFile(fs, "src/b.py", []byte("new\n"), 0o644))

	result, err := Verify(fs, "src", "reports", "rel-1")
	require.NoError(t, err)
	require.False(t, result.OK)
	require.Equal(t, []string{"a.py"}, result.Deleted)
	require.Equal(t, []string{"b.py"}, result.Added)
}

func TestVerify_MissingBaselineIsNotACrash(t *testing.T) {
	fs := afero.NewMemMapFs()
	result, err := Verify(fs, "src", "reports", "never-created")
	require.NoError(t, err)
	require.False(t, result.OK)
	require.NotEmpty(t, result.Errors)
}

func TestSnapshot_SkipsIgnoredDirs(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "src/a.py", []byte("v\n"), 0o644))
	require.NoError(t, afero.WriteFile(fs, "src/__pycache__/a.pyc", []byte("junk\n"), 0o644))

	hashes, err := snapshot(fs, "src")
	require.NoError(t, err)
	require.Contains(t, hashes, "a.py")
	require.NotContains(t, hashes, "__pycache__/a.pyc")
}
