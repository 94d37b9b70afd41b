package parser

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParserRegistry_PythonParserImplementsInterface(t *testing.T) {
	// The compile-time check in interface.go also enforces this.
	var _ LanguageParser = (*PythonParser)(nil)

	parser := NewPythonParser("/test")
	assert.NotNil(t, parser)
	assert.Equal(t, "python", parser.Language())
	assert.Equal(t, []string{".py", ".pyi"}, parser.SupportedExtensions())
	assert.True(t, parser.CanParse("main.py"))
	assert.True(t, parser.CanParse("/path/to/file.pyi"))
	assert.False(t, parser.CanParse("main.go"))
	assert.False(t, parser.CanParse("main.rs"))
}

func TestNewParserRegistry(t *testing.T) {
	registry := NewParserRegistry()
	assert.NotNil(t, registry)
	assert.Empty(t, registry.SupportedExtensions())
	assert.Empty(t, registry.RegisteredLanguages())
}

func TestParserRegistry_Register(t *testing.T) {
	registry := NewParserRegistry()
	pyParser := NewPythonParser("/test")

	registry.Register(pyParser)

	assert.Contains(t, registry.SupportedExtensions(), ".py")
	assert.Contains(t, registry.RegisteredLanguages(), "python")

	parser := registry.GetParserByExtension(".py")
	assert.NotNil(t, parser)
	assert.Equal(t, "python", parser.Language())

	parser = registry.GetParserByExtension("py")
	assert.NotNil(t, parser)
	assert.Equal(t, "python", parser.Language())
}

func TestParserRegistry_GetParserForFile(t *testing.T) {
	registry := NewDefaultRegistry("/test")

	tests := []struct {
		filePath string
		wantLang string
		wantNil  bool
	}{
		{"main.py", "python", false},
		{"/path/to/file.py", "python", false},
		{"internal/parser/python_parser.py", "python", false},
		{"main.pyi", "python", false},
		{"main.txt", "", true}, // Not a source file
		{"Makefile", "", true}, // No extension
		{"main.go", "", true},  // Not the audited language
	}

	for _, tt := range tests {
		t.Run(tt.filePath, func(t *testing.T) {
			parser := registry.GetParserForFile(tt.filePath)
			if tt.wantNil {
				assert.Nil(t, parser)
			} else {
				require.NotNil(t, parser)
				assert.Equal(t, tt.wantLang, parser.Language())
			}
		})
	}
}

func TestParserRegistry_CanParse(t *testing.T) {
	registry := NewDefaultRegistry("/test")

	assert.True(t, registry.CanParse("main.py"))
	assert.True(t, registry.CanParse("/path/to/file.PY")) // Case insensitive
	assert.True(t, registry.CanParse("main.pyi"))
	assert.False(t, registry.CanParse("main.go"))  // Not the audited language
	assert.False(t, registry.CanParse("main.java")) // Not supported
	assert.False(t, registry.CanParse("main.cpp"))  // Not supported
}

func TestParserRegistry_Unregister(t *testing.T) {
	registry := NewParserRegistry()
	pyParser := NewPythonParser("/test")

	registry.Register(pyParser)
	assert.True(t, registry.CanParse("main.py"))

	registry.Unregister(pyParser)
	assert.False(t, registry.CanParse("main.py"))
	assert.Empty(t, registry.SupportedExtensions())
}

func TestParserRegistry_ParseFile(t *testing.T) {
	tmpDir := t.TempDir()
	pyFile := filepath.Join(tmpDir, "test.py")
	err := os.WriteFile(pyFile, []byte(`def test_func() -> str:
    """A test function."""
    return "hello"
`), 0644)
	require.NoError(t, err)

	registry := NewDefaultRegistry(tmpDir)

	result, err := registry.ParseFile(pyFile)
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.NotEmpty(t, result.Symbols)

	var found bool
	for _, sym := range result.Symbols {
		if sym.Name == "test_func" && sym.Kind == SymbolFunction {
			found = true
			assert.Equal(t, "python", sym.Language)
			assert.Contains(t, sym.DocComment, "test function")
			break
		}
	}
	assert.True(t, found, "test_func should be found in parsed symbols")

	unsupportedFile := filepath.Join(tmpDir, "test.java")
	err = os.WriteFile(unsupportedFile, []byte(`public class Test {}`), 0644)
	require.NoError(t, err)

	_, err = registry.ParseFile(unsupportedFile)
	assert.Error(t, err)

	var unsupportedErr *UnsupportedFileError
	assert.ErrorAs(t, err, &unsupportedErr)
	assert.Equal(t, ".java", unsupportedErr.Extension)
}

func TestUnsupportedFileError(t *testing.T) {
	err := &UnsupportedFileError{
		FilePath:  "/path/to/file.xyz",
		Extension: ".xyz",
	}
	assert.Contains(t, err.Error(), ".xyz")
	assert.Contains(t, err.Error(), "/path/to/file.xyz")
}

func TestParserRegistry_ConcurrentAccess(t *testing.T) {
	registry := NewDefaultRegistry("/test")

	done := make(chan bool, 10)
	for i := 0; i < 10; i++ {
		go func() {
			for j := 0; j < 100; j++ {
				_ = registry.GetParserForFile("main.py")
				_ = registry.CanParse("main.py")
				_ = registry.SupportedExtensions()
			}
			done <- true
		}()
	}

	for i := 0; i < 10; i++ {
		<-done
	}
}
