package checks

import (
	"context"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/core-governance/core/internal/governance/catalog"
)

func TestAtomicActionCheck_ForbiddenImportFlagged(t *testing.T) {
	fs := afero.NewMemMapFs()
	src := "import click\n\nasync def run_action(ctx):\n    return ActionResult(ok=True)\n"
	require.NoError(t, afero.WriteFile(fs, "src/body/actions/deploy.py", []byte(src), 0o644))

	check := AtomicActionCheck("atomic.action_must_be_headless", fs)
	findings, err := check.Verify(context.Background(), catalog.Target{Scope: catalog.ScopeFile, Path: "src/body/actions/deploy.py"})
	require.NoError(t, err)
	require.Len(t, findings, 1)
	require.Equal(t, "atomic.action_must_be_headless", findings[0].CheckID)
}

func TestAtomicActionCheck_MissingStructuredReturnFlagged(t *testing.T) {
	fs := afero.NewMemMapFs()
	src := "async def run_action(ctx):\n    x = 1\n    return x\n"
	require.NoError(t, afero.WriteFile(fs, "src/body/actions/deploy.py", []byte(src), 0o644))

	check := AtomicActionCheck("atomic.result_must_be_structured", fs)
	findings, err := check.Verify(context.Background(), catalog.Target{Scope: catalog.ScopeFile, Path: "src/body/actions/deploy.py"})
	require.NoError(t, err)
	require.Len(t, findings, 1)
}

func TestAtomicActionCheck_CleanActionPasses(t *testing.T) {
	fs := afero.NewMemMapFs()
	src := "async def run_action(ctx):\n    return ActionResult(ok=True, data={})\n"
	require.NoError(t, afero.WriteFile(fs, "src/body/actions/deploy.py", []byte(src), 0o644))

	check := AtomicActionCheck("atomic.result_must_be_structured", fs)
	findings, err := check.Verify(context.Background(), catalog.Target{Scope: catalog.ScopeFile, Path: "src/body/actions/deploy.py"})
	require.NoError(t, err)
	require.Empty(t, findings)
}

func TestAtomicActionCheck_SkipsFilesOutsideActionsSubtree(t *testing.T) {
	fs := afero.NewMemMapFs()
	src := "import click\n"
	require.NoError(t, afero.WriteFile(fs, "src/body/other.py", []byte(src), 0o644))

	check := AtomicActionCheck("atomic.action_must_be_headless", fs)
	findings, err := check.Verify(context.Background(), catalog.Target{Scope: catalog.ScopeFile, Path: "src/body/other.py"})
	require.NoError(t, err)
	require.Empty(t, findings)
}

func TestHeadlessBodyCheck_ForbiddenImportAndPrintFlagged(t *testing.T) {
	fs := afero.NewMemMapFs()
	src := "import tkinter\n\ndef do_work():\n    print(\"hi\")\n    return 1\n"
	require.NoError(t, afero.WriteFile(fs, "src/body/worker.py", []byte(src), 0o644))

	check := HeadlessBodyCheck("body.no_ui_imports_in_body", "body.no_print_or_input_in_body", "body.no_envvar_access_in_body", fs)
	findings, err := check.Verify(context.Background(), catalog.Target{Scope: catalog.ScopeFile, Path: "src/body/worker.py"})
	require.NoError(t, err)
	require.Len(t, findings, 2)
}

func TestHeadlessBodyCheck_EnvAccessIsWarning(t *testing.T) {
	fs := afero.NewMemMapFs()
	src := "import os\n\ndef do_work():\n    return os.environ.get(\"X\")\n"
	require.NoError(t, afero.WriteFile(fs, "src/body/worker.py", []byte(src), 0o644))

	check := HeadlessBodyCheck("body.no_ui_imports_in_body", "body.no_print_or_input_in_body", "body.no_envvar_access_in_body", fs)
	findings, err := check.Verify(context.Background(), catalog.Target{Scope: catalog.ScopeFile, Path: "src/body/worker.py"})
	require.NoError(t, err)
	require.Len(t, findings, 1)
	require.Equal(t, "body.no_envvar_access_in_body", findings[0].CheckID)
}

func TestHeadlessBodyCheck_SkipsCliSubtree(t *testing.T) {
	fs := afero.NewMemMapFs()
	src := "import click\n\ndef main():\n    print(\"ok\")\n"
	require.NoError(t, afero.WriteFile(fs, "src/cli/main.py", []byte(src), 0o644))

	check := HeadlessBodyCheck("body.no_ui_imports_in_body", "body.no_print_or_input_in_body", "body.no_envvar_access_in_body", fs)
	findings, err := check.Verify(context.Background(), catalog.Target{Scope: catalog.ScopeFile, Path: "src/cli/main.py"})
	require.NoError(t, err)
	require.Empty(t, findings)
}

func TestDocstringCheck_MissingDocstringFlagged(t *testing.T) {
	fs := afero.NewMemMapFs()
	src := "def helper():\n    x = 1\n    return x\n"
	require.NoError(t, afero.WriteFile(fs, "src/mod.py", []byte(src), 0o644))

	check := DocstringCheck("doc.function_requires_docstring", fs)
	findings, err := check.Verify(context.Background(), catalog.Target{Scope: catalog.ScopeFile, Path: "src/mod.py"})
	require.NoError(t, err)
	require.Len(t, findings, 1)
}

func TestDocstringCheck_PresentDocstringPasses(t *testing.T) {
	fs := afero.NewMemMapFs()
	src := "def helper():\n    \"\"\"Does a thing.\"\"\"\n    return 1\n"
	require.NoError(t, afero.WriteFile(fs, "src/mod.py", []byte(src), 0o644))

	check := DocstringCheck("doc.function_requires_docstring", fs)
	findings, err := check.Verify(context.Background(), catalog.Target{Scope: catalog.ScopeFile, Path: "src/mod.py"})
	require.NoError(t, err)
	require.Empty(t, findings)
}

func TestNamingConventionCheck_FlagsBadCasing(t *testing.T) {
	fs := afero.NewMemMapFs()
	src := "def DoWork():\n    return 1\n\nclass lowerclass:\n    pass\n"
	require.NoError(t, afero.WriteFile(fs, "src/mod.py", []byte(src), 0o644))

	check := NamingConventionCheck("naming.function_snake_case", "naming.class_pascal_case", fs)
	findings, err := check.Verify(context.Background(), catalog.Target{Scope: catalog.ScopeFile, Path: "src/mod.py"})
	require.NoError(t, err)
	require.Len(t, findings, 2)
}

func TestNamingConventionCheck_CleanNamesPasses(t *testing.T) {
	fs := afero.NewMemMapFs()
	src := "def do_work():\n    return 1\n\nclass GoodClass:\n    pass\n"
	require.NoError(t, afero.WriteFile(fs, "src/mod.py", []byte(src), 0o644))

	check := NamingConventionCheck("naming.function_snake_case", "naming.class_pascal_case", fs)
	findings, err := check.Verify(context.Background(), catalog.Target{Scope: catalog.ScopeFile, Path: "src/mod.py"})
	require.NoError(t, err)
	require.Empty(t, findings)
}

func TestHeaderCheck_MissingHeaderFlagged(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "src/mod.py", []byte("def f():\n    pass\n"), 0o644))

	check := HeaderCheck("style.module_header_required", fs)
	findings, err := check.Verify(context.Background(), catalog.Target{Scope: catalog.ScopeFile, Path: "src/mod.py"})
	require.NoError(t, err)
	require.Len(t, findings, 1)
}

func TestHeaderCheck_PresentHeaderPasses(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "src/mod.py", []byte("# src/mod.py\ndef f():\n    pass\n"), 0o644))

	check := HeaderCheck("style.module_header_required", fs)
	findings, err := check.Verify(context.Background(), catalog.Target{Scope: catalog.ScopeFile, Path: "src/mod.py"})
	require.NoError(t, err)
	require.Empty(t, findings)
}

func TestRuleIDCheck_FlagsUnmarkedClass(t *testing.T) {
	fs := afero.NewMemMapFs()
	src := "class SomeCheck:\n    pass\n"
	require.NoError(t, afero.WriteFile(fs, "src/mod.py", []byte(src), 0o644))

	check := RuleIDCheck("style.class_requires_rule_id_marker", fs)
	findings, err := check.Verify(context.Background(), catalog.Target{Scope: catalog.ScopeFile, Path: "src/mod.py"})
	require.NoError(t, err)
	require.Len(t, findings, 1)
}

func TestRuleIDCheck_MarkedClassPasses(t *testing.T) {
	fs := afero.NewMemMapFs()
	src := "# ID: atomic.action_must_be_headless\nclass SomeCheck:\n    pass\n"
	require.NoError(t, afero.WriteFile(fs, "src/mod.py", []byte(src), 0o644))

	check := RuleIDCheck("style.class_requires_rule_id_marker", fs)
	findings, err := check.Verify(context.Background(), catalog.Target{Scope: catalog.ScopeFile, Path: "src/mod.py"})
	require.NoError(t, err)
	require.Empty(t, findings)
}
