package cmd

import (
	"bytes"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckAuditCmd_Help(t *testing.T) {
	viper.Reset()
	b := bytes.NewBufferString("")
	rootCmd.SetOut(b)
	rootCmd.SetErr(b)
	rootCmd.SetArgs([]string{"check", "audit", "--help"})

	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, b.String(), "filtered audit")
}

func TestGovernanceCoverageCmd_Help(t *testing.T) {
	viper.Reset()
	b := bytes.NewBufferString("")
	rootCmd.SetOut(b)
	rootCmd.SetErr(b)
	rootCmd.SetArgs([]string{"governance", "coverage", "--help"})

	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, b.String(), "declared_only")
}

func TestCodeBaselineCmd_Help(t *testing.T) {
	viper.Reset()
	b := bytes.NewBufferString("")
	rootCmd.SetOut(b)
	rootCmd.SetErr(b)
	rootCmd.SetArgs([]string{"code", "baseline", "--help"})

	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, b.String(), "SHA-256")
}

func TestCodeVerifyCmd_Help(t *testing.T) {
	viper.Reset()
	b := bytes.NewBufferString("")
	rootCmd.SetOut(b)
	rootCmd.SetErr(b)
	rootCmd.SetArgs([]string{"code", "verify", "--help"})

	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, b.String(), "ok=false")
}

func TestCommandHint(t *testing.T) {
	assert.Contains(t, getCommandHint("audit"), "check audit")
	assert.Contains(t, getCommandHint("coverage"), "governance coverage")
	assert.Contains(t, getCommandHint("baseline"), "code baseline")
	assert.Equal(t, "", getCommandHint("nonsense"))
}
