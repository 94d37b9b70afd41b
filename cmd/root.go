package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/core-governance/core/internal/config"
	"github.com/core-governance/core/internal/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	// version is the application version.
	// Set via ldflags at build time: -ldflags "-X github.com/core-governance/core/cmd.version=1.0.0"
	// Defaults to "dev" for local development builds.
	version = "dev"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "core",
	Short: "core - constitutional enforcement and governance pipeline",
	Long: `core audits a repository's source tree against the policy catalog
declared under .intent/policies, reporting every violated rule with
file:line evidence and an explicit admit/reject verdict.`,
	Run: func(cmd *cobra.Command, args []string) {
		if len(args) == 0 {
			_ = cmd.Help()
			os.Exit(0)
		}
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	// Set up crash handler
	initCrashHandler()
	defer logger.HandlePanic()

	// Enable Cobra's built-in suggestions
	rootCmd.SuggestionsMinimumDistance = 2

	err := rootCmd.Execute()
	if err != nil {
		// Check if it's an unknown command error and provide helpful hints
		errStr := err.Error()
		if strings.Contains(errStr, "unknown command") {
			// Extract the unknown command
			parts := strings.Split(errStr, "\"")
			if len(parts) >= 2 {
				unknownCmd := parts[1]
				suggestion := getCommandHint(unknownCmd)
				if suggestion != "" {
					fmt.Fprintf(os.Stderr, "\n%s\n", suggestion)
				}
			}
		}
		os.Exit(1)
	}
}

// initCrashHandler sets up the crash logging context.
func initCrashHandler() {
	logger.SetVersion(version)

	// Set base path for crash logs
	path := config.GetReportsBasePathOrGlobal()
	logger.SetBasePath(strings.TrimSuffix(path, "/reports"))

	// Set command name (will be updated by each subcommand if needed)
	if len(os.Args) > 1 {
		logger.SetCommand(strings.Join(os.Args[1:], " "))
	}
}

// getCommandHint returns a helpful hint for common command mistakes
func getCommandHint(cmd string) string {
	hints := map[string]string{
		"audit":    "Hint: To run an audit, use: core check audit",
		"coverage": "Hint: To check policy coverage, use: core governance coverage",
		"baseline": "Hint: To snapshot a baseline, use: core code baseline",
		"verify":   "Hint: To verify against the baseline, use: core code verify",
	}

	if hint, ok := hints[cmd]; ok {
		return hint
	}
	return ""
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().Bool("verbose", false, "Enable verbose output")
	rootCmd.PersistentFlags().Bool("json", false, "Output as JSON")
	rootCmd.PersistentFlags().Bool("quiet", false, "Minimal output")
	rootCmd.PersistentFlags().String("root", "", "Path to the audited repository (not read: subcommands detect the constitutional root from the working directory)")

	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("quiet", rootCmd.PersistentFlags().Lookup("quiet"))
	_ = viper.BindPFlag("root", rootCmd.PersistentFlags().Lookup("root"))

	// Custom Help Template
	rootCmd.SetHelpTemplate(`{{if .Long}}
{{.Long}}
{{else}}
  {{.Short}}
{{end}}
  Usage: {{.UseLine}}
{{if .HasAvailableSubCommands}}
  Commands:
{{range .Commands}}{{if (or .IsAvailableCommand (eq .Name "help"))}}    {{rpad .Name .NamePadding }} {{.Short}}
{{end}}{{end}}{{end}}{{if .HasAvailableLocalFlags}}
  Flags:
{{.LocalFlags.FlagUsages | trimTrailingWhitespaces}}{{end}}{{if .HasAvailableInheritedFlags}}

  Global Flags:
{{.InheritedFlags.FlagUsages | trimTrailingWhitespaces}}{{end}}
`)
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	viper.SetEnvPrefix("CORE")
	viper.AutomaticEnv()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".intent")

	// Ignore a missing config file - all settings have defaults or come from flags/env.
	_ = viper.ReadInConfig()
}

// GetVersion returns the application version
func GetVersion() string {
	return version
}
