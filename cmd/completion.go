package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var completionCmd = &cobra.Command{
	Use:   "completion [bash|zsh|fish|powershell]",
	Short: "Generate shell completion scripts",
	Long: `Generate shell completion scripts for sqlrestore commands.

Installation Instructions:

Bash:
  # Add to ~/.bashrc or ~/.bash_profile:
  source <(sqlrestore completion bash)

Zsh:
  # Add to ~/.zshrc:
  source <(sqlrestore completion zsh)

  # Or save to completion directory:
  sqlrestore completion zsh > "${fpath[1]}/_sqlrestore"

Fish:
  # Save to fish completion directory:
  sqlrestore completion fish > ~/.config/fish/completions/sqlrestore.fish

PowerShell:
  # Add to your PowerShell profile:
  sqlrestore completion powershell | Out-String | Invoke-Expression

After installation, restart your shell or source the completion file.`,
	ValidArgs:          []string{"bash", "zsh", "fish", "powershell"},
	Args:               cobra.ExactArgs(1),
	DisableFlagParsing: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		switch args[0] {
		case "bash":
			return rootCmd.GenBashCompletionV2(os.Stdout, true)
		case "zsh":
			return rootCmd.GenZshCompletion(os.Stdout)
		case "fish":
			return rootCmd.GenFishCompletion(os.Stdout, true)
		case "powershell":
			return rootCmd.GenPowerShellCompletionWithDesc(os.Stdout)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(completionCmd)
}
