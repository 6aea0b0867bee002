package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// NewConfigCommand creates the config command.
func NewConfigCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Long: `Print the configuration after defaults, the config file, FERRY_*
environment variables and global flags have been applied.

The text output is a valid config file.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := newFormatter(rootOpts, cmd)

			cfg, err := loadConfig(rootOpts)
			if err != nil {
				return out.Fail(ExitCommandError, CodeConfig, "failed to load config", err)
			}
			out.VerboseLog("config: %s", describeConfigFile(cfg))

			data, err := cfg.YAML()
			if err != nil {
				return out.Fail(ExitFailure, CodeConfig, "failed to render config", err)
			}

			if rootOpts.Format == "json" {
				var doc map[string]any
				if err := yaml.Unmarshal(data, &doc); err != nil {
					return out.Fail(ExitFailure, CodeConfig, "failed to render config", err)
				}
				return out.Success(doc)
			}

			_, err = fmt.Fprint(cmd.OutOrStdout(), string(data))
			return err
		},
	}
}
