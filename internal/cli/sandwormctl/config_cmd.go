package sandwormctl

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sandworm/sandworm/internal/config"
)

func newConfigCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show the resolved settings and manage profiles",
		Args:  exactArgs(),
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}
	cmd.AddCommand(newConfigShowCommand(a), newConfigSetProfileCommand(a), newConfigUseProfileCommand(a))
	return cmd
}

type configOutput struct {
	Profile      string `json:"profile"`
	APIKey       string `json:"api_key"`
	BaseURL      string `json:"base_url"`
	HTTPTimeout  string `json:"http_timeout"`
	PollInterval string `json:"poll_interval"`
	WaitTimeout  string `json:"wait_timeout"`
	Output       string `json:"output"`
	ExportBucket string `json:"export_bucket"`
	Journal      bool   `json:"journal_configured"`
	ConfigFile   string `json:"config_file,omitempty"`
}

func newConfigShowCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the resolved settings with the API key masked",
		Args:  exactArgs(),
		RunE: func(cmd *cobra.Command, _ []string) error {
			return printJSON(cmd.OutOrStdout(), configOutput{
				Profile:      string(a.cfg.Profile),
				APIKey:       maskKey(a.cfg.API.Key),
				BaseURL:      a.cfg.API.BaseURL,
				HTTPTimeout:  a.cfg.API.HTTPTimeout.String(),
				PollInterval: a.cfg.API.PollInterval.String(),
				WaitTimeout:  a.waitTimeout.String(),
				Output:       a.cfg.API.Output,
				ExportBucket: a.cfg.Export.Bucket,
				Journal:      a.cfg.Journal.DSN != "" || a.opts.Journal != nil,
				ConfigFile:   a.opts.UserConfigPath,
			})
		},
	}
}

func newConfigSetProfileCommand(a *app) *cobra.Command {
	var (
		name    string
		profile config.UserProfile
		use     bool
	)
	cmd := &cobra.Command{
		Use:   "set-profile",
		Short: "Create or update a profile in the user config file",
		Args:  exactArgs(),
		RunE: func(cmd *cobra.Command, _ []string) error {
			name = strings.TrimSpace(name)
			if name == "" {
				return usagef("--name is required")
			}
			switch profile.Output {
			case "", "json", "csv":
			default:
				return usagef("unsupported --profile-output %q: use json or csv", profile.Output)
			}
			path, err := a.userConfigPath()
			if err != nil {
				return err
			}
			userCfg, err := config.LoadUserConfig(path)
			if err != nil {
				return err
			}
			userCfg.Profiles[name] = profile
			if use || userCfg.CurrentProfile == "" {
				userCfg.CurrentProfile = name
			}
			if err := config.SaveUserConfig(path, userCfg); err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "saved profile %q to %s\n", name, path)
			return err
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "profile name")
	cmd.Flags().StringVar(&profile.APIKey, "profile-api-key", "", "API key stored in the profile")
	cmd.Flags().StringVar(&profile.BaseURL, "profile-base-url", "", "base URL stored in the profile")
	cmd.Flags().StringVar(&profile.Output, "profile-output", "", "default output stored in the profile (json, csv)")
	cmd.Flags().BoolVar(&use, "use", false, "make this the current profile")
	return cmd
}

func newConfigUseProfileCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "use-profile <name>",
		Short: "Switch the current profile",
		Args:  exactArgs("name"),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := a.userConfigPath()
			if err != nil {
				return err
			}
			userCfg, err := config.LoadUserConfig(path)
			if err != nil {
				return err
			}
			if _, ok := userCfg.Profiles[args[0]]; !ok {
				return usagef("profile %q does not exist", args[0])
			}
			userCfg.CurrentProfile = args[0]
			if err := config.SaveUserConfig(path, userCfg); err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "switched to profile %q\n", args[0])
			return err
		},
	}
}

func (a *app) userConfigPath() (string, error) {
	if a.opts.UserConfigPath == "" {
		return "", fmt.Errorf("no user config path: HOME is not set")
	}
	return a.opts.UserConfigPath, nil
}

func maskKey(key string) string {
	if len(key) <= 4 {
		return strings.Repeat("*", len(key))
	}
	return strings.Repeat("*", len(key)-4) + key[len(key)-4:]
}
