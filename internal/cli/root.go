// Package cli implements the sunpathctl command tree.
package cli

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/sunpath-crm/sunpath-go/internal/platform/postgres"
)

// New builds the root command. Settings resolve flag > SUNPATHCTL_* env >
// config file, in that order.
func New() *cobra.Command {
	v := viper.New()
	var cfgFile string

	root := &cobra.Command{
		Use:           "sunpathctl",
		Short:         "Operator CLI for Sunpath CRM",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			v.SetEnvPrefix("SUNPATHCTL")
			v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
			v.AutomaticEnv()
			if cfgFile != "" {
				v.SetConfigFile(cfgFile)
				if err := v.ReadInConfig(); err != nil {
					return fmt.Errorf("read config: %w", err)
				}
			}
			return nil
		},
	}

	root.PersistentFlags().StringVar(&cfgFile, "config", "", "path to a sunpathctl config file")
	root.PersistentFlags().String("database-url", "", "postgres connection url")
	_ = v.BindPFlag("database_url", root.PersistentFlags().Lookup("database-url"))

	root.AddCommand(newMigrateCmd(v))
	root.AddCommand(newSeedCmd(v))
	root.AddCommand(newStagesCmd(v))
	return root
}

// openDB connects with the service defaults, letting sunpathctl settings
// override the url.
func openDB(ctx context.Context, v *viper.Viper) (*sql.DB, error) {
	cfg, err := postgres.ConfigFromEnv()
	if err != nil {
		return nil, err
	}
	if url := strings.TrimSpace(v.GetString("database_url")); url != "" {
		cfg.URL = url
	}
	return postgres.Open(ctx, cfg)
}
