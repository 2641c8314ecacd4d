package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/sunpath-crm/sunpath-go/internal/catalog"
)

func newSeedCmd(v *viper.Viper) *cobra.Command {
	var (
		file      string
		defaults  bool
		tenantID  string
		appliedBy string
	)
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Seed a tenant's stage catalogs, transition rules, and validations",
		Long: `Seed loads a catalog spec into the database inside one transaction.
Stages are upserted by (workflow, key). When the spec declares rules or
validations, the tenant's active ones are replaced by the spec's.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			spec, err := loadSpec(file, defaults, tenantID)
			if err != nil {
				return err
			}

			conn, err := openDB(cmd.Context(), v)
			if err != nil {
				return err
			}
			defer func() { _ = conn.Close() }()

			tx, err := conn.BeginTx(cmd.Context(), nil)
			if err != nil {
				return err
			}
			defer func() { _ = tx.Rollback() }()

			result, err := catalog.Apply(cmd.Context(), tx, spec, appliedBy, time.Now().UTC())
			if err != nil {
				return fmt.Errorf("apply catalog: %w", err)
			}
			if err := tx.Commit(); err != nil {
				return err
			}

			out, err := json.MarshalIndent(result, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "path to a catalog spec YAML file")
	cmd.Flags().BoolVar(&defaults, "defaults", false, "seed the built-in default catalogs")
	cmd.Flags().StringVar(&tenantID, "tenant", "", "tenant id (required with --defaults)")
	cmd.Flags().StringVar(&appliedBy, "applied-by", "sunpathctl", "actor recorded on seeded rows")
	return cmd
}

func loadSpec(file string, defaults bool, tenantID string) (catalog.Spec, error) {
	switch {
	case defaults && file != "":
		return catalog.Spec{}, errors.New("--file and --defaults are mutually exclusive")
	case defaults:
		if strings.TrimSpace(tenantID) == "" {
			return catalog.Spec{}, errors.New("--tenant is required with --defaults")
		}
		return catalog.DefaultSpec(strings.TrimSpace(tenantID)), nil
	case file != "":
		raw, err := os.ReadFile(file)
		if err != nil {
			return catalog.Spec{}, err
		}
		spec, err := catalog.ParseSpec(raw)
		if err != nil {
			return catalog.Spec{}, fmt.Errorf("parse %s: %w", file, err)
		}
		if tenantID != "" && spec.TenantID != tenantID {
			return catalog.Spec{}, fmt.Errorf("--tenant %q does not match spec tenant_id %q", tenantID, spec.TenantID)
		}
		return spec, nil
	default:
		return catalog.Spec{}, errors.New("either --file or --defaults is required")
	}
}
