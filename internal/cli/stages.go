package cli

import (
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/sunpath-crm/sunpath-go/internal/domain"
	"github.com/sunpath-crm/sunpath-go/internal/repo/postgres"
)

func newStagesCmd(v *viper.Viper) *cobra.Command {
	var (
		tenantID string
		workflow string
	)
	cmd := &cobra.Command{
		Use:   "stages",
		Short: "List a tenant's stage catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(tenantID) == "" {
				return errors.New("--tenant is required")
			}
			wf := domain.Workflow(strings.ToLower(strings.TrimSpace(workflow)))
			if !wf.Valid() {
				return fmt.Errorf("unknown workflow %q", workflow)
			}

			conn, err := openDB(cmd.Context(), v)
			if err != nil {
				return err
			}
			defer func() { _ = conn.Close() }()

			stages, err := postgres.NewStageStore(conn).List(cmd.Context(), strings.TrimSpace(tenantID), wf)
			if err != nil {
				return err
			}
			if len(stages) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no stages found; seed the catalog first")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ORD\tKEY\tNAME\tTERMINAL")
			for _, st := range stages {
				terminal := ""
				if st.Terminal {
					terminal = "yes"
				}
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", st.Ord, st.Key, st.Name, terminal)
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&tenantID, "tenant", "", "tenant id")
	cmd.Flags().StringVar(&workflow, "workflow", string(domain.WorkflowPipeline), "workflow: pipeline or production")
	return cmd
}
