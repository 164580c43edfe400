package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/hourledger/hourledger/internal/app"
	"github.com/hourledger/hourledger/internal/platform/db"
)

type migrateResult struct {
	Applied []string `json:"applied" yaml:"applied"`
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending schema migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := app.LoadConfig()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		ctx := cmd.Context()
		pool, err := db.New(ctx, cfg.PGDSN, cfg.Pool())
		if err != nil {
			return err
		}
		defer pool.Close()

		applied, err := db.Migrate(ctx, pool)
		if err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		res := migrateResult{Applied: applied}
		return render(cmd, res, func(w io.Writer) error {
			if len(applied) == 0 {
				_, err := fmt.Fprintln(w, "schema up to date")
				return err
			}
			for _, name := range applied {
				if _, err := fmt.Fprintf(w, "applied %s\n", name); err != nil {
					return err
				}
			}
			return nil
		})
	},
}
