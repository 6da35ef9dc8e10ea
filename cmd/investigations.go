package cmd

import (
	"fmt"

	"github.com/Ashfaaq98/osint-console/internal/osint"
	"github.com/spf13/cobra"
)

var investigationsCmd = &cobra.Command{
	Use:     "investigations",
	Aliases: []string{"inv"},
	Short:   "Manage investigations",
	Long: `Create, list and delete investigations. An investigation groups the targets
of one case.

Examples:
  osint-console investigations create "Phishing wave" --description "reported by SOC"
  osint-console investigations list
  osint-console investigations delete 3f1c...`,
}

var invDescription string

var investigationsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List investigations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := openStore(ctx, GetConfig())
		if err != nil {
			return err
		}
		defer st.Close()

		invs, err := st.ListInvestigations(ctx)
		if err != nil {
			return fmt.Errorf("failed to list investigations: %w", err)
		}
		if len(invs) == 0 {
			fmt.Println("No investigations found.")
			return nil
		}

		fmt.Printf("Found %d investigations:\n\n", len(invs))
		for i, inv := range invs {
			targets, err := st.ListTargets(ctx, inv.ID)
			if err != nil {
				return fmt.Errorf("failed to list targets for %s: %w", inv.ID, err)
			}
			fmt.Printf("%d. %s\n", i+1, inv.Name)
			fmt.Printf("   ID: %s\n", inv.ID)
			fmt.Printf("   Targets: %d\n", len(targets))
			fmt.Printf("   Created: %s\n", inv.CreatedAt.Format("2006-01-02 15:04:05"))
			if inv.Description != "" {
				fmt.Printf("   Description: %s\n", inv.Description)
			}
			fmt.Println()
		}
		return nil
	},
}

var investigationsCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create an investigation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := openStore(ctx, GetConfig())
		if err != nil {
			return err
		}
		defer st.Close()

		inv, err := st.CreateInvestigation(ctx, osint.Investigation{Name: args[0], Description: invDescription})
		if err != nil {
			return fmt.Errorf("failed to create investigation: %w", err)
		}
		fmt.Printf("Created investigation %s (%s)\n", inv.Name, inv.ID)
		return nil
	},
}

var investigationsDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete an investigation with its targets and results",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := openStore(ctx, GetConfig())
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.DeleteInvestigation(ctx, args[0]); err != nil {
			return fmt.Errorf("failed to delete investigation: %w", err)
		}
		fmt.Printf("Deleted investigation %s\n", args[0])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(investigationsCmd)
	investigationsCmd.AddCommand(investigationsListCmd, investigationsCreateCmd, investigationsDeleteCmd)

	investigationsCreateCmd.Flags().StringVar(&invDescription, "description", "", "Investigation description")
}
