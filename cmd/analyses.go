package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/verifdevis/devis-cli/internal/model"
	"github.com/verifdevis/devis-cli/internal/store"
)

var analysesCmd = &cobra.Command{
	Use:   "analyses",
	Short: "Inspect stored analyses",
}

// -- analyses list --

var analysesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List analyses",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		status, _ := cmd.Flags().GetString("status")
		user, _ := cmd.Flags().GetString("user")
		limit, _ := cmd.Flags().GetInt("limit")

		list, err := st.ListAnalyses(ctx, store.AnalysisFilter{
			Status: model.AnalysisStatus(status),
			UserID: user,
			Limit:  limit,
		})
		if err != nil {
			return eris.Wrap(err, "analyses list")
		}

		if len(list) == 0 {
			fmt.Fprintln(os.Stderr, "No analyses found.")
			return nil
		}

		formatAnalysesList(os.Stdout, list)
		return nil
	},
}

// -- analyses show --

var analysesShowCmd = &cobra.Command{
	Use:   "show <analysis-id>",
	Short: "Show the full record of an analysis",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		a, err := st.GetAnalysis(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "analyses show")
		}

		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(a)
		}
		formatAnalysis(os.Stdout, a)
		return nil
	},
}

func formatAnalysesList(w io.Writer, list []model.Analysis) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tFILE\tSTATUS\tSCORE\tCREATED")
	for _, a := range list {
		id := a.ID
		if len(id) > 8 {
			id = id[:8]
		}
		name := a.FileName
		if name == "" {
			name = a.FilePath
		}
		score := string(a.Score)
		if score == "" {
			score = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			id, name, a.Status, score, a.CreatedAt.Format("2006-01-02 15:04"))
	}
	_ = tw.Flush()
}

func init() {
	analysesListCmd.Flags().String("status", "", "filter by status (pending, processing, completed, error)")
	analysesListCmd.Flags().String("user", "", "filter by user id")
	analysesListCmd.Flags().Int("limit", 50, "maximum number of analyses")
	analysesShowCmd.Flags().Bool("json", false, "print the record as JSON")

	analysesCmd.AddCommand(analysesListCmd, analysesShowCmd)
	rootCmd.AddCommand(analysesCmd)
}
