package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/verifdevis/devis-cli/internal/model"
	"github.com/verifdevis/devis-cli/internal/pipeline"
)

var analyzeJSON bool

var analyzeCmd = &cobra.Command{
	Use:   "analyze <analysis-id>",
	Short: "Run the analysis of one uploaded quote",
	Long:  "Downloads the quote referenced by the analysis record, runs extraction, verification, market positioning and scoring, and stores the result.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initAnalysis(ctx, "analyze")
		if err != nil {
			return err
		}
		defer env.Close()

		res, err := env.Analyzer.Run(ctx, args[0])
		if err != nil {
			zap.L().Error("analysis failed",
				zap.String("analysis_id", args[0]),
				zap.String("kind", string(model.KindOf(err))),
				zap.Error(err),
			)
			if res != nil {
				writeAnalysisResult(os.Stdout, res, analyzeJSON)
			}
			return fmt.Errorf("%s", model.UserMessage(err))
		}

		writeAnalysisResult(os.Stdout, res, analyzeJSON)
		return nil
	},
}

func writeAnalysisResult(w io.Writer, res *pipeline.Result, asJSON bool) {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		_ = enc.Encode(res)
		return
	}
	formatAnalysis(w, res.Analysis)
	if len(res.Phases) > 0 {
		fmt.Fprintln(w)
		for _, p := range res.Phases {
			fmt.Fprintf(w, "  %-12s %-9s %6dms", p.Name, p.Status, p.Duration)
			if p.Error != "" {
				fmt.Fprintf(w, "  %s", p.Error)
			}
			fmt.Fprintln(w)
		}
	}
}

// formatAnalysis prints a human-readable report.
func formatAnalysis(w io.Writer, a *model.Analysis) {
	fmt.Fprintf(w, "Analyse %s (%s)\n", a.ID, a.Status)
	if a.Status == model.AnalysisError {
		fmt.Fprintf(w, "Erreur : %s\n", a.ErrorMessage)
		return
	}
	if a.Score != "" {
		fmt.Fprintf(w, "Score : %s\n", a.Score)
	}
	if a.Banner != "" {
		fmt.Fprintln(w, a.Banner)
	}
	if a.Resume != "" {
		fmt.Fprintf(w, "\n%s\n", strings.TrimSpace(a.Resume))
	}
	writeSection(w, "Points conformes", a.PointsOK)
	writeSection(w, "Alertes", a.Alertes)
	writeSection(w, "Recommandations", a.Recommandations)
}

func writeSection(w io.Writer, title string, lines []string) {
	if len(lines) == 0 {
		return
	}
	fmt.Fprintf(w, "\n%s :\n", title)
	for _, l := range lines {
		fmt.Fprintf(w, "  - %s\n", l)
	}
}

func init() {
	analyzeCmd.Flags().BoolVar(&analyzeJSON, "json", false, "print the result as JSON")
	rootCmd.AddCommand(analyzeCmd)
}
