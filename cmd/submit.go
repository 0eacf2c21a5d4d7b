package main

import (
	"fmt"
	"os"
	"path"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/verifdevis/devis-cli/internal/model"
	"github.com/verifdevis/devis-cli/internal/ocr"
	"github.com/verifdevis/devis-cli/internal/storage"
)

var (
	submitUser   string
	submitPrefix string
	submitRun    bool
)

var submitCmd = &cobra.Command{
	Use:   "submit <file>",
	Short: "Upload a quote and create a pending analysis",
	Long:  "Uploads a local PDF or image to file storage and inserts a pending analysis record pointing at it. With --run the analysis is executed immediately.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		data, err := os.ReadFile(args[0])
		if err != nil {
			return eris.Wrap(err, "read quote file")
		}
		name := filepath.Base(args[0])
		mimeType := storage.DetectMime(name, data)
		if !ocr.Allowed(mimeType) {
			return eris.Errorf("unsupported file type %s (PDF, JPEG, PNG, WEBP or HEIC expected)", mimeType)
		}

		env, err := initAnalysis(ctx, "analyze")
		if err != nil {
			return err
		}
		defer env.Close()

		id := uuid.New().String()
		objectPath := uploadPath(submitPrefix, id, name)
		if err := env.Files.Upload(ctx, objectPath, data, mimeType); err != nil {
			return eris.Wrap(err, "upload quote")
		}

		rec, err := env.Store.CreateAnalysis(ctx, model.Analysis{
			ID:       id,
			UserID:   submitUser,
			FilePath: objectPath,
			FileName: name,
			MimeType: mimeType,
		})
		if err != nil {
			return eris.Wrap(err, "create analysis")
		}
		zap.L().Info("analysis submitted",
			zap.String("analysis_id", rec.ID),
			zap.String("file_path", objectPath),
			zap.Int("bytes", len(data)),
		)

		if !submitRun {
			fmt.Println(rec.ID)
			return nil
		}

		res, err := env.Analyzer.Run(ctx, rec.ID)
		if res != nil {
			writeAnalysisResult(os.Stdout, res, analyzeJSON)
		}
		if err != nil {
			return fmt.Errorf("%s", model.UserMessage(err))
		}
		return nil
	},
}

// uploadPath builds the object key of an uploaded quote.
func uploadPath(prefix, id, name string) string {
	return path.Join(prefix, id, filepath.Base(name))
}

func init() {
	submitCmd.Flags().StringVar(&submitUser, "user", "", "owner user id")
	submitCmd.Flags().StringVar(&submitPrefix, "prefix", "devis", "object key prefix")
	submitCmd.Flags().BoolVar(&submitRun, "run", false, "run the analysis after upload")
	submitCmd.Flags().BoolVar(&analyzeJSON, "json", false, "print the result as JSON (with --run)")
	rootCmd.AddCommand(submitCmd)
}
