package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ethpandaops/rttmon/pkg/config"
	"github.com/ethpandaops/rttmon/pkg/report"
	"github.com/ethpandaops/rttmon/pkg/upload"
	"github.com/spf13/cobra"
)

var uploadReports []string

var uploadResultsCmd = &cobra.Command{
	Use:   "upload-results",
	Short: "Upload reports to remote storage",
	Long: `Upload existing report files to S3-compatible storage using the config
file settings. A markdown summary next to a report is uploaded with it.`,
	RunE: runUploadResults,
}

func init() {
	rootCmd.AddCommand(uploadResultsCmd)
	uploadResultsCmd.Flags().StringSliceVar(&uploadReports, "report", nil,
		"Path to a report file to upload (comma-separated or repeated flag)")

	_ = uploadResultsCmd.MarkFlagRequired("report")
}

func runUploadResults(cmd *cobra.Command, args []string) error {
	if len(cfgFiles) == 0 {
		return fmt.Errorf("config file is required (use --config)")
	}

	cfg, err := config.Load(cfgFiles...)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if !cfg.Results.S3.Enabled {
		return fmt.Errorf("S3 upload is not configured or not enabled in config")
	}

	uploader, err := upload.NewS3Uploader(log, &cfg.Results.S3)
	if err != nil {
		return fmt.Errorf("creating S3 uploader: %w", err)
	}

	ctx := cmd.Context()

	for _, path := range uploadReports {
		// Refuse files that are not reports.
		if _, err := report.Load(path); err != nil {
			return fmt.Errorf("checking %s: %w", path, err)
		}

		log.WithField("report", path).Info("Uploading report")

		if _, err := uploader.UploadFile(ctx, path); err != nil {
			return fmt.Errorf("uploading report: %w", err)
		}

		md := strings.TrimSuffix(path, filepath.Ext(path)) + ".md"
		if _, err := os.Stat(md); err == nil {
			if _, err := uploader.UploadFile(ctx, md); err != nil {
				return fmt.Errorf("uploading markdown summary: %w", err)
			}
		}
	}

	log.WithField("count", len(uploadReports)).Info("Upload completed successfully")

	return nil
}
