package cmd

import (
	"fmt"
	"log/slog"
	"net/url"
	"path"

	"github.com/brensch/weatherduck/internal/archive"
	"github.com/brensch/weatherduck/internal/config"
	"github.com/brensch/weatherduck/internal/dataset"

	"github.com/spf13/cobra"
)

var (
	stationsFileURL string
	stationsTable   string
)

var stationsCmd = &cobra.Command{
	Use:   "stations",
	Short: "Download the GHCN station metadata file and rebuild the station table",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		logger := getLogger()

		if err := applyMemoryLimit(ctx, config.IngestMemoryLimit); err != nil {
			return err
		}

		// The URL points at the file itself; the archive connection is
		// opened against its directory.
		u, err := url.Parse(stationsFileURL)
		if err != nil {
			return fmt.Errorf("parse stations url %s: %w", stationsFileURL, err)
		}
		fileName := path.Base(u.Path)
		u.Path = path.Dir(u.Path)

		arc, err := archive.Open(ctx, u.String(), logger)
		if err != nil {
			return fmt.Errorf("failed to open archive %s: %w", u.String(), err)
		}
		defer arc.Close()

		rows, err := dataset.NewStations(getDB(), stationsTable).Reload(ctx, arc, fileName, logger)
		if err != nil {
			return err
		}
		logger.Info("Station table rebuilt.", slog.String("table", stationsTable), slog.Int64("rows", rows))
		return nil
	},
}

func init() {
	stationsCmd.Flags().StringVar(&stationsFileURL, "file-url", config.DefaultStationsFileURL, "URL of the ghcnd-stations.txt file")
	stationsCmd.Flags().StringVar(&stationsTable, "table", config.DefaultStationsTable, "Table to rebuild with station metadata")
}
