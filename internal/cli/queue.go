package cli

import (
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

// NewQueueCmd создаёт группу команд для очереди воркеров.
func NewQueueCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect worker queue",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Show worker groups",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			stats, err := client.QueueStats()
			if err != nil {
				return err
			}

			headers := []string{"PREFIX", "QUEUED", "DELIVERED", "WORKERS", "OLDEST", "LAST_POLL"}
			rows := make([][]string, len(stats))
			for i, s := range stats {
				rows[i] = []string{
					s.Prefix,
					strconv.Itoa(s.QueueSize),
					strconv.FormatInt(s.Delivered, 10),
					strings.Join(s.WorkerIDs, ","),
					s.OldestEvent,
					s.LastWorker,
				}
			}

			out.Print(headers, rows, stats)
			return nil
		},
	})

	return cmd
}

// NewAssetCmd создаёт группу команд для assets.
func NewAssetCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "asset",
		Short: "Manage case assets",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "upload CASE_TYPE FILE",
		Short: "Upload a file to the archive",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			data, err := os.ReadFile(args[1])
			if err != nil {
				return err
			}
			ext := strings.TrimPrefix(filepath.Ext(args[1]), ".")
			if ext == "" {
				return fmt.Errorf("file %s has no extension", args[1])
			}

			asset, err := client.UploadAsset(args[0], ext, mime.TypeByExtension("."+ext), data)
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Asset uploaded: %s", asset.ID))
			out.Print(
				[]string{"ID", "CASE_TYPE", "EXT", "SIZE"},
				[][]string{{asset.ID, asset.CaseType, asset.ExtName, strconv.FormatInt(asset.Size, 10)}},
				asset,
			)
			return nil
		},
	})

	return cmd
}
