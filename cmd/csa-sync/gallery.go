package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/bull/csa-content-sync/internal/app"
	"github.com/bull/csa-content-sync/internal/gallery"
)

var galleryFolder string

var gallerySyncCmd = &cobra.Command{
	Use:   "gallery-sync",
	Short: "Run one gallery sync pass",
	Long: `Mirrors the drive folders into the gallery catalog: new images are added,
existing ones relinked to their event, and images gone from drive removed.

  --folder name   sync a single folder`,
	RunE: runGallerySync,
}

func init() {
	gallerySyncCmd.Flags().StringVar(&galleryFolder, "folder", "", "sync only this folder")
}

func runGallerySync(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	a, err := openApp(ctx, app.Options{Offline: true})
	if err != nil {
		return err
	}
	defer a.Close()

	if a.Gallery == nil {
		return errors.New("gallery sync is disabled: set gallery.enabled and drive.credentials_file")
	}

	var result *gallery.Result
	if galleryFolder != "" {
		fmt.Printf("Syncing folder %q...\n", galleryFolder)
		result, err = a.Gallery.SyncFolder(ctx, galleryFolder, "cli")
	} else {
		fmt.Println("Syncing all folders...")
		result, err = a.Gallery.SyncAll(ctx, "cli")
	}
	if err != nil {
		return fmt.Errorf("gallery sync failed: %w", err)
	}

	fmt.Println()
	for _, f := range result.Folders {
		line := fmt.Sprintf("  %-30s synced %d, skipped %d, deleted %d, failed %d",
			f.Folder, f.Synced, f.Skipped, f.Deleted, f.Failed)
		if f.EventID != "" {
			line += " (event " + f.EventID + ")"
		}
		if f.Err != "" {
			line += " error: " + f.Err
		}
		fmt.Println(line)
	}
	fmt.Printf("\nTotal: synced %d, skipped %d, deleted %d, failed %d in %s\n",
		result.Synced, result.Skipped, result.Deleted, result.Failed, result.Duration.Round(time.Millisecond))
	return nil
}
