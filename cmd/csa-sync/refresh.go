package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/bull/csa-content-sync/internal/app"
	"github.com/bull/csa-content-sync/internal/refresh"
)

var (
	refreshSources []string
	refreshForce   bool
)

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Run one content refresh pass",
	Long: `Fetches every tracked source, compares its content hash with the stored
one and re-indexes the sources that changed.

  --source id   refresh only the named sources, regardless of hash (repeatable)
  --force       refresh every tracked source, regardless of hash`,
	RunE: runRefresh,
}

func init() {
	refreshCmd.Flags().StringSliceVar(&refreshSources, "source", nil, "source id to force-refresh (repeatable)")
	refreshCmd.Flags().BoolVar(&refreshForce, "force", false, "re-index every source regardless of hash")
}

func runRefresh(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	start := time.Now()

	a, err := openApp(ctx, app.Options{NoGallery: true})
	if err != nil {
		return err
	}
	defer a.Close()

	ids := refreshSources
	if len(ids) == 0 && refreshForce {
		for _, src := range a.Registry.Sources() {
			ids = append(ids, src.ID)
		}
	}

	var result *refresh.Result
	if len(ids) > 0 {
		fmt.Printf("Force-refreshing %d sources...\n", len(ids))
		result, err = a.Refresh.RefreshSources(ctx, ids)
	} else {
		fmt.Printf("Checking %d sources for changes...\n", len(a.Registry.Sources()))
		result, err = a.Refresh.RefreshAll(ctx)
	}
	if err != nil {
		return fmt.Errorf("refresh failed: %w", err)
	}

	printRefresh(result)
	fmt.Printf("\nCompleted in %s\n", time.Since(start).Round(time.Millisecond))
	if len(result.Failed) > 0 {
		return fmt.Errorf("%d sources failed", len(result.Failed))
	}
	return nil
}

func printRefresh(r *refresh.Result) {
	fmt.Println()
	fmt.Println("Refresh summary:")
	fmt.Printf("  Checked:   %d\n", r.Checked)
	fmt.Printf("  Unchanged: %d\n", r.Unchanged)
	fmt.Printf("  Refreshed: %d (%d chunks)\n", r.Refreshed, r.Chunks)
	fmt.Printf("  Skipped:   %d\n", r.Skipped)
	fmt.Printf("  Failed:    %d\n", len(r.Failed))
	for _, f := range r.Failed {
		fmt.Printf("    - %s: %s\n", f.ID, f.Reason)
	}
}
