package main

import (
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/bull/csa-content-sync/internal/app"
	"github.com/bull/csa-content-sync/internal/refresh"
	"github.com/bull/csa-content-sync/internal/source"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show index and gallery catalog status",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		a, err := openApp(ctx, app.Options{Offline: true, NoGallery: true})
		if err != nil {
			return err
		}
		defer a.Close()

		hashes, err := a.Hashes.Load()
		if err != nil {
			return err
		}
		fmt.Printf("Sources tracked:  %d configured, %d with stored hash (%s)\n",
			len(a.Registry.Sources()), len(hashes), a.Hashes.Path())

		stats, err := refresh.Stats(ctx, a.Index, refresh.SourceNamespaces(a.Registry)...)
		if err != nil {
			fmt.Printf("Vector index:     unavailable (%v)\n", err)
		} else {
			fmt.Printf("Vector index:     %d chunks\n", stats.Total)
			namespaces := make([]string, 0, len(stats.Namespaces))
			for ns := range stats.Namespaces {
				namespaces = append(namespaces, ns)
			}
			sort.Strings(namespaces)
			for _, ns := range namespaces {
				fmt.Printf("  %-15s %d\n", ns, stats.Namespaces[ns])
			}
		}

		counts, err := a.Catalog.FolderCounts(ctx)
		if err != nil {
			return err
		}
		total := 0
		for _, c := range counts {
			total += c.Images
		}
		fmt.Printf("Gallery catalog:  %d images in %d folders (%s)\n", total, len(counts), a.Catalog.Path())
		for _, c := range counts {
			fmt.Printf("  %-30s %d\n", c.Folder, c.Images)
		}
		return nil
	},
}

var (
	exportOut       string
	exportNamespace string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export indexed chunks as markdown",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		a, err := openApp(ctx, app.Options{Offline: true, NoGallery: true})
		if err != nil {
			return err
		}
		defer a.Close()

		f, err := os.Create(exportOut)
		if err != nil {
			return err
		}
		n, err := refresh.Export(ctx, a.Index, exportNamespace, f)
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return err
		}
		fmt.Printf("Exported %d chunks to %s\n", n, exportOut)
		return nil
	},
}

var (
	purgeNamespace string
	purgeYes       bool
)

var purgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete indexed chunks so the next pass re-indexes them",
	Long: `Deletes every chunk of --namespace (or of all namespaces when empty) and
forgets the stored hashes of the affected sources, so the next refresh
pass re-indexes them.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if !purgeYes {
			return fmt.Errorf("refusing to purge without --yes")
		}

		a, err := openApp(ctx, app.Options{Offline: true, NoGallery: true})
		if err != nil {
			return err
		}
		defer a.Close()

		target := purgeNamespace
		if target == "" {
			target = "all namespaces"
		}
		fmt.Printf("Purging %s...\n", target)

		sources, err := refresh.ListSources(ctx, a.Index, purgeNamespace)
		if err != nil {
			return err
		}
		fmt.Printf("Removing chunks of %d sources\n", len(sources))

		if err := a.Index.DeleteNamespace(ctx, purgeNamespace); err != nil {
			return fmt.Errorf("purge failed: %w", err)
		}

		hashes, err := a.Hashes.Load()
		if err != nil {
			return err
		}
		indexed := make(map[string]bool, len(sources))
		for _, id := range sources {
			indexed[id] = true
		}
		forgotten := 0
		for id := range hashes {
			if purgeNamespace != "" && !indexed[id] {
				src, ok := a.Registry.Lookup(id)
				if !ok || src.Namespace != purgeNamespace {
					continue
				}
			}
			delete(hashes, id)
			forgotten++
		}
		if err := a.Hashes.Save(hashes); err != nil {
			return err
		}

		fmt.Printf("Done. Forgot %d stored hashes.\n", forgotten)
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportOut, "out", "vector_export.md", "output file")
	exportCmd.Flags().StringVar(&exportNamespace, "namespace", source.NamespaceWebsite, "namespace to export (empty for all)")

	purgeCmd.Flags().StringVar(&purgeNamespace, "namespace", "", "namespace to purge (empty for all)")
	purgeCmd.Flags().BoolVar(&purgeYes, "yes", false, "confirm the purge")
}
