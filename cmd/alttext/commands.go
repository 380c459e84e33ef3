package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/soypete/alttext/pkg/alttext"
	"github.com/soypete/alttext/pkg/assets"
	"github.com/soypete/alttext/pkg/database"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			db, err := database.New(cmd.Context(), &cfg.Database)
			if err != nil {
				return err
			}
			defer db.Close()

			if err := db.Migrate(cmd.Context()); err != nil {
				return err
			}
			version, err := db.Version(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("Database at migration version %d\n", version)
			return nil
		},
	}
}

func importCmd() *cobra.Command {
	var (
		siteID int64
		title  string
	)
	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Import a file as an asset",
		Long: `Import copies a file onto the storage volume and creates an asset for it.

When generation.generate_on_asset_create is enabled, alt text generation is
queued for the new asset.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, needs{})
			if err != nil {
				return err
			}
			defer a.Close()

			site, err := a.primarySite(ctx, siteID)
			if err != nil {
				return err
			}

			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			asset, err := a.assets.Import(ctx, f, filepath.Base(args[0]), title, site)
			if err != nil {
				return fmt.Errorf("import %s: %w", args[0], err)
			}
			fmt.Printf("Imported asset %d: %s (%s, %dx%d)\n", asset.ID, asset.Filename, asset.MimeType, asset.Width, asset.Height)

			out, err := a.service.OnAssetCreated(ctx, asset)
			if err != nil {
				return err
			}
			if out != nil {
				printOutcome(out)
			}
			return nil
		},
	}
	cmd.Flags().Int64Var(&siteID, "site", 0, "Site the asset is created in (default: primary site)")
	cmd.Flags().StringVar(&title, "title", "", "Asset title (default: filename)")
	return cmd
}

func generateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate alt text for one asset or in bulk",
	}
	cmd.AddCommand(generateSingleCmd())
	cmd.AddCommand(generateBatchCmd("missing", "Queue generation for images without alt text", true))
	cmd.AddCommand(generateBatchCmd("all", "Queue regeneration for every image (requires --force)", false))
	return cmd
}

func generateSingleCmd() *cobra.Command {
	var inline, force bool
	cmd := &cobra.Command{
		Use:   "single <assetID> [siteID]",
		Short: "Generate alt text for one asset",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			assetID, err := parseID(args[0])
			if err != nil {
				return err
			}
			var siteID int64
			if len(args) == 2 {
				if siteID, err = parseID(args[1]); err != nil {
					return err
				}
			}

			ctx := cmd.Context()
			a, err := newApp(ctx, needs{vision: inline})
			if err != nil {
				return err
			}
			defer a.Close()

			out, err := a.service.RequestGeneration(ctx, alttext.GenerateRequest{
				AssetID: assetID,
				SiteID:  siteID,
				Force:   force,
				Inline:  inline,
			})
			if err != nil {
				return err
			}
			printOutcome(out)
			if out.Failed() > 0 {
				return fmt.Errorf("%d of %d items failed", out.Failed(), len(out.Items))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&inline, "inline", false, "Generate now instead of queueing the asset's own site")
	cmd.Flags().BoolVar(&force, "force", false, "Regenerate even if alt text exists or a job is queued")
	return cmd
}

func generateBatchCmd(use, short string, missingOnly bool) *cobra.Command {
	var (
		siteID    int64
		batchSize int
		force     bool
	)
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !missingOnly && !force {
				return errors.New("regenerating every image overwrites existing alt text; pass --force to confirm")
			}

			ctx := cmd.Context()
			a, err := newApp(ctx, needs{})
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.service.EnqueueBatch(ctx, alttext.BatchOptions{
				SiteID:      siteID,
				MissingOnly: missingOnly,
				Force:       force,
				BatchSize:   batchSize,
			})
			fmt.Printf("Assets: %d, queued: %d, already in progress: %d, failed: %d\n",
				res.Assets, res.Queued, res.Duplicates, res.Failed)
			return err
		},
	}
	cmd.Flags().Int64Var(&siteID, "site", 0, "Site to process (default: every site)")
	cmd.Flags().IntVar(&batchSize, "batch-size", 100, "Assets listed per page")
	cmd.Flags().BoolVar(&force, "force", false, "Regenerate even if a job is queued")
	return cmd
}

func statsCmd() *cobra.Command {
	var siteID int64
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show alt text coverage per site",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, needs{})
			if err != nil {
				return err
			}
			defer a.Close()

			var siteIDs []int64
			if siteID != 0 {
				siteIDs = []int64{siteID}
			}
			stats, err := a.assets.Stats(ctx, siteIDs)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "SITE\tNAME\tIMAGES\tWITH ALT\tMISSING\tCOVERAGE")
			rows := stats
			if len(stats) > 1 {
				rows = append(rows, assets.TotalStats(stats))
			}
			for _, st := range rows {
				fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%.1f%%\n", st.Handle, st.Name, st.Total, st.WithAlt, st.Missing(), st.Coverage())
			}
			return w.Flush()
		},
	}
	cmd.Flags().Int64Var(&siteID, "site", 0, "Only show this site")
	return cmd
}

func titleCmd() *cobra.Command {
	var (
		siteID int64
		apply  bool
	)
	cmd := &cobra.Command{
		Use:   "title <assetID>",
		Short: "Suggest a title for an image",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			assetID, err := parseID(args[0])
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			a, err := newApp(ctx, needs{vision: true})
			if err != nil {
				return err
			}
			defer a.Close()

			title, err := a.service.GenerateTitle(ctx, assetID, siteID, apply)
			if err != nil {
				return err
			}
			fmt.Println(title)
			return nil
		},
	}
	cmd.Flags().Int64Var(&siteID, "site", 0, "Site whose language is used (default: primary site)")
	cmd.Flags().BoolVar(&apply, "apply", false, "Save the title on the asset")
	return cmd
}

func filenameCmd() *cobra.Command {
	var (
		siteID int64
		apply  bool
	)
	cmd := &cobra.Command{
		Use:   "filename <assetID>",
		Short: "Suggest an SEO friendly filename for an image",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			assetID, err := parseID(args[0])
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			a, err := newApp(ctx, needs{vision: true})
			if err != nil {
				return err
			}
			defer a.Close()

			name, err := a.service.GenerateFilename(ctx, assetID, siteID, apply)
			if err != nil {
				return err
			}
			fmt.Println(name)
			return nil
		},
	}
	cmd.Flags().Int64Var(&siteID, "site", 0, "Site whose language is used (default: primary site)")
	cmd.Flags().BoolVar(&apply, "apply", false, "Rename the asset file")
	return cmd
}

func printOutcome(out *alttext.Outcome) {
	switch out.Notice {
	case alttext.NoticeNotAnImage:
		fmt.Println("Asset is not an image; nothing to do")
		return
	case alttext.NoticeDuplicateInProgress:
		fmt.Println("Alt text generation is already in progress")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SITE\tMODE\tRESULT")
	for _, item := range out.Items {
		result := item.AltText
		switch {
		case item.Err != nil:
			result = "error: " + item.Error
		case item.JobID != "":
			result = "queued as " + item.JobID
		}
		fmt.Fprintf(w, "%d\t%s\t%s\n", item.SiteID, item.Mode, result)
	}
	w.Flush()
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return id, nil
}
