package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/soypete/alttext/pkg/assets"
	"github.com/soypete/alttext/pkg/jobs"
)

func jobsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect and maintain queued jobs",
	}
	cmd.AddCommand(jobsListCmd())
	cmd.AddCommand(jobsShowCmd())
	cmd.AddCommand(jobsActionCmd("cancel", "Cancel a pending job", func(a *app, cmd *cobra.Command, id string) error {
		return a.queue.Cancel(cmd.Context(), id)
	}))
	cmd.AddCommand(jobsActionCmd("retry", "Queue a failed or cancelled job again", func(a *app, cmd *cobra.Command, id string) error {
		return a.queue.Retry(cmd.Context(), id)
	}))
	cmd.AddCommand(jobsCleanupCmd())
	cmd.AddCommand(jobsImportCmd())
	return cmd
}

func jobsListCmd() *cobra.Command {
	var (
		status string
		limit  int
		offset int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), needs{})
			if err != nil {
				return err
			}
			defer a.Close()

			list, err := a.queue.List(cmd.Context(), jobs.ListOptions{Status: jobs.Status(status), Limit: limit, Offset: offset})
			if err != nil {
				return err
			}
			if len(list) == 0 {
				fmt.Println("No jobs")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSTATUS\tASSET\tSITE\tATTEMPTS\tCREATED\tERROR")
			for _, job := range list {
				fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%s\t%s\n",
					job.ID, job.Status, job.Payload.AssetID, job.Payload.SiteID, job.Attempts,
					job.CreatedAt.Format(time.RFC3339), job.ErrorKind)
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "Filter by status (pending, running, completed, failed, cancelled)")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum jobs to list")
	cmd.Flags().IntVar(&offset, "offset", 0, "Jobs to skip")
	return cmd
}

func jobsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <jobID>",
		Short: "Print a job as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), needs{})
			if err != nil {
				return err
			}
			defer a.Close()

			job, err := a.queue.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(job)
		},
	}
}

func jobsActionCmd(use, short string, action func(a *app, cmd *cobra.Command, id string) error) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <jobID>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), needs{})
			if err != nil {
				return err
			}
			defer a.Close()

			if err := action(a, cmd, args[0]); err != nil {
				return err
			}
			fmt.Printf("Job %s: %s done\n", args[0], use)
			return nil
		},
	}
}

func jobsCleanupCmd() *cobra.Command {
	var olderThan time.Duration
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete finished jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), needs{})
			if err != nil {
				return err
			}
			defer a.Close()

			n, err := a.queue.CleanupOldJobs(cmd.Context(), olderThan)
			if err != nil {
				return err
			}
			fmt.Printf("Deleted %d jobs\n", n)
			return nil
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 7*24*time.Hour, "Only delete jobs finished before this long ago")
	return cmd
}

func jobsImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import-files [stateDir]",
		Short: "Copy pending jobs from a file queue into postgres",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), needs{})
			if err != nil {
				return err
			}
			defer a.Close()

			db, ok := a.queue.(*jobs.DBManager)
			if !ok {
				return errors.New("queue.backend must be postgres to import file jobs")
			}
			dir := a.cfg.Queue.StateDir
			if len(args) == 1 {
				dir = args[0]
			}
			n, err := db.MigrateFromFiles(cmd.Context(), dir)
			if err != nil {
				return err
			}
			fmt.Printf("Imported %d pending jobs from %s\n", n, dir)
			return nil
		},
	}
}

func sitesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sites",
		Short: "List and add sites",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List sites in display order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), needs{})
			if err != nil {
				return err
			}
			defer a.Close()

			sites, err := a.assets.Sites(cmd.Context())
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tHANDLE\tNAME\tLANGUAGE\tPRIMARY")
			for _, s := range sites {
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%t\n", s.ID, s.Handle, s.Name, s.Language, s.Primary)
			}
			return w.Flush()
		},
	})
	cmd.AddCommand(sitesAddCmd())
	return cmd
}

func sitesAddCmd() *cobra.Command {
	var (
		language  string
		primary   bool
		sortOrder int
	)
	cmd := &cobra.Command{
		Use:   "add <handle> <name>",
		Short: "Add a site",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), needs{})
			if err != nil {
				return err
			}
			defer a.Close()

			site := &assets.Site{Handle: args[0], Name: args[1], Language: language, Primary: primary, SortOrder: sortOrder}
			if err := a.assets.CreateSite(cmd.Context(), site); err != nil {
				return err
			}
			fmt.Printf("Created site %d (%s)\n", site.ID, site.Handle)
			return nil
		},
	}
	cmd.Flags().StringVar(&language, "language", "en-US", "Language tag used in prompts")
	cmd.Flags().BoolVar(&primary, "primary", false, "Mark as the primary site")
	cmd.Flags().IntVar(&sortOrder, "sort-order", 0, "Position in site listings")
	return cmd
}
