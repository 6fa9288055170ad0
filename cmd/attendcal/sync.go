package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"attendcal/internal/importer"
	appLog "attendcal/internal/log"
	"attendcal/internal/reconcile"
	"attendcal/internal/store"
	"attendcal/internal/store/memstore"
)

// syncOptions holds flags for the sync command.
type syncOptions struct {
	*rootOptions
	year   string
	all    bool
	file   string
	manual bool
	dryRun bool
}

func newSyncCommand(rootOpts *rootOptions) *cobra.Command {
	opts := &syncOptions{rootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Import one year (or every year) now and print the report",
		Long: `Import the timetable of one academic year and reconcile it with the
stored sessions.

By default the feed is fetched from the link configured for the year. With
--file a local ICS export is imported instead. --manual enables the merge of
overlapping and back-to-back slots of each day. --dry-run works on an
in-memory copy of the year and leaves the database untouched.

Example:
  attendcal sync --year 3A
  attendcal sync --year 3A --file ./3A.ics --manual --dry-run
  attendcal sync --all`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(cmd.Context(), opts, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&opts.year, "year", "", "academic year (cohort tag) to import")
	cmd.Flags().BoolVar(&opts.all, "all", false, "import every configured year")
	cmd.Flags().StringVar(&opts.file, "file", "", "import this ICS file instead of fetching the feed")
	cmd.Flags().BoolVar(&opts.manual, "manual", false, "merge overlapping and consecutive slots before reconciling")
	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "reconcile an in-memory copy; nothing is written")
	cmd.MarkFlagsMutuallyExclusive("year", "all")
	cmd.MarkFlagsMutuallyExclusive("file", "all")
	cmd.MarkFlagsOneRequired("year", "all")

	return cmd
}

func runSync(ctx context.Context, opts *syncOptions, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	conf, err := loadConfig(opts.rootOptions)
	if err != nil {
		return err
	}

	db, err := openStore(conf)
	if err != nil {
		return err
	}
	defer db.Close()

	var (
		st     store.SessionStore   = db
		roster store.RosterProvider = db
	)
	if opts.dryRun {
		years := []string{opts.year}
		if opts.all {
			years = years[:0]
			for _, l := range conf.Links {
				years = append(years, l.Year)
			}
		}
		mem, err := snapshot(ctx, db, years)
		if err != nil {
			return err
		}
		st, roster = mem, mem
		appLog.Info("dry run: working on an in-memory copy", "years", len(years))
	}

	svc := importer.New(conf, st, roster)
	mode := reconcile.ModeScheduled
	if opts.manual {
		mode = reconcile.ModeManual
	}

	var reports []*reconcile.Report
	switch {
	case opts.all:
		reports = svc.SyncAll(ctx)
	case opts.file != "":
		body, err := os.ReadFile(opts.file)
		if err != nil {
			return err
		}
		if opts.manual {
			reports = append(reports, svc.ReconcileManual(ctx, opts.year, body))
		} else {
			reports = append(reports, svc.Reconcile(ctx, opts.year, body))
		}
	default:
		rep, err := svc.SyncYear(ctx, opts.year, mode)
		if err != nil {
			return err
		}
		reports = append(reports, rep)
	}

	return printReports(out, reports)
}

// snapshot copies the sessions, attendance rows and roster of years into a
// fresh in-memory store.
func snapshot(ctx context.Context, src interface {
	store.SessionStore
	store.RosterProvider
}, years []string) (*memstore.Store, error) {
	mem := memstore.New()
	for _, year := range years {
		students, err := src.StudentsForYear(ctx, year)
		if err != nil {
			return nil, err
		}
		mem.SetRoster(year, students...)

		sessions, err := src.ListByYear(ctx, year)
		if err != nil {
			return nil, err
		}
		for _, s := range sessions {
			rows, err := src.Attendances(ctx, s.ID)
			if err != nil {
				return nil, err
			}
			s.Attendances = rows
			if err := mem.Create(ctx, &s); err != nil {
				return nil, err
			}
		}
	}
	return mem, nil
}

func printReports(out io.Writer, reports []*reconcile.Report) error {
	var failed []error
	for _, r := range reports {
		fmt.Fprintf(out, "%s [%s] slots=%d created=%d recreated=%d updated=%d unchanged=%d covered=%d deleted=%d protected=%d consolidated=%d\n",
			r.Year, r.Mode, r.Slots, r.Created, r.Recreated, r.Updated, r.Unchanged, r.Covered, r.Deleted, r.Protected, r.Consolidated)
		if !r.OK() {
			fmt.Fprintf(out, "  error: %v\n", r.Error())
			failed = append(failed, fmt.Errorf("year %s: %w", r.Year, r.Error()))
		}
	}
	return errors.Join(failed...)
}
