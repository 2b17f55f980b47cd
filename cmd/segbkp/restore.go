package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/bamsammich/segbkp/internal/restore"
	"github.com/bamsammich/segbkp/internal/ui"
)

func newRestoreCmd(flags *globalFlags) *cobra.Command {
	var keepSources bool

	cmd := &cobra.Command{
		Use:   "restore [flags] <archive-dir> <restore-root>",
		Short: "Rebuild segment trees from a directory of archives",
		Long: `restore combines split parts, extracts every archive in archive-dir and
merges each payload into restore-root at the path recorded in the archive.

Combining is resumable: rerunning after an interruption continues from the
last completed part.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			level, err := flags.level("")
			if err != nil {
				return err
			}
			logger, closeLog, err := newLogger(level, flags.quiet, "")
			if err != nil {
				return err
			}
			defer closeLog()

			report, err := restore.Restore(cmd.Context(), restore.Options{
				Logger:      logger,
				ArchiveDir:  args[0],
				RestoreRoot: args[1],
				KeepSources: keepSources,
			})
			if err != nil {
				return err
			}

			if !flags.quiet {
				printReport(report)
			}
			if report.Failed() > 0 {
				return &exitError{code: 1}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&keepSources, "keep-sources", false,
		"leave archives and parts in place after a successful restore")
	return cmd
}

func printReport(report restore.Report) {
	for _, a := range report.Archives {
		if a.Err != nil {
			fmt.Fprintf(os.Stdout, "%s  failed  %v\n", a.Name, a.Err)
			continue
		}
		fmt.Fprintf(os.Stdout, "%s  %s  %s  %s\n", a.Name, a.Kind, a.Destination, ui.FormatDuration(a.Duration))
		for _, c := range a.Conflicts {
			fmt.Fprintf(os.Stdout, "  conflict  %v\n", c)
		}
	}
	fmt.Fprintf(os.Stderr, "restored %d of %d archives\n",
		len(report.Archives)-report.Failed(), len(report.Archives))
}
