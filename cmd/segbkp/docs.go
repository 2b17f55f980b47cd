package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/cobra/doc"
)

var docsCmd = &cobra.Command{
	Use:    "gen-docs",
	Short:  "Generate man pages and markdown reference for segbkp",
	Hidden: true,
	Args:   cobra.NoArgs,
	RunE:   runGenDocs,
}

func init() {
	docsCmd.Flags().String("dir", "docs", "output directory")
	docsCmd.Flags().String("format", "all", "output format: man, markdown or all")
}

func runGenDocs(cmd *cobra.Command, _ []string) error {
	dir, _ := cmd.Flags().GetString("dir")       //nolint:errcheck // flag name is hardcoded
	format, _ := cmd.Flags().GetString("format") //nolint:errcheck // flag name is hardcoded

	root := cmd.Root()
	root.DisableAutoGenTag = true

	switch format {
	case "man":
		return genMan(root, dir)
	case "markdown":
		return genMarkdown(root, dir)
	case "all":
		if err := genMan(root, filepath.Join(dir, "man")); err != nil {
			return err
		}
		return genMarkdown(root, filepath.Join(dir, "markdown"))
	default:
		return fmt.Errorf("unknown format %q (use man, markdown or all)", format)
	}
}

func genMan(root *cobra.Command, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create man dir: %w", err)
	}
	return doc.GenManTree(root, &doc.GenManHeader{
		Title:   "SEGBKP",
		Section: "1",
		Source:  "segbkp " + version,
		Manual:  "segbkp manual",
	}, dir)
}

func genMarkdown(root *cobra.Command, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create markdown dir: %w", err)
	}
	return doc.GenMarkdownTree(root, dir)
}
