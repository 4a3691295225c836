package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Thomashighbaugh/fiction-fabricator-sub002/internal/lorebook"
)

var lorebookCmd = &cobra.Command{
	Use:   "lorebook <name> [focus...]",
	Short: "Inspect a lorebook",
	Long: `List the entries of a lorebook, or with focus text print the excerpt a
scene about that focus would receive.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runLorebook,
}

var loreRunes int

func init() {
	rootCmd.AddCommand(lorebookCmd)
	lorebookCmd.Flags().IntVar(&loreRunes, "runes", 0, "Excerpt size in runes (default from config)")
}

func runLorebook(cmd *cobra.Command, args []string) error {
	book, err := lorebook.Store{Dir: cfg.Paths.LorebookDir}.Load(args[0])
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	if len(args) == 1 {
		fmt.Fprintf(out, "%s: %d entries\n", args[0], len(book.Entries))
		for i, e := range book.Entries {
			keys := "(always)"
			if len(e.Keys) > 0 {
				keys = strings.Join(e.Keys, ", ")
			}
			fmt.Fprintf(out, "%3d  %-40s %d runes\n", i+1, keys, len([]rune(e.Content)))
		}
		return nil
	}

	limit := loreRunes
	if limit <= 0 {
		limit = cfg.Pipeline.LoreExcerptRunes
	}
	fmt.Fprintln(out, book.Excerpt(strings.Join(args[1:], " "), limit))
	return nil
}
