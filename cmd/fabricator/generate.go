package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/Thomashighbaugh/fiction-fabricator-sub002/internal/agent"
	"github.com/Thomashighbaugh/fiction-fabricator-sub002/internal/lorebook"
	"github.com/Thomashighbaugh/fiction-fabricator-sub002/internal/phase/fiction"
	"github.com/Thomashighbaugh/fiction-fabricator-sub002/internal/pipeline"
	"github.com/Thomashighbaugh/fiction-fabricator-sub002/internal/storage"
)

const defaultChapters = 12

var novelCmd = &cobra.Command{
	Use:   "novel [premise]",
	Short: "Generate a novel",
	Long: `Generate a novel from a premise. The outline is held to the requested
chapter count: missing chapters are appended, surplus chapters are trimmed.`,
	RunE: runGenerate(fiction.FormNovel),
}

var shortStoryCmd = &cobra.Command{
	Use:   "short-story [premise]",
	Short: "Generate a single-chapter short story",
	RunE:  runGenerate(fiction.FormShortStory),
}

var webNovelCmd = &cobra.Command{
	Use:   "web-novel [premise]",
	Short: "Generate or continue a web novel",
	Long: `Generate a web novel from a premise, or continue an earlier run with
--from <run-id>, appending --chapters new chapters shaped by --events.`,
	RunE: runGenerate(fiction.FormWebNovel),
}

var (
	premiseFile  string
	chapters     int
	targetWords  int
	maxScenes    int
	concurrency  int
	lorebookName string
	naming       string
	noCritique   bool
	noCache      bool
	fromRun      string
	events       string
)

func init() {
	for _, cmd := range []*cobra.Command{novelCmd, shortStoryCmd, webNovelCmd} {
		rootCmd.AddCommand(cmd)
		cmd.Flags().StringVarP(&premiseFile, "premise-file", "p", "", "Read the premise from a file ('-' for stdin)")
		cmd.Flags().IntVar(&maxScenes, "max-scenes", 0, "Most scenes per chapter (default from config)")
		cmd.Flags().IntVar(&concurrency, "concurrency", 0, "Chapters generated at once (default from config)")
		cmd.Flags().StringVarP(&lorebookName, "lorebook", "l", "", "Lorebook name in the lorebook dir, or a file path")
		cmd.Flags().StringVar(&naming, "naming", "descriptive", "Project folder naming: descriptive, timestamp or run-id")
		cmd.Flags().BoolVar(&noCritique, "no-critique", false, "Skip critique and revision rounds")
		cmd.Flags().BoolVar(&noCache, "no-cache", false, "Bypass the response cache")
	}
	for _, cmd := range []*cobra.Command{novelCmd, webNovelCmd} {
		cmd.Flags().IntVarP(&chapters, "chapters", "n", 0, "Chapter count (appended chapters with --from)")
		cmd.Flags().IntVarP(&targetWords, "words", "w", 0, "Target word count; picks a chapter count when --chapters is unset")
	}
	webNovelCmd.Flags().StringVar(&fromRun, "from", "", "Run ID of the web novel to continue")
	webNovelCmd.Flags().StringVar(&events, "events", "", "Events the appended chapters should cover")
}

func runGenerate(form fiction.Form) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		if cfg.Limits.TotalTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, cfg.Limits.TotalTimeout)
			defer cancel()
		}

		opts, project, err := prepareRun(ctx, cmd, form, args)
		if err != nil {
			return err
		}

		gateway, err := newGateway(cfg, !noCache)
		if err != nil {
			return err
		}

		ledger, err := openLedger()
		if err != nil {
			return err
		}
		defer ledger.Close()

		bus := pipeline.NewEventBus()
		defer bus.Stop()
		if _, err := bus.Subscribe("**", progressPrinter(cmd.ErrOrStderr()), 0); err != nil {
			return err
		}

		orc := pipeline.New(gateway, project.Storage(),
			pipeline.WithRunID(project.Metadata.RunID),
			pipeline.WithPrompts(agent.NewPromptCache(cfg.Prompts)),
			pipeline.WithRecordSink(ledger),
			pipeline.WithEvents(bus))

		slog.Info("project ready", "dir", project.Dir, "run_id", project.Metadata.RunID)

		result, runErr := orc.Run(ctx, opts)
		if result != nil {
			printResult(cmd.OutOrStdout(), project, result)
		}
		if runErr != nil {
			return fmt.Errorf("run %s: %w", project.Metadata.RunID, runErr)
		}
		return nil
	}
}

// prepareRun turns flags and config into run options and the project the
// run writes into.
func prepareRun(ctx context.Context, cmd *cobra.Command, form fiction.Form, args []string) (pipeline.RunOptions, *storage.Project, error) {
	opts := cfg.RunOptions()
	opts.Form = form
	if maxScenes > 0 {
		opts.MaxScenes = maxScenes
	}
	if concurrency > 0 {
		opts.ConcurrentChapters = concurrency
	}
	if noCritique {
		opts.Critique = false
	}

	namingMode, err := storage.ParseProjectNaming(naming)
	if err != nil {
		return opts, nil, err
	}
	projects := storage.NewProjectManager(cfg.Paths.OutputDir, namingMode)

	if form == fiction.FormWebNovel && fromRun != "" {
		return prepareContinuation(ctx, projects, opts)
	}

	premise, err := readPremise(cmd.InOrStdin(), args)
	if err != nil {
		return opts, nil, err
	}
	opts.Premise = premise
	opts.TargetWords = targetWords
	if form == fiction.FormWebNovel {
		opts.Events = events
	}
	switch {
	case form == fiction.FormShortStory:
		opts.TargetChapters = 1
	case chapters > 0:
		opts.TargetChapters = chapters
	case targetWords > 0:
		opts.TargetChapters = fiction.SuggestChapters(targetWords)
	default:
		opts.TargetChapters = defaultChapters
	}

	if err := attachLore(&opts, lorebookName); err != nil {
		return opts, nil, err
	}

	project, err := projects.Create(storage.ProjectMetadata{
		RunID:    uuid.NewString(),
		Form:     form.String(),
		Premise:  premise,
		Lorebook: opts.LoreName,
	})
	if err != nil {
		return opts, nil, err
	}
	return opts, project, nil
}

func prepareContinuation(ctx context.Context, projects *storage.ProjectManager, opts pipeline.RunOptions) (pipeline.RunOptions, *storage.Project, error) {
	if chapters < 1 {
		return opts, nil, errors.New("--chapters must name how many chapters to append")
	}

	project, err := projects.Find(fromRun)
	if err != nil {
		return opts, nil, err
	}
	snap, err := pipeline.LoadSnapshot(ctx, project.Storage(), fromRun)
	if err != nil {
		return opts, nil, err
	}

	opts.Existing = snap
	opts.Premise = snap.Premise
	opts.AppendChapters = chapters
	opts.Events = events

	name := lorebookName
	if name == "" {
		name = snap.LoreName
	}
	if err := attachLore(&opts, name); err != nil {
		return opts, nil, err
	}
	return opts, project, nil
}

// attachLore loads the named lorebook. A missing lorebook only warns.
func attachLore(opts *pipeline.RunOptions, name string) error {
	if name == "" {
		return nil
	}
	book, err := lorebook.Store{Dir: cfg.Paths.LorebookDir}.Load(name)
	if errors.Is(err, lorebook.ErrNotFound) {
		slog.Warn("lorebook not found, continuing without lore", "name", name, "dir", cfg.Paths.LorebookDir)
		return nil
	}
	if err != nil {
		return err
	}
	opts.Lore = book
	opts.LoreName = name
	return nil
}

func readPremise(stdin io.Reader, args []string) (string, error) {
	var premise string
	switch {
	case premiseFile == "-":
		data, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("reading premise from stdin: %w", err)
		}
		premise = string(data)
	case premiseFile != "":
		data, err := os.ReadFile(premiseFile)
		if err != nil {
			return "", fmt.Errorf("reading premise file: %w", err)
		}
		premise = string(data)
	default:
		premise = strings.Join(args, " ")
	}

	premise = strings.TrimSpace(premise)
	if premise == "" {
		return "", errors.New("a premise is required: pass it as an argument or with --premise-file")
	}
	return premise, nil
}

func printResult(w io.Writer, project *storage.Project, result *pipeline.RunResult) {
	fmt.Fprintf(w, "Run:      %s\n", result.RunID)
	fmt.Fprintf(w, "Status:   %s\n", result.Status)
	fmt.Fprintf(w, "Title:    %s\n", result.Document.Title)
	fmt.Fprintf(w, "Chapters: %d", len(result.Document.Chapters))
	if result.Outline != nil {
		fmt.Fprintf(w, " of %d outlined", result.Outline.Count())
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Words:    %d\n", result.Words)
	fmt.Fprintf(w, "Calls:    %d\n", len(result.Records))
	if result.Shortfall != nil {
		fmt.Fprintf(w, "Outline short by %d chapter(s): wanted %d, got %d\n",
			result.Shortfall.Missing(), result.Shortfall.Target, result.Shortfall.Got)
	}
	if len(result.Issues) > 0 {
		fmt.Fprintf(w, "Issues:   %d\n", len(result.Issues))
		for _, issue := range result.Issues {
			fmt.Fprintf(w, "  - [%s] %s\n", issue.Kind, issue.Message)
		}
	}
	fmt.Fprintf(w, "Output:   %s\n", project.Dir)
}
