package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/kodapet/koda/internal/engine"
	"github.com/kodapet/koda/internal/transcript"
	"github.com/m-mizutani/goerr/v2"
	"github.com/spf13/cobra"
)

// --- recall command ---

var (
	recallPet string
	recallK   int
)

var recallCmd = &cobra.Command{
	Use:   "recall [query]",
	Short: "Show the memories most relevant to a query",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runRecall,
}

func runRecall(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	query := strings.Join(args, " ")
	ranked := a.eng.Recall(ctx, recallPet, query, engine.RecallOptions{TopK: recallK})
	if len(ranked) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No memories found.")
		return nil
	}
	printRanked(cmd.OutOrStdout(), ranked, time.Now())
	return nil
}

// --- memories command ---

var (
	memoriesPet   string
	memoriesFrom  string
	memoriesTo    string
	memoriesLimit int
)

var memoriesCmd = &cobra.Command{
	Use:   "memories",
	Short: "List a pet's stored memories, newest first",
	RunE:  runMemories,
}

func parseBound(name, v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	t := engine.ParseTimestamp(v)
	if t.IsZero() {
		return t, goerr.New("invalid time", goerr.V("flag", name), goerr.V("value", v))
	}
	return t, nil
}

func runMemories(cmd *cobra.Command, args []string) error {
	from, err := parseBound("from", memoriesFrom)
	if err != nil {
		return err
	}
	to, err := parseBound("to", memoriesTo)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	frags, err := a.db.ListFragments(ctx, memoriesPet, from, to)
	if err != nil {
		return goerr.Wrap(err, "list memories")
	}
	if len(frags) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No memories yet.")
		return nil
	}
	total := len(frags)
	if memoriesLimit > 0 && total > memoriesLimit {
		frags = frags[:memoriesLimit]
	}
	printFragments(cmd.OutOrStdout(), frags, time.Now())
	if len(frags) < total {
		fmt.Fprintf(cmd.OutOrStdout(), "... %d more\n", total-len(frags))
	}
	return nil
}

// --- prune command ---

var (
	prunePet           string
	pruneMaxAgeDays    int
	pruneMinImportance float64
)

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete memories that are both old and unimportant",
	Long: "Delete memories older than --max-age-days whose importance is below " +
		"--min-importance. Without --pet, runs full maintenance (prune then dedup) for every pet.",
	RunE: runPrune,
}

func runPrune(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	out := cmd.OutOrStdout()

	if prunePet == "" {
		report, err := a.eng.RunMaintenance(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%d pets: pruned %d, deduplicated %d\n", report.Pets, report.Pruned, report.Deduped)
		return nil
	}

	maxAge, minImp := a.cfg.Memory.PruneMaxAgeDays, a.cfg.Memory.PruneMinImportance
	if cmd.Flags().Changed("max-age-days") {
		maxAge = pruneMaxAgeDays
	}
	if cmd.Flags().Changed("min-importance") {
		minImp = pruneMinImportance
	}
	removed, err := a.eng.Prune(ctx, prunePet, maxAge, minImp)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "pruned %d memories\n", removed)
	return nil
}

// --- dedup command ---

var dedupPet string

var dedupCmd = &cobra.Command{
	Use:   "dedup",
	Short: "Collapse near-identical memories",
	Long:  "Find near-identical memories of a pet and keep only the most important of each group. References to removed memories move to the survivor.",
	RunE:  runDedup,
}

func runDedup(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	removed, err := a.eng.Dedup(ctx, dedupPet)
	if err != nil {
		return err
	}
	if removed == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No duplicates found.")
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "removed %d duplicates\n", removed)
	return nil
}

// --- import command ---

var importPet string

var importCmd = &cobra.Command{
	Use:   "import [chat.jsonl]",
	Short: "Import a JSONL chat log as a closed conversation",
	Args:  cobra.ExactArgs(1),
	RunE:  runImport,
}

func runImport(cmd *cobra.Command, args []string) error {
	msgs, err := transcript.ParseFile(args[0])
	if err != nil {
		return err
	}
	if len(msgs) == 0 {
		return goerr.New("chat log has no messages", goerr.V("path", args[0]))
	}

	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	conv, err := a.eng.ImportConversation(ctx, importPet, msgs)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "imported %d messages (%d from the user) as conversation %s\n",
		len(msgs), transcript.CountUserMessages(msgs), conv.ID)
	fmt.Fprintf(out, "  topic:     %s\n", conv.Topic)
	fmt.Fprintf(out, "  summary:   %s\n", conv.Summary)
	fmt.Fprintf(out, "  memories:  %d\n", len(conv.Fragments))
	for _, kp := range conv.KeyPoints {
		fmt.Fprintf(out, "  - %s\n", kp)
	}
	return nil
}

func init() {
	recallCmd.Flags().StringVar(&recallPet, "pet", "", "pet id")
	recallCmd.Flags().IntVarP(&recallK, "top", "k", 0, "number of memories (default from config)")
	recallCmd.MarkFlagRequired("pet")

	memoriesCmd.Flags().StringVar(&memoriesPet, "pet", "", "pet id")
	memoriesCmd.Flags().StringVar(&memoriesFrom, "from", "", "only memories at or after this time")
	memoriesCmd.Flags().StringVar(&memoriesTo, "to", "", "only memories at or before this time")
	memoriesCmd.Flags().IntVarP(&memoriesLimit, "limit", "n", 20, "maximum rows, 0 for all")
	memoriesCmd.MarkFlagRequired("pet")

	pruneCmd.Flags().StringVar(&prunePet, "pet", "", "pet id (empty runs maintenance for all pets)")
	pruneCmd.Flags().IntVar(&pruneMaxAgeDays, "max-age-days", 365, "age threshold in days")
	pruneCmd.Flags().Float64Var(&pruneMinImportance, "min-importance", 0.3, "importance threshold")

	dedupCmd.Flags().StringVar(&dedupPet, "pet", "", "pet id")
	dedupCmd.MarkFlagRequired("pet")

	importCmd.Flags().StringVar(&importPet, "pet", "", "pet id")
	importCmd.MarkFlagRequired("pet")
}
