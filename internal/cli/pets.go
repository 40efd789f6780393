package cli

import (
	"fmt"
	"strings"

	"github.com/kodapet/koda/internal/engine"
	"github.com/kodapet/koda/internal/model"
	"github.com/m-mizutani/goerr/v2"
	"github.com/spf13/cobra"
)

// --- pet command ---

var petProfile model.Pet

var petCmd = &cobra.Command{
	Use:   "pet [id]",
	Short: "Show or update a pet profile",
	Long:  "Without flags, prints the stored profile. With --name, creates or replaces it. Chat replies speak as the stored profile when no persona flags are given.",
	Args:  cobra.ExactArgs(1),
	RunE:  runPet,
}

func runPet(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	out := cmd.OutOrStdout()

	if cmd.Flags().Changed("name") {
		p := petProfile
		p.ID = args[0]
		if err := a.eng.SavePet(ctx, &p); err != nil {
			return err
		}
		fmt.Fprintf(out, "saved %s (%s)\n", p.ID, p.Name)
		return nil
	}

	p, err := a.db.GetPet(ctx, args[0])
	if err != nil {
		return goerr.Wrap(err, "load pet")
	}
	if p == nil {
		fmt.Fprintln(out, "No profile yet.")
		return nil
	}
	fmt.Fprintf(out, "%s  %s %s %s, %g years\n", p.ID, p.Name, p.Breed, p.Species, p.Age)
	if len(p.Traits) > 0 {
		fmt.Fprintf(out, "  traits: %s\n", strings.Join(p.Traits, ", "))
	}
	if p.Diet != "" {
		fmt.Fprintf(out, "  diet:   %s\n", p.Diet)
	}
	return nil
}

// --- log command ---

var (
	logPet     string
	logType    string
	logSummary string
	logDate    string
	logEmotion string
)

var logCmd = &cobra.Command{
	Use:   "log [content]",
	Short: "Record a health, diet, behavior or mood event as a memory",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runLog,
}

func runLog(cmd *cobra.Command, args []string) error {
	lt, err := model.ParseLogType(logType)
	if err != nil {
		return err
	}
	emotion, err := model.ParseEmotion(logEmotion)
	if err != nil {
		return err
	}
	date, err := parseBound("date", logDate)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.eng.RecordEvent(ctx, engine.Event{
		PetID:   logPet,
		Type:    lt,
		Summary: logSummary,
		Content: strings.Join(args, " "),
		Date:    date,
		Emotion: emotion,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "logged %s event %s (memory %s, importance %.2f)\n",
		res.Log.Type, res.Log.ID, res.Fragment.ID, res.Fragment.Importance)
	return nil
}

// --- mood command ---

var (
	moodPet  string
	moodDays int
)

var moodCmd = &cobra.Command{
	Use:   "mood",
	Short: "Show the daily mood trend from emotion logs",
	RunE:  runMood,
}

func runMood(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	trend, err := a.eng.MoodTrend(ctx, moodPet, moodDays)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(trend) == 0 {
		fmt.Fprintln(out, "No mood logs.")
		return nil
	}
	for _, d := range trend {
		fmt.Fprintf(out, "%s  %s  %+.2f  (%d logs)\n", d.Date, cell(emotionLabel(d.MainEmotion), 7), d.AvgSentiment, d.Logs)
	}
	return nil
}

func init() {
	petCmd.Flags().StringVar(&petProfile.Name, "name", "", "pet name")
	petCmd.Flags().StringVar(&petProfile.Species, "species", "", "species, e.g. 狗")
	petCmd.Flags().StringVar(&petProfile.Breed, "breed", "", "breed")
	petCmd.Flags().StringVar(&petProfile.Gender, "gender", "", "gender")
	petCmd.Flags().Float64Var(&petProfile.Age, "age", 0, "age in years")
	petCmd.Flags().StringVar(&petProfile.Diet, "diet", "", "usual diet")
	petCmd.Flags().StringSliceVar(&petProfile.Traits, "trait", nil, "personality trait (repeatable)")

	logCmd.Flags().StringVar(&logPet, "pet", "", "pet id")
	logCmd.Flags().StringVarP(&logType, "type", "t", "behavior", "chat, emotion, behavior, health or diet")
	logCmd.Flags().StringVar(&logSummary, "summary", "", "short title")
	logCmd.Flags().StringVar(&logDate, "date", "", "when it happened (default now)")
	logCmd.Flags().StringVar(&logEmotion, "emotion", "", "emotion tag; analyzed when empty")
	logCmd.MarkFlagRequired("pet")

	moodCmd.Flags().StringVar(&moodPet, "pet", "", "pet id")
	moodCmd.Flags().IntVar(&moodDays, "days", engine.DefaultMoodDays, "days to cover")
	moodCmd.MarkFlagRequired("pet")
}
