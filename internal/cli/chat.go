package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/chzyer/readline"
	"github.com/kodapet/koda/internal/llm"
	"github.com/m-mizutani/goerr/v2"
	"github.com/spf13/cobra"
)

var (
	chatPet     string
	chatPersona llm.Persona
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Talk to your pet from the terminal",
	Long: "Start an interactive chat. Every line is remembered, relevant memories are " +
		"recalled for the reply, and the conversation is summarized when you leave.\n\n" +
		"Commands: /close ends the current conversation, /quit exits.",
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVar(&chatPet, "pet", "", "pet id")
	chatCmd.Flags().StringVar(&chatPersona.Name, "name", "", "pet name")
	chatCmd.Flags().StringVar(&chatPersona.Species, "species", "", "species, e.g. 狗")
	chatCmd.Flags().StringVar(&chatPersona.Breed, "breed", "", "breed")
	chatCmd.Flags().Float64Var(&chatPersona.Age, "age", 0, "age in years")
	chatCmd.Flags().StringSliceVar(&chatPersona.Traits, "trait", nil, "personality trait (repeatable)")
	chatCmd.MarkFlagRequired("pet")
}

func historyFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".koda", "chat_history")
}

func runChat(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "you> ",
		HistoryFile:     historyFile(),
		InterruptPrompt: "^C",
		EOFPrompt:       "/quit",
	})
	if err != nil {
		return goerr.Wrap(err, "start console")
	}
	defer rl.Close()

	name := chatPersona.Name
	if name == "" && chatPersona.IsZero() {
		if p, err := a.db.GetPet(ctx, chatPet); err == nil && p != nil {
			name = p.Name
		}
	}
	if name == "" {
		name = "Koda"
	}
	out := rl.Stdout()
	fmt.Fprintf(out, "chatting with %s (pet %s). /close ends the conversation, /quit exits.\n", name, chatPet)

loop:
	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) {
			break loop
		}
		if err != nil {
			return goerr.Wrap(err, "read input")
		}
		line = strings.TrimSpace(line)

		switch line {
		case "":
			continue
		case "/quit", "/exit":
			break loop
		case "/close":
			conv, err := a.eng.CloseConversation(ctx, chatPet)
			switch {
			case err != nil:
				fmt.Fprintf(out, "close failed: %v\n", err)
			case conv == nil:
				fmt.Fprintln(out, "no open conversation")
			default:
				fmt.Fprintf(out, "conversation closed: %s (%s)\n", conv.Topic, conv.Summary)
			}
			continue
		}

		spin := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(os.Stderr))
		spin.Suffix = " " + name + " is thinking..."
		spin.Start()
		res, err := a.eng.Chat(ctx, chatPet, line, chatPersona)
		spin.Stop()
		if err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
			continue
		}
		fmt.Fprintf(out, "%s> %s\n", name, res.Reply)
	}

	if conv, err := a.eng.CloseConversation(ctx, chatPet); err == nil && conv != nil {
		fmt.Fprintf(out, "saved conversation: %s\n", conv.Topic)
	}
	return nil
}
