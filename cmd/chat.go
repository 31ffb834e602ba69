package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/xhad/medbot/pkg/pipeline"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Ask questions interactively from the terminal",
	Args:  cobra.NoArgs,
	RunE:  runChat,
}

func init() {
	rootCmd.AddCommand(chatCmd)
}

func runChat(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	logger := newLogger(false)

	chain, index, err := newChain(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer index.Close()

	color.Cyan("\nChat with your medical documents (type 'exit' to quit)")

	scanner := bufio.NewScanner(os.Stdin)
	userPrompt := color.New(color.FgGreen).PrintfFunc()
	assistantPrompt := color.New(color.FgCyan).PrintfFunc()
	sourceLine := color.New(color.Faint).PrintfFunc()

	for ctx.Err() == nil {
		userPrompt("\nYou: ")
		if !scanner.Scan() {
			break
		}

		query := strings.TrimSpace(scanner.Text())
		if strings.EqualFold(query, "exit") {
			break
		}
		if query == "" {
			continue
		}

		var answer *pipeline.Answer
		err := spin("🤖 Generating response...", func() error {
			var err error
			answer, err = chain.Answer(ctx, query)
			return err
		})
		if err != nil {
			color.Red("Error: %v\n", err)
			continue
		}

		fmt.Print("\r")
		assistantPrompt("Assistant: %s\n", answer.Text)
		for i, src := range answer.Sources {
			sourceLine("  [%d] %s (%.3f)\n", i+1, src.Source, src.Score)
		}
	}

	return scanner.Err()
}
