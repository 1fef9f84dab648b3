package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/creastat/llmkit/pkg/models"
)

var (
	chatStream      bool
	chatSystem      string
	chatModel       string
	chatTemperature float64
	chatMaxTokens   int
)

var chatCmd = &cobra.Command{
	Use:   "chat [message]",
	Short: "Send one message to the chat provider",
	Long: `Sends a single user message, optionally preceded by a system instruction,
and prints the reply. With --stream the reply is printed as it arrives.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runChat,
}

func init() {
	chatCmd.Flags().BoolVarP(&chatStream, "stream", "s", false, "print the reply as it is generated")
	chatCmd.Flags().StringVar(&chatSystem, "system", "", "system instruction sent before the message")
	chatCmd.Flags().StringVarP(&chatModel, "model", "m", "", "override the configured model")
	chatCmd.Flags().Float64Var(&chatTemperature, "temperature", 0, "override the configured temperature")
	chatCmd.Flags().IntVar(&chatMaxTokens, "max-tokens", 0, "override the configured token limit")
	rootCmd.AddCommand(chatCmd)
}

func runChat(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	client, err := current.chatClient(ctx)
	if err != nil {
		return err
	}

	prompt := chatPrompt(cmd, strings.Join(args, " "))

	if !chatStream {
		resp, err := client.Call(ctx, prompt)
		if err != nil {
			return err
		}
		if result := resp.Result(); result != nil {
			outln(cmd, result.Content)
		}
		return nil
	}

	responses, errs := client.Stream(ctx, prompt)
	for resp := range responses {
		if result := resp.Result(); result != nil {
			outf(cmd, "%s", result.Content)
		}
	}
	outln(cmd)
	if err := <-errs; err != nil {
		return fmt.Errorf("stream failed: %w", err)
	}
	return nil
}

// chatPrompt builds the prompt, carrying only the flags the user set
func chatPrompt(cmd *cobra.Command, text string) models.Prompt {
	var messages []models.Message
	if chatSystem != "" {
		messages = append(messages, models.SystemMessage(chatSystem))
	}
	messages = append(messages, models.UserMessage(text))
	prompt := models.NewPrompt(messages...)

	var opts models.ChatOptions
	overridden := false
	if cmd.Flags().Changed("model") {
		opts, overridden = opts.WithModel(chatModel), true
	}
	if cmd.Flags().Changed("temperature") {
		opts, overridden = opts.WithTemperature(chatTemperature), true
	}
	if cmd.Flags().Changed("max-tokens") {
		opts, overridden = opts.WithMaxTokens(chatMaxTokens), true
	}
	if overridden {
		prompt = prompt.WithOptions(opts)
	}
	return prompt
}
