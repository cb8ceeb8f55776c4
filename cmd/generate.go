package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/conduit/internal/generate"
)

var generateCmd = &cobra.Command{
	Use:   "generate <prompt>",
	Short: "Send one prompt and print the reply",
	Long:  "Runs a single prompt through the orchestrator. Generate mode prints the validated MIDI blocks as JSON; chat mode prints the reply text.",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("generate"); err != nil {
			return err
		}

		mode, _ := cmd.Flags().GetString("mode")
		genre, _ := cmd.Flags().GetString("genre")

		a, err := newApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		resp, err := a.Orchestrator.Ask(ctx, generate.Request{
			Prompt: strings.Join(args, " "),
			Mode:   generate.Mode(mode),
			Genre:  genre,
		})
		if err != nil {
			a.Reporter.CaptureError(err, map[string]string{"command": "generate", "mode": mode})
			return eris.Wrap(err, "generate")
		}
		return printResponse(cmd.OutOrStdout(), generate.Mode(mode), resp)
	},
}

func printResponse(out io.Writer, mode generate.Mode, resp *generate.Response) error {
	if mode == generate.ModeChat {
		_, _ = fmt.Fprintln(out, resp.Text)
		if len(resp.Blocks) == 0 {
			return nil
		}
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(resp.Blocks); err != nil {
		return eris.Wrap(err, "encode blocks")
	}
	if resp.PatternID != nil {
		_, _ = fmt.Fprintf(out, "saved pattern %d (%s via %s)\n", *resp.PatternID, resp.Model, resp.Provider)
	}
	return nil
}

func init() {
	generateCmd.Flags().String("mode", string(generate.ModeGenerate), "request mode: chat or generate")
	generateCmd.Flags().String("genre", "", "genre hint for the system prompt")
	rootCmd.AddCommand(generateCmd)
}
