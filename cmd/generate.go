package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mohammad-safakhou/podcaster/config"
	"github.com/mohammad-safakhou/podcaster/internal/agent/core"
	"github.com/mohammad-safakhou/podcaster/internal/agent/pipeline"
	"github.com/mohammad-safakhou/podcaster/internal/agent/research"
	"github.com/mohammad-safakhou/podcaster/internal/runtime"
	"github.com/mohammad-safakhou/podcaster/internal/tts"
)

type generateFlags struct {
	cfgPath         string
	instruction     string
	hostName        string
	hostBackground  string
	guestName       string
	guestBackground string
	out             string
	save            bool
	speak           bool
	hostVoice       string
	guestVoice      string
}

func (f *generateFlags) speakers() pipeline.Speakers {
	return pipeline.Speakers{
		Host:  core.Identity{Name: f.hostName, Background: f.hostBackground},
		Guest: core.Identity{Name: f.guestName, Background: f.guestBackground},
	}
}

func generateCMD() *cobra.Command {
	f := &generateFlags{}
	var gen = &cobra.Command{
		Use:   "generate",
		Short: "Generate a podcast script and print it as JSON",
	}
	pf := gen.PersistentFlags()
	pf.StringVarP(&f.cfgPath, "config", "c", "", "config file (default is .)")
	pf.StringVar(&f.instruction, "instruction", "", "extra guidance for the outline and dialogue")
	pf.StringVar(&f.hostName, "host-name", "", "host display name")
	pf.StringVar(&f.hostBackground, "host-background", "", "host background")
	pf.StringVar(&f.guestName, "guest-name", "", "guest display name")
	pf.StringVar(&f.guestBackground, "guest-background", "", "guest background")
	pf.StringVarP(&f.out, "out", "o", "", "write the script to this file instead of stdout")
	pf.BoolVar(&f.save, "save", false, "persist the script to postgres")
	pf.BoolVar(&f.speak, "speak", false, "synthesize audio for the script")
	pf.StringVar(&f.hostVoice, "host-voice", "", "host voice for --speak")
	pf.StringVar(&f.guestVoice, "guest-voice", "", "guest voice for --speak")

	gen.AddCommand(generatePromptCMD(f), generatePDFCMD(f), generateArxivCMD(f))
	return gen
}

func generatePromptCMD(f *generateFlags) *cobra.Command {
	var maxAnalysts int
	var feedback string
	var interactive bool
	cmd := &cobra.Command{
		Use:   "prompt <topic>",
		Short: "Research a topic with analyst interviews and script it",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := pipeline.PromptInput{
				Topic:       strings.Join(args, " "),
				Instruction: f.instruction,
				MaxAnalysts: maxAnalysts,
				Feedback:    feedback,
				Speakers:    f.speakers(),
			}
			if interactive {
				in.Review = reviewAnalysts(os.Stdin, os.Stderr)
			}
			return runGenerate(cmd.Context(), f, func(ctx context.Context, p *pipeline.Service) (*core.ScriptResult, error) {
				return p.FromPrompt(ctx, in)
			})
		},
	}
	cmd.Flags().IntVar(&maxAnalysts, "max-analysts", 0, "number of analyst personas (default from config)")
	cmd.Flags().StringVar(&feedback, "feedback", "", "one round of feedback applied to the generated analysts")
	cmd.Flags().BoolVar(&interactive, "interactive", false, "review the analyst team on stdin before interviews start")
	return cmd
}

func generatePDFCMD(f *generateFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "pdf <file.pdf>",
		Short: "Summarize a local PDF and script it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGenerate(cmd.Context(), f, func(ctx context.Context, p *pipeline.Service) (*core.ScriptResult, error) {
				return p.FromPDF(ctx, pipeline.PDFInput{Path: args[0], Instruction: f.instruction, Speakers: f.speakers()})
			})
		},
	}
}

func generateArxivCMD(f *generateFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "arxiv <https://arxiv.org/abs/ID>",
		Short: "Fetch the latest version of an arXiv paper and script it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGenerate(cmd.Context(), f, func(ctx context.Context, p *pipeline.Service) (*core.ScriptResult, error) {
				return p.FromArxiv(ctx, pipeline.ArxivInput{URL: args[0], Instruction: f.instruction, Speakers: f.speakers()})
			})
		},
	}
}

func runGenerate(parent context.Context, f *generateFlags, run func(context.Context, *pipeline.Service) (*core.ScriptResult, error)) error {
	cfg := config.LoadConfig(f.cfgPath)
	ctx, cancel := runtime.SignalContext(parent, "generate")
	defer cancel()

	logger := log.New(os.Stderr, "[GENERATE] ", log.LstdFlags)
	app, err := runtime.Build(ctx, cfg, runtime.Options{Logger: logger})
	if err != nil {
		return err
	}
	defer app.Close()
	if f.save && app.Store == nil {
		return fmt.Errorf("--save requires storage.postgres")
	}
	if f.speak && app.Speech == nil {
		return fmt.Errorf("--speak requires tts.enabled")
	}

	res, err := run(ctx, app.Pipelines)
	if err != nil {
		return err
	}
	if f.save {
		if err := app.Store.SaveScript(ctx, res); err != nil {
			return fmt.Errorf("save script: %w", err)
		}
		logger.Printf("saved script %s", res.ID)
	}
	if f.speak {
		voices, err := tts.Voices{Host: f.hostVoice, Guest: f.guestVoice}.Merge(app.Speech.Defaults())
		if err != nil {
			return err
		}
		audio, err := app.Speech.Synthesize(ctx, res, voices)
		if err != nil {
			return fmt.Errorf("synthesize: %w", err)
		}
		logger.Printf("audio written to %s", audio.Merged)
	}
	return writeScript(f.out, res)
}

func writeScript(path string, res *core.ScriptResult) error {
	var w io.Writer = os.Stdout
	if path != "" {
		file, err := os.Create(path)
		if err != nil {
			return err
		}
		defer file.Close()
		w = file
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(res)
}

// reviewAnalysts prints the proposed analysts and reads one line of feedback.
// An empty line accepts the team.
func reviewAnalysts(in io.Reader, out io.Writer) research.FeedbackFunc {
	scanner := bufio.NewScanner(in)
	return func(ctx context.Context, analysts []core.Analyst) (string, error) {
		fmt.Fprintln(out, "Proposed analysts:")
		for i, a := range analysts {
			fmt.Fprintf(out, "  %d. %s (%s, %s)\n     %s\n", i+1, a.Name, a.Role, a.Affiliation, a.Description)
		}
		fmt.Fprint(out, "Feedback (empty to accept): ")
		if !scanner.Scan() {
			return "", scanner.Err()
		}
		return strings.TrimSpace(scanner.Text()), nil
	}
}
