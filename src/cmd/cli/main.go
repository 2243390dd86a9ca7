package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"typing-assistant/src/ai"
	"typing-assistant/src/auth"
	"typing-assistant/src/backend"
	"typing-assistant/src/config"
	"typing-assistant/src/logutil"
	"typing-assistant/src/prompt"
	"typing-assistant/src/settings"
)

const (
	maxFileSizeMB = 1
	maxFileSize   = maxFileSizeMB * 1024 * 1024
)

type cliOptions struct {
	text       string
	filePath   string
	length     int
	grade      int
	tone       string
	humanize   bool
	jsonOutput bool
	verbose    bool
	dataDir    string
	backendURL string
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	return runWithArgs(normalizeLegacyArgs(os.Args), os.Stdin, os.Stdout, os.Stderr)
}

func runWithArgs(args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	if len(args) == 0 {
		args = []string{"typing-assistant-cli"}
	}

	opts := &cliOptions{}
	cmd := newRootCmd(opts, stdin, stdout, stderr)
	cmd.SetArgs(args[1:])
	return cmd.Execute()
}

func newRootCmd(opts *cliOptions, stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "typing-assistant-cli",
		Short:         "Generate a response for text without the desktop resident",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			r := &runner{opts: *opts, stdin: stdin, stdout: stdout, stderr: stderr}
			return r.run(cmd.Context(), cmd)
		},
	}

	cmd.Flags().StringVar(&opts.text, "text", "", "Source text to respond to")
	cmd.Flags().StringVar(&opts.filePath, "file", "", "Path to a text file (use '-' for stdin)")
	cmd.Flags().IntVar(&opts.length, "length", 0, "Response length tier 1-5 (default from saved settings)")
	cmd.Flags().IntVar(&opts.grade, "grade", 0, "Grade level (default from saved settings)")
	cmd.Flags().StringVar(&opts.tone, "tone", "", "Tone (default from saved settings)")
	cmd.Flags().BoolVar(&opts.humanize, "humanize", false, "Run the result through the local humanizer")
	cmd.Flags().BoolVar(&opts.jsonOutput, "json", false, "Output results as JSON")
	cmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "Verbose output to stderr")
	cmd.Flags().StringVar(&opts.dataDir, "data-dir", "", "Directory holding settings.json and auth.json")
	cmd.Flags().StringVar(&opts.backendURL, "backend-url", "", "Local automation backend URL, used by --humanize")
	cmd.MarkFlagsMutuallyExclusive("text", "file")
	cmd.MarkFlagsOneRequired("text", "file")

	return cmd
}

func normalizeLegacyArgs(args []string) []string {
	if len(args) == 0 {
		return args
	}

	normalized := make([]string, len(args))
	copy(normalized, args)

	long := []string{"text", "file", "length", "grade", "tone", "humanize", "json", "verbose", "data-dir", "backend-url"}
	for i := 1; i < len(normalized); i++ {
		arg := normalized[i]
		for _, name := range long {
			if arg == "-"+name || strings.HasPrefix(arg, "-"+name+"=") {
				normalized[i] = "-" + arg
				break
			}
		}
	}

	return normalized
}

type runner struct {
	opts   cliOptions
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
	log    *zap.SugaredLogger
}

func (r *runner) verbosef(format string, args ...any) {
	if r.opts.verbose {
		fmt.Fprintf(r.stderr, "[verbose] "+format+"\n", args...)
	}
}

func (r *runner) run(ctx context.Context, cmd *cobra.Command) error {
	if ctx == nil {
		ctx = context.Background()
	}
	r.log = logutil.Nop().SugaredLogger
	if r.opts.verbose {
		r.log = logutil.Setup(logutil.Options{Debug: true}).SugaredLogger
	}

	cfg, err := config.LoadWithOptions(config.LoadOptions{DataDirOverride: r.opts.dataDir, BackendURLOverride: r.opts.backendURL})
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	r.verbosef("AI server: %s", cfg.AIServerURL)

	source, err := r.readSource()
	if err != nil {
		return err
	}

	gen, err := r.generation(cfg, cmd)
	if err != nil {
		return err
	}

	authStore, err := auth.Open(cfg.Path(config.AuthFileName))
	if err != nil {
		return err
	}
	if tok := authStore.Token(); tok != "" {
		r.verbosef("Using token %s", logutil.RedactKey(tok))
	}

	client := ai.New(ai.Config{BaseURL: cfg.AIServerURL, Timeout: cfg.HTTPTimeout, Tokens: authStore}, r.log.Named("ai"))
	start := time.Now()
	text, err := client.Generate(ctx, prompt.Build(source, gen), gen, func(pct int) {
		r.verbosef("Progress %d%%", pct)
	})
	if err != nil {
		var aiErr *ai.Error
		if errors.As(err, &aiErr) {
			return errors.New(aiErr.Message)
		}
		return fmt.Errorf("generation failed: %w", err)
	}
	r.verbosef("Generated %d characters in %v", len(text), time.Since(start))

	humanized := false
	if gen.Humanizer {
		be := backend.New(cfg.BackendURL, cfg.HTTPTimeout, r.log.Named("backend"))
		if h, err := be.Humanize(ctx, text, gen); err != nil {
			fmt.Fprintf(r.stderr, "Warning: humanizer unavailable, using unmodified text: %v\n", err)
		} else {
			text, humanized = h, true
		}
	}

	return r.output(Result{
		Text:      text,
		Source:    r.sourceName(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Duration:  time.Since(start).Seconds(),
		CharCount: len(text),
		Humanized: humanized,
		Settings:  gen,
	})
}

func (r *runner) sourceName() string {
	if r.opts.filePath != "" {
		return r.opts.filePath
	}
	return "text"
}

func (r *runner) readSource() (string, error) {
	if r.opts.filePath == "" {
		if strings.TrimSpace(r.opts.text) == "" {
			return "", errors.New("source text is empty")
		}
		return r.opts.text, nil
	}

	var data []byte
	var err error
	if r.opts.filePath == "-" {
		r.verbosef("Reading text from stdin")
		data, err = io.ReadAll(io.LimitReader(r.stdin, maxFileSize+1))
		if err != nil {
			return "", fmt.Errorf("failed to read from stdin: %w", err)
		}
	} else {
		r.verbosef("Reading text from file: %s", r.opts.filePath)
		data, err = os.ReadFile(r.opts.filePath)
		if err != nil {
			return "", fmt.Errorf("failed to read file %s: %w", r.opts.filePath, err)
		}
	}

	if len(data) > maxFileSize {
		return "", fmt.Errorf("input exceeds maximum size of %d MB", maxFileSizeMB)
	}
	if strings.TrimSpace(string(data)) == "" {
		return "", errors.New("input file is empty")
	}
	return string(data), nil
}

// generation starts from the saved settings and applies the flags that were
// set explicitly.
func (r *runner) generation(cfg *config.Config, cmd *cobra.Command) (settings.Generation, error) {
	store, err := settings.Open(cfg.Path(config.SettingsFile))
	if err != nil {
		return settings.Generation{}, err
	}
	g := store.Snapshot()

	flags := cmd.Flags()
	if flags.Changed("length") {
		g.ResponseLength = r.opts.length
	}
	if flags.Changed("grade") {
		g.GradeLevel = r.opts.grade
	}
	if flags.Changed("tone") {
		g.Tone = r.opts.tone
	}
	if flags.Changed("humanize") {
		g.Humanizer = r.opts.humanize
	}
	if err := g.Validate(); err != nil {
		return settings.Generation{}, err
	}
	return g, nil
}

type Result struct {
	Text      string              `json:"text"`
	Source    string              `json:"source"`
	Timestamp string              `json:"timestamp"`
	Duration  float64             `json:"duration_seconds"`
	CharCount int                 `json:"character_count"`
	Humanized bool                `json:"humanized"`
	Settings  settings.Generation `json:"settings"`
}

func (r *runner) output(res Result) error {
	if !r.opts.jsonOutput {
		fmt.Fprint(r.stdout, res.Text)
		return nil
	}

	encoder := json.NewEncoder(r.stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(res); err != nil {
		return fmt.Errorf("failed to encode JSON output: %w", err)
	}
	return nil
}
