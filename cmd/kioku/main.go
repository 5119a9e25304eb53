// kioku is a command-line chat client with durable, token-bounded memory.
//
// Each run is one turn: the prompt (from the arguments or stdin) is sent
// together with the running summary, the retained history and any attached
// files, and the reply is printed on stdout. Older turns are summarised
// automatically once the history outgrows its token budget.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/bdobrica/kioku/common/environment"
	"github.com/bdobrica/kioku/common/version"
	"github.com/bdobrica/kioku/internal/kioku/app"
	"github.com/bdobrica/kioku/internal/kioku/config"
	"github.com/bdobrica/kioku/internal/kioku/observability"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

type options struct {
	configPath  string
	envFiles    []string
	files       []string
	images      []string
	extractJSON bool
	repairJSON  bool
	outDir      string
	model       string
	logLevel    string
	summary     bool
	version     bool
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	var opts options

	flagSet := pflag.NewFlagSet("kioku", pflag.ContinueOnError)
	flagSet.SetOutput(stderr)
	flagSet.StringVarP(&opts.configPath, "config", "c", environment.StringOr("KIOKU_CONFIG", ""), "YAML configuration file")
	flagSet.StringSliceVar(&opts.envFiles, "env-file", []string{".env"}, "dotenv files to load (missing files are ignored)")
	flagSet.StringArrayVarP(&opts.files, "file", "f", nil, "attach a document (repeatable)")
	flagSet.StringArrayVarP(&opts.images, "image", "i", nil, "attach an image, read with OCR (repeatable)")
	flagSet.BoolVar(&opts.extractJSON, "extract-json", false, "save ```json blocks from the reply to files")
	flagSet.BoolVar(&opts.repairJSON, "repair-json", false, "repair malformed JSON blocks before saving")
	flagSet.StringVar(&opts.outDir, "out-dir", "", "directory for extracted JSON files")
	flagSet.StringVar(&opts.model, "model", "", "override the configured model")
	flagSet.StringVar(&opts.logLevel, "log-level", "", "debug, info, warn or error")
	flagSet.BoolVar(&opts.summary, "summary", false, "print the stored conversation summary and exit")
	flagSet.BoolVar(&opts.version, "version", false, "print version information and exit")
	flagSet.BoolP("help", "h", false, "show help")

	if err := flagSet.Parse(args); err != nil {
		if err == pflag.ErrHelp {
			printHelp(stderr, flagSet)
			return nil
		}
		return err
	}
	if help, _ := flagSet.GetBool("help"); help {
		printHelp(stderr, flagSet)
		return nil
	}
	if opts.version {
		fmt.Fprintf(stdout, "kioku %s\n", version.Info())
		return nil
	}

	cfg, err := config.Resolve(opts.configPath, opts.envFiles...)
	if err != nil {
		return err
	}
	applyFlags(&cfg, opts)
	logger := observability.Setup(stderr, cfg.Log.Level, cfg.Log.Format)

	if opts.summary {
		return printSummary(ctx, stdout, cfg)
	}

	prompt, err := readPrompt(flagSet.Args(), stdin)
	if err != nil {
		return err
	}

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.Chat(ctx, app.Request{
		Prompt:      prompt,
		Files:       opts.files,
		Images:      opts.images,
		ExtractJSON: opts.extractJSON,
	})
	if res.Reply != "" {
		fmt.Fprintln(stdout, res.Reply)
	}
	for _, p := range res.SavedJSON {
		fmt.Fprintf(stderr, "saved %s\n", p)
	}
	return err
}

func applyFlags(cfg *config.Config, opts options) {
	if opts.model != "" {
		cfg.Model = opts.model
	}
	if opts.outDir != "" {
		cfg.JSON.OutputDir = opts.outDir
	}
	if opts.repairJSON {
		cfg.JSON.Repair = true
	}
	if opts.logLevel != "" {
		cfg.Log.Level = opts.logLevel
	}
}

// readPrompt joins the positional arguments, or reads stdin when there are
// none and it is not a terminal.
func readPrompt(args []string, stdin io.Reader) (string, error) {
	if len(args) > 0 {
		return strings.Join(args, " "), nil
	}
	if f, ok := stdin.(*os.File); ok {
		if info, err := f.Stat(); err == nil && info.Mode()&os.ModeCharDevice != 0 {
			return "", errors.New("no prompt given (pass it as arguments or pipe it on stdin)")
		}
	}
	data, err := io.ReadAll(stdin)
	if err != nil {
		return "", fmt.Errorf("read prompt from stdin: %w", err)
	}
	prompt := strings.TrimSpace(string(data))
	if prompt == "" {
		return "", errors.New("empty prompt")
	}
	return prompt, nil
}

func printSummary(ctx context.Context, w io.Writer, cfg config.Config) error {
	st, closer, err := app.NewStore(ctx, cfg.Memory, nil)
	if err != nil {
		return err
	}
	if closer != nil {
		defer closer.Close()
	}
	state, err := st.Load(ctx)
	if err != nil {
		return err
	}
	if state.Summary == "" {
		fmt.Fprintln(w, "(no summary yet)")
	} else {
		fmt.Fprintln(w, state.Summary)
	}
	fmt.Fprintf(w, "\n%d messages retained\n", len(state.History))
	return nil
}

func printHelp(w io.Writer, flagSet *pflag.FlagSet) {
	fmt.Fprintf(w, `kioku: chat with a language model that remembers.

Usage:
  kioku [flags] <prompt...>
  echo "<prompt>" | kioku [flags]

The API key is read from KIOKU_API_KEY or OPENROUTER_API_KEY
(ANTHROPIC_API_KEY with provider: anthropic). Other settings come from
the --config YAML file and KIOKU_* variables.

Flags:
`)
	flagSet.PrintDefaults()
}
