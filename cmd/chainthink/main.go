package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"ChainThink/internal/backend"
	"ChainThink/internal/chain"
	"ChainThink/internal/config"
	"ChainThink/internal/session"
	"ChainThink/internal/telemetry"
	"ChainThink/internal/transcript"
)

func main() {
	fs := flag.NewFlagSet(os.Args[0], flag.ExitOnError)
	opts := registerFlags(fs)
	_ = fs.Parse(os.Args[1:])

	cfg, err := opts.load(fs)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	if err := run(context.Background(), cfg, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// cliFlags holds the command line values before they are merged into the config
type cliFlags struct {
	configFile string
	overrides  config.Config
}

func registerFlags(fs *flag.FlagSet) *cliFlags {
	f := &cliFlags{}
	fs.StringVar(&f.configFile, "config", "", "Optional config file (yaml, toml or json)")
	fs.StringVar(&f.overrides.Provider, "provider", "", "Completion provider (groq|openai|grok)")
	fs.StringVar(&f.overrides.Model, "model", "", "Model identifier (default depends on provider)")
	fs.StringVar(&f.overrides.BaseURL, "base-url", "", "Override the provider API base URL")
	fs.StringVar(&f.overrides.APIKey, "api-key", "", "API key (default from the provider's environment variable)")
	fs.StringVar(&f.overrides.Prompt, "prompt", "", "Question to reason about")
	fs.StringVar(&f.overrides.OutputDir, "output-dir", "", "Directory for the markdown transcript")
	fs.StringVar(&f.overrides.LogDir, "log-dir", "", "Directory for logs, traces and metrics")
	fs.IntVar(&f.overrides.MaxSteps, "max-steps", 0, "Maximum structured reasoning steps")
	fs.BoolVar(&f.overrides.Debug, "debug", false, "Enable debug logging")
	return f
}

// load reads the config, applies the flags given on the command line, and
// only then resolves the API key for the final provider
func (f *cliFlags) load(fs *flag.FlagSet) (config.Config, error) {
	cfg, err := config.Load(f.configFile)
	if err != nil {
		return config.Config{}, err
	}
	f.apply(fs, &cfg)
	cfg.ResolveAPIKey()
	return cfg, nil
}

// apply copies the flags given on the command line over the loaded config
func (f *cliFlags) apply(fs *flag.FlagSet, cfg *config.Config) {
	fs.Visit(func(fl *flag.Flag) {
		switch fl.Name {
		case "provider":
			cfg.Provider = f.overrides.Provider
		case "api-key":
			cfg.APIKey = f.overrides.APIKey
		case "model":
			cfg.Model = f.overrides.Model
		case "base-url":
			cfg.BaseURL = f.overrides.BaseURL
		case "prompt":
			cfg.Prompt = f.overrides.Prompt
		case "output-dir":
			cfg.OutputDir = f.overrides.OutputDir
		case "log-dir":
			cfg.LogDir = f.overrides.LogDir
		case "max-steps":
			cfg.MaxSteps = f.overrides.MaxSteps
		case "debug":
			cfg.Debug = f.overrides.Debug
		}
	})
}

func run(ctx context.Context, cfg config.Config, out io.Writer) error {
	logger, closeLog, err := telemetry.InitLogger(cfg.LogDir, cfg.Debug)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer closeLog()

	tracer, meter, shutdown, err := telemetry.InitTelemetry(ctx, cfg.LogDir)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer shutdown()

	provider, err := backend.LookupProvider(cfg.Provider, cfg.BaseURL, cfg.Model)
	if err != nil {
		return err
	}

	client, err := backend.NewClient(provider, cfg.APIKey, cfg.RequestTimeout)
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}

	caller, err := backend.NewCaller(backend.CallerConfig{
		Provider:    provider.Name,
		Model:       provider.DefaultModel,
		MaxAttempts: cfg.MaxAttempts,
		RetryWait:   cfg.RetryWait,
	}, client, logger, tracer, meter)
	if err != nil {
		return fmt.Errorf("failed to create caller: %w", err)
	}

	reasoner, err := chain.NewReasoner(chain.Config{
		Provider:    provider.Name,
		Model:       provider.DefaultModel,
		MaxSteps:    cfg.MaxSteps,
		StepTokens:  cfg.StepTokens,
		FinalTokens: cfg.FinalTokens,
	}, caller, transcript.NewWriter(cfg.OutputDir, logger), logger, tracer, meter)
	if err != nil {
		return fmt.Errorf("failed to create reasoner: %w", err)
	}

	printer := &progressPrinter{out: out}
	_, err = reasoner.Generate(ctx, cfg.Prompt, printer.print)
	return err
}

// progressPrinter prints the steps of each snapshot it has not printed yet
type progressPrinter struct {
	out     io.Writer
	printed int
}

func (p *progressPrinter) print(snap session.Snapshot) {
	for _, step := range snap.Steps[p.printed:] {
		fmt.Fprintf(p.out, "%s:\n%s\n(Thinking time: %.2f seconds)\n\n", step.Heading(), step.Content, step.Elapsed.Seconds())
	}
	p.printed = len(snap.Steps)

	if snap.Done {
		fmt.Fprintf(p.out, "Total Thinking Time: %.2f seconds\n", snap.Total.Seconds())
	}
}
