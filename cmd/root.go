package cmd

import (
	"context"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/fmuoria/cv-shortlist-agent/internal/agent"
	"github.com/fmuoria/cv-shortlist-agent/internal/config"
	"github.com/fmuoria/cv-shortlist-agent/internal/ingestion"
	"github.com/fmuoria/cv-shortlist-agent/internal/llm"
	"github.com/fmuoria/cv-shortlist-agent/internal/logger"
)

const (
	app = "cv-shortlist"
)

var (
	// Used for flags.
	cfgFile string

	rootCmd = &cobra.Command{
		Use:          app,
		Short:        "cv-shortlist pre-filters CVs against a job description and builds a ranked shortlist",
		SilenceUsage: true,
	}
)

// Execute executes the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "a config file, JSON or YAML (default is ~/.config/CVShortlistAgent/config.json)")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "verbose/debug output")
	rootCmd.PersistentFlags().BoolP("json", "j", false, "json format for logging")

	viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
}

func getConfig() (*config.Config, error) {
	if cfgFile != "" {
		return config.LoadFrom(cfgFile)
	}
	return config.Load()
}

func newLogger() (*zap.Logger, error) {
	return logger.New(viper.GetBool("json"), viper.GetBool("debug"))
}

// newAgent wires a ShortlistAgent from the configuration. An incomplete LLM
// configuration only disables AI ranking; the preliminary pass still runs.
func newAgent(ctx context.Context, cfg *config.Config, log *zap.Logger) *agent.ShortlistAgent {
	cfg.ApplyToEnv()

	var generator llm.Generator
	if err := cfg.Validate(); err != nil {
		log.Warn("AI ranking disabled", zap.String(logger.FieldProvider, cfg.LLMProvider), zap.Error(err))
	} else if g, err := llm.New(ctx, cfg); err != nil {
		log.Warn("AI ranking disabled", zap.String(logger.FieldProvider, cfg.LLMProvider), zap.Error(err))
	} else {
		generator = g
	}

	return agent.NewShortlistAgent(
		ingestion.NewFileHandler(cfg.UploadsDir),
		generator,
		agent.OptionsFromConfig(cfg),
		log,
	)
}

func archiveOptions(cfg *config.Config) ingestion.ArchiveOptions {
	return ingestion.ArchiveOptions{MaxEntryBytes: cfg.MaxArchiveEntryBytes}
}

func gmailOptions(cfg *config.Config) ingestion.GmailOptions {
	return ingestion.GmailOptions{
		CredentialsPath: cfg.GmailCredentialsPath,
		TokenPath:       cfg.GmailTokenPath,
		UploadsDir:      cfg.UploadsDir,
	}
}
