// Command fieldextract is the operator-facing CLI over the extraction
// facade §6 describes, following the cobra+viper layering
// idlab-discover-AIBoMGen-cli and ShayCichocki-Alphie use: a root command
// resolves shared settings, and each subcommand declares its own flags
// bound into viper alongside them.
package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.opentelemetry.io/otel"

	"github.com/agen/fieldextract/internal/config"
	"github.com/agen/fieldextract/internal/logging"
	"github.com/agen/fieldextract/internal/metrics"
	"github.com/agen/fieldextract/internal/pipeline"
	"github.com/agen/fieldextract/internal/storage"
	"github.com/agen/fieldextract/internal/tokenize"
)

var (
	cfgFile     string
	templateDir string
	logDir      string
	quiet       bool
)

var rootCmd = &cobra.Command{
	Use:   "fieldextract",
	Short: "Template-based structured-field extraction over PDFs",
	Long: "fieldextract extracts structured fields from PDF documents against a " +
		"per-template configuration, using a hybrid of rule-based, position-based " +
		"and CRF strategies, and learns from operator corrections over time.",
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "settings file (default: built-in defaults, see internal/config)")
	rootCmd.PersistentFlags().StringVar(&templateDir, "template-dir", "templates", "directory holding per-template YAML configs")
	rootCmd.PersistentFlags().StringVar(&logDir, "log-dir", "logs", "directory for the session log file")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress info-level console output")

	viper.BindPFlag("root.template-dir", rootCmd.PersistentFlags().Lookup("template-dir"))
	viper.BindPFlag("root.log-dir", rootCmd.PersistentFlags().Lookup("log-dir"))
	viper.BindPFlag("root.quiet", rootCmd.PersistentFlags().Lookup("quiet"))

	rootCmd.AddCommand(extractCmd, correctCmd, trainCmd, serveCmd)
}

func initConfig() {
	viper.SetEnvPrefix("FIELDEXTRACT_CLI")
	viper.AutomaticEnv()
}

// buildPipeline assembles a Pipeline from the resolved settings file, the
// shared badger store and model store rooted under its storage settings,
// and the session logger — the same collaborators internal/pipeline.New
// expects any caller to supply (§6).
func buildPipeline() (*pipeline.Pipeline, *logging.Logger, error) {
	settings, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, fmt.Errorf("fieldextract: load settings: %w", err)
	}

	log, err := logging.New(viper.GetString("root.log-dir"), viper.GetBool("root.quiet"))
	if err != nil {
		return nil, nil, fmt.Errorf("fieldextract: open session log: %w", err)
	}

	db, err := storage.Open(settings.Storage.DataDir)
	if err != nil {
		log.Close()
		return nil, nil, fmt.Errorf("fieldextract: open data store: %w", err)
	}

	models, err := storage.NewModelStore(settings.Storage.ModelDir)
	if err != nil {
		db.Close()
		log.Close()
		return nil, nil, fmt.Errorf("fieldextract: open model store: %w", err)
	}

	rec, err := metrics.NewRecorder(otel.Meter("fieldextract"))
	if err != nil {
		log.Warn("fieldextract: metrics recorder unavailable, proceeding without it: %v", err)
		rec = nil
	}

	p := pipeline.New(pipeline.Options{
		TemplateDir: viper.GetString("root.template-dir"),
		Tokenizer:   tokenize.Unavailable(),
		DB:          db,
		Models:      models,
		Settings:    settings,
		Logger:      log,
		Recorder:    rec,
	})
	return p, log, nil
}

var errNotImplemented = errors.New("fieldextract: not implemented")
