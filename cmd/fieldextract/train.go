package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	trainTemplate       string
	trainFields         []string
	trainUseAllFeedback bool
)

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Attempt a retrain for a template, subject to threshold/cooldown/regression safeguards",
	RunE:  runTrain,
}

func runTrain(cmd *cobra.Command, args []string) error {
	templateID := viper.GetString("train.template")
	if templateID == "" {
		return fmt.Errorf("fieldextract train: --template is required")
	}

	p, log, err := buildPipeline()
	if err != nil {
		return err
	}
	defer log.Close()

	fields := viper.GetStringSlice("train.fields")
	if len(fields) == 0 {
		fields, err = p.FieldNames(templateID)
		if err != nil {
			return fmt.Errorf("fieldextract train: resolve fields: %w", err)
		}
	}

	outcome, err := p.Train(templateID, fields, viper.GetBool("train.use-all-feedback"))
	if err != nil {
		return fmt.Errorf("fieldextract train: %w", err)
	}
	if outcome == nil {
		fmt.Fprintln(cmd.OutOrStdout(), "no retrain attempted (below threshold, cooling down, or already in progress)")
		return nil
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(outcome)
}

func init() {
	trainCmd.Flags().StringVarP(&trainTemplate, "template", "t", "", "template id to retrain")
	trainCmd.Flags().StringSliceVar(&trainFields, "fields", nil, "fields to train on (default: every field the template declares)")
	trainCmd.Flags().BoolVarP(&trainUseAllFeedback, "use-all-feedback", "a", false, "replay already-consumed feedback rows too, not just the unused backlog")

	viper.BindPFlag("train.template", trainCmd.Flags().Lookup("template"))
	viper.BindPFlag("train.fields", trainCmd.Flags().Lookup("fields"))
	viper.BindPFlag("train.use-all-feedback", trainCmd.Flags().Lookup("use-all-feedback"))
}
