package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/agen/fieldextract/internal/feedback"
)

var (
	correctTemplate string
	correctDocument string
	correctFields   []string
)

var correctCmd = &cobra.Command{
	Use:   "correct",
	Short: "Submit field corrections for a previously extracted document",
	Long: "Submit one or more field=value corrections for a document, update the " +
		"Strategy-Performance Tracker accordingly, and opportunistically trigger a " +
		"retrain once the unused-feedback threshold is crossed.",
	RunE: runCorrect,
}

func runCorrect(cmd *cobra.Command, args []string) error {
	templateID := viper.GetString("correct.template")
	documentID := viper.GetString("correct.document")
	if templateID == "" || documentID == "" {
		return fmt.Errorf("fieldextract correct: --template and --document are required")
	}
	fields := viper.GetStringSlice("correct.field")
	if len(fields) == 0 {
		return fmt.Errorf("fieldextract correct: at least one --field name=value is required")
	}

	p, log, err := buildPipeline()
	if err != nil {
		return err
	}
	defer log.Close()

	doc, found, err := p.Document(templateID, documentID)
	if err != nil {
		return fmt.Errorf("fieldextract correct: %w", err)
	}
	if !found {
		return fmt.Errorf("fieldextract correct: document %q not found for template %q", documentID, templateID)
	}

	var corrections []feedback.Correction
	for _, raw := range fields {
		name, value, ok := strings.Cut(raw, "=")
		if !ok {
			return fmt.Errorf("fieldextract correct: --field %q must be name=value", raw)
		}
		corrections = append(corrections, feedback.Correction{
			FieldName:      name,
			OriginalValue:  doc.ExtractedData[name],
			CorrectedValue: value,
		})
	}

	outcome, err := p.SubmitCorrections(templateID, documentID, corrections)
	if err != nil {
		return fmt.Errorf("fieldextract correct: %w", err)
	}
	if outcome == nil {
		fmt.Fprintln(cmd.OutOrStdout(), "corrections recorded; no retrain attempted")
		return nil
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(outcome)
}

func init() {
	correctCmd.Flags().StringVarP(&correctTemplate, "template", "t", "", "template id the document belongs to")
	correctCmd.Flags().StringVarP(&correctDocument, "document", "d", "", "document id to correct")
	correctCmd.Flags().StringArrayVarP(&correctFields, "field", "f", nil, "a name=value correction; repeatable")

	viper.BindPFlag("correct.template", correctCmd.Flags().Lookup("template"))
	viper.BindPFlag("correct.document", correctCmd.Flags().Lookup("document"))
	viper.BindPFlag("correct.field", correctCmd.Flags().Lookup("field"))
}
