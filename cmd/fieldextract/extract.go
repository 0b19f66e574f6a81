package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	extractTemplate string
	extractPDF      string
	extractOut      string
)

var extractCmd = &cobra.Command{
	Use:   "extract",
	Short: "Extract structured fields from a PDF against a template",
	RunE:  runExtract,
}

func runExtract(cmd *cobra.Command, args []string) error {
	templateID := viper.GetString("extract.template")
	if templateID == "" {
		return fmt.Errorf("fieldextract extract: --template is required")
	}
	pdfPath := viper.GetString("extract.pdf")
	if pdfPath == "" {
		return fmt.Errorf("fieldextract extract: --pdf is required")
	}

	pdfBytes, err := os.ReadFile(pdfPath)
	if err != nil {
		return fmt.Errorf("fieldextract extract: read %s: %w", pdfPath, err)
	}

	p, log, err := buildPipeline()
	if err != nil {
		return err
	}
	defer log.Close()

	doc, err := p.Extract(templateID, pdfBytes)
	if err != nil {
		return fmt.Errorf("fieldextract extract: %w", err)
	}

	out := cmd.OutOrStdout()
	outPath := viper.GetString("extract.out")
	if outPath != "" {
		f, err := os.Create(outPath)
		if err != nil {
			return fmt.Errorf("fieldextract extract: create %s: %w", outPath, err)
		}
		defer f.Close()
		out = f
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}

func init() {
	extractCmd.Flags().StringVarP(&extractTemplate, "template", "t", "", "template id to extract against")
	extractCmd.Flags().StringVarP(&extractPDF, "pdf", "p", "", "path to the PDF document to extract")
	extractCmd.Flags().StringVarP(&extractOut, "out", "o", "", "write the resulting document as JSON here instead of stdout")

	viper.BindPFlag("extract.template", extractCmd.Flags().Lookup("template"))
	viper.BindPFlag("extract.pdf", extractCmd.Flags().Lookup("pdf"))
	viper.BindPFlag("extract.out", extractCmd.Flags().Lookup("out"))
}
