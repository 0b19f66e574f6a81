// Package pipeline wires template configuration, tokenization, the three
// extraction strategies, the Hybrid Arbiter, the Adaptive Post-Processor,
// and the feedback/retrain loop into the three operations §6 exposes:
// extract, submit_corrections, and train.
package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agen/fieldextract/internal/apperr"
	"github.com/agen/fieldextract/internal/arbiter"
	"github.com/agen/fieldextract/internal/config"
	"github.com/agen/fieldextract/internal/crf"
	"github.com/agen/fieldextract/internal/feedback"
	"github.com/agen/fieldextract/internal/fieldvalue"
	"github.com/agen/fieldextract/internal/logging"
	"github.com/agen/fieldextract/internal/metrics"
	"github.com/agen/fieldextract/internal/postprocess"
	"github.com/agen/fieldextract/internal/storage"
	"github.com/agen/fieldextract/internal/strategy"
	"github.com/agen/fieldextract/internal/template"
	"github.com/agen/fieldextract/internal/tokenize"
	"github.com/agen/fieldextract/internal/word"
)

// Pipeline is the extraction facade §6 describes. It owns no PDF-parsing
// logic of its own (tokenize.WordSource is supplied by the caller, per
// §1's explicit scope boundary) and holds every other collaborator
// needed to carry a document from bytes to a persisted, correctable,
// retrainable extraction result.
type Pipeline struct {
	templateDir string
	tokenizer   tokenize.WordSource

	db   *storage.Store
	perf *storage.PerformanceStore

	rule     *strategy.RuleStrategy
	position *strategy.PositionStrategy
	crfStrat *strategy.CRFStrategy

	catalogues *postprocess.Store
	feedbackDB *feedback.Store
	retrainer  *feedback.Retrainer

	settings *config.Settings
	log      *logging.Logger

	mu        sync.RWMutex
	templates map[string]*template.Config
}

// Options configures a new Pipeline. TemplateDir, Tokenizer, DB and
// Models are required; Settings, Logger and Recorder may be left nil.
type Options struct {
	TemplateDir string
	Tokenizer   tokenize.WordSource
	DB          *storage.Store
	Models      *storage.ModelStore
	Settings    *config.Settings
	Logger      *logging.Logger
	Recorder    *metrics.Recorder
}

// New assembles a Pipeline from its collaborators, building the Hybrid
// Arbiter's strategy set and the post-processing catalogue source on top
// of them.
func New(opts Options) *Pipeline {
	settings := opts.Settings
	if settings == nil {
		settings = config.Default()
	}
	log := opts.Logger
	if log == nil {
		log = logging.Discard()
	}

	modelCache := storage.NewModelCache(opts.Models)
	crfStrat := strategy.NewCRFStrategy(modelCache, log)
	perf := opts.DB.Performance()
	catalogues := postprocess.NewStore()

	p := &Pipeline{
		templateDir: opts.TemplateDir,
		tokenizer:   opts.Tokenizer,
		db:          opts.DB,
		perf:        perf,
		rule:        strategy.NewRuleStrategy(),
		position:    strategy.NewPositionStrategy(),
		crfStrat:    crfStrat,
		catalogues:  catalogues,
		feedbackDB:  feedback.NewStore(opts.DB, perf, opts.Recorder, log, settings),
		settings:    settings,
		log:         log,
		templates:   map[string]*template.Config{},
	}
	p.retrainer = feedback.NewRetrainer(opts.DB, opts.Models, catalogues, settings, opts.Recorder, log)
	return p
}

func (p *Pipeline) templateConfig(templateID string) (*template.Config, error) {
	p.mu.RLock()
	cfg, ok := p.templates[templateID]
	p.mu.RUnlock()
	if ok {
		return cfg, nil
	}

	cfg, err := template.Load(p.templatePath(templateID))
	if err != nil {
		return nil, &apperr.ConfigurationError{TemplateID: templateID, Cause: err}
	}
	p.mu.Lock()
	p.templates[templateID] = cfg
	p.mu.Unlock()
	return cfg, nil
}

func (p *Pipeline) templatePath(templateID string) string {
	return filepath.Join(p.templateDir, templateID+".yaml")
}

// InvalidateTemplateCache drops a cached template.Config, forcing the
// next extraction to reload it from disk — called after Analyze writes
// a new or updated config for templateID.
func (p *Pipeline) InvalidateTemplateCache(templateID string) {
	p.mu.Lock()
	delete(p.templates, templateID)
	p.mu.Unlock()
}

// AnalyzeTemplate implements §4.1's Template Analyzer entry point: it
// tokenizes a marked-up sample PDF, derives a Config from the {marker}
// labels it finds, and persists it so later extractions can use it.
func (p *Pipeline) AnalyzeTemplate(templateID string, samplePDF []byte) (*template.Config, error) {
	words, err := p.tokenizer.Tokenize(samplePDF)
	if err != nil {
		return nil, &apperr.InputError{TemplateID: templateID, Cause: err}
	}
	cfg := template.Analyze(words)
	if err := cfg.Save(p.templatePath(templateID)); err != nil {
		return nil, fmt.Errorf("pipeline: save template %q: %w", templateID, err)
	}
	p.InvalidateTemplateCache(templateID)
	return cfg, nil
}

func (p *Pipeline) arbiter() *arbiter.Arbiter {
	source := postprocess.NewSource(p.catalogues, p.buildCatalogue)
	return arbiter.New(p.rule, p.position, p.crfStrat, p.perf, source, p.settings, p.log)
}

// buildCatalogue mines an Adaptive Post-Processor catalogue for one
// (template, field) from every feedback correction recorded so far
// (§4.8). It is the build callback behind the arbiter's cached
// postprocess.Source.
func (p *Pipeline) buildCatalogue(templateID, fieldName string) *postprocess.Catalogue {
	catalogue := postprocess.NewCatalogue()
	rows, err := p.db.ListFeedback(templateID)
	if err != nil {
		p.log.Warn("pipeline: list feedback for catalogue mining on %q/%q failed: %v", templateID, fieldName, err)
		return catalogue
	}
	for _, r := range rows {
		if r.FieldName != fieldName {
			continue
		}
		catalogue.Mine(r.OriginalValue, r.CorrectedValue)
	}
	return catalogue
}

// Extract implements §6's extract(pdf_bytes, template_id): tokenize, run
// every configured field through the arbiter, and persist the resulting
// Document. It never writes to the Strategy-Performance Tracker itself
// (§9: "Performance writes happen only from the feedback path, never
// from extraction" — breaking the Feedback→Performance→Arbiter→
// Extraction→Feedback cycle); silent-acceptance and correction signals
// are both recorded later, when SubmitCorrections runs.
func (p *Pipeline) Extract(templateID string, pdfBytes []byte) (storage.Document, error) {
	cfg, err := p.templateConfig(templateID)
	if err != nil {
		return storage.Document{}, err
	}
	words, err := p.tokenizer.Tokenize(pdfBytes)
	if err != nil {
		return storage.Document{}, &apperr.InputError{TemplateID: templateID, Cause: err}
	}

	a := p.arbiter()
	doc := storage.Document{
		ID:            uuid.NewString(),
		TemplateID:    templateID,
		ExtractedData: map[string]string{},
		Confidences:   map[string]float64{},
		Methods:       map[string]fieldvalue.StrategyType{},
		PageWords:     words,
		CreatedAt:     time.Now(),
	}

	for fieldName, fieldCfg := range cfg.Fields {
		pageWords := fieldPageWords(fieldCfg, words)
		fv, err := a.ExtractField(templateID, fieldCfg, pageWords)
		if err != nil {
			p.log.Warn("pipeline: extracting field %q for template %q: %v", fieldName, templateID, err)
			continue
		}
		if fv == nil {
			continue
		}

		doc.ExtractedData[fieldName] = fv.Value
		doc.Confidences[fieldName] = fv.Confidence
		doc.Methods[fieldName] = fv.Method
		doc.StrategiesUsed = append(doc.StrategiesUsed, storage.StrategyUsed{
			FieldName:              fieldName,
			Method:                 fv.Method,
			Confidence:             fv.Confidence,
			AllStrategiesAttempted: fv.Metadata.AllStrategiesAttempted,
		})
	}

	if err := p.db.PutDocument(doc); err != nil {
		return storage.Document{}, fmt.Errorf("pipeline: persist document: %w", err)
	}
	return doc, nil
}

// fieldPageWords restricts words to the page a field's primary location
// was analyzed on, falling back to every word when the field declares no
// location (a template the Analyzer never saw, built by hand).
func fieldPageWords(fieldCfg *template.FieldConfig, words []word.Word) []word.Word {
	if len(fieldCfg.Locations) == 0 {
		return words
	}
	return word.Page(words, fieldCfg.Locations[0].Page)
}

// FieldNames returns a template's declared field names, for callers (the
// CLI's train subcommand) that want to retrain every field without
// restating the template's configuration on the command line.
func (p *Pipeline) FieldNames(templateID string) ([]string, error) {
	cfg, err := p.templateConfig(templateID)
	if err != nil {
		return nil, err
	}
	return cfg.FieldNames(), nil
}

// Document loads a previously extracted document, for callers (the CLI's
// correct subcommand) that need its current field values before
// submitting corrections against them.
func (p *Pipeline) Document(templateID, documentID string) (storage.Document, bool, error) {
	return p.db.GetDocument(templateID, documentID)
}

// SubmitCorrections implements §6's submit_corrections(document_id,
// corrections): it loads the original document, records each correction
// against the feedback store and the Strategy-Performance Tracker, and
// opportunistically triggers a retrain when the template has crossed its
// unused-feedback threshold.
func (p *Pipeline) SubmitCorrections(templateID, documentID string, corrections []feedback.Correction) (*feedback.RetrainOutcome, error) {
	doc, found, err := p.db.GetDocument(templateID, documentID)
	if err != nil {
		return nil, fmt.Errorf("pipeline: load document %q: %w", documentID, err)
	}
	if !found {
		return nil, fmt.Errorf("pipeline: document %q not found for template %q", documentID, templateID)
	}

	if err := p.feedbackDB.SubmitCorrections(doc, corrections); err != nil {
		return nil, fmt.Errorf("pipeline: submit corrections: %w", err)
	}

	cfg, err := p.templateConfig(templateID)
	if err != nil {
		return nil, err
	}
	return p.Train(templateID, cfg.FieldNames(), false)
}

// Train implements §6's train(template_id, use_all_feedback): it asks
// the Retrainer to attempt a retrain, subject to the threshold,
// cooldown, and lock/singleflight safeguards of §4.9/§5.
func (p *Pipeline) Train(templateID string, fields []string, useAllFeedback bool) (*feedback.RetrainOutcome, error) {
	labelSet := crf.BuildLabelSet(fields)
	outcome, err := p.retrainer.MaybeRetrain(context.Background(), templateID, labelSet, fields, useAllFeedback)
	if err != nil {
		switch err {
		case feedback.ErrCoolingDown, feedback.ErrRetrainInProgress:
			return nil, nil
		default:
			return nil, err
		}
	}
	return outcome, nil
}
