package feedback

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/agen/fieldextract/internal/config"
	"github.com/agen/fieldextract/internal/crf"
	"github.com/agen/fieldextract/internal/logging"
	"github.com/agen/fieldextract/internal/metrics"
	"github.com/agen/fieldextract/internal/postprocess"
	"github.com/agen/fieldextract/internal/storage"
)

// ErrCoolingDown is returned when a template was retrained too recently
// (§5's cooldown fast path).
var ErrCoolingDown = errors.New("feedback: template is within its retrain cooldown")

// ErrRetrainInProgress is returned when another goroutine already holds
// this template's retrain lock (§5's non-blocking try-lock).
var ErrRetrainInProgress = errors.New("feedback: a retrain for this template is already in progress")

// RetrainOutcome reports the result of one retrain attempt (§4.9).
type RetrainOutcome struct {
	Status  storage.TrainingStatus
	Metrics crf.Metrics
	Reason  string
}

// Retrainer implements §4.9's full procedure — backup, train, evaluate,
// accept-or-reject, mark feedback used — under §5's concurrency
// safeguards: a cooldown fast path, a non-blocking per-template lock, and
// golang.org/x/sync/singleflight collapsing concurrent callers onto one
// in-flight attempt.
type Retrainer struct {
	db         *storage.Store
	models     *storage.ModelStore
	catalogues *postprocess.Store
	settings   *config.Settings
	rec        *metrics.Recorder
	log        *logging.Logger

	mu    sync.Mutex // guards locks
	locks map[string]*sync.Mutex
	group singleflight.Group
}

// NewRetrainer wires a Retrainer. rec may be nil (no metrics emitted).
func NewRetrainer(db *storage.Store, models *storage.ModelStore, catalogues *postprocess.Store, settings *config.Settings, rec *metrics.Recorder, log *logging.Logger) *Retrainer {
	if settings == nil {
		settings = config.Default()
	}
	return &Retrainer{
		db: db, models: models, catalogues: catalogues,
		settings: settings, rec: rec, log: log,
		locks: map[string]*sync.Mutex{},
	}
}

func (r *Retrainer) templateLock(templateID string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.locks[templateID]
	if !ok {
		l = &sync.Mutex{}
		r.locks[templateID] = l
	}
	return l
}

func (r *Retrainer) inCooldown(templateID string) bool {
	last, ok, err := r.db.LastTrainingHistory(templateID)
	if err != nil || !ok {
		return false
	}
	return time.Since(last.TrainedAt) < r.settings.RetrainCooldown
}

// MaybeRetrain implements §4.9's trigger check (unused feedback count vs
// RetrainThreshold, bypassed when useAllFeedback is set) followed by §5's
// two-tier gate: the cooldown fast path is checked before any lock is
// acquired, so a template that just retrained never contends for the
// lock at all; only then does a non-blocking try-lock run, with
// singleflight collapsing concurrent callers for the same template onto
// a single attempt whose result they all share.
func (r *Retrainer) MaybeRetrain(ctx context.Context, templateID string, labelSet, fields []string, useAllFeedback bool) (*RetrainOutcome, error) {
	unused, err := r.db.UnusedFeedbackCount(templateID)
	if err != nil {
		return nil, err
	}
	if !useAllFeedback && unused < r.settings.RetrainThreshold {
		return nil, nil
	}

	if r.inCooldown(templateID) {
		return nil, ErrCoolingDown
	}

	lock := r.templateLock(templateID)
	if !lock.TryLock() {
		return nil, ErrRetrainInProgress
	}
	defer lock.Unlock()

	v, err, _ := r.group.Do(templateID, func() (any, error) {
		return r.retrain(ctx, templateID, labelSet, fields, useAllFeedback)
	})
	if err != nil {
		return nil, err
	}
	return v.(*RetrainOutcome), nil
}

// retrain is §4.9's body: prepare the training set, fit a new model,
// evaluate it against the template's last accepted accuracy, and either
// accept (atomically swap the live model and mark feedback consumed) or
// reject (leave the live model untouched).
func (r *Retrainer) retrain(ctx context.Context, templateID string, labelSet, fields []string, useAllFeedback bool) (*RetrainOutcome, error) {
	sequences, consumedIDs, err := PrepareTrainingSet(r.db, templateID, labelSet, fields, r.settings, useAllFeedback)
	if err != nil {
		return r.fail(ctx, templateID, fmt.Sprintf("prepare training set: %v", err))
	}
	if len(sequences) == 0 {
		return r.fail(ctx, templateID, "no labeled training sequences available")
	}

	hp := crf.Hyperparams{C1: r.settings.CRF.C1, C2: r.settings.CRF.C2, MaxIter: r.settings.CRF.MaxIter}
	model, trainMetrics, err := crf.Train(sequences, labelSet, fields, hp)
	if err != nil {
		return r.fail(ctx, templateID, fmt.Sprintf("train: %v", err))
	}

	if regressed, prevAccuracy := r.isRegression(templateID, trainMetrics.TestAccuracy); regressed {
		reason := fmt.Sprintf("test accuracy %.4f is more than %.4f below the prior %.4f",
			trainMetrics.TestAccuracy, r.settings.MaxAccuracyDrop, prevAccuracy)
		return r.reject(ctx, templateID, trainMetrics, reason)
	}

	if err := r.models.Backup(templateID); err != nil {
		return r.fail(ctx, templateID, fmt.Sprintf("backup: %v", err))
	}
	if err := r.models.Swap(templateID, model); err != nil {
		if restoreErr := r.models.RestoreBackup(templateID); restoreErr != nil {
			r.warnf("retrain: restore after failed swap for %q also failed: %v", templateID, restoreErr)
		}
		return r.fail(ctx, templateID, fmt.Sprintf("swap: %v", err))
	}
	if err := r.models.DeleteBackup(templateID); err != nil {
		r.warnf("retrain: delete backup for %q failed (non-fatal): %v", templateID, err)
	}

	if err := r.db.MarkFeedbackUsed(templateID, consumedIDs); err != nil {
		r.warnf("retrain: mark feedback used for %q failed (non-fatal): %v", templateID, err)
	}
	r.catalogues.Invalidate(templateID)

	entry := storage.TrainingHistoryEntry{
		TemplateID:      templateID,
		TrainedAt:       time.Now(),
		TrainingSamples: trainMetrics.TrainingSamples,
		TrainAccuracy:   trainMetrics.TrainAccuracy,
		TestAccuracy:    trainMetrics.TestAccuracy,
		ModelPath:       r.models.Path(templateID),
		Status:          storage.StatusAccepted,
	}
	if trainMetrics.DiversityWarning {
		entry.DiversityRatio = trainMetrics.DiversityRatio
		entry.Warning = "label sequence diversity below threshold; model may be overfit to repeated layouts"
	}
	if err := r.db.AppendTrainingHistory(entry); err != nil {
		r.warnf("retrain: append training history for %q failed (non-fatal): %v", templateID, err)
	}

	r.recordOutcome(ctx, templateID, "accepted")
	r.infof("retrain: accepted model for %q (train_acc=%.4f test_acc=%.4f samples=%d)",
		templateID, trainMetrics.TrainAccuracy, trainMetrics.TestAccuracy, trainMetrics.TrainingSamples)

	return &RetrainOutcome{Status: storage.StatusAccepted, Metrics: trainMetrics}, nil
}

// isRegression implements §4.9 step 4: a retrain candidate is rejected
// when its test accuracy falls more than MaxAccuracyDrop below the last
// accepted attempt's. A template with no accepted history yet never
// regresses.
func (r *Retrainer) isRegression(templateID string, newTestAccuracy float64) (bool, float64) {
	last, ok, err := r.db.LastTrainingHistory(templateID)
	if err != nil || !ok || last.Status != storage.StatusAccepted {
		return false, 0
	}
	return newTestAccuracy < last.TestAccuracy-r.settings.MaxAccuracyDrop, last.TestAccuracy
}

func (r *Retrainer) reject(ctx context.Context, templateID string, m crf.Metrics, reason string) (*RetrainOutcome, error) {
	entry := storage.TrainingHistoryEntry{
		TemplateID:      templateID,
		TrainedAt:       time.Now(),
		TrainingSamples: m.TrainingSamples,
		TrainAccuracy:   m.TrainAccuracy,
		TestAccuracy:    m.TestAccuracy,
		Status:          storage.StatusRejected,
		Warning:         reason,
	}
	if err := r.db.AppendTrainingHistory(entry); err != nil {
		r.warnf("retrain: append rejected history for %q failed (non-fatal): %v", templateID, err)
	}
	r.recordOutcome(ctx, templateID, "rejected")
	r.infof("retrain: rejected candidate model for %q: %s", templateID, reason)
	return &RetrainOutcome{Status: storage.StatusRejected, Metrics: m, Reason: reason}, nil
}

func (r *Retrainer) fail(ctx context.Context, templateID, reason string) (*RetrainOutcome, error) {
	entry := storage.TrainingHistoryEntry{
		TemplateID: templateID,
		TrainedAt:  time.Now(),
		Status:     storage.StatusFailed,
		Warning:    reason,
	}
	if err := r.db.AppendTrainingHistory(entry); err != nil {
		r.warnf("retrain: append failed history for %q failed (non-fatal): %v", templateID, err)
	}
	r.recordOutcome(ctx, templateID, "failed")
	r.warnf("retrain: failed for %q: %s", templateID, reason)
	return &RetrainOutcome{Status: storage.StatusFailed, Reason: reason}, nil
}

func (r *Retrainer) recordOutcome(ctx context.Context, templateID, status string) {
	if r.rec != nil {
		r.rec.RecordRetrain(ctx, templateID, status)
	}
}

func (r *Retrainer) infof(format string, args ...any) {
	if r.log != nil {
		r.log.Info(format, args...)
	}
}

func (r *Retrainer) warnf(format string, args ...any) {
	if r.log != nil {
		r.log.Warn(format, args...)
	}
}
