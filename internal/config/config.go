// Package config loads the named settings §6 requires as tunables rather
// than embedded literals: retrain threshold, cooldown, max-accuracy-drop,
// confidence-override margin, silent-acceptance cutoff, CRF
// hyperparameters, and badger storage paths. Resolution follows the
// teacher's layered convention (flag > env > file > default) via
// spf13/viper.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Settings is the full set of tunables named in spec §6.
type Settings struct {
	// RetrainThreshold is the unused-feedback count that triggers a
	// retrain attempt (§4.9 step trigger, default 100).
	RetrainThreshold int `mapstructure:"retrain_threshold"`
	// RetrainCooldown is the minimum time between retrains for one
	// template (§5, default 3600s).
	RetrainCooldown time.Duration `mapstructure:"retrain_cooldown"`
	// MaxAccuracyDrop bounds how much test accuracy may fall before a
	// retrain candidate is rejected (§4.9 step 4, default 0.05).
	MaxAccuracyDrop float64 `mapstructure:"max_accuracy_drop"`
	// ConfidenceOverrideMargin is the margin by which another accepted
	// candidate's confidence must exceed the winner's to replace it
	// (§4.7, default 0.1).
	ConfidenceOverrideMargin float64 `mapstructure:"confidence_override_margin"`
	// SilentAcceptanceCutoff is the confidence above which an
	// uncorrected extraction is treated as weakly-labeled training data
	// (§4.3, default 0.65).
	SilentAcceptanceCutoff float64 `mapstructure:"silent_acceptance_cutoff"`
	// SilentAcceptanceWeight scales silent-acceptance samples relative
	// to true corrections during CRF training (§9 Open Question (a),
	// decided in DESIGN.md: weighted lower than corrections).
	SilentAcceptanceWeight float64 `mapstructure:"silent_acceptance_weight"`
	// OverrideMarginVarianceScale is §9 Open Question (b): when nonzero,
	// ConfidenceOverrideMargin is scaled by the variance of the field's
	// per-strategy historical accuracies rather than held fixed.
	OverrideMarginVarianceScale float64 `mapstructure:"override_margin_variance_scale"`

	CRF CRFSettings `mapstructure:"crf"`

	Storage StorageSettings `mapstructure:"storage"`
}

// CRFSettings carries the CRF hyperparameters §4.3/§6 name explicitly.
type CRFSettings struct {
	C1      float64 `mapstructure:"c1"`
	C2      float64 `mapstructure:"c2"`
	MaxIter int     `mapstructure:"max_iter"`
}

// StorageSettings locates the badger data directory and model blob store.
type StorageSettings struct {
	DataDir  string `mapstructure:"data_dir"`
	ModelDir string `mapstructure:"model_dir"`
}

// Load resolves Settings from (in increasing priority) built-in defaults,
// an optional YAML file at path (ignored if empty or missing), and
// environment variables prefixed FIELDEXTRACT_.
func Load(path string) (*Settings, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("fieldextract")
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("config: read %s: %w", path, err)
			}
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	return &s, nil
}

// Default returns Settings populated with every documented default, with
// no file or environment overlay.
func Default() *Settings {
	s, _ := Load("")
	return s
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("retrain_threshold", 100)
	v.SetDefault("retrain_cooldown", "3600s")
	v.SetDefault("max_accuracy_drop", 0.05)
	v.SetDefault("confidence_override_margin", 0.1)
	v.SetDefault("silent_acceptance_cutoff", 0.65)
	v.SetDefault("silent_acceptance_weight", 0.5)
	v.SetDefault("override_margin_variance_scale", 0.0)

	v.SetDefault("crf.c1", 0.1)
	v.SetDefault("crf.c2", 0.2)
	v.SetDefault("crf.max_iter", 300)

	v.SetDefault("storage.data_dir", "data/fieldextract")
	v.SetDefault("storage.model_dir", "data/fieldextract/models")
}
