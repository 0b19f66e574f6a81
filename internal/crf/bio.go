// Package crf implements the CRF Learner (§4.3): BIO-sequence labeling
// from implicit corrections, a linear-chain CRF trained with L-BFGS, and
// single-field inference consumed by the CRF Strategy.
package crf

import (
	"regexp"
	"strings"

	"github.com/agen/fieldextract/internal/word"
)

var punctStrip = regexp.MustCompile(`[^\w]+`)

// tokenize reproduces §4.3's corrected_tokens rule: whitespace split,
// punctuation-stripped, lowercased.
func tokenize(value string) []string {
	fields := strings.Fields(value)
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		stripped := punctStrip.ReplaceAllString(f, "")
		if stripped != "" {
			out = append(out, strings.ToLower(stripped))
		}
	}
	return out
}

// LabelSequence implements the strict BIO labeling algorithm of §4.3.
//
// It slides a window of exactly len(tokenize(value)) words over pageWords
// (already sorted in reading order by the caller) and compares the
// punctuation-stripped, lowercased text of each window against
// corrected_tokens. On the first exact match it labels the span
// B-FIELD I-FIELD ... I-FIELD and returns true. No window expansion and
// no substring containment are performed — both produced the
// label-leakage bug §4.3 forbids reproducing. If no window matches, every
// label is "O" and the second return value is false: the caller must skip
// this (field, value) pair rather than mislabel it.
func LabelSequence(pageWords []word.Word, fieldName, value string) ([]string, bool) {
	labels := make([]string, len(pageWords))
	for i := range labels {
		labels[i] = "O"
	}

	corrected := tokenize(value)
	if len(corrected) == 0 {
		return labels, false
	}
	windowLen := len(corrected)
	upperField := strings.ToUpper(fieldName)

	for start := 0; start+windowLen <= len(pageWords); start++ {
		matched := true
		for i := 0; i < windowLen; i++ {
			candidate := punctStrip.ReplaceAllString(pageWords[start+i].Text, "")
			if strings.ToLower(candidate) != corrected[i] {
				matched = false
				break
			}
		}
		if !matched {
			continue
		}
		labels[start] = "B-" + upperField
		for i := 1; i < windowLen; i++ {
			labels[start+i] = "I-" + upperField
		}
		return labels, true
	}

	return labels, false
}

// ValidBIO reports whether a label sequence satisfies §8's invariant: an
// I-F label may never appear unless immediately preceded by B-F or I-F for
// the same field F.
func ValidBIO(labels []string) bool {
	for i, l := range labels {
		if !strings.HasPrefix(l, "I-") {
			continue
		}
		field := l[2:]
		if i == 0 {
			return false
		}
		prev := labels[i-1]
		if prev != "B-"+field && prev != "I-"+field {
			return false
		}
	}
	return true
}
