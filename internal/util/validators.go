package util

import (
	"unicode/utf8"

	"github.com/genc-murat/ringtsdb/internal/core/models"
)

const (
	maxNameBytes = 256
	maxTagPairs  = 32
	maxTagBytes  = 256
)

// ValidateGeometry checks ring geometry at creation or rewrite time.
func ValidateGeometry(step, slots uint32, maxWindowSeconds int64) error {
	if step < 1 {
		return models.Validationf("step must be >= 1, got %d", step)
	}
	if slots < 1 {
		return models.Validationf("slots must be >= 1, got %d", slots)
	}
	if window := int64(step) * int64(slots); window > maxWindowSeconds {
		return models.Validationf("retention window %ds exceeds the configured maximum %ds", window, maxWindowSeconds)
	}
	return nil
}

func ValidateMetricName(name string) error {
	if name == "" {
		return models.Validationf("metric name is required")
	}
	if len(name) > maxNameBytes {
		return models.Validationf("metric name exceeds %d bytes", maxNameBytes)
	}
	if !utf8.ValidString(name) {
		return models.Validationf("metric name is not valid UTF-8")
	}
	return nil
}

func ValidateTags(tags map[string]string) error {
	if len(tags) > maxTagPairs {
		return models.Validationf("at most %d tags per metric, got %d", maxTagPairs, len(tags))
	}
	for k, v := range tags {
		if k == "" {
			return models.Validationf("tag keys must not be empty")
		}
		if len(k) > maxTagBytes || len(v) > maxTagBytes {
			return models.Validationf("tag %q exceeds %d bytes", k, maxTagBytes)
		}
		if !utf8.ValidString(k) || !utf8.ValidString(v) {
			return models.Validationf("tag %q is not valid UTF-8", k)
		}
	}
	return nil
}
