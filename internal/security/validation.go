// Package security provides input validation for operator commands and credential masking.
package security

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	apperrors "marko-dashboard/internal/errors"
	"marko-dashboard/internal/models"
)

// Validation patterns
var (
	// Symbol pattern: uppercase pair such as BTC/USD, or a plain ticker
	symbolPattern = regexp.MustCompile(`^[A-Z0-9]{1,12}([/:\-][A-Z0-9]{1,12})?$`)

	// Instance and definition ids: alphanumeric with underscores, dots and dashes
	idPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.\-]{0,63}$`)

	// Version: semver-ish tag, branch or commit
	versionPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.\-/]{0,63}$`)

	// API key patterns for detection (not validation)
	apiKeyPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)(bearer\s+)([A-Za-z0-9_\-\.]{12,})`),
		regexp.MustCompile(`(?i)(access[_-]?token|client[_-]?secret|password)[=:\s]+["']?([^\s"'&]+)["']?`),
		regexp.MustCompile(`eyJ[A-Za-z0-9_\-]+\.[A-Za-z0-9_\-]+\.[A-Za-z0-9_\-]*`), // JWTs
	}

	// Command injection patterns
	cmdInjectionPatterns = []*regexp.Regexp{
		regexp.MustCompile(`[;&|$\x60<>]`),
		regexp.MustCompile(`\s`),
	}
)

// InputValidator validates operator input before it is sent to the engine.
type InputValidator struct{}

// NewInputValidator creates a new input validator.
func NewInputValidator() *InputValidator {
	return &InputValidator{}
}

// ValidateSymbol validates a trading symbol such as BTC/USD.
func (v *InputValidator) ValidateSymbol(symbol string) error {
	symbol = strings.TrimSpace(strings.ToUpper(symbol))

	if symbol == "" {
		return apperrors.NewValidationError("symbol", symbol, "symbol cannot be empty")
	}
	if !symbolPattern.MatchString(symbol) {
		return apperrors.NewValidationError("symbol", symbol, "invalid symbol format")
	}
	return nil
}

// ValidateID validates an instance or definition id.
func (v *InputValidator) ValidateID(field, id string) error {
	id = strings.TrimSpace(id)

	if id == "" {
		return apperrors.NewValidationError(field, id, field+" cannot be empty")
	}
	if len(id) > 64 {
		return apperrors.NewValidationError(field, id, field+" too long (max 64 characters)")
	}
	if !idPattern.MatchString(id) {
		return apperrors.NewValidationError(field, id, "invalid "+field+" format")
	}
	return nil
}

// ValidateTimeframe validates a bar timeframe.
func (v *InputValidator) ValidateTimeframe(tf models.Timeframe) error {
	if !tf.Valid() {
		return apperrors.NewValidationError("timeframe", string(tf), fmt.Sprintf("must be one of %v", models.Timeframes))
	}
	return nil
}

// ValidateRepositoryURL validates a strategy repository location.
func (v *InputValidator) ValidateRepositoryURL(raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return apperrors.NewValidationError("repository_url", raw, "repository url cannot be empty")
	}
	if v.containsInjection(raw) {
		return apperrors.NewValidationError("repository_url", raw, "invalid characters detected")
	}

	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return apperrors.NewValidationError("repository_url", raw, "repository url must be absolute")
	}
	switch u.Scheme {
	case "https", "http", "ssh", "git":
	default:
		return apperrors.NewValidationError("repository_url", raw, "unsupported scheme "+u.Scheme)
	}
	return nil
}

// ValidateCreateInstance validates a create-instance request.
func (v *InputValidator) ValidateCreateInstance(req models.CreateInstanceRequest) error {
	if err := v.ValidateID("strategy_id", req.StrategyID); err != nil {
		return err
	}
	if err := v.ValidateID("instance_id", req.InstanceID); err != nil {
		return err
	}
	if err := v.ValidateSymbol(req.Symbol); err != nil {
		return err
	}
	return v.ValidateTimeframe(req.Timeframe)
}

// ValidateInstall validates an install request. An empty version means latest.
func (v *InputValidator) ValidateInstall(req models.InstallRequest) error {
	if err := v.ValidateRepositoryURL(req.RepositoryURL); err != nil {
		return err
	}
	if req.Version != "" && !versionPattern.MatchString(req.Version) {
		return apperrors.NewValidationError("version", req.Version, "invalid version format")
	}
	return nil
}

// containsInjection checks for shell metacharacters.
func (v *InputValidator) containsInjection(input string) bool {
	for _, pattern := range cmdInjectionPatterns {
		if pattern.MatchString(input) {
			return true
		}
	}
	return false
}

// SanitizeSymbol upper-cases and trims a symbol.
func SanitizeSymbol(symbol string) string {
	return strings.TrimSpace(strings.ToUpper(symbol))
}
