// Package errors - telemetry integration (optional)
package errors

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/getsentry/sentry-go"
)

// TelemetryReporter is an interface for reporting errors to telemetry systems
type TelemetryReporter interface {
	ReportError(err *EnhancedError)
	IsEnabled() bool
}

// SentryConfig holds the settings needed to start the Sentry client.
type SentryConfig struct {
	DSN         string
	Environment string
	Release     string
	SampleRate  float64
}

// SentryReporter implements TelemetryReporter for Sentry
type SentryReporter struct {
	enabled bool
}

// NewSentryReporter creates a new Sentry telemetry reporter
func NewSentryReporter(enabled bool) *SentryReporter {
	return &SentryReporter{enabled: enabled}
}

// InitSentry initialises the Sentry SDK and installs a reporter for it.
// An empty DSN leaves telemetry disabled.
func InitSentry(cfg SentryConfig) error {
	if cfg.DSN == "" {
		SetTelemetryReporter(nil)
		return nil
	}
	sampleRate := cfg.SampleRate
	if sampleRate <= 0 || sampleRate > 1 {
		sampleRate = 1
	}
	err := sentry.Init(sentry.ClientOptions{
		Dsn:              cfg.DSN,
		Environment:      cfg.Environment,
		Release:          cfg.Release,
		SampleRate:       sampleRate,
		AttachStacktrace: false,
		BeforeSend: func(event *sentry.Event, _ *sentry.EventHint) *sentry.Event {
			event.ServerName = ""
			event.User = sentry.User{}
			return event
		},
	})
	if err != nil {
		return New(err).
			Component("telemetry").
			Category(CategoryConfiguration).
			Build()
	}
	SetTelemetryReporter(NewSentryReporter(true))
	return nil
}

// FlushTelemetry waits up to timeout for queued events to be delivered.
func FlushTelemetry(timeout time.Duration) {
	if GetTelemetryReporter() != nil {
		sentry.Flush(timeout)
	}
}

// IsEnabled returns whether Sentry telemetry is enabled
func (sr *SentryReporter) IsEnabled() bool {
	return sr.enabled
}

// ReportError reports an enhanced error to Sentry with privacy protection
func (sr *SentryReporter) ReportError(ee *EnhancedError) {
	if !sr.enabled || ee.IsReported() {
		return
	}

	message := scrubMessageForPrivacy(fmt.Sprintf("[%s] %s", ee.Category, ee.Error()))
	title := generateErrorTitle(ee)
	component := ee.GetComponent()

	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("error_title", title)
		scope.SetTag("component", component)
		scope.SetTag("category", string(ee.Category))
		scope.SetTag("error_type", fmt.Sprintf("%T", ee.Err))

		for key, value := range ee.GetContext() {
			if s, ok := value.(string); ok {
				value = scrubMessageForPrivacy(s)
			}
			scope.SetContext(key, map[string]any{"value": value})
		}

		level := getErrorLevel(ee.Category)
		scope.SetLevel(level)
		scope.SetFingerprint([]string{title, component, string(ee.Category)})

		event := sentry.NewEvent()
		event.Message = message
		event.Level = level
		event.Exception = []sentry.Exception{{Type: title, Value: message}}
		sentry.CaptureEvent(event)
	})

	ee.MarkReported()
}

// generateErrorTitle creates a grouping title from component, category and operation
func generateErrorTitle(ee *EnhancedError) string {
	var parts []string
	if component := ee.GetComponent(); component != "" && component != ComponentUnknown {
		parts = append(parts, titleCase(component))
	}
	if category := formatCategoryForTitle(ee.Category); category != "" {
		parts = append(parts, category)
	}
	if operation, ok := ee.GetContext()["operation"].(string); ok && operation != "" {
		words := strings.Fields(strings.ReplaceAll(operation, "_", " "))
		for i, w := range words {
			words[i] = titleCase(w)
		}
		parts = append(parts, strings.Join(words, " "))
	}
	if len(parts) == 0 {
		return fmt.Sprintf("%T", ee.Err)
	}
	return strings.Join(parts, " ")
}

// formatCategoryForTitle converts error categories to human-readable titles
func formatCategoryForTitle(category ErrorCategory) string {
	switch category {
	case CategoryValidation:
		return "Validation Error"
	case CategoryImageFetch:
		return "Image Fetch Error"
	case CategoryImageCache:
		return "Image Cache Error"
	case CategoryNetwork:
		return "Network Error"
	case CategoryDatabase:
		return "Database Error"
	case CategoryFileIO:
		return "File I/O Error"
	case CategoryModelInit:
		return "Model Initialization Error"
	case CategoryModelLoad:
		return "Model Loading Error"
	case CategoryModelTrain:
		return "Model Training Error"
	case CategoryInference:
		return "Inference Error"
	case CategoryConfiguration:
		return "Configuration Error"
	default:
		return string(category)
	}
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	runes := []rune(s)
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes)
}

// getErrorLevel returns the Sentry level for a category
func getErrorLevel(category ErrorCategory) sentry.Level {
	switch category {
	case CategoryNetwork, CategoryImageFetch, CategoryFileIO, CategoryHTTP:
		return sentry.LevelWarning
	case CategoryValidation, CategoryCancellation:
		return sentry.LevelInfo
	default:
		return sentry.LevelError
	}
}

var (
	reporterMu              sync.RWMutex
	globalTelemetryReporter TelemetryReporter
)

// SetTelemetryReporter sets the global telemetry reporter. Passing nil disables reporting.
func SetTelemetryReporter(reporter TelemetryReporter) {
	reporterMu.Lock()
	defer reporterMu.Unlock()
	globalTelemetryReporter = reporter
	hasActiveReporting.Store(reporter != nil && reporter.IsEnabled())
}

// GetTelemetryReporter returns the current telemetry reporter
func GetTelemetryReporter() TelemetryReporter {
	reporterMu.RLock()
	defer reporterMu.RUnlock()
	return globalTelemetryReporter
}

func reportToTelemetry(ee *EnhancedError) {
	if reporter := GetTelemetryReporter(); reporter != nil && reporter.IsEnabled() {
		reporter.ReportError(ee)
	}
}

var (
	urlQueryRegex   = regexp.MustCompile(`(https?://[^?\s]+)\?\S*`)
	tokenRegex      = regexp.MustCompile(`(?i)(access_token|api[_-]?key|token|dsn)[=:]\S+`)
	longHexRegex    = regexp.MustCompile(`[0-9a-fA-F]{32,}`)
	coordinateRegex = regexp.MustCompile(`-?\d{1,3}\.\d{2,}`)
)

// scrubMessageForPrivacy removes query strings, tokens and precise coordinates.
func scrubMessageForPrivacy(message string) string {
	scrubbed := urlQueryRegex.ReplaceAllString(message, "$1?[REDACTED]")
	scrubbed = tokenRegex.ReplaceAllString(scrubbed, "[TOKEN_REDACTED]")
	scrubbed = longHexRegex.ReplaceAllString(scrubbed, "[TOKEN_REDACTED]")
	return coordinateRegex.ReplaceAllString(scrubbed, "[COORD]")
}
