// Package errors provides categorised error handling with optional telemetry integration.
//
// Errors are created with a fluent builder and carry a component, a category and
// free-form context:
//
//	return errors.New(err).
//		Component("imagery").
//		Category(errors.CategoryImageFetch).
//		Context("source", "remote").
//		Build()
//
// The package also re-exports the standard library helpers so callers can import
// it in place of the standard errors package.
package errors

import (
	stderrors "errors"
	"fmt"
	"maps"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// ErrorCategory represents the type of error for better categorization
type ErrorCategory string

// CategorizedError is an interface for errors that can specify their own category
type CategorizedError interface {
	error
	ErrorCategory() ErrorCategory
}

const (
	CategoryModelInit     ErrorCategory = "model-initialization"
	CategoryModelLoad     ErrorCategory = "model-loading"
	CategoryModelTrain    ErrorCategory = "model-training"
	CategoryInference     ErrorCategory = "inference"
	CategoryValidation    ErrorCategory = "validation"
	CategoryFileIO        ErrorCategory = "file-io"
	CategoryNetwork       ErrorCategory = "network"
	CategoryHTTP          ErrorCategory = "http-request"
	CategoryConfiguration ErrorCategory = "configuration"
	CategoryImageFetch    ErrorCategory = "image-fetch"
	CategoryImageCache    ErrorCategory = "image-cache"
	CategoryDatabase      ErrorCategory = "database"
	CategoryState         ErrorCategory = "state"
	CategoryProcessing    ErrorCategory = "processing"
	CategoryNotFound      ErrorCategory = "not-found"
	CategoryCancellation  ErrorCategory = "cancellation"
	CategoryGeneric       ErrorCategory = "generic"
)

// ComponentUnknown is used when the component cannot be determined.
const ComponentUnknown = "unknown"

// packagePrefix is skipped while walking the stack for component detection.
const packagePrefix = "github.com/tphakala/forestwatch/internal/errors"

// EnhancedError wraps an error with additional context and metadata
type EnhancedError struct {
	Err       error          // Original error
	component string         // Component where error occurred (lazily detected)
	Category  ErrorCategory  // Error category for better grouping
	Context   map[string]any // Additional context data
	Timestamp time.Time      // When the error occurred
	reported  bool
	detected  bool
	mu        sync.RWMutex
}

// Error implements the error interface
func (ee *EnhancedError) Error() string {
	if ee.Err == nil {
		return string(ee.Category)
	}
	return ee.Err.Error()
}

// Unwrap implements the error unwrapping interface
func (ee *EnhancedError) Unwrap() error {
	return ee.Err
}

// Is matches another EnhancedError by category, otherwise defers to the wrapped error.
func (ee *EnhancedError) Is(target error) bool {
	if other, ok := target.(*EnhancedError); ok {
		return ee.Category == other.Category
	}
	return Is(ee.Err, target)
}

// GetComponent returns the component name, detecting it lazily if needed
func (ee *EnhancedError) GetComponent() string {
	ee.mu.RLock()
	if ee.detected || ee.component != "" {
		component := ee.component
		ee.mu.RUnlock()
		return component
	}
	ee.mu.RUnlock()

	ee.mu.Lock()
	defer ee.mu.Unlock()
	if ee.component == "" && !ee.detected {
		ee.component = detectComponent()
		ee.detected = true
		if ee.component == "" {
			ee.component = ComponentUnknown
		}
	}
	return ee.component
}

// GetCategory returns the error category
func (ee *EnhancedError) GetCategory() string {
	return string(ee.Category)
}

// GetContext returns a copy of the error context
func (ee *EnhancedError) GetContext() map[string]any {
	ee.mu.RLock()
	defer ee.mu.RUnlock()
	if ee.Context == nil {
		return nil
	}
	out := make(map[string]any, len(ee.Context))
	maps.Copy(out, ee.Context)
	return out
}

// MarkReported marks this error as reported to telemetry
func (ee *EnhancedError) MarkReported() {
	ee.mu.Lock()
	defer ee.mu.Unlock()
	ee.reported = true
}

// IsReported returns whether this error has been reported
func (ee *EnhancedError) IsReported() bool {
	ee.mu.RLock()
	defer ee.mu.RUnlock()
	return ee.reported
}

// ErrorBuilder provides a fluent interface for creating enhanced errors
type ErrorBuilder struct {
	err       error
	component string
	category  ErrorCategory
	context   map[string]any
}

// New creates a new error builder wrapping err
func New(err error) *ErrorBuilder {
	return &ErrorBuilder{err: err}
}

// Newf creates a new formatted error builder
func Newf(format string, args ...any) *ErrorBuilder {
	return New(fmt.Errorf(format, args...))
}

// Component sets the component name (auto-detected if not set)
func (eb *ErrorBuilder) Component(component string) *ErrorBuilder {
	eb.component = component
	return eb
}

// Category sets the error category
func (eb *ErrorBuilder) Category(category ErrorCategory) *ErrorBuilder {
	eb.category = category
	return eb
}

// Context adds context data to the error
func (eb *ErrorBuilder) Context(key string, value any) *ErrorBuilder {
	if eb.context == nil {
		eb.context = make(map[string]any)
	}
	eb.context[key] = value
	return eb
}

// ModelContext adds model-specific context
func (eb *ErrorBuilder) ModelContext(kind, modelPath string) *ErrorBuilder {
	if kind != "" {
		eb.Context("model_kind", kind)
	}
	if modelPath != "" {
		eb.Context("file_extension", getFileExtension(modelPath))
	}
	return eb
}

// CoordinateContext adds a coarsened coordinate. Values are rounded to one
// decimal so reports never carry an exact location.
func (eb *ErrorBuilder) CoordinateContext(lat, lon float64) *ErrorBuilder {
	eb.Context("lat_approx", fmt.Sprintf("%.1f", lat))
	eb.Context("lon_approx", fmt.Sprintf("%.1f", lon))
	return eb
}

// NetworkContext adds network-specific context (URLs are anonymised)
func (eb *ErrorBuilder) NetworkContext(url string, timeout time.Duration) *ErrorBuilder {
	if url != "" {
		eb.Context("url_category", categorizeURL(url))
	}
	if timeout > 0 {
		eb.Context("timeout_seconds", timeout.Seconds())
	}
	return eb
}

// Timing adds performance timing context
func (eb *ErrorBuilder) Timing(operation string, duration time.Duration) *ErrorBuilder {
	eb.Context("operation", operation)
	eb.Context("duration_ms", duration.Milliseconds())
	return eb
}

// Build creates the EnhancedError and reports it when telemetry is active
func (eb *ErrorBuilder) Build() *EnhancedError {
	if !hasActiveReporting.Load() {
		ee := &EnhancedError{
			Err:       eb.err,
			component: eb.component,
			Category:  eb.category,
			Context:   eb.context,
			Timestamp: time.Now(),
			detected:  eb.component != "",
		}
		if ee.component == "" {
			ee.component = ComponentUnknown
			ee.detected = true
		}
		if ee.Category == "" {
			ee.Category = inheritedCategory(eb.err)
		}
		return ee
	}

	if eb.component == "" {
		eb.component = detectComponent()
	}
	if eb.category == "" {
		eb.category = detectCategory(eb.err, eb.component)
	}

	ee := &EnhancedError{
		Err:       eb.err,
		component: eb.component,
		Category:  eb.category,
		Context:   eb.context,
		Timestamp: time.Now(),
		detected:  true,
	}
	reportToTelemetry(ee)
	return ee
}

// inheritedCategory keeps the category of a wrapped EnhancedError.
func inheritedCategory(err error) ErrorCategory {
	var enh *EnhancedError
	if stderrors.As(err, &enh) && enh.Category != "" {
		return enh.Category
	}
	var cat CategorizedError
	if stderrors.As(err, &cat) {
		return cat.ErrorCategory()
	}
	return CategoryGeneric
}

var (
	componentRegistry = make(map[string]string)
	registryMutex     sync.RWMutex

	// hasActiveReporting skips stack walking when nobody consumes the result.
	hasActiveReporting atomic.Bool
)

// RegisterComponent registers a package path pattern with a component name
func RegisterComponent(packagePattern, componentName string) {
	registryMutex.Lock()
	defer registryMutex.Unlock()
	componentRegistry[packagePattern] = componentName
}

func init() {
	RegisterComponent("internal/classifier", "classifier")
	RegisterComponent("internal/imagery", "imagery")
	RegisterComponent("internal/prediction", "prediction")
	RegisterComponent("internal/datastore", "datastore")
	RegisterComponent("internal/conf", "configuration")
	RegisterComponent("internal/api", "api")
	RegisterComponent("internal/observability", "observability")
	RegisterComponent("internal/analysis", "analysis")
	RegisterComponent("cmd/train", "train")
}

// detectComponent walks the call stack to find the first registered component
func detectComponent() string {
	pcs := make([]uintptr, 32)
	n := runtime.Callers(2, pcs)
	frames := runtime.CallersFrames(pcs[:n])
	for {
		frame, more := frames.Next()
		if !strings.Contains(frame.Function, packagePrefix) {
			if component := lookupComponent(frame.Function); component != ComponentUnknown {
				return component
			}
		}
		if !more {
			break
		}
	}
	return ComponentUnknown
}

// lookupComponent searches the registry for a matching component
func lookupComponent(funcName string) string {
	registryMutex.RLock()
	defer registryMutex.RUnlock()
	for pattern, component := range componentRegistry {
		if strings.Contains(funcName, pattern) {
			return component
		}
	}
	return ComponentUnknown
}

// detectCategory derives a category from the error chain and component
func detectCategory(err error, component string) ErrorCategory {
	if category := inheritedCategory(err); category != CategoryGeneric {
		return category
	}
	if err == nil {
		return CategoryGeneric
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "model") && strings.Contains(msg, "load"):
		return CategoryModelLoad
	case strings.Contains(msg, "connection"), strings.Contains(msg, "timeout"):
		return CategoryNetwork
	case strings.Contains(msg, "invalid"), strings.Contains(msg, "mismatch"):
		return CategoryValidation
	case strings.Contains(msg, "file"), strings.Contains(msg, "open"):
		return CategoryFileIO
	}

	switch component {
	case "classifier":
		return CategoryInference
	case "imagery":
		return CategoryImageFetch
	case "datastore":
		return CategoryDatabase
	case "api":
		return CategoryHTTP
	case "configuration":
		return CategoryConfiguration
	}
	return CategoryGeneric
}

// getFileExtension extracts file extension for categorization
func getFileExtension(path string) string {
	if lastDot := strings.LastIndex(path, "."); lastDot > 0 && lastDot < len(path)-1 {
		return strings.ToLower(path[lastDot+1:])
	}
	return "none"
}

// categorizeURL anonymises URLs while preserving protocol
func categorizeURL(url string) string {
	url = strings.ToLower(url)
	switch {
	case strings.HasPrefix(url, "http://"):
		return "http-endpoint"
	case strings.HasPrefix(url, "https://"):
		return "https-endpoint"
	default:
		return "other-protocol"
	}
}

// NewStd creates a new standard error (passthrough to standard library)
func NewStd(text string) error {
	return stderrors.New(text)
}

// Is reports whether any error in err's tree matches target
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

// As finds the first error in err's tree that matches target
func As(err error, target any) bool {
	return stderrors.As(err, target)
}

// Unwrap returns the result of calling the Unwrap method on err
func Unwrap(err error) error {
	return stderrors.Unwrap(err)
}

// Join returns an error that wraps the given errors
func Join(errs ...error) error {
	return stderrors.Join(errs...)
}

// IsCategory checks if an error is an EnhancedError with the specified category.
func IsCategory(err error, category ErrorCategory) bool {
	var enhancedErr *EnhancedError
	return As(err, &enhancedErr) && enhancedErr.Category == category
}

// GetCategory returns the category of the outermost EnhancedError in err's tree,
// or CategoryGeneric.
func GetCategory(err error) ErrorCategory {
	var enhancedErr *EnhancedError
	if As(err, &enhancedErr) {
		return enhancedErr.Category
	}
	return CategoryGeneric
}

// IsNotFound checks if an error is an EnhancedError with CategoryNotFound.
func IsNotFound(err error) bool {
	return IsCategory(err, CategoryNotFound)
}
