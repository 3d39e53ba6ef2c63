package media

import "fmt"

// ErrorCode is the closed taxonomy of extraction failures
type ErrorCode string

// Category groups error codes for status mapping and retry decisions
type Category string

const (
	CategoryInput        Category = "input"
	CategoryAvailability Category = "availability"
	CategoryNotFound     Category = "not_found"
	CategoryAuth         Category = "auth"
	CategoryExtraction   Category = "extraction"
	CategoryTransport    Category = "transport"
	CategoryAggregate    Category = "aggregate"
)

const (
	// Input errors
	CodeInvalidURL          ErrorCode = "INVALID_URL"
	CodeUnsupportedProvider ErrorCode = "UNSUPPORTED_PROVIDER"

	// Availability errors
	CodeMissingCredentials ErrorCode = "MISSING_CREDENTIALS"
	CodeDependencyMissing  ErrorCode = "DEPENDENCY_MISSING"
	CodeQuotaExceeded      ErrorCode = "QUOTA_EXCEEDED"
	CodeMetadataOnly       ErrorCode = "METADATA_ONLY"

	// Not-found errors
	CodeNotFound       ErrorCode = "NOT_FOUND"
	CodePrivateContent ErrorCode = "PRIVATE_CONTENT"

	// Auth errors
	CodeAuthExpired       ErrorCode = "AUTH_EXPIRED"
	CodeSecurityChallenge ErrorCode = "SECURITY_CHALLENGE"

	// Extraction errors
	CodeParseError     ErrorCode = "PARSE_ERROR"
	CodeNoFormats      ErrorCode = "NO_FORMATS"
	CodeNoMediaStreams ErrorCode = "NO_MEDIA_STREAMS"

	// Transport errors
	CodeNetworkError ErrorCode = "NETWORK_ERROR"
	CodeTimeout      ErrorCode = "TIMEOUT"

	// Aggregate errors
	CodeNoExtractorsAvailable ErrorCode = "NO_EXTRACTORS_AVAILABLE"
	CodeAllMethodsFailed      ErrorCode = "ALL_METHODS_FAILED"
)

var codeCategories = map[ErrorCode]Category{
	CodeInvalidURL:            CategoryInput,
	CodeUnsupportedProvider:   CategoryInput,
	CodeMissingCredentials:    CategoryAvailability,
	CodeDependencyMissing:     CategoryAvailability,
	CodeQuotaExceeded:         CategoryAvailability,
	CodeMetadataOnly:          CategoryAvailability,
	CodeNotFound:              CategoryNotFound,
	CodePrivateContent:        CategoryNotFound,
	CodeAuthExpired:           CategoryAuth,
	CodeSecurityChallenge:     CategoryAuth,
	CodeParseError:            CategoryExtraction,
	CodeNoFormats:             CategoryExtraction,
	CodeNoMediaStreams:        CategoryExtraction,
	CodeNetworkError:          CategoryTransport,
	CodeTimeout:               CategoryTransport,
	CodeNoExtractorsAvailable: CategoryAggregate,
	CodeAllMethodsFailed:      CategoryAggregate,
}

// Category returns the category of the code. Unknown codes are extraction errors.
func (c ErrorCode) Category() Category {
	if cat, ok := codeCategories[c]; ok {
		return cat
	}
	return CategoryExtraction
}

// Attempt records the failure of one extractor inside an aggregate error
type Attempt struct {
	Method  string    `json:"method"`
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

// ExtractError is the structured error carried by a failed Result
type ExtractError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	// Attempts is only populated for aggregate errors
	Attempts []Attempt `json:"attempts,omitempty"`
}

func (e *ExtractError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewError creates an ExtractError
func NewError(code ErrorCode, format string, args ...any) *ExtractError {
	return &ExtractError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// codeSpecificity ranks categories when picking the most telling cause
// out of an aggregate failure. Higher wins.
var codeSpecificity = map[Category]int{
	CategoryNotFound:     6,
	CategoryInput:        5,
	CategoryAuth:         4,
	CategoryAvailability: 3,
	CategoryExtraction:   2,
	CategoryTransport:    1,
	CategoryAggregate:    0,
}

// MostSpecific returns the attempt whose code says the most about why the
// media could not be resolved. A "not found" from any strategy outranks a
// generic parse failure from another.
func (e *ExtractError) MostSpecific() (Attempt, bool) {
	if e == nil || len(e.Attempts) == 0 {
		return Attempt{}, false
	}
	best := e.Attempts[0]
	for _, a := range e.Attempts[1:] {
		if specificity(a.Code) > specificity(best.Code) {
			best = a
		}
	}
	return best, true
}

func specificity(c ErrorCode) int {
	// a metadata-only API fails on every request, it never explains anything
	if c == CodeMetadataOnly {
		return -1
	}
	return codeSpecificity[c.Category()]
}
