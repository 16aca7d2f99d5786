package utils

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
)

// --- Sentinel Errors for Categorization ---
var (
	ErrRobotsFetch      = errors.New("robots.txt could not be retrieved") // Fatal: compliance cannot be proven
	ErrRobotsDisallowed = errors.New("disallowed by robots.txt")
	ErrFetch            = errors.New("fetch error")             // Wrapped by every *fetch.FetchError
	ErrRetryFailed      = errors.New("request failed after all retries")
	ErrParsing          = errors.New("parsing error")           // Wraps specific parsing error (HTML, URL, XML)
	ErrMalformedPage    = errors.New("malformed page")          // Listing container not found
	ErrMissingID        = errors.New("listing id not found")    // Neither page nor URL carry an ad id
	ErrStoreIO          = errors.New("store I/O error")         // Fatal: durability compromised
	ErrStoreConstraint  = errors.New("store constraint violation")
	ErrNotFound         = errors.New("not found")
	ErrBrowserInit      = errors.New("browser context could not be initialized")
	ErrSession          = errors.New("session state error")
	ErrFilesystem       = errors.New("filesystem error") // Wraps os errors
	ErrDatabase         = errors.New("database error")   // Wraps badger errors
	ErrConfigValidation = errors.New("configuration validation error")
	ErrCapReached       = errors.New("listing cap reached") // Graceful stop, not a failure
)

// IsFatal reports whether err must abort the whole run rather than just the current URL.
func IsFatal(err error) bool {
	return errors.Is(err, ErrRobotsFetch) ||
		errors.Is(err, ErrStoreIO) ||
		errors.Is(err, ErrStoreConstraint) ||
		errors.Is(err, ErrBrowserInit) ||
		errors.Is(err, ErrDatabase)
}

// CategorizeError maps an error to a predefined category string for logging and run reports.
func CategorizeError(err error) string {
	if err == nil {
		return "None"
	}

	// Fetch errors carry their own kind, see fetch.FetchError.Category
	var categorized interface{ Category() string }
	if errors.As(err, &categorized) {
		return categorized.Category()
	}

	switch {
	case errors.Is(err, ErrRobotsFetch):
		return "Policy_RobotsUnavailable"
	case errors.Is(err, ErrRobotsDisallowed):
		return "Policy_Robots"
	case errors.Is(err, ErrRetryFailed):
		return "Fetch_RetryFailed"
	case errors.Is(err, ErrMalformedPage):
		return "Content_MalformedPage"
	case errors.Is(err, ErrMissingID):
		return "Content_MissingID"
	case errors.Is(err, ErrParsing):
		errMsg := err.Error()
		if strings.Contains(errMsg, "URL") {
			return "Content_ParsingURL"
		}
		if strings.Contains(errMsg, "HTML") {
			return "Content_ParsingHTML"
		}
		if strings.Contains(errMsg, "XML") {
			return "Content_ParsingXML"
		}
		return "Content_ParsingOther"
	case errors.Is(err, ErrStoreConstraint):
		return "Store_Constraint"
	case errors.Is(err, ErrStoreIO):
		return "Store_IO"
	case errors.Is(err, ErrNotFound):
		return "Store_NotFound"
	case errors.Is(err, ErrBrowserInit):
		return "Browser_Init"
	case errors.Is(err, ErrSession):
		return "Browser_Session"
	case errors.Is(err, ErrFilesystem):
		if errors.Is(err, os.ErrPermission) {
			return "Filesystem_Permission"
		}
		if errors.Is(err, os.ErrNotExist) {
			return "Filesystem_NotExist"
		}
		return "Filesystem_Other"
	case errors.Is(err, ErrDatabase):
		return "Database_Other"
	case errors.Is(err, ErrConfigValidation):
		return "Config_Validation"
	case errors.Is(err, ErrFetch):
		return "Fetch_Other"
	case errors.Is(err, ErrCapReached):
		return "Run_CapReached"
	}

	// --- Fallback checks for common underlying error types/strings ---
	if errors.Is(err, context.Canceled) {
		return "System_ContextCanceled"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "System_ContextDeadlineExceeded"
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "Network_Timeout"
	}
	lowerErrMsg := strings.ToLower(err.Error())
	if strings.Contains(lowerErrMsg, "timeout") {
		return "Network_TimeoutGeneric"
	}
	if strings.Contains(lowerErrMsg, "connection refused") {
		return "Network_ConnectionRefused"
	}
	if strings.Contains(lowerErrMsg, "no such host") {
		return "Network_DNSLookup"
	}
	if strings.Contains(lowerErrMsg, "tls") || strings.Contains(lowerErrMsg, "certificate") {
		return "Network_TLS"
	}
	if strings.Contains(lowerErrMsg, "reset by peer") {
		return "Network_ConnectionReset"
	}

	return "Unknown"
}

// WrapErrorf annotates err with a formatted prefix, keeping it matchable with errors.Is.
// Returns nil when err is nil.
func WrapErrorf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}
