package utils

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"
	"unicode/utf8"
)

// --- CategorizeError Tests ---

func TestCategorizeError_NilError(t *testing.T) {
	result := CategorizeError(nil)
	if result != "None" {
		t.Errorf("CategorizeError(nil) = %q, want %q", result, "None")
	}
}

func TestCategorizeError_SentinelErrors(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{"RobotsFetch", ErrRobotsFetch, "Policy_RobotsUnavailable"},
		{"RobotsDisallowed", ErrRobotsDisallowed, "Policy_Robots"},
		{"RetryFailed", ErrRetryFailed, "Fetch_RetryFailed"},
		{"MalformedPage", ErrMalformedPage, "Content_MalformedPage"},
		{"MissingID", ErrMissingID, "Content_MissingID"},
		{"StoreConstraint", ErrStoreConstraint, "Store_Constraint"},
		{"StoreIO", ErrStoreIO, "Store_IO"},
		{"NotFound", ErrNotFound, "Store_NotFound"},
		{"BrowserInit", ErrBrowserInit, "Browser_Init"},
		{"Session", ErrSession, "Browser_Session"},
		{"ConfigValidation", ErrConfigValidation, "Config_Validation"},
		{"Database", ErrDatabase, "Database_Other"},
		{"Filesystem", ErrFilesystem, "Filesystem_Other"},
		{"Fetch", ErrFetch, "Fetch_Other"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := CategorizeError(tt.err)
			if result != tt.expected {
				t.Errorf("CategorizeError(%v) = %q, want %q", tt.err, result, tt.expected)
			}
		})
	}
}

func TestCategorizeError_WrappedErrors(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{
			name:     "WrappedRobotsDisallowed",
			err:      fmt.Errorf("some context: %w", ErrRobotsDisallowed),
			expected: "Policy_Robots",
		},
		{
			name:     "DoubleWrappedStoreIO",
			err:      fmt.Errorf("outer: %w", fmt.Errorf("inner: %w", ErrStoreIO)),
			expected: "Store_IO",
		},
		{
			name:     "FilesystemPermission",
			err:      fmt.Errorf("%w: %w", ErrFilesystem, os.ErrPermission),
			expected: "Filesystem_Permission",
		},
		{
			name:     "FilesystemNotExist",
			err:      fmt.Errorf("%w: %w", ErrFilesystem, os.ErrNotExist),
			expected: "Filesystem_NotExist",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := CategorizeError(tt.err)
			if result != tt.expected {
				t.Errorf("CategorizeError(%v) = %q, want %q", tt.err, result, tt.expected)
			}
		})
	}
}

type categorizedErr struct{}

func (categorizedErr) Error() string    { return "categorized" }
func (categorizedErr) Category() string { return "HTTP_503" }

func TestCategorizeError_SelfCategorizing(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", categorizedErr{})
	if got := CategorizeError(err); got != "HTTP_503" {
		t.Errorf("CategorizeError() = %q, want %q", got, "HTTP_503")
	}
}

func TestCategorizeError_ParsingErrors(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{"URL", fmt.Errorf("%w: invalid URL", ErrParsing), "Content_ParsingURL"},
		{"HTML", fmt.Errorf("%w: bad HTML", ErrParsing), "Content_ParsingHTML"},
		{"XML", fmt.Errorf("%w: bad XML", ErrParsing), "Content_ParsingXML"},
		{"Other", fmt.Errorf("%w: something", ErrParsing), "Content_ParsingOther"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := CategorizeError(tt.err)
			if result != tt.expected {
				t.Errorf("CategorizeError(%v) = %q, want %q", tt.err, result, tt.expected)
			}
		})
	}
}

func TestCategorizeError_ContextErrors(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{"ContextCanceled", context.Canceled, "System_ContextCanceled"},
		{"ContextDeadlineExceeded", context.DeadlineExceeded, "System_ContextDeadlineExceeded"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := CategorizeError(tt.err)
			if result != tt.expected {
				t.Errorf("CategorizeError(%v) = %q, want %q", tt.err, result, tt.expected)
			}
		})
	}
}

func TestCategorizeError_NetworkStrings(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{"Timeout", errors.New("connection timeout occurred"), "Network_TimeoutGeneric"},
		{"ConnectionRefused", errors.New("connection refused"), "Network_ConnectionRefused"},
		{"DNSLookup", errors.New("no such host"), "Network_DNSLookup"},
		{"TLS", errors.New("tls handshake failed"), "Network_TLS"},
		{"Reset", errors.New("read: connection reset by peer"), "Network_ConnectionReset"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := CategorizeError(tt.err)
			if result != tt.expected {
				t.Errorf("CategorizeError(%v) = %q, want %q", tt.err, result, tt.expected)
			}
		})
	}
}

func TestCategorizeError_Unknown(t *testing.T) {
	result := CategorizeError(errors.New("something completely different"))
	if result != "Unknown" {
		t.Errorf("CategorizeError() = %q, want %q", result, "Unknown")
	}
}

func TestIsFatal(t *testing.T) {
	fatal := []error{ErrRobotsFetch, ErrStoreIO, ErrStoreConstraint, ErrBrowserInit, fmt.Errorf("x: %w", ErrStoreIO)}
	for _, err := range fatal {
		if !IsFatal(err) {
			t.Errorf("IsFatal(%v) = false, want true", err)
		}
	}
	nonFatal := []error{ErrRobotsDisallowed, ErrFetch, ErrMalformedPage, errors.New("plain")}
	for _, err := range nonFatal {
		if IsFatal(err) {
			t.Errorf("IsFatal(%v) = true, want false", err)
		}
	}
}

// --- SanitizeFilename Tests ---

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"simple", "simple"},
		{"with spaces", "with spaces"},
		{"a/b\\c", "a_b_c"},
		{"a<>:\"|?*b", "a_b"},
		{"__leading_and_trailing__", "leading_and_trailing"},
		{"", "untitled"},
		{"///", "untitled"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result := SanitizeFilename(tt.input)
			if result != tt.expected {
				t.Errorf("SanitizeFilename(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestSanitizeFilename_LongNames(t *testing.T) {
	long := strings.Repeat("a", 250)
	result := SanitizeFilename(long)
	if len(result) > maxFilenameLength {
		t.Errorf("SanitizeFilename() length = %d, want <= %d", len(result), maxFilenameLength)
	}
}

func TestSanitizeFilename_CutsOnRuneBoundary(t *testing.T) {
	result := SanitizeFilename("a" + strings.Repeat("é", 60))
	if !utf8.ValidString(result) {
		t.Errorf("SanitizeFilename() produced invalid UTF-8: %q", result)
	}
	if len(result) != 99 {
		t.Errorf("SanitizeFilename() length = %d, want 99", len(result))
	}
}

func TestDebugDumpName(t *testing.T) {
	at := time.Unix(1700000000, 0)
	got := DebugDumpName("sitemap", "https://www.hasznaltauto.hu/sitemap/sitemap_index.xml", "html", at)
	want := "sitemap_www.hasznaltauto.hu_sitemap_sitemap_index.xml_1700000000.html"
	if got != want {
		t.Errorf("DebugDumpName() = %q, want %q", got, want)
	}
}

// --- Text helpers ---

func TestFoldAccents(t *testing.T) {
	tests := map[string]string{
		"Évjárat":          "Evjarat",
		"Km. óra állás":    "Km. ora allas",
		"Hengerűrtartalom": "Hengerurtartalom",
		"plain":            "plain",
	}
	for in, want := range tests {
		if got := FoldAccents(in); got != want {
			t.Errorf("FoldAccents(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNormalizeLabel(t *testing.T) {
	tests := map[string]string{
		"  Üzemanyag: ":           "uzemanyag",
		"Évjárat (gyártási év)":   "evjarat (gyartasi ev)",
		"Szállítható szem.  száma": "szallithato szem. szama",
	}
	for in, want := range tests {
		if got := NormalizeLabel(in); got != want {
			t.Errorf("NormalizeLabel(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestParseDigits(t *testing.T) {
	tests := []struct {
		in   string
		want int64
		ok   bool
	}{
		{"3 990 000 Ft", 3990000, true},
		{"102 000 km", 102000, true},
		{"1.598 cm³", 1598, true},
		{"n/a", 0, false},
		{"", 0, false},
	}
	for _, tt := range tests {
		got, ok := ParseDigits(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Errorf("ParseDigits(%q) = (%d, %v), want (%d, %v)", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

// --- Hash Tests ---

func TestCalculateStringSHA256(t *testing.T) {
	// Known SHA-256 of the empty string
	const emptyHash = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"
	if got := CalculateStringSHA256(""); got != emptyHash {
		t.Errorf("CalculateStringSHA256(\"\") = %q, want %q", got, emptyHash)
	}
	if CalculateStringSHA256("a") == CalculateStringSHA256("b") {
		t.Error("different inputs should produce different hashes")
	}
}

// --- WrapErrorf Tests ---

func TestWrapErrorf_NilError(t *testing.T) {
	result := WrapErrorf(nil, "some context")
	if result != nil {
		t.Errorf("WrapErrorf(nil, ...) = %v, want nil", result)
	}
}

func TestWrapErrorf_WrapsError(t *testing.T) {
	original := errors.New("original error")
	wrapped := WrapErrorf(original, "context %s", "value")

	if wrapped == nil {
		t.Fatal("WrapErrorf() returned nil, want error")
	}
	if !errors.Is(wrapped, original) {
		t.Error("WrapErrorf() result should wrap original error")
	}
	expectedMsg := "context value: original error"
	if wrapped.Error() != expectedMsg {
		t.Errorf("WrapErrorf() message = %q, want %q", wrapped.Error(), expectedMsg)
	}
}
