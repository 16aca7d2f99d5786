package models

// URLState is the per-candidate lifecycle state
type URLState string

const (
	URLStateDiscovered  URLState = "discovered"
	URLStateDenied      URLState = "denied"       // Terminal: robots.txt disallows
	URLStateSkipped     URLState = "skipped"      // Terminal: ad_id already stored, force not set
	URLStateFetchFailed URLState = "fetch_failed" // Terminal: retries and fallbacks exhausted
	URLStateParseFailed URLState = "parse_failed" // Terminal: page has no listing container or id
	URLStateStored      URLState = "stored"       // Terminal success
)

// String implements fmt.Stringer for logging
func (s URLState) String() string {
	if s == "" {
		return "unset"
	}
	return string(s)
}

// IsTerminal reports whether no further processing happens for a URL in this state
func (s URLState) IsTerminal() bool {
	switch s {
	case URLStateDenied, URLStateSkipped, URLStateFetchFailed, URLStateParseFailed, URLStateStored:
		return true
	}
	return false
}

// IsValid returns true if the state is a known value
func (s URLState) IsValid() bool {
	return s == URLStateDiscovered || s.IsTerminal()
}
