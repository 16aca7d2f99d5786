package extract

import (
	"errors"
	"fmt"

	"github.com/Sriram-PR/classifieds-crawler/pkg/utils"
)

var (
	errEmptyBody   = errors.New("empty body")
	errNoContainer = errors.New("listing container not found")
)

// Reason says why a page could not be turned into a listing
type Reason int

const (
	ReasonMalformedPage Reason = iota // No listing container on the page
	ReasonMissingID                   // Neither the page, the URL nor discovery carry an ad id
	ReasonInvalidHTML                 // Document could not be parsed at all
)

func (r Reason) String() string {
	switch r {
	case ReasonMalformedPage:
		return "malformed_page"
	case ReasonMissingID:
		return "missing_id"
	case ReasonInvalidHTML:
		return "invalid_html"
	}
	return fmt.Sprintf("reason(%d)", int(r))
}

// ParseError is returned by Parser.Parse. Parse failures are permanent for the URL: content is static.
type ParseError struct {
	Reason Reason
	URL    string
	Err    error
}

func (e *ParseError) Error() string {
	msg := fmt.Sprintf("parse %s: %s", e.URL, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ParseError) Unwrap() []error {
	errs := []error{utils.ErrParsing}
	switch e.Reason {
	case ReasonMalformedPage:
		errs = append(errs, utils.ErrMalformedPage)
	case ReasonMissingID:
		errs = append(errs, utils.ErrMissingID)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// Category implements the categorizer used by utils.CategorizeError
func (e *ParseError) Category() string {
	switch e.Reason {
	case ReasonMalformedPage:
		return "Content_MalformedPage"
	case ReasonMissingID:
		return "Content_MissingID"
	}
	return "Content_ParsingHTML"
}
