package filter

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/dhcgn/oft-to-eml/model"
)

// Options captures the filtering configuration.
type Options struct {
	Include []string
	Exclude []string
}

// Filter holds compiled regex patterns for filtering extracted records.
// Patterns run against a synthesized text view of the record: one
// "Name: value" line per populated header field, then the bodies.
type Filter struct {
	includeMode bool
	excludeMode bool
	include     []*regexp.Regexp
	exclude     []*regexp.Regexp
}

// New creates a new Filter from the provided options.
func New(opts Options) (*Filter, error) {
	include, err := compilePatterns(opts.Include)
	if err != nil {
		return nil, fmt.Errorf("compile include pattern: %w", err)
	}
	exclude, err := compilePatterns(opts.Exclude)
	if err != nil {
		return nil, fmt.Errorf("compile exclude pattern: %w", err)
	}

	if len(include) > 0 && len(exclude) > 0 {
		return nil, fmt.Errorf("include and exclude filters are mutually exclusive")
	}

	return &Filter{
		includeMode: len(include) > 0,
		excludeMode: len(exclude) > 0,
		include:     include,
		exclude:     exclude,
	}, nil
}

// Active reports whether any pattern is configured.
func (f *Filter) Active() bool {
	return f.includeMode || f.excludeMode
}

// Allows returns true if the record passes the filter criteria.
func (f *Filter) Allows(rec *model.Record) bool {
	if !f.Active() {
		return true
	}

	text := SearchText(rec)

	if f.includeMode {
		return matchAny(f.include, text)
	}

	return !matchAny(f.exclude, text)
}

// SearchText renders the record as the text the filter patterns see:
// header-style lines for the populated fields, a blank line, then the
// plain and HTML bodies.
func SearchText(rec *model.Record) string {
	if rec == nil {
		return ""
	}

	var sb strings.Builder
	writeLine := func(name, value string) {
		if value == "" {
			return
		}
		sb.WriteString(name)
		sb.WriteString(": ")
		sb.WriteString(value)
		sb.WriteByte('\n')
	}

	writeLine("From", rec.Sender)
	writeLine("To", rec.To)
	writeLine("Cc", rec.Cc)
	writeLine("Subject", rec.Subject)
	for _, att := range rec.Attachments {
		writeLine("Attachment", att.Filename())
	}

	sb.WriteByte('\n')
	if rec.PlainBody != "" {
		sb.WriteString(rec.PlainBody)
		sb.WriteByte('\n')
	}
	if rec.HTMLBody != "" {
		sb.WriteString(rec.HTMLBody)
		sb.WriteByte('\n')
	}

	return sb.String()
}

func compilePatterns(patterns []string) ([]*regexp.Regexp, error) {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, pattern := range patterns {
		pattern = strings.TrimSpace(pattern)
		if pattern == "" {
			continue
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("compile %q: %w", pattern, err)
		}
		compiled = append(compiled, re)
	}
	return compiled, nil
}

func matchAny(patterns []*regexp.Regexp, text string) bool {
	if len(patterns) == 0 {
		return false
	}
	for _, re := range patterns {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}
