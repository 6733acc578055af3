package filter

import (
	"fmt"
	"regexp"
	"strings"
)

// Options captures the filtering configuration.
type Options struct {
	IncludeFolder  []string
	IncludeSubject []string
	ExcludeFolder  []string
	ExcludeSubject []string
}

// Active reports whether any pattern is configured.
func (o Options) Active() bool {
	return len(o.IncludeFolder)+len(o.IncludeSubject)+len(o.ExcludeFolder)+len(o.ExcludeSubject) > 0
}

// Filter holds compiled regex patterns for selecting messages by folder path
// and subject.
type Filter struct {
	includeMode    bool
	excludeMode    bool
	includeFolder  []*regexp.Regexp
	includeSubject []*regexp.Regexp
	excludeFolder  []*regexp.Regexp
	excludeSubject []*regexp.Regexp
}

// New creates a new Filter from the provided options.
func New(opts Options) (*Filter, error) {
	includeFolder, err := compilePatterns(opts.IncludeFolder)
	if err != nil {
		return nil, fmt.Errorf("compile include-folder pattern: %w", err)
	}
	includeSubject, err := compilePatterns(opts.IncludeSubject)
	if err != nil {
		return nil, fmt.Errorf("compile include-subject pattern: %w", err)
	}
	excludeFolder, err := compilePatterns(opts.ExcludeFolder)
	if err != nil {
		return nil, fmt.Errorf("compile exclude-folder pattern: %w", err)
	}
	excludeSubject, err := compilePatterns(opts.ExcludeSubject)
	if err != nil {
		return nil, fmt.Errorf("compile exclude-subject pattern: %w", err)
	}

	includeActive := len(includeFolder) > 0 || len(includeSubject) > 0
	excludeActive := len(excludeFolder) > 0 || len(excludeSubject) > 0
	if includeActive && excludeActive {
		return nil, fmt.Errorf("include and exclude filters are mutually exclusive")
	}

	return &Filter{
		includeMode:    includeActive,
		excludeMode:    excludeActive,
		includeFolder:  includeFolder,
		includeSubject: includeSubject,
		excludeFolder:  excludeFolder,
		excludeSubject: excludeSubject,
	}, nil
}

// Allows returns true if a message with the given subject, found in the
// folder at folderPath (display names joined by "/"), passes the filter.
// A nil Filter allows everything.
func (f *Filter) Allows(folderPath, subject string) bool {
	if f == nil {
		return true
	}

	if f.includeMode {
		return matchAny(f.includeFolder, folderPath) || matchAny(f.includeSubject, subject)
	}

	if f.excludeMode {
		if matchAny(f.excludeFolder, folderPath) || matchAny(f.excludeSubject, subject) {
			return false
		}
	}

	return true
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
	for _, re := range patterns {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}
