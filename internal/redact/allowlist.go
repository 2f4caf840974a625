package redact

import (
	"errors"
	"fmt"
	"os"
	"regexp"

	"github.com/BurntSushi/toml"
)

var (
	// ErrInvalidAllowlist is returned for allowlist files that do not parse.
	ErrInvalidAllowlist = errors.New("invalid allowlist")

	// ErrInvalidPattern is returned for allowlist regexes that do not compile.
	ErrInvalidPattern = errors.New("invalid allowlist pattern")
)

// Allowlist holds content patterns that are never treated as secrets.
type Allowlist struct {
	Regexes   []string
	StopWords []string
}

// LoadAllowlist reads an allowlist file. A missing file yields an empty
// allowlist.
func LoadAllowlist(path string) (*Allowlist, error) {
	if path == "" {
		return &Allowlist{}, nil
	}
	var file struct {
		Allowlist struct {
			Regexes   []string `toml:"regexes"`
			StopWords []string `toml:"stopwords"`
		} `toml:"allowlist"`
	}
	if _, err := toml.DecodeFile(path, &file); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Allowlist{}, nil
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidAllowlist, path, err)
	}

	al := &Allowlist{Regexes: file.Allowlist.Regexes, StopWords: file.Allowlist.StopWords}
	if _, err := al.compile(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return al, nil
}

func (a *Allowlist) compile() ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(a.Regexes))
	for _, p := range a.Regexes {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("%w %q: %v", ErrInvalidPattern, p, err)
		}
		out = append(out, re)
	}
	return out, nil
}
