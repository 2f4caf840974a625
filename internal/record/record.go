// Package record implements the durable, human-inspectable memory record store.
//
// Every record is a markdown file with a YAML front-matter header, stored at
// <root>/<scope>/<kind-dir>/<id>.md. Deleting a record moves it to the
// parallel tree <root>/.tombstones/<scope>/<kind-dir>/<id>.md; nothing is
// ever erased.
package record

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Kind classifies a memory record.
type Kind string

const (
	KindFact          Kind = "fact"
	KindUserTurn      Kind = "user_turn"
	KindAssistantTurn Kind = "assistant_turn"
	KindSummary       Kind = "summary"
)

// GlobalScope is the reserved scope shared by every conversation.
const GlobalScope = "global"

// AllKinds lists every kind in directory order.
var AllKinds = []Kind{KindFact, KindUserTurn, KindAssistantTurn, KindSummary}

var kindDirs = map[Kind]string{
	KindFact:          "facts",
	KindUserTurn:      "turns-user",
	KindAssistantTurn: "turns-assistant",
	KindSummary:       "summaries",
}

// Dir returns the directory name used for the kind.
func (k Kind) Dir() string {
	return kindDirs[k]
}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	_, ok := kindDirs[k]
	return ok
}

func kindFromDir(dir string) (Kind, bool) {
	for k, d := range kindDirs {
		if d == dir {
			return k, true
		}
	}
	return "", false
}

var (
	// ErrNotFound is returned when no live record matches.
	ErrNotFound = errors.New("record not found")
	// ErrInvalidScope is returned for scope names that are not safe directory names.
	ErrInvalidScope = errors.New("invalid scope")
	// ErrInvalidKind is returned for unknown record kinds.
	ErrInvalidKind = errors.New("invalid record kind")
	// ErrInvalidID is returned for ids that are not safe file names.
	ErrInvalidID = errors.New("invalid record id")
	// ErrMalformed is returned when a record file cannot be parsed.
	ErrMalformed = errors.New("malformed record file")
)

var (
	scopePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]{0,127}$`)
	idPattern    = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]{0,127}$`)
)

// ValidateScope checks that scope can be used as a directory name.
func ValidateScope(scope string) error {
	if !scopePattern.MatchString(scope) {
		return fmt.Errorf("%w: %q", ErrInvalidScope, scope)
	}
	return nil
}

func validateID(id string) error {
	if !idPattern.MatchString(id) {
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return nil
}

// Record is a single memory item.
type Record struct {
	ID           string     `yaml:"id"`
	Scope        string     `yaml:"scope"`
	Kind         Kind       `yaml:"kind"`
	CreatedAt    time.Time  `yaml:"created_at"`
	ReplacedBy   string     `yaml:"replaced_by,omitempty"`
	TombstonedAt *time.Time `yaml:"tombstoned_at,omitempty"`
	Content      string     `yaml:"-"`
}

// Hash returns the hex sha256 of the record content.
func (r *Record) Hash() string {
	return ContentHash(r.Content)
}

// ContentHash returns the hex sha256 of content.
func ContentHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// Tombstoned reports whether the record has been soft-deleted.
func (r *Record) Tombstoned() bool {
	return r.TombstonedAt != nil
}

var delimiter = []byte("---\n")

// Marshal encodes the record as front-matter followed by the content body.
func (r *Record) Marshal() ([]byte, error) {
	header, err := yaml.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("marshal header: %w", err)
	}
	var buf bytes.Buffer
	buf.Grow(len(header) + len(r.Content) + 8)
	buf.Write(delimiter)
	buf.Write(header)
	buf.Write(delimiter)
	buf.WriteString(r.Content)
	return buf.Bytes(), nil
}

// Unmarshal parses a record file. Files without a front-matter header are
// accepted: the whole file becomes the content and the header fields stay
// zero for the caller to fill in.
func Unmarshal(data []byte) (*Record, error) {
	data = bytes.ReplaceAll(data, []byte("\r\n"), []byte("\n"))
	if !bytes.HasPrefix(data, delimiter) {
		return &Record{Content: string(data)}, nil
	}

	rest := data[len(delimiter):]
	end := bytes.Index(rest, append([]byte("\n"), delimiter...))
	var header, body []byte
	switch {
	case bytes.HasPrefix(rest, delimiter):
		body = rest[len(delimiter):]
	case end >= 0:
		header = rest[:end+1]
		body = rest[end+1+len(delimiter):]
	default:
		return nil, fmt.Errorf("%w: unterminated front matter", ErrMalformed)
	}

	var rec Record
	if err := yaml.Unmarshal(header, &rec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	rec.Content = string(body)
	return &rec, nil
}
