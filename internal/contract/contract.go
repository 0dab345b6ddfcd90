// Package contract validates event payloads against versioned definitions
// stored on disk as {root}/{event_type}/v{N}.yaml or v{N}.proto.
//
// An event opts in by carrying "schema_version" in its metadata.
package contract

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"

	coreerr "github.com/aevon-lab/eventcore/internal/core/errors"
	"google.golang.org/protobuf/reflect/protoreflect"
)

// MetadataVersionKey is the metadata entry selecting the contract version.
const MetadataVersionKey = "schema_version"

var ErrNotFound = errors.New("contract not found")

type Format string

const (
	FormatYAML     Format = "yaml"
	FormatProtobuf Format = "protobuf"
)

// Key identifies one contract version.
type Key struct {
	EventType string
	Version   int
}

func (k Key) String() string { return fmt.Sprintf("%s/v%d", k.EventType, k.Version) }

// Contract is a raw definition as loaded from the source.
type Contract struct {
	EventType   string `json:"event_type"`
	Version     int    `json:"version"`
	Format      Format `json:"format"`
	Definition  []byte `json:"-"`
	Fingerprint string `json:"fingerprint"`
}

func (c *Contract) Key() Key { return Key{EventType: c.EventType, Version: c.Version} }

func fingerprint(definition []byte) string {
	sum := sha256.Sum256(definition)
	return hex.EncodeToString(sum[:])
}

// compiled holds exactly one of yaml or proto depending on format.
type compiled struct {
	key    Key
	format Format
	strict bool
	yaml   *Spec
	proto  protoreflect.MessageDescriptor
}

// Violation is one failed payload field.
type Violation struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

type violations []Violation

func (v *violations) add(field, format string, args ...interface{}) {
	*v = append(*v, Violation{Field: field, Message: fmt.Sprintf(format, args...)})
}

func (v *violations) typeMismatch(field, want string, got interface{}) {
	v.add(field, "expected %s, got %s", want, jsonTypeName(got))
}

// asError turns collected violations into a ValidationError, nil when empty.
func (v violations) asError(key Key) error {
	if len(v) == 0 {
		return nil
	}
	sort.Slice(v, func(i, j int) bool { return v[i].Field < v[j].Field })
	msgs := make([]string, len(v))
	for i, x := range v {
		msgs[i] = x.Field + ": " + x.Message
	}
	return &coreerr.ValidationError{
		Field:   "payload",
		Message: fmt.Sprintf("payload violates contract %s: %s", key, strings.Join(msgs, "; ")),
		Details: map[string]interface{}{
			"contract":   key.String(),
			"violations": []Violation(v),
		},
	}
}

func jsonTypeName(v interface{}) string {
	switch v.(type) {
	case nil:
		return "null"
	case bool:
		return "bool"
	case float64, float32, int, int32, int64:
		return "number"
	case string:
		return "string"
	case []interface{}:
		return "array"
	case map[string]interface{}:
		return "object"
	default:
		return fmt.Sprintf("%T", v)
	}
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
