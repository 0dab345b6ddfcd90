package contract

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	v1 "github.com/aevon-lab/eventcore/internal/api/v1"
	coreerr "github.com/aevon-lab/eventcore/internal/core/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const scoreRequestedV1 = `
event: ScoreRequested
version: 1
strictMode: true
fields:
  request_id: string!
  model:
    type: string!
    enum: [baseline, premium]
  prompt:
    type: string
    minLength: 1
    maxLength: 16
  tokens:
    type: int32
    min: 1
  urgent: bool
`

const scoreRecordedV2 = `
syntax = "proto3";
package scoring;

message ScoreRecorded {
  enum Grade {
    GRADE_UNSPECIFIED = 0;
    GRADE_PASS = 1;
    GRADE_FAIL = 2;
  }
  message Breakdown {
    double accuracy = 1;
  }

  string request_id = 1;
  double score = 2;
  Grade grade = 3;
  repeated string tags = 4;
  Breakdown breakdown = 5;
  uint32 attempts = 6;
}
`

func writeContract(t *testing.T, root, eventType, file, content string) {
	t.Helper()
	dir := filepath.Join(root, eventType)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, file), []byte(content), 0o644))
}

func newTestRegistry(t *testing.T, opts ...Option) (*Registry, string) {
	t.Helper()
	root := t.TempDir()
	writeContract(t, root, "ScoreRequested", "v1.yaml", scoreRequestedV1)
	writeContract(t, root, "ScoreRecorded", "v2.proto", scoreRecordedV2)
	return NewRegistry(NewFileSource(root), opts...), root
}

func eventWith(eventType string, version interface{}, payload map[string]interface{}) v1.DomainEvent {
	evt := v1.DomainEvent{
		EventID:       "evt-1",
		AggregateID:   "req-1",
		AggregateType: "AIResult",
		EventType:     eventType,
		Version:       1,
		Payload:       payload,
	}
	if version != nil {
		evt.Metadata = map[string]interface{}{MetadataVersionKey: version}
	}
	return evt
}

func violationFields(t *testing.T, err error) []string {
	t.Helper()
	var ve *coreerr.ValidationError
	require.True(t, errors.As(err, &ve), "expected ValidationError, got %v", err)
	vs, ok := ve.Details["violations"].([]Violation)
	require.True(t, ok)
	fields := make([]string, len(vs))
	for i, v := range vs {
		fields[i] = v.Field
	}
	return fields
}

func TestRegistry_ValidateYAML(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	tests := []struct {
		name       string
		payload    map[string]interface{}
		wantFields []string
	}{
		{
			name:    "valid",
			payload: map[string]interface{}{"request_id": "r1", "model": "baseline", "tokens": float64(12), "urgent": true},
		},
		{
			name:       "missing required",
			payload:    map[string]interface{}{"model": "baseline"},
			wantFields: []string{"request_id"},
		},
		{
			name:       "enum and type",
			payload:    map[string]interface{}{"request_id": 7, "model": "deluxe"},
			wantFields: []string{"model", "request_id"},
		},
		{
			name:       "string length",
			payload:    map[string]interface{}{"request_id": "r1", "model": "premium", "prompt": "this prompt is far too long"},
			wantFields: []string{"prompt"},
		},
		{
			name:       "int32 fraction and min",
			payload:    map[string]interface{}{"request_id": "r1", "model": "premium", "tokens": 1.5},
			wantFields: []string{"tokens"},
		},
		{
			name:       "below min",
			payload:    map[string]interface{}{"request_id": "r1", "model": "premium", "tokens": 0},
			wantFields: []string{"tokens"},
		},
		{
			name:       "strict unknown field",
			payload:    map[string]interface{}{"request_id": "r1", "model": "premium", "extra": "x"},
			wantFields: []string{"extra"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := reg.Validate(ctx, eventWith("ScoreRequested", float64(1), tt.payload))
			if tt.wantFields == nil {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, coreerr.ErrValidation)
			assert.Equal(t, tt.wantFields, violationFields(t, err))
		})
	}
}

func TestRegistry_ValidateProto(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name       string
		strict     bool
		payload    map[string]interface{}
		wantFields []string
	}{
		{
			name: "valid",
			payload: map[string]interface{}{
				"requestId": "r1",
				"score":     87.5,
				"grade":     "GRADE_PASS",
				"tags":      []interface{}{"a", "b"},
				"breakdown": map[string]interface{}{"accuracy": 0.9},
				"attempts":  float64(2),
			},
		},
		{
			name:    "proto field names accepted",
			payload: map[string]interface{}{"request_id": "r1"},
		},
		{
			name:       "wrong scalar types",
			payload:    map[string]interface{}{"requestId": 1, "score": "high"},
			wantFields: []string{"requestId", "score"},
		},
		{
			name:       "unknown enum",
			payload:    map[string]interface{}{"grade": "GRADE_MAYBE"},
			wantFields: []string{"grade"},
		},
		{
			name:       "list element",
			payload:    map[string]interface{}{"tags": []interface{}{"ok", 3}},
			wantFields: []string{"tags[1]"},
		},
		{
			name:       "nested message",
			payload:    map[string]interface{}{"breakdown": map[string]interface{}{"accuracy": "x"}},
			wantFields: []string{"breakdown.accuracy"},
		},
		{
			name:       "negative unsigned",
			payload:    map[string]interface{}{"attempts": -1},
			wantFields: []string{"attempts"},
		},
		{
			name:    "unknown field tolerated",
			payload: map[string]interface{}{"other": true},
		},
		{
			name:       "unknown field strict",
			strict:     true,
			payload:    map[string]interface{}{"other": true},
			wantFields: []string{"other"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg, _ := newTestRegistry(t, WithStrictProto(tt.strict))
			err := reg.Validate(ctx, eventWith("ScoreRecorded", "2", tt.payload))
			if tt.wantFields == nil {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, coreerr.ErrValidation)
			assert.Equal(t, tt.wantFields, violationFields(t, err))
		})
	}
}

func TestRegistry_VersionSelection(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	t.Run("no schema_version skips validation", func(t *testing.T) {
		require.NoError(t, reg.Validate(ctx, eventWith("ScoreRequested", nil, map[string]interface{}{})))
	})

	t.Run("unknown version", func(t *testing.T) {
		err := reg.Validate(ctx, eventWith("ScoreRequested", 9, map[string]interface{}{}))
		require.ErrorIs(t, err, coreerr.ErrValidation)
		assert.Contains(t, err.Error(), "ScoreRequested/v9")
	})

	t.Run("malformed version", func(t *testing.T) {
		for _, raw := range []interface{}{"one", 0, 1.5} {
			err := reg.Validate(ctx, eventWith("ScoreRequested", raw, map[string]interface{}{}))
			require.ErrorIs(t, err, coreerr.ErrValidation, "version %v", raw)
		}
	})
}

func TestRegistry_RecompilesOnChange(t *testing.T) {
	reg, root := newTestRegistry(t)
	ctx := context.Background()
	payload := map[string]interface{}{"request_id": "r1", "model": "baseline", "extra": 1}

	require.Error(t, reg.Validate(ctx, eventWith("ScoreRequested", 1, payload)))

	relaxed := `
event: ScoreRequested
version: 1
fields:
  request_id: string!
  model: string!
`
	writeContract(t, root, "ScoreRequested", "v1.yaml", relaxed)
	require.NoError(t, reg.Validate(ctx, eventWith("ScoreRequested", 1, payload)))
	assert.Len(t, reg.compiled, 2)
}

func TestRegistry_BrokenDefinition(t *testing.T) {
	root := t.TempDir()
	writeContract(t, root, "Bad", "v1.yaml", "event: Bad\nversion: 1\nfields:\n  x: uuid\n")
	writeContract(t, root, "Mismatch", "v1.yaml", "event: Other\nversion: 1\nfields:\n  x: string\n")
	writeContract(t, root, "BadProto", "v1.proto", "syntax = \"proto3\";\nmessage {")
	reg := NewRegistry(NewFileSource(root))
	ctx := context.Background()

	for _, typ := range []string{"Bad", "Mismatch", "BadProto"} {
		err := reg.Validate(ctx, eventWith(typ, 1, map[string]interface{}{}))
		require.Error(t, err, typ)
		assert.NotErrorIs(t, err, coreerr.ErrValidation, typ)
	}
}

func TestFileSource(t *testing.T) {
	root := t.TempDir()
	writeContract(t, root, "ScoreRequested", "v1.yaml", scoreRequestedV1)
	writeContract(t, root, "ScoreRequested", "v1.proto", scoreRecordedV2)
	writeContract(t, root, "ScoreRequested", "v3.yaml", scoreRequestedV1)
	writeContract(t, root, "ScoreRequested", "notes.txt", "ignored")
	writeContract(t, root, "ScoreRecorded", "v2.proto", scoreRecordedV2)
	src := NewFileSource(root)
	ctx := context.Background()

	c, err := src.Get(ctx, Key{EventType: "ScoreRequested", Version: 1})
	require.NoError(t, err)
	assert.Equal(t, FormatYAML, c.Format)
	assert.Equal(t, fingerprint([]byte(scoreRequestedV1)), c.Fingerprint)

	_, err = src.Get(ctx, Key{EventType: "ScoreRequested", Version: 2})
	assert.ErrorIs(t, err, ErrNotFound)

	list, err := src.List(ctx, "ScoreRequested")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, 1, list[0].Version)
	assert.Equal(t, 3, list[1].Version)

	all, err := src.List(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	missing, err := NewFileSource(filepath.Join(root, "nope")).List(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, missing)
}
