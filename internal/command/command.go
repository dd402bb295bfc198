// SPDX-License-Identifier: MIT

// Package command implements the typed editing commands and the executor
// pipeline that turns them into durable, undoable operations.
package command

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"sort"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/openreelio/reelcore/internal/apperr"
	"github.com/openreelio/reelcore/internal/events"
	"github.com/openreelio/reelcore/internal/project"
)

// MaxPayloadBytes caps the serialised size of a single command payload.
const MaxPayloadBytes = 256 * 1024

// idPattern is the allow-list for every identifier that arrives over the
// IPC surface. ULIDs match; anything else that does is also acceptable.
var idPattern = regexp.MustCompile(`^[A-Za-z0-9_\-]+$`)

// Result describes what a successful command changed.
type Result struct {
	OpID       string          `json:"opId"`
	Changes    []events.Change `json:"changes"`
	CreatedIDs []string        `json:"createdIds,omitempty"`
	DeletedIDs []string        `json:"deletedIds,omitempty"`
}

func (r *Result) addChange(kind events.ChangeKind, id string) {
	r.Changes = append(r.Changes, events.Change{Kind: kind, EntityID: id})
}

// Command is one typed edit operation.
//
// Execute validates preconditions against the state, captures the exact
// inverse it will need on the command instance itself, and mutates the
// state. On failure the state must remain untouched. Undo applies the
// recorded inverse; it is only called after a successful Execute.
type Command interface {
	Execute(s *project.State) (*Result, error)
	Undo(s *project.State) error

	// TypeName is the log record's kind tag.
	TypeName() string

	// MarshalPayload produces the canonical payload written to the log.
	// Called after Execute, so generated entity ids are present and a
	// replay decodes an identical command.
	MarshalPayload() (json.RawMessage, error)
}

// Merger is implemented by commands that can absorb an immediately
// following command of the same shape (adjacent typing, position nudges).
// Merge returns the combined command: it carries the first command's
// captured undo state and the second command's target values.
type Merger interface {
	CanMerge(next Command) bool
	Merge(next Command) Command
}

// decoder builds a command from its logged payload.
type decoder func(payload json.RawMessage) (Command, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]decoder{}
)

func register(kind string, d decoder) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, dup := registry[kind]; dup {
		panic(fmt.Sprintf("command kind registered twice: %s", kind))
	}
	registry[kind] = d
}

// Decode constructs a command from a kind tag and JSON payload. Unknown
// kinds and malformed payloads are validation errors; the payload size cap
// is enforced here so no command sees oversized input.
func Decode(kind string, payload json.RawMessage) (Command, error) {
	if len(payload) > MaxPayloadBytes {
		return nil, apperr.Validation("payload for %s exceeds %d bytes", kind, MaxPayloadBytes)
	}

	registryMu.RLock()
	d, ok := registry[kind]
	registryMu.RUnlock()
	if !ok {
		return nil, apperr.Validation("unknown command kind: %s", kind)
	}
	return d(payload)
}

// Kinds returns every registered command kind, sorted. The IPC surface
// uses this to advertise the command catalogue.
func Kinds() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	kinds := make([]string, 0, len(registry))
	for k := range registry {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// gte/lte catch NaN (every comparison with NaN is false) but not
	// +Inf, so finiteness gets its own tag.
	_ = v.RegisterValidation("finite", func(fl validator.FieldLevel) bool {
		f := fl.Field().Float()
		return !math.IsNaN(f) && !math.IsInf(f, 0)
	})
	return v
}

// strictUnmarshal decodes payload into dst, rejecting unknown fields, then
// runs struct-tag validation.
func strictUnmarshal(payload json.RawMessage, dst any) error {
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return apperr.Validation("malformed payload: %v", err)
	}
	if dec.More() {
		return apperr.Validation("trailing data after payload")
	}
	if err := validate.Struct(dst); err != nil {
		return apperr.Validation("invalid payload: %v", err)
	}
	return nil
}

// checkID validates an identifier against the allow-list. optional ids may
// be empty (they are generated during Execute).
func checkID(name, id string, optional bool) error {
	if id == "" {
		if optional {
			return nil
		}
		return apperr.Validation("%s is required", name)
	}
	if !idPattern.MatchString(id) {
		return apperr.Validation("%s contains invalid characters", name)
	}
	return nil
}

// checkTime validates a user-supplied time in seconds: finite and
// non-negative.
func checkTime(name string, v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return apperr.Validation("%s must be finite", name)
	}
	if v < 0 {
		return apperr.Validation("%s must be non-negative", name)
	}
	return nil
}

// marshalSelf is the common MarshalPayload implementation: commands are
// their own payload schema.
func marshalSelf(cmd any) (json.RawMessage, error) {
	data, err := json.Marshal(cmd)
	if err != nil {
		return nil, apperr.IO("encode payload", err)
	}
	if len(data) > MaxPayloadBytes {
		return nil, apperr.Validation("payload exceeds %d bytes", MaxPayloadBytes)
	}
	return data, nil
}

// speedRatio returns sourceSeconds-per-timelineSecond for a clip. 1.0 for
// clips without a speed effect.
func speedRatio(c *project.Clip) float64 {
	if c.DurationSec <= 0 {
		return 1.0
	}
	src := c.SourceOutSec - c.SourceInSec
	if src <= 0 {
		return 1.0
	}
	return src / c.DurationSec
}
