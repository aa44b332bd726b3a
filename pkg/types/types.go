// Package types defines the shared types used across all Voxact packages.
//
// These types form the lingua franca between the recognition providers, the
// element resolver, the actuator and the session orchestrator. They are
// intentionally minimal: each package defines its own domain types, but
// cross-cutting data structures live here to avoid circular imports.
package types

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// IntentKind names an action the actuator knows how to perform. The set is
// closed; recognizers must only produce the kinds listed in [Vocabulary].
type IntentKind string

const (
	IntentClick        IntentKind = "click"
	IntentClickInRow   IntentKind = "click_in_row"
	IntentFill         IntentKind = "fill"
	IntentType         IntentKind = "type"
	IntentCheck        IntentKind = "check"
	IntentUncheck      IntentKind = "uncheck"
	IntentCheckAll     IntentKind = "check_all"
	IntentUncheckAll   IntentKind = "uncheck_all"
	IntentSelect       IntentKind = "select"
	IntentOpenDropdown IntentKind = "open_dropdown"
	IntentScroll       IntentKind = "scroll"
	IntentScrollTo     IntentKind = "scroll_to"
	IntentZoom         IntentKind = "zoom"
	IntentGoBack       IntentKind = "go_back"
	IntentUndo         IntentKind = "undo"
	IntentUndoTarget   IntentKind = "undo_target"
)

// Vocabulary describes every supported intent kind. Recognizers include it in
// their prompt so the model only emits actions the actuator can execute.
var Vocabulary = []IntentSpec{
	{IntentClick, "Click or press a button, link or other element.", []Role{RoleTarget}},
	{IntentClickInRow, "Click an element inside the table row whose column contextKey has value contextValue.", []Role{RoleTarget, RoleContextKey, RoleContextValue}},
	{IntentFill, "Replace the value of a text field with value.", []Role{RoleTarget, RoleValue}},
	{IntentType, "Type value into a text field.", []Role{RoleTarget, RoleValue}},
	{IntentCheck, "Tick a checkbox.", []Role{RoleTarget}},
	{IntentUncheck, "Untick a checkbox.", []Role{RoleTarget}},
	{IntentCheckAll, "Tick every checkbox in targetGroup.", []Role{RoleTargetGroup}},
	{IntentUncheckAll, "Untick every checkbox in targetGroup.", []Role{RoleTargetGroup}},
	{IntentSelect, "Choose the option target in a dropdown or radio group (optionally named by group).", []Role{RoleTarget, RoleGroup}},
	{IntentOpenDropdown, "Open the dropdown target.", []Role{RoleTarget}},
	{IntentScroll, "Scroll the page; direction is up, down, left, right, top or bottom.", []Role{RoleDirection}},
	{IntentScrollTo, "Go to or scroll to the element target.", []Role{RoleTarget}},
	{IntentZoom, "Zoom the page; direction is in or out.", []Role{RoleDirection}},
	{IntentGoBack, "Navigate back in the browser history.", nil},
	{IntentUndo, "Undo the last change.", nil},
	{IntentUndoTarget, "Undo the last change made to target.", []Role{RoleTarget}},
}

// IntentSpec documents one intent kind for recognizer prompts.
type IntentSpec struct {
	Kind        IntentKind
	Description string
	Roles       []Role
}

// Known reports whether k is part of the fixed vocabulary.
func (k IntentKind) Known() bool {
	for _, s := range Vocabulary {
		if s.Kind == k {
			return true
		}
	}
	return false
}

// Role is the name of an entity slot.
type Role string

const (
	RoleTarget       Role = "target"
	RoleGroup        Role = "group"
	RoleTargetGroup  Role = "targetGroup"
	RoleValue        Role = "value"
	RoleDirection    Role = "direction"
	RoleContextKey   Role = "contextKey"
	RoleContextValue Role = "contextValue"
)

// Intent is a structured interpretation of one spoken command fragment.
// Intents are produced by a recognizer and consumed exactly once by the
// actuator; they must not be mutated after creation.
type Intent struct {
	Kind       IntentKind
	Confidence float64
	Entities   Entities
}

// Entities maps entity roles to their values.
type Entities map[Role]EntityValue

// Get returns the value for role and whether it is present.
func (e Entities) Get(role Role) (EntityValue, bool) {
	v, ok := e[role]
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

// Has reports whether a non-empty value is present for role.
func (e Entities) Has(role Role) bool {
	v, ok := e.Get(role)
	if !ok {
		return false
	}
	for _, r := range v.Renderings() {
		if strings.TrimSpace(r) != "" {
			return true
		}
	}
	return false
}

// Text returns the primary rendering of the value for role, or "" when absent.
func (e Entities) Text(role Role) string {
	v, ok := e.Get(role)
	if !ok {
		return ""
	}
	return v.String()
}

// EntityValue is a sum type with exactly two variants: [Raw] and
// [VoiceEntity]. Consumers branch with a type switch.
type EntityValue interface {
	// Renderings returns every non-empty textual rendering of the value, in
	// preference order.
	Renderings() []string

	// String returns the primary rendering.
	String() string

	isEntityValue()
}

// Raw is an entity value carried as a single plain string.
type Raw string

func (r Raw) Renderings() []string {
	if r == "" {
		return nil
	}
	return []string{string(r)}
}

func (r Raw) String() string { return string(r) }
func (Raw) isEntityValue()   {}

// VoiceEntity carries a UI-facing phrase rendered both in normalised English
// and in the user's spoken language, so labels in either language can match.
type VoiceEntity struct {
	English      string `json:"english"`
	UserLanguage string `json:"user_language"`
}

func (v VoiceEntity) Renderings() []string {
	out := make([]string, 0, 2)
	if v.English != "" {
		out = append(out, v.English)
	}
	if v.UserLanguage != "" && !strings.EqualFold(v.UserLanguage, v.English) {
		out = append(out, v.UserLanguage)
	}
	return out
}

func (v VoiceEntity) String() string {
	if v.English != "" {
		return v.English
	}
	return v.UserLanguage
}

func (VoiceEntity) isEntityValue() {}

var (
	_ EntityValue = Raw("")
	_ EntityValue = VoiceEntity{}
)

// ErrInvalidEntity is returned when an entity value is neither a string nor a
// voice entity object.
var ErrInvalidEntity = errors.New("types: entity value must be a string or {english, user_language} object")

// DecodeEntityValue decodes a JSON entity value into one of the two variants.
func DecodeEntityValue(data []byte) (EntityValue, error) {
	data = []byte(strings.TrimSpace(string(data)))
	if len(data) == 0 || string(data) == "null" {
		return nil, nil
	}
	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return nil, fmt.Errorf("types: decode raw entity: %w", err)
		}
		return Raw(s), nil
	case '{':
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(data, &fields); err != nil {
			return nil, fmt.Errorf("types: decode voice entity: %w", err)
		}
		for k := range fields {
			if k != "english" && k != "user_language" {
				return nil, fmt.Errorf("%w: unexpected key %q", ErrInvalidEntity, k)
			}
		}
		var v VoiceEntity
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, fmt.Errorf("types: decode voice entity: %w", err)
		}
		if v.English == "" && v.UserLanguage == "" {
			return nil, fmt.Errorf("%w: both renderings empty", ErrInvalidEntity)
		}
		return v, nil
	default:
		return nil, ErrInvalidEntity
	}
}

// UnmarshalJSON decodes an entity map whose values may be strings or voice
// entity objects. Null values are dropped.
func (e *Entities) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("types: decode entities: %w", err)
	}
	out := make(Entities, len(raw))
	for k, v := range raw {
		ev, err := DecodeEntityValue(v)
		if err != nil {
			return fmt.Errorf("types: entity %q: %w", k, err)
		}
		if ev != nil {
			out[Role(k)] = ev
		}
	}
	*e = out
	return nil
}

// MarshalJSON encodes raw values as strings and voice entities as objects.
func (e Entities) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(e))
	for k, v := range e {
		switch val := v.(type) {
		case Raw:
			out[string(k)] = string(val)
		case VoiceEntity:
			out[string(k)] = val
		}
	}
	return json.Marshal(out)
}
