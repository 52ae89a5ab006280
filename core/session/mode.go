package session

import (
	"fmt"
	"strings"
)

// FlushMode controls when attribute mutations reach the store.
type FlushMode uint8

const (
	// FlushOnSave writes only when Repository.Save is called, typically once per request.
	FlushOnSave FlushMode = iota
	// FlushImmediate writes on every mutation of the session.
	FlushImmediate
)

func (m FlushMode) String() string {
	switch m {
	case FlushOnSave:
		return "on_save"
	case FlushImmediate:
		return "immediate"
	default:
		return fmt.Sprintf("flush_mode(%d)", m)
	}
}

// UnmarshalText parses "on_save" or "immediate" (case-insensitive).
func (m *FlushMode) UnmarshalText(text []byte) error {
	switch strings.ToLower(strings.TrimSpace(string(text))) {
	case "", "on_save":
		*m = FlushOnSave
	case "immediate":
		*m = FlushImmediate
	default:
		return fmt.Errorf("unknown flush mode %q", text)
	}
	return nil
}

// SaveMode controls which attributes are considered dirty and written on save.
type SaveMode uint8

const (
	// SaveOnSetAttribute writes only attributes that were explicitly set or removed.
	SaveOnSetAttribute SaveMode = iota
	// SaveAlways rewrites every attribute loaded with the session on its next save.
	SaveAlways
	// SaveOnGetAttribute also marks attributes dirty when they are read.
	// Use it when attribute values are mutable structures changed in place.
	SaveOnGetAttribute
)

func (m SaveMode) String() string {
	switch m {
	case SaveOnSetAttribute:
		return "on_set_attribute"
	case SaveAlways:
		return "always"
	case SaveOnGetAttribute:
		return "on_get_attribute"
	default:
		return fmt.Sprintf("save_mode(%d)", m)
	}
}

// UnmarshalText parses "on_set_attribute", "always" or "on_get_attribute" (case-insensitive).
func (m *SaveMode) UnmarshalText(text []byte) error {
	switch strings.ToLower(strings.TrimSpace(string(text))) {
	case "", "on_set_attribute":
		*m = SaveOnSetAttribute
	case "always":
		*m = SaveAlways
	case "on_get_attribute":
		*m = SaveOnGetAttribute
	default:
		return fmt.Errorf("unknown save mode %q", text)
	}
	return nil
}
