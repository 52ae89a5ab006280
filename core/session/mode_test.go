package session_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/sessionkit/core/session"
)

func TestFlushMode_UnmarshalText(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want session.FlushMode
	}{
		{"on_save", session.FlushOnSave},
		{"IMMEDIATE", session.FlushImmediate},
		{"", session.FlushOnSave},
	}
	for _, tt := range tests {
		var m session.FlushMode
		require.NoError(t, m.UnmarshalText([]byte(tt.in)))
		assert.Equal(t, tt.want, m)
	}

	var m session.FlushMode
	assert.Error(t, m.UnmarshalText([]byte("sometimes")))
	assert.Equal(t, "immediate", session.FlushImmediate.String())
}

func TestSaveMode_UnmarshalText(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want session.SaveMode
	}{
		{"on_set_attribute", session.SaveOnSetAttribute},
		{"always", session.SaveAlways},
		{" On_Get_Attribute ", session.SaveOnGetAttribute},
	}
	for _, tt := range tests {
		var m session.SaveMode
		require.NoError(t, m.UnmarshalText([]byte(tt.in)))
		assert.Equal(t, tt.want, m)
		assert.Equal(t, tt.want.String(), m.String())
	}

	var m session.SaveMode
	assert.Error(t, m.UnmarshalText([]byte("never")))
}
