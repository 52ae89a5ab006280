package session_test

import (
	"encoding/gob"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/sessionkit/core/session"
)

type cart struct {
	Items []string `json:"items"`
	Total int      `json:"total"`
}

type unregistered struct{ X int }

func TestJSONSerializer(t *testing.T) {
	t.Parallel()

	s := session.NewJSONSerializer()
	s.Register("cart", cart{})

	values := []any{
		"text",
		true,
		42,
		int64(7),
		3.5,
		time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC),
		[]string{"a", "b"},
		map[string]string{"k": "v"},
		cart{Items: []string{"book"}, Total: 12},
	}
	for _, v := range values {
		data, err := s.Marshal(v)
		require.NoError(t, err)
		got, err := s.Unmarshal(data)
		require.NoError(t, err)
		assert.Equal(t, v, got)
	}
}

func TestJSONSerializer_AllowList(t *testing.T) {
	t.Parallel()

	s := session.NewJSONSerializer()

	_, err := s.Marshal(unregistered{X: 1})
	assert.ErrorIs(t, err, session.ErrSerialization)
	assert.ErrorIs(t, err, session.ErrTypeNotAllowed)

	_, err = s.Unmarshal([]byte(`{"t":"evil.Type","v":{}}`))
	assert.ErrorIs(t, err, session.ErrTypeNotAllowed)

	_, err = s.Unmarshal([]byte(`not json`))
	assert.ErrorIs(t, err, session.ErrSerialization)
}

func TestGobSerializer(t *testing.T) {
	t.Parallel()

	gob.Register(cart{})
	s := session.GobSerializer{}

	data, err := s.Marshal(cart{Items: []string{"pen"}, Total: 2})
	require.NoError(t, err)
	got, err := s.Unmarshal(data)
	require.NoError(t, err)
	assert.Equal(t, cart{Items: []string{"pen"}, Total: 2}, got)

	_, err = s.Marshal(unregistered{X: 1})
	assert.ErrorIs(t, err, session.ErrSerialization)

	_, err = s.Unmarshal([]byte{0x01, 0x02})
	assert.ErrorIs(t, err, session.ErrSerialization)
}

func TestEncodeAttributes(t *testing.T) {
	t.Parallel()

	s := session.NewJSONSerializer()
	out, err := session.EncodeAttributes(s, map[string]any{"a": "b"})
	require.NoError(t, err)
	assert.Contains(t, out, "a")

	_, err = session.EncodeAttributes(s, map[string]any{"bad": unregistered{}})
	assert.ErrorIs(t, err, session.ErrTypeNotAllowed)
}
