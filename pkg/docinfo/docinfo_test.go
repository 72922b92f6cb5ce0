package docinfo

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decode(t *testing.T, s string) any {
	t.Helper()
	var v any
	require.NoError(t, json.Unmarshal([]byte(s), &v))
	return v
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantOK  bool
		wantID  string
		wantTok string
	}{
		{
			name:    "identifier and token",
			input:   `{"identifier":"abc","token":"xyz"}`,
			wantOK:  true,
			wantID:  "abc",
			wantTok: "xyz",
		},
		{
			name:    "legacy keys",
			input:   `{"documentId":"doc-1","jwt":"t-1","serverUrl":"https://instant.example.com/"}`,
			wantOK:  true,
			wantID:  "doc-1",
			wantTok: "t-1",
		},
		{
			name:    "current key wins over alias",
			input:   `{"identifier":"new","documentId":"old","token":"t"}`,
			wantOK:  true,
			wantID:  "new",
			wantTok: "t",
		},
		{
			name:    "unknown keys are ignored",
			input:   `{"identifier":"abc","token":"xyz","extra":{"a":1}}`,
			wantOK:  true,
			wantID:  "abc",
			wantTok: "xyz",
		},
		{name: "missing token", input: `{"identifier":"abc"}`},
		{name: "empty identifier", input: `{"identifier":"","token":"xyz"}`},
		{name: "numeric identifier", input: `{"identifier":42,"token":"xyz"}`},
		{name: "invalid server url", input: `{"identifier":"abc","token":"xyz","serverUrl":"not a url"}`},
		{name: "array", input: `[{"identifier":"abc","token":"xyz"}]`},
		{name: "string", input: `"abc"`},
		{name: "null", input: `null`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info, ok := New(decode(t, tt.input))
			assert.Equal(t, tt.wantOK, ok)
			if !tt.wantOK {
				assert.Nil(t, info)
				return
			}
			require.NotNil(t, info)
			assert.Equal(t, tt.wantID, info.Identifier)
			assert.Equal(t, tt.wantTok, info.Token)
		})
	}
}

func TestNewNonJSONValues(t *testing.T) {
	_, ok := New(nil)
	assert.False(t, ok)
	_, ok = New(map[string]string{"identifier": "abc", "token": "xyz"})
	assert.False(t, ok)
}

func TestTokenClaims(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"exp":   exp.Unix(),
		"layer": "reviewer",
	}).SignedString([]byte("test-secret"))
	require.NoError(t, err)

	info, ok := New(map[string]any{"identifier": "abc", "token": signed})
	require.True(t, ok)

	got, ok := info.ExpiresAt()
	require.True(t, ok)
	assert.True(t, exp.Equal(got))

	layer, ok := info.Layer()
	require.True(t, ok)
	assert.Equal(t, "reviewer", layer)

	t.Run("opaque token", func(t *testing.T) {
		info, ok := New(map[string]any{"identifier": "abc", "token": "xyz"})
		require.True(t, ok)
		_, ok = info.ExpiresAt()
		assert.False(t, ok)
		_, ok = info.Layer()
		assert.False(t, ok)
	})
}
