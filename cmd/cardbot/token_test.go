package main

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/keepmind9/cardbot/internal/dingtalk"
	"github.com/keepmind9/cardbot/internal/token"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrintToken(t *testing.T) {
	now := time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)
	cred := &token.Credential{Token: "abcdefghijklmnopqrstuvwxyz", ExpiresAt: now.Add(2 * time.Hour)}

	t.Run("masked text", func(t *testing.T) {
		var buf bytes.Buffer
		printToken(&buf, cred, now, false, false)

		assert.Equal(t, "Access token: abcd***wxyz\n"+
			"Expires at:   2026-01-02T12:00:00Z (in 2h0m0s)\n", buf.String())
	})

	t.Run("raw token", func(t *testing.T) {
		var buf bytes.Buffer
		printToken(&buf, cred, now, true, false)
		assert.Contains(t, buf.String(), "abcdefghijklmnopqrstuvwxyz")
	})

	t.Run("json", func(t *testing.T) {
		var buf bytes.Buffer
		printToken(&buf, cred, now, false, true)

		var out TokenOutput
		require.NoError(t, json.Unmarshal(buf.Bytes(), &out))
		assert.Equal(t, "abcd***wxyz", out.Token)
		assert.True(t, cred.ExpiresAt.Equal(out.ExpiresAt))
		assert.Equal(t, 7200.0, out.RemainingSeconds)
	})
}

func TestRequestBody(t *testing.T) {
	body, err := requestBody("")
	assert.NoError(t, err)
	assert.Nil(t, body)

	body, err = requestBody(`{"robotCode":"ding123"}`)
	assert.NoError(t, err)
	assert.Equal(t, `{"robotCode":"ding123"}`, string(body))

	_, err = requestBody(`{robotCode}`)
	assert.Error(t, err)
}

func TestPrintAPIResponse(t *testing.T) {
	t.Run("json is indented", func(t *testing.T) {
		var buf bytes.Buffer
		printAPIResponse(&buf, &dingtalk.APIResponse{StatusCode: 200, Body: []byte(`{"nick":"Alice"}`)})
		assert.Equal(t, "{\n  \"nick\": \"Alice\"\n}\n", buf.String())
	})

	t.Run("non json is printed as is", func(t *testing.T) {
		var buf bytes.Buffer
		printAPIResponse(&buf, &dingtalk.APIResponse{StatusCode: 502, Body: []byte("bad gateway")})
		assert.Equal(t, "bad gateway\n", buf.String())
	})
}
