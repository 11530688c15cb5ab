package redact

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRedactReplacesKnownSecrets(t *testing.T) {
	f := NewFilter(map[string]string{
		"DISCORD_TOKEN": "super-secret-token",
		"S3_SECRET_KEY": "s3/secret key",
	})

	out := f.Redact("request failed with token super-secret-token against s3/secret key")
	require.Contains(t, out, "[REDACTED:DISCORD_TOKEN]")
	require.Contains(t, out, "[REDACTED:S3_SECRET_KEY]")
	require.NotContains(t, out, "super-secret-token")
}

func TestRedactPassthroughWithNoSecrets(t *testing.T) {
	f := NewFilter(map[string]string{"EMPTY": ""})
	require.Equal(t, "nothing to redact here", f.Redact("nothing to redact here"))
}

func TestRedactURLEncodedVariant(t *testing.T) {
	f := NewFilter(map[string]string{"S3_SECRET_KEY": "s3/secret key"})
	out := f.Redact("signed with s3%2Fsecret+key in the query string")
	require.Contains(t, out, "[REDACTED:S3_SECRET_KEY:urlencoded]")
}
