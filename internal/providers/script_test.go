package providers

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/Ashfaaq98/osint-console/internal/osint"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeScript drops a shell body under the mapped python file name; the
// provider runs it through sh via the interpreter option.
func writeScript(t *testing.T, dir, name, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o755))
}

func newTestScript(t *testing.T, dir string, kv ...string) Provider {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("script executor tests need a POSIX shell")
	}
	args := append([]string{"scripts_dir", dir, "interpreter", "sh"}, kv...)
	p, err := NewScript(config("script", args...), testLogger())
	require.NoError(t, err)
	return p
}

func TestScriptSuccessAndEnvironment(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "ip_analysis.py", `#!/bin/sh
[ "$2" = "--format=json" ] || exit 3
printf '{"ip":"%s","key":"%s","threat_score":{"score":10,"level":"low"}}' "$1" "$ABUSEIPDB_API_KEY"
`)
	p := newTestScript(t, dir, "abuseipdb_api_key", "s3cret")

	res := p.Analyze(context.Background(), osint.TargetIP, "10.0.0.1")
	require.Equal(t, osint.ResultSuccess, res.Status, res.Error)
	assert.Equal(t, "10.0.0.1", res.Data["ip"])
	assert.Equal(t, "s3cret", res.Data["key"])
	assert.Contains(t, res.Data, "execution_time")
}

func TestScriptFailures(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "domain_analysis.py", "echo 'lookup exploded' >&2\nexit 2\n")
	writeScript(t, dir, "url_analysis.py", "echo 'plain text'\n")
	writeScript(t, dir, "email_analysis.py", "echo '[1,2,3]'\n")
	p := newTestScript(t, dir)

	tests := []struct {
		name  string
		typ   osint.TargetType
		value string
		want  string
	}{
		{"non-zero exit", osint.TargetDomain, "example.com", "return code 2: lookup exploded"},
		{"non-json output", osint.TargetURL, "http://x", "invalid output"},
		{"json but not an object", osint.TargetEmail, "a@b.c", "invalid output"},
		{"missing script", osint.TargetHash, "abc", "analysis script not found: hash_analysis.py"},
		{"unmapped type", osint.TargetAlias, "jdoe", "no analysis script"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			res := p.Analyze(context.Background(), tc.typ, tc.value)
			assert.Equal(t, osint.ResultError, res.Status)
			assert.Contains(t, res.Error, tc.want)
			assert.Empty(t, res.Data)
		})
	}
}

func TestScriptTimeout(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "phone_analysis.py", "sleep 5\necho '{}'\n")
	p := newTestScript(t, dir, "timeout", "1")

	res := p.Analyze(context.Background(), osint.TargetPhone, "+15555550100")
	assert.Equal(t, osint.ResultError, res.Status)
	assert.Contains(t, res.Error, "timed out after 1 seconds")
}

func TestScriptHealthCheckListsMissing(t *testing.T) {
	dir := t.TempDir()
	for _, name := range scriptMapping {
		writeScript(t, dir, name, "echo '{}'\n")
	}
	p := newTestScript(t, dir)
	assert.NoError(t, TryHealthCheck(context.Background(), p))

	require.NoError(t, os.Remove(filepath.Join(dir, "hash_analysis.py")))
	err := TryHealthCheck(context.Background(), p)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "hash_analysis.py")
}

func TestScriptSupportsFixedMapping(t *testing.T) {
	p := newTestScript(t, t.TempDir())
	types := p.SupportedTypes()
	assert.True(t, types.Has(osint.TargetPhone))
	assert.False(t, types.Has(osint.TargetAlias))
}
