// ABOUTME: Tests for command-line parsing, token minting and logging setup
// ABOUTME: Exercises the commands without starting a server

package main

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/support-gateway/internal/auth"
	"github.com/2389/support-gateway/internal/config"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestGetConfigPath(t *testing.T) {
	t.Setenv("SUPPORT_GATEWAY_CONFIG", "/etc/support/gw.yaml")
	assert.Equal(t, "/etc/support/gw.yaml", getConfigPath())

	t.Setenv("SUPPORT_GATEWAY_CONFIG", "")
	t.Setenv("XDG_CONFIG_HOME", "/xdg")
	assert.Equal(t, filepath.Join("/xdg", "support-gateway", "config.yaml"), getConfigPath())
}

func TestGetDataPath(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", "/data")
	assert.Equal(t, filepath.Join("/data", "support-gateway"), getDataPath())
}

func TestParseTokenArgs(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		want    *tokenArgs
		wantErr string
	}{
		{
			name: "agent defaults",
			args: []string{"--org", "acme"},
			want: &tokenArgs{org: "acme", subject: "agent", name: "agent", role: auth.RoleAgent, ttl: 24 * time.Hour},
		},
		{
			name: "widget with equals syntax",
			args: []string{"--org=acme", "--role=widget", "--sub=s1", "--ttl=1h"},
			want: &tokenArgs{org: "acme", subject: "s1", name: "s1", role: auth.RoleWidget, ttl: time.Hour},
		},
		{
			name: "admin with name",
			args: []string{"--org", "acme", "--role", "admin", "--sub", "ada", "--name", "Ada L"},
			want: &tokenArgs{org: "acme", subject: "ada", name: "Ada L", role: auth.RoleAdmin, ttl: 24 * time.Hour},
		},
		{name: "missing org", args: []string{"--sub", "x"}, wantErr: "--org"},
		{name: "widget needs session", args: []string{"--org", "acme", "--role", "widget"}, wantErr: "--sub"},
		{name: "bad role", args: []string{"--org", "acme", "--role", "owner"}, wantErr: "--role"},
		{name: "bad ttl", args: []string{"--org", "acme", "--ttl", "soon"}, wantErr: "--ttl"},
		{name: "unknown flag", args: []string{"--org", "acme", "--verbose"}, wantErr: "unknown flag"},
		{name: "dangling flag", args: []string{"--org"}, wantErr: "requires a value"},
		{name: "positional", args: []string{"acme"}, wantErr: "unexpected argument"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseTokenArgs(tt.args)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMintToken(t *testing.T) {
	cfg := &config.Config{Auth: config.AuthConfig{JWTSecret: testSecret}}
	args := &tokenArgs{org: "acme", subject: "s1", name: "s1", role: auth.RoleWidget, ttl: time.Hour}

	var out bytes.Buffer
	require.NoError(t, mintToken(cfg, args, &out))

	verifier, err := auth.NewJWTVerifier([]byte(testSecret))
	require.NoError(t, err)
	claims, err := verifier.Verify(strings.TrimSpace(out.String()))
	require.NoError(t, err)
	assert.Equal(t, "acme", claims.OrgID)
	assert.Equal(t, "s1", claims.Subject)
	assert.Equal(t, auth.RoleWidget, claims.Role)
}

func TestCheckHealth(t *testing.T) {
	ready := true
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health/ready" {
			http.NotFound(w, r)
			return
		}
		if !ready {
			http.Error(w, "store unavailable", http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, "ready")
	}))
	defer srv.Close()

	var out bytes.Buffer
	require.NoError(t, checkHealth(context.Background(), srv.URL, &out))
	assert.Equal(t, "healthy\n", out.String())

	ready = false
	err := checkHealth(context.Background(), srv.URL, &out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}

func TestRunInit_WritesLoadableConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	dbPath := filepath.Join(dir, "data", "support.db")

	answers := strings.Join([]string{
		path,
		"127.0.0.1:9000",
		dbPath,
		"echo",
		"no",
		"debug",
		"json",
	}, "\n") + "\n"

	var out bytes.Buffer
	require.NoError(t, runInit(strings.NewReader(answers), &out))
	assert.Contains(t, out.String(), "Config written to "+path)

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9000", cfg.Server.HTTPAddr)
	assert.Equal(t, dbPath, cfg.Database.Path)
	assert.Equal(t, "echo", cfg.Assistant.Provider)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.GreaterOrEqual(t, len(cfg.Auth.JWTSecret), 32)
}

func TestSetupLogger(t *testing.T) {
	color.NoColor = true
	t.Cleanup(func() { color.NoColor = false })

	var buf bytes.Buffer
	logger := setupLogger(config.LoggingConfig{Level: "warn", Format: "text"}, &buf)
	logger.Info("hidden")
	logger.With("component", "dispatch").WithGroup("req").Warn("slow", "ms", 1200)

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "WRN slow")
	assert.Contains(t, out, "component=dispatch")
	assert.Contains(t, out, "req.ms=1200")

	buf.Reset()
	logger = setupLogger(config.LoggingConfig{Level: "debug", Format: "json"}, &buf)
	logger.Debug("hello", "org_id", "acme")
	assert.Contains(t, buf.String(), `"org_id":"acme"`)
}
