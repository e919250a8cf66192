package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/nerrad567/hasslink/internal/infrastructure/config"
	"github.com/nerrad567/hasslink/internal/infrastructure/logging"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

// TestRun_InvalidConfig verifies run fails with an invalid config path.
func TestRun_InvalidConfig(t *testing.T) {
	t.Setenv("HASSLINK_CONFIG", "/nonexistent/path/config.yaml")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := run(ctx)
	if err == nil || !strings.Contains(err.Error(), "loading config") {
		t.Fatalf("run() error = %v, want loading config error", err)
	}
}

// TestRun_MissingToken verifies validation rejects a config without a token.
func TestRun_MissingToken(t *testing.T) {
	t.Setenv("HASSLINK_TOKEN", "")
	t.Setenv("HASSLINK_CONFIG", writeConfig(t, `
gateway:
  url: "ws://127.0.0.1:1/api/websocket"
`))

	err := run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "gateway.token is required") {
		t.Fatalf("run() error = %v, want missing token error", err)
	}
}

// TestRun_GatewayUnreachable verifies run fails when the gateway cannot be
// dialled, after opening and migrating the journal database.
func TestRun_GatewayUnreachable(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "journal.db")
	t.Setenv("HASSLINK_TOKEN", "opaque-token-for-tests")
	t.Setenv("HASSLINK_CONFIG", writeConfig(t, `
gateway:
  url: "ws://127.0.0.1:1/api/websocket"
  connect_timeout: 2
journal:
  enabled: true
database:
  path: "`+dbPath+`"
mqtt:
  enabled: false
status:
  enabled: false
logging:
  level: error
  format: text
`))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := run(ctx)
	if err == nil || !strings.Contains(err.Error(), "connecting to gateway") {
		t.Fatalf("run() error = %v, want gateway connection error", err)
	}
	if errors.Is(err, ErrGatewayLost) {
		t.Error("startup failure reported as a lost connection")
	}
	if _, statErr := os.Stat(dbPath); statErr != nil {
		t.Errorf("journal database not created: %v", statErr)
	}
}

func signedToken(t *testing.T, expiresAt time.Time) string {
	t.Helper()
	claims := jwt.RegisteredClaims{
		Issuer:    "0123456789abcdef",
		IssuedAt:  jwt.NewNumericDate(expiresAt.Add(-365 * 24 * time.Hour)),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("signing token: %v", err)
	}
	return token
}

// TestCheckToken verifies token diagnostics and that the raw token never
// reaches the log.
func TestCheckToken(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name    string
		token   string
		level   string
		wantMsg string
	}{
		{
			name:    "expired",
			token:   signedToken(t, now.Add(-time.Hour)),
			level:   "info",
			wantMsg: "access token has expired",
		},
		{
			name:    "expires soon",
			token:   signedToken(t, now.Add(48*time.Hour)),
			level:   "info",
			wantMsg: "access token expires soon",
		},
		{
			name:    "long lived",
			token:   signedToken(t, now.Add(5*365*24*time.Hour)),
			level:   "debug",
			wantMsg: "access token accepted",
		},
		{
			name:    "opaque",
			token:   "opaque-token-for-tests",
			level:   "debug",
			wantMsg: "access token is opaque",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			log := logging.NewWithWriter(config.LoggingConfig{Level: tt.level, Format: "text"}, "test", &buf)

			checkToken(log, tt.token)

			out := buf.String()
			if !strings.Contains(out, tt.wantMsg) {
				t.Errorf("log = %q, want message %q", out, tt.wantMsg)
			}
			if strings.Contains(out, tt.token) {
				t.Errorf("log contains the raw token: %q", out)
			}
		})
	}
}
