package api

import (
	"errors"
	"log/slog"
	"testing"
	"time"
)

func TestLoadServerConfig_Defaults(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	config := LoadServerConfig()

	if config.Port != defaultPort {
		t.Errorf("Port = %d, want %d", config.Port, defaultPort)
	}

	if config.Host != defaultHost {
		t.Errorf("Host = %q, want %q", config.Host, defaultHost)
	}

	if config.LogLevel != defaultLogLevel {
		t.Errorf("LogLevel = %v, want %v", config.LogLevel, defaultLogLevel)
	}

	if config.MaxRequestSize != defaultMaxRequestSize {
		t.Errorf("MaxRequestSize = %d, want %d", config.MaxRequestSize, defaultMaxRequestSize)
	}

	if err := config.Validate(); err != nil {
		t.Errorf("Validate() unexpected error: %v", err)
	}
}

func TestLoadServerConfig_FromEnvironment(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	t.Setenv("EVENTSINK_SERVER_PORT", "9090")
	t.Setenv("EVENTSINK_SERVER_HOST", "127.0.0.1")
	t.Setenv("EVENTSINK_SERVER_READ_TIMEOUT", "10s")
	t.Setenv("EVENTSINK_SERVER_WRITE_TIMEOUT", "15s")
	t.Setenv("EVENTSINK_SERVER_TIMEOUT", "5s")
	t.Setenv("EVENTSINK_LOG_LEVEL", "debug")
	t.Setenv("EVENTSINK_MAX_REQUEST_SIZE", "2048")
	t.Setenv("EVENTSINK_CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example")

	config := LoadServerConfig()

	if config.Port != 9090 {
		t.Errorf("Port = %d, want 9090", config.Port)
	}

	if config.Host != "127.0.0.1" {
		t.Errorf("Host = %q, want %q", config.Host, "127.0.0.1")
	}

	if config.ReadTimeout != 10*time.Second {
		t.Errorf("ReadTimeout = %v, want 10s", config.ReadTimeout)
	}

	if config.WriteTimeout != 15*time.Second {
		t.Errorf("WriteTimeout = %v, want 15s", config.WriteTimeout)
	}

	if config.ShutdownTimeout != 5*time.Second {
		t.Errorf("ShutdownTimeout = %v, want 5s", config.ShutdownTimeout)
	}

	if config.LogLevel != slog.LevelDebug {
		t.Errorf("LogLevel = %v, want %v", config.LogLevel, slog.LevelDebug)
	}

	if config.MaxRequestSize != 2048 {
		t.Errorf("MaxRequestSize = %d, want 2048", config.MaxRequestSize)
	}

	wantOrigins := []string{"https://a.example", "https://b.example"}
	if len(config.CORSAllowedOrigins) != len(wantOrigins) {
		t.Fatalf("CORSAllowedOrigins = %v, want %v", config.CORSAllowedOrigins, wantOrigins)
	}

	for i, origin := range wantOrigins {
		if config.CORSAllowedOrigins[i] != origin {
			t.Errorf("CORSAllowedOrigins[%d] = %q, want %q", i, config.CORSAllowedOrigins[i], origin)
		}
	}

	if config.Address() != "127.0.0.1:9090" {
		t.Errorf("Address() = %q, want %q", config.Address(), "127.0.0.1:9090")
	}
}

func TestServerConfigValidate(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	valid := func() *ServerConfig {
		return &ServerConfig{
			Port:            defaultPort,
			Host:            defaultHost,
			ReadTimeout:     defaultTimeout,
			WriteTimeout:    defaultTimeout,
			ShutdownTimeout: defaultTimeout,
			MaxRequestSize:  defaultMaxRequestSize,
		}
	}

	tests := []struct {
		name      string
		mutate    func(*ServerConfig)
		expectErr error
	}{
		{
			name:      "valid config passes",
			mutate:    func(*ServerConfig) {},
			expectErr: nil,
		},
		{
			name:      "zero port fails",
			mutate:    func(c *ServerConfig) { c.Port = 0 },
			expectErr: ErrInvalidPort,
		},
		{
			name:      "port above range fails",
			mutate:    func(c *ServerConfig) { c.Port = maxPort + 1 },
			expectErr: ErrInvalidPort,
		},
		{
			name:      "empty host fails",
			mutate:    func(c *ServerConfig) { c.Host = "" },
			expectErr: ErrEmptyHost,
		},
		{
			name:      "non-positive read timeout fails",
			mutate:    func(c *ServerConfig) { c.ReadTimeout = 0 },
			expectErr: ErrInvalidReadTimeout,
		},
		{
			name:      "non-positive write timeout fails",
			mutate:    func(c *ServerConfig) { c.WriteTimeout = -time.Second },
			expectErr: ErrInvalidWriteTimeout,
		},
		{
			name:      "non-positive shutdown timeout fails",
			mutate:    func(c *ServerConfig) { c.ShutdownTimeout = 0 },
			expectErr: ErrInvalidShutdownTimeout,
		},
		{
			name:      "non-positive max request size fails",
			mutate:    func(c *ServerConfig) { c.MaxRequestSize = 0 },
			expectErr: ErrInvalidMaxRequestSize,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := valid()
			tt.mutate(config)

			err := config.Validate()

			if tt.expectErr == nil {
				if err != nil {
					t.Errorf("Validate() unexpected error: %v", err)
				}

				return
			}

			if !errors.Is(err, tt.expectErr) {
				t.Errorf("Validate() error = %v, want %v", err, tt.expectErr)
			}
		})
	}
}
