// Command login signs a user in to the patient portal from the terminal:
// phone entry, SMS code entry, then the role-based redirect.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"portal-auth/internal/apps/auth/session"
	otpmodels "portal-auth/internal/apps/otp/models"
	"portal-auth/internal/common/logger"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

type options struct {
	Server    string `mapstructure:"server"`
	StateFile string `mapstructure:"state-file"`
	RedisURL  string `mapstructure:"redis-url"`
	Provider  string `mapstructure:"provider"`
	PatientID string `mapstructure:"patient-id"`
	Dev       bool   `mapstructure:"dev"`
	Logout    bool   `mapstructure:"logout"`
	LogLevel  string `mapstructure:"log-level"`
}

func main() {
	opts, err := loadOptions(os.Args[1:])
	if errors.Is(err, pflag.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	log := logger.Init("development", opts.LogLevel, "console")
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	kv, closeKV, err := openKV(opts)
	if err != nil {
		log.Error("Failed to open state store", zap.Error(err))
		os.Exit(1)
	}
	defer closeKV()

	if err := run(ctx, opts, kv, os.Stdin, os.Stdout, log); err != nil {
		log.Error("Login failed", zap.Error(err))
		os.Exit(1)
	}
}

// loadOptions reads flags, then PORTAL_AUTH_* environment variables for anything not set on the command line
func loadOptions(args []string) (*options, error) {
	fs := pflag.NewFlagSet("login", pflag.ContinueOnError)
	fs.String("server", "http://localhost:8080", "portal-auth server base URL")
	fs.String("state-file", defaultStateFile(), "file holding the remembered phone and session")
	fs.String("redis-url", "", "keep client state in Redis instead of the state file")
	fs.String("provider", string(otpmodels.ProviderTwilio), "SMS provider: twilio or vonage")
	fs.String("patient-id", "", "patient whose report to open after login")
	fs.Bool("dev", false, "developer mode: skip captcha and code verification (devmode builds only)")
	fs.Bool("logout", false, "clear the stored session and exit")
	fs.String("log-level", "error", "log level")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetEnvPrefix("PORTAL_AUTH")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(fs); err != nil {
		return nil, fmt.Errorf("failed to bind flags: %w", err)
	}

	var opts options
	if err := v.Unmarshal(&opts); err != nil {
		return nil, fmt.Errorf("failed to read options: %w", err)
	}

	opts.Provider = strings.ToLower(strings.TrimSpace(opts.Provider))
	switch otpmodels.ProviderName(opts.Provider) {
	case otpmodels.ProviderTwilio, otpmodels.ProviderVonage:
	default:
		return nil, fmt.Errorf("unsupported provider %q", opts.Provider)
	}
	if opts.Server == "" {
		return nil, errors.New("--server must be set")
	}
	return &opts, nil
}

func defaultStateFile() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "portal-auth", "state.json")
}

func openKV(opts *options) (session.KV, func(), error) {
	if opts.RedisURL == "" {
		kv, err := session.NewFileKV(opts.StateFile)
		return kv, func() {}, err
	}

	ropts, err := redis.ParseURL(opts.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := redis.NewClient(ropts)
	return session.NewRedisKV(client, ""), func() { _ = client.Close() }, nil
}
