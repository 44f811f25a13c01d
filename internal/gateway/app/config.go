package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aussiebroadwan/oidcgate/pkg/configx"
	"github.com/spf13/viper"
)

// Config is the fully resolved gateway configuration. Builders receive
// slices of it as immutable structs; nothing reads configuration after
// startup.
type Config struct {
	// Provider
	ProviderEndpoint string // OIDC issuer / discovery base URL
	Issuer           string // expected iss claim value
	LogoutEndpoint   string // redirect target on expired session
	Introspect       bool   // check live revocation on every valid request

	// Client
	ClientID     string
	ClientSecret string
	UsePKCE      bool
	RedirectPath string
	Scopes       []string

	// Verification policy
	PrivateKeyBase64 string
	RequireSignature bool
	RequireExpiry    bool

	// Storage
	StorageAdaptor string // session, redis or sqlite
	RedisAddr      string
	SQLiteFile     string

	// Application surface
	AppURL             string
	LogoutPathFragment string
	SessionCookieName  string
	SessionTTL         time.Duration

	// TLS towards the provider
	VerifyHost bool
	VerifyPeer bool

	// Ambient
	Env                 string
	LogLevel            string
	LogFormat           string
	Port                int
	ShutdownGracePeriod time.Duration
}

// LoadConfig reads oidcgate.yaml (working directory or /etc/oidcgate)
// with OIDCGATE_* environment overrides, and resolves it into a typed
// Config. Missing required keys and type mismatches fail here, at
// startup, not on the first request.
func LoadConfig() (Config, error) {
	v := viper.New()
	v.SetConfigName("oidcgate")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/oidcgate")

	v.SetEnvPrefix("OIDCGATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		// No file is fine; env and defaults carry the day.
	}

	return resolve(configx.New(v))
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("provider.introspect", false)
	v.SetDefault("provider.logout_endpoint", "/")

	v.SetDefault("client.use_pkce", false)
	v.SetDefault("client.redirect_url", "/oauth/callback")
	v.SetDefault("client.scopes", []string{"profile", "email"})

	// Never silently off; turning these down is a visible config act.
	v.SetDefault("verification.require_signature", true)
	v.SetDefault("verification.require_expiry", true)

	v.SetDefault("token_storage.adaptor", "session")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("sqlite.file", "oidcgate.db")

	v.SetDefault("session.cookie_name", "oidcgate_session")
	v.SetDefault("session.ttl", "12h")
	v.SetDefault("session.logout_fragment", "logout")

	v.SetDefault("curl.verify_host", true)
	v.SetDefault("curl.verify_peer", true)

	v.SetDefault("env", "dev")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("port", 8080)
	v.SetDefault("shutdown_grace_period", "10s")
}

// resolve pulls every key through the typed accessor so a wrong-typed
// value surfaces as a startup error naming the key.
func resolve(acc *configx.Accessor) (Config, error) {
	var (
		cfg  Config
		errs []error
	)

	str := func(dst *string, key string) {
		val, err := acc.String(key)
		if err != nil {
			errs = append(errs, err)
			return
		}
		*dst = val
	}
	boolean := func(dst *bool, key string) {
		val, err := acc.Bool(key)
		if err != nil {
			errs = append(errs, err)
			return
		}
		*dst = val
	}

	str(&cfg.ProviderEndpoint, "provider.endpoint")
	str(&cfg.Issuer, "provider.issuer")
	str(&cfg.LogoutEndpoint, "provider.logout_endpoint")
	boolean(&cfg.Introspect, "provider.introspect")

	str(&cfg.ClientID, "client.id")
	boolean(&cfg.UsePKCE, "client.use_pkce")
	str(&cfg.RedirectPath, "client.redirect_url")

	// Optional for public (PKCE) clients.
	if secret, err := acc.String("client.secret"); err == nil {
		cfg.ClientSecret = secret
	} else if !errors.Is(err, configx.ErrMissingKey) {
		errs = append(errs, err)
	}

	scopes, err := acc.Strings("client.scopes")
	if err != nil {
		errs = append(errs, err)
	}
	cfg.Scopes = scopes

	if key, err := acc.String("private_key.base64"); err == nil {
		cfg.PrivateKeyBase64 = key
	} else if !errors.Is(err, configx.ErrMissingKey) {
		errs = append(errs, err)
	}
	boolean(&cfg.RequireSignature, "verification.require_signature")
	boolean(&cfg.RequireExpiry, "verification.require_expiry")

	str(&cfg.StorageAdaptor, "token_storage.adaptor")
	str(&cfg.RedisAddr, "redis.addr")
	str(&cfg.SQLiteFile, "sqlite.file")

	str(&cfg.AppURL, "app.url")
	str(&cfg.SessionCookieName, "session.cookie_name")
	str(&cfg.LogoutPathFragment, "session.logout_fragment")

	boolean(&cfg.VerifyHost, "curl.verify_host")
	boolean(&cfg.VerifyPeer, "curl.verify_peer")

	str(&cfg.Env, "env")
	str(&cfg.LogLevel, "log.level")
	str(&cfg.LogFormat, "log.format")

	if ttl, err := acc.String("session.ttl"); err != nil {
		errs = append(errs, err)
	} else if cfg.SessionTTL, err = time.ParseDuration(ttl); err != nil {
		errs = append(errs, fmt.Errorf("session.ttl: %w", err))
	}

	if grace, err := acc.String("shutdown_grace_period"); err != nil {
		errs = append(errs, err)
	} else if cfg.ShutdownGracePeriod, err = time.ParseDuration(grace); err != nil {
		errs = append(errs, fmt.Errorf("shutdown_grace_period: %w", err))
	}

	if port, err := acc.Int("port"); err != nil {
		errs = append(errs, err)
	} else {
		cfg.Port = port
	}

	if err := errors.Join(errs...); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
