package backend

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/vitrine-ops/imgsync/internal/model"

	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/viper"
)

// Credentials supplies the bearer token. It is asked before every request,
// so a token which disappears or expires stops the next request.
type Credentials interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a token from the configuration file.
type StaticToken string

func (s StaticToken) Token(context.Context) (string, error) {
	return checkToken(string(s), time.Now())
}

// EnvToken reads the token from an environment variable on every call.
type EnvToken struct {
	Variable string
}

func (e EnvToken) Token(context.Context) (string, error) {
	v := e.Variable
	if v == "" {
		v = model.DefaultTokenVariable
	}
	return checkToken(os.Getenv(v), time.Now())
}

// SessionFile reads the token from a JSON or YAML session file, either as
// "token" or as "loggedInUser.token". IMGSYNC_TOKEN overrides the file.
type SessionFile struct {
	Path string
}

func (s SessionFile) Token(context.Context) (string, error) {
	v := viper.New()
	v.SetEnvPrefix("IMGSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("token"); err != nil {
		return "", err
	}
	if token := v.GetString("token"); token != "" {
		return checkToken(token, time.Now())
	}

	v.SetConfigFile(os.ExpandEnv(s.Path))
	if err := v.ReadInConfig(); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("session file %s: %w", s.Path, model.ErrNoCredential)
		}
		return "", fmt.Errorf("reading session file %s: %w", s.Path, err)
	}
	token := v.GetString("token")
	if token == "" {
		token = v.GetString("loggedInUser.token")
	}
	return checkToken(token, time.Now())
}

// checkToken rejects an empty token and a JWT whose exp claim has passed.
// Opaque tokens are passed through, the server is the judge of those.
func checkToken(token string, now time.Time) (string, error) {
	token = strings.TrimSpace(token)
	token = strings.TrimPrefix(token, "Bearer ")
	if token == "" {
		return "", model.ErrNoCredential
	}
	if strings.Count(token, ".") != 2 {
		return token, nil
	}
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return token, nil
	}
	if claims.ExpiresAt != nil && !claims.ExpiresAt.After(now) {
		return "", fmt.Errorf("%w at %s", model.ErrCredentialExpired, claims.ExpiresAt.Format(time.RFC3339))
	}
	return token, nil
}

// FromConfig returns the supplier selected by the auth section.
func FromConfig(cfg model.Auth) (Credentials, error) {
	switch cfg.Type {
	case model.AuthTypeStaticToken:
		return StaticToken(cfg.Token), nil
	case model.AuthTypeSessionFile:
		return SessionFile{Path: cfg.Path}, nil
	case model.AuthTypeEnv, "":
		return EnvToken{Variable: cfg.Variable}, nil
	default:
		return nil, fmt.Errorf("unsupported auth type %q", cfg.Type)
	}
}
