// Package secrets fills provider API keys from AWS SSM Parameter Store.
package secrets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"

	"github.com/radiomirchi/radio-mirchi/internal/config"
)

// Parameter names under the configured prefix
const (
	ParamGoogleAPIKey   = "google-api-key"
	ParamOpenAIAPIKey   = "openai-api-key"
	ParamDeepgramAPIKey = "deepgram-api-key"
)

var ErrParameterNotFound = errors.New("parameter not found")

// ssmAPI is the subset of the SSM client used here.
// *ssm.Client satisfies it.
type ssmAPI interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// Resolver reads API keys stored as SecureString parameters
type Resolver struct {
	api    ssmAPI
	prefix string
	logger *slog.Logger
}

// NewResolver wraps an SSM client. Parameters are read from "<prefix>/<name>".
func NewResolver(api ssmAPI, prefix string, logger *slog.Logger) (*Resolver, error) {
	if api == nil {
		return nil, errors.New("secrets: api must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		api:    api,
		prefix: strings.TrimRight(prefix, "/"),
		logger: logger.With(slog.String("component", "secrets")),
	}, nil
}

// Open builds a resolver from the default AWS credential chain
func Open(ctx context.Context, cfg config.SecretsConfig, logger *slog.Logger) (*Resolver, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("secrets: load aws config: %w", err)
	}
	return NewResolver(ssm.NewFromConfig(awsCfg), cfg.Prefix, logger)
}

// Get returns the decrypted value of one parameter. JSON objects with a
// "token" or "api_key" field are unwrapped.
func (r *Resolver) Get(ctx context.Context, name string) (string, error) {
	name = strings.Trim(strings.TrimSpace(name), "/")
	if name == "" {
		return "", errors.New("secrets: name is required")
	}
	full := r.prefix + "/" + name

	out, err := r.api.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(full),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		var nf *types.ParameterNotFound
		if errors.As(err, &nf) {
			return "", fmt.Errorf("secrets: %q: %w", full, ErrParameterNotFound)
		}
		return "", fmt.Errorf("secrets: get parameter %q: %w", full, err)
	}
	if out == nil || out.Parameter == nil || out.Parameter.Value == nil {
		return "", fmt.Errorf("secrets: parameter %q missing value", full)
	}
	return unwrapValue(*out.Parameter.Value), nil
}

func unwrapValue(raw string) string {
	raw = strings.TrimSpace(raw)
	if !strings.HasPrefix(raw, "{") {
		return raw
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(raw), &obj); err != nil {
		return raw
	}
	for _, key := range []string{"token", "api_key", "apiKey"} {
		if v, ok := obj[key].(string); ok && v != "" {
			return v
		}
	}
	return raw
}

// Apply fills every API key that is still empty in cfg. Missing parameters
// are skipped; RequireCredentials reports what is still absent afterwards.
func (r *Resolver) Apply(ctx context.Context, cfg *config.Config) error {
	targets := []struct {
		param string
		field *string
	}{
		{ParamGoogleAPIKey, &cfg.LLM.GoogleAPIKey},
		{ParamOpenAIAPIKey, &cfg.LLM.OpenAIAPIKey},
		{ParamDeepgramAPIKey, &cfg.Speech.APIKey},
	}

	for _, tgt := range targets {
		if *tgt.field != "" {
			continue
		}
		value, err := r.Get(ctx, tgt.param)
		if errors.Is(err, ErrParameterNotFound) {
			r.logger.Debug("Secret not found", slog.String("parameter", tgt.param))
			continue
		}
		if err != nil {
			return err
		}
		*tgt.field = value
		r.logger.Info("Loaded secret from parameter store", slog.String("parameter", tgt.param))
	}
	return nil
}
