package env

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/bnema/agentforge-cli/internal/domain"
	"github.com/bnema/agentforge-cli/internal/ports"
)

// ErrReadOnly is returned by Put and Delete; environment secrets are managed
// outside the CLI.
var ErrReadOnly = errors.New("environment secret store is read-only")

type lookupFunc func(name string) (string, bool)

// Store resolves secrets from environment variables. The key
// "agentforge/api_token" maps to PREFIX_API_TOKEN.
type Store struct {
	prefix string
	lookup lookupFunc
}

var _ ports.SecretStore = (*Store)(nil)

func NewStore(prefix string) *Store {
	return &Store{prefix: prefix, lookup: os.LookupEnv}
}

func (s *Store) Get(ctx context.Context, key string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	name, err := s.VariableName(key)
	if err != nil {
		return "", err
	}

	value, ok := s.lookup(name)
	if !ok || strings.TrimSpace(value) == "" {
		return "", fmt.Errorf("env secret %s: %w", name, domain.ErrSecretNotFound)
	}
	return strings.TrimSpace(value), nil
}

func (s *Store) Put(ctx context.Context, key string, _ string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return fmt.Errorf("put %q: %w", key, ErrReadOnly)
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return fmt.Errorf("delete %q: %w", key, ErrReadOnly)
}

// VariableName returns the environment variable consulted for key.
func (s *Store) VariableName(key string) (string, error) {
	trimmed := strings.TrimSpace(key)
	if trimmed == "" {
		return "", errors.New("secret key is empty")
	}
	if _, rest, found := strings.Cut(trimmed, "/"); found {
		trimmed = rest
	}

	var b strings.Builder
	if s.prefix != "" {
		b.WriteString(strings.TrimSuffix(strings.ToUpper(s.prefix), "_"))
		b.WriteByte('_')
	}
	for _, r := range strings.ToUpper(trimmed) {
		switch {
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String(), nil
}
