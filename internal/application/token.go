package application

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bnema/agentforge-cli/internal/domain"
	"github.com/bnema/agentforge-cli/internal/ports"
)

var ErrEmptyToken = errors.New("token is empty")

// TokenService manages the API token the stream client presents.
type TokenService struct {
	store ports.SecretStore
	ref   string
}

func NewTokenService(store ports.SecretStore, ref string) *TokenService {
	return &TokenService{store: store, ref: ref}
}

func (s *TokenService) Ref() string {
	return s.ref
}

func (s *TokenService) Set(ctx context.Context, value string) error {
	value = strings.TrimSpace(value)
	if value == "" {
		return ErrEmptyToken
	}
	if err := s.store.Put(ctx, s.ref, value); err != nil {
		return fmt.Errorf("store api token: %w", err)
	}
	return nil
}

func (s *TokenService) Remove(ctx context.Context) error {
	if err := s.store.Delete(ctx, s.ref); err != nil {
		return fmt.Errorf("remove api token: %w", err)
	}
	return nil
}

// Configured reports whether a token is stored, without exposing it.
func (s *TokenService) Configured(ctx context.Context) (bool, error) {
	_, err := s.store.Get(ctx, s.ref)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, domain.ErrSecretNotFound):
		return false, nil
	default:
		return false, fmt.Errorf("read api token: %w", err)
	}
}
