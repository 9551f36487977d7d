package store

import (
	"context"
	"errors"
	"strings"
)

// Well-known keys.
const (
	KeyAPIToken  = "apiToken"
	KeyAvatarURL = "avatarUrl"
	KeyTriggers  = "triggers"
	KeyChats     = "chats"

	promptKeyPrefix = "prompt:"
)

// PromptKey returns the key holding the prompt template for a trigger.
func PromptKey(triggerID string) string {
	return promptKeyPrefix + triggerID
}

// GetString returns the trimmed value under key, or "" when it is absent.
func (s *Store) GetString(ctx context.Context, key string) (string, error) {
	value, err := s.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(value), nil
}

// APIToken returns the stored bearer token, or "" when none is configured.
func (s *Store) APIToken(ctx context.Context) (string, error) {
	return s.GetString(ctx, KeyAPIToken)
}

// AvatarURL returns the stored assistant avatar URL, or "".
func (s *Store) AvatarURL(ctx context.Context) (string, error) {
	return s.GetString(ctx, KeyAvatarURL)
}
