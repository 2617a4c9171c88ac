package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"

	domainchat "marketchat/internal/domain/chat"
)

type userContextKey struct{}

// ContextWithUser attaches the authenticated caller to ctx.
func ContextWithUser(ctx context.Context, id domainchat.UserID) context.Context {
	return context.WithValue(ctx, userContextKey{}, id)
}

// UserFromContext returns the authenticated caller, if any.
func UserFromContext(ctx context.Context) (domainchat.UserID, bool) {
	id, ok := ctx.Value(userContextKey{}).(domainchat.UserID)
	if !ok || strings.TrimSpace(string(id)) == "" {
		return "", false
	}
	return id, true
}

func requireUser(ctx context.Context) (domainchat.UserID, error) {
	id, ok := UserFromContext(ctx)
	if !ok {
		return "", precondition(domainchat.ErrIdentityRequired)
	}
	return id, nil
}

func precondition(err error) error {
	return fmt.Errorf("%w: %w", domainchat.ErrPreconditionFailed, err)
}

func storeUnavailable(op string, err error) error {
	if errors.Is(err, domainchat.ErrStoreUnavailable) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, domainchat.ErrStoreUnavailable, err)
}
