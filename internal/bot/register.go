package bot

import (
	"context"
	"errors"
	"fmt"
	"log"
	"regexp"
	"strings"
	"time"

	"microblog_bot/internal/mastodon"
	"microblog_bot/internal/model"
	"microblog_bot/internal/store"
)

const maxUsernameAttempts = 100

var invalidUsernameChars = regexp.MustCompile(`[^-\w.]`)

// resolveSender maps the message handle to a registered user. Unknown senders
// are registered when AutoRegisterUsers is set, and ignored otherwise.
func (b *Bot) resolveSender(ctx context.Context, msg mastodon.Message) (model.User, bool, error) {
	user, err := b.directory.GetUserByHandle(ctx, msg.Handle)
	if err == nil {
		return user, true, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return model.User{}, false, err
	}

	if !b.config.AutoRegisterUsers {
		log.Printf("[bot] ignoring message from unregistered @%s", msg.Handle)
		return model.User{}, false, nil
	}

	user, err = b.register(ctx, msg.Handle, msg.DisplayName)
	if err != nil {
		return model.User{}, false, err
	}
	b.reply(ctx, user, fmt.Sprintf("Welcome, @%s! Send \"help\" to see what I can do.", user.Username))
	return user, true, nil
}

// UsernameFromHandle derives a username from the local part of a handle
func UsernameFromHandle(handle string) string {
	local, _, _ := strings.Cut(strings.TrimPrefix(handle, "@"), "@")
	return model.NormalizeUsername(invalidUsernameChars.ReplaceAllString(local, ""))
}

// register adds a user for handle, suffixing the username on collision
func (b *Bot) register(ctx context.Context, handle, displayName string) (model.User, error) {
	base := UsernameFromHandle(handle)
	if base == "" {
		base = "user"
	}

	for i := 1; i <= maxUsernameAttempts; i++ {
		candidate := base
		if i > 1 {
			candidate = fmt.Sprintf("%s%d", base, i)
		}

		user := model.User{
			Username:    candidate,
			Handle:      handle,
			DisplayName: displayName,
			CreatedAt:   time.Now(),
		}
		err := b.directory.AddUser(ctx, user)
		if err == nil {
			log.Printf("[bot] registered @%s as %s", handle, candidate)
			return user, nil
		}
		if !errors.Is(err, store.ErrDuplicate) {
			return model.User{}, fmt.Errorf("failed to register %s: %w", handle, err)
		}
		if existing, err := b.directory.GetUserByHandle(ctx, handle); err == nil {
			return existing, nil
		}
	}
	return model.User{}, fmt.Errorf("no free username for %s", handle)
}
