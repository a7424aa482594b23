package bot

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"microblog_bot/internal/command"
	"microblog_bot/internal/graph"
	"microblog_bot/internal/mastodon"
	"microblog_bot/internal/model"
	"microblog_bot/internal/search"
	"microblog_bot/internal/store"
)

const helpTitle = "Microblog relay bot."

// HandleMessage processes one inbound message: a command or a post. Failures
// are logged, and echoed to the sender in debug mode.
func (b *Bot) HandleMessage(ctx context.Context, msg mastodon.Message) {
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return
	}

	sender, ok, err := b.resolveSender(ctx, msg)
	if err != nil {
		log.Printf("[bot] failed to resolve sender @%s: %v", msg.Handle, err)
		return
	}
	if !ok {
		return
	}

	cmd := b.commands.Parse(text)
	if b.config.Debug {
		log.Printf("[bot] @%s (%s): %s", sender.Username, cmd.Kind, text)
	}

	if err := b.dispatch(ctx, sender, cmd, msg.Payload); err != nil {
		log.Printf("[bot] error handling %s from @%s %q: %v", cmd.Kind, sender.Username, text, err)
		if b.config.Debug {
			b.reply(ctx, sender, fmt.Sprintf("ERROR: %s", err))
		}
	}
}

func (b *Bot) dispatch(ctx context.Context, sender model.User, cmd command.Command, payload model.Payload) error {
	switch cmd.Kind {
	case command.WhoAmI:
		b.reply(ctx, sender, fmt.Sprintf("Username: %s\nHandle: %s", sender.Username, sender.Handle))
		return nil
	case command.Followers:
		b.reply(ctx, sender, listBody("Your followers are:\n", "You have no followers.", b.graph.Followers(sender.Username)))
		return nil
	case command.Following:
		b.reply(ctx, sender, listBody("Your contacts are:\n", "You have no contacts.", b.graph.Following(sender.Username)))
		return nil
	case command.Follow:
		return b.follow(ctx, sender, cmd.Username)
	case command.Unfollow:
		return b.unfollow(ctx, sender, cmd.Username)
	case command.Direct:
		return b.sendTo(ctx, sender, cmd.Username, model.ChannelDirect,
			fmt.Sprintf("Direct message from @%s: %s", sender.Username, cmd.Message), payload)
	case command.Reply:
		return b.sendTo(ctx, sender, cmd.Username, model.ChannelReply,
			fmt.Sprintf("Reply from @%s: %s", sender.Username, cmd.Message), payload)
	case command.ListWatches:
		return b.listWatches(ctx, sender)
	case command.Watch:
		return b.watch(ctx, sender, cmd.Word)
	case command.Unwatch:
		if err := b.search.Unwatch(ctx, cmd.Word, sender.Username); err != nil {
			return err
		}
		b.reply(ctx, sender, fmt.Sprintf("Search on \"%s\" was dropped", cmd.Word))
		return nil
	case command.Help:
		b.reply(ctx, sender, b.commands.Help(helpTitle))
		return nil
	default:
		return b.post(ctx, sender, cmd.Text, payload)
	}
}

func listBody(header, empty string, usernames []string) string {
	if len(usernames) == 0 {
		return empty
	}
	return header + strings.Join(usernames, "\n")
}

func (b *Bot) follow(ctx context.Context, sender model.User, target string) error {
	outcome, err := b.graph.Follow(ctx, sender.Username, target)
	if err != nil {
		return err
	}
	switch outcome {
	case graph.TargetNotFound:
		b.reply(ctx, sender, fmt.Sprintf("User @%s not found.", target))
	case graph.SelfFollowRejected:
		b.reply(ctx, sender, "You can't follow yourself.")
	case graph.AlreadyFollowing:
		b.reply(ctx, sender, fmt.Sprintf("You already follow @%s.", target))
	}
	return nil
}

func (b *Bot) unfollow(ctx context.Context, sender model.User, target string) error {
	outcome, err := b.graph.Unfollow(ctx, sender.Username, target)
	if err != nil {
		return err
	}
	switch outcome {
	case graph.TargetNotFound:
		b.reply(ctx, sender, fmt.Sprintf("User @%s not found.", target))
	case graph.NotFollowing:
		b.reply(ctx, sender, fmt.Sprintf("You don't follow @%s.", target))
	}
	return nil
}

// sendTo delivers a one-off message to a named user
func (b *Bot) sendTo(ctx context.Context, sender model.User, username string, channel model.Channel, body string, payload model.Payload) error {
	target, err := b.directory.GetUser(ctx, username)
	if errors.Is(err, store.ErrNotFound) {
		b.reply(ctx, sender, fmt.Sprintf("User @%s not found.", username))
		return nil
	}
	if err != nil {
		return err
	}

	return b.deliverer.Deliver(ctx, model.Delivery{
		To:      target,
		From:    sender.Username,
		Channel: channel,
		Body:    body,
		Payload: payload.Clone(),
	})
}

func (b *Bot) listWatches(ctx context.Context, sender model.User) error {
	phrases, err := b.search.List(ctx, sender.Username)
	if err != nil {
		return err
	}
	b.reply(ctx, sender, listBody("Your searches:\n", "You have no searches.", phrases))
	return nil
}

func (b *Bot) watch(ctx context.Context, sender model.User, word string) error {
	result, err := b.search.Watch(ctx, word, sender.Username)
	if errors.Is(err, search.ErrEmptyPhrase) {
		b.reply(ctx, sender, "Search terms can't be empty.")
		return nil
	}
	if err != nil {
		return err
	}

	if result.Status == search.AlreadySubscribed {
		b.reply(ctx, sender, "You already watching for these terms.")
		return nil
	}
	b.reply(ctx, sender, watchBody(word, result))
	return nil
}

func watchBody(word string, result search.SubscribeResult) string {
	body := fmt.Sprintf("Now you are looking for \"%s\" in all messages.", word)
	if len(result.Neighbours) > 0 {
		body += "\nThese users are watching for the same terms:\n@"
		body += strings.Join(result.Neighbours, "\n@")
		if result.More {
			body += "\nand more..."
		}
	}
	return body
}

// reply sends a bot notice to user; failures are only logged
func (b *Bot) reply(ctx context.Context, user model.User, body string) {
	err := b.deliverer.Deliver(ctx, model.Delivery{
		To:      user,
		Channel: model.ChannelNotice,
		Body:    body,
	})
	if err != nil {
		log.Printf("[bot] reply to @%s failed: %v", user.Username, err)
	}
}
