package bot

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"microblog_bot/internal/delivery"
	"microblog_bot/internal/model"
	"microblog_bot/internal/search"
	"microblog_bot/internal/util"
)

// post publishes text to the sender's followers, mentioned users and, via the
// search worker, to everyone watching a matching phrase
func (b *Bot) post(ctx context.Context, sender model.User, text string, payload model.Payload) error {
	if n := util.RuneLen(text); b.config.MaxPostChars > 0 && n > b.config.MaxPostChars {
		b.sink.IncrCounter(delivery.MetricPostRejectedCount, 1)
		b.reply(ctx, sender, fmt.Sprintf(
			"Your message is longer than %d characters (%d chars). Your message has not been posted.",
			b.config.MaxPostChars, n))
		return nil
	}

	if link, blocked := b.blocklist.Blocked(text); blocked {
		b.sink.IncrCounter(delivery.MetricPostRejectedCount, 1)
		log.Printf("[bot] post by @%s rejected, blocked link %s", sender.Username, link)
		b.reply(ctx, sender, fmt.Sprintf(
			"Your message contains a blocked link (%s). Your message has not been posted.", link))
		return nil
	}

	post := model.Post{
		Author:    sender.Username,
		Text:      text,
		Payload:   payload.Clone(),
		CreatedAt: time.Now(),
	}

	if err := b.directory.SavePost(ctx, post); err != nil {
		log.Printf("[bot] can't save post by @%s: %v", sender.Username, err)
	}

	plan, err := b.router.Route(ctx, post)
	if err != nil {
		return err
	}
	sent := delivery.DeliverAll(ctx, b.deliverer, plan.All())
	b.sink.IncrCounter(delivery.MetricPostCount, 1)

	if b.config.Debug {
		log.Printf("[bot] post by @%s: %d subscribers, %d mentions, %d delivered",
			sender.Username, len(plan.Subscribers), len(plan.Mentions), sent)
	}

	err = b.worker.Enqueue(search.Job{Post: post, Mentioned: plan.Mentioned()})
	if errors.Is(err, search.ErrWorkerStopped) {
		log.Printf("[bot] search skipped for post by @%s: worker stopped", sender.Username)
		return nil
	}
	return err
}
