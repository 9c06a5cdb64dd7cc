package linking

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rhymesoflife/platform/internal/channels"
	"github.com/rhymesoflife/platform/internal/channels/telegram"
	"github.com/rhymesoflife/platform/internal/phoneotp"
	"github.com/rhymesoflife/platform/internal/shared/metrics"
)

// Bot is the chat bot the protocol talks through. *telegram.Client implements it.
type Bot interface {
	SendMessage(ctx context.Context, msg telegram.Message) channels.Result
	BotUsername(ctx context.Context) (string, error)
}

// Protocol drives a link from token issue to verified binding.
type Protocol struct {
	repo    Repository
	pending PendingStore
	bot     Bot
	logger  *zap.Logger
}

// NewProtocol creates the linking protocol. pending may be nil, in which
// case the contact step relies on the database lookup only.
func NewProtocol(repo Repository, pending PendingStore, bot Bot, logger *zap.Logger) *Protocol {
	return &Protocol{
		repo:    repo,
		pending: pending,
		bot:     bot,
		logger:  logger.Named("linking"),
	}
}

// IssueLink returns the deep link for profileID. When the bot username
// cannot be resolved the result is marked NotConfigured.
func (p *Protocol) IssueLink(ctx context.Context, profileID int64) (*LinkInfo, error) {
	link, err := p.repo.GetOrCreate(ctx, profileID)
	if err != nil {
		return nil, err
	}

	info := &LinkInfo{IsVerified: link.Verified}
	username, err := p.bot.BotUsername(ctx)
	if err != nil || username == "" {
		if err != nil && !errors.Is(err, channels.ErrNotConfigured) {
			p.logger.Warn("bot username lookup failed", zap.Error(err))
		}
		info.NotConfigured = true
		return info, nil
	}

	info.BotUsername = username
	if link.ActivationToken != nil {
		info.Link = fmt.Sprintf("https://t.me/%s?start=%s%s", username, activatePrefix, link.ActivationToken.String())
	}
	return info, nil
}

// HandleUpdate processes one inbound update. Errors are returned only for
// storage failures; every user-facing problem is answered in the chat.
func (p *Protocol) HandleUpdate(ctx context.Context, in Inbound) error {
	metrics.RecordWebhookUpdate(string(in.Kind))

	switch in.Kind {
	case KindIgnored:
		return nil
	case KindStart:
		return p.redeem(ctx, in)
	case KindContact:
		return p.bind(ctx, in)
	default:
		p.reply(ctx, in.Identity.ChatID, ReplyTapButton, nil)
		return nil
	}
}

func (p *Protocol) redeem(ctx context.Context, in Inbound) error {
	chatID := in.Identity.ChatID
	token, err := uuid.Parse(in.Token)
	if err != nil {
		p.reply(ctx, chatID, ReplyInvalidToken, nil)
		return nil
	}

	outcome, profileID, err := p.repo.Redeem(ctx, token, in.Identity)
	if err != nil {
		return err
	}
	log := p.logger.With(zap.Int64("chat_id", chatID), zap.Int64("profile_id", profileID))

	switch outcome {
	case RedeemNotFound:
		p.reply(ctx, chatID, ReplyTokenNotFound, nil)
	case RedeemAlreadyLinked:
		p.reply(ctx, chatID, ReplyAlreadyLinked, nil)
	case RedeemChatTaken:
		log.Info("chat already linked to another profile")
		p.reply(ctx, chatID, ReplyChatTaken, nil)
	case Redeemed:
		log.Info("activation token redeemed")
		p.rememberPending(ctx, chatID, profileID)
		p.reply(ctx, chatID, ReplySharePhone, telegram.ContactRequestKeyboard(SharePhoneButtonText))
	case RedeemAlreadyPending:
		log.Debug("duplicate activation")
		p.rememberPending(ctx, chatID, profileID)
		p.reply(ctx, chatID, ReplyLinkPending, telegram.ContactRequestKeyboard(SharePhoneButtonText))
	}
	return nil
}

func (p *Protocol) bind(ctx context.Context, in Inbound) error {
	chatID := in.Identity.ChatID

	profileID, ok := p.lookupPending(ctx, chatID)
	if !ok {
		id, found, err := p.repo.FindPendingByChat(ctx, chatID)
		if err != nil {
			return err
		}
		profileID, ok = id, found
	}
	if !ok {
		linked, err := p.repo.ChatLinked(ctx, chatID)
		if err != nil {
			return err
		}
		if linked {
			p.reply(ctx, chatID, ReplyPhoneAlready, telegram.RemoveKeyboard{RemoveKeyboard: true})
			return nil
		}
		p.reply(ctx, chatID, ReplyNoSession, nil)
		return nil
	}

	phone := phoneotp.FormatE164(in.Phone)
	if phone == "" {
		p.reply(ctx, chatID, ReplyTapButton, nil)
		return nil
	}

	outcome, err := p.repo.Bind(ctx, profileID, chatID, phone)
	if err != nil {
		return err
	}
	log := p.logger.With(zap.Int64("chat_id", chatID), zap.Int64("profile_id", profileID))

	switch outcome {
	case Bound:
		log.Info("chat account linked")
		p.forgetPending(ctx, chatID)
		p.reply(ctx, chatID, ReplyPhoneLinked, telegram.RemoveKeyboard{RemoveKeyboard: true})
	case BindAlreadyLinked:
		log.Debug("duplicate contact for linked account")
		p.forgetPending(ctx, chatID)
		p.reply(ctx, chatID, ReplyPhoneAlready, telegram.RemoveKeyboard{RemoveKeyboard: true})
	case BindNoSession:
		p.forgetPending(ctx, chatID)
		p.reply(ctx, chatID, ReplyNoSession, nil)
	}
	return nil
}

func (p *Protocol) rememberPending(ctx context.Context, chatID, profileID int64) {
	if p.pending == nil {
		return
	}
	if err := p.pending.Put(ctx, chatID, profileID); err != nil {
		p.logger.Warn("pending bind write failed", zap.Int64("chat_id", chatID), zap.Error(err))
	}
}

func (p *Protocol) lookupPending(ctx context.Context, chatID int64) (int64, bool) {
	if p.pending == nil {
		return 0, false
	}
	id, ok, err := p.pending.Get(ctx, chatID)
	if err != nil {
		p.logger.Warn("pending bind read failed", zap.Int64("chat_id", chatID), zap.Error(err))
		return 0, false
	}
	return id, ok
}

func (p *Protocol) forgetPending(ctx context.Context, chatID int64) {
	if p.pending == nil {
		return
	}
	if err := p.pending.Delete(ctx, chatID); err != nil {
		p.logger.Warn("pending bind delete failed", zap.Int64("chat_id", chatID), zap.Error(err))
	}
}

func (p *Protocol) reply(ctx context.Context, chatID int64, text string, markup any) {
	res := p.bot.SendMessage(ctx, telegram.Message{
		ChatID:                chatID,
		Text:                  text,
		DisableWebPagePreview: true,
		ReplyMarkup:           markup,
	})
	if !res.OK {
		p.logger.Warn("bot reply failed", zap.Int64("chat_id", chatID), zap.String("reason", res.Message))
	}
}
