// Package chat wraps the chat service's Bot API (concretely, Telegram's)
// behind a small typed interface: send/edit/delete a message, react to a
// message, answer a callback, create/close/delete/rename a forum topic, and
// long-poll updates. Every other package talks to this interface, never to
// github.com/go-telegram/bot directly, so the rest of the bridge is
// decoupled from the concrete chat backend.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	tgbot "github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

// GeneralTopicID is the reserved topic id that addresses a group's
// default, always-present thread. The API is called with no thread id at
// all to target it (per the Glossary: "topic 1 is the group-wide default
// and is addressed by omitting the thread id").
const GeneralTopicID = 1

// Button is one inline keyboard button: a label and an opaque callback
// payload routed back to the poller on click.
type Button struct {
	Label string
	Data  string
}

// Message is a normalized inbound chat message, decoupled from the
// concrete Telegram models.Message shape.
type Message struct {
	ChatID     int64
	ThreadID   int // 0 means the general/default topic
	MessageID  int
	FromName   string
	Text       string
	ReplyToID  int // 0 if not a reply
	IsGroup    bool
	IsPrivate  bool
}

// Callback is a normalized inline-button click.
type Callback struct {
	ID        string // callback_query id, answered via AnswerCallbackQuery
	ChatID    int64
	MessageID int
	Data      string
}

// Update is a sum of the two inbound event kinds the poller cares about.
type Update struct {
	Message  *Message
	Callback *Callback
}

// API is the surface every other package depends on instead of the
// concrete Client, so notify/poller/commands can be tested against a fake
// without a real bot token or network access.
type API interface {
	SendMessage(ctx context.Context, chatID int64, threadID int, text string, buttons []Button) (int, error)
	EditMessageReplyMarkup(ctx context.Context, chatID int64, messageID int, label, callbackData string) error
	DeleteMessage(ctx context.Context, chatID int64, messageID int) error
	SetMessageReaction(ctx context.Context, chatID int64, messageID int, emoji string) error
	SendChatAction(ctx context.Context, chatID int64, threadID int, action string) error
	AnswerCallbackQuery(ctx context.Context, callbackID, text string) error
	GetChat(ctx context.Context, chatID int64) (*models.Chat, error)
	IsForumEnabled(ctx context.Context, chatID int64) (bool, error)
	GetChatAdministrators(ctx context.Context, chatID int64) ([]int64, error)
	CreateForumTopic(ctx context.Context, chatID int64, name string) (int, error)
	CloseForumTopic(ctx context.Context, chatID int64, threadID int) error
	DeleteForumTopic(ctx context.Context, chatID int64, threadID int) error
	EditForumTopic(ctx context.Context, chatID int64, threadID int, name string) error
	SetMyCommands(ctx context.Context, commands map[string]string) error
}

// Client is the typed wrapper over the chat service.
type Client struct {
	tg    *tgbot.Bot
	token string

	mu      sync.Mutex
	updates chan Update
}

// New constructs a Client bound to token. The underlying bot.Bot is built
// with a catch-all default handler that normalizes and forwards every
// update onto the channel returned by Start; no handler logic lives here,
// matching spec §5's "long-poll on a thread / orchestration on main loop"
// design.
func New(token string) (*Client, error) {
	c := &Client{token: token, updates: make(chan Update, 256)}

	opts := []tgbot.Option{
		tgbot.WithDefaultHandler(c.dispatch),
	}
	b, err := tgbot.New(token, opts...)
	if err != nil {
		return nil, fmt.Errorf("create bot client: %w", err)
	}
	c.tg = b
	return c, nil
}

func (c *Client) dispatch(ctx context.Context, _ *tgbot.Bot, update *models.Update) {
	if update == nil {
		return
	}
	if update.CallbackQuery != nil {
		cb := update.CallbackQuery
		c.updates <- Update{Callback: &Callback{
			ID:        cb.ID,
			ChatID:    cb.Message.Message.Chat.ID,
			MessageID: cb.Message.Message.ID,
			Data:      cb.Data,
		}}
		return
	}
	if update.Message != nil {
		m := update.Message
		msg := &Message{
			ChatID:    m.Chat.ID,
			ThreadID:  m.MessageThreadID,
			MessageID: m.ID,
			Text:      m.Text,
			IsGroup:   m.Chat.Type == models.ChatTypeGroup || m.Chat.Type == models.ChatTypeSupergroup,
			IsPrivate: m.Chat.Type == models.ChatTypePrivate,
		}
		if m.From != nil {
			msg.FromName = m.From.Username
			if msg.FromName == "" {
				msg.FromName = m.From.FirstName
			}
		}
		if m.ReplyToMessage != nil {
			msg.ReplyToID = m.ReplyToMessage.ID
		}
		c.updates <- Update{Message: msg}
	}
}

// Start launches the long-poll loop on its own goroutine and returns the
// channel updates are delivered on. The context cancels the poll loop on
// shutdown (SIGTERM per §5).
func (c *Client) Start(ctx context.Context) <-chan Update {
	go c.tg.Start(ctx)
	return c.updates
}

func threadPtr(threadID int) *int {
	if threadID == 0 || threadID == GeneralTopicID {
		return nil
	}
	return &threadID
}

func buildKeyboard(buttons []Button) *models.InlineKeyboardMarkup {
	if len(buttons) == 0 {
		return nil
	}
	row := make([]models.InlineKeyboardButton, len(buttons))
	for i, b := range buttons {
		row[i] = models.InlineKeyboardButton{Text: b.Label, CallbackData: b.Data}
	}
	return &models.InlineKeyboardMarkup{InlineKeyboard: [][]models.InlineKeyboardButton{row}}
}

// SendMessage posts text to chatID/threadID with optional inline buttons.
// On a markdown-parse rejection from the chat service, it retries once
// without the parse-mode flag (§7, "Markdown-parse rejection by chat").
// Returns the new message's id.
func (c *Client) SendMessage(ctx context.Context, chatID int64, threadID int, text string, buttons []Button) (int, error) {
	params := &tgbot.SendMessageParams{
		ChatID:          chatID,
		Text:            text,
		ParseMode:       models.ParseModeMarkdown,
		MessageThreadID: derefInt(threadPtr(threadID)),
		ReplyMarkup:     buildKeyboard(buttons),
	}

	msg, err := c.tg.SendMessage(ctx, params)
	if err != nil && isMarkdownParseError(err) {
		params.ParseMode = ""
		msg, err = c.tg.SendMessage(ctx, params)
	}
	if err != nil {
		return 0, fmt.Errorf("sendMessage: %w", err)
	}
	return msg.ID, nil
}

func derefInt(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}

func isMarkdownParseError(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "can't parse entities")
}

// EditMessageReplyMarkup replaces a message's inline keyboard, used to
// collapse a permission-prompt's buttons into a single final-state label.
func (c *Client) EditMessageReplyMarkup(ctx context.Context, chatID int64, messageID int, label, callbackData string) error {
	keyboard := &models.InlineKeyboardMarkup{
		InlineKeyboard: [][]models.InlineKeyboardButton{{
			{Text: label, CallbackData: callbackData},
		}},
	}
	_, err := c.tg.EditMessageReplyMarkup(ctx, &tgbot.EditMessageReplyMarkupParams{
		ChatID:      chatID,
		MessageID:   messageID,
		ReplyMarkup: keyboard,
	})
	return err
}

// DeleteMessage removes a message entirely (used for the "quick" branch of
// the completion/supersession windows).
func (c *Client) DeleteMessage(ctx context.Context, chatID int64, messageID int) error {
	_, err := c.tg.DeleteMessage(ctx, &tgbot.DeleteMessageParams{ChatID: chatID, MessageID: messageID})
	return err
}

// SetMessageReaction attaches (or clears, if emoji is "") an emoji
// reaction to a message — used to acknowledge commands like /debug and
// /todo without a chat reply.
func (c *Client) SetMessageReaction(ctx context.Context, chatID int64, messageID int, emoji string) error {
	var reaction []models.ReactionType
	if emoji != "" {
		reaction = []models.ReactionType{{Type: models.ReactionTypeTypeEmoji, ReactionTypeEmoji: &models.ReactionTypeEmoji{Emoji: emoji}}}
	}
	_, err := c.tg.SetMessageReaction(ctx, &tgbot.SetMessageReactionParams{
		ChatID:    chatID,
		MessageID: messageID,
		Reaction:  reaction,
	})
	return err
}

// SendChatAction issues a transient "typing..." indicator to threadID; the
// chat client auto-dismisses it when the next real message arrives.
func (c *Client) SendChatAction(ctx context.Context, chatID int64, threadID int, action string) error {
	_, err := c.tg.SendChatAction(ctx, &tgbot.SendChatActionParams{
		ChatID:          chatID,
		MessageThreadID: derefInt(threadPtr(threadID)),
		Action:          action,
	})
	return err
}

// AnswerCallbackQuery dismisses a button press's loading spinner, showing
// text as a transient toast if non-empty.
func (c *Client) AnswerCallbackQuery(ctx context.Context, callbackID, text string) error {
	_, err := c.tg.AnswerCallbackQuery(ctx, &tgbot.AnswerCallbackQueryParams{
		CallbackQueryID: callbackID,
		Text:            text,
	})
	return err
}

// GetChat fetches chat metadata, used by /setup to confirm the target
// group supports forum topics before committing configuration.
func (c *Client) GetChat(ctx context.Context, chatID int64) (*models.Chat, error) {
	chat, err := c.tg.GetChat(ctx, &tgbot.GetChatParams{ChatID: chatID})
	if err != nil {
		return nil, err
	}
	return chat, nil
}

// IsForumEnabled reports whether a chat has topics (forum mode) enabled.
func (c *Client) IsForumEnabled(ctx context.Context, chatID int64) (bool, error) {
	chat, err := c.GetChat(ctx, chatID)
	if err != nil {
		return false, err
	}
	return chat.IsForum, nil
}

// GetChatAdministrators lists the user ids of chatID's administrators.
func (c *Client) GetChatAdministrators(ctx context.Context, chatID int64) ([]int64, error) {
	admins, err := c.tg.GetChatAdministrators(ctx, &tgbot.GetChatAdministratorsParams{ChatID: chatID})
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(admins))
	for _, a := range admins {
		ids = append(ids, a.User.ID)
	}
	return ids, nil
}

// CreateForumTopic creates a new topic/thread inside a forum-enabled
// group, returning its thread id.
func (c *Client) CreateForumTopic(ctx context.Context, chatID int64, name string) (int, error) {
	topic, err := c.tg.CreateForumTopic(ctx, &tgbot.CreateForumTopicParams{
		ChatID: chatID,
		Name:   name,
	})
	if err != nil {
		return 0, fmt.Errorf("createForumTopic: %w", err)
	}
	if topic == nil {
		return 0, errors.New("createForumTopic: empty response")
	}
	return topic.MessageThreadID, nil
}

// CloseForumTopic closes a topic (retains history, disallows new messages).
func (c *Client) CloseForumTopic(ctx context.Context, chatID int64, threadID int) error {
	_, err := c.tg.CloseForumTopic(ctx, &tgbot.CloseForumTopicParams{ChatID: chatID, MessageThreadID: threadID})
	return err
}

// DeleteForumTopic deletes a topic and all its messages outright.
func (c *Client) DeleteForumTopic(ctx context.Context, chatID int64, threadID int) error {
	_, err := c.tg.DeleteForumTopic(ctx, &tgbot.DeleteForumTopicParams{ChatID: chatID, MessageThreadID: threadID})
	return err
}

// EditForumTopic renames a topic (used for the ▶️/⏸️/✅ status-prefix
// convention on task topics).
func (c *Client) EditForumTopic(ctx context.Context, chatID int64, threadID int, name string) error {
	_, err := c.tg.EditForumTopic(ctx, &tgbot.EditForumTopicParams{
		ChatID:          chatID,
		MessageThreadID: threadID,
		Name:            name,
	})
	return err
}

// SetMyCommands registers the bot's slash-command menu.
func (c *Client) SetMyCommands(ctx context.Context, commands map[string]string) error {
	cmds := make([]models.BotCommand, 0, len(commands))
	for cmd, desc := range commands {
		cmds = append(cmds, models.BotCommand{Command: strings.TrimPrefix(cmd, "/"), Description: desc})
	}
	_, err := c.tg.SetMyCommands(ctx, &tgbot.SetMyCommandsParams{Commands: cmds})
	return err
}

var _ API = (*Client)(nil)
