package chat

import (
	"context"
	"sync"

	"github.com/go-telegram/bot/models"
)

// SentMessage records one Client.SendMessage call, for test assertions.
type SentMessage struct {
	ChatID   int64
	ThreadID int
	Text     string
	Buttons  []Button
}

// FakeClient is an in-memory API for unit tests, mirroring the role
// mux.FakeDriver plays for the multiplexer: the rest of the bridge never
// talks to a real chat service in tests.
type FakeClient struct {
	mu sync.Mutex

	nextMsgID int
	Sent      []SentMessage
	Deleted   []int
	Edited    map[int]string // messageID -> label
	Reactions map[int]string
	Forum     bool
	Topics    map[int]string // threadID -> name; closed topics get a "[closed] " prefix, deleted ones are removed
	nextTopic int
}

// NewFakeClient returns an empty fake chat client.
func NewFakeClient() *FakeClient {
	return &FakeClient{
		Edited:    make(map[int]string),
		Reactions: make(map[int]string),
		Topics:    make(map[int]string),
		nextTopic: 100,
	}
}

func (f *FakeClient) SendMessage(_ context.Context, chatID int64, threadID int, text string, buttons []Button) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextMsgID++
	f.Sent = append(f.Sent, SentMessage{ChatID: chatID, ThreadID: threadID, Text: text, Buttons: buttons})
	return f.nextMsgID, nil
}

func (f *FakeClient) EditMessageReplyMarkup(_ context.Context, _ int64, messageID int, label, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Edited[messageID] = label
	return nil
}

func (f *FakeClient) DeleteMessage(_ context.Context, _ int64, messageID int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Deleted = append(f.Deleted, messageID)
	return nil
}

func (f *FakeClient) SetMessageReaction(_ context.Context, _ int64, messageID int, emoji string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Reactions[messageID] = emoji
	return nil
}

func (f *FakeClient) SendChatAction(context.Context, int64, int, string) error { return nil }

func (f *FakeClient) AnswerCallbackQuery(context.Context, string, string) error { return nil }

func (f *FakeClient) GetChat(_ context.Context, chatID int64) (*models.Chat, error) {
	return &models.Chat{ID: chatID, IsForum: f.Forum}, nil
}

func (f *FakeClient) IsForumEnabled(context.Context, int64) (bool, error) {
	return f.Forum, nil
}

func (f *FakeClient) GetChatAdministrators(context.Context, int64) ([]int64, error) {
	return nil, nil
}

func (f *FakeClient) CreateForumTopic(_ context.Context, _ int64, name string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextTopic++
	f.Topics[f.nextTopic] = name
	return f.nextTopic, nil
}

func (f *FakeClient) CloseForumTopic(_ context.Context, _ int64, threadID int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Topics[threadID] = "[closed] " + f.Topics[threadID]
	return nil
}

func (f *FakeClient) DeleteForumTopic(_ context.Context, _ int64, threadID int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.Topics, threadID)
	return nil
}

func (f *FakeClient) EditForumTopic(_ context.Context, _ int64, threadID int, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Topics[threadID] = name
	return nil
}

func (f *FakeClient) SetMyCommands(context.Context, map[string]string) error { return nil }

var _ API = (*FakeClient)(nil)
