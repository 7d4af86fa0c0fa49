package bot

import (
	"context"
	"strings"
	"sync"
	"testing"

	"referralbot/internal/journal"
	"referralbot/internal/session"
	"referralbot/internal/storage/stubs"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

const (
	testBotID       = int64(999)
	testBotUsername = "LcsAssistantBot"
	testPassword    = "s3cret-pass"
	testOperatorID  = int64(4242)
)

// fakeAPI records every outbound call and fails the ones it is told to
type fakeAPI struct {
	mu sync.Mutex

	messages  []tgbotapi.MessageConfig
	edits     []tgbotapi.EditMessageTextConfig
	callbacks []tgbotapi.CallbackConfig
	deletes   []tgbotapi.DeleteMessageConfig
	requests  []tgbotapi.Chattable

	failChats    map[int64]error
	failChannels map[string]error
	failEdits    error

	member        tgbotapi.ChatMember
	memberErr     error
	memberQueries []tgbotapi.GetChatMemberConfig

	admins    []tgbotapi.ChatMember
	adminsErr error
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		failChats:    make(map[int64]error),
		failChannels: make(map[string]error),
		member:       tgbotapi.ChatMember{Status: "member"},
	}
}

func (f *fakeAPI) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch m := c.(type) {
	case tgbotapi.MessageConfig:
		f.messages = append(f.messages, m)
		if err := f.failChats[m.ChatID]; err != nil && m.ChannelUsername == "" {
			return tgbotapi.Message{}, err
		}
		if err := f.failChannels[m.ChannelUsername]; err != nil {
			return tgbotapi.Message{}, err
		}
		return tgbotapi.Message{MessageID: len(f.messages), Chat: &tgbotapi.Chat{ID: m.ChatID}, Text: m.Text}, nil
	case tgbotapi.EditMessageTextConfig:
		f.edits = append(f.edits, m)
		if f.failEdits != nil {
			return tgbotapi.Message{}, f.failEdits
		}
		return tgbotapi.Message{MessageID: m.MessageID, Chat: &tgbotapi.Chat{ID: m.ChatID}, Text: m.Text}, nil
	default:
		f.requests = append(f.requests, c)
		return tgbotapi.Message{}, nil
	}
}

func (f *fakeAPI) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch m := c.(type) {
	case tgbotapi.CallbackConfig:
		f.callbacks = append(f.callbacks, m)
	case tgbotapi.DeleteMessageConfig:
		f.deletes = append(f.deletes, m)
	default:
		f.requests = append(f.requests, c)
	}
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (f *fakeAPI) GetChatMember(config tgbotapi.GetChatMemberConfig) (tgbotapi.ChatMember, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.memberQueries = append(f.memberQueries, config)
	if f.memberErr != nil {
		return tgbotapi.ChatMember{}, f.memberErr
	}
	return f.member, nil
}

func (f *fakeAPI) GetChatAdministrators(config tgbotapi.ChatAdministratorsConfig) ([]tgbotapi.ChatMember, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.adminsErr != nil {
		return nil, f.adminsErr
	}
	return f.admins, nil
}

// messagesTo returns the texts sent to a chat, in order
func (f *fakeAPI) messagesTo(chatID int64) []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	var texts []string
	for _, m := range f.messages {
		if m.ChatID == chatID && m.ChannelUsername == "" {
			texts = append(texts, m.Text)
		}
	}
	return texts
}

// lastMessageTo returns the latest text sent to a chat, or "" when there is none
func (f *fakeAPI) lastMessageTo(chatID int64) string {
	texts := f.messagesTo(chatID)
	if len(texts) == 0 {
		return ""
	}
	return texts[len(texts)-1]
}

func (f *fakeAPI) messageCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.messages)
}

func (f *fakeAPI) callbackAnswers() []tgbotapi.CallbackConfig {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]tgbotapi.CallbackConfig(nil), f.callbacks...)
}

type testEnv struct {
	bot      *Bot
	api      *fakeAPI
	db       *stubs.MockDB
	sessions *session.Memory
	journal  *journal.Memory
}

func testSettings() Settings {
	return Settings{
		OperatorPassword:         testPassword,
		OperatorChatID:           testOperatorID,
		CommunityChatID:          "@LocalCoinSwapCommunity",
		CommunityURL:             "https://t.me/LocalCoinSwapCommunity",
		XURL:                     "https://x.com/LocalCoinSwap_",
		SignupURL:                "https://localcoinswap.com",
		MinLocalCoinSwapIDLength: 3,
	}
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	env := &testEnv{
		api:      newFakeAPI(),
		db:       stubs.NewMockDB(),
		sessions: session.NewMemory(),
		journal:  journal.NewMemory(0),
	}
	if err := env.db.Initialize(context.Background()); err != nil {
		t.Fatalf("Failed to initialize database: %v", err)
	}

	self := tgbotapi.User{ID: testBotID, IsBot: true, UserName: testBotUsername, FirstName: "Assistant"}
	env.bot = newBot(env.api, self, env.db, env.sessions, env.journal, testSettings(), zap.NewNop())
	return env
}

func (e *testEnv) handle(update tgbotapi.Update) Result {
	return e.bot.HandleUpdate(context.Background(), update)
}

// privateText sends text from a user in their private chat
func (e *testEnv) privateText(userID int64, text string) Result {
	return e.handle(tgbotapi.Update{Message: newMessage(privateChat(userID), testUser(userID), text)})
}

// press presses an inline button on a private message of the bot
func (e *testEnv) press(userID int64, data string) Result {
	return e.handle(tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{
		ID:      "cb-" + data,
		From:    testUser(userID),
		Message: &tgbotapi.Message{MessageID: 77, Chat: privateChat(userID)},
		Data:    data,
	}})
}

func testUser(id int64) *tgbotapi.User {
	return &tgbotapi.User{ID: id, FirstName: "Alice", LastName: "Trader", UserName: "alice"}
}

func privateChat(id int64) *tgbotapi.Chat {
	return &tgbotapi.Chat{ID: id, Type: "private"}
}

func groupChat(id int64, title string) *tgbotapi.Chat {
	return &tgbotapi.Chat{ID: id, Type: "supergroup", Title: title}
}

// newMessage builds a message, marking a leading /command the way Telegram does
func newMessage(chat *tgbotapi.Chat, from *tgbotapi.User, text string) *tgbotapi.Message {
	msg := &tgbotapi.Message{MessageID: 1, From: from, Chat: chat, Text: text}
	if strings.HasPrefix(text, "/") {
		cmd := strings.Fields(text)[0]
		msg.Entities = []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(cmd)}}
	}
	return msg
}

// login authenticates userID as an operator
func (e *testEnv) login(t *testing.T, userID int64) {
	t.Helper()
	e.privateText(userID, "/login")
	if res := e.privateText(userID, testPassword); res.Outcome != Handled {
		t.Fatalf("Expected login to succeed, got %v (%v)", res.Outcome, res.Err)
	}
}

// register walks a user through the whole campaign
func (e *testEnv) register(t *testing.T, userID int64, localCoinSwapID string) {
	t.Helper()
	steps := []func() Result{
		func() Result { return e.press(userID, callbackJoinCampaign) },
		func() Result { return e.press(userID, callbackFollowDone) },
		func() Result { return e.privateText(userID, "@handle_"+localCoinSwapID) },
		func() Result { return e.press(userID, callbackCheckMembership) },
		func() Result { return e.privateText(userID, localCoinSwapID) },
	}
	for i, step := range steps {
		if res := step(); res.Outcome != Handled {
			t.Fatalf("Registration step %d failed: %v (%s: %v)", i, res.Outcome, res.Kind, res.Err)
		}
	}
}
