package bot

import (
	"context"
	"testing"

	"referralbot/internal/models"
	"referralbot/internal/session"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

func TestBot_PanicRecovery(t *testing.T) {
	api := newFakeAPI()

	// A bot without storage panics on the first profile upsert
	bot := newBot(api, tgbotapi.User{ID: testBotID}, nil, session.NewMemory(), nil, testSettings(), zap.NewNop())

	userID := int64(123)
	message := newMessage(privateChat(userID), testUser(userID), "hello")

	defer func() {
		if r := recover(); r != nil {
			t.Errorf("HandleUpdate panicked: %v", r)
		}
	}()

	res := bot.HandleUpdate(context.Background(), tgbotapi.Update{Message: message})

	if res.Outcome != Failed || res.Kind != KindInternal {
		t.Errorf("Expected failed/internal, got %v/%s", res.Outcome, res.Kind)
	}
	if got := api.lastMessageTo(userID); got != "An error occurred while processing your request. Please try again." {
		t.Errorf("Expected error reply, got %q", got)
	}
}

func TestBot_StartInterruptsOnboarding(t *testing.T) {
	env := newTestEnv(t)
	userID := int64(123)

	env.press(userID, callbackJoinCampaign)

	user, err := env.db.GetUser(context.Background(), userID)
	if err != nil {
		t.Fatalf("Failed to get user: %v", err)
	}
	if user.Stage != models.StageAwaitingTwitter {
		t.Fatalf("Expected stage %s, got %s", models.StageAwaitingTwitter, user.Stage)
	}

	env.privateText(userID, "/start")

	user, err = env.db.GetUser(context.Background(), userID)
	if err != nil {
		t.Fatalf("Failed to get user: %v", err)
	}
	if user.Stage != models.StageIdle {
		t.Errorf("Expected /start to reset the stage to idle, got %s", user.Stage)
	}
	if got := env.api.lastMessageTo(userID); got != mainMenuText {
		t.Errorf("Expected main menu, got %q", got)
	}

	// Text after the reset is not taken as an X handle
	env.privateText(userID, "someone")
	user, _ = env.db.GetUser(context.Background(), userID)
	if user.XHandle != "" {
		t.Errorf("Expected no X handle to be stored, got %q", user.XHandle)
	}
}

func TestBot_StartIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	userID := int64(123)

	for i := 0; i < 3; i++ {
		if res := env.privateText(userID, "/start"); res.Outcome != Handled {
			t.Fatalf("Expected /start to be handled, got %v (%v)", res.Outcome, res.Err)
		}
	}

	users, err := env.db.ListUsers(context.Background())
	if err != nil {
		t.Fatalf("Failed to list users: %v", err)
	}
	if len(users) != 1 {
		t.Fatalf("Expected exactly one user record, got %d", len(users))
	}
	if users[0].Stage != models.StageIdle {
		t.Errorf("Expected stage idle, got %s", users[0].Stage)
	}
	if users[0].DisplayName != "Alice Trader" {
		t.Errorf("Expected display name to be stored, got %q", users[0].DisplayName)
	}
	if got := len(env.api.messagesTo(userID)); got != 3 {
		t.Errorf("Expected one menu per /start, got %d messages", got)
	}
}

func TestBot_StartKeepsActiveRegistration(t *testing.T) {
	env := newTestEnv(t)
	userID := int64(123)
	env.register(t, userID, "trader42")

	env.privateText(userID, "/start")

	user, err := env.db.GetUser(context.Background(), userID)
	if err != nil {
		t.Fatalf("Failed to get user: %v", err)
	}
	if user.Stage != models.StageActive {
		t.Errorf("Expected active user to stay active, got %s", user.Stage)
	}
}

func TestBot_GroupChatterIgnored(t *testing.T) {
	env := newTestEnv(t)

	message := newMessage(groupChat(-100123456789, "Traders"), testUser(555), "hello everyone")
	res := env.handle(tgbotapi.Update{Message: message})

	if res.Outcome != Ignored {
		t.Errorf("Expected group text to be ignored, got %v", res.Outcome)
	}
	if n := env.api.messageCount(); n != 0 {
		t.Errorf("Expected no messages, got %d", n)
	}

	users, _ := env.db.ListUsers(context.Background())
	if len(users) != 0 {
		t.Errorf("Expected group senders not to be stored, got %d users", len(users))
	}
}

func TestBot_UnknownTextShowsMenu(t *testing.T) {
	env := newTestEnv(t)
	userID := int64(123)

	if res := env.privateText(userID, "what is this?"); res.Outcome != Handled {
		t.Fatalf("Expected text to be handled, got %v", res.Outcome)
	}
	if got := env.api.lastMessageTo(userID); got != menuPromptText {
		t.Errorf("Expected menu prompt, got %q", got)
	}

	env.privateText(userID, "/doesnotexist")
	if got := env.api.lastMessageTo(userID); got != menuPromptText {
		t.Errorf("Expected menu prompt for unknown command, got %q", got)
	}
}

func TestBot_CallbackAnsweredOnce(t *testing.T) {
	testCases := []struct {
		name string
		data string
	}{
		{name: "unknown", data: "no_such_button"},
		{name: "main menu", data: callbackMainMenu},
		{name: "membership check", data: callbackCheckMembership},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.press(123, tc.data)

			if got := len(env.api.callbackAnswers()); got != 1 {
				t.Errorf("Expected exactly one callback answer, got %d", got)
			}
		})
	}
}

func TestBot_MessageWithoutSenderIgnored(t *testing.T) {
	env := newTestEnv(t)

	res := env.handle(tgbotapi.Update{Message: &tgbotapi.Message{Chat: privateChat(1), Text: "hi"}})
	if res.Outcome != Ignored {
		t.Errorf("Expected message without sender to be ignored, got %v", res.Outcome)
	}

	res = env.handle(tgbotapi.Update{})
	if res.Outcome != Ignored {
		t.Errorf("Expected empty update to be ignored, got %v", res.Outcome)
	}
}
