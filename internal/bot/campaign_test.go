package bot

import (
	"context"
	"strings"
	"testing"

	"referralbot/internal/flow"
	"referralbot/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func getUser(t *testing.T, env *testEnv, id int64) *models.User {
	t.Helper()
	u, err := env.db.GetUser(context.Background(), id)
	require.NoError(t, err)
	return u
}

func TestCampaign_FullFlow(t *testing.T) {
	env := newTestEnv(t)
	userID := int64(123)

	require.Equal(t, Handled, env.press(userID, callbackJoinCampaign).Outcome)
	assert.Equal(t, models.StageAwaitingTwitter, getUser(t, env, userID).Stage)
	assert.Equal(t, campaignIntroText, env.api.lastMessageTo(userID))

	require.Equal(t, Handled, env.press(userID, callbackFollowDone).Outcome)
	assert.Equal(t, askXHandleText, env.api.lastMessageTo(userID))

	require.Equal(t, Handled, env.privateText(userID, "  @trader_x ").Outcome)
	u := getUser(t, env, userID)
	assert.Equal(t, models.StageAwaitingMembership, u.Stage)
	assert.Equal(t, "trader_x", u.XHandle)
	assert.Contains(t, env.api.lastMessageTo(userID), "One last step!")

	require.Equal(t, Handled, env.press(userID, callbackCheckMembership).Outcome)
	u = getUser(t, env, userID)
	assert.Equal(t, models.StageAwaitingLocalCoinSwapID, u.Stage)
	assert.True(t, u.IsMember)
	require.Len(t, env.api.edits, 1)
	assert.Equal(t, askLocalCoinSwapIDText, env.api.edits[0].Text)
	assert.Equal(t, 77, env.api.edits[0].MessageID)
	require.Len(t, env.api.memberQueries, 1)
	assert.Equal(t, "@LocalCoinSwapCommunity", env.api.memberQueries[0].SuperGroupUsername)
	assert.Equal(t, userID, env.api.memberQueries[0].UserID)

	require.Equal(t, Handled, env.privateText(userID, "trader42").Outcome)
	u = getUser(t, env, userID)
	assert.Equal(t, models.StageActive, u.Stage)
	assert.Equal(t, "trader42", u.LocalCoinSwapID)
	assert.Equal(t, flow.ReferralCode("trader42"), u.ReferralCode)

	link := flow.ReferralLink(testBotUsername, flow.ReferralCode("trader42"))
	final := env.api.lastMessageTo(userID)
	assert.Contains(t, final, "Registration complete")
	assert.Contains(t, final, md(link))

	regs := env.journal.Registrations()
	require.Len(t, regs, 1)
	assert.Equal(t, userID, regs[0].UserID)
	assert.Zero(t, regs[0].ReferrerID)
}

func TestCampaign_ReferralLinkIsDeterministic(t *testing.T) {
	first := newTestEnv(t)
	first.register(t, 1, "same-id")

	second := newTestEnv(t)
	second.register(t, 2, "same-id")

	assert.Equal(t, getUser(t, first, 1).ReferralCode, getUser(t, second, 2).ReferralCode)
}

func TestCampaign_InvalidXHandle(t *testing.T) {
	env := newTestEnv(t)
	userID := int64(123)
	env.press(userID, callbackJoinCampaign)

	res := env.privateText(userID, "two words")
	assert.Equal(t, KindValidation, res.Kind)
	assert.ErrorIs(t, res.Err, flow.ErrContainsWhitespace)
	assert.Equal(t, models.StageAwaitingTwitter, getUser(t, env, userID).Stage)
	assert.Contains(t, env.api.lastMessageTo(userID), "without spaces")
}

func TestCampaign_NotMember(t *testing.T) {
	env := newTestEnv(t)
	userID := int64(123)
	env.press(userID, callbackJoinCampaign)
	env.privateText(userID, "trader_x")
	env.api.member = tgbotapi.ChatMember{Status: "left"}
	answersBefore := len(env.api.callbackAnswers())

	res := env.press(userID, callbackCheckMembership)
	require.Equal(t, Handled, res.Outcome)

	u := getUser(t, env, userID)
	assert.Equal(t, models.StageAwaitingMembership, u.Stage)
	assert.False(t, u.IsMember)

	answers := env.api.callbackAnswers()[answersBefore:]
	require.Len(t, answers, 1)
	assert.True(t, answers[0].ShowAlert)
	require.Len(t, env.api.edits, 1)
	assert.Equal(t, membershipFailedText, env.api.edits[0].Text)
}

func TestCampaign_RestrictedIsNotMember(t *testing.T) {
	env := newTestEnv(t)
	userID := int64(123)
	env.press(userID, callbackJoinCampaign)
	env.privateText(userID, "trader_x")
	env.api.member = tgbotapi.ChatMember{Status: "restricted"}

	env.press(userID, callbackCheckMembership)
	assert.Equal(t, models.StageAwaitingMembership, getUser(t, env, userID).Stage)
}

func TestCampaign_EditFailureFallsBackToMessage(t *testing.T) {
	env := newTestEnv(t)
	userID := int64(123)
	env.press(userID, callbackJoinCampaign)
	env.privateText(userID, "trader_x")
	env.api.failEdits = &tgbotapi.Error{Code: 400, Message: "Bad Request: message is not modified"}

	res := env.press(userID, callbackCheckMembership)
	require.Equal(t, Handled, res.Outcome)
	assert.Equal(t, askLocalCoinSwapIDText, env.api.lastMessageTo(userID))
}

func TestCampaign_MembershipLookupError(t *testing.T) {
	env := newTestEnv(t)
	userID := int64(123)
	env.press(userID, callbackJoinCampaign)
	env.privateText(userID, "trader_x")
	env.api.memberErr = &tgbotapi.Error{Code: 400, Message: "Bad Request: member list is inaccessible"}
	answersBefore := len(env.api.callbackAnswers())

	res := env.press(userID, callbackCheckMembership)
	assert.Equal(t, Failed, res.Outcome)
	assert.Equal(t, KindConfiguration, res.Kind)
	assert.ErrorIs(t, res.Err, ErrMembershipLookup)

	assert.Equal(t, models.StageAwaitingMembership, getUser(t, env, userID).Stage)

	answers := env.api.callbackAnswers()[answersBefore:]
	require.Len(t, answers, 1)
	assert.True(t, answers[0].ShowAlert)

	report := env.api.lastMessageTo(testOperatorID)
	assert.Contains(t, report, "member list is inaccessible")
	assert.Contains(t, report, "@LocalCoinSwapCommunity")
}

func TestCampaign_LocalCoinSwapIDValidation(t *testing.T) {
	testCases := []struct {
		name    string
		input   string
		wantErr error
		wantMsg string
	}{
		{name: "too short", input: "ab", wantErr: flow.ErrTooShort, wantMsg: "at least 3 characters"},
		{name: "whitespace", input: "my name", wantErr: flow.ErrContainsWhitespace, wantMsg: "can't contain spaces"},
		{name: "too long", input: strings.Repeat("x", flow.MaxLocalCoinSwapIDLength+1), wantErr: flow.ErrTooLong, wantMsg: "at most 32 characters"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv(t)
			userID := int64(123)
			env.press(userID, callbackJoinCampaign)
			env.privateText(userID, "trader_x")
			env.press(userID, callbackCheckMembership)

			res := env.privateText(userID, tc.input)
			assert.Equal(t, KindValidation, res.Kind)
			assert.ErrorIs(t, res.Err, tc.wantErr)
			assert.Contains(t, env.api.lastMessageTo(userID), tc.wantMsg)
			assert.Equal(t, models.StageAwaitingLocalCoinSwapID, getUser(t, env, userID).Stage)
		})
	}
}

func TestCampaign_DuplicateLocalCoinSwapID(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, 1, "trader42")

	env.press(2, callbackJoinCampaign)
	env.privateText(2, "other_handle")
	env.press(2, callbackCheckMembership)

	res := env.privateText(2, "trader42")
	assert.Equal(t, Failed, res.Outcome)
	assert.Equal(t, KindConflict, res.Kind)
	assert.Contains(t, env.api.lastMessageTo(2), "already registered")
	assert.Equal(t, models.StageAwaitingLocalCoinSwapID, getUser(t, env, 2).Stage)

	// A different id still works afterwards
	require.Equal(t, Handled, env.privateText(2, "trader43").Outcome)
	assert.Equal(t, models.StageActive, getUser(t, env, 2).Stage)
}

func TestCampaign_ReferralCredited(t *testing.T) {
	env := newTestEnv(t)
	referrerID := int64(10)
	env.register(t, referrerID, "referrer")
	code := getUser(t, env, referrerID).ReferralCode

	newcomer := int64(20)
	env.privateText(newcomer, "/start ref_"+code)
	u := getUser(t, env, newcomer)
	require.NotNil(t, u.ReferredBy)
	assert.Equal(t, referrerID, *u.ReferredBy)

	env.register(t, newcomer, "newcomer")

	assert.Equal(t, 1, getUser(t, env, referrerID).ReferralCount)
	notice := env.api.lastMessageTo(referrerID)
	assert.Contains(t, notice, "just completed registration")
	assert.Contains(t, notice, "*1*")

	regs := env.journal.Registrations()
	require.Len(t, regs, 2)
	assert.Equal(t, referrerID, regs[1].ReferrerID)

	board, err := env.db.Leaderboard(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, board, 2)
	assert.Equal(t, referrerID, board[0].UserID)
}

func TestCampaign_ReferrerNeverOverwritten(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, 10, "first-ref")
	env.register(t, 11, "second-ref")

	env.privateText(20, "/start ref_"+getUser(t, env, 10).ReferralCode)
	env.privateText(20, "/start ref_"+getUser(t, env, 11).ReferralCode)

	u := getUser(t, env, 20)
	require.NotNil(t, u.ReferredBy)
	assert.Equal(t, int64(10), *u.ReferredBy)
}

func TestCampaign_ReferralIgnoredCases(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, 10, "self-ref")

	// Self-referral
	env.privateText(10, "/start ref_"+getUser(t, env, 10).ReferralCode)
	assert.Nil(t, getUser(t, env, 10).ReferredBy)

	// Unknown and malformed codes
	env.privateText(20, "/start ref_"+flow.ReferralCode("nobody"))
	env.privateText(20, "/start ref_!!!")
	env.privateText(20, "/start hello")
	assert.Nil(t, getUser(t, env, 20).ReferredBy)
}

func TestCampaign_JoinWhileInProgress(t *testing.T) {
	env := newTestEnv(t)
	userID := int64(123)
	env.press(userID, callbackJoinCampaign)
	env.privateText(userID, "trader_x")

	res := env.press(userID, callbackJoinCampaign)
	require.Equal(t, Handled, res.Outcome)
	assert.Equal(t, models.StageAwaitingMembership, getUser(t, env, userID).Stage)
	assert.Contains(t, env.api.lastMessageTo(userID), "One last step!")
}

func TestCampaign_JoinWhileActive(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, 1, "trader42")

	env.press(1, callbackJoinCampaign)
	assert.Contains(t, env.api.lastMessageTo(1), "already registered")
	assert.Equal(t, models.StageActive, getUser(t, env, 1).Stage)
}

func TestCampaign_FollowDoneFromIdle(t *testing.T) {
	env := newTestEnv(t)

	require.Equal(t, Handled, env.press(1, callbackFollowDone).Outcome)
	assert.Equal(t, models.StageAwaitingTwitter, getUser(t, env, 1).Stage)
	assert.Equal(t, askXHandleText, env.api.lastMessageTo(1))
}

func TestCampaign_ButtonPressedInGroupAnswersPrivately(t *testing.T) {
	env := newTestEnv(t)

	res := env.handle(tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{
		ID:      "cb-group",
		From:    testUser(55),
		Message: &tgbotapi.Message{MessageID: 9, Chat: groupChat(-100999, "Traders")},
		Data:    callbackJoinCampaign,
	}})
	require.Equal(t, Handled, res.Outcome)

	assert.Empty(t, env.api.messagesTo(-100999))
	assert.Equal(t, campaignIntroText, env.api.lastMessageTo(55))
}

func TestCampaign_LeaderboardAndMyRef(t *testing.T) {
	env := newTestEnv(t)

	env.privateText(1, "/leaderboard")
	assert.Contains(t, env.api.lastMessageTo(1), "No registrations yet")

	env.privateText(1, "/myref")
	assert.Contains(t, env.api.lastMessageTo(1), "don't have a referral link yet")

	env.register(t, 1, "trader42")
	env.privateText(1, "/leaderboard")
	board := env.api.lastMessageTo(1)
	assert.Contains(t, board, "🥇 @alice: 0")

	env.press(1, callbackMyReferral)
	assert.Contains(t, env.api.lastMessageTo(1), md(flow.ReferralLink(testBotUsername, flow.ReferralCode("trader42"))))
}

func TestCampaign_StaticCallbacks(t *testing.T) {
	testCases := []struct {
		data string
		want string
	}{
		{data: callbackCreateAccount, want: "create your LocalCoinSwap account"},
		{data: callbackSellUSDT, want: "Sell USDT"},
		{data: callbackBuyUSDT, want: "Buy USDT"},
		{data: callbackMainMenu, want: "Personal LocalCoinSwap Assistant"},
	}

	for _, tc := range testCases {
		t.Run(tc.data, func(t *testing.T) {
			env := newTestEnv(t)
			require.Equal(t, Handled, env.press(1, tc.data).Outcome)
			assert.Contains(t, env.api.lastMessageTo(1), tc.want)
		})
	}
}

func TestLeaderboardText(t *testing.T) {
	text := leaderboardText([]models.LeaderboardEntry{
		{Rank: 1, UserID: 1, Username: "top_dog", ReferralCount: 7},
		{Rank: 2, UserID: 2, DisplayName: "Bob", ReferralCount: 5},
		{Rank: 4, UserID: 4, DisplayName: "Dee", ReferralCount: 1},
	})

	assert.Contains(t, text, "🥇 @top\\_dog: 7")
	assert.Contains(t, text, "🥈 Bob: 5")
	assert.Contains(t, text, "4. Dee: 1")
}
