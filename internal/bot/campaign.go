package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"referralbot/internal/flow"
	"referralbot/internal/journal"
	"referralbot/internal/models"
	"referralbot/internal/session"
	"referralbot/internal/storage"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// Callback data of the inline buttons
const (
	callbackCreateAccount   = "create_account"
	callbackJoinCampaign    = "join_campaign"
	callbackFollowDone      = "follow_done"
	callbackCheckMembership = "check_membership"
	callbackSellUSDT        = "sell_usdt"
	callbackBuyUSDT         = "buy_usdt"
	callbackMainMenu        = "main_menu"
	callbackLeaderboard     = "leaderboard"
	callbackMyReferral      = "my_referral"
)

// leaderboardSize is how many referrers the chat leaderboard shows
const leaderboardSize = 10

const (
	mainMenuText = "👋 I am your *Personal LocalCoinSwap Assistant*\n\n" +
		"Which of these would you love me to help you with today?"

	campaignIntroText = "🎉 *Welcome to the LocalCoinSwap Referral Campaign!*\n\n" +
		"Invite other P2P traders to LocalCoinSwap and climb the leaderboard.\n\n" +
		"🏆 *Top Referrers Win:*\n🥇 $100 | 🥈 $60 | 🥉 $40\n\n" +
		"To get started, follow our X account below 👇"

	askXHandleText = "Please enter your *X (Twitter) username* (without @)."

	askLocalCoinSwapIDText = "🥳 *Membership Confirmed!* 👏\n\n" +
		"Welcome to the community!\n\n" +
		"Last step: please enter your *LocalCoinSwap username* so I can create your referral link."

	membershipFailedText = "❌ *Membership check failed.*\n\n" +
		"I couldn't find you in our Telegram Community yet. Please join using the button below, then tap *I have joined* again."

	menuPromptText = "Please use the menu below 👇"
)

func (b *Bot) mainMenuKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("🆕 Create Account", callbackCreateAccount),
			tgbotapi.NewInlineKeyboardButtonData("🎯 Join Campaign", callbackJoinCampaign),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("💸 Sell USDT", callbackSellUSDT),
			tgbotapi.NewInlineKeyboardButtonData("🟢 Buy USDT", callbackBuyUSDT),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("🏆 Leaderboard", callbackLeaderboard),
			tgbotapi.NewInlineKeyboardButtonData("🔗 My Referral Link", callbackMyReferral),
		),
	)
}

func mainMenuRow() []tgbotapi.InlineKeyboardButton {
	return tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("🏠 Main Menu", callbackMainMenu))
}

func (b *Bot) sendMainMenu(chatID int64) SendResult {
	keyboard := b.mainMenuKeyboard()
	return b.replyMarkdown(chatID, mainMenuText, &keyboard)
}

func (b *Bot) sendCampaignIntro(chatID int64) SendResult {
	keyboard := tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonURL("🐦 Follow our X", b.settings.XURL)),
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("✅ Done", callbackFollowDone)),
		mainMenuRow(),
	)
	return b.replyMarkdown(chatID, campaignIntroText, &keyboard)
}

func (b *Bot) communityKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonURL("💬 Join Telegram Community", b.settings.CommunityURL)),
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("✅ I have joined", callbackCheckMembership)),
	)
}

func (b *Bot) sendJoinCommunity(chatID int64, xHandle string, user *models.User) SendResult {
	telegram := user.DisplayName
	if user.Username != "" {
		telegram = "@" + user.Username
	}
	text := fmt.Sprintf("Perfect! ✅\n\nX Username: *@%s*\nTelegram: *%s*\n\n"+
		"One last step! Join our Telegram Community, then tap the button below so I can verify it.",
		md(xHandle), md(telegram))
	keyboard := b.communityKeyboard()
	return b.replyMarkdown(chatID, text, &keyboard)
}

func (b *Bot) sendAskLocalCoinSwapID(chatID int64) SendResult {
	return b.replyMarkdown(chatID, askLocalCoinSwapIDText, nil)
}

func (b *Bot) referralText(user *models.User) string {
	link := flow.ReferralLink(b.Username(), user.ReferralCode)
	return fmt.Sprintf("🔗 *Your referral link*\n%s\n\nShare it with other P2P traders. Referrals so far: *%d*",
		md(link), user.ReferralCount)
}

// resendPrompt repeats whatever the user's current stage is waiting for
func (b *Bot) resendPrompt(chatID int64, user *models.User) Result {
	switch s := flow.FromUser(user).(type) {
	case flow.AwaitingTwitter:
		return sent(b.sendCampaignIntro(chatID))
	case flow.AwaitingMembershipCheck:
		return sent(b.sendJoinCommunity(chatID, s.XHandle, user))
	case flow.AwaitingLocalCoinSwapID:
		return sent(b.sendAskLocalCoinSwapID(chatID))
	case flow.Active:
		keyboard := tgbotapi.NewInlineKeyboardMarkup(mainMenuRow())
		return sent(b.replyMarkdown(chatID, "✅ You are already registered!\n\n"+b.referralText(user), &keyboard))
	default:
		return sent(b.sendMainMenu(chatID))
	}
}

// reloadAndResend handles a stage guard miss: another update moved the user first
func (b *Bot) reloadAndResend(ctx context.Context, chatID, userID int64) Result {
	user, err := b.db.GetUser(ctx, userID)
	if err != nil {
		b.logger.Error("Failed to reload user", zap.Error(err), zap.Int64("user_id", userID))
		return b.storageFailure(chatID, err)
	}
	return b.resendPrompt(chatID, user)
}

// handleStart shows the main menu and records a referral from the deep link payload
func (b *Bot) handleStart(req *request) Result {
	user := req.user
	if user == nil {
		return sent(b.sendMainMenu(req.chatID()))
	}

	if code, ok := flow.ParseStartPayload(req.message.CommandArguments()); ok {
		b.applyReferral(req.ctx, user, code)
	}

	state := flow.FromUser(user)
	if next := flow.Start(state); next.Stage() != state.Stage() {
		if err := b.db.ResetStage(req.ctx, user.ID); err != nil {
			b.logger.Error("Failed to reset stage", zap.Error(err), zap.Int64("user_id", user.ID))
		}
	}

	if req.session == session.AwaitingPassword {
		if err := b.sessions.Clear(req.ctx, user.ID); err != nil {
			b.logger.Warn("Failed to clear password prompt", zap.Error(err), zap.Int64("user_id", user.ID))
		}
	}

	return sent(b.sendMainMenu(req.chatID()))
}

// applyReferral records who invited the user. An existing referrer is never replaced.
func (b *Bot) applyReferral(ctx context.Context, user *models.User, code string) {
	referrer, err := b.db.GetUserByReferralCode(ctx, code)
	if errors.Is(err, storage.ErrNotFound) {
		b.logger.Info("Unknown referral code", zap.String("code", code), zap.Int64("user_id", user.ID))
		return
	}
	if err != nil {
		b.logger.Error("Failed to resolve referral code", zap.Error(err), zap.String("code", code))
		return
	}
	if referrer.ID == user.ID {
		return
	}

	set, err := b.db.SetReferrer(ctx, user.ID, referrer.ID)
	if err != nil {
		b.logger.Error("Failed to set referrer", zap.Error(err), zap.Int64("user_id", user.ID))
		return
	}
	if set {
		b.logger.Info("Referral recorded",
			zap.Int64("user_id", user.ID),
			zap.Int64("referrer_id", referrer.ID),
		)
	}
}

// handleHelp lists what the bot can do
func (b *Bot) handleHelp(req *request) Result {
	text := "*LocalCoinSwap Assistant*\n\n" +
		"/start - open the main menu\n" +
		"/leaderboard - show the top referrers\n" +
		"/myref - show your referral link\n" +
		"/getid - show the current chat id\n" +
		"/help - show this message"
	if req.session == session.Authenticated {
		text += "\n\n" + operatorHelp
	}
	return sent(b.replyMarkdown(req.chatID(), text, nil))
}

// handleMenuPrompt answers text that no step is waiting for
func (b *Bot) handleMenuPrompt(req *request) Result {
	keyboard := b.mainMenuKeyboard()
	return sent(b.replyMarkdown(req.chatID(), menuPromptText, &keyboard))
}

// handleXHandle stores the X handle and asks the user to join the community
func (b *Bot) handleXHandle(req *request) Result {
	next, err := flow.SubmitXHandle(flow.FromUser(req.user), req.message.Text)
	switch {
	case errors.Is(err, flow.ErrWrongStage):
		return b.resendPrompt(req.chatID(), req.user)
	case err != nil:
		b.replyMarkdown(req.chatID(), "⚠️ Please send just your X username, without spaces. "+askXHandleText, nil)
		return failed(KindValidation, err)
	}

	handle := next.(flow.AwaitingMembershipCheck).XHandle
	if err := b.db.SaveXHandle(req.ctx, req.user.ID, handle); err != nil {
		if errors.Is(err, storage.ErrStageMismatch) {
			return b.reloadAndResend(req.ctx, req.chatID(), req.user.ID)
		}
		b.logger.Error("Failed to save X handle", zap.Error(err), zap.Int64("user_id", req.user.ID))
		return b.storageFailure(req.chatID(), err)
	}

	return sent(b.sendJoinCommunity(req.chatID(), handle, req.user))
}

// handleLocalCoinSwapID completes the registration and hands out the referral link
func (b *Bot) handleLocalCoinSwapID(req *request) Result {
	minLength := b.settings.MinLocalCoinSwapIDLength
	next, err := flow.SubmitLocalCoinSwapID(flow.FromUser(req.user), req.message.Text, minLength)
	switch {
	case errors.Is(err, flow.ErrWrongStage):
		return b.resendPrompt(req.chatID(), req.user)
	case err != nil:
		b.reply(req.chatID(), localCoinSwapIDProblem(err, minLength))
		return failed(KindValidation, err)
	}

	active := next.(flow.Active)
	reg, err := b.db.CompleteRegistration(req.ctx, req.user.ID, active.LocalCoinSwapID, active.ReferralCode)
	switch {
	case errors.Is(err, storage.ErrConflict):
		b.reply(req.chatID(), "⚠️ This LocalCoinSwap username is already registered. Please double-check it and send it again.")
		return failed(KindConflict, err)
	case errors.Is(err, storage.ErrStageMismatch):
		return b.reloadAndResend(req.ctx, req.chatID(), req.user.ID)
	case err != nil:
		b.logger.Error("Failed to complete registration", zap.Error(err), zap.Int64("user_id", req.user.ID))
		return b.storageFailure(req.chatID(), err)
	}

	b.logger.Info("Registration completed",
		zap.Int64("user_id", reg.User.ID),
		zap.String("localcoinswap_id", reg.User.LocalCoinSwapID),
	)
	b.recordRegistration(req.ctx, reg)
	b.notifyReferrer(req.ctx, reg)

	keyboard := tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("🏆 Leaderboard", callbackLeaderboard)),
		mainMenuRow(),
	)
	return sent(b.replyMarkdown(req.chatID(), "🎉 *Registration complete!*\n\n"+b.referralText(&reg.User), &keyboard))
}

func localCoinSwapIDProblem(err error, minLength int) string {
	if minLength <= 0 {
		minLength = flow.DefaultMinLocalCoinSwapIDLength
	}
	switch {
	case errors.Is(err, flow.ErrContainsWhitespace):
		return "⚠️ Your LocalCoinSwap username can't contain spaces. Please send it again."
	case errors.Is(err, flow.ErrTooShort):
		return fmt.Sprintf("⚠️ That's too short. Your LocalCoinSwap username has at least %d characters.", minLength)
	case errors.Is(err, flow.ErrTooLong):
		return fmt.Sprintf("⚠️ That's too long. Your LocalCoinSwap username has at most %d characters.", flow.MaxLocalCoinSwapIDLength)
	default:
		return "⚠️ Please send your LocalCoinSwap username."
	}
}

func (b *Bot) recordRegistration(ctx context.Context, reg *models.Registration) {
	rec := journal.RegistrationRecord{
		UserID:          reg.User.ID,
		LocalCoinSwapID: reg.User.LocalCoinSwapID,
		RegisteredAt:    time.Now(),
	}
	if reg.ReferrerID != nil {
		rec.ReferrerID = *reg.ReferrerID
	}
	if err := b.journal.RecordRegistration(context.WithoutCancel(ctx), rec); err != nil {
		b.logger.Warn("Failed to journal registration", zap.Error(err), zap.Int64("user_id", reg.User.ID))
	}
}

// notifyReferrer tells the referrer their count went up
func (b *Bot) notifyReferrer(ctx context.Context, reg *models.Registration) {
	if reg.ReferrerID == nil {
		return
	}
	referrer, err := b.db.GetUser(ctx, *reg.ReferrerID)
	if err != nil {
		b.logger.Warn("Failed to load referrer", zap.Error(err), zap.Int64("referrer_id", *reg.ReferrerID))
		return
	}
	b.replyMarkdown(referrer.ChatID, fmt.Sprintf(
		"🎉 *%s* just completed registration with your referral link!\nYou now have *%d* referral(s).",
		md(reg.User.DisplayName), referrer.ReferralCount,
	), nil)
}

// handleLeaderboardCommand shows the top referrers
func (b *Bot) handleLeaderboardCommand(req *request) Result {
	return b.sendLeaderboard(req.ctx, req.chatID())
}

// handleMyReferralCommand shows the user's own referral link
func (b *Bot) handleMyReferralCommand(req *request) Result {
	return b.sendMyReferral(req.chatID(), req.user)
}

func (b *Bot) sendLeaderboard(ctx context.Context, chatID int64) Result {
	entries, err := b.db.Leaderboard(ctx, leaderboardSize)
	if err != nil {
		b.logger.Error("Failed to load leaderboard", zap.Error(err))
		return b.storageFailure(chatID, err)
	}
	keyboard := tgbotapi.NewInlineKeyboardMarkup(mainMenuRow())
	return sent(b.replyMarkdown(chatID, leaderboardText(entries), &keyboard))
}

func leaderboardText(entries []models.LeaderboardEntry) string {
	var sb strings.Builder
	sb.WriteString("🏆 *Referral Leaderboard*\n\n")
	if len(entries) == 0 {
		sb.WriteString("No registrations yet. Join the campaign and be the first!")
		return sb.String()
	}

	medals := []string{"🥇", "🥈", "🥉"}
	for _, e := range entries {
		place := fmt.Sprintf("%d.", e.Rank)
		if e.Rank >= 1 && e.Rank <= len(medals) {
			place = medals[e.Rank-1]
		}
		name := e.DisplayName
		if e.Username != "" {
			name = "@" + e.Username
		}
		fmt.Fprintf(&sb, "%s %s: %d\n", place, md(name), e.ReferralCount)
	}
	sb.WriteString("\n🏆 *Top Referrers Win:* 🥇 $100 | 🥈 $60 | 🥉 $40")
	return sb.String()
}

func (b *Bot) sendMyReferral(chatID int64, user *models.User) Result {
	if user == nil {
		return b.storageFailure(chatID, nil)
	}
	if user.Stage != models.StageActive {
		keyboard := tgbotapi.NewInlineKeyboardMarkup(
			tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("🎯 Join Campaign", callbackJoinCampaign)),
		)
		return sent(b.replyMarkdown(chatID, "You don't have a referral link yet. Join the campaign to get one!", &keyboard))
	}
	keyboard := tgbotapi.NewInlineKeyboardMarkup(mainMenuRow())
	return sent(b.replyMarkdown(chatID, b.referralText(user), &keyboard))
}

// handleCreateAccount links to the LocalCoinSwap signup page
func (b *Bot) handleCreateAccount(c *callbackRequest) Result {
	keyboard := tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonURL("🔗 Sign Up", b.settings.SignupURL)),
		mainMenuRow(),
	)
	return sent(b.replyMarkdown(c.chatID(), "🚀 Awesome! Click below to create your LocalCoinSwap account.", &keyboard))
}

func (b *Bot) handleSellUSDT(c *callbackRequest) Result {
	keyboard := tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonURL("🔴 Sell USDT Now", b.settings.SignupURL)),
		mainMenuRow(),
	)
	return sent(b.replyMarkdown(c.chatID(),
		"💸 *Sell USDT* directly to other traders with the payment method you prefer. Escrow keeps every trade safe.",
		&keyboard))
}

func (b *Bot) handleBuyUSDT(c *callbackRequest) Result {
	keyboard := tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonURL("🟢 Buy USDT Now", b.settings.SignupURL)),
		mainMenuRow(),
	)
	return sent(b.replyMarkdown(c.chatID(),
		"🟢 *Buy USDT* from verified sellers using hundreds of payment methods. Escrow keeps every trade safe.",
		&keyboard))
}

func (b *Bot) handleMainMenu(c *callbackRequest) Result {
	return sent(b.sendMainMenu(c.chatID()))
}

func (b *Bot) handleLeaderboardCallback(c *callbackRequest) Result {
	return b.sendLeaderboard(c.ctx, c.chatID())
}

func (b *Bot) handleMyReferralCallback(c *callbackRequest) Result {
	return b.sendMyReferral(c.chatID(), c.user)
}

// handleJoinCampaign starts onboarding, or repeats the current step for users already in it
func (b *Bot) handleJoinCampaign(c *callbackRequest) Result {
	if c.user == nil {
		return b.storageFailure(c.chatID(), nil)
	}

	if _, err := flow.JoinCampaign(flow.FromUser(c.user)); err != nil {
		return b.resendPrompt(c.chatID(), c.user)
	}

	if err := b.db.BeginCampaign(c.ctx, c.user.ID); err != nil {
		if errors.Is(err, storage.ErrStageMismatch) {
			return b.reloadAndResend(c.ctx, c.chatID(), c.user.ID)
		}
		b.logger.Error("Failed to begin campaign", zap.Error(err), zap.Int64("user_id", c.user.ID))
		return b.storageFailure(c.chatID(), err)
	}

	return sent(b.sendCampaignIntro(c.chatID()))
}

// handleFollowDone asks for the X handle
func (b *Bot) handleFollowDone(c *callbackRequest) Result {
	if c.user == nil {
		return b.storageFailure(c.chatID(), nil)
	}

	switch flow.FromUser(c.user).(type) {
	case flow.AwaitingTwitter:
	case flow.Idle:
		// Pressed on an old intro message after /start reset the stage
		if err := b.db.BeginCampaign(c.ctx, c.user.ID); err != nil && !errors.Is(err, storage.ErrStageMismatch) {
			b.logger.Error("Failed to begin campaign", zap.Error(err), zap.Int64("user_id", c.user.ID))
			return b.storageFailure(c.chatID(), err)
		}
	default:
		return b.resendPrompt(c.chatID(), c.user)
	}

	return sent(b.replyMarkdown(c.chatID(), askXHandleText, nil))
}

// handleCheckMembership verifies the community membership and moves on to the last step
func (b *Bot) handleCheckMembership(c *callbackRequest) Result {
	if c.user == nil {
		c.answer("⚠️ Something went wrong on our side. Please try again in a moment.", true)
		return failed(KindStorage, errUserUnavailable)
	}

	state := flow.FromUser(c.user)
	if _, ok := state.(flow.AwaitingMembershipCheck); !ok {
		return b.resendPrompt(c.chatID(), c.user)
	}

	status, err := b.VerifyMembership(c.ctx, c.user.ID)
	if err != nil {
		c.answer("⚠️ I couldn't verify your membership right now. Please try again in a few minutes.", true)
		b.reportProblem(fmt.Sprintf(
			"Membership check in %s failed for user %d: %s. Make sure the bot is a member or administrator of the community chat.",
			b.settings.CommunityChatID, c.user.ID, errorDescription(err),
		))
		return failed(KindConfiguration, err)
	}

	if _, err := flow.MembershipChecked(state, status.IsMember); err != nil {
		return b.resendPrompt(c.chatID(), c.user)
	}

	if err := b.db.SetMembership(c.ctx, c.user.ID, status.IsMember); err != nil {
		if errors.Is(err, storage.ErrStageMismatch) {
			return b.reloadAndResend(c.ctx, c.chatID(), c.user.ID)
		}
		b.logger.Error("Failed to save membership", zap.Error(err), zap.Int64("user_id", c.user.ID))
		c.answer("⚠️ Something went wrong on our side. Please try again in a moment.", true)
		return failed(KindStorage, err)
	}

	if !status.IsMember {
		c.answer("❌ Please join the community first to proceed.", true)
		keyboard := b.communityKeyboard()
		return sent(b.editOrReply(c, membershipFailedText, &keyboard))
	}

	c.answer("✅ Membership confirmed!", false)
	return sent(b.editOrReply(c, askLocalCoinSwapIDText, nil))
}

// editOrReply updates the message holding the pressed button, or sends a new one when that is not possible
func (b *Bot) editOrReply(c *callbackRequest, text string, keyboard *tgbotapi.InlineKeyboardMarkup) SendResult {
	if c.editable() {
		var edit tgbotapi.EditMessageTextConfig
		if keyboard != nil {
			edit = tgbotapi.NewEditMessageTextAndMarkup(c.chatID(), c.query.Message.MessageID, text, *keyboard)
		} else {
			edit = tgbotapi.NewEditMessageText(c.chatID(), c.query.Message.MessageID, text)
		}
		edit.ParseMode = tgbotapi.ModeMarkdown
		if res := b.send(edit); res.OK() {
			return res
		}
	}
	return b.replyMarkdown(c.chatID(), text, keyboard)
}

// reportProblem forwards an operational problem to the operator chat
func (b *Bot) reportProblem(text string) {
	b.logger.Error("Operational problem", zap.String("problem", text))
	if b.settings.OperatorChatID == 0 {
		return
	}
	b.reply(b.settings.OperatorChatID, "⚠️ "+text)
}
