package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"referralbot/internal/flow"
	"referralbot/internal/models"
	"referralbot/internal/session"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// Outcome tags how an update was handled
type Outcome int

const (
	Handled Outcome = iota
	Ignored
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Handled:
		return "handled"
	case Ignored:
		return "ignored"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// ErrorKind classifies failed outcomes
type ErrorKind string

const (
	KindNone          ErrorKind = ""
	KindValidation    ErrorKind = "validation"
	KindUnauthorized  ErrorKind = "unauthorized"
	KindConflict      ErrorKind = "conflict"
	KindStorage       ErrorKind = "storage"
	KindTransport     ErrorKind = "transport"
	KindConfiguration ErrorKind = "configuration"
	KindInternal      ErrorKind = "internal"
)

// Result is what every handler returns
type Result struct {
	Outcome Outcome
	Kind    ErrorKind
	Err     error
}

func handled() Result {
	return Result{Outcome: Handled}
}

func ignored() Result {
	return Result{Outcome: Ignored}
}

func failed(kind ErrorKind, err error) Result {
	return Result{Outcome: Failed, Kind: kind, Err: err}
}

// sent turns the final outbound call of a handler into its result
func sent(r SendResult) Result {
	if r.Err != nil {
		return failed(KindTransport, r.Err)
	}
	return handled()
}

// request is one inbound text message together with what is known about its sender
type request struct {
	ctx     context.Context
	message *tgbotapi.Message
	// user is nil in group chats and when the store could not be reached
	user    *models.User
	session session.State
}

func (r *request) chatID() int64 {
	return r.message.Chat.ID
}

func (r *request) userID() int64 {
	return r.message.From.ID
}

type command struct {
	handle func(r *request) Result
	// global commands also work in groups
	global       bool
	operatorOnly bool
}

// callbackRequest is one inline button press. The query is answered exactly once.
type callbackRequest struct {
	ctx      context.Context
	bot      *Bot
	query    *tgbotapi.CallbackQuery
	user     *models.User
	answered bool
}

type callbackHandler func(c *callbackRequest) Result

// chatID is the private chat of the presser. Buttons pressed in groups are answered privately.
func (c *callbackRequest) chatID() int64 {
	return c.query.From.ID
}

// answer acknowledges the button press, optionally with a toast or an alert
func (c *callbackRequest) answer(text string, alert bool) SendResult {
	if c.answered {
		return SendResult{}
	}
	c.answered = true
	if alert {
		return c.bot.request(tgbotapi.NewCallbackWithAlert(c.query.ID, text))
	}
	return c.bot.request(tgbotapi.NewCallback(c.query.ID, text))
}

// editable reports whether the pressed button sits on a message in the presser's private chat
func (c *callbackRequest) editable() bool {
	m := c.query.Message
	return m != nil && m.Chat != nil && m.Chat.ID == c.chatID()
}

func (b *Bot) registerHandlers() {
	b.commands = map[string]command{
		"getid":       {handle: b.handleGetID, global: true},
		"start":       {handle: b.handleStart},
		"help":        {handle: b.handleHelp},
		"login":       {handle: b.handleLogin},
		"logout":      {handle: b.handleLogout},
		"send":        {handle: b.handleSend, operatorOnly: true},
		"listgroups":  {handle: b.handleListGroups, operatorOnly: true},
		"message":     {handle: b.handleGroupMessage, operatorOnly: true},
		"leaderboard": {handle: b.handleLeaderboardCommand},
		"myref":       {handle: b.handleMyReferralCommand},
	}

	b.callbacks = map[string]callbackHandler{
		callbackCreateAccount:   b.handleCreateAccount,
		callbackJoinCampaign:    b.handleJoinCampaign,
		callbackFollowDone:      b.handleFollowDone,
		callbackCheckMembership: b.handleCheckMembership,
		callbackSellUSDT:        b.handleSellUSDT,
		callbackBuyUSDT:         b.handleBuyUSDT,
		callbackMainMenu:        b.handleMainMenu,
		callbackLeaderboard:     b.handleLeaderboardCallback,
		callbackMyReferral:      b.handleMyReferralCallback,
	}
}

// HandleUpdate routes one inbound update to its handler
func (b *Bot) HandleUpdate(ctx context.Context, update tgbotapi.Update) Result {
	var res Result
	switch {
	case update.Message != nil:
		res = b.handleMessage(ctx, update.Message)
	case update.CallbackQuery != nil:
		res = b.handleCallbackQuery(ctx, update.CallbackQuery)
	case update.MyChatMember != nil:
		res = b.handleMyChatMember(ctx, update.MyChatMember)
	default:
		res = ignored()
	}

	if res.Outcome == Failed {
		b.logger.Warn("Update handling failed",
			zap.Int("update_id", update.UpdateID),
			zap.String("kind", string(res.Kind)),
			zap.Error(res.Err),
		)
	}
	return res
}

// handleMessage processes a single message
func (b *Bot) handleMessage(ctx context.Context, message *tgbotapi.Message) (res Result) {
	if message.Chat == nil || message.From == nil {
		return ignored()
	}

	// Recover from panics to prevent bot crashes
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("Recovered from panic in handleMessage",
				zap.Any("panic", r),
				zap.Int64("chat_id", message.Chat.ID),
			)
			b.reply(message.Chat.ID, "An error occurred while processing your request. Please try again.")
			res = failed(KindInternal, fmt.Errorf("panic: %v", r))
		}
	}()

	if len(message.NewChatMembers) > 0 {
		return b.handleNewChatMembers(ctx, message)
	}
	if message.Text == "" {
		return ignored()
	}

	if message.IsCommand() {
		if cmd, ok := b.commands[message.Command()]; ok && cmd.global {
			return cmd.handle(&request{ctx: ctx, message: message})
		}
	}

	// Everything else is private-chat only
	if !message.Chat.IsPrivate() {
		return ignored()
	}

	req := &request{ctx: ctx, message: message}
	req.user = b.touchUser(ctx, message.From, message.Chat.ID)

	state, err := b.sessions.Get(ctx, message.From.ID)
	if err != nil {
		b.logger.Warn("Failed to load operator session", zap.Error(err), zap.Int64("user_id", message.From.ID))
		state = session.None
	}
	req.session = state

	if message.IsCommand() {
		cmd, ok := b.commands[message.Command()]
		switch {
		case !ok && req.session == session.Authenticated:
			return b.handleEcho(req)
		case !ok:
			return b.handleMenuPrompt(req)
		case cmd.operatorOnly && req.session != session.Authenticated:
			return b.handleLocked(req)
		default:
			return cmd.handle(req)
		}
	}

	return b.handleText(req)
}

// handleText dispatches plain text by the sender's current state
func (b *Bot) handleText(req *request) Result {
	if req.session == session.AwaitingPassword {
		return b.handlePassword(req)
	}

	switch flow.FromUser(req.user).(type) {
	case flow.AwaitingTwitter:
		return b.handleXHandle(req)
	case flow.AwaitingLocalCoinSwapID:
		return b.handleLocalCoinSwapID(req)
	}

	if req.session == session.Authenticated {
		return b.handleEcho(req)
	}
	return b.handleMenuPrompt(req)
}

// handleCallbackQuery processes inline keyboard button clicks
func (b *Bot) handleCallbackQuery(ctx context.Context, query *tgbotapi.CallbackQuery) (res Result) {
	cb := &callbackRequest{ctx: ctx, bot: b, query: query}

	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("Recovered from panic in handleCallbackQuery",
				zap.Any("panic", r),
				zap.String("callback_data", query.Data),
			)
			res = failed(KindInternal, fmt.Errorf("panic: %v", r))
		}
		// Answer the callback query to remove loading state
		cb.answer("", false)
	}()

	if query.From == nil {
		return ignored()
	}

	handler, ok := b.callbacks[query.Data]
	if !ok {
		b.logger.Debug("Unknown callback data",
			zap.Int64("user_id", query.From.ID),
			zap.String("callback_data", query.Data),
		)
		return ignored()
	}

	cb.user = b.touchUser(ctx, query.From, cb.chatID())
	return handler(cb)
}

// touchUser upserts the sender's profile. A store failure is logged and yields nil.
func (b *Bot) touchUser(ctx context.Context, from *tgbotapi.User, chatID int64) *models.User {
	user, err := b.db.UpsertUser(ctx, models.Profile{
		ID:          from.ID,
		ChatID:      chatID,
		Username:    from.UserName,
		DisplayName: displayName(from),
	})
	if err != nil {
		b.logger.Error("Failed to upsert user", zap.Error(err), zap.Int64("user_id", from.ID))
		return nil
	}
	return user
}

func displayName(u *tgbotapi.User) string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		return u.UserName
	}
	return name
}

var errUserUnavailable = errors.New("user record unavailable")

// storageFailure tells the user to retry later
func (b *Bot) storageFailure(chatID int64, err error) Result {
	if err == nil {
		err = errUserUnavailable
	}
	b.reply(chatID, "⚠️ Something went wrong on our side. Please try again in a moment.")
	return failed(KindStorage, err)
}
