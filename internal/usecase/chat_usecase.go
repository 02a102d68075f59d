package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"topicmeet/internal/domain/entity"
	"topicmeet/internal/domain/repository"
	"topicmeet/internal/domain/service"
	"topicmeet/internal/infrastructure/metrics"
	"topicmeet/internal/infrastructure/ratelimit"
	apperrors "topicmeet/pkg/errors"
	"topicmeet/pkg/logger"
)

const (
	DefaultMessagesPageSize = 20
	maxMessageLength        = 2000
)

type ChatUseCase struct {
	chatRepo    repository.ChatRepository
	friendRepo  repository.FriendRepository
	blobs       service.BlobStore
	rateLimiter *ratelimit.RateLimiter
	clock       clockwork.Clock
	pageSize    int
}

func NewChatUseCase(
	chatRepo repository.ChatRepository,
	friendRepo repository.FriendRepository,
	blobs service.BlobStore,
	rateLimiter *ratelimit.RateLimiter,
	clock clockwork.Clock,
	pageSize int,
) *ChatUseCase {
	if pageSize <= 0 {
		pageSize = DefaultMessagesPageSize
	}
	return &ChatUseCase{
		chatRepo:    chatRepo,
		friendRepo:  friendRepo,
		blobs:       blobs,
		rateLimiter: rateLimiter,
		clock:       clock,
		pageSize:    pageSize,
	}
}

type SendMessageInput struct {
	Text     string
	ImageURL string
}

// MessagePage is one page of messages, newest first. Next is nil on the
// last page.
type MessagePage struct {
	Messages []*entity.Message
	Next     *repository.PageCursor
}

func (uc *ChatUseCase) memberChat(ctx context.Context, uid, chatID string) (*entity.Chat, error) {
	chat, err := uc.chatRepo.GetByID(ctx, chatID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NotFound("Chat", err)
		}
		return nil, apperrors.Internal("Failed to load chat", err)
	}
	if !chat.HasMember(uid) {
		return nil, apperrors.Forbidden("You are not a member of this chat", nil)
	}
	return chat, nil
}

func (uc *ChatUseCase) allow(uid, action string) error {
	if uc.rateLimiter == nil {
		return nil
	}
	if ok, retryAfter := uc.rateLimiter.Allow(uid, action); !ok {
		return apperrors.TooManyRequests(fmt.Sprintf("Slow down. Try again in %ds", int(retryAfter.Seconds())+1))
	}
	return nil
}

func (uc *ChatUseCase) GetChat(ctx context.Context, uid, chatID string) (*entity.Chat, error) {
	return uc.memberChat(ctx, uid, chatID)
}

func (uc *ChatUseCase) ListChats(ctx context.Context, uid string) ([]*entity.Chat, error) {
	chats, err := uc.chatRepo.ListByUser(ctx, uid)
	if err != nil {
		return nil, apperrors.Internal("Failed to list chats", err)
	}
	return chats, nil
}

// SendMessage appends a message to a one-to-one chat. The channel outlives
// the friendship, so membership alone is not enough.
func (uc *ChatUseCase) SendMessage(ctx context.Context, uid, chatID string, input SendMessageInput) (msg *entity.Message, err error) {
	defer func() { metrics.IncWorkflow("chat_send", err) }()

	text := strings.TrimSpace(input.Text)
	if text == "" && input.ImageURL == "" {
		return nil, apperrors.BadRequest("Message cannot be empty", nil)
	}
	if len(text) > maxMessageLength {
		return nil, apperrors.BadRequest(fmt.Sprintf("Message cannot be longer than %d characters", maxMessageLength), nil)
	}
	if err := uc.allow(uid, ratelimit.ActionSendMessage); err != nil {
		return nil, err
	}

	chat, err := uc.memberChat(ctx, uid, chatID)
	if err != nil {
		return nil, err
	}
	friends, err := uc.friendRepo.IsFriend(ctx, uid, chat.Other(uid))
	if err != nil {
		return nil, apperrors.Internal("Failed to check friendship", err)
	}
	if !friends {
		return nil, apperrors.Forbidden("You can only chat with friends", nil)
	}

	msg = &entity.Message{
		SenderID:  uid,
		Text:      text,
		ImageURL:  input.ImageURL,
		Timestamp: uc.clock.Now(),
		Status:    entity.MessageSent,
		ReadBy:    []string{uid},
	}
	if err := uc.chatRepo.AddMessage(ctx, chatID, msg); err != nil {
		return nil, apperrors.Internal("Failed to send message", err)
	}
	return msg, nil
}

func (uc *ChatUseCase) ListMessages(ctx context.Context, uid, chatID string, limit int, after *repository.PageCursor) (*MessagePage, error) {
	if _, err := uc.memberChat(ctx, uid, chatID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = uc.pageSize
	}

	msgs, err := uc.chatRepo.ListMessages(ctx, chatID, limit, after)
	if err != nil {
		return nil, apperrors.Internal("Failed to load messages", err)
	}
	return newMessagePage(msgs, limit), nil
}

func newMessagePage(msgs []*entity.Message, limit int) *MessagePage {
	page := &MessagePage{Messages: msgs}
	if len(msgs) == limit && limit > 0 {
		last := msgs[len(msgs)-1]
		page.Next = &repository.PageCursor{At: last.Timestamp, ID: last.ID}
	}
	return page
}

// MarkRead marks every message from the other member that uid has not
// read yet as seen.
func (uc *ChatUseCase) MarkRead(ctx context.Context, uid, chatID string) (int, error) {
	chat, err := uc.memberChat(ctx, uid, chatID)
	if err != nil {
		return 0, err
	}

	n, err := uc.chatRepo.MarkRead(ctx, chatID, uid, chat.Other(uid))
	if err != nil {
		return 0, apperrors.Internal("Failed to mark messages as read", err)
	}
	if n > 0 {
		logger.Debug("Marked %d messages read in chat %s for %s", n, chatID, uid)
	}
	return n, nil
}

// SetTyping writes the user's typing flag. Only raising it is rate
// limited; clearing always goes through so the flag cannot get stuck.
func (uc *ChatUseCase) SetTyping(ctx context.Context, uid, chatID string, typing bool) error {
	if _, err := uc.memberChat(ctx, uid, chatID); err != nil {
		return err
	}
	if typing {
		if err := uc.allow(uid, ratelimit.ActionTyping); err != nil {
			return err
		}
	}
	if err := uc.chatRepo.SetTyping(ctx, chatID, uid, typing, uc.clock.Now()); err != nil {
		return apperrors.Internal("Failed to update typing state", err)
	}
	return nil
}

// WatchTyping follows the typing state of the other member of the chat.
func (uc *ChatUseCase) WatchTyping(ctx context.Context, uid, chatID string, fn func(*entity.Typing, error)) (repository.Unsubscribe, error) {
	chat, err := uc.memberChat(ctx, uid, chatID)
	if err != nil {
		return nil, err
	}
	return uc.chatRepo.WatchTyping(ctx, chatID, chat.Other(uid), fn), nil
}

// WatchMessages delivers the newest page of messages on every change.
func (uc *ChatUseCase) WatchMessages(ctx context.Context, uid, chatID string, fn func([]*entity.Message, error)) (repository.Unsubscribe, error) {
	if _, err := uc.memberChat(ctx, uid, chatID); err != nil {
		return nil, err
	}
	return uc.chatRepo.WatchMessages(ctx, chatID, uc.pageSize, func(msgs []*entity.Message, err error) {
		if err != nil {
			logger.Warn("Message listener for chat %s failed: %v", chatID, err)
		}
		fn(msgs, err)
	}), nil
}

// UploadImage stores an image for the chat and returns its URL, ready to
// be sent as a message.
func (uc *ChatUseCase) UploadImage(ctx context.Context, uid, chatID, filename string, r io.Reader, contentType string) (string, error) {
	if _, err := uc.memberChat(ctx, uid, chatID); err != nil {
		return "", err
	}
	if !strings.HasPrefix(contentType, "image/") {
		return "", apperrors.BadRequest("Only images can be uploaded", nil)
	}
	if err := uc.allow(uid, ratelimit.ActionUpload); err != nil {
		return "", err
	}

	name := fmt.Sprintf("chatImages/%s/%s%s", chatID, uuid.NewString(), strings.ToLower(path.Ext(filename)))
	url, err := uc.blobs.Upload(ctx, name, r, contentType)
	if err != nil {
		return "", apperrors.Internal("Failed to upload image", err)
	}
	return url, nil
}
