package app

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"agileflow/api/internal/messaging"
	"agileflow/api/internal/rbac"
	"agileflow/api/internal/realtime"
	"agileflow/api/internal/store"
	"github.com/google/uuid"
)

const (
	defaultCommunityLimit = 100
	maxCommunityLimit     = 500
)

func requirePrivateMessaging(actor rbac.Actor) error {
	if !rbac.CanUsePrivateMessaging(actor) {
		return forbidden("Private messaging is only available to HOD and Professors")
	}
	return nil
}

// ListPrivateMessages returns the thread between actor and otherID, or every
// private message of actor when otherID is empty.
func (s *Service) ListPrivateMessages(ctx context.Context, actor rbac.Actor, otherID string) ([]store.PrivateMessage, error) {
	if err := requirePrivateMessaging(actor); err != nil {
		return nil, err
	}
	return s.store.ListPrivateMessages(ctx, actor.ID, strings.TrimSpace(otherID))
}

func (s *Service) SendPrivateMessage(ctx context.Context, actor rbac.Actor, in SendPrivateMessageInput) (store.PrivateMessage, error) {
	if err := requirePrivateMessaging(actor); err != nil {
		return store.PrivateMessage{}, err
	}
	if err := s.validator.check(in, "Receiver ID and message are required"); err != nil {
		return store.PrivateMessage{}, err
	}
	receiver, err := s.store.GetUser(ctx, strings.TrimSpace(in.ReceiverID))
	if errors.Is(err, sql.ErrNoRows) {
		return store.PrivateMessage{}, notFound("Receiver not found")
	}
	if err != nil {
		return store.PrivateMessage{}, err
	}
	if !rbac.CanReceivePrivateMessage(receiver.Role) {
		return store.PrivateMessage{}, forbidden("Can only message HOD or Professors")
	}

	msg, err := s.store.CreatePrivateMessage(ctx, store.PrivateMessage{
		ID:         uuid.NewString(),
		SenderID:   actor.ID,
		ReceiverID: receiver.ID,
		Message:    in.Message,
		ClientRef:  in.ClientRef,
	})
	if err != nil {
		return store.PrivateMessage{}, err
	}
	s.publish(ctx, realtime.TablePrivateMessages, realtime.EventInsert, msg, msg.ClientRef, msg.SenderID, msg.ReceiverID)
	return msg, nil
}

// MarkRead is idempotent. Only the receiver may mark a message read, and an
// already read message produces no change event.
func (s *Service) MarkRead(ctx context.Context, actor rbac.Actor, id string) (store.PrivateMessage, error) {
	if err := requirePrivateMessaging(actor); err != nil {
		return store.PrivateMessage{}, err
	}
	msg, err := s.store.GetPrivateMessage(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return store.PrivateMessage{}, notFound("Message not found")
	}
	if err != nil {
		return store.PrivateMessage{}, err
	}
	if !rbac.CanMarkRead(actor, msg.ReceiverID) {
		return store.PrivateMessage{}, forbidden("Access denied")
	}
	if msg.Read {
		return msg, nil
	}
	msg, err = s.store.MarkPrivateMessageRead(ctx, id)
	if err != nil {
		return store.PrivateMessage{}, err
	}
	s.publish(ctx, realtime.TablePrivateMessages, realtime.EventUpdate, msg, "", msg.SenderID, msg.ReceiverID)
	return msg, nil
}

func (s *Service) UnreadCount(ctx context.Context, actor rbac.Actor) (int, error) {
	if err := requirePrivateMessaging(actor); err != nil {
		return 0, err
	}
	return s.store.CountUnread(ctx, actor.ID)
}

func (s *Service) Conversations(ctx context.Context, actor rbac.Actor) ([]messaging.Conversation, error) {
	if err := requirePrivateMessaging(actor); err != nil {
		return nil, err
	}
	msgs, err := s.store.ListPrivateMessages(ctx, actor.ID, "")
	if err != nil {
		return nil, err
	}
	derived := make([]messaging.Message, 0, len(msgs))
	for _, m := range msgs {
		derived = append(derived, messaging.Message{
			ID:        m.ID,
			Sender:    party(m.SenderID, m.Sender),
			Receiver:  party(m.ReceiverID, m.Receiver),
			Body:      m.Message,
			Read:      m.Read,
			CreatedAt: m.CreatedAt,
		})
	}
	return messaging.DeriveConversations(actor.ID, derived), nil
}

func party(id string, summary *store.UserSummary) messaging.Party {
	if summary == nil {
		return messaging.Party{ID: id}
	}
	return messaging.Party{ID: id, Name: summary.Name, Email: summary.Email, Role: summary.Role.String()}
}

// ListCommunityMessages returns the newest limit messages, oldest first.
func (s *Service) ListCommunityMessages(ctx context.Context, _ rbac.Actor, limit int) ([]store.CommunityMessage, error) {
	if limit <= 0 {
		limit = defaultCommunityLimit
	}
	if limit > maxCommunityLimit {
		limit = maxCommunityLimit
	}
	return s.store.ListCommunityMessages(ctx, limit)
}

func (s *Service) PostCommunityMessage(ctx context.Context, actor rbac.Actor, in SendCommunityMessageInput) (store.CommunityMessage, error) {
	if err := s.validator.check(in, "Message is required"); err != nil {
		return store.CommunityMessage{}, err
	}
	msg, err := s.store.CreateCommunityMessage(ctx, store.CommunityMessage{
		ID:        uuid.NewString(),
		SenderID:  actor.ID,
		Message:   in.Message,
		ClientRef: in.ClientRef,
	})
	if err != nil {
		return store.CommunityMessage{}, err
	}
	s.publish(ctx, realtime.TableCommunityMessages, realtime.EventInsert, msg, msg.ClientRef)
	return msg, nil
}
