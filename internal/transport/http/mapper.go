package http

import (
	"context"

	"github.com/vovakirdan/citychat/internal/core"
	"github.com/vovakirdan/citychat/internal/proto"
	"github.com/vovakirdan/citychat/internal/relay"
	"github.com/vovakirdan/citychat/internal/service/messaging"
	"github.com/vovakirdan/citychat/internal/store"
)

// dispatch executes one inbound command for an authenticated client.
func (h *WSHandler) dispatch(ctx context.Context, client *relay.Client, user *store.User, env proto.Envelope) error {
	switch env.Event {
	case proto.CmdAuthenticate:
		// Already authenticated; repeat the identity.
		select {
		case client.Events <- relay.Outbound{Event: proto.EvtAuthenticated, Data: proto.AuthenticatedData{UserID: user.ID, Username: user.Username}}:
		default:
		}
		return nil

	case proto.CmdJoinRoom:
		var d proto.RoomData
		if err := bind(env, &d); err != nil {
			return err
		}
		if err := h.messages.CanJoin(ctx, user, d.RoomID); err != nil {
			return err
		}
		h.hub.Join(client, d.RoomID)
		return nil

	case proto.CmdLeaveRoom:
		var d proto.RoomData
		if err := bind(env, &d); err != nil {
			return err
		}
		if d.RoomID == "" {
			return badRequest("room is required")
		}
		h.hub.Leave(client, d.RoomID)
		return nil

	case proto.CmdSendMessage:
		var d proto.SendMessageData
		if err := bind(env, &d); err != nil {
			return err
		}
		p := messaging.Post{
			RoomID:         d.RoomID,
			ConversationID: d.ConversationID,
			Content:        d.Content,
			ReplyTo:        d.ReplyTo,
			TempID:         d.TempID,
		}
		if p.RoomID == "" && p.ConversationID == "" && d.Type == string(core.MessageTypeGlobal) {
			p.RoomID = h.globalRoom
		}
		_, err := h.messages.Post(ctx, user, p)
		return err

	case proto.CmdEditMessage:
		var d proto.EditMessageData
		if err := bind(env, &d); err != nil {
			return err
		}
		_, err := h.messages.Edit(ctx, user, d.MessageID, d.Content)
		return err

	case proto.CmdDeleteMessage:
		var d proto.DeleteMessageData
		if err := bind(env, &d); err != nil {
			return err
		}
		_, err := h.messages.Delete(ctx, user, d.MessageID)
		return err

	case proto.CmdMarkRead:
		var d proto.MarkReadData
		if err := bind(env, &d); err != nil {
			return err
		}
		return h.messages.MarkRead(ctx, user, d.ConversationID, d.MessageID)

	case proto.CmdTypingStart, proto.CmdTypingStop:
		var d proto.TypingData
		if err := bind(env, &d); err != nil {
			return err
		}
		return h.messages.Typing(ctx, client, d, env.Event == proto.CmdTypingStart)

	case proto.CmdModerateUser:
		var d proto.ModerateData
		if err := bind(env, &d); err != nil {
			return err
		}
		return h.messages.Moderate(ctx, user, moderationFrom(d))

	default:
		return badRequest("unknown command " + env.Event)
	}
}

func bind(env proto.Envelope, v any) error {
	if err := env.Bind(v); err != nil {
		return badRequest("invalid " + env.Event + " payload")
	}
	return nil
}
