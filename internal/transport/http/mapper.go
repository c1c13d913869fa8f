package http

import (
	"encoding/json"

	"github.com/rentme/chatrelay/internal/core"
	"github.com/rentme/chatrelay/internal/proto"
	"github.com/rentme/chatrelay/internal/store"
)

func inboundToCommand(inbound proto.Inbound) (*core.Command, *proto.Error, error) {
	switch inbound.Type {
	case proto.InboundTypeJoinRoom:
		var join proto.JoinRoomData
		if err := json.Unmarshal(inbound.Data, &join); err != nil {
			return nil, nil, err
		}
		if join.UserID <= 0 {
			return nil, &proto.Error{Code: core.ErrCodeInvalidInput, Msg: "user_id is required"}, nil
		}
		return &core.Command{
			Kind:          core.CommandJoinRoom,
			CounterpartID: join.UserID,
		}, nil, nil
	case proto.InboundTypeSend:
		var send proto.SendData
		if err := json.Unmarshal(inbound.Data, &send); err != nil {
			return nil, nil, err
		}
		if send.ReceiverID <= 0 {
			return nil, &proto.Error{Code: core.ErrCodeInvalidInput, Msg: "receiver_id is required"}, nil
		}
		return &core.Command{
			Kind:          core.CommandSendMessage,
			CounterpartID: send.ReceiverID,
			Body:          send.Body,
		}, nil, nil
	case proto.InboundTypeEdit:
		var edit proto.EditData
		if err := json.Unmarshal(inbound.Data, &edit); err != nil {
			return nil, nil, err
		}
		if edit.MessageID <= 0 {
			return nil, &proto.Error{Code: core.ErrCodeInvalidInput, Msg: "message_id is required"}, nil
		}
		return &core.Command{
			Kind:      core.CommandEditMessage,
			MessageID: edit.MessageID,
			Body:      edit.Body,
		}, nil, nil
	case proto.InboundTypeDelete:
		var del proto.DeleteData
		if err := json.Unmarshal(inbound.Data, &del); err != nil {
			return nil, nil, err
		}
		if del.MessageID <= 0 {
			return nil, &proto.Error{Code: core.ErrCodeInvalidInput, Msg: "message_id is required"}, nil
		}
		return &core.Command{
			Kind:      core.CommandDeleteMessage,
			MessageID: del.MessageID,
		}, nil, nil
	case proto.InboundTypeMarkRead:
		var read proto.MarkReadData
		if err := json.Unmarshal(inbound.Data, &read); err != nil {
			return nil, nil, err
		}
		if read.UserID <= 0 {
			return nil, &proto.Error{Code: core.ErrCodeInvalidInput, Msg: "user_id is required"}, nil
		}
		return &core.Command{
			Kind:          core.CommandMarkRead,
			CounterpartID: read.UserID,
		}, nil, nil
	default:
		return nil, &proto.Error{Code: "invalid_message", Msg: "unknown message type"}, nil
	}
}

func messagePayload(msg *store.Message) proto.MessagePayload {
	return proto.MessagePayload{
		ID:         msg.ID,
		Room:       msg.RoomKey,
		SenderID:   msg.SenderID,
		ReceiverID: msg.ReceiverID,
		Body:       msg.Body,
		TS:         msg.CreatedAt.Unix(),
		Edited:     msg.Edited,
	}
}

func outboundFromEvent(event *core.Event) proto.Outbound {
	switch event.Kind {
	case core.EventMessageCreated:
		return proto.Outbound{
			Type:  proto.OutboundTypeEvent,
			Event: proto.EventMessageCreated,
			Data:  messagePayload(event.Message),
		}
	case core.EventMessageUpdated:
		return proto.Outbound{
			Type:  proto.OutboundTypeEvent,
			Event: proto.EventMessageUpdated,
			Data: proto.MessageUpdatedPayload{
				ID:   event.Message.ID,
				Body: event.Message.Body,
			},
		}
	case core.EventMessageDeleted:
		return proto.Outbound{
			Type:  proto.OutboundTypeEvent,
			Event: proto.EventMessageDeleted,
			Data: proto.MessageDeletedPayload{
				ID: event.Message.ID,
			},
		}
	case core.EventHistory:
		messages := make([]proto.MessagePayload, 0, len(event.Messages))
		for _, msg := range event.Messages {
			messages = append(messages, messagePayload(msg))
		}
		return proto.Outbound{
			Type:  proto.OutboundTypeEvent,
			Event: proto.EventHistory,
			Data: proto.HistoryPayload{
				Room:     event.RoomKey,
				Messages: messages,
			},
		}
	case core.EventUserOnline:
		return proto.Outbound{
			Type:  proto.OutboundTypeEvent,
			Event: proto.EventUserOnline,
			Data:  proto.PresencePayload{UserID: event.UserID},
		}
	case core.EventUserOffline:
		return proto.Outbound{
			Type:  proto.OutboundTypeEvent,
			Event: proto.EventUserOffline,
			Data:  proto.PresencePayload{UserID: event.UserID},
		}
	case core.EventConversationListUpdate:
		return proto.Outbound{
			Type:  proto.OutboundTypeEvent,
			Event: proto.EventConversationListUpdate,
		}
	case core.EventError:
		if event.Error == nil {
			return proto.Outbound{Type: proto.OutboundTypeError, Error: &proto.Error{Code: "unknown", Msg: "unknown error"}}
		}
		return proto.Outbound{
			Type:  proto.OutboundTypeError,
			Error: &proto.Error{Code: event.Error.Code, Msg: event.Error.Message},
		}
	default:
		return proto.Outbound{Type: proto.OutboundTypeEvent}
	}
}
