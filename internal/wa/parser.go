package wa

import (
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types/events"

	"github.com/vittahq/bridge/internal/index"
)

// ParsedMessage is a provider message normalized for ingestion:
// display-layer body (text or a media placeholder), a human sender
// label, and a unix-seconds timestamp.
type ParsedMessage struct {
	ConversationID string
	MsgID          string
	Sender         string
	Body           string
	FromMe         bool
	Timestamp      int64
}

// ChatUpdate is a conversation-metadata change without a message.
type ChatUpdate struct {
	ID   string
	Name string
}

// ParseLiveMessage normalizes a live whatsmeow message event.
func ParseLiveMessage(evt *events.Message) *ParsedMessage {
	sender := evt.Info.PushName
	if sender == "" {
		sender = evt.Info.Sender.User
	}
	return &ParsedMessage{
		ConversationID: evt.Info.Chat.String(),
		MsgID:          evt.Info.ID,
		Sender:         sender,
		Body:           displayBody(evt.Message),
		FromMe:         evt.Info.IsFromMe,
		Timestamp:      evt.Info.Timestamp.Unix(),
	}
}

// ParseHistorySync flattens a whatsmeow history sync event into an
// index snapshot: conversation metadata plus every decodable message
// in provider delivery order.
func ParseHistorySync(evt *events.HistorySync) *index.Snapshot {
	data := evt.Data
	if data == nil {
		return &index.Snapshot{}
	}

	snap := &index.Snapshot{}
	for _, conv := range data.GetConversations() {
		chatID := conv.GetID()
		if chatID == "" {
			continue
		}
		snap.Conversations = append(snap.Conversations, index.SnapshotConversation{
			ID:             chatID,
			Name:           conv.GetName(),
			LastActivityAt: int64(conv.GetConversationTimestamp()),
		})
		for _, hm := range conv.GetMessages() {
			wmsg := hm.GetMessage()
			if wmsg == nil || wmsg.GetMessage() == nil {
				continue
			}
			sender := wmsg.GetPushName()
			if sender == "" {
				sender = wmsg.GetKey().GetParticipant()
			}
			snap.Messages = append(snap.Messages, index.SnapshotMessage{
				ConversationID: chatID,
				Message: index.Message{
					ID:        wmsg.GetKey().GetID(),
					Sender:    sender,
					Body:      displayBody(wmsg.GetMessage()),
					FromMe:    wmsg.GetKey().GetFromMe(),
					Timestamp: int64(wmsg.GetMessageTimestamp()),
				},
			})
		}
	}
	return snap
}

// displayBody returns the plain text of a message, or a fixed
// placeholder label for non-text payloads ("image", "video", ...).
func displayBody(msg *waE2E.Message) string {
	if body := extractTextBody(msg); body != "" {
		return body
	}
	return mediaPlaceholder(msg)
}

func extractTextBody(msg *waE2E.Message) string {
	if msg == nil {
		return ""
	}
	if c := msg.GetConversation(); c != "" {
		return c
	}
	if ext := msg.GetExtendedTextMessage(); ext != nil {
		return ext.GetText()
	}
	return ""
}

func mediaPlaceholder(msg *waE2E.Message) string {
	if msg == nil {
		return "media"
	}
	switch {
	case msg.GetImageMessage() != nil:
		return "image"
	case msg.GetVideoMessage() != nil:
		return "video"
	case msg.GetAudioMessage() != nil:
		return "audio"
	case msg.GetDocumentMessage() != nil:
		return "document"
	case msg.GetStickerMessage() != nil:
		return "sticker"
	case msg.GetContactMessage() != nil:
		return "contact"
	case msg.GetLocationMessage() != nil:
		return "location"
	default:
		return "media"
	}
}
