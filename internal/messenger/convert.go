package messenger

import (
	"context"
	"errors"
	"strings"

	"go.mau.fi/whatsmeow"
	waProto "go.mau.fi/whatsmeow/binary/proto"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"

	"chatrelay/internal/pipeline"
)

// downloader fetches and decrypts media attached to a message.
type downloader interface {
	Download(ctx context.Context, msg whatsmeow.DownloadableMessage) ([]byte, error)
}

// convert maps a whatsmeow message event to a pipeline message. Only
// push-to-talk audio counts as a voice note. Own messages, broadcasts and
// events carrying neither text nor a voice note are dropped.
func convert(v *events.Message, dl downloader) (pipeline.Message, bool) {
	if v == nil || v.Message == nil || v.Info.IsFromMe {
		return pipeline.Message{}, false
	}
	chat := v.Info.Chat
	if chat.Server == types.BroadcastServer || chat.User == "status" {
		return pipeline.Message{}, false
	}

	m := pipeline.Message{
		ID:      v.Info.ID,
		ChatID:  chat.String(),
		IsGroup: v.Info.IsGroup || chat.Server == types.GroupServer,
		Text:    text(v.Message),
	}

	if am := v.Message.GetAudioMessage(); am != nil && am.GetPTT() {
		m.Voice = voice(am, dl)
	}
	if m.Voice == nil && m.Text == "" {
		return pipeline.Message{}, false
	}
	return m, true
}

func text(msg *waProto.Message) string {
	switch {
	case msg.GetConversation() != "":
		return msg.GetConversation()
	case msg.GetExtendedTextMessage() != nil:
		return msg.GetExtendedTextMessage().GetText()
	case msg.GetImageMessage() != nil:
		return msg.GetImageMessage().GetCaption()
	case msg.GetVideoMessage() != nil:
		return msg.GetVideoMessage().GetCaption()
	case msg.GetDocumentMessage() != nil:
		return msg.GetDocumentMessage().GetCaption()
	}
	return ""
}

func voice(am *waProto.AudioMessage, dl downloader) *pipeline.Voice {
	mt := strings.TrimSpace(am.GetMimetype())
	return &pipeline.Voice{
		MediaType: mt,
		Fetch: func(ctx context.Context) ([]byte, string, error) {
			if dl == nil {
				return nil, mt, errors.New("no media downloader")
			}
			data, err := dl.Download(ctx, am)
			return data, mt, err
		},
	}
}
