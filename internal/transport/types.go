package transport

import "context"

type UpdateKind string

const (
	UpdateMessage  UpdateKind = "message"
	UpdateCallback UpdateKind = "callback"
)

type Update struct {
	Kind     UpdateKind
	Message  *Message
	Callback *Callback
}

type Message struct {
	ID           int
	ChatID       int64
	FromID       int64
	FromUsername string
	Text         string

	// MediaRef/MediaKind are set when the message carries an attachment
	// (Telegram: file_id of the largest photo size, video or document).
	MediaRef  string
	MediaKind MediaKind
}

type Callback struct {
	ID        string
	FromID    int64
	ChatID    int64
	MessageID int
	Data      string
}

type ChatTarget struct {
	ChatID int64
}

type MessageRef struct {
	ChatID    int64
	MessageID int
}

// MediaKind tags the opaque media reference in a Content.
type MediaKind string

const (
	MediaNone     MediaKind = ""
	MediaPhoto    MediaKind = "photo"
	MediaVideo    MediaKind = "video"
	MediaDocument MediaKind = "document"
)

// Content is one campaign payload: text, an attachment, or both.
// MediaRef is an opaque transport-side reference (Telegram file_id),
// never a local path.
type Content struct {
	Text      string
	MediaRef  string
	MediaKind MediaKind
}

// Empty reports whether the content carries neither text nor media.
func (c Content) Empty() bool { return c.Text == "" && c.MediaRef == "" }

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
}

type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	Send(ctx context.Context, to ChatTarget, msg Content, opt *SendOptions) (MessageRef, error)
}
