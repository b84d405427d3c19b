package kit

import "context"

// UpdateKind discriminates incoming transport updates.
type UpdateKind int

const (
	UpdateMessage UpdateKind = iota
)

type Update struct {
	Kind    UpdateKind
	Message *Message
}

// Message is a transport-neutral incoming chat message.
type Message struct {
	ID           int
	ChatID       int64
	FromID       int64
	FromUsername string
	FromName     string
	Text         string
	Private      bool
}

// ChatTarget addresses an outgoing message.
type ChatTarget struct {
	ChatID int64
}

// Adapter is the chat transport boundary.
//
// Start pushes incoming updates onto out until ctx is canceled; it must not
// block on a full channel (drop instead).
type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error
	SendText(ctx context.Context, to ChatTarget, text string) error
}
