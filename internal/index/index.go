// Package index holds the in-memory source of truth for which
// conversations exist and what was said in them. It is rebuilt from
// the provider's history snapshot on every fresh connection and owns
// no durable state.
package index

import (
	"sort"
	"strings"
	"sync"
)

// MessageCap bounds the per-conversation message log. Once exceeded,
// the oldest message is evicted first.
const MessageCap = 100

const previewMaxLen = 100

// Conversation is the metadata for one addressable thread.
type Conversation struct {
	ID             string
	Name           string
	Preview        string
	LastActivityAt int64 // unix seconds, provider-supplied
	UnreadCount    int

	seq int // insertion order, breaks sort ties
}

// Message is one entry in a conversation's bounded log.
type Message struct {
	ID        string
	Sender    string
	Body      string
	FromMe    bool
	Timestamp int64 // unix seconds
}

// Patch carries partial conversation updates for Upsert. Zero-valued
// fields keep the existing value: empty Name/Preview are ignored,
// LastActivityAt merges by max, and a negative UnreadCount is ignored.
type Patch struct {
	Name           string
	Preview        string
	LastActivityAt int64
	UnreadCount    int
}

// Snapshot is a provider-supplied history dump applied at connection
// start. Loading it twice leaves the index in the same state as
// loading it once.
type Snapshot struct {
	Conversations []SnapshotConversation
	Messages      []SnapshotMessage
}

// SnapshotConversation is conversation metadata inside a Snapshot.
type SnapshotConversation struct {
	ID             string
	Name           string
	LastActivityAt int64
}

// SnapshotMessage ties a Message to its conversation inside a Snapshot.
type SnapshotMessage struct {
	ConversationID string
	Message
}

type entry struct {
	conv Conversation
	log  []Message
	seen map[string]struct{} // message IDs currently in the log
}

// Index is the mutex-guarded conversation/message map. The ingestion
// pipeline and the send handler both mutate it from their own
// goroutines; all read-modify-write sequences run under one lock.
type Index struct {
	mu      sync.Mutex
	entries map[string]*entry
	nextSeq int
}

// New creates an empty index.
func New() *Index {
	return &Index{entries: make(map[string]*entry)}
}

// placeholderName derives a best-effort display name from a
// conversation identifier by stripping the network's domain suffix.
func placeholderName(id string) string {
	if at := strings.IndexByte(id, '@'); at > 0 {
		return id[:at]
	}
	return id
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}

// ensure returns the entry for id, creating it on first sight.
// Caller must hold i.mu.
func (i *Index) ensure(id string) *entry {
	e, ok := i.entries[id]
	if !ok {
		e = &entry{
			conv: Conversation{
				ID:   id,
				Name: placeholderName(id),
				seq:  i.nextSeq,
			},
			seen: make(map[string]struct{}),
		}
		i.nextSeq++
		i.entries[id] = e
	}
	return e
}

// Upsert creates the conversation if absent and merges the patch into
// it. Conversations are never removed here.
func (i *Index) Upsert(id string, p Patch) {
	i.mu.Lock()
	defer i.mu.Unlock()

	e := i.ensure(id)
	if p.Name != "" {
		e.conv.Name = p.Name
	}
	if p.Preview != "" {
		e.conv.Preview = truncate(p.Preview, previewMaxLen)
	}
	if p.LastActivityAt > e.conv.LastActivityAt {
		e.conv.LastActivityAt = p.LastActivityAt
	}
	if p.UnreadCount >= 0 {
		e.conv.UnreadCount = p.UnreadCount
	}
}

// Append adds a message to a conversation's log in arrival order,
// creating the conversation on first sight. A message ID already in
// the log is skipped, which makes history replays idempotent. Beyond
// MessageCap the oldest entry is evicted. The parent's last-activity
// timestamp and preview follow the appended message, and the unread
// counter grows for messages not originated locally. Reports whether
// the message was actually appended.
func (i *Index) Append(conversationID string, msg Message) bool {
	i.mu.Lock()
	defer i.mu.Unlock()

	e := i.ensure(conversationID)
	if _, dup := e.seen[msg.ID]; dup {
		return false
	}

	e.log = append(e.log, msg)
	e.seen[msg.ID] = struct{}{}
	if len(e.log) > MessageCap {
		evicted := e.log[0]
		e.log = e.log[1:]
		delete(e.seen, evicted.ID)
	}

	if msg.Timestamp > e.conv.LastActivityAt {
		e.conv.LastActivityAt = msg.Timestamp
	}
	e.conv.Preview = truncate(msg.Body, previewMaxLen)
	if !msg.FromMe {
		e.conv.UnreadCount++
	}
	return true
}

// LoadHistory applies a provider history snapshot: conversation
// metadata first, then messages, with the same create-or-merge
// semantics as the incremental operations.
func (i *Index) LoadHistory(s Snapshot) {
	for _, c := range s.Conversations {
		i.Upsert(c.ID, Patch{
			Name:           c.Name,
			LastActivityAt: c.LastActivityAt,
			UnreadCount:    -1,
		})
	}
	for _, m := range s.Messages {
		i.Append(m.ConversationID, m.Message)
	}
}

// Conversations returns all conversations ordered by descending
// last-activity timestamp, ties broken by insertion order.
func (i *Index) Conversations() []Conversation {
	i.mu.Lock()
	out := make([]Conversation, 0, len(i.entries))
	for _, e := range i.entries {
		out = append(out, e.conv)
	}
	i.mu.Unlock()

	sort.SliceStable(out, func(a, b int) bool {
		if out[a].LastActivityAt != out[b].LastActivityAt {
			return out[a].LastActivityAt > out[b].LastActivityAt
		}
		return out[a].seq < out[b].seq
	})
	return out
}

// Messages returns the ordered log for one conversation, oldest first.
// An unknown conversation yields an empty slice, not an error.
func (i *Index) Messages(conversationID string) []Message {
	i.mu.Lock()
	defer i.mu.Unlock()

	e, ok := i.entries[conversationID]
	if !ok {
		return []Message{}
	}
	out := make([]Message, len(e.log))
	copy(out, e.log)
	return out
}

// MarkRead resets a conversation's unread counter. Reports whether the
// conversation exists.
func (i *Index) MarkRead(conversationID string) bool {
	i.mu.Lock()
	defer i.mu.Unlock()

	e, ok := i.entries[conversationID]
	if !ok {
		return false
	}
	e.conv.UnreadCount = 0
	return true
}

// Reset clears all conversations and messages. Only the logout path
// calls this.
func (i *Index) Reset() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.entries = make(map[string]*entry)
	i.nextSeq = 0
}
