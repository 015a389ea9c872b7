package mailbox

import "github.com/aTiKhan/MailKit/imaptype"

// EventKind classifies a folder-level event surfaced through the bus. Names
// and payloads follow spec.md §6's "Event surface" list one for one; String
// returns the snake_case name used there.
type EventKind int

const (
	EventOpened EventKind = iota
	EventClosed
	EventMailboxDeleted
	EventMailboxRenamed
	EventSubscribed
	EventUnsubscribed
	EventMessageExpunged
	EventMessagesVanished
	EventMessageFlagsChanged
	EventMessageLabelsChanged
	EventAnnotationsChanged
	EventMessageSummaryFetched
	EventMetadataChanged
	EventModSeqChanged
	EventHighestModSeqChanged
	EventUIDNextChanged
	EventUIDValidityChanged
	EventIDChanged
	EventSizeChanged
	EventCountChanged
	EventRecentChanged
	EventUnreadChanged
	// EventDisconnected is not in spec.md's event list; it's the ambient
	// signal this package adds so a subscriber notices BYE/transport loss
	// without having to poll Client.Session().State().
	EventDisconnected
)

func (k EventKind) String() string {
	switch k {
	case EventOpened:
		return "opened"
	case EventClosed:
		return "closed"
	case EventMailboxDeleted:
		return "deleted"
	case EventMailboxRenamed:
		return "renamed"
	case EventSubscribed:
		return "subscribed"
	case EventUnsubscribed:
		return "unsubscribed"
	case EventMessageExpunged:
		return "message_expunged"
	case EventMessagesVanished:
		return "messages_vanished"
	case EventMessageFlagsChanged:
		return "message_flags_changed"
	case EventMessageLabelsChanged:
		return "message_labels_changed"
	case EventAnnotationsChanged:
		return "annotations_changed"
	case EventMessageSummaryFetched:
		return "message_summary_fetched"
	case EventMetadataChanged:
		return "metadata_changed"
	case EventModSeqChanged:
		return "mod_seq_changed"
	case EventHighestModSeqChanged:
		return "highest_mod_seq_changed"
	case EventUIDNextChanged:
		return "uid_next_changed"
	case EventUIDValidityChanged:
		return "uid_validity_changed"
	case EventIDChanged:
		return "id_changed"
	case EventSizeChanged:
		return "size_changed"
	case EventCountChanged:
		return "count_changed"
	case EventRecentChanged:
		return "recent_changed"
	case EventUnreadChanged:
		return "unread_changed"
	case EventDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Event is one notification delivered to Listen callbacks. Which fields are
// populated depends on Kind:
//   - Seq/UIDs/Earlier: MessageExpunged/MessagesVanished
//   - Seq/Flags/Keywords/ModSeq: MessageFlagsChanged
//   - Seq/Labels/ModSeq: MessageLabelsChanged
//   - Seq/Annotations/ModSeq: AnnotationsChanged
//   - Summary: MessageSummaryFetched
//   - MetadataTag/MetadataValue: MetadataChanged
//   - Seq/ModSeq: ModSeqChanged
//   - ID: IDChanged
//   - OldName: MailboxRenamed/MailboxDeleted/Subscribed/Unsubscribed
type Event struct {
	Kind    EventKind
	Folder  *Folder
	Seq     uint32
	UIDs    []uint32
	Earlier bool
	ModSeq  int64
	Flags   []string
	Keywords []string
	Labels  []string
	Annotations map[string][]byte
	Summary *imaptype.MessageSummary

	MetadataTag   string
	MetadataValue []byte

	ID map[string]string

	OldName string
}

// Subscriber receives events synchronously, on whatever goroutine is
// dispatching the engine response that produced them. A subscriber must
// never call back into the Client: doing so would deadlock against the
// engine session mutex already held by the dispatch in progress.
type Subscriber func(Event)

type eventBus struct {
	subs []Subscriber
}

func (b *eventBus) subscribe(s Subscriber) (remove func()) {
	b.subs = append(b.subs, s)
	idx := len(b.subs) - 1
	return func() { b.subs[idx] = nil }
}

func (b *eventBus) publish(e Event) {
	for _, s := range b.subs {
		if s != nil {
			s(e)
		}
	}
}

// Listen registers a callback for every folder event the Client observes, in
// arrival order, ahead of the tagged completion that triggered them being
// surfaced to whichever caller issued the underlying command. Named Listen
// rather than Subscribe to avoid colliding with the IMAP SUBSCRIBE operation.
func (c *Client) Listen(s Subscriber) (remove func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bus.subscribe(s)
}
