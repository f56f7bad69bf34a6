package core

// ChannelType is the closed channel kind taxonomy.
type ChannelType string

const (
	ChannelDirect ChannelType = "direct"
	ChannelGroup  ChannelType = "group"
)

// Visibility and JoinPolicy form a channel's permission record.
type Visibility string
type JoinPolicy string

const (
	VisibilityPublic  Visibility = "public"
	VisibilityPrivate Visibility = "private"

	JoinOpen       JoinPolicy = "open"
	JoinInviteOnly JoinPolicy = "invite-only"
	JoinRequest    JoinPolicy = "request"
)

// Permissions is a channel's access-control record.
type Permissions struct {
	Visibility    Visibility
	JoinPolicy    JoinPolicy
	ModifyMembers []EntityID
}

// Channel is a messaging context with a fixed member set and permission
// record. Direct channels are immutable post-creation: members,
// permissions, and Name never change.
type Channel struct {
	Element

	ChannelType ChannelType
	Members     []EntityID
	Permissions Permissions

	// Name is the channel's canonical display name. For direct channels
	// it is DirectChannelName(members[0], members[1]); for group
	// channels it is caller-assigned.
	Name string
}

// NewDirectChannel builds a direct channel between exactly two members
// with its immutable invariants: private, invite-only,
// empty modifyMembers, deterministic name.
func NewDirectChannel(id ChannelID, a, b EntityID) (*Channel, error) {
	if a == b {
		return nil, NewError(ErrInvalidInput, "direct channel requires two distinct members")
	}
	return &Channel{
		Element:     Element{ID: ElementID(id), Type: TypeChannel},
		ChannelType: ChannelDirect,
		Members:     []EntityID{a, b},
		Permissions: Permissions{
			Visibility:    VisibilityPrivate,
			JoinPolicy:    JoinInviteOnly,
			ModifyMembers: nil,
		},
		Name: DirectChannelName(a, b),
	}, nil
}

// Message is immutable once created: CreatedAt == UpdatedAt forever, and
// any update/delete attempt fails with IMMUTABLE.
type Message struct {
	Element

	ChannelID   ChannelID
	Sender      EntityID // equals CreatedBy
	ContentRef  DocumentID
	ThreadID    *MessageID // root-message id for replies
	Attachments []DocumentID
}
