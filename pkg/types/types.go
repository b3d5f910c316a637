// Package types defines core types for the cast-bot responder.
package types

import "time"

// ParentRef points at the post a reply answers.
type ParentRef struct {
	ID       string `json:"id"`
	AuthorID string `json:"author_id"`
}

// Author is a feed account profile.
type Author struct {
	ID          string `json:"id"`
	Handle      string `json:"handle"`
	DisplayName string `json:"display_name"`
}

// Post represents a single feed item (a "cast").
type Post struct {
	ID        string     `json:"id"` // Opaque stable hash
	AuthorID  string     `json:"author_id"`
	Author    Author     `json:"author"` // Profile as returned by the gateway
	Text      string     `json:"text"`
	CreatedAt time.Time  `json:"created_at"`
	Parent    *ParentRef `json:"parent,omitempty"`
}

// IsReply reports whether the post answers another post.
func (p *Post) IsReply() bool {
	return p.Parent != nil && p.Parent.ID != ""
}

// ReplyTarget identifies the post a reply is addressed to.
type ReplyTarget struct {
	AuthorID string `json:"author_id"`
	PostID   string `json:"post_id"`
}

// Content is the body of a memory record or a generated reply.
type Content struct {
	Text      string `json:"text"`
	InReplyTo string `json:"in_reply_to,omitempty"` // Memory record ID
	Action    string `json:"action,omitempty"`
	Source    string `json:"source,omitempty"`
}

// RecordKind distinguishes the memory records the responder writes.
type RecordKind string

const (
	KindInbound     RecordKind = "inbound"     // A post the agent received
	KindOutbound    RecordKind = "outbound"    // A post the agent sent
	KindDisposition RecordKind = "disposition" // Final decision for an inbound post
)

// MemoryRecord is the durable record of a processed inbound or outbound post.
type MemoryRecord struct {
	ID        string     `json:"id"`
	Kind      RecordKind `json:"kind"`
	RoomID    string     `json:"room_id"`
	UserID    string     `json:"user_id"`
	AgentID   string     `json:"agent_id"`
	PostID    string     `json:"post_id,omitempty"`
	Content   Content    `json:"content"`
	CreatedAt time.Time  `json:"created_at"`
}

// Verdict is the classifier output for a candidate.
type Verdict string

const (
	VerdictRespond Verdict = "RESPOND"
	VerdictIgnore  Verdict = "IGNORE"
	VerdictStop    Verdict = "STOP"
)

// ShouldRespond reports whether the verdict asks for a reply.
func (v Verdict) ShouldRespond() bool {
	return v == VerdictRespond
}

// RespondPolicy decides how the should-respond verdict is used.
type RespondPolicy string

const (
	PolicyAdvisory RespondPolicy = "advisory" // Verdict is logged, generation always runs
	PolicyEnforce  RespondPolicy = "enforce"  // Non-respond verdicts skip the candidate
)

// Well-known action tags.
const (
	ActionNone     = "NONE"
	ActionContinue = "CONTINUE"
	ActionIgnore   = "IGNORE"
)

// Disposition outcomes stored in the action field of disposition records.
const (
	DispositionReplied  = "REPLIED"
	DispositionDeclined = "DECLINED"
	DispositionSilent   = "SILENT"
)
