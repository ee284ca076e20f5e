package models

import (
	"time"
)

// SlotTag identifies a question slot within a report type.
type SlotTag string

// SlotState tracks a slot through a generation run.
type SlotState string

const (
	SlotStatePending    SlotState = "pending"
	SlotStateInProgress SlotState = "in_progress"
	SlotStateAnswered   SlotState = "answered"
	SlotStateFailed     SlotState = "failed"
)

// Kind tells whether an answer is text for the reader or a diagram description.
type Kind string

const (
	KindProse Kind = "prose"
	KindGraph Kind = "graph"
)

// Slot is one ordered question/answer step of a report.
type Slot struct {
	Tag      SlotTag   `db:"tag"`
	Title    string    `db:"title"`
	Position int       `db:"position"`
	State    SlotState `db:"state"`
	Kind     Kind      `db:"kind"`
	Answer   string    `db:"answer"`
	Updated  time.Time `db:"-"`
}

// Role of a conversation message author.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry of a conversation session.
type Message struct {
	Role    Role      `db:"role"`
	Content string    `db:"content"`
	Created time.Time `db:"-"`
}
