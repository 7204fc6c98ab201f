package model

import (
	"time"
)

// DocumentSnapshot is one side of a change notification
type DocumentSnapshot struct {
	Exists bool   `json:"exists"`
	ID     string `json:"id,omitempty"`
	Data   Value  `json:"data"`
}

// ChangeEvent is a document mutation delivered by the document store
type ChangeEvent struct {
	Before    DocumentSnapshot `json:"before"`
	After     DocumentSnapshot `json:"after"`
	FullPath  string           `json:"fullPath"`
	Timestamp *time.Time       `json:"timestamp,omitempty"`
}

// ChangeType derives the lifecycle transition from before/after existence.
// ok is false when the document neither existed before nor after.
func (e ChangeEvent) ChangeType() (ChangeType, bool) {
	switch {
	case !e.Before.Exists && e.After.Exists:
		return ChangeTypeCreated, true
	case e.Before.Exists && e.After.Exists:
		return ChangeTypeUpdated, true
	case e.Before.Exists && !e.After.Exists:
		return ChangeTypeDeleted, true
	}
	return "", false
}

// OccurredAt is the event timestamp, or now when the source sent none
func (e ChangeEvent) OccurredAt(now func() time.Time) time.Time {
	if e.Timestamp != nil && !e.Timestamp.IsZero() {
		return e.Timestamp.UTC()
	}
	return now().UTC()
}

// SourceDocument is a document read during backfill
type SourceDocument struct {
	Path string
	ID   string
	Data Value
}

// BackfillScope is one scan of the document store. Exactly one of
// CollectionPath and CollectionGroup is set; Pattern, when set, filters a
// group scan down to the documents whose parent collection matches it.
type BackfillScope struct {
	CollectionPath  string
	CollectionGroup string
	Pattern         string
}

func (s BackfillScope) String() string {
	if s.CollectionGroup != "" {
		if s.Pattern != "" {
			return "group:" + s.CollectionGroup + " matching " + s.Pattern
		}
		return "group:" + s.CollectionGroup
	}
	return s.CollectionPath
}
