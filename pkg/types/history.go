package types

import "time"

// HistoryKind 历史条目类型
type HistoryKind string

const (
	HistoryCreated    HistoryKind = "created"
	HistoryUpdated    HistoryKind = "updated"
	HistoryTransition HistoryKind = "transition"
	HistoryCloned     HistoryKind = "cloned"
	HistoryActivated  HistoryKind = "activated"
	HistoryDisabled   HistoryKind = "deactivated"
	HistoryDeleted    HistoryKind = "deleted"
	HistoryLocked     HistoryKind = "locked"
	HistoryUnlocked   HistoryKind = "unlocked"
	HistoryArchived   HistoryKind = "archived"
)

// HistoryEntry 模板与记录共用的审计条目,追加后不可修改
type HistoryEntry struct {
	Sequence  int         `json:"sequence" yaml:"sequence"`
	Kind      HistoryKind `json:"kind" yaml:"kind"`
	Actor     string      `json:"actor" yaml:"actor"`
	Timestamp time.Time   `json:"timestamp" yaml:"timestamp"`
	From      string      `json:"from,omitempty" yaml:"from,omitempty"`
	To        string      `json:"to,omitempty" yaml:"to,omitempty"`
	Note      string      `json:"note,omitempty" yaml:"note,omitempty"`
	Diff      string      `json:"diff,omitempty" yaml:"diff,omitempty"` // 模板编辑的文本差异
}
