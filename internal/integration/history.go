package integration

import (
	"github.com/google/uuid"
	"github.com/mautops/record-gin/internal/model"
	"github.com/mautops/record-gin/pkg/types"
)

func historyToModel(resourceType, resourceID string, e types.HistoryEntry) *model.HistoryModel {
	return &model.HistoryModel{
		ID:           uuid.New().String(),
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Sequence:     e.Sequence,
		Kind:         string(e.Kind),
		Actor:        e.Actor,
		FromRef:      e.From,
		ToRef:        e.To,
		Note:         e.Note,
		Diff:         e.Diff,
		CreatedAt:    e.Timestamp,
	}
}

func historyFromModels(models []*model.HistoryModel) []types.HistoryEntry {
	out := make([]types.HistoryEntry, 0, len(models))
	for _, m := range models {
		out = append(out, types.HistoryEntry{
			Sequence:  m.Sequence,
			Kind:      types.HistoryKind(m.Kind),
			Actor:     m.Actor,
			Timestamp: m.CreatedAt,
			From:      m.FromRef,
			To:        m.ToRef,
			Note:      m.Note,
			Diff:      m.Diff,
		})
	}
	return out
}
