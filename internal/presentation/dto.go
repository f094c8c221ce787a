package presentation

import (
	"time"

	"github.com/zjrosen/hotswap/internal/journal"
	"github.com/zjrosen/hotswap/internal/registry"
)

// RecordDTO is a registered script for output.
type RecordDTO struct {
	Name         string    `json:"name"`
	Type         string    `json:"type"`
	Source       string    `json:"source,omitempty"`
	Backend      string    `json:"backend,omitempty"`
	Capabilities string    `json:"capabilities"`
	Generation   string    `json:"generation"`
	RegisteredAt time.Time `json:"registered_at"`
}

// FromRecord converts a registry record.
func FromRecord(rec registry.Record) RecordDTO {
	return RecordDTO{
		Name:         rec.Name,
		Type:         rec.TypeTag,
		Source:       rec.SourcePath,
		Backend:      rec.Backend,
		Capabilities: rec.Caps.String(),
		Generation:   rec.ID,
		RegisteredAt: rec.RegisteredAt,
	}
}

// FromRecords converts a slice of records.
func FromRecords(recs []registry.Record) []RecordDTO {
	dtos := make([]RecordDTO, len(recs))
	for i, rec := range recs {
		dtos[i] = FromRecord(rec)
	}
	return dtos
}

// EntryDTO is a journal row for output.
type EntryDTO struct {
	Seq        uint64    `json:"seq"`
	Kind       string    `json:"kind"`
	Name       string    `json:"name,omitempty"`
	Type       string    `json:"type,omitempty"`
	Source     string    `json:"source,omitempty"`
	Backend    string    `json:"backend,omitempty"`
	Generation string    `json:"generation,omitempty"`
	Message    string    `json:"message,omitempty"`
	At         time.Time `json:"at"`
}

// FromEntry converts a journal entry.
func FromEntry(e journal.Entry) EntryDTO {
	return EntryDTO{
		Seq:        e.Seq,
		Kind:       string(e.Kind),
		Name:       e.Name,
		Type:       e.TypeTag,
		Source:     e.SourcePath,
		Backend:    e.Backend,
		Generation: e.RecordID,
		Message:    e.Message,
		At:         e.CreatedAt,
	}
}

// FromEntries converts a slice of journal entries.
func FromEntries(entries []journal.Entry) []EntryDTO {
	dtos := make([]EntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = FromEntry(e)
	}
	return dtos
}
