package vendors

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/meilisearch/meilisearch-go"

	"github.com/inkwell-app/inkwell/db"
	"github.com/inkwell-app/inkwell/log"
)

var meiliLogger = log.GetLogger("Meilisearch")

// MeiliClient mirrors completed entries into a Meilisearch index so journal
// text is full-text searchable. The mirror is best-effort: index writes never
// gate the pipeline.
type MeiliClient struct {
	client   meilisearch.ServiceManager
	index    meilisearch.IndexManager
	indexUID string
}

// entryDocument is the flattened shape stored in the search index
type entryDocument struct {
	EntryID   string `json:"entryId"`
	OwnerID   string `json:"ownerId"`
	Title     string `json:"title"`
	EntryDate string `json:"entryDate,omitempty"`
	Text      string `json:"text"`
	State     string `json:"state"`
	UpdatedAt string `json:"updatedAt"`
}

// NewMeiliClient connects to Meilisearch and targets the given index.
// Returns nil when no host is configured; callers treat a nil client as
// "vendor disabled".
func NewMeiliClient(host, apiKey, indexUID string) *MeiliClient {
	if host == "" {
		meiliLogger.Warn().Msg("MEILI_HOST not configured, Meilisearch disabled")
		return nil
	}

	client := meilisearch.New(host, meilisearch.WithAPIKey(apiKey))

	if _, err := client.Health(); err != nil {
		meiliLogger.Error().Err(err).Msg("failed to connect to Meilisearch")
		return nil
	}

	meiliLogger.Info().Str("host", host).Str("index", indexUID).Msg("Meilisearch initialized")

	return &MeiliClient{
		client:   client,
		index:    client.Index(indexUID),
		indexUID: indexUID,
	}
}

// SyncEntry upserts one completed entry into the index
func (m *MeiliClient) SyncEntry(ctx context.Context, entry *db.JournalEntry) error {
	if m == nil {
		return nil
	}

	doc := entryDocument{
		EntryID:   entry.ID,
		OwnerID:   entry.OwnerID,
		State:     entry.State,
		UpdatedAt: time.UnixMilli(entry.UpdatedAt).UTC().Format(time.RFC3339),
	}
	if entry.Title != nil {
		doc.Title = *entry.Title
	}
	if entry.EntryDate != nil {
		doc.EntryDate = *entry.EntryDate
	}
	if entry.ExtractedText != nil {
		doc.Text = *entry.ExtractedText
	}

	primaryKey := "entryId"
	if _, err := m.index.AddDocuments([]entryDocument{doc}, &meilisearch.DocumentOptions{PrimaryKey: &primaryKey}); err != nil {
		return fmt.Errorf("meilisearch upsert: %w", err)
	}

	meiliLogger.Debug().Str("entryId", entry.ID).Msg("entry synced to search index")
	return nil
}

// RemoveEntry deletes one entry's document from the index. Missing documents
// are not an error.
func (m *MeiliClient) RemoveEntry(ctx context.Context, entryID string) error {
	if m == nil {
		return nil
	}

	if _, err := m.index.DeleteDocument(entryID, nil); err != nil {
		if strings.Contains(err.Error(), "document_not_found") {
			return nil
		}
		return fmt.Errorf("meilisearch delete: %w", err)
	}

	return nil
}
