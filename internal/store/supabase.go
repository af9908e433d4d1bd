package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/supabase-community/supabase-go"

	"github.com/ash-1hat/Pre-Screening-Tool/internal/record"
)

// RecordStore uploads completed pre-screening records to a Supabase storage
// bucket as JSON. Uploads are best-effort: a failure is reported to the
// caller for logging but never blocks the interview flow.
type RecordStore struct {
	client *supabase.Client
	bucket string
}

// New creates a record store. URL or key left empty yields a disabled store
// that logs and drops uploads, so local development works without Supabase.
func New(url, serviceRoleKey, bucket string) (*RecordStore, error) {
	if url == "" || serviceRoleKey == "" {
		log.Println("supabase not configured, records will not be persisted")
		return &RecordStore{bucket: bucket}, nil
	}
	client, err := supabase.NewClient(url, serviceRoleKey, &supabase.ClientOptions{})
	if err != nil {
		return nil, fmt.Errorf("store: create supabase client: %w", err)
	}
	if bucket == "" {
		bucket = "pre-screenings"
	}
	return &RecordStore{client: client, bucket: bucket}, nil
}

// Save uploads the record as prescreenings/<sessionID>.json.
func (s *RecordStore) Save(ctx context.Context, rec record.Record) error {
	if s.client == nil {
		log.Printf("dropping record for session %s, storage disabled", rec.SessionID)
		return nil
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("store: marshal record: %w", err)
	}
	key := fmt.Sprintf("prescreenings/%s.json", rec.SessionID)
	if _, err := s.client.Storage.UploadFile(s.bucket, key, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("store: upload record: %w", err)
	}
	log.Printf("record for session %s uploaded to %s/%s", rec.SessionID, s.bucket, key)
	return nil
}
