// Package events defines the platform's event envelopes and the Kafka
// publisher and consumer that carry them between the content API and the
// ingestion worker.
//
// Purpose:
//   Decouples document upload from document processing. The content API
//   publishes document.uploaded; the ingestion worker consumes it and emits
//   document.processed or document.failed when the pipeline finishes.
//
// Dependencies:
//   - github.com/segmentio/kafka-go: broker transport
//   - github.com/rs/zerolog: structured logging
//
// Key Responsibilities:
//   - Envelope schemas for the three document lifecycle topics
//   - Publisher with synchronous writes and outbox fallback
//   - Consumer with explicit commit after processing (at-least-once)
//
// Thread Safety:
//   - Publisher and Consumer are safe for concurrent use.
package events

import "time"

// Topic event type discriminators carried inside every envelope.
const (
	TypeDocumentUploaded  = "document.uploaded"
	TypeDocumentProcessed = "document.processed"
	TypeDocumentFailed    = "document.failed"
)

// DocumentUploaded announces that a document object is in storage and ready
// for ingestion.
type DocumentUploaded struct {
	EventType   string    `json:"event_type"`
	DocumentID  string    `json:"document_id"`
	OrgID       string    `json:"org_id"`
	StorageKey  string    `json:"s3_key"`
	ContentType string    `json:"content_type"`
	Filename    string    `json:"filename"`
	UploadedAt  time.Time `json:"uploaded_at"`
	Timestamp   time.Time `json:"timestamp"`
}

// DocumentProcessed announces a successful ingestion run.
type DocumentProcessed struct {
	EventType      string    `json:"event_type"`
	DocumentID     string    `json:"document_id"`
	OrgID          string    `json:"org_id"`
	Status         string    `json:"status"`
	ChunksCount    int       `json:"chunks_count"`
	ProcessingTime float64   `json:"processing_time_seconds"`
	Timestamp      time.Time `json:"timestamp"`
}

// DocumentFailed announces a terminally failed ingestion run.
type DocumentFailed struct {
	EventType    string    `json:"event_type"`
	DocumentID   string    `json:"document_id"`
	OrgID        string    `json:"org_id"`
	ErrorCode    string    `json:"error_code"`
	ErrorMessage string    `json:"error_message"`
	RetryCount   int       `json:"retry_count"`
	Timestamp    time.Time `json:"timestamp"`
}
