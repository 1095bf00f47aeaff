package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"time"

	"github.com/elastic/go-elasticsearch/v9"
	"github.com/google/uuid"

	"github.com/dkoroteev/socialnet/pkg/logging"
)

// Event is a security incident written to the audit index for operator
// investigation.
type Event struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	UserID     uint      `json:"user_id"`
	Username   string    `json:"username"`
	SessionIDs []string  `json:"session_ids"`
	Reason     string    `json:"reason"`
	At         time.Time `json:"at"`
}

// Indexer writes security events to Elasticsearch, fire-and-forget. A nil
// Indexer or nil client is a no-op, so the service runs fine without ES.
type Indexer struct {
	ES    *elasticsearch.Client
	Index string
}

func NewIndexer(es *elasticsearch.Client, index string) *Indexer {
	if index == "" {
		index = "session-audit"
	}
	return &Indexer{ES: es, Index: index}
}

func (i *Indexer) IndexBlockEvent(ctx context.Context, userID uint, username string, sessionIDs []string, reason string, at time.Time) {
	if i == nil || i.ES == nil {
		return
	}
	l := logging.FromContext(ctx).With("svc", "session.audit")

	ev := Event{
		ID:         uuid.NewString(),
		Type:       "sessions_blocked",
		UserID:     userID,
		Username:   username,
		SessionIDs: sessionIDs,
		Reason:     reason,
		At:         at,
	}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(ev); err != nil {
		l.Error("audit_encode_failed", "error", err)
		return
	}

	res, err := i.ES.Index(
		i.Index,
		&buf,
		i.ES.Index.WithContext(ctx),
		i.ES.Index.WithDocumentID(ev.ID),
	)
	if err != nil {
		l.Error("audit_index_failed", "error", err)
		return
	}
	defer res.Body.Close()
	if res.IsError() {
		l.Error("audit_index_failed", "status", res.Status())
	}
}
