package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/elastic/go-elasticsearch/v9"
)

const Index = "auth-audit"

type Record struct {
	Type     string    `json:"type"`
	Username string    `json:"username"`
	At       time.Time `json:"at"`
}

// Indexer writes auth events into Elasticsearch for after-the-fact review.
// Best effort: indexing failures are reported to the caller, who logs and
// moves on.
type Indexer struct {
	client *elasticsearch.Client
}

func NewIndexer(url, user, password string) (*Indexer, error) {
	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: []string{url},
		Username:  user,
		Password:  password,
	})
	if err != nil {
		return nil, fmt.Errorf("elasticsearch client: %w", err)
	}

	res, err := client.Info()
	if err != nil {
		return nil, fmt.Errorf("elasticsearch info: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		body, _ := io.ReadAll(res.Body)
		return nil, fmt.Errorf("elasticsearch error: %s: %s", res.Status(), body)
	}

	return &Indexer{client: client}, nil
}

func (i *Indexer) Publish(ctx context.Context, eventType, username string) error {
	data, err := json.Marshal(Record{
		Type:     eventType,
		Username: username,
		At:       time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("audit: marshal record: %w", err)
	}

	res, err := i.client.Index(Index, bytes.NewReader(data),
		i.client.Index.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("audit: index record: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("audit: index record: %s", res.Status())
	}
	return nil
}
