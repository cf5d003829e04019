// internal/store/search/mirror.go
package search

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"loan-pipeline/internal/models"

	"github.com/elastic/go-elasticsearch/v8"
)

var ErrIndexFailed = errors.New("SEARCH_INDEX_FAILED")

// IndexMapping is the mapping of the ProcessedLoan index.
var IndexMapping = []byte(`{
  "mappings": {
    "properties": {
      "applicantId":  {"type": "keyword"},
      "amount":       {"type": "double"},
      "currency":     {"type": "keyword"},
      "loanDate":     {"type": "date"},
      "status":       {"type": "keyword"},
      "enrichedData": {"properties": {"creditScore": {"type": "integer"}}},
      "createdAt":    {"type": "date"},
      "updatedAt":    {"type": "date"}
    }
  }
}`)

// Mirror copies ProcessedLoans into an Elasticsearch index keyed by record id.
type Mirror struct {
	client *elasticsearch.Client
	index  string
}

func NewMirror(client *elasticsearch.Client, index string) *Mirror {
	return &Mirror{client: client, index: index}
}

// document hides the record id; Elasticsearch rejects _id inside a source.
type document struct {
	*models.ProcessedLoan
	ID string `json:"_id,omitempty"`
}

// IndexLoan writes loan as a document whose id is the ProcessedLoan id.
// Re-indexing the same loan overwrites the document.
func (m *Mirror) IndexLoan(ctx context.Context, loan *models.ProcessedLoan) error {
	body, err := json.Marshal(document{ProcessedLoan: loan})
	if err != nil {
		return fmt.Errorf("%w: marshal: %v", ErrIndexFailed, err)
	}

	res, err := m.client.Index(
		m.index,
		bytes.NewReader(body),
		m.client.Index.WithContext(ctx),
		m.client.Index.WithDocumentID(loan.ID),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrIndexFailed, err)
	}
	defer res.Body.Close()

	if res.IsError() {
		msg, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return fmt.Errorf("%w: %s: %s", ErrIndexFailed, res.Status(), bytes.TrimSpace(msg))
	}
	return nil
}
