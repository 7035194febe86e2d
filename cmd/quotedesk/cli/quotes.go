// Package cli holds the operator helpers behind the quotedesk subcommands.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/odyssey-erp/quotedesk/internal/quotes"
)

// QuoteCreator stores operator drafts.
type QuoteCreator interface {
	Create(ctx context.Context, d quotes.Draft) (*quotes.Quote, error)
}

// ImportResult describes one imported draft.
type ImportResult struct {
	Reference string `json:"reference,omitempty"`
	Token     string `json:"token,omitempty"`
	Error     string `json:"error,omitempty"`
}

// ImportQuotes reads a JSON array (or a single object) of drafts and creates
// each one. It keeps going past invalid drafts and reports them per entry.
func ImportQuotes(ctx context.Context, creator QuoteCreator, in io.Reader, baseURL string) ([]ImportResult, error) {
	raw, err := io.ReadAll(in)
	if err != nil {
		return nil, fmt.Errorf("read drafts: %w", err)
	}
	var drafts []quotes.Draft
	if err := json.Unmarshal(raw, &drafts); err != nil {
		var single quotes.Draft
		if err2 := json.Unmarshal(raw, &single); err2 != nil {
			return nil, fmt.Errorf("decode drafts: %w", err)
		}
		drafts = []quotes.Draft{single}
	}
	if len(drafts) == 0 {
		return nil, errors.New("no drafts in input")
	}

	results := make([]ImportResult, 0, len(drafts))
	failed := 0
	for _, d := range drafts {
		q, err := creator.Create(ctx, d)
		if err != nil {
			failed++
			results = append(results, ImportResult{Reference: d.Reference, Error: err.Error()})
			continue
		}
		results = append(results, ImportResult{
			Reference: q.Reference,
			Token:     baseURL + "/q/" + q.Token.String(),
		})
	}
	if failed == len(drafts) {
		return results, fmt.Errorf("all %d drafts failed", failed)
	}
	return results, nil
}
