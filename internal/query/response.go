package query

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Row is one NRQL result row as decoded from JSON; numbers are float64.
type Row map[string]any

// Page is one decoded NRQL response page.
// Params: Rows result rows; NextCursor empty when exhausted.
// Returns: parsed page.
type Page struct {
	Rows       []Row
	NextCursor string
}

// QueryError carries GraphQL error messages exactly as returned by the remote.
// Params: Messages remote error messages in response order.
// Returns: error value usable with errors.As.
type QueryError struct {
	Messages []string
}

// Error renders all remote messages.
func (e *QueryError) Error() string {
	return "query rejected: " + strings.Join(e.Messages, "; ")
}

type graphQLResponse struct {
	Data *struct {
		Actor *struct {
			Account *struct {
				NRQL *struct {
					Results    []Row   `json:"results"`
					NextCursor *string `json:"nextCursor"`
				} `json:"nrql"`
			} `json:"account"`
		} `json:"actor"`
	} `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// ParseResponse decodes one GraphQL NRQL response body.
// Params: body raw response bytes.
// Returns: page, *QueryError for GraphQL errors, or decode error for malformed bodies.
func ParseResponse(body []byte) (Page, error) {
	var decoded graphQLResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return Page{}, fmt.Errorf("decode query response: %w", err)
	}

	if len(decoded.Errors) > 0 {
		messages := make([]string, 0, len(decoded.Errors))
		for _, item := range decoded.Errors {
			messages = append(messages, item.Message)
		}
		return Page{}, &QueryError{Messages: messages}
	}

	if decoded.Data == nil || decoded.Data.Actor == nil || decoded.Data.Actor.Account == nil || decoded.Data.Actor.Account.NRQL == nil {
		return Page{}, fmt.Errorf("decode query response: missing data.actor.account.nrql")
	}

	nrql := decoded.Data.Actor.Account.NRQL
	page := Page{Rows: nrql.Results}
	if page.Rows == nil {
		page.Rows = []Row{}
	}
	if nrql.NextCursor != nil {
		page.NextCursor = *nrql.NextCursor
	}
	return page, nil
}
