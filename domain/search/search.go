package search

import (
	"strconv"
	"strings"
)

// DefaultLimit is the number of hits returned when the query sets none.
const DefaultLimit = 10

// Query is a parsed search typed in a conversation.
// It decouples the raw input from what the index needs.
type Query struct {
	RawInput string
	Terms    string
	SenderID string
	Limit    int
}

// NewSearchQuery parses a raw string with command line style arguments.
// Example: /find invoice march --from bob --limit 5
func NewSearchQuery(input string) Query {
	query := Query{RawInput: input, Limit: DefaultLimit}

	parts := strings.Fields(input)
	var textTerms []string
	for i := 0; i < len(parts); i++ {
		part := parts[i]

		if strings.HasPrefix(part, "--") && i+1 < len(parts) {
			key := strings.TrimPrefix(part, "--")
			val := parts[i+1]
			switch key {
			case "from":
				query.SenderID = val
			case "limit":
				if n, err := strconv.Atoi(val); err == nil && n > 0 {
					query.Limit = n
				}
			}
			i++
			continue
		}

		if !strings.HasPrefix(part, "/") {
			textTerms = append(textTerms, part)
		}
	}

	query.Terms = strings.Join(textTerms, " ")
	return query
}

// Empty is true when there is nothing to look for.
func (q Query) Empty() bool {
	return strings.TrimSpace(q.Terms) == ""
}
