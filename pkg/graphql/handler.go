package graphql

import (
	"encoding/json"
	"net/http"

	"github.com/graphql-go/graphql"

	"github.com/mpcvote/mpcvote/pkg/registry"
)

// Handler serves GraphQL HTTP requests.
type Handler struct {
	schema graphql.Schema
}

// NewHandler builds the schema and wraps it in an HTTP handler.
func NewHandler(reg *registry.Registry, tallies TallyProvider) (*Handler, error) {
	schema, err := Schema(reg, tallies)
	if err != nil {
		return nil, err
	}
	return &Handler{schema: schema}, nil
}

// Request is one GraphQL HTTP request body.
type Request struct {
	Query         string                 `json:"query"`
	OperationName string                 `json:"operationName"`
	Variables     map[string]interface{} `json:"variables"`
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "GraphQL only accepts POST requests", http.StatusMethodNotAllowed)
		return
	}

	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeQueryError(w, "invalid request body")
		return
	}

	result := graphql.Do(graphql.Params{
		Schema:         h.schema,
		RequestString:  req.Query,
		VariableValues: req.Variables,
		OperationName:  req.OperationName,
		Context:        r.Context(),
	})

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}

func writeQueryError(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"errors": []map[string]interface{}{{"message": message}},
	})
}
