// Package graphql exposes an opt-in, read-only GraphQL API over votes,
// parties and tallies. Casting never goes through GraphQL.
package graphql

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/graphql-go/graphql"

	"github.com/mpcvote/mpcvote/pkg/coordinator"
	"github.com/mpcvote/mpcvote/pkg/registry"
)

// TallyProvider reconstructs a vote's result. *coordinator.Coordinator
// satisfies it; tests substitute a stub.
type TallyProvider interface {
	Tally(ctx context.Context, voteID int64) (*coordinator.TallyResult, error)
}

// Schema builds the read-only query schema.
func Schema(reg *registry.Registry, tallies TallyProvider) (graphql.Schema, error) {
	voteType := graphql.NewObject(graphql.ObjectConfig{
		Name:        "Vote",
		Description: "An election",
		Fields: graphql.Fields{
			"id":          &graphql.Field{Type: graphql.NewNonNull(graphql.Int)},
			"title":       &graphql.Field{Type: graphql.NewNonNull(graphql.String)},
			"description": &graphql.Field{Type: graphql.String},
			"status":      &graphql.Field{Type: graphql.NewNonNull(graphql.String)},
			"startAt":     &graphql.Field{Type: graphql.String},
			"endAt":       &graphql.Field{Type: graphql.String},
			"createdAt":   &graphql.Field{Type: graphql.String},
		},
	})

	partyType := graphql.NewObject(graphql.ObjectConfig{
		Name:        "Party",
		Description: "A candidate party within a vote",
		Fields: graphql.Fields{
			"id":        &graphql.Field{Type: graphql.NewNonNull(graphql.Int)},
			"voteId":    &graphql.Field{Type: graphql.NewNonNull(graphql.Int)},
			"name":      &graphql.Field{Type: graphql.NewNonNull(graphql.String)},
			"code":      &graphql.Field{Type: graphql.String},
			"symbolUrl": &graphql.Field{Type: graphql.String},
			"isActive":  &graphql.Field{Type: graphql.NewNonNull(graphql.Boolean)},
		},
	})

	partyTallyType := graphql.NewObject(graphql.ObjectConfig{
		Name:        "PartyTally",
		Description: "Reconstructed total for one party",
		Fields: graphql.Fields{
			"partyId":    &graphql.Field{Type: graphql.NewNonNull(graphql.Int)},
			"totalVotes": &graphql.Field{Type: graphql.NewNonNull(graphql.Int)},
		},
	})

	tallyType := graphql.NewObject(graphql.ObjectConfig{
		Name:        "Tally",
		Description: "Reconstructed outcome of one vote",
		Fields: graphql.Fields{
			"voteId": &graphql.Field{Type: graphql.NewNonNull(graphql.Int)},
			"tally":  &graphql.Field{Type: graphql.NewList(partyTallyType)},
			// The modulus exceeds 32-bit Int range, so it travels as a string.
			"modulus": &graphql.Field{Type: graphql.NewNonNull(graphql.String)},
			"nodeA":   &graphql.Field{Type: graphql.String},
			"nodeB":   &graphql.Field{Type: graphql.String},
		},
	})

	queryType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Query",
		Fields: graphql.Fields{
			"vote": &graphql.Field{
				Type:        voteType,
				Description: "Fetch one vote by id",
				Args: graphql.FieldConfigArgument{
					"id": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.Int)},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					v, err := reg.GetVote(int64(p.Args["id"].(int)))
					if err != nil {
						return nil, err
					}
					return voteToMap(v), nil
				},
			},
			"votes": &graphql.Field{
				Type:        graphql.NewList(voteType),
				Description: "List all votes, newest first",
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					votes, err := reg.ListVotes()
					if err != nil {
						return nil, err
					}
					out := make([]map[string]interface{}, 0, len(votes))
					for i := range votes {
						out = append(out, voteToMap(&votes[i]))
					}
					return out, nil
				},
			},
			"parties": &graphql.Field{
				Type:        graphql.NewList(partyType),
				Description: "List a vote's parties",
				Args: graphql.FieldConfigArgument{
					"voteId":     &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.Int)},
					"activeOnly": &graphql.ArgumentConfig{Type: graphql.Boolean, DefaultValue: false},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					activeOnly, _ := p.Args["activeOnly"].(bool)
					parties, err := reg.ListParties(int64(p.Args["voteId"].(int)), activeOnly)
					if err != nil {
						return nil, err
					}
					out := make([]map[string]interface{}, 0, len(parties))
					for i := range parties {
						out = append(out, partyToMap(&parties[i]))
					}
					return out, nil
				},
			},
			"tally": &graphql.Field{
				Type:        tallyType,
				Description: "Reconstruct a vote's result from both share nodes",
				Args: graphql.FieldConfigArgument{
					"voteId": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.Int)},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					result, err := tallies.Tally(p.Context, int64(p.Args["voteId"].(int)))
					if err != nil {
						return nil, err
					}
					rows := make([]map[string]interface{}, 0, len(result.Tally))
					for _, pt := range result.Tally {
						rows = append(rows, map[string]interface{}{
							"partyId":    pt.PartyID,
							"totalVotes": pt.TotalVotes,
						})
					}
					return map[string]interface{}{
						"voteId":  result.VoteID,
						"tally":   rows,
						"modulus": strconv.FormatInt(result.Modulus, 10),
						"nodeA":   result.Nodes["A"],
						"nodeB":   result.Nodes["B"],
					}, nil
				},
			},
		},
	})

	schema, err := graphql.NewSchema(graphql.SchemaConfig{Query: queryType})
	if err != nil {
		return graphql.Schema{}, fmt.Errorf("failed to build schema: %w", err)
	}
	return schema, nil
}

func voteToMap(v *registry.Vote) map[string]interface{} {
	m := map[string]interface{}{
		"id":          v.ID,
		"title":       v.Title,
		"description": v.Description,
		"status":      string(v.Status),
		"createdAt":   v.CreatedAt.Format(time.RFC3339),
	}
	if v.StartAt != nil {
		m["startAt"] = v.StartAt.Format(time.RFC3339)
	}
	if v.EndAt != nil {
		m["endAt"] = v.EndAt.Format(time.RFC3339)
	}
	return m
}

func partyToMap(p *registry.Party) map[string]interface{} {
	return map[string]interface{}{
		"id":        p.ID,
		"voteId":    p.VoteID,
		"name":      p.Name,
		"code":      p.Code,
		"symbolUrl": p.SymbolURL,
		"isActive":  p.IsActive,
	}
}
