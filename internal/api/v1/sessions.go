package v1

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/querydeck/querydeck/internal/domain"
	"github.com/querydeck/querydeck/internal/history"
	"github.com/querydeck/querydeck/internal/session"
)

type ExecuteQueryInput struct {
	ID   string `path:"id" minLength:"1" maxLength:"128" doc:"Session ID"`
	Body struct {
		Query string `json:"query" minLength:"1" doc:"SQL query to execute"`
	}
}

type ExecuteQueryOutput struct {
	Body *session.QueryOutcome
}

type AskInput struct {
	ID   string `path:"id" minLength:"1" maxLength:"128" doc:"Session ID"`
	Body struct {
		Question string `json:"question" minLength:"1" doc:"Natural-language question"`
	}
}

type AskOutput struct {
	Body struct {
		Answer string `json:"answer"`
	}
}

type GetHistoryInput struct {
	ID   string `path:"id" minLength:"1" maxLength:"128" doc:"Session ID"`
	Full bool   `query:"full" default:"false" doc:"Return untruncated content"`
}

type GetHistoryOutput struct {
	Body struct {
		Messages []domain.Message `json:"messages"`
		Stats    history.Summary  `json:"stats"`
	}
}

type ListResultsInput struct {
	ID string `path:"id" minLength:"1" maxLength:"128" doc:"Session ID"`
}

type ListResultsOutput struct {
	Body []*domain.QueryResult
}

type GetResultInput struct {
	ID    string `path:"id" minLength:"1" maxLength:"128" doc:"Session ID"`
	Index int    `path:"index" minimum:"1" doc:"Query result index"`
}

type GetResultOutput struct {
	Body *domain.QueryResult
}

type ClearHistoryInput struct {
	ID string `path:"id" minLength:"1" maxLength:"128" doc:"Session ID"`
}

type ClearHistoryOutput struct{}

type SetSafeguardInput struct {
	ID   string `path:"id" minLength:"1" maxLength:"128" doc:"Session ID"`
	Body struct {
		Enabled bool `json:"enabled" doc:"Whether dangerous operations are blocked"`
	}
}

type SetSafeguardOutput struct {
	Body struct {
		Enabled bool `json:"enabled"`
	}
}

type ListSessionsOutput struct {
	Body struct {
		Sessions []string `json:"sessions"`
	}
}

func RegisterSessionRoutes(api huma.API, sessions SessionService) {
	huma.Register(api, huma.Operation{
		OperationID: "execute-query",
		Method:      http.MethodPost,
		Path:        "/sessions/{id}/query",
		Summary:     "Execute a SQL query in a session",
		Tags:        []string{"Sessions"},
	}, func(ctx context.Context, input *ExecuteQueryInput) (*ExecuteQueryOutput, error) {
		sess, err := getSession(ctx, sessions, input.ID)
		if err != nil {
			return nil, err
		}

		outcome, err := sess.ExecuteQuery(ctx, input.Body.Query)
		if err != nil {
			return nil, huma.Error500InternalServerError("failed to execute query", err)
		}

		return &ExecuteQueryOutput{Body: outcome}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "ask",
		Method:      http.MethodPost,
		Path:        "/sessions/{id}/ask",
		Summary:     "Ask a natural-language question",
		Tags:        []string{"Sessions"},
	}, func(ctx context.Context, input *AskInput) (*AskOutput, error) {
		sess, err := getSession(ctx, sessions, input.ID)
		if err != nil {
			return nil, err
		}

		answer, err := sess.Ask(ctx, input.Body.Question)
		if err != nil {
			if errors.Is(err, session.ErrTooManyToolRounds) {
				return nil, huma.Error502BadGateway("model did not produce a final answer")
			}
			return nil, huma.Error500InternalServerError("failed to answer question", err)
		}

		out := &AskOutput{}
		out.Body.Answer = answer
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-history",
		Method:      http.MethodGet,
		Path:        "/sessions/{id}/history",
		Summary:     "Get the session conversation history",
		Tags:        []string{"Sessions"},
	}, func(ctx context.Context, input *GetHistoryInput) (*GetHistoryOutput, error) {
		sess, err := getSession(ctx, sessions, input.ID)
		if err != nil {
			return nil, err
		}

		out := &GetHistoryOutput{}
		out.Body.Messages = sess.History(input.Full)
		out.Body.Stats = sess.Stats()
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-results",
		Method:      http.MethodGet,
		Path:        "/sessions/{id}/results",
		Summary:     "List all recorded query results",
		Tags:        []string{"Sessions"},
	}, func(ctx context.Context, input *ListResultsInput) (*ListResultsOutput, error) {
		sess, err := getSession(ctx, sessions, input.ID)
		if err != nil {
			return nil, err
		}

		return &ListResultsOutput{Body: sess.Results()}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-result",
		Method:      http.MethodGet,
		Path:        "/sessions/{id}/results/{index}",
		Summary:     "Get one query result by index",
		Tags:        []string{"Sessions"},
	}, func(ctx context.Context, input *GetResultInput) (*GetResultOutput, error) {
		sess, err := getSession(ctx, sessions, input.ID)
		if err != nil {
			return nil, err
		}

		result, err := sess.Lookup(input.Index)
		if err != nil {
			var nf *history.NotFoundError
			if errors.As(err, &nf) {
				return nil, huma.Error404NotFound(fmt.Sprintf("no query result with index %d (valid: %v)", nf.Index, nf.Valid))
			}
			return nil, huma.Error500InternalServerError("failed to get query result", err)
		}

		return &GetResultOutput{Body: result}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "clear-history",
		Method:        http.MethodDelete,
		Path:          "/sessions/{id}/history",
		Summary:       "Clear the session conversation history",
		Tags:          []string{"Sessions"},
		DefaultStatus: http.StatusNoContent,
	}, func(ctx context.Context, input *ClearHistoryInput) (*ClearHistoryOutput, error) {
		sess, err := getSession(ctx, sessions, input.ID)
		if err != nil {
			return nil, err
		}

		sess.ClearHistory(ctx)
		return &ClearHistoryOutput{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-safeguard",
		Method:      http.MethodPut,
		Path:        "/sessions/{id}/safeguard",
		Summary:     "Enable or disable the dangerous-operation safeguard",
		Tags:        []string{"Sessions"},
	}, func(ctx context.Context, input *SetSafeguardInput) (*SetSafeguardOutput, error) {
		sess, err := getSession(ctx, sessions, input.ID)
		if err != nil {
			return nil, err
		}

		sess.SetSafeguard(input.Body.Enabled)

		out := &SetSafeguardOutput{}
		out.Body.Enabled = sess.SafeguardEnabled()
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-sessions",
		Method:      http.MethodGet,
		Path:        "/sessions",
		Summary:     "List active sessions",
		Tags:        []string{"Sessions"},
	}, func(_ context.Context, _ *struct{}) (*ListSessionsOutput, error) {
		out := &ListSessionsOutput{}
		out.Body.Sessions = sessions.Active()
		return out, nil
	})
}

func getSession(ctx context.Context, sessions SessionService, id string) (Session, error) {
	sess, err := sessions.Get(ctx, id)
	if err != nil {
		if errors.Is(err, session.ErrInvalidSessionID) {
			return nil, huma.Error400BadRequest("invalid session id")
		}
		return nil, huma.Error500InternalServerError("failed to open session", err)
	}
	return sess, nil
}
