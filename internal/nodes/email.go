package nodes

import (
	"context"
	"fmt"
	"strings"

	"github.com/flosch/pongo2/v6"

	"botflow/internal/dispatch"
	"botflow/internal/graph"
	"botflow/internal/state"
)

type SendEmailParams struct {
	To      []string `json:"to" validate:"required,min=1,dive,email"`
	CC      []string `json:"cc" validate:"omitempty,dive,email"`
	Subject string   `json:"subject" validate:"required"`
	Body    string   `json:"body"`
	IsHTML  bool     `json:"isHtml"`
}

// sendEmailNode enqueues an email job without blocking the run. Its own
// output is a human-readable summary of what was queued.
type sendEmailNode struct {
	nodeID string
	params SendEmailParams
	body   *pongo2.Template
	deps   *Deps
}

func buildSendEmail(node graph.Node, deps *Deps) (Runtime, error) {
	p, err := params[SendEmailParams](node)
	if err != nil {
		return nil, err
	}
	body := p.Body
	if body == "" {
		body = "{{ input }}"
	}
	tpl, err := parseTemplate(body)
	if err != nil {
		return nil, &NodeBuildError{NodeID: node.ID, Err: fmt.Errorf("bad email body template: %w", err)}
	}
	return &sendEmailNode{nodeID: node.ID, params: p, body: tpl, deps: deps}, nil
}

func (slf *sendEmailNode) Process(ctx context.Context, view *state.View) (*state.Delta, error) {
	rendered, err := slf.body.Execute(pongo2.Context{
		"input":       view.Input(),
		"participant": view.Participant(),
		"session":     view.Session(),
	})
	if err != nil {
		return nil, fmt.Errorf("render email body: %w", err)
	}

	job := dispatch.EmailJob{
		To:      slf.params.To,
		CC:      slf.params.CC,
		Subject: slf.params.Subject,
		Body:    rendered,
		IsHTML:  slf.params.IsHTML,
	}
	if err := slf.deps.Dispatcher.Dispatch("email", job); err != nil {
		return nil, fmt.Errorf("dispatch email: %w", err)
	}

	summary := fmt.Sprintf("queued email %q to %s", slf.params.Subject, strings.Join(slf.params.To, ", "))
	return &state.Delta{
		NodeID: slf.nodeID,
		Output: &state.Output{Content: summary, At: slf.deps.now()},
	}, nil
}
