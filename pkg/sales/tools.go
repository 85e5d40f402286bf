package sales

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/harunnryd/closer/pkg/llm"
	"github.com/harunnryd/closer/pkg/metrics"
	"github.com/harunnryd/closer/pkg/outcome"
	"github.com/harunnryd/closer/pkg/redact"
)

const (
	ToolRecordDecision = "record_purchase_decision"
	ToolRecordName     = "record_name"
	ToolRecordPhone    = "record_phone_number"
)

// ToolRegistry exposes the outcome recorders of one session as tools.
// It guards the record so the runtime may read it while a tool runs.
type ToolRegistry struct {
	mu       sync.Mutex
	rec      *outcome.Record
	tools    []llm.Tool
	handlers map[string]func(map[string]any) (outcome.Result, error)
	log      *slog.Logger
	obs      metrics.Observer
	tags     map[string]string
}

func NewToolRegistry(rec *outcome.Record, log *slog.Logger, obs metrics.Observer, sessionID string) *ToolRegistry {
	if log == nil {
		log = slog.Default()
	}
	if obs == nil {
		obs = metrics.NoopObserver{}
	}
	reg := &ToolRegistry{
		rec:  rec,
		log:  log,
		obs:  obs,
		tags: map[string]string{"session_id": sessionID},
	}
	reg.tools = []llm.Tool{
		{
			Name:        ToolRecordDecision,
			Description: "Record whether the customer wants to buy the product.",
			Schema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"wants_to_buy": map[string]any{"type": "boolean", "description": "True if the customer wants to buy."},
				},
				"required": []string{"wants_to_buy"},
			},
		},
		{
			Name:        ToolRecordName,
			Description: "Record the customer's name after they agreed to buy.",
			Schema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"name": map[string]any{"type": "string", "description": "The customer's full name."},
				},
				"required": []string{"name"},
			},
		},
		{
			Name:        ToolRecordPhone,
			Description: "Record the customer's phone number after their name.",
			Schema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"phone_number": map[string]any{"type": "string", "description": "The customer's phone number."},
				},
				"required": []string{"phone_number"},
			},
		},
	}
	reg.handlers = map[string]func(map[string]any) (outcome.Result, error){
		ToolRecordDecision: reg.recordDecision,
		ToolRecordName:     reg.recordName,
		ToolRecordPhone:    reg.recordPhone,
	}
	return reg
}

func (r *ToolRegistry) Tools() []llm.Tool {
	return r.tools
}

func (r *ToolRegistry) HandleTool(ctx context.Context, name string, args map[string]any) (string, error) {
	h := r.handlers[name]
	if h == nil {
		return "", fmt.Errorf("%w: %s", llm.ErrUnknownTool, name)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	r.mu.Lock()
	res, err := h(args)
	r.mu.Unlock()
	if err != nil {
		return "", err
	}
	r.report(name, res)
	return res.Reply, nil
}

// Completed reports whether the conversation reached a terminal state.
func (r *ToolRegistry) Completed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rec.Completed()
}

func (r *ToolRegistry) Snapshot() outcome.Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rec.Snapshot()
}

func (r *ToolRegistry) recordDecision(args map[string]any) (outcome.Result, error) {
	wants, err := requiredBool(args, "wants_to_buy")
	if err != nil {
		return outcome.Result{}, err
	}
	return r.rec.RecordDecision(wants), nil
}

func (r *ToolRegistry) recordName(args map[string]any) (outcome.Result, error) {
	name, err := requiredString(args, "name")
	if err != nil {
		return outcome.Result{}, err
	}
	return r.rec.RecordName(name), nil
}

func (r *ToolRegistry) recordPhone(args map[string]any) (outcome.Result, error) {
	phone, err := requiredString(args, "phone_number")
	if err != nil {
		return outcome.Result{}, err
	}
	return r.rec.RecordPhone(phone), nil
}

func (r *ToolRegistry) report(tool string, res outcome.Result) {
	if !res.Applied {
		r.log.Info("outcome_call_rejected", "tool_name", tool, "state", res.From.String())
		return
	}
	r.log.Info("outcome_transition", "tool_name", tool, "from", res.From.String(), "to", res.To.String())
	tags := map[string]string{"tool_name": tool, "from": res.From.String(), "to": res.To.String()}
	for k, v := range r.tags {
		tags[k] = v
	}
	r.obs.RecordEvent(metrics.MetricsEvent{
		Name: metrics.EventOutcomeTransition,
		Time: time.Now(),
		Tags: tags,
		Fields: map[string]any{
			"reply": redact.Text(res.Reply),
		},
	})
}

func requiredString(args map[string]any, key string) (string, error) {
	v, ok := args[key]
	if !ok {
		return "", fmt.Errorf("%w: missing %s", llm.ErrInvalidArguments, key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%w: invalid %s", llm.ErrInvalidArguments, key)
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return "", fmt.Errorf("%w: missing %s", llm.ErrInvalidArguments, key)
	}
	return s, nil
}

// requiredBool also accepts "true"/"false" strings, which some models emit.
func requiredBool(args map[string]any, key string) (bool, error) {
	v, ok := args[key]
	if !ok {
		return false, fmt.Errorf("%w: missing %s", llm.ErrInvalidArguments, key)
	}
	switch b := v.(type) {
	case bool:
		return b, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(b)) {
		case "true", "yes":
			return true, nil
		case "false", "no":
			return false, nil
		}
	}
	return false, fmt.Errorf("%w: invalid %s", llm.ErrInvalidArguments, key)
}

var _ llm.ToolRegistry = (*ToolRegistry)(nil)
