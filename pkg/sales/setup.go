package sales

import (
	"context"

	"github.com/harunnryd/closer/pkg/agent"
	"github.com/harunnryd/closer/pkg/outcome"
	"github.com/harunnryd/closer/pkg/transcript"
)

// Setup returns the session setup of the sales agent. Every session gets its
// own outcome record and tool registry; the session ends once the record
// reaches a terminal state, and writer, when set, saves the transcript at
// shutdown. A writer without logger or observer uses the session's.
func Setup(cfg agent.Config, writer *transcript.Writer) agent.SessionSetup {
	prompt := SystemPrompt(cfg, ProductFromConfig(cfg.Sales.Product))
	return func(_ context.Context, s *agent.Session) error {
		rec := outcome.New(cfg.Sales.Prompts)
		tools := NewToolRegistry(rec, s.Logger(), s.Observer(), s.ID())
		s.SetUserdata(tools)
		s.SetInstructions(prompt)
		s.SetTools(tools)
		s.SetEndCondition(tools.Completed)
		if writer != nil {
			w := *writer
			if w.Logger == nil {
				w.Logger = s.Logger()
			}
			if w.Observer == nil {
				w.Observer = s.Observer()
			}
			s.OnShutdown(w.ShutdownHook(s.Room(), s.History(), tools))
		}
		return nil
	}
}
