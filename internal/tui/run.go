package tui

import (
	"context"
	"fmt"
	"io"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"edcomposer/internal/compositions"
	"edcomposer/internal/config"
	"edcomposer/internal/pkg/errors"
	"edcomposer/internal/pkg/logger"
	"edcomposer/internal/render"
)

const closeTimeout = 5 * time.Second

// ErrCancelled is returned by Run when the user cancelled the render.
var ErrCancelled = errors.New(errors.CodeCancelled, "render cancelled")

// Options configures Run.
type Options struct {
	Config        config.Config
	CompositionID string
	Topic         string
	// Out receives the output URL after the UI exits.
	Out io.Writer
	Log *logger.Logger
}

// Run renders one composition against the configured backend and prints the
// output URL on success.
func Run(ctx context.Context, opts Options) error {
	log := opts.Log
	if log == nil {
		log = logger.Discard()
	}

	props := map[string]any{}
	if opts.Topic != "" {
		props["prompt"] = opts.Topic
	}
	catalog := compositions.NewStaticCatalog(compositions.Builtin()...)
	req, err := compositions.Resolve(ctx, catalog, opts.CompositionID, props)
	if err != nil {
		return err
	}

	backend, err := render.NewHTTPClient(opts.Config.Renderer.BaseURL, opts.Config.Renderer.RequestTimeout.Std())
	if err != nil {
		return err
	}

	var p *tea.Program
	orch := render.New(render.Deps{
		Backend:    backend,
		Config:     opts.Config.Orchestrator(),
		Log:        log,
		OnSnapshot: func(s render.Snapshot) { p.Send(snapshotMsg(s)) },
		OnComplete: func(o render.Outcome) { p.Send(outcomeMsg(o)) },
	})
	p = tea.NewProgram(NewModel(orch, req, opts.Topic), tea.WithContext(ctx))

	final, runErr := p.Run()

	closeCtx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	if err := orch.Close(closeCtx); err != nil {
		log.Warn("orchestrator close failed", "error", err.Error())
	}

	if runErr != nil {
		if ctx.Err() != nil {
			return ErrCancelled
		}
		return runErr
	}
	return report(final.(Model), opts.Out)
}

func report(m Model, out io.Writer) error {
	if err := m.Err(); err != nil {
		return err
	}
	o, ok := m.Outcome()
	if !ok {
		if m.Cancelled() {
			return ErrCancelled
		}
		return errors.New(errors.CodeInternal, "render did not finish")
	}
	switch o.Kind {
	case render.OutcomeSucceeded:
		if out != nil {
			fmt.Fprintln(out, o.OutputURL())
		}
		return nil
	case render.OutcomeCancelled:
		return ErrCancelled
	default:
		return o.Err
	}
}
