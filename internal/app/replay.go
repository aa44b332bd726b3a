package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/MrWong99/voxact/internal/actuate"
	"github.com/MrWong99/voxact/internal/config"
	"github.com/MrWong99/voxact/internal/dom"
	"github.com/MrWong99/voxact/pkg/provider/nlu"
	"github.com/MrWong99/voxact/pkg/types"
)

// Outcome is the result of one intent during a replay.
type Outcome struct {
	Command string
	Intent  types.Intent
	Success bool
	Err     error
}

// Replay runs text commands against an HTML document without a browser or
// microphone. The page is loaded into an in-memory host, each command goes
// through rec and the actuator, and the resulting document is written to w.
//
// Intents of one command run in order; a failing intent skips the rest of its
// command, as in a live session.
func Replay(ctx context.Context, cfg *config.Config, rec nlu.Recognizer, page io.Reader, commands []string, w io.Writer) ([]Outcome, error) {
	doc, err := dom.Parse(page, markup(cfg.Markup))
	if err != nil {
		return nil, fmt.Errorf("app: replay: %w", err)
	}
	host := dom.NewMemory(doc)

	var actOpts []actuate.Option
	if s := cfg.Actuator.ScrollStep; s > 0 {
		actOpts = append(actOpts, actuate.WithScrollStep(s))
	}
	if z := cfg.Actuator.ZoomStep; z > 0 {
		actOpts = append(actOpts, actuate.WithZoomStep(z))
	}
	// Nothing is left running after the replay to close the dropdown again.
	actOpts = append(actOpts, actuate.WithDropdownRevert(0))
	act := actuate.New(host, actOpts...)

	var out []Outcome
	for _, cmd := range commands {
		intents, err := rec.DetectIntents(ctx, cmd)
		if err != nil {
			return out, fmt.Errorf("app: replay: recognize %q: %w", cmd, err)
		}
		if len(intents) == 0 {
			slog.Info("replay: no intent recognized", "command", cmd)
		}
		for _, in := range intents {
			ok, err := act.Execute(ctx, in)
			out = append(out, Outcome{Command: cmd, Intent: in, Success: ok, Err: err})
			if err != nil {
				break
			}
		}
	}

	rendered, err := doc.Render()
	if err != nil {
		return out, fmt.Errorf("app: replay: %w", err)
	}
	if _, err := io.WriteString(w, rendered); err != nil {
		return out, fmt.Errorf("app: replay: write: %w", err)
	}
	return out, nil
}
