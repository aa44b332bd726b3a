package app_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/MrWong99/voxact/internal/app"
	"github.com/MrWong99/voxact/internal/config"
	nlumock "github.com/MrWong99/voxact/pkg/provider/nlu/mock"
	"github.com/MrWong99/voxact/pkg/types"
)

func intent(kind types.IntentKind, kv ...string) types.Intent {
	e := types.Entities{}
	for i := 0; i+1 < len(kv); i += 2 {
		e[types.Role(kv[i])] = types.Raw(kv[i+1])
	}
	return types.Intent{Kind: kind, Confidence: 1, Entities: e}
}

func TestReplay_AppliesCommands(t *testing.T) {
	t.Parallel()

	rec := &nlumock.Recognizer{Results: map[string][]types.Intent{
		"fill name with Alex and tick newsletter": {
			intent(types.IntentFill, "target", "name", "value", "Alex"),
			intent(types.IntentCheck, "target", "newsletter"),
		},
	}}

	var out strings.Builder
	outcomes, err := app.Replay(context.Background(), &config.Config{}, rec,
		strings.NewReader(page), []string{"fill name with Alex and tick newsletter", "hello there"}, &out)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if len(outcomes) != 2 {
		t.Fatalf("outcomes = %d, want 2", len(outcomes))
	}
	for _, o := range outcomes {
		if !o.Success || o.Err != nil {
			t.Errorf("outcome %s: success=%v err=%v", o.Intent.Kind, o.Success, o.Err)
		}
	}
	html := out.String()
	if !strings.Contains(html, `value="Alex"`) {
		t.Errorf("rendered page lacks filled name:\n%s", html)
	}
	if !strings.Contains(html, "checked") {
		t.Errorf("rendered page lacks checked newsletter:\n%s", html)
	}
	if got := rec.CallCount(); got != 2 {
		t.Errorf("recognizer calls = %d, want 2", got)
	}
}

func TestReplay_RecognizerError(t *testing.T) {
	t.Parallel()

	rec := &nlumock.Recognizer{Err: errors.New("quota exceeded")}
	var out strings.Builder
	_, err := app.Replay(context.Background(), &config.Config{}, rec,
		strings.NewReader(page), []string{"press submit"}, &out)
	if err == nil || !strings.Contains(err.Error(), "quota exceeded") {
		t.Fatalf("err = %v, want recognizer error", err)
	}
	if out.Len() != 0 {
		t.Error("page written despite error")
	}
}
