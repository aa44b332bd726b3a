package llmrecognizer

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/invopop/jsonschema"

	"github.com/MrWong99/voxact/pkg/types"
)

// replySchema mirrors the JSON document the model must produce. It exists
// only for schema reflection; Parse decodes into a richer type.
type replySchema struct {
	Intents []intentSchema `json:"intents" jsonschema:"description=Commands in the order they were spoken. Empty when nothing actionable was said."`
}

type intentSchema struct {
	Kind       string         `json:"kind" jsonschema:"title=Kind,description=One of the supported command kinds"`
	Confidence float64        `json:"confidence" jsonschema:"minimum=0,maximum=1"`
	Entities   map[string]any `json:"entities" jsonschema:"description=Entity roles for this command. UI phrases are objects with english and user_language; other roles are strings."`
}

// bilingualRoles are the roles naming UI elements.
var bilingualRoles = map[types.Role]bool{
	types.RoleTarget:       true,
	types.RoleGroup:        true,
	types.RoleTargetGroup:  true,
	types.RoleContextKey:   true,
	types.RoleContextValue: true,
}

func reflectSchema(vocab []types.IntentSpec) ([]byte, error) {
	reflector := jsonschema.Reflector{DoNotReference: true}
	schema := reflector.Reflect(&replySchema{})

	if intents, ok := schema.Properties.Get("intents"); ok && intents.Items != nil {
		if kind, ok := intents.Items.Properties.Get("kind"); ok {
			kind.Enum = make([]any, 0, len(vocab))
			for _, s := range vocab {
				kind.Enum = append(kind.Enum, string(s.Kind))
			}
		}
	}
	b, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("llmrecognizer: marshal schema: %w", err)
	}
	return b, nil
}

func buildPrompt(lang string, vocab []types.IntentSpec) (string, error) {
	schema, err := reflectSchema(vocab)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString("You translate spoken commands for a web page into structured actions.\n")
	fmt.Fprintf(&b, "The user speaks %q. Transcripts may contain recognition errors; infer the intended command.\n\n", lang)
	b.WriteString("Supported commands:\n")
	for _, s := range vocab {
		fmt.Fprintf(&b, "- %s: %s", s.Kind, s.Description)
		if len(s.Roles) > 0 {
			roles := make([]string, len(s.Roles))
			for i, r := range s.Roles {
				roles[i] = string(r)
			}
			fmt.Fprintf(&b, " Entities: %s.", strings.Join(roles, ", "))
		}
		b.WriteByte('\n')
	}

	b.WriteString("\nEntity values for ")
	var names []string
	for _, s := range vocab {
		for _, r := range s.Roles {
			if bilingualRoles[r] && !slices.Contains(names, string(r)) {
				names = append(names, string(r))
			}
		}
	}
	b.WriteString(strings.Join(names, ", "))
	b.WriteString(` are objects {"english": "<phrase in English>", "user_language": "<phrase as spoken>"}.`)
	b.WriteString(" All other entity values are plain strings; keep spoken values verbatim.\n")
	b.WriteString("If the utterance contains no supported command, return {\"intents\": []}.\n")
	b.WriteString("Reply with JSON only, matching this schema:\n")
	b.Write(schema)
	return b.String(), nil
}
