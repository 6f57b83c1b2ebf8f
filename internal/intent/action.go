package intent

import (
	"fmt"
	"strings"
)

// Action is what the classifier decided the turn calls for.
type Action string

const (
	ActionQuote      Action = "QUOTE"
	ActionClarify    Action = "CLARIFY"
	ActionCatalogGap Action = "CATALOG_GAP"
	ActionGeneral    Action = "GENERAL"
	ActionError      Action = "ERROR"
)

var canonical = map[Action]struct{}{
	ActionQuote:      {},
	ActionClarify:    {},
	ActionCatalogGap: {},
	ActionGeneral:    {},
	ActionError:      {},
}

// Older Spanish prompts emitted these names; they map onto exactly one
// canonical action. Anything else is rejected.
var aliases = map[string]Action{
	"COTIZAR":              ActionQuote,
	"ACLARAR":              ActionClarify,
	"CATALOGO_INCOMPLETO":  ActionCatalogGap,
	"SALUDO_GENERAL":       ActionGeneral,
	"CONVERSACION_GENERAL": ActionGeneral,
}

// ParseAction resolves a model-supplied action name.
func ParseAction(s string) (Action, error) {
	name := strings.ToUpper(strings.TrimSpace(s))
	if _, ok := canonical[Action(name)]; ok {
		return Action(name), nil
	}
	if a, ok := aliases[name]; ok {
		return a, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownAction, s)
}
