package intent

import (
	_ "embed"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/comigor/quotebot/internal/catalog"
)

//go:embed policy.tmpl
var policySource string

var policyTemplate = template.Must(template.New("policy").Parse(policySource))

var weekdays = [...]string{"domingo", "lunes", "martes", "miércoles", "jueves", "viernes", "sábado"}

type policyData struct {
	Persona string
	Today   string
	Weekday string
	Catalog []catalog.Entry
}

// RenderPolicy builds the system prompt for the given catalog and date.
func RenderPolicy(persona string, entries []catalog.Entry, today time.Time) (string, error) {
	var b strings.Builder
	err := policyTemplate.Execute(&b, policyData{
		Persona: persona,
		Today:   today.Format(time.DateOnly),
		Weekday: weekdays[today.Weekday()],
		Catalog: entries,
	})
	if err != nil {
		return "", fmt.Errorf("render policy: %w", err)
	}
	return b.String(), nil
}
