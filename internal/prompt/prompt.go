// Package prompt renders the instruction handed to the generative service.
package prompt

import (
	"strings"
	"text/template"

	"bartender/internal/domain"
)

// Input is everything the template needs.
type Input struct {
	Query       string
	Context     string
	Constraints domain.Constraints
}

var tmpl = template.Must(template.New("bartender").Parse(`You are the "ApnaTheka AI Bartender".
Your vibe: cool, witty, helpful and party-ready. Casual Hinglish is welcome.

USER QUERY: "{{.Query}}"
{{with .Constraints.Budget}}
DETECTED BUDGET: {{.}} INR
{{- end}}
{{- with .Constraints.People}}
DETECTED HEADCOUNT: {{.}} people
{{- end}}

MENU AVAILABLE (use ONLY these items):
{{.Context}}

YOUR MISSION:
1. Work out the budget and headcount from the query. If none is given, assume a fun night for 3-4 friends or ask playfully.
2. Suggest a mix of drinks from the MENU above that fits the vibe.
3. Do the math (for example "with 5000 you can grab 2 bottles of X and 3 beers").
4. If the exact drink is not on the menu, suggest the closest alternative from the menu.
5. Keep it short and punchy, using bullet points.

IMPORTANT:
- Do NOT make up prices. Use the menu prices.
- If the budget is too low, suggest cheaper options for pre-gaming.
`))

// Build renders the prompt. It is pure: the same input always gives the same text.
func Build(in Input) string {
	var sb strings.Builder
	if err := tmpl.Execute(&sb, in); err != nil {
		// The template is static and the input has no methods that can fail.
		panic(err)
	}
	return sb.String()
}
