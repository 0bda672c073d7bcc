// Package promptgen synthesizes the system-prompt text that teaches a model
// without native tool-calling support to emit Toolify's XML tool-call
// sublanguage, and renders the tool declarations into it.
package promptgen

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/toolify/toolify/internal/model"
)

// Variant selects how verbose the synthesized prompt is.
type Variant string

const (
	// Detailed includes worked examples and the full rule list. Use this by
	// default; it produces the most reliable tool-call emission from weaker
	// models at the cost of prompt size.
	Detailed Variant = "detailed"

	// Optimized drops the worked examples and trims the rule list to the
	// essentials, for callers that are prompt-budget constrained and are
	// working with a model that reliably follows shorter instructions.
	Optimized Variant = "optimized"
)

const placeholder = "{{tools_list}}"

// Generate renders the system prompt for the given tools and variant. If
// template is non-empty it is used verbatim in place of the built-in
// template, with placeholder substituted for the rendered tool list — this
// is Toolify's equivalent of the reference implementation's custom_template
// override (features.prompt_template).
func Generate(tools []model.Tool, variant Variant, template string) string {
	list := renderToolList(tools)

	tpl := template
	if tpl == "" {
		if variant == Optimized {
			tpl = optimizedTemplate
		} else {
			tpl = detailedTemplate
		}
	}

	return strings.ReplaceAll(tpl, placeholder, list)
}

func renderToolList(tools []model.Tool) string {
	var b strings.Builder
	for i, t := range tools {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "### %s\n%s\n", t.Name, t.Description)
		if len(t.Parameters) > 0 {
			var pretty map[string]any
			if err := json.Unmarshal(t.Parameters, &pretty); err == nil {
				out, _ := json.MarshalIndent(pretty, "", "  ")
				fmt.Fprintf(&b, "Parameters (JSON Schema):\n```json\n%s\n```", string(out))
			} else {
				fmt.Fprintf(&b, "Parameters (JSON Schema): %s", string(t.Parameters))
			}
		}
	}
	return b.String()
}

const detailedTemplate = `You have access to the following tools to help complete the user's request:

` + placeholder + `

**TOOL USAGE RULES**

1. When you need to use a tool, emit the opening tag ` + "`<tool_call>`" + ` followed by the call, and ` + "`</tool_call>`" + ` to close it. Nothing outside a ` + "`<tool_call>`" + ` block is treated as a call — it is ordinary text shown to the user.
2. The exact grammar for one call is:

<tool_call>
<name>TOOL_NAME</name>
<arguments>{"param": "value"}</arguments>
</tool_call>

3. ` + "`<name>`" + ` contains exactly the tool's name, nothing else. ` + "`<arguments>`" + ` contains a single JSON object matching the tool's parameter schema — no surrounding prose, no trailing commas, no comments.
4. You may emit multiple ` + "`<tool_call>`" + ` blocks back to back if multiple calls are needed.
5. Do not describe what a tool call would do instead of making it. Do not ask permission to use a tool you already have access to. Make the call.
6. Only call a tool when the task actually requires the action it performs; answer directly otherwise.

**EXAMPLE**

User: What's the weather in Tokyo?

Assistant:
<tool_call>
<name>get_weather</name>
<arguments>{"city": "Tokyo"}</arguments>
</tool_call>
`

const optimizedTemplate = `Available tools:

` + placeholder + `

To call a tool, emit exactly:
<tool_call>
<name>TOOL_NAME</name>
<arguments>{"param": "value"}</arguments>
</tool_call>

Text outside a <tool_call> block is shown to the user as-is. Only call a tool when the task requires it.
`
