package generation

import "fmt"

const promptTemplate = `Context about government schemes:
%s

Question: %s

Given the context above about government schemes, answer the user's question concisely, focusing on the key details requested.
If available, mention:
- Scheme Name
- Purpose
- Eligibility
- Key Benefits
- Application Process Overview (briefly)
- Website Link (if explicitly found in context)

Highlight important section titles in **bold**.
If information is missing for a section, simply omit that section. Be clear and direct.
`

// BuildPrompt fills the fixed answer template.
func BuildPrompt(question, context string) string {
	return fmt.Sprintf(promptTemplate, context, question)
}
