package llmadapter

import "fmt"

// targetSchema is the single canonical description of the HSDS-aligned
// output shape, referenced by every provider's prompt. Providers wrap it in
// their own envelope at the adapter boundary only — this string is never
// duplicated or re-derived downstream.
const targetSchema = `{
  "organization": {"name": string, "alternate_name": string?, "description": string?, "email": string?, "url": string?, "tax_status": string?, "source_org_id": string?},
  "location": {"name": string?, "address_1": string?, "city": string?, "state_province": string?, "postal_code": string?, "latitude": number?, "longitude": number?} | null,
  "services": [{"name": string, "description": string?, "status": string?}],
  "schedules": [{"weekday": string, "opens_at": string?, "closes_at": string?, "notes": string?}]
}`

// BuildPrompt produces the instruction text handed to a provider: the raw
// scraped text plus a strict request to emit only the fields named in the
// target schema, as unadorned JSON with no markdown fences.
func BuildPrompt(rawText string) string {
	return fmt.Sprintf(`Extract Human Services Data Specification (HSDS) fields from the following source text.

Respond with a single JSON object matching exactly this shape, with no additional fields and no markdown code fence:

%s

Source text:
%s`, targetSchema, rawText)
}
