package agent

import "github.com/mohammad-safakhou/veritas/internal/schema"

// Structured output schemas. Each definition drives both the format
// instructions appended to the prompt and the validation of the reply.

var basicMetadataDef = schema.Definition{
	Name: "BasicMetadata",
	Fields: []schema.Field{
		{Name: "news_type", Type: "string", Description: "Category of the news, e.g. politics, science, health.", Required: true},
		{Name: "who", Type: "array<string>", Description: "People and organizations involved."},
		{Name: "when", Type: "array<string>", Description: "Dates and times mentioned or implied."},
		{Name: "where", Type: "array<string>", Description: "Locations involved."},
		{Name: "what", Type: "array<string>", Description: "Core events or assertions."},
		{Name: "why", Type: "array<string>", Description: "Stated causes or motivations."},
		{Name: "how", Type: "array<string>", Description: "Mechanisms or methods described."},
	},
}

var knowledgesDef = schema.Definition{
	Name: "Knowledges",
	Fields: []schema.Field{
		{Name: "knowledges", Type: "array<object>", Description: "Domain terms a general reader would need defined to judge the claims.", Required: true,
			Items: &schema.Definition{
				Name: "Knowledge",
				Fields: []schema.Field{
					{Name: "term", Type: "string", Description: "The term exactly as it appears in the text.", Required: true},
					{Name: "category", Type: "string", Description: "Kind of term, e.g. person, organization, concept, jargon.", Required: true},
				},
			}},
	},
}

var knowledgeDefinitionDef = schema.Definition{
	Name: "KnowledgeDefinition",
	Fields: []schema.Field{
		{Name: "description", Type: "string", Description: "Concise definition of the term in the term's original language, or the literal \"not found\" when no reliable definition was located.", Required: true},
		{Name: "source", Type: "string", Description: "URL of the page the definition came from. Empty when not found."},
	},
}

var checkPointsDef = schema.Definition{
	Name: "CheckPoints",
	Fields: []schema.Field{
		{Name: "check_points", Type: "array<object>", Description: "Factual claims extracted from the news text.", Required: true,
			Items: &schema.Definition{
				Name: "CheckPoint",
				Fields: []schema.Field{
					{Name: "content", Type: "string", Description: "The verbatim factual claim.", Required: true},
					{Name: "is_verification_point", Type: "boolean", Description: "Whether the claim is worth verifying.", Required: true},
					{Name: "importance", Type: "string", Description: "Why this claim matters to the story's truthfulness."},
					{Name: "retrieval_step", Type: "array<object>", Description: "Retrieval plan for the claim. Required when is_verification_point is true.",
						Items: &schema.Definition{
							Name: "RetrievalStep",
							Fields: []schema.Field{
								{Name: "purpose", Type: "string", Description: "What to find out, specific and self-contained, at least 50 characters.", Required: true},
								{Name: "expected_sources", Type: "array<string>", Description: "Source types to prefer, e.g. official statements, peer-reviewed papers, major outlets.", Required: true},
							},
						}},
				},
			}},
	},
}

var evidenceItemDef = schema.Definition{
	Name: "Evidence",
	Fields: []schema.Field{
		{Name: "content", Type: "string", Description: "Quoted snippet from the source, verbatim.", Required: true},
		{Name: "source", Type: "object", Description: "Mapping of source display name to its URL.", Required: true},
		{Name: "reasoning", Type: "string", Description: "Why this snippet bears on the claim.", Required: true},
		{Name: "relationship", Type: "string", Description: "How the snippet relates to the claim.", Required: true, Enum: []string{"support", "contradict"}},
	},
}

var statusDef = schema.Definition{
	Name: "Status",
	Fields: []schema.Field{
		{Name: "evaluation", Type: "string", Description: "Assessment of the current retrieval progress.", Required: true},
		{Name: "missing_information", Type: "string", Description: "What is still unknown. Omit when nothing is missing."},
		{Name: "new_evidence", Type: "array<object>", Description: "Evidence found in the latest tool result. Never duplicate earlier evidence.", Items: &evidenceItemDef},
		{Name: "next_step", Type: "string", Description: "Plan for the next cycle."},
		{Name: "action", Type: "object", Description: "Either the literal string \"answer\" to finish, or a single tool call {\"name\": ..., \"args\": {...}}.", Required: true},
	},
}

var searchResultDef = schema.Definition{
	Name: "SearchResult",
	Fields: []schema.Field{
		{Name: "summary", Type: "string", Description: "What was searched and what was found, with sources.", Required: true},
		{Name: "conclusion", Type: "string", Description: "Direct answer to the retrieval purpose, grounded in the evidence.", Required: true},
	},
}

var verificationDef = schema.Definition{
	Name: "RetrievalResultVerification",
	Fields: []schema.Field{
		{Name: "reasoning", Type: "string", Description: "Critique of the retrieval result against its purpose.", Required: true},
		{Name: "verified", Type: "boolean", Description: "Whether the result satisfies the purpose.", Required: true},
		{Name: "updated_purpose", Type: "string", Description: "Rewritten purpose for a retry. Only when verified is false."},
		{Name: "updated_expected_sources", Type: "array<string>", Description: "Revised source types for a retry. Only when verified is false."},
	},
}
