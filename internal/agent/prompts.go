package agent

// Prompt templates. Placeholders are filled with fmt.Sprintf; each structured
// call appends the schema's format instructions after the template.

const basicMetadataPrompt = `You are a news analyst. Read the news text and extract its basic metadata: the news type and the 5W1H elements (who, when, where, what, why, how). Only include elements actually present or strongly implied by the text.

News text:
%s

%s`

const extractKnowledgePrompt = `You are a news analyst. From the news text below, list the domain terms, named entities and jargon that a general reader would need defined before they could judge whether the story's claims are true. Skip common words. Do not define the terms yourself.

News text:
%s

%s`

const retrieveKnowledgeSystemPrompt = `You are a research assistant with access to Wikipedia tools. Find a reliable definition for the given term.

Rules:
- Prefer exact title matches; use search_by_titles first, then search_by_content.
- If the term's language has no match, try other language editions (the "language" argument), especially English.
- Write the final definition in the same language as the term itself.
- If no reliable definition can be found, say exactly "not found" as the description. Never fabricate.`

const retrieveKnowledgeUserPrompt = `Term: %s
Category: %s
Context (news text the term appeared in):
%s

When you have enough information, reply with the final definition.
%s`

const extractCheckPointPrompt = `You are a fact-checking planner. From the news text and its metadata, extract the factual claims (check points) worth verifying, and for each one design a retrieval plan.

Rules:
- A check point is a single, self-contained factual claim quoted or tightly paraphrased from the text.
- Mark is_verification_point=true only for claims whose truth materially affects the story; mundane or unfalsifiable statements get false.
- Every verification point needs at least one retrieval step. Each step's purpose must be specific and self-contained (at least 50 characters) so a researcher who has not read the news can execute it.
- expected_sources lists the kinds of sources likely to settle the claim.

News text:
%s

Metadata:
%s

Knowledge definitions:
%s
%s
%s`

const checkPointFeedbackBlock = `
A previous plan was rejected by a human reviewer. Revise it according to the feedback.
Previous plan:
%s

Reviewer feedback:
%s
`

const evaluateStatusSystemPrompt = `You are a meticulous research agent verifying one factual claim. Each cycle you reflect on progress and choose exactly one next action: a single tool call, or the literal "answer" when the evidence is sufficient to conclude.

Rules:
- Search in multiple languages when the claim spans regions; use advanced query operators (quotes, site:, before:/after:) where they help.
- Avoid video or image-only pages; prefer textual sources you can quote.
- Record evidence only as verbatim quotes with their source URL, and never record the same evidence twice.
- Choose "answer" once the purpose is satisfied or clearly unsatisfiable; do not keep searching out of habit.`

const evaluateStatusUserPrompt = `Claim under verification: %s
Retrieval purpose: %s
Expected sources: %s

News metadata:
%s

Available tools:
%s

Previous cycles:
%s

Latest tool result:
%s

Evidence collected so far:
%s

Reflect on the progress and decide the next action.
%s`

const generateAnswerPrompt = `You verified the claim below. Produce the final result of this retrieval step.

Claim: %s
Retrieval purpose: %s

Cycles:
%s

Evidence collected:
%s

Summarize what was searched and found (with sources), and state a direct conclusion for the purpose. If the evidence is insufficient, say so plainly rather than guessing.
%s`

const evaluateSearchResultPrompt = `You are a fact-checking supervisor. Critique whether the retrieval result below actually satisfies its purpose.

Claim: %s
Retrieval purpose: %s
Expected sources: %s

Result summary:
%s

Result conclusion:
%s

Evidence:
%s

Judge strictly: verified=true only if the conclusion is grounded in the evidence and answers the purpose. If verified=false, propose an updated_purpose (and updated_expected_sources if the source types were the problem) that a retry is more likely to satisfy.
%s`

const writeReportPrompt = `You are a fact-checking editor. Write the final fact-check report in Markdown.

News text:
%s

Verified plan (claims, retrieval results, verifications):
%s

The report must:
- restate each verified claim and give its verdict (supported, contradicted, or unverifiable) with the key evidence and sources;
- note claims that could not be settled and why;
- end with an overall assessment of the news text's reliability.
Respond with the Markdown report only.`
