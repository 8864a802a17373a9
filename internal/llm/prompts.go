package llm

// Strategy directives injected into the lesson prompt. The forced-different
// directive is used when a regenerated explanation was still too similar to
// the previous one.
const (
	directiveDefault    = "Explain the concept clearly and simply, building from first principles."
	directiveHint       = "Do not re-explain the whole concept. Give a short, pointed hint that nudges the learner toward the answer they just missed, then restate the question."
	directiveSimplified = "Re-explain the concept in simpler terms than before. Use a concrete everyday analogy, shorter sentences, and no jargon."
	directiveTargeted   = "The learner's own explanation had specific gaps. Address only those gaps with a focused clarification; do not repeat material they already demonstrated."
	directiveForced     = "Your previous explanation was too similar to an earlier attempt. Take a COMPLETELY different approach: different structure, different analogy, different entry point into the concept."
)

const lessonPrompt = `You are a patient tutor. Topic: %s
Learner level: %d (1 = beginner).

%s

%s%sRespond ONLY with JSON. No markdown, no explanation:
{"explanation":"...","question":"one comprehension question checking the core idea","expected_answer":"a model answer to that question, 1-3 sentences"}`

const teachBackPrompt = `A learner was asked to explain the topic "%s" in their own words. Evaluate their explanation fairly and with encouragement: credit understanding even when wording is informal, and penalize only genuine errors or omissions of the core idea.

Learner's explanation:
"""
%s
"""

Score each dimension from 0.0 to 1.0:
- completeness: did they cover the essential parts?
- accuracy: is what they said correct?
- clarity: could someone else follow it?

Respond ONLY with JSON, no markdown:
{"completeness":0.0,"accuracy":0.0,"clarity":0.0,"feedback":"one or two sentences of specific feedback"}`

const subtopicPrompt = `A learner is repeatedly confused by the topic "%s" despite several re-explanations.
Observed confusion: %s

Break the topic into 2-4 smaller prerequisite sub-topics that can each be taught and verified independently, ordered from most fundamental to least.

Respond ONLY with a JSON array of sub-topic names. No markdown, no explanation. Example:
["fractions","ratios"]`
