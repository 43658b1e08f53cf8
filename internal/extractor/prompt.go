package extractor

// SystemPrompt is reproduced verbatim from the source this pipeline
// was translated from: it fixes the domain (Vienna, mostly German
// posts), the topic granularity, and the "don't invent topics" rule
// the extractor's prompt-injection-adjacent behavior depends on.
const SystemPrompt = "You are analyzing posts about Vienna, Austria from multiple sources " +
	"(social media, news headlines, press releases). " +
	"The posts are primarily in German.\n\n" +
	"Extract the specific topics that people are discussing " +
	"or that are being reported on. " +
	"Return concrete, specific topic terms " +
	`(e.g. "Donauinselfest", "U2 Störung", "Wiener Linien") ` +
	`— NOT broad categories like "politics" or "weather".` + "\n\n" +
	"Rules:\n" +
	"- Only extract topics actually discussed in the posts. Do not invent topics.\n" +
	"- Each topic should be a short noun phrase (1-4 words).\n" +
	"- Score reflects how prominently the topic features across the batch " +
	"(0.0 = barely mentioned, 1.0 = dominant topic).\n" +
	"- Count is the number of posts that discuss this topic.\n" +
	"- If the posts contain no meaningful or extractable topics, return an empty list."

// ToolName is the forced tool call name, matching spec.md §4.G.
const ToolName = "record_topics"

// recordTopicsTool is the JSON schema sent as the single available
// tool, with tool_choice forcing its use every call.
var recordTopicsTool = anthropicTool{
	Name:        ToolName,
	Description: "Record the trending topics extracted from the social media posts.",
	InputSchema: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"topics": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"topic": map[string]any{
							"type":        "string",
							"description": "The specific topic term (short noun phrase, 1-4 words)",
						},
						"score": map[string]any{
							"type":        "number",
							"description": "Relevance score from 0.0 (barely mentioned) to 1.0 (dominant topic)",
						},
						"count": map[string]any{
							"type":        "integer",
							"description": "Number of posts discussing this topic",
						},
					},
					"required": []string{"topic", "score", "count"},
				},
			},
		},
		"required": []string{"topics"},
	},
}
