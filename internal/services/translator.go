package services

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"deep-research-api/internal/models"
	"deep-research-api/internal/pkg/logger"
)

const (
	maxMessageLength  = 500
	maxMessagesShown  = 5
	maxSourcesPerNote = 5

	minSubstantialMessage = 20
	minSubstantialNote    = 50
)

var nodeStageMapping = map[string]models.ResearchStage{
	"clarify_with_user":       models.StageClarification,
	"write_research_brief":    models.StageResearchBrief,
	"research_supervisor":     models.StageResearchExecution,
	"final_report_generation": models.StageFinalReport,
}

var (
	urlPattern = regexp.MustCompile(`https?://[^\s<>"{}|\\^` + "`" + `\[\]]+`)

	sourcePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)SOURCE:\s*([^\n]+)`),
		regexp.MustCompile(`(?i)from\s+([a-zA-Z0-9.-]+\.[a-zA-Z]{2,})`),
		regexp.MustCompile(`(?i)according to\s+([^\n,.]+)`),
		regexp.MustCompile(`(?i)cited from\s+([^\n,.]+)`),
		regexp.MustCompile(`(?i)reference:\s*([^\n]+)`),
		regexp.MustCompile(`(?i)via\s+([a-zA-Z0-9.-]+\.[a-zA-Z]{2,})`),
	}
)

// EventTranslator converts raw engine node updates into client-facing
// streaming events. Extraction is best-effort throughout: a missing or
// malformed payload field degrades to templated content, never to a failure.
type EventTranslator struct {
	logger *logger.Logger
}

func NewEventTranslator(log *logger.Logger) *EventTranslator {
	return &EventTranslator{logger: log}
}

// StageForNode maps an engine node name to a logical research stage. Unknown
// node names belong to research execution.
func (translator *EventTranslator) StageForNode(node string) models.ResearchStage {
	if stage, exists := nodeStageMapping[node]; exists {
		return stage
	}
	return models.StageResearchExecution
}

// Translate produces the primary stage_update event for a node update plus
// any supplementary finding/summary events the payload supports.
func (translator *EventTranslator) Translate(node string, payload models.NodePayload, ordinal int, sessionID, model string) []models.StreamingEvent {
	stage := translator.StageForNode(node)

	primary := models.NewStreamingEvent(models.EventStageUpdate, stage, translator.buildNodeContent(node, payload, ordinal), sessionID, model)
	primary.Metadata["node_name"] = node
	primary.Metadata["node_count"] = ordinal
	primary.Metadata["has_messages"] = len(payload.Messages) > 0

	if tools := extractToolNames(payload); len(tools) > 0 {
		primary.Metadata["tools_used"] = tools
	}

	events := []models.StreamingEvent{primary}

	if node == "research_supervisor" {
		events = append(events, translator.supervisorEvents(payload, ordinal, sessionID, model)...)
	}

	return events
}

// supervisorEvents fans out one research_finding event per substantial note
// and one research_summary event when compressed research is present.
func (translator *EventTranslator) supervisorEvents(payload models.NodePayload, ordinal int, sessionID, model string) []models.StreamingEvent {
	var events []models.StreamingEvent

	for i, note := range payload.Notes {
		if len(note) <= minSubstantialNote {
			continue
		}

		sources := ExtractSources(note)

		event := models.NewStreamingEvent(models.EventResearchFinding, models.StageResearchExecution,
			fmt.Sprintf("Research Finding %d: %s", i+1, truncate(note, 200)), sessionID, model)
		event.Metadata["finding_index"] = i + 1
		event.Metadata["finding_length"] = len(note)
		event.Metadata["node_count"] = ordinal
		event.Metadata["sources_found"] = len(sources)
		if len(sources) > 0 {
			event.Metadata["sources"] = sources
		}

		events = append(events, event)
	}

	if payload.CompressedResearch != "" {
		event := models.NewStreamingEvent(models.EventResearchSummary, models.StageResearchExecution,
			fmt.Sprintf("Research Summary: %s", truncate(payload.CompressedResearch, 300)), sessionID, model)
		event.Metadata["summary_length"] = len(payload.CompressedResearch)
		event.Metadata["node_count"] = ordinal

		events = append(events, event)
	}

	return events
}

func (translator *EventTranslator) buildNodeContent(node string, payload models.NodePayload, ordinal int) string {
	var content string

	switch node {
	case "clarify_with_user":
		content = fmt.Sprintf("Step %d: Analyzing research scope and clarifying requirements", ordinal)

		messages := extractMessages(payload)
		if len(messages) > 0 {
			content += "\n\nClarification process:"
			for i, msg := range limitMessages(messages, 3) {
				content += fmt.Sprintf("\nMessage %d: %s", i+1, msg)
			}
		} else if fallback := extractTextContent(payload); fallback != "" {
			content += fmt.Sprintf("\nDecision: %s", fallback)
		}

	case "write_research_brief":
		content = fmt.Sprintf("Step %d: Creating comprehensive research brief and strategy", ordinal)

		messages := extractMessages(payload)
		if len(messages) > 0 {
			content += "\n\nBrief generation:"
			for i, msg := range limitMessages(messages, 2) {
				content += fmt.Sprintf("\nBrief %d: %s", i+1, msg)
			}
		}

		if payload.ResearchBrief != "" {
			content += fmt.Sprintf("\nFinal Brief: %s", truncate(payload.ResearchBrief, 300))
		}

		if len(messages) == 0 {
			if fallback := extractTextContent(payload); fallback != "" {
				content += fmt.Sprintf("\nResearch Strategy: %s", fallback)
			}
		}

	case "research_supervisor":
		content = fmt.Sprintf("Step %d: Conducting deep research using multiple tools and sources", ordinal)

		if len(payload.Notes) > 0 {
			content += fmt.Sprintf("\nFound %d research findings", len(payload.Notes))

			shown := 0
			for i, note := range payload.Notes {
				if shown >= 3 {
					break
				}
				if len(note) <= minSubstantialMessage {
					continue
				}
				shown++

				content += fmt.Sprintf("\nFinding %d: %s", i+1, truncate(note, 150))
				if sources := ExtractSources(note); len(sources) > 0 {
					inline := sources
					if len(inline) > 2 {
						inline = inline[:2]
					}
					content += fmt.Sprintf("\nSources: %s", strings.Join(inline, ", "))
				}
			}
		}

		if payload.CompressedResearch != "" {
			content += fmt.Sprintf("\nResearch Summary: %s", truncate(payload.CompressedResearch, 200))
		}

	case "final_report_generation":
		content = fmt.Sprintf("Step %d: Generating final research report with findings and analysis", ordinal)

		messages := extractMessages(payload)
		if len(messages) > 0 {
			content += "\n\nReport generation:"
			for i, msg := range limitMessages(messages, 2) {
				content += fmt.Sprintf("\nReport %d: %s", i+1, msg)
			}
		}

		if payload.FinalReport != "" {
			content += fmt.Sprintf("\nGenerated Report: %s", truncate(payload.FinalReport, 400))
		}

		if len(messages) == 0 {
			if fallback := extractTextContent(payload); fallback != "" {
				content += fmt.Sprintf("\nFinal Report: %s", fallback)
			}
		}

	default:
		content = fmt.Sprintf("Step %d: Processing %s", ordinal, humanizeNodeName(node))
	}

	// Nothing specific extracted yet: surface the first substantial message.
	if !strings.Contains(content, "\n") {
		for _, msg := range payload.Messages {
			if len(msg.Content) > minSubstantialNote {
				content += fmt.Sprintf("\nContent: %s", truncate(msg.Content, 200))
				break
			}
		}
	}

	return content
}

// extractMessages collects substantial, non-human message contents plus any
// free-text content field found in the raw payload, bounded and truncated.
func extractMessages(payload models.NodePayload) []string {
	var messages []string

	for _, msg := range payload.Messages {
		content := msg.Content
		if len(content) <= minSubstantialMessage || strings.HasPrefix(content, "Human:") {
			continue
		}
		messages = append(messages, truncate(content, maxMessageLength))
	}

	contentAttributes := []string{"content", "response", "output", "result", "text"}
	for _, attr := range contentAttributes {
		value, exists := payload.Raw[attr]
		if !exists {
			continue
		}
		text, ok := value.(string)
		if !ok || len(text) <= minSubstantialMessage {
			continue
		}
		messages = append(messages, truncate(text, maxMessageLength))
		break
	}

	if len(messages) > maxMessagesShown {
		messages = messages[:maxMessagesShown]
	}
	return messages
}

// extractTextContent is the last-resort probe for any meaningful free text.
func extractTextContent(payload models.NodePayload) string {
	for i := len(payload.Messages) - 1; i >= 0; i-- {
		if len(payload.Messages[i].Content) > minSubstantialNote {
			return truncate(payload.Messages[i].Content, 300)
		}
	}

	if len(payload.Raw) > 0 {
		raw := fmt.Sprintf("%v", payload.Raw)
		if len(raw) > 100 {
			return truncate(raw, 200)
		}
	}

	return ""
}

func extractToolNames(payload models.NodePayload) []string {
	var tools []string
	seen := make(map[string]bool)

	for _, msg := range payload.Messages {
		for _, call := range msg.ToolCalls {
			if call.Name == "" || seen[call.Name] {
				continue
			}
			seen[call.Name] = true
			tools = append(tools, call.Name)
		}
	}

	return tools
}

// ExtractSources pulls URLs and textual citations out of free research text.
// This is heuristic enrichment: false negatives are expected and tolerated,
// and nothing downstream depends on its completeness.
func ExtractSources(text string) []string {
	var sources []string
	seen := make(map[string]bool)

	appendSource := func(source string) {
		source = strings.TrimSpace(source)
		if len(source) <= 3 || seen[source] {
			return
		}
		seen[source] = true
		sources = append(sources, source)
	}

	for _, url := range urlPattern.FindAllString(text, -1) {
		appendSource(url)
	}

	for _, pattern := range sourcePatterns {
		for _, match := range pattern.FindAllStringSubmatch(text, -1) {
			if len(match) > 1 {
				appendSource(match[1])
			}
		}
	}

	if len(sources) > maxSourcesPerNote {
		sources = sources[:maxSourcesPerNote]
	}
	return sources
}

// truncate cuts text at limit bytes, backing off to a rune boundary so the
// result is always valid UTF-8.
func truncate(text string, limit int) string {
	if len(text) <= limit {
		return text
	}

	cut := limit
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut] + "..."
}

func limitMessages(messages []string, limit int) []string {
	if len(messages) > limit {
		return messages[:limit]
	}
	return messages
}

func humanizeNodeName(node string) string {
	words := strings.Split(node, "_")
	for i, word := range words {
		if word == "" {
			continue
		}
		words[i] = strings.ToUpper(word[:1]) + word[1:]
	}
	return strings.Join(words, " ")
}
