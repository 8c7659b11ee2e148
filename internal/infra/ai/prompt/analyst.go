package prompt

import (
	"fmt"
	"strings"
)

// Sections produced for every report.
const (
	SectionOverview = "overview"
	SectionHardware = "hardware_summary"
	SectionSoftware = "software_summary"
)

// TruncationMarker is appended when an insight summary is cut to the character budget.
const TruncationMarker = "...[truncated]"

var sectionPurpose = map[string]string{
	SectionOverview: "Write the executive overview of the inventory: total hardware and software assets, how they spread across support tiers, and the headline modernization opportunity.",
	SectionHardware: "Write the hardware section: name the obsolete platforms, explain the lifecycle risk they carry, and turn the listed recommendations into a short prioritized plan.",
	SectionSoftware: "Write the software section: name the obsolete products or versions, explain the support and licensing risk, and turn the listed recommendations into a short prioritized plan.",
}

// GetSystemPrompt returns the analyst persona plus the purpose of one section.
func GetSystemPrompt(section string) string {
	purpose, ok := sectionPurpose[section]
	if !ok {
		purpose = "Write a concise section of the report based on the data provided."
	}
	return `You are a senior infrastructure modernization analyst preparing a Market GAP analysis report for an enterprise IT organization. You write in clear, professional prose for executives and architects.

Requirements:
- Plain text only: no markdown headings, no bullet characters, no code fences.
- Two short paragraphs at most.
- Use only the facts in the provided JSON; never invent asset names or counts.
- If a list in the data is empty, say that none were identified.

Section purpose: ` + purpose
}

// GetUserPrompt wraps the serialized insight summary for one section.
func GetUserPrompt(section, summaryJSON string) string {
	return fmt.Sprintf("Section: %s\nInsight data (JSON):\n%s", strings.ReplaceAll(section, "_", " "), summaryJSON)
}

// Truncate cuts s to at most max characters (runes), appending TruncationMarker.
func Truncate(s string, max int) string {
	if max <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	keep := max - len([]rune(TruncationMarker))
	if keep < 0 {
		keep = 0
	}
	return string(r[:keep]) + TruncationMarker
}
