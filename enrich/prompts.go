package enrich

import (
	"fmt"
	"strings"
)

// Prompt templates for the three completion call sites.

const classifySystemPrompt = "You are an assistant that determines the governing instrument covering a worker. " +
	"You will be given verbatim text from the coverage clauses of candidate instruments. " +
	"You must be definitive and cite the key clauses behind every decision. " +
	"Speak as if the instrument text is your own knowledge; never refer to 'the information provided'."

const classifyUserTemplate = `# WORKER INFORMATION

%s

# COVERAGE INFORMATION

%s

## RULES
- **You must classify the worker under the correct instrument based on the information provided**
- **You must be definitive in your decision**
- **You must provide detailed reasoning for your decision by citing the individual clauses from the document(s)**
- **Pay close attention to the worker's qualifications, as some instruments have specific requirements**
- **Do NOT repeat the worker information in your response**
- **ONLY speak about the chosen instrument and the worker's classification level under it**

ONLY pick one instrument to classify the worker under. If none from the Coverage Information are applicable you can try_again to see more instruments.`

func classifyUserPrompt(workerInfo, coverageInfo string) string {
	return fmt.Sprintf(classifyUserTemplate, workerInfo, coverageInfo)
}

const sectionChoiceSystemPrompt = "You are a helpful assistant. You are tasked with determining relevant section(s) " +
	"from a document that will help answer a question."

const sectionChoiceUserTemplate = `From the document sections below, choose the section(s) that are most relevant to determining: '%s'

The worker is covered by the instrument %s at classification %s.%s

The sections below are hierarchically structured to help you. Top level sections have no indentation and are followed by subsections that are indented with a tab and a dash. You may choose one or more sections, however, if all subsections of a section are relevant, you can choose the section without choosing the subsections.

The sections are:

%s`

func sectionChoiceUserPrompt(field, award, classification, formattedHierarchy, additionalInfo string) string {
	extra := ""
	if additionalInfo != "" {
		extra = "\n\nAdditional Information:\n" + additionalInfo
	}
	return fmt.Sprintf(sectionChoiceUserTemplate, field, award, classification, extra, formattedHierarchy)
}

const provisionsSystemPrompt = "You are an assistant that reports what a governing instrument provides for a worker. " +
	"You will be given verbatim clause text from the instrument. Answer only from that text and cite the clause keys " +
	"you relied on. Speak as if the instrument text is your own knowledge."

const provisionsUserTemplate = `# CONTEXT

The worker is covered by the instrument %s at classification %s.

# QUESTION

What does the instrument provide for this worker regarding: %s%s

# CLAUSES

%s`

func provisionsUserPrompt(award, classification, field, additionalInfo, clauses string) string {
	extra := ""
	if additionalInfo != "" {
		extra = "\n\nAdditional Information:\n" + additionalInfo
	}
	return fmt.Sprintf(provisionsUserTemplate, award, classification, field, extra, clauses)
}

// formatClauseCorpus renders retrieved section clauses into prompt text,
// one section heading per group, each clause keyed for citation.
func formatClauseCorpus(groups map[string][]clauseGroupEntry, order []string) string {
	var b strings.Builder
	for _, section := range order {
		entries := groups[section]
		if len(entries) == 0 {
			continue
		}
		fmt.Fprintf(&b, "\n== %s ==\n", section)
		for _, e := range entries {
			fmt.Fprintf(&b, "%s (ref: %s)\n%s\n", e.Name, e.Key, e.Content)
		}
	}
	return b.String()
}

type clauseGroupEntry struct {
	Name    string
	Key     string
	Content string
}
