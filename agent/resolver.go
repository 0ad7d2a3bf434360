package agent

import (
	"context"
	"fmt"
	"html"
	"strings"
)

// ResourceSource is the part of the tool host the resolver reads from.
type ResourceSource interface {
	ListResourceIDs(ctx context.Context) ([]string, error)
	ReadResource(ctx context.Context, id string) (string, error)
}

// Resolution is the outcome of expanding the @references of a query.
type Resolution struct {
	// Text is the message to send. It equals the input when the input
	// contains no references.
	Text string
	// Resolved lists the identifiers whose content was inlined, in order of
	// first mention.
	Resolved []string
	// Unresolved lists identifiers that are unknown or could not be read.
	Unresolved []string
}

const referenceNote = `Note: a "@" in the query only marks a mention of a document; the document id is the text after it, e.g. "@report.pdf" refers to "report.pdf". ` +
	`Documents included above do not need to be fetched again with a tool. ` +
	`Answer the query directly and do not mention the provided context.`

// trailing punctuation tolerated after a reference, as in "see @plan.md."
const referencePunctuation = `.,;:!?)"'`

// referenceTokens returns the distinct identifiers mentioned with "@" in
// order of first appearance. A bare "@" is ignored.
func referenceTokens(text string) []string {
	var ids []string
	seen := make(map[string]bool)
	for _, field := range strings.Fields(text) {
		if !strings.HasPrefix(field, "@") || len(field) == 1 {
			continue
		}
		id := field[1:]
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	return ids
}

// ResolveReferences expands every @identifier in text. Known identifiers are
// read once and inlined as <document> elements after the original query;
// unknown ones become error markers and are reported in Unresolved. The
// original text is never rewritten.
func ResolveReferences(ctx context.Context, src ResourceSource, text string) (*Resolution, error) {
	tokens := referenceTokens(text)
	if len(tokens) == 0 {
		return &Resolution{Text: text}, nil
	}

	ids, err := src.ListResourceIDs(ctx)
	if err != nil {
		return nil, err
	}
	known := make(map[string]bool, len(ids))
	for _, id := range ids {
		known[id] = true
	}

	res := &Resolution{}
	var docs strings.Builder
	done := make(map[string]bool)
	for _, token := range tokens {
		id := token
		if !known[id] {
			if trimmed := strings.TrimRight(id, referencePunctuation); known[trimmed] {
				id = trimmed
			}
		}
		if done[id] {
			continue
		}
		done[id] = true

		if !known[id] {
			res.Unresolved = append(res.Unresolved, id)
			writeDocumentError(&docs, id, "unknown resource")
			continue
		}
		content, err := src.ReadResource(ctx, id)
		if err != nil {
			res.Unresolved = append(res.Unresolved, id)
			writeDocumentError(&docs, id, err.Error())
			continue
		}
		res.Resolved = append(res.Resolved, id)
		fmt.Fprintf(&docs, "<document id=\"%s\">\n%s\n</document>\n", html.EscapeString(id), content)
	}

	var sb strings.Builder
	sb.WriteString("<query>\n")
	sb.WriteString(text)
	sb.WriteString("\n</query>\n\n<context>\n")
	sb.WriteString(docs.String())
	sb.WriteString("</context>\n\n")
	sb.WriteString(referenceNote)
	res.Text = sb.String()
	return res, nil
}

func writeDocumentError(sb *strings.Builder, id, reason string) {
	fmt.Fprintf(sb, "<document id=\"%s\" error=\"%s\"/>\n", html.EscapeString(id), html.EscapeString(reason))
}
