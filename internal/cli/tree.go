package cli

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/maauso/langsplit/internal/job"
	"github.com/maauso/langsplit/internal/segment"
)

// RenderTree draws the segment tree, one node per line. Split nodes show the
// silence parameters that split them; leaves show their decided language and
// transcript.
func RenderTree(root *segment.Node, low, high float64) string {
	var sb strings.Builder
	sb.WriteString(nodeLine(root, low, high))
	sb.WriteString("\n")
	renderChildren(&sb, root, "", low, high)
	return sb.String()
}

func renderChildren(sb *strings.Builder, n *segment.Node, prefix string, low, high float64) {
	for i, child := range n.Children {
		last := i == len(n.Children)-1
		branch, indent := "├── ", "│   "
		if last {
			branch, indent = "└── ", "    "
		}
		sb.WriteString(prefix)
		sb.WriteString(branch)
		sb.WriteString(nodeLine(child, low, high))
		sb.WriteString("\n")
		renderChildren(sb, child, prefix+indent, low, high)
	}
}

func nodeLine(n *segment.Node, low, high float64) string {
	parts := []string{rangeStyle.Render(n.Range.String())}

	if lang, ok := segment.Language(n, low, high); ok {
		parts = append(parts, languageStyle.Render(lang))
	} else {
		parts = append(parts, unknownStyle.Render(segment.Unknown))
	}

	if conf := segment.Confidence(n); len(conf) > 0 {
		parts = append(parts, formatConfidence(conf))
	}
	if n.SpeechStart > 0 {
		parts = append(parts, KeyStyle.Render(fmt.Sprintf("speech@%d", n.Range.Offset()+n.SpeechStart)))
	}

	if n.IsLeaf() {
		if text := segment.Transcription(n, low, high); text != segment.Unknown {
			parts = append(parts, ValueStyle.Render(fmt.Sprintf("%q", text)))
		}
	} else {
		parts = append(parts, paramsStyle.Render(n.SilenceParams.String()))
	}
	return strings.Join(parts, " ")
}

func formatConfidence(conf map[string]float64) string {
	langs := slices.Sorted(maps.Keys(conf))
	out := make([]string, 0, len(langs))
	for _, lang := range langs {
		if conf[lang] == segment.NoConfidence {
			out = append(out, lang+"=-")
			continue
		}
		out = append(out, fmt.Sprintf("%s=%.2f", lang, conf[lang]))
	}
	return KeyStyle.Render(strings.Join(out, " "))
}

// RenderSummary describes a finished job in a few key/value lines.
func RenderSummary(j *job.Job) string {
	rows := [][2]string{
		{"Job:", j.ID},
		{"Status:", string(j.Status)},
		{"Recording:", j.RecordingPath},
		{"Duration:", fmt.Sprintf("%d ms", j.DurationMs)},
		{"Tree:", j.TreeKey},
		{"Segments:", fmt.Sprintf("%d (%d decided, %d nodes)", len(j.Segments), j.Decided(), j.Nodes)},
		{"Restored:", fmt.Sprintf("%t", j.Restored)},
		{"Persisted:", fmt.Sprintf("%t", j.Persisted)},
	}
	if j.Error != "" {
		rows = append(rows, [2]string{"Error:", j.Error})
	}

	var sb strings.Builder
	for _, row := range rows {
		sb.WriteString(fmt.Sprintf("%s %s\n", KeyStyle.Width(11).Render(row[0]), ValueStyle.Render(row[1])))
	}
	return sb.String()
}
