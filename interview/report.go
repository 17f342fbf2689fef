package interview

import (
	"fmt"
	"strings"
)

// RenderReport formats the interview History as a markdown report. Each
// hypothesis of each iteration gets its own numbered section.
func RenderReport(history []Iteration) string {
	lines := []string{"# System Design Interview Report"}

	n := 0
	for _, it := range history {
		for _, f := range it.Findings {
			n++
			lines = append(lines,
				fmt.Sprintf("### Hypothesis %d", n),
				fmt.Sprintf("**Question:** %s\n", it.Question),
				fmt.Sprintf("**Hypothesis:** %s\n", f.Hypothesis),
			)

			if len(it.Questions) > 0 && len(it.Answers) > 0 {
				lines = append(lines, "**Verification:**")
				for i := 0; i < len(it.Questions) && i < len(it.Answers); i++ {
					lines = append(lines,
						fmt.Sprintf("- **Q:** %s", it.Questions[i]),
						fmt.Sprintf("  **A:** %s", it.Answers[i]),
					)
				}
				lines = append(lines, "")
			}

			if f.Valid {
				lines = append(lines, "**Status:** Valid")
				if f.Best {
					lines = append(lines, " **(Best Hypothesis)**")
					if f.Reason != "" {
						lines = append(lines, "**Reason why valid:** "+f.Reason)
					}
					if f.Solution != "" {
						lines = append(lines, "\n#### Solution", f.Solution)
					}
				}
			} else {
				lines = append(lines, "**Status:** Not Valid")
				if f.Reason != "" {
					lines = append(lines, "**Reason why not valid:** "+f.Reason)
				}
			}

			lines = append(lines, "\n---\n")
		}
	}
	return strings.Join(lines, "\n")
}
