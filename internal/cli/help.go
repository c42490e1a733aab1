package cli

import (
	"fmt"
	"strings"

	"github.com/alecthomas/kong"
	"github.com/charmbracelet/lipgloss"
)

var (
	helpSectionStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(primaryColor).
				MarginTop(1)

	helpFlagStyle = lipgloss.NewStyle().
			Foreground(decidedColor).
			Bold(true)

	helpDefaultStyle = lipgloss.NewStyle().
				Foreground(mutedColor).
				Italic(true)
)

// StyledHelpPrinter renders kong help with the langsplit styles.
func StyledHelpPrinter(description string) kong.HelpPrinter {
	return func(_ kong.HelpOptions, ctx *kong.Context) error {
		var sb strings.Builder

		sb.WriteString(TitleStyle.Render("langsplit"))
		sb.WriteString("\n")
		sb.WriteString(description)
		sb.WriteString("\n")

		sb.WriteString(helpSectionStyle.Render("Usage:"))
		sb.WriteString(fmt.Sprintf("\n  %s [flags] <file>\n", ctx.Model.Name))

		if args := ctx.Model.Node.Positional; len(args) > 0 {
			sb.WriteString(helpSectionStyle.Render("Arguments:"))
			sb.WriteString("\n")
			for _, arg := range args {
				sb.WriteString(fmt.Sprintf("  %s  %s\n", helpFlagStyle.Render(arg.Summary()), arg.Help))
			}
		}

		sb.WriteString(helpSectionStyle.Render("Flags:"))
		sb.WriteString("\n")
		for _, f := range ctx.Model.Node.Flags {
			if f.Hidden {
				continue
			}
			name := "--" + f.Name
			if f.Short != 0 {
				name = fmt.Sprintf("-%c, %s", f.Short, name)
			}
			sb.WriteString("  " + helpFlagStyle.Render(name))
			if f.Help != "" {
				sb.WriteString("  " + f.Help)
			}
			if f.HasDefault && f.Default != "" {
				sb.WriteString(" " + helpDefaultStyle.Render("(default: "+f.Default+")"))
			}
			sb.WriteString("\n")
		}

		fmt.Fprint(ctx.Stdout, sb.String())
		return nil
	}
}
