// Package cli provides actionable next-step hints for CLI commands.
package cli

import (
	"fmt"
	"io"
	"strings"
)

// PreflightError is a failure the user can fix before retrying.
type PreflightError struct {
	Message  string
	Hint     string
	NextStep string
}

func (e *PreflightError) Error() string {
	var b strings.Builder
	b.WriteString(e.Message)
	if e.Hint != "" {
		b.WriteString("\n  hint: ")
		b.WriteString(e.Hint)
	}
	if e.NextStep != "" {
		b.WriteString("\n  try:  ")
		b.WriteString(e.NextStep)
	}
	return b.String()
}

// HintContext provides context for generating relevant next steps.
type HintContext struct {
	// Action is the command that was executed (e.g., "seed", "serve").
	Action string

	// Source is the datasource kind involved.
	Source string

	// Hierarchy is the row tree involved.
	Hierarchy string

	// Path is a file the command wrote, such as a database.
	Path string

	// Addr is a listen or dial address.
	Addr string
}

// PrintNextSteps prints contextual next steps after a successful command.
// Does nothing if JSON output is enabled.
func PrintNextSteps(out io.Writer, ctx HintContext) {
	if IsJSONOutput() || IsJSONLOutput() {
		return
	}

	hints := generateHints(ctx)
	if len(hints) == 0 {
		return
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, "Next steps:")
	for _, hint := range hints {
		fmt.Fprintf(out, "  %s\n", hint)
	}
}

// generateHints generates context-aware hints for the given action.
func generateHints(ctx HintContext) []string {
	switch ctx.Action {
	case "seed":
		return hintsForSeed(ctx)
	case "serve":
		return hintsForServe(ctx)
	case "view_clear":
		return []string{"gridctl browse                      # Start from a fresh view"}
	default:
		return nil
	}
}

func hintsForSeed(ctx HintContext) []string {
	hints := make([]string, 0, 3)
	hints = append(hints,
		fmt.Sprintf("gridctl browse --source %s          # Browse the seeded rows", ctx.Source),
		fmt.Sprintf("gridctl dump --source %s --limit 20 # Print the first rows", ctx.Source),
	)
	if ctx.Hierarchy != "" {
		hints = append(hints,
			fmt.Sprintf("gridctl serve --source %s --hierarchy %s", ctx.Source, ctx.Hierarchy),
		)
	}
	return hints
}

func hintsForServe(ctx HintContext) []string {
	return []string{
		fmt.Sprintf("gridctl browse --source grpc   # with datasource.addr: %s", ctx.Addr),
	}
}
