// Chavruta - tool-calling gateway for a canonical text library
// License: MIT

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/chavruta/chavruta/pkg/config"
	"github.com/chavruta/chavruta/pkg/tools"
)

// newReplCommand builds the interactive REPL: one line per tool call, with
// the budget ledger and cycle detector running exactly as they would under an
// LLM orchestrator.
func newReplCommand(loadCfg func() (*config.Config, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "repl",
		Short: "Interactively call tools the way an LLM would",
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := loadCfg()
			if err != nil {
				return err
			}
			return runRepl(cfg)
		},
	}
}

func runRepl(cfg *config.Config) error {
	registry := buildRegistry(cfg)
	session := tools.NewSession(cfg.Budget, cfg.Cycle)
	budgetHook := tools.NewBudgetHook(session)
	registry.AddHook(budgetHook)

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "chavruta> ",
		HistoryFile:     filepath.Join(os.TempDir(), ".chavruta_history"),
		HistoryLimit:    100,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("initialize readline: %w", err)
	}
	defer rl.Close()

	fmt.Println("Interactive mode (Ctrl+C to exit)")
	fmt.Println("  <tool_name> {json args}  - call a tool")
	fmt.Println("  :tools                   - list tools")
	fmt.Println("  :budget                  - show turn budget state")
	fmt.Println("  :newturn                 - start a new turn")
	fmt.Println()

	for {
		line, err := rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt || err == io.EOF {
				fmt.Println("\nGoodbye!")
				return nil
			}
			fmt.Printf("Error reading input: %v\n", err)
			continue
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}
		if input == "exit" || input == "quit" {
			fmt.Println("Goodbye!")
			return nil
		}

		switch input {
		case ":tools":
			for _, name := range registry.List() {
				fmt.Printf("  %s\n", name)
			}
			continue
		case ":budget":
			fmt.Printf("turn %s: used %d bytes, %d remaining\n",
				session.ID, session.Ledger.Used(), session.Ledger.Remaining())
			continue
		case ":newturn":
			session = tools.NewSession(cfg.Budget, cfg.Cycle)
			budgetHook.Bind(session)
			fmt.Printf("new turn %s\n", session.ID)
			continue
		}

		name, args, err := parseCall(input)
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			continue
		}

		session.Detector.Observe([]tools.ToolCall{{Name: name, Args: args}})

		result := registry.Execute(context.Background(), name, args)
		fmt.Println(prettyJSON(result.ForLLM))
		fmt.Printf("[budget: %d used, %d remaining]\n",
			session.Ledger.Used(), session.Ledger.Remaining())

		if session.Detector.ShouldBreak() {
			fmt.Println("[cycle detector: repetition loop detected, a new approach is needed]")
		}
	}
}

// parseCall splits "tool_name {json}" into its parts. The argument object is
// optional; a bare tool name calls with no arguments.
func parseCall(input string) (string, map[string]any, error) {
	name, rest, _ := strings.Cut(input, " ")
	rest = strings.TrimSpace(rest)

	args := map[string]any{}
	if rest != "" {
		if err := json.Unmarshal([]byte(rest), &args); err != nil {
			return "", nil, fmt.Errorf("arguments must be a JSON object: %w", err)
		}
	}
	return name, args, nil
}

func prettyJSON(s string) string {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return s
	}
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return s
	}
	return string(out)
}
