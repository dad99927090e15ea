// Package cli is an interactive prompt over the console for testing datasets
// by hand. Lines are queries against the current dataset; lines starting with
// ':' are commands.
package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/bastiangx/hound/internal/utils"
	"github.com/bastiangx/hound/pkg/console"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/log"
)

var (
	valueStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("75"))
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
)

const helpText = `commands:
  <query>                  query the current dataset
  <dataset>: <query>       query another dataset
  :use <dataset>           switch the current dataset
  :ls                      list datasets and their state
  :refresh [dataset] [!]   refresh a dataset, ! forces a refetch
  :invalidate [dataset]    drop a dataset's items
  :set <param> <value>     change a parameter and refresh dependent datasets
  :params                  show parameters
  :help                    show this text
  :quit                    exit`

// InputHandler reads lines from an input and answers them from the console.
type InputHandler struct {
	console *console.Console
	out     *log.Logger
	limit   int
	current string
}

// NewInputHandler creates a handler that prints to w. limit is the number of
// suggestions per query; zero uses each dataset's own limit.
func NewInputHandler(c *console.Console, w io.Writer, limit int) *InputHandler {
	h := &InputHandler{
		console: c,
		out:     log.NewWithOptions(w, log.Options{ReportTimestamp: false}),
		limit:   limit,
	}
	if names := c.Names(); len(names) > 0 {
		h.current = names[0]
	}
	return h
}

// Start runs the prompt loop until r is exhausted, ctx is done or the user
// quits.
func (h *InputHandler) Start(ctx context.Context, r io.Reader) error {
	h.out.Print("hound CLI, :help lists commands (Ctrl+C to exit)")
	scanner := bufio.NewScanner(r)
	for {
		h.out.Printf("[%s]> ", h.current)
		if !scanner.Scan() {
			return scanner.Err()
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if quit := h.handleInput(ctx, line); quit {
			return nil
		}
	}
}

// handleInput processes one line and reports whether the loop should stop.
func (h *InputHandler) handleInput(ctx context.Context, line string) bool {
	if !strings.HasPrefix(line, ":") {
		name, text := h.current, line
		if ds, rest, ok := strings.Cut(line, ":"); ok && !strings.ContainsAny(ds, " \t") {
			if _, err := h.console.Index(ds); err == nil {
				name, text = ds, strings.TrimSpace(rest)
			}
		}
		h.query(name, text)
		return false
	}

	fields := strings.Fields(line[1:])
	if len(fields) == 0 {
		return false
	}
	cmd, args := fields[0], fields[1:]
	switch cmd {
	case "q", "quit", "exit":
		return true
	case "h", "help":
		h.out.Print(helpText)
	case "use":
		if len(args) != 1 {
			h.fail(errors.New("usage: :use <dataset>"))
			return false
		}
		if _, err := h.console.Index(args[0]); err != nil {
			h.fail(err)
			return false
		}
		h.current = args[0]
	case "ls", "status":
		h.status()
	case "r", "refresh":
		name, force := h.current, false
		for _, a := range args {
			if a == "!" || a == "force" {
				force = true
			} else {
				name = a
			}
		}
		h.refresh(ctx, name, force)
	case "invalidate":
		name := h.current
		if len(args) > 0 {
			name = args[0]
		}
		if err := h.console.Invalidate(name); err != nil {
			h.fail(err)
			return false
		}
		h.out.Printf("invalidated %s", name)
	case "set":
		if len(args) < 2 {
			h.fail(errors.New("usage: :set <param> <value>"))
			return false
		}
		names, err := h.console.SetParam(ctx, args[0], strings.Join(args[1:], " "))
		if errors.Is(err, console.ErrParamRequired) {
			h.fail(err)
			return false
		}
		h.out.Printf("%s = %s, refreshed %s", args[0], h.console.Param(args[0]), strings.Join(names, ", "))
		if err != nil {
			h.fail(err)
		}
	case "params":
		for k, v := range h.console.Params() {
			h.out.Printf("  %s = %s", k, v)
		}
	default:
		h.fail(fmt.Errorf("unknown command :%s, try :help", cmd))
	}
	return false
}

func (h *InputHandler) query(name, text string) {
	start := time.Now()
	items, err := h.console.Query(name, text, h.limit)
	if err != nil {
		h.fail(err)
		return
	}
	log.Debugf("Took [ %v ] for query '%s' on %s", time.Since(start), text, name)

	if len(items) == 0 {
		idx, _ := h.console.Index(name)
		if idx != nil && idx.Len() == 0 {
			h.out.Printf("No suggestions: %s is %s with no items, try :refresh", name, idx.State())
			return
		}
		h.out.Printf("No suggestions for '%s' in %s", text, name)
		return
	}

	h.out.Printf("Found %d suggestions in %s:", len(items), name)
	for i, it := range items {
		h.out.Printf("%2d. %-40s (count: %8s)", i+1, valueStyle.Render(it.Value), utils.FormatWithCommas(it.Count))
	}
}

func (h *InputHandler) refresh(ctx context.Context, name string, force bool) {
	start := time.Now()
	if err := h.console.Refresh(ctx, name, force); err != nil {
		h.fail(err)
		return
	}
	idx, err := h.console.Index(name)
	if err != nil {
		h.fail(err)
		return
	}
	h.out.Printf("%s: %s items, generation %d (%v)", name, utils.FormatWithCommas(idx.Len()), idx.Generation(), time.Since(start).Round(time.Millisecond))
}

func (h *InputHandler) status() {
	for _, st := range h.console.Status() {
		marker := " "
		if st.Name == h.current {
			marker = "*"
		}
		line := fmt.Sprintf("%s %-22s %-10s gen %-3d %8s items  %s", marker, st.Name, st.State, st.Generation, utils.FormatWithCommas(st.Items), st.Source)
		if st.Error != "" {
			line += "  " + errStyle.Render(st.Error)
		}
		h.out.Print(line)
	}
}

func (h *InputHandler) fail(err error) {
	h.out.Print(errStyle.Render("error: " + err.Error()))
}
