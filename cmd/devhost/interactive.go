package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/wippyai/micro-rpc/dtype"
	"github.com/wippyai/micro-rpc/packed"
	"github.com/wippyai/micro-rpc/server"
	"github.com/wippyai/micro-rpc/session"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	funcStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#98FB98"))

	selectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4"))

	resultStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#90EE90"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

// loopback wires a host-side session to the server in process, standing
// in for the byte transport.
type loopback struct {
	u *session.Unframer
}

func (l *loopback) Write(b []byte) (int, error) {
	return l.u.Write(b)
}

// console owns both ends of the loopback and tracks the last reply.
type console struct {
	srv        *server.Server
	host       *session.Session
	lastStatus byte
	gotReply   bool
}

func newConsole(ctx context.Context, cfg hostConfig) (*console, func(), error) {
	lb := &loopback{}
	srv, cleanup, err := buildServer(ctx, lb, cfg)
	if err != nil {
		return nil, nil, err
	}

	c := &console{srv: srv}
	c.host = session.New(srv, cfg.Server.InitialNonce+1, cfg.Server.ReceiveBufferSize)
	c.host.OnMessage(func(ty session.MessageType, body *session.Buffer) {
		if ty == session.MessageTypeNormal && body.Remaining() == 1 {
			c.lastStatus = body.Bytes()[0]
			c.gotReply = true
		}
		c.host.ClearReceiveBuffer()
	})
	lb.u = session.NewUnframer(c.host.Receiver())

	if err := c.host.StartSession(); err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("start session: %w", err)
	}
	return c, cleanup, nil
}

// call sends one request and waits for the status byte. The loopback is
// synchronous, so the reply is in before SendMessage returns.
func (c *console) call(name, argLine string) (byte, error) {
	values, codes, err := parseArgs(argLine)
	if err != nil {
		return 0, err
	}
	c.gotReply = false
	req := server.EncodeCall(name, values, codes)
	if err := c.host.SendMessage(session.MessageTypeNormal, req); err != nil {
		return 0, err
	}
	if !c.gotReply {
		return 0, fmt.Errorf("no reply from server")
	}
	return c.lastStatus, nil
}

// parseArgs turns a comma-separated list of type:value pairs into packed
// arguments, e.g. "int32:5, float64:2.5, handle:0".
func parseArgs(line string) ([]packed.Value, []packed.TypeCode, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil, nil, nil
	}

	var values []packed.Value
	var codes []packed.TypeCode
	for _, part := range strings.Split(line, ",") {
		part = strings.TrimSpace(part)
		tyName, lit, found := strings.Cut(part, ":")
		if !found {
			tyName, lit = "int64", part
		}
		code := packed.CodeOf(dtype.Parse(tyName))

		var v packed.Value
		switch code {
		case packed.TypeCodeFloat:
			f, err := strconv.ParseFloat(lit, 64)
			if err != nil {
				return nil, nil, fmt.Errorf("argument %q: %w", part, err)
			}
			v = packed.Float64Value(f)
		case packed.TypeCodeUInt, packed.TypeCodeHandle:
			u, err := strconv.ParseUint(lit, 0, 64)
			if err != nil {
				return nil, nil, fmt.Errorf("argument %q: %w", part, err)
			}
			v = packed.Value(u)
		default:
			i, err := strconv.ParseInt(lit, 0, 64)
			if err != nil {
				return nil, nil, fmt.Errorf("argument %q: %w", part, err)
			}
			v = packed.Int64Value(i)
		}
		values = append(values, v)
		codes = append(codes, code)
	}
	return values, codes, nil
}

func statusName(s byte) string {
	switch s {
	case server.StatusOK:
		return "ok"
	case server.StatusMalformedRequest:
		return "malformed request"
	case server.StatusFunctionNotFound:
		return "function not found"
	case server.StatusTooManyArguments:
		return "too many arguments"
	case server.StatusKernelError:
		return "kernel error"
	default:
		return fmt.Sprintf("status %d", s)
	}
}

type modelState int

const (
	stateSelectFunc modelState = iota
	stateInputArgs
	stateShowResult
)

type callResultMsg struct {
	err    error
	status byte
}

type consoleModel struct {
	console  *console
	names    []string
	input    textinput.Model
	selected int
	state    modelState
	result   string
	err      error
}

func newConsoleModel(c *console) *consoleModel {
	ti := textinput.New()
	ti.Placeholder = "int32:5, float64:2.5"
	ti.Prompt = "args: "
	ti.Width = 48
	return &consoleModel{
		console: c,
		names:   c.srv.Registry().Names(),
		input:   ti,
		state:   stateSelectFunc,
	}
}

func (m *consoleModel) Init() tea.Cmd {
	return nil
}

func (m *consoleModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			return m, tea.Quit

		case "q":
			if m.state != stateInputArgs {
				return m, tea.Quit
			}

		case "up", "k":
			if m.state == stateSelectFunc && m.selected > 0 {
				m.selected--
			}

		case "down", "j":
			if m.state == stateSelectFunc && m.selected < len(m.names)-1 {
				m.selected++
			}

		case "enter":
			switch m.state {
			case stateSelectFunc:
				if len(m.names) == 0 {
					return m, nil
				}
				m.input.SetValue("")
				m.input.Focus()
				m.state = stateInputArgs
			case stateInputArgs:
				return m, m.callSelected
			case stateShowResult:
				m.state = stateSelectFunc
				m.result = ""
				m.err = nil
			}

		case "esc":
			if m.state != stateSelectFunc {
				m.state = stateSelectFunc
				m.result = ""
				m.err = nil
			}
		}

	case callResultMsg:
		m.err = msg.err
		if msg.err == nil {
			m.result = statusName(msg.status)
		}
		m.state = stateShowResult
	}

	if m.state == stateInputArgs {
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *consoleModel) callSelected() tea.Msg {
	status, err := m.console.call(m.names[m.selected], m.input.Value())
	return callResultMsg{status: status, err: err}
}

func (m *consoleModel) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("micro-rpc console"))
	b.WriteString(fmt.Sprintf("  session %#04x\n\n", m.console.host.ID()))

	switch m.state {
	case stateSelectFunc:
		if len(m.names) == 0 {
			b.WriteString("No functions registered. Load a wasm module with -wasm.\n\n")
			b.WriteString(helpStyle.Render("q quit"))
			break
		}
		b.WriteString("Select a function to call:\n\n")
		for i, name := range m.names {
			if i == m.selected {
				b.WriteString(selectedStyle.Render("> " + name))
			} else {
				b.WriteString("  " + funcStyle.Render(name))
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("↑/↓ select • enter call • q quit"))

	case stateInputArgs:
		b.WriteString(fmt.Sprintf("Calling %s\n\n", funcStyle.Render(m.names[m.selected])))
		b.WriteString(m.input.View())
		b.WriteString("\n\n")
		b.WriteString(helpStyle.Render("enter call • esc back"))

	case stateShowResult:
		b.WriteString(fmt.Sprintf("Result of %s:\n\n", funcStyle.Render(m.names[m.selected])))
		if m.err != nil {
			b.WriteString(errorStyle.Render(fmt.Sprintf("Error: %v", m.err)))
		} else {
			b.WriteString(resultStyle.Render(m.result))
		}
		b.WriteString("\n\n")
		b.WriteString(helpStyle.Render("enter continue • q quit"))
	}

	return b.String()
}

func runInteractive(cfg hostConfig) error {
	ctx := context.Background()
	c, cleanup, err := newConsole(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	p := tea.NewProgram(newConsoleModel(c), tea.WithAltScreen())
	_, err = p.Run()
	return err
}
