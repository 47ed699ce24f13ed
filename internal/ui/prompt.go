package ui

import (
	"context"
	"errors"
	"fmt"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
)

// ErrPromptCancelled is returned when the user leaves a prompt with esc or
// ctrl+c.
var ErrPromptCancelled = errors.New("prompt cancelled")

type passwordModel struct {
	label     string
	input     textinput.Model
	submitted bool
	cancelled bool
}

func newPasswordModel(label string) passwordModel {
	in := textinput.New()
	in.Prompt = IconLock + " "
	in.EchoMode = textinput.EchoPassword
	in.EchoCharacter = '•'
	in.Focus()
	return passwordModel{label: label, input: in}
}

func (m passwordModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m passwordModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if key, ok := msg.(tea.KeyMsg); ok {
		switch key.Type {
		case tea.KeyEnter:
			m.submitted = true
			return m, tea.Quit
		case tea.KeyEsc, tea.KeyCtrlC:
			m.cancelled = true
			return m, tea.Quit
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m passwordModel) View() string {
	if m.submitted || m.cancelled {
		return ""
	}
	return fmt.Sprintf("%s\n%s\n", WarningStyle.Render(m.label), m.input.View())
}

// PromptPassword reads a masked password from the terminal.
func PromptPassword(ctx context.Context, label string) (string, error) {
	p := tea.NewProgram(newPasswordModel(label), tea.WithContext(ctx), tea.WithOutput(Output))
	final, err := p.Run()
	if err != nil {
		return "", fmt.Errorf("password prompt: %w", err)
	}

	m := final.(passwordModel)
	if !m.submitted {
		return "", ErrPromptCancelled
	}
	return m.input.Value(), nil
}
