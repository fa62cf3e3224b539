// Package tui renders an exam attempt in the terminal. It is a pure
// projection of the session controller: every keypress is forwarded to
// the controller and every redraw reads its current view.
package tui

import (
	"context"
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/stemsi/exstem-portal/internal/apperror"
	"github.com/stemsi/exstem-portal/internal/model"
	"github.com/stemsi/exstem-portal/internal/session"
)

// Controller is the part of session.Controller the terminal UI drives.
type Controller interface {
	Snapshot() session.View
	SelectAnswer(questionID, answerID model.ID)
	Submit(ctx context.Context) error
	Retry(ctx context.Context) error
	Subscribe() (<-chan struct{}, func())
	Done() <-chan struct{}
	Close()
}

const progressWidth = 30

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	timerStyle   = lipgloss.NewStyle().Bold(true)
	lowTimeStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
	faintStyle   = lipgloss.NewStyle().Faint(true)
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	cursorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("14")).Bold(true)
	chosenStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	doneStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
	boxStyle     = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

type changeMsg struct{}

type doneMsg struct{}

type actionResultMsg struct {
	err error
}

// Model is the bubbletea model of an exam attempt.
type Model struct {
	ctrl        Controller
	changes     <-chan struct{}
	unsubscribe func()

	view       session.View
	questionID model.ID
	cursor     int
	notice     string
	width      int
	finished   bool
}

// NewModel subscribes to ctrl and captures its current view.
func NewModel(ctrl Controller) Model {
	changes, unsubscribe := ctrl.Subscribe()
	m := Model{ctrl: ctrl, changes: changes, unsubscribe: unsubscribe}
	m.refresh()
	return m
}

// Snapshot returns the last captured controller view.
func (m Model) Snapshot() session.View {
	return m.view
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(listenForChange(m.changes), waitForDone(m.ctrl.Done()))
}

func listenForChange(channel <-chan struct{}) tea.Cmd {
	return func() tea.Msg {
		if _, ok := <-channel; !ok {
			return nil
		}
		return changeMsg{}
	}
}

func waitForDone(done <-chan struct{}) tea.Cmd {
	return func() tea.Msg {
		<-done
		return doneMsg{}
	}
}

// Update implements tea.Model.
func (m Model) Update(message tea.Msg) (tea.Model, tea.Cmd) {
	switch message := message.(type) {
	case tea.WindowSizeMsg:
		m.width = message.Width
		return m, nil

	case changeMsg:
		m.refresh()
		return m, listenForChange(m.changes)

	case doneMsg:
		m.refresh()
		m.finished = true
		return m, nil

	case actionResultMsg:
		m.refresh()
		if message.err != nil {
			m.notice = apperror.MessageOf(message.err)
		}
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(message)
	}
	return m, nil
}

func (m Model) handleKey(message tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := message.String()
	if key == "ctrl+c" || key == "q" || m.finished {
		return m.quit()
	}

	m.notice = ""
	question := m.view.Question

	switch key {
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
	case "down", "j":
		if question != nil && m.cursor < len(question.Answers)-1 {
			m.cursor++
		}
	case " ":
		m.choose(m.cursor)
	case "enter":
		if m.view.State == session.StateError {
			return m, m.run(m.ctrl.Retry)
		}
		return m, m.run(m.ctrl.Submit)
	case "r":
		if m.view.State == session.StateError {
			return m, m.run(m.ctrl.Retry)
		}
	default:
		if len(key) == 1 && key[0] >= '1' && key[0] <= '9' {
			m.choose(int(key[0] - '1'))
		}
	}
	return m, nil
}

func (m *Model) choose(index int) {
	question := m.view.Question
	if question == nil || index < 0 || index >= len(question.Answers) {
		return
	}
	m.cursor = index
	m.ctrl.SelectAnswer(question.ID, question.Answers[index].ID)
	m.refresh()
}

// run executes a blocking controller action off the update loop.
func (m Model) run(action func(context.Context) error) tea.Cmd {
	return func() tea.Msg {
		return actionResultMsg{err: action(context.Background())}
	}
}

func (m Model) quit() (tea.Model, tea.Cmd) {
	m.ctrl.Close()
	if m.unsubscribe != nil {
		m.unsubscribe()
	}
	return m, tea.Quit
}

func (m *Model) refresh() {
	m.view = m.ctrl.Snapshot()
	question := m.view.Question
	if question == nil {
		m.questionID = ""
		m.cursor = 0
		return
	}
	if question.ID != m.questionID {
		m.questionID = question.ID
		m.cursor = 0
		for i, answer := range question.Answers {
			if answer.ID == m.view.SelectedAnswer {
				m.cursor = i
			}
		}
	}
}

// View implements tea.Model.
func (m Model) View() string {
	v := m.view
	var b strings.Builder

	switch v.State {
	case session.StateLoading:
		b.WriteString(faintStyle.Render("Loading exam..."))
		b.WriteString("\n")
		return b.String()

	case session.StateRedirected:
		b.WriteString("There is no exam in progress. Start one from the exam list.\n")
		b.WriteString(faintStyle.Render("Press any key to exit."))
		b.WriteString("\n")
		return b.String()

	case session.StateError:
		b.WriteString(errorStyle.Render(v.Error))
		b.WriteString("\n\n")
		b.WriteString(faintStyle.Render("enter/r retry • q quit"))
		b.WriteString("\n")
		return b.String()

	case session.StateCompleted:
		b.WriteString(doneStyle.Render("Exam completed."))
		b.WriteString("\n")
		if v.CompletionReason == model.CompletionTimeout {
			b.WriteString("Time ran out; answers submitted so far were kept.\n")
		}
		if v.CompletionError != "" {
			b.WriteString(errorStyle.Render(v.CompletionError))
			b.WriteString("\n")
		}
		b.WriteString(faintStyle.Render("Press any key to return to the exam list."))
		b.WriteString("\n")
		return b.String()
	}

	b.WriteString(m.header())
	b.WriteString("\n\n")
	if question := v.Question; question != nil {
		body := lipgloss.NewStyle().Bold(true).Render(question.Text) + "\n\n" + m.options()
		style := boxStyle
		if m.width > 4 {
			style = style.Width(m.width - 4)
		}
		b.WriteString(style.Render(body))
		b.WriteString("\n")
	}

	if v.Submitting {
		b.WriteString(faintStyle.Render("Submitting..."))
		b.WriteString("\n")
	}
	notice := m.notice
	if notice == "" {
		notice = v.Error
	}
	if notice != "" {
		b.WriteString(errorStyle.Render(notice))
		b.WriteString("\n")
	}

	action := "submit"
	if v.IsLastQuestion {
		action = "finish exam"
	}
	b.WriteString(faintStyle.Render(fmt.Sprintf("1-9/space select • ↑/↓ move • enter %s • q leave", action)))
	b.WriteString("\n")
	return b.String()
}

func (m Model) header() string {
	v := m.view
	timer := timerStyle
	if v.TimeLow {
		timer = lowTimeStyle
	}
	title := titleStyle.Render(v.ExamName)
	clock := timer.Render("⏱ " + v.RemainingDisplay)

	filled := int(v.Progress() * progressWidth)
	bar := strings.Repeat("█", filled) + strings.Repeat("░", progressWidth-filled)
	progress := fmt.Sprintf("Question %d of %d  %s", v.QuestionIndex+1, v.QuestionCount, bar)

	return lipgloss.JoinHorizontal(lipgloss.Top, title, "  ", clock) + "\n" + faintStyle.Render(progress)
}

func (m Model) options() string {
	question := m.view.Question
	lines := make([]string, 0, len(question.Answers))
	for i, answer := range question.Answers {
		marker := "( )"
		text := fmt.Sprintf("%d. %s", i+1, answer.Text)
		if answer.ID == m.view.SelectedAnswer {
			marker = "(•)"
			text = chosenStyle.Render(text)
		}
		pointer := "  "
		if i == m.cursor {
			pointer = cursorStyle.Render("> ")
		}
		lines = append(lines, pointer+marker+" "+text)
	}
	return strings.Join(lines, "\n")
}
