package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/openzim/zimbridge"
	"github.com/openzim/zimbridge/reader"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#2D7D46")).
			Padding(0, 1)

	pathStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#98FB98"))

	mimeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB"))

	selectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#2D7D46"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

type browserState int

const (
	stateBrowse browserState = iota
	statePreview
)

type entryLine struct {
	info zimbridge.EntryInfo
}

type browserModel struct {
	filename string
	archive  *reader.Archive
	err      error

	entries  []entryLine
	filtered []entryLine
	filter   textinput.Model
	selected int
	state    browserState
	preview  string
}

func newBrowserModel(filename string) *browserModel {
	filter := textinput.New()
	filter.Placeholder = "filter by path"
	filter.Prompt = "/ "
	filter.Width = 40
	return &browserModel{filename: filename, filter: filter}
}

type openedMsg struct {
	err     error
	archive *reader.Archive
	entries []entryLine
}

type previewMsg struct {
	err     error
	content string
}

func (m *browserModel) Init() tea.Cmd {
	return m.openArchive
}

func (m *browserModel) openArchive() tea.Msg {
	a, err := reader.OpenFile(m.filename)
	if err != nil {
		return openedMsg{err: err}
	}

	entries := make([]entryLine, 0, a.EntryCount())
	for i := uint32(0); i < a.EntryCount(); i++ {
		entry, err := a.EntryAt(i)
		if err != nil {
			a.Close()
			return openedMsg{err: err}
		}
		path, _ := entry.Path()
		title, _ := entry.Title()
		redirect, _ := entry.IsRedirect()
		line := entryLine{info: zimbridge.EntryInfo{Path: path, Title: title, Redirect: redirect}}
		if !redirect {
			if item, err := entry.Item(false); err == nil {
				line.info.Mimetype, _ = item.Mimetype()
				line.info.Size, _ = item.Size()
			}
		}
		entries = append(entries, line)
	}
	return openedMsg{archive: a, entries: entries}
}

func (m *browserModel) loadPreview() tea.Msg {
	if m.selected >= len(m.filtered) {
		return previewMsg{err: fmt.Errorf("nothing selected")}
	}
	line := m.filtered[m.selected]

	entry, err := m.archive.EntryByPath(line.info.Path)
	if err != nil {
		return previewMsg{err: err}
	}
	item, err := entry.Item(true)
	if err != nil {
		return previewMsg{err: err}
	}
	b, err := item.Data(context.Background())
	if err != nil {
		return previewMsg{err: err}
	}
	b.BeginView()
	content := string(b.Data())
	b.EndView()

	const limit = 4096
	if len(content) > limit {
		content = content[:limit] + "\n… (truncated)"
	}
	return previewMsg{content: content}
}

func (m *browserModel) applyFilter() {
	query := strings.ToLower(m.filter.Value())
	if query == "" {
		m.filtered = m.entries
	} else {
		m.filtered = nil
		for _, line := range m.entries {
			if strings.Contains(strings.ToLower(line.info.Path), query) ||
				strings.Contains(strings.ToLower(line.info.Title), query) {
				m.filtered = append(m.filtered, line)
			}
		}
	}
	if m.selected >= len(m.filtered) {
		m.selected = 0
	}
}

func (m *browserModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			if m.state == stateBrowse && m.filter.Focused() && msg.String() == "q" {
				break
			}
			if m.archive != nil {
				m.archive.Close()
			}
			return m, tea.Quit

		case "up", "k":
			if m.state == stateBrowse && !m.filter.Focused() && m.selected > 0 {
				m.selected--
				return m, nil
			}

		case "down", "j":
			if m.state == stateBrowse && !m.filter.Focused() && m.selected < len(m.filtered)-1 {
				m.selected++
				return m, nil
			}

		case "/":
			if m.state == stateBrowse && !m.filter.Focused() {
				m.filter.Focus()
				return m, nil
			}

		case "enter":
			switch m.state {
			case stateBrowse:
				if m.filter.Focused() {
					m.filter.Blur()
					return m, nil
				}
				m.state = statePreview
				return m, m.loadPreview
			case statePreview:
				m.state = stateBrowse
				m.preview = ""
			}

		case "esc":
			switch m.state {
			case stateBrowse:
				if m.filter.Focused() {
					m.filter.Blur()
					m.filter.SetValue("")
					m.applyFilter()
				}
			case statePreview:
				m.state = stateBrowse
				m.preview = ""
			}
		}

	case openedMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.archive = msg.archive
		m.entries = msg.entries
		m.filtered = msg.entries

	case previewMsg:
		if msg.err != nil {
			m.preview = errorStyle.Render(fmt.Sprintf("Error: %v", msg.err))
		} else {
			m.preview = msg.content
		}
	}

	if m.state == stateBrowse && m.filter.Focused() {
		var cmd tea.Cmd
		m.filter, cmd = m.filter.Update(msg)
		m.applyFilter()
		return m, cmd
	}

	return m, nil
}

func (m *browserModel) View() string {
	if m.err != nil {
		return errorStyle.Render(fmt.Sprintf("Error: %v\n\nPress q to quit.", m.err))
	}
	if m.archive == nil {
		return "Opening archive..."
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("Archive Browser"))
	b.WriteString(" ")
	b.WriteString(m.filename)
	b.WriteString(fmt.Sprintf("  (%d entries)\n\n", len(m.entries)))

	switch m.state {
	case stateBrowse:
		b.WriteString(m.filter.View())
		b.WriteString("\n\n")

		const window = 20
		start := 0
		if m.selected >= window {
			start = m.selected - window + 1
		}
		end := start + window
		if end > len(m.filtered) {
			end = len(m.filtered)
		}
		for i := start; i < end; i++ {
			line := m.filtered[i]
			text := m.formatLine(line)
			if i == m.selected {
				b.WriteString(selectedStyle.Render("> " + text))
			} else {
				b.WriteString("  " + text)
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("↑/↓ select • enter preview • / filter • q quit"))

	case statePreview:
		if m.selected < len(m.filtered) {
			b.WriteString(pathStyle.Render(m.filtered[m.selected].info.Path))
			b.WriteString("\n\n")
		}
		b.WriteString(m.preview)
		b.WriteString("\n\n")
		b.WriteString(helpStyle.Render("enter/esc back • q quit"))
	}

	return b.String()
}

func (m *browserModel) formatLine(line entryLine) string {
	if line.info.Redirect {
		return pathStyle.Render(line.info.Path) + "  " + mimeStyle.Render("redirect")
	}
	return fmt.Sprintf("%s  %s  %d bytes",
		pathStyle.Render(line.info.Path),
		mimeStyle.Render(line.info.Mimetype),
		line.info.Size)
}

func runInteractive(filename string) error {
	p := tea.NewProgram(newBrowserModel(filename), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
