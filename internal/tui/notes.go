// SPDX-License-Identifier: MIT
package tui

import (
	"cmp"
	"fmt"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"colorchord/internal/config"
	"colorchord/internal/dft"
	"colorchord/internal/hue"
	"colorchord/internal/notefinder"
	"colorchord/internal/notes"
	"colorchord/internal/transport"
)

// RefreshInterval is how often the note view polls the engine.
const RefreshInterval = 33 * time.Millisecond

const barWidth = 32

// Engine is the part of the note finder the view reads and controls.
type Engine interface {
	Latest() *notefinder.Frame
	Snapshot() config.Params
	Frames() uint64
	Dropped() uint64
	SelectTransformStrategy(dft.Strategy) error
	SetAmplification(float64) error
	Reset()
}

var noteNames = [12]string{"A", "A#", "B", "C", "C#", "D", "D#", "E", "F", "F#", "G", "G#"}

// NoteName returns the nearest equal-tempered note name for a pitch class
// measured from baseHz.
func NoteName(pitchClass, baseHz float64) string {
	semis := pitchClass*12 + 12*math.Log2(baseHz/config.ReferenceBaseHz)
	i := int(math.Round(semis)) % 12
	if i < 0 {
		i += 12
	}
	return noteNames[i]
}

type noteKeyMap struct {
	Strategy key.Binding
	Louder   key.Binding
	Quieter  key.Binding
	Reset    key.Binding
	Quit     key.Binding
}

func (k noteKeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Strategy, k.Louder, k.Quieter, k.Reset, k.Quit}
}

func (k noteKeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{k.ShortHelp()}
}

var noteKeys = noteKeyMap{
	Strategy: key.NewBinding(key.WithKeys("s"), key.WithHelp("s", "transform")),
	Louder:   key.NewBinding(key.WithKeys("+", "="), key.WithHelp("+", "amplify")),
	Quieter:  key.NewBinding(key.WithKeys("-"), key.WithHelp("-", "attenuate")),
	Reset:    key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "reset")),
	Quit:     key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
}

type tickMsg time.Time

func tick() tea.Cmd {
	return tea.Tick(RefreshInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// NoteModel shows the tracked notes of a running engine.
type NoteModel struct {
	engine Engine
	frame  *notefinder.Frame
	params config.Params
	help   help.Model
	status string
	width  int
}

// NewNoteModel creates the live note view.
func NewNoteModel(engine Engine) NoteModel {
	return NoteModel{
		engine: engine,
		params: engine.Snapshot(),
		help:   help.New(),
	}
}

func (m NoteModel) Init() tea.Cmd {
	return tick()
}

func (m NoteModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.help.Width = msg.Width

	case tickMsg:
		m.frame = m.engine.Latest()
		m.params = m.engine.Snapshot()
		return m, tick()

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, noteKeys.Quit):
			return m, tea.Quit

		case key.Matches(msg, noteKeys.Strategy):
			all := dft.Strategies()
			next := all[(slices.Index(all, m.params.Transform)+1)%len(all)]
			m.status = m.apply(m.engine.SelectTransformStrategy(next), "transform "+next.String())

		case key.Matches(msg, noteKeys.Louder):
			v := m.params.Amplification * 1.25
			m.status = m.apply(m.engine.SetAmplification(v), fmt.Sprintf("amplification %.2f", v))

		case key.Matches(msg, noteKeys.Quieter):
			v := m.params.Amplification / 1.25
			m.status = m.apply(m.engine.SetAmplification(v), fmt.Sprintf("amplification %.2f", v))

		case key.Matches(msg, noteKeys.Reset):
			m.engine.Reset()
			m.status = "notes reset"
		}
		m.params = m.engine.Snapshot()
	}
	return m, nil
}

func (m NoteModel) apply(err error, ok string) string {
	if err != nil {
		return err.Error()
	}
	return ok
}

func (m NoteModel) View() string {
	var sb strings.Builder

	sb.WriteString(titleStyle.Render("ColorChord"))
	sb.WriteString(infoStyle.Render(fmt.Sprintf("  %s  %d octaves x %d bins  frames %d  dropped %d",
		m.params.Transform, m.params.Octaves, m.params.FrequencyBins, m.engine.Frames(), m.engine.Dropped())))
	sb.WriteString("\n\n")

	if m.frame == nil {
		sb.WriteString("Waiting for audio...\n")
	} else {
		sb.WriteString(renderSpectrum(m.frame.Folded))
		sb.WriteString("\n\n")
		sb.WriteString(m.renderNotes())
	}

	sb.WriteString("\n")
	if m.status != "" {
		sb.WriteString(highlightStyle.Render(m.status))
		sb.WriteString("\n")
	}
	sb.WriteString(m.help.View(noteKeys))
	return sb.String()
}

// renderSpectrum draws the folded spectrum as one coloured column per bin.
func renderSpectrum(folded []float64) string {
	const levels = "▁▂▃▄▅▆▇█"
	blocks := []rune(levels)

	peak := slices.Max(append([]float64{1e-9}, folded...))
	var sb strings.Builder
	for i, v := range folded {
		level := int(v / peak * float64(len(blocks)-1))
		level = max(0, min(len(blocks)-1, level))
		style := lipgloss.NewStyle().Foreground(lipgloss.Color(hue.PitchToHex(float64(i)/float64(len(folded)), 1, 1)))
		sb.WriteString(style.Render(string(blocks[level])))
	}
	return sb.String()
}

func (m NoteModel) renderNotes() string {
	active := m.frame.ActiveNotes()
	if len(active) == 0 {
		return infoStyle.Render("No active notes") + "\n"
	}
	slices.SortFunc(active, func(a, b notes.Note) int {
		return cmp.Compare(b.AmplitudeOut, a.AmplitudeOut)
	})

	baseHz := m.params.EffectiveBaseHz()
	var sb strings.Builder
	for _, n := range active {
		intensity := transport.Intensity(n.AmplitudeOut, m.params)
		swatch := lipgloss.NewStyle().
			Background(lipgloss.Color(hue.PitchToHex(n.PitchClass, 1, 1))).
			Render("  ")
		bar := strings.Repeat("█", int(intensity*barWidth))
		fmt.Fprintf(&sb, "%s %-2s %6.3f  %-*s  id %-5d age %d\n",
			swatch, NoteName(n.PitchClass, baseHz), n.PitchClass, barWidth, bar, n.ID, n.Age)
	}
	return sb.String()
}

// StartNoteUI runs the live note view until the user quits.
func StartNoteUI(engine Engine) error {
	_, err := tea.NewProgram(NewNoteModel(engine), tea.WithAltScreen()).Run()
	return err
}
