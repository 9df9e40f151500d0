// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package tui is the full-screen terminal viewer. The map is drawn with half-block cells, two
// pixels per cell, and the status line sits underneath.
package tui

import (
	"context"
	"errors"
	"fmt"
	"image"
	"math"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/harmonica"
	"github.com/charmbracelet/lipgloss"

	"github.com/wneessen/nowcast/internal/config"
	"github.com/wneessen/nowcast/internal/frame"
	"github.com/wneessen/nowcast/internal/interaction"
	"github.com/wneessen/nowcast/internal/logger"
	"github.com/wneessen/nowcast/internal/presenter"
	"github.com/wneessen/nowcast/internal/render"
	"github.com/wneessen/nowcast/internal/timeline"
)

const (
	// wheelStep is the share of the canvas width one wheel notch zooms by.
	wheelStep = 10

	scrubFrequency = 6.0
	scrubDamping   = 1.0
	// scrubSettle is the distance in milliseconds below which a keyboard scrub snaps to its target.
	scrubSettle = 500
)

// Viewer is the part of the service the terminal viewer drives.
type Viewer interface {
	Cursor() *timeline.Cursor
	Bounds() *timeline.Bounds
	Scene(view render.View) render.Scene
	Renderer() *render.Renderer
	Presenter() *presenter.Presenter
	Status(panMode bool) presenter.Status
	ToggleInterpolation() bool
	CycleRainOpacity() int
	AdjustLookback(delta int) int
	Locate(ctx context.Context) (render.Marker, error)
}

type (
	tickMsg   time.Time
	locateMsg struct {
		marker render.Marker
		err    error
	}
)

// Model is the bubbletea model of the viewer.
type Model struct {
	ctx    context.Context
	viewer Viewer
	driver *interaction.Driver
	logger *logger.Logger

	interval time.Duration
	spring   harmonica.Spring
	scrub    scrub

	width, height int
	canvas        *image.RGBA
	notice        string
	locating      bool
}

// scrub eases the cursor towards a keyboard-selected time.
type scrub struct {
	active   bool
	pos, vel float64
	target   int64
}

// New returns the viewer model. ctx bounds location requests.
func New(ctx context.Context, conf *config.Config, viewer Viewer, log *logger.Logger) *Model {
	fps := max(conf.Display.FPS, 1)
	driver := interaction.New(viewer.Cursor(), viewer.Bounds(), conf.Display.Damping)
	driver.SetPanMode(conf.Display.PanMode)
	return &Model{
		ctx:      ctx,
		viewer:   viewer,
		driver:   driver,
		logger:   log,
		interval: time.Second / time.Duration(fps),
		spring:   harmonica.NewSpring(harmonica.FPS(fps), scrubFrequency, scrubDamping),
	}
}

// Run starts the full-screen program and blocks until the user quits or ctx is cancelled.
func Run(ctx context.Context, model *Model) error {
	program := tea.NewProgram(model, tea.WithAltScreen(), tea.WithMouseCellMotion(),
		tea.WithContext(ctx))
	if _, err := program.Run(); err != nil {
		if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("terminal viewer failed: %w", err)
	}
	return nil
}

func (m *Model) Init() tea.Cmd {
	return m.tick()
}

func (m *Model) tick() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tickMsg:
		m.driver.Animate(time.Time(msg))
		m.stepScrub()
		return m, m.tick()
	case tea.WindowSizeMsg:
		m.resize(msg.Width, msg.Height)
	case tea.MouseMsg:
		m.mouse(msg)
	case tea.KeyMsg:
		return m, m.handleKey(msg)
	case locateMsg:
		m.locating = false
		if msg.err != nil {
			m.logger.Error("failed to acquire location", logger.Err(msg.err))
			m.notice = m.viewer.Presenter().Notice("location unavailable", msg.err)
		}
	}
	return m, nil
}

func (m *Model) resize(width, height int) {
	m.width, m.height = width, height
	rows := max(height-1, 0)
	m.driver.Resize(width, 2*rows)
	if width == 0 || rows == 0 {
		m.canvas = nil
		return
	}
	m.canvas = image.NewRGBA(image.Rect(0, 0, width, 2*rows))
}

// mouse maps terminal cells to canvas pixels. A cell covers one pixel column and two rows.
func (m *Model) mouse(msg tea.MouseMsg) {
	p := interaction.Pointer{
		X:     float64(msg.X) + 0.5,
		Y:     float64(2*msg.Y) + 1,
		Shift: msg.Shift,
		At:    time.Now(),
	}
	switch {
	case msg.Action == tea.MouseActionPress && msg.Button == tea.MouseButtonWheelUp:
		m.driver.Wheel(-float64(m.width)/wheelStep, p.X, p.Y)
	case msg.Action == tea.MouseActionPress && msg.Button == tea.MouseButtonWheelDown:
		m.driver.Wheel(float64(m.width)/wheelStep, p.X, p.Y)
	case msg.Action == tea.MouseActionPress && msg.Button == tea.MouseButtonLeft:
		m.scrub.active = false
		m.driver.PointerDown(p)
	case msg.Action == tea.MouseActionMotion:
		m.driver.PointerMove(p)
	case msg.Action == tea.MouseActionRelease:
		m.driver.PointerUp(p)
	}
}

// keys are the viewer's key bindings.
var keys = struct {
	ForceQuit     key.Binding
	Quit          key.Binding
	Interpolation key.Binding
	RainOpacity   key.Binding
	LookbackMore  key.Binding
	LookbackLess  key.Binding
	PanMode       key.Binding
	Locate        key.Binding
	Back          key.Binding
	Forward       key.Binding
	Help          key.Binding
}{
	ForceQuit:     key.NewBinding(key.WithKeys("ctrl+c")),
	Quit:          key.NewBinding(key.WithKeys("q")),
	Interpolation: key.NewBinding(key.WithKeys("i")),
	RainOpacity:   key.NewBinding(key.WithKeys("r")),
	LookbackMore:  key.NewBinding(key.WithKeys("[", "«")),
	LookbackLess:  key.NewBinding(key.WithKeys("]")),
	PanMode:       key.NewBinding(key.WithKeys("p")),
	Locate:        key.NewBinding(key.WithKeys("l")),
	Back:          key.NewBinding(key.WithKeys("left")),
	Forward:       key.NewBinding(key.WithKeys("right")),
	Help:          key.NewBinding(key.WithKeys("?")),
}

func (m *Model) handleKey(msg tea.KeyMsg) tea.Cmd {
	if key.Matches(msg, keys.ForceQuit) {
		return tea.Quit
	}
	if m.notice != "" {
		m.notice = ""
		return nil
	}

	switch {
	case key.Matches(msg, keys.Quit):
		return tea.Quit
	case key.Matches(msg, keys.Interpolation):
		m.viewer.ToggleInterpolation()
	case key.Matches(msg, keys.RainOpacity):
		m.viewer.CycleRainOpacity()
	case key.Matches(msg, keys.LookbackMore):
		m.viewer.AdjustLookback(1)
	case key.Matches(msg, keys.LookbackLess):
		m.viewer.AdjustLookback(-1)
	case key.Matches(msg, keys.PanMode):
		m.driver.TogglePanMode()
	case key.Matches(msg, keys.Help):
		m.notice = m.viewer.Presenter().Notice("help", nil)
	case key.Matches(msg, keys.Back):
		m.scrubBy(-frame.Step)
	case key.Matches(msg, keys.Forward):
		m.scrubBy(frame.Step)
	case key.Matches(msg, keys.Locate):
		if m.locating {
			return nil
		}
		m.locating = true
		return m.locate()
	}
	return nil
}

func (m *Model) locate() tea.Cmd {
	return func() tea.Msg {
		marker, err := m.viewer.Locate(m.ctx)
		return locateMsg{marker: marker, err: err}
	}
}

// scrubBy moves the scrub target one step. The cursor follows on the next ticks.
func (m *Model) scrubBy(step time.Duration) {
	t, ok := m.viewer.Cursor().Get()
	if !ok {
		return
	}
	if !m.scrub.active {
		m.scrub = scrub{active: true, pos: float64(t), target: t}
	}
	m.scrub.target = m.viewer.Bounds().Clamp(m.scrub.target + step.Milliseconds())
}

func (m *Model) stepScrub() {
	if !m.scrub.active {
		return
	}
	target := float64(m.scrub.target)
	m.scrub.pos, m.scrub.vel = m.spring.Update(m.scrub.pos, m.scrub.vel, target)
	if math.Abs(m.scrub.pos-target) < scrubSettle {
		m.scrub.active = false
		m.viewer.Cursor().Set(m.scrub.target)
		return
	}
	m.viewer.Cursor().Set(m.viewer.Bounds().Clamp(int64(math.Round(m.scrub.pos))))
}

func (m *Model) View() string {
	if m.width == 0 || m.height == 0 {
		return ""
	}
	if m.notice != "" {
		hint := m.viewer.Presenter().Notice("press any key", nil)
		return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center,
			noticeStyle.Render(m.notice+"\n\n"+hintStyle.Render(hint)))
	}

	var lines []string
	if m.canvas != nil {
		clear(m.canvas.Pix)
		m.viewer.Renderer().Draw(m.canvas, m.viewer.Scene(m.driver.View()))
		lines = halfBlocks(m.canvas)
	}
	status, err := m.viewer.Presenter().Status(m.viewer.Status(m.driver.PanMode()), m.width)
	if err != nil {
		m.logger.Error("failed to render status line", logger.Err(err))
	}
	lines = append(lines, statusStyle.Render(status))
	return strings.Join(lines, "\n")
}

var (
	statusStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	hintStyle   = lipgloss.NewStyle().Faint(true)
	noticeStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("203")).
			Padding(1, 2)
)
