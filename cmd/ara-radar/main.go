package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/joho/godotenv"

	"araradar/internal/alerts"
	"araradar/internal/api"
	"araradar/internal/config"
	"araradar/internal/dashboard"
	"araradar/internal/notify"
	"araradar/internal/poll"
	"araradar/internal/settings"
	"araradar/internal/stream"
	"araradar/internal/util"
)

// Styles local to the shell; table styles live in internal/dashboard.
var (
	footerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	statusStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
	crashStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
)

const (
	metricsKey    = "metrics"
	metaKey       = "meta"
	healthKey     = "health"
	kStep         = 10
	liqStep       = 0.1
	thresholdStep = 0.05
)

// thresholdGate forwards alerts to the delivery sink only when the
// probability clears the user's threshold at delivery time. The threshold
// applies to notifications alone; the recent list and highlights always
// record the alert.
type thresholdGate struct {
	store *settings.Store
	next  stream.Notifier
}

func (g *thresholdGate) Notify(ticker string, proba float64) {
	if proba < g.store.Get().Threshold {
		return
	}
	g.next.Notify(ticker, proba)
}

// program is set once in main so poll and stream callbacks can wake the UI
// from their own goroutines.
var program *tea.Program

// Messages.
type tickMsg time.Time
type repaintMsg struct{}
type settingsChangedMsg settings.Settings
type notifChangedMsg bool
type exportDoneMsg struct {
	path string
	err  error
}

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func repaint() {
	if program != nil {
		program.Send(repaintMsg{})
	}
}

type model struct {
	cfg    *config.Config
	client *api.Client
	store  *settings.Store
	coord  *poll.Coordinator
	alerts *alerts.Model

	// notifier is the enabled delivery sink; each stream handle bakes in
	// whether it is wired, so toggling reopens the stream.
	notifier stream.Notifier
	handle   *stream.Handle

	ctx      context.Context
	autoStop func()

	// lastParams is the settings snapshot behind the currently scheduled
	// queries, compared against store updates to decide what to redo.
	lastParams settings.Settings

	viewport      viewport.Model
	ready         bool
	width, height int
	status        string
	showCard      bool
	crashed       bool
	logger        *slog.Logger
}

func (m model) Init() tea.Cmd {
	return tickCmd()
}

// scoresKey builds the query cache key for the current screening parameters.
func scoresKey(s settings.Settings) string {
	return fmt.Sprintf("scores|k=%d|liq=%g|excl=%t", s.DefaultK, s.DefaultLiq, s.ExcludePemantauan)
}

func equityKey(s settings.Settings) string {
	return fmt.Sprintf("equity|k=%d", s.DefaultK)
}

func (m *model) scoresFetcher(s settings.Settings) poll.Fetcher {
	return func(ctx context.Context) (any, error) {
		return m.client.ScoreLatest(ctx, api.ScoreParams{
			K:                 s.DefaultK,
			Liq:               s.DefaultLiq,
			ExcludePemantauan: s.ExcludePemantauan,
		})
	}
}

// fetchAll revalidates every query the dashboard shows for the current
// settings. Repeated calls while a fetch is in flight collapse.
func (m *model) fetchAll() {
	s := m.store.Get()
	m.coord.Fetch(m.ctx, scoresKey(s), m.scoresFetcher(s))
	m.coord.Fetch(m.ctx, equityKey(s), func(ctx context.Context) (any, error) {
		return m.client.Equity(ctx, s.DefaultK)
	})
	m.coord.Fetch(m.ctx, metricsKey, func(ctx context.Context) (any, error) {
		return m.client.Metrics(ctx)
	})
}

// restartAutoRefresh reschedules the auto-refresh loop for the current
// settings, or stops it when the toggle is off.
func (m *model) restartAutoRefresh() {
	if m.autoStop != nil {
		m.autoStop()
		m.autoStop = nil
	}
	s := m.store.Get()
	if !s.AutoRefresh {
		return
	}
	m.autoStop = m.coord.AutoRefresh(m.ctx, scoresKey(s), m.scoresFetcher(s), m.cfg.UI.RefreshInterval)
}

// reopenStream closes the current alert subscription and opens a fresh one.
// Whether alerts notify is decided here, once, per handle.
func (m *model) reopenStream() {
	if m.handle != nil {
		m.handle.Close()
	}
	var n stream.Notifier
	if m.store.NotificationsEnabled() {
		n = &thresholdGate{store: m.store, next: m.notifier}
	}
	m.handle = stream.Open(stream.Config{
		URL:       m.client.BaseURL() + "/alerts/stream",
		Model:     m.alerts,
		Notifier:  n,
		OnChange:  repaint,
		Logger:    m.logger,
		Reconnect: true,
	})
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			if m.autoStop != nil {
				m.autoStop()
			}
			if m.handle != nil {
				m.handle.Close()
			}
			return m, tea.Quit

		case "r":
			if m.crashed {
				m.crashed = false
			}
			s := m.store.Get()
			m.coord.Invalidate(scoresKey(s))
			m.fetchAll()
			m.refresh()
			return m, nil

		case "k", "K":
			s := m.store.Get()
			k := s.DefaultK
			if msg.String() == "K" {
				k += kStep
			} else {
				k -= kStep
			}
			if k < 1 {
				k = 1
			}
			if k > 200 {
				k = 200
			}
			m.store.Update(settings.Partial{DefaultK: settings.Int(k)})
			return m, nil

		case "l", "L":
			s := m.store.Get()
			liq := s.DefaultLiq
			if msg.String() == "L" {
				liq += liqStep
			} else {
				liq -= liqStep
			}
			if liq < 0 {
				liq = 0
			}
			if liq > 1 {
				liq = 1
			}
			m.store.Update(settings.Partial{DefaultLiq: settings.Float(liq)})
			return m, nil

		case "t", "T":
			s := m.store.Get()
			th := s.Threshold
			if msg.String() == "T" {
				th += thresholdStep
			} else {
				th -= thresholdStep
			}
			if th < 0 {
				th = 0
			}
			if th > 1 {
				th = 1
			}
			m.store.Update(settings.Partial{Threshold: settings.Float(th)})
			return m, nil

		case "p":
			s := m.store.Get()
			m.store.Update(settings.Partial{ExcludePemantauan: settings.Bool(!s.ExcludePemantauan)})
			return m, nil

		case "a":
			s := m.store.Get()
			m.store.Update(settings.Partial{AutoRefresh: settings.Bool(!s.AutoRefresh)})
			return m, nil

		case "n":
			m.store.SetNotificationsEnabled(!m.store.NotificationsEnabled())
			return m, nil

		case "m":
			m.showCard = !m.showCard
			if m.showCard {
				m.coord.Fetch(m.ctx, metaKey, func(ctx context.Context) (any, error) {
					return m.client.ModelCard(ctx)
				})
				m.coord.Fetch(m.ctx, healthKey, func(ctx context.Context) (any, error) {
					return m.client.Health(ctx)
				})
			}
			m.refresh()
			return m, nil

		case "e":
			snap := m.currentSnapshot()
			if snap == nil || len(snap.Rows) == 0 {
				m.status = "nothing to export"
				m.refresh()
				return m, nil
			}
			return m, exportCmd(snap)
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		headerH := 1
		alertH := 1
		footerH := 1
		vpHeight := m.height - headerH - alertH - footerH
		if vpHeight < 1 {
			vpHeight = 1
		}
		if !m.ready {
			m.viewport = viewport.New(m.width, vpHeight)
			m.viewport.MouseWheelEnabled = true
			m.ready = true
			m.fetchAll()
		} else {
			m.viewport.Width = m.width
			m.viewport.Height = vpHeight
		}
		m.refresh()
		return m, nil

	case tickMsg:
		// Drain highlight expiries on the UI clock too, so flashes fade
		// even when the stream is closed. NextExpiry keeps the tick off the
		// write lock when nothing is due.
		now := time.Time(msg)
		if next := m.alerts.NextExpiry(); !next.IsZero() && !next.After(now) {
			m.alerts.ExpireHighlights(now)
		}
		m.refresh()
		return m, tickCmd()

	case settingsChangedMsg:
		next := settings.Settings(msg)
		prev := m.lastParams
		m.lastParams = next
		switch {
		case next.DefaultK != prev.DefaultK || next.DefaultLiq != prev.DefaultLiq ||
			next.ExcludePemantauan != prev.ExcludePemantauan:
			m.onParamsChanged()
		case next.AutoRefresh != prev.AutoRefresh:
			m.restartAutoRefresh()
			m.refresh()
		default:
			// Threshold moved: gates notification delivery only.
			m.refresh()
		}
		return m, nil

	case notifChangedMsg:
		m.reopenStream()
		m.logger.Info("notifications toggled", "enabled", bool(msg))
		m.refresh()
		return m, nil

	case repaintMsg:
		m.refresh()
		return m, nil

	case exportDoneMsg:
		if msg.err != nil {
			m.status = "export failed: " + msg.err.Error()
			m.logger.Error("csv export failed", "error", msg.err)
		} else {
			m.status = "exported " + msg.path
			m.logger.Info("csv exported", "path", msg.path)
		}
		m.refresh()
		return m, nil
	}

	if m.ready {
		m.viewport, cmd = m.viewport.Update(msg)
	}
	return m, cmd
}

// onParamsChanged revalidates queries under the new screening parameters
// and reschedules auto-refresh onto the new cache key.
func (m *model) onParamsChanged() {
	m.fetchAll()
	m.restartAutoRefresh()
	m.refresh()
}

func (m *model) currentSnapshot() *api.ScoreSnapshot {
	res := m.coord.Get(scoresKey(m.store.Get()))
	snap, _ := res.Data.(*api.ScoreSnapshot)
	return snap
}

func exportCmd(snap *api.ScoreSnapshot) tea.Cmd {
	return func() tea.Msg {
		path := dashboard.ExportFilename(snap.Date)
		f, err := os.Create(path)
		if err != nil {
			return exportDoneMsg{err: err}
		}
		defer f.Close()
		if err := dashboard.WriteCandidatesCSV(f, snap); err != nil {
			return exportDoneMsg{err: err}
		}
		return exportDoneMsg{path: path}
	}
}

func (m *model) refresh() {
	if !m.ready {
		return
	}
	m.viewport.SetContent(m.renderContent())
}

// renderContent builds the scrollable body. A rendering panic must not take
// the whole terminal down; the crash view offers a reload instead.
func (m *model) renderContent() (out string) {
	defer func() {
		if r := recover(); r != nil {
			m.crashed = true
			m.logger.Error("render panic", "panic", fmt.Sprint(r))
			out = crashStyle.Render(fmt.Sprintf("Something went wrong: %v", r)) +
				"\n\n" + footerStyle.Render("press r to reload")
		}
	}()

	if m.crashed {
		return crashStyle.Render("Something went wrong") +
			"\n\n" + footerStyle.Render("press r to reload")
	}

	if m.showCard {
		meta := m.coord.Get(metaKey)
		card, _ := meta.Data.(*api.ModelCard)
		health, _ := m.coord.Get(healthKey).Data.(json.RawMessage)
		return dashboard.RenderModelCard(card, health, meta.IsLoading, meta.Err)
	}

	s := m.store.Get()
	scores := m.coord.Get(scoresKey(s))
	snap, _ := scores.Data.(*api.ScoreSnapshot)

	var b strings.Builder
	b.WriteString(dashboard.RenderTable(snap, m.alerts.Highlighted(), scores.IsLoading, scores.Err))
	b.WriteString("\n")

	metrics := m.coord.Get(metricsKey)
	mm, _ := metrics.Data.(*api.Metrics)
	equity := m.coord.Get(equityKey(s))
	eq, _ := equity.Data.(*api.EquityCurve)
	b.WriteString(dashboard.RenderMetrics(mm, eq, m.width))

	return b.String()
}

func (m model) View() string {
	if !m.ready {
		return "loading..."
	}

	s := m.store.Get()
	snap := m.currentSnapshot()
	date := ""
	if snap != nil {
		date = snap.Date
	}

	streamState := "closed"
	if m.handle != nil {
		streamState = m.handle.State().String()
	}

	header := dashboard.RenderHeader(date, s.DefaultK, s.DefaultLiq,
		s.ExcludePemantauan, s.AutoRefresh, m.store.NotificationsEnabled(),
		streamState, m.width)

	alertBar := dashboard.RenderAlertBar(m.alerts.Recent())
	if alertBar == "" {
		alertBar = footerStyle.Render(" no recent alerts")
	}

	footer := footerStyle.Render(" q quit  r refresh  k/K top-k  l/L liq  t/T threshold  p board filter  a auto  n notify  m model  e export")
	if m.status != "" {
		footer = statusStyle.Render(" "+m.status) + footer
	}

	return header + "\n" + alertBar + "\n" + m.viewport.View() + "\n" + footer
}

func main() {
	// Optional .env for backend URL and Telegram credentials.
	_ = godotenv.Load()

	cfgPath := os.Getenv("ARA_CONFIG")
	if cfgPath == "" {
		cfgPath = "ara-radar.yaml"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "loading config: %v\n", err)
		os.Exit(1)
	}

	// stdout belongs to the terminal renderer; log to a file.
	logFile, err := util.OpenLogFile("ara-radar")
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	defer logFile.Close()
	logger := util.NewLoggerTo(logFile, cfg.Logging.Level)
	util.SetDefault(logger)

	client := api.NewClient(cfg.Backend.BaseURL, cfg.Backend.RequestTimeout)
	store := settings.NewStore(settings.Settings{
		Threshold:         cfg.UI.Threshold,
		DefaultK:          cfg.UI.DefaultK,
		DefaultLiq:        cfg.UI.DefaultLiq,
		ExcludePemantauan: cfg.UI.ExcludePemantauan,
		AutoRefresh:       cfg.UI.AutoRefresh,
	})

	var notifier stream.Notifier
	if cfg.Telegram.BotToken != "" && cfg.Telegram.ChatID != "" {
		tn, err := notify.NewTelegramNotifier(cfg.Telegram.BotToken, cfg.Telegram.ChatID, logger)
		if err != nil {
			logger.Warn("telegram notifier unavailable, falling back to log", "error", err)
			notifier = notify.NewLogNotifier(logger)
		} else {
			notifier = tn
			logger.Info("telegram notifier configured")
		}
	} else {
		notifier = notify.NewLogNotifier(logger)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := model{
		cfg:        cfg,
		client:     client,
		store:      store,
		coord:      poll.New(logger, func(string) { repaint() }),
		alerts:     alerts.NewModel(alerts.DefaultMaxRecent, alerts.DefaultHighlightTTL),
		notifier:   notifier,
		ctx:        ctx,
		lastParams: store.Get(),
		logger:     logger,
	}
	m.reopenStream()
	m.restartAutoRefresh()

	program = tea.NewProgram(m, tea.WithAltScreen())

	// Settings changes reach the Update loop through the store's
	// subscriptions, so every consequence (refetch, auto-refresh restart,
	// stream reopen) runs on the UI goroutine.
	go forwardSettings(store)

	if _, err := program.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "running dashboard: %v\n", err)
		os.Exit(1)
	}
}

// forwardSettings converts store subscription pushes into program messages.
func forwardSettings(store *settings.Store) {
	_, changes := store.Subscribe(8)
	_, notif := store.SubscribeNotifications(4)
	for {
		select {
		case s, ok := <-changes:
			if !ok {
				return
			}
			program.Send(settingsChangedMsg(s))
		case enabled, ok := <-notif:
			if !ok {
				return
			}
			program.Send(notifChangedMsg(enabled))
		}
	}
}
