package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/mujina-miner/mujina-miner/internal/bitaxeraw"
	"github.com/mujina-miner/mujina-miner/internal/board"
	"github.com/mujina-miner/mujina-miner/internal/peripheral"
	"github.com/spf13/cobra"
)

var dashCmd = &cobra.Command{
	Use:   "dash",
	Short: "Live terminal dashboard of a board's voltage and fan telemetry",
	RunE:  runDash,
}

func init() {
	rootCmd.AddCommand(dashCmd)
}

const dashPollInterval = time.Second

type dashTickMsg time.Time

func dashTickCmd() tea.Cmd {
	return tea.Tick(dashPollInterval, func(t time.Time) tea.Msg {
		return dashTickMsg(t)
	})
}

type dashReading struct {
	voutMV     uint32
	vinMV      uint32
	ioutMA     uint32
	tempC      int32
	fanRPM     uint16
	extTempC   float32
	statusWord uint16
	statusMsgs []string
	err        error
}

type dashModel struct {
	vreg   *peripheral.Tps546
	fan    *peripheral.Emc2101
	serial string
	last   dashReading
	width  int
	spin   spinner.Model
}

func newDashModel(serial string, vreg *peripheral.Tps546, fan *peripheral.Emc2101) dashModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	return dashModel{serial: serial, vreg: vreg, fan: fan, spin: s}
}

func (m dashModel) Init() tea.Cmd {
	return tea.Batch(dashTickCmd(), m.spin.Tick)
}

func (m dashModel) poll() dashReading {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var r dashReading
	var err error
	if r.voutMV, err = m.vreg.GetVout(ctx); err != nil {
		r.err = err
	}
	r.vinMV, _ = m.vreg.GetVin(ctx)
	r.ioutMA, _ = m.vreg.GetIout(ctx)
	r.tempC, _ = m.vreg.GetTemperature(ctx)
	r.statusWord, r.statusMsgs, _ = m.vreg.ReadStatus(ctx)
	r.fanRPM, _ = m.fan.GetRPM(ctx)
	r.extTempC, _ = m.fan.GetExternalTemperature(ctx)
	return r
}

func (m dashModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "q" || msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
	case dashTickMsg:
		m.last = m.poll()
		return m, dashTickCmd()
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd
	}
	return m, nil
}

var (
	dashLabelStyle = lipgloss.NewStyle().Bold(true).Width(20)
	dashBoxStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	dashWarnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
)

func (m dashModel) View() string {
	r := m.last
	if r.err != nil {
		return dashBoxStyle.Render(dashWarnStyle.Render(fmt.Sprintf("read error: %v", r.err))) + "\npress q to quit\n"
	}
	lines := []string{
		dashLabelStyle.Render("board") + m.serial + " " + m.spin.View(),
		dashLabelStyle.Render("vout") + fmt.Sprintf("%d mV", r.voutMV),
		dashLabelStyle.Render("vin") + fmt.Sprintf("%d mV", r.vinMV),
		dashLabelStyle.Render("iout") + fmt.Sprintf("%d mA", r.ioutMA),
		dashLabelStyle.Render("regulator temp") + fmt.Sprintf("%d C", r.tempC),
		dashLabelStyle.Render("fan") + fmt.Sprintf("%d rpm", r.fanRPM),
		dashLabelStyle.Render("chip temp") + fmt.Sprintf("%.1f C", r.extTempC),
		dashLabelStyle.Render("status") + fmt.Sprintf("0x%04x %v", r.statusWord, r.statusMsgs),
	}
	body := ""
	for _, l := range lines {
		body += l + "\n"
	}
	return dashBoxStyle.Render(body) + "\npress q to quit\n"
}

func runDash(cmd *cobra.Command, args []string) error {
	if controlPortName == "" {
		return errMissingControlPort
	}

	port, err := board.OpenDataPort(controlPortName, controlBaud)
	if err != nil {
		return fmt.Errorf("open control port: %w", err)
	}
	defer port.Close()

	ch := bitaxeraw.NewControlChannel(port)
	vreg := peripheral.NewTps546(ch, peripheral.BitaxeGammaTps546Config())
	fan := peripheral.NewEmc2101(ch)

	model := newDashModel(controlPortName, vreg, fan)
	program := tea.NewProgram(model)
	_, err = program.Run()
	return err
}
