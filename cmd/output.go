package cmd

import (
	"fmt"
	"io"
	"strconv"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/olekukonko/tablewriter"

	"github.com/anicoll/mijia-clock/internal/pkg/aggregator"
	"github.com/anicoll/mijia-clock/internal/pkg/clocksync"
	"github.com/anicoll/mijia-clock/internal/pkg/config"
	"github.com/anicoll/mijia-clock/internal/pkg/model"
	"github.com/anicoll/mijia-clock/internal/pkg/registry"
)

const unknown = "-"

var (
	nameStyle  = lipgloss.NewStyle().Bold(true)
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	noteStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
)

// statusPrinter serialises lines written from concurrent workers.
type statusPrinter struct {
	mu sync.Mutex
	w  io.Writer
}

func (p *statusPrinter) println(line string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.w, line)
}

func (p *statusPrinter) event(e model.SyncEvent) {
	msg := e.Message
	if e.Error {
		msg = errorStyle.Render(msg)
	} else if e.Kind == model.EventSynced {
		msg = okStyle.Render(msg)
	}
	p.println(fmt.Sprintf("%s: %s", nameStyle.Render(e.Name), msg))
}

func (p *statusPrinter) reading(name string, r model.Reading) {
	if r.Temperature != nil {
		p.println(fmt.Sprintf("%s - temperature %s °C", name, r.Temperature))
	}
	if r.Humidity != nil {
		p.println(fmt.Sprintf("%s - humidity %d %%", name, *r.Humidity))
	}
	if r.Battery != nil {
		p.println(fmt.Sprintf("%s - battery %d %%", name, *r.Battery))
	}
}

func (p *statusPrinter) note(msg string) {
	p.println(noteStyle.Render(msg))
}

func orUnknown[T any](v *T, format func(T) string) string {
	if v == nil {
		return unknown
	}
	return format(*v)
}

func percent(v uint8) string {
	return strconv.Itoa(int(v)) + " %"
}

// printSummary renders the aggregated readings, oldest first.
func printSummary(w io.Writer, reg *registry.Registry, entries []aggregator.Entry) error {
	fmt.Fprintln(w, "Summary:")
	table := tablewriter.NewWriter(w)
	table.Header("Name", "Address", "Temperature", "Humidity", "Battery", "Last seen", "Sync")
	for _, e := range entries {
		row := []string{
			reg.DisplayName(e.Address),
			e.Address.String(),
			orUnknown(e.Summary.Temperature, func(t model.Temperature) string { return t.String() + " °C" }),
			orUnknown(e.Summary.Humidity, percent),
			orUnknown(e.Summary.Battery, percent),
			e.Summary.LastObserved.Local().Format(time.TimeOnly),
			yesNo(reg.EligibleForSync(e.Address)),
		}
		if err := table.Append(row); err != nil {
			return err
		}
	}
	return table.Render()
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

// printReport renders one row per device of a sync run.
func printReport(w io.Writer, report *clocksync.Report) error {
	table := tablewriter.NewWriter(w)
	table.Header("Name", "Address", "Result", "Clock", "Attempts")
	for _, r := range report.Results {
		result := string(r.Result)
		if r.Omitted {
			result = "omitted"
		}
		clock := unknown
		if r.Payload != nil {
			clock = fmt.Sprintf("%s [timezone:%+d]", r.Payload.Time().Format(time.DateTime), r.Payload.TZOffsetHours)
		}
		row := []string{r.Device.DisplayName(), r.Device.Address.String(), result, clock, strconv.Itoa(int(r.Attempts))}
		if err := table.Append(row); err != nil {
			return err
		}
	}
	return table.Render()
}

// printDevices renders the device file as configured.
func printDevices(w io.Writer, entries []config.DeviceEntry) error {
	table := tablewriter.NewWriter(w)
	table.Header("Address", "Name", "Omit", "Timezone", "Offset_Seconds")
	for _, e := range entries {
		tz := unknown
		if e.Timezone != nil {
			tz = *e.Timezone
		}
		row := []string{e.Address, e.Name, strconv.FormatBool(e.Omit), tz, strconv.FormatInt(e.OffsetSeconds, 10)}
		if err := table.Append(row); err != nil {
			return err
		}
	}
	return table.Render()
}
