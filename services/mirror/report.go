package mirror

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
)

type Report struct {
	// Session is the strategy that produced the session, empty when the
	// run went without one.
	Session    string
	SessionErr error
	Outcomes   []Outcome
	Started    time.Time
	Finished   time.Time
}

func (r Report) Count(state State) int {
	n := 0
	for _, o := range r.Outcomes {
		if o.State == state {
			n++
		}
	}
	return n
}

func (r Report) Outcome(dataset string) (Outcome, bool) {
	for _, o := range r.Outcomes {
		if o.Dataset == dataset {
			return o, true
		}
	}
	return Outcome{}, false
}

func errorText(err error) string {
	if err == nil {
		return ""
	}
	text := strings.ReplaceAll(err.Error(), "\n", "; ")
	if len(text) > 120 {
		text = text[:117] + "..."
	}
	return text
}

// Render prints one row per dataset.
func (r Report) Render(w io.Writer) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"Dataset", "State", "Source", "Rows", "Error"})
	for _, o := range r.Outcomes {
		t.AppendRow(table.Row{o.Dataset, o.State, o.Source, o.Rows, errorText(o.Err)})
	}
	t.AppendFooter(table.Row{
		"",
		fmt.Sprintf("%d/%d synced", r.Count(StateSynced), len(r.Outcomes)),
		r.Session,
		"",
		r.Finished.Sub(r.Started).Round(time.Millisecond).String(),
	})
	t.SetStyle(table.StyleRounded)
	t.Render()
}
