package reload

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/a-h/templ"

	"github.com/villasimius/sitebuild/internal/pipeline"
)

// statusView is the data rendered by the status page.
type statusView struct {
	Clients int
	Proxy   string
	Metrics pipeline.MetricsSnapshot
	Reports []*pipeline.Report
	Session pipeline.BuildContext
}

// statusPage renders recent task runs, newest first.
func statusPage(view statusView) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		p := &htmlWriter{w: w}
		p.raw(`<!DOCTYPE html><html lang="en"><head><meta charset="utf-8"><title>sitebuild status</title>`)
		p.raw(`<style>body{font:14px/1.5 system-ui,sans-serif;margin:2rem;color:#222}` +
			`table{border-collapse:collapse;width:100%}td,th{padding:.3rem .6rem;border-bottom:1px solid #ddd;text-align:left}` +
			`.fail{color:#b00020}.ok{color:#1b7f3b}code{font-size:12px}</style></head><body>`)
		p.raw(`<h1>sitebuild</h1><p>`)
		p.text(fmt.Sprintf("%d browser(s) connected, proxying %s", view.Clients, view.Proxy))
		if !view.Session.Started().IsZero() {
			p.raw(`</p><p>`)
			p.text(fmt.Sprintf("%s session %s, up since %s", view.Session.Mode(), view.Session.RunID(),
				view.Session.Started().Format("2006-01-02 15:04:05")))
		}
		p.raw(`</p><p>`)
		p.text(fmt.Sprintf("%d run(s), %d producer run(s), %d failure(s), average %s",
			view.Metrics.TotalRuns, view.Metrics.ProducerRuns, view.Metrics.ProducerFailures,
			view.Metrics.AverageDuration.Round(time.Millisecond)))
		p.raw(`</p>`)

		if len(view.Reports) == 0 {
			p.raw(`<p>No task has run yet.</p>`)
		} else {
			p.raw(`<table><thead><tr><th>Task</th><th>Started</th><th>Duration</th><th>Result</th></tr></thead><tbody>`)
			for i := len(view.Reports) - 1; i >= 0; i-- {
				r := view.Reports[i]
				p.raw(`<tr><td>`)
				p.text(r.Task)
				p.raw(`</td><td>`)
				p.text(r.Started.Format("15:04:05"))
				p.raw(`</td><td>`)
				p.text(r.Duration().Round(time.Millisecond).String())
				p.raw(`</td><td>`)
				switch {
				case r.Interrupted != nil:
					p.raw(`<span class="fail">interrupted</span>`)
				case len(r.Failures) == 0:
					p.raw(`<span class="ok">ok</span>`)
				default:
					for _, f := range r.Failures {
						p.raw(`<div class="fail"><code>`)
						p.text(f.Error())
						p.raw(`</code></div>`)
					}
				}
				p.raw(`</td></tr>`)
			}
			p.raw(`</tbody></table>`)
		}
		p.raw(`</body></html>`)
		return p.err
	})
}

// htmlWriter keeps the first write error so the page body reads linearly.
type htmlWriter struct {
	w   io.Writer
	err error
}

func (p *htmlWriter) raw(s string) {
	if p.err == nil {
		_, p.err = io.WriteString(p.w, s)
	}
}

func (p *htmlWriter) text(s string) {
	p.raw(templ.EscapeString(s))
}
