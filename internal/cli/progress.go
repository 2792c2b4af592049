package cli

import (
	"time"

	"github.com/schollz/progressbar/v3"
)

// cliProgress renders the daemon's reverse progress callback (spec.md
// §4.G's `index_blocking`/`rebuild_fts_index`) as a single indeterminate
// bar, fed by the terse "N/M files"-style info strings those operations
// report every few seconds — there is no itemized event stream to drive a
// deterministic total the way the teacher's multi-phase indexer reporter
// had, so one spinner whose description is replaced on each tick is the
// closest honest rendering.
type cliProgress struct {
	bar *progressbar.ProgressBar
}

func newCLIProgress() *cliProgress {
	return &cliProgress{
		bar: progressbar.NewOptions(-1,
			progressbar.OptionSetWidth(40),
			progressbar.OptionSpinnerType(14),
			progressbar.OptionThrottle(65*time.Millisecond),
			progressbar.OptionClearOnFinish(),
		),
	}
}

// onProgress is passed as the rpcwire.Client.Call progress callback. It
// never requests an interrupt itself; Ctrl-C cancellation is handled by
// the caller cancelling the RPC context instead.
func (p *cliProgress) onProgress(info string) string {
	p.bar.Describe(info)
	_ = p.bar.Add(1)
	return ""
}

func (p *cliProgress) finish() {
	_ = p.bar.Finish()
}
