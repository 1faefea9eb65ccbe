package sorter

import (
	"io"

	"github.com/cheggaaa/pb/v3"

	"github.com/chmdznr/orgphotos/pkg/models"
)

// ProgressBar renders one bar per pass. Intended for interactive runs only.
type ProgressBar struct {
	out   io.Writer
	bar   *pb.ProgressBar
	moved int
}

var _ Observer = (*ProgressBar)(nil)

// NewProgressBar writes bars to out.
func NewProgressBar(out io.Writer) *ProgressBar {
	return &ProgressBar{out: out}
}

func (p *ProgressBar) OnPassStart(passID string, total int) {
	bar := pb.New(total)
	bar.SetWriter(p.out)
	bar.SetTemplate(`Sorting {{counters . }} {{bar . }} {{percent . }} {{string . "name"}}`)
	bar.Set("name", "")
	p.bar = bar
	p.moved = 0
	bar.Start()
}

func (p *ProgressBar) OnFileDone(rec models.MoveRecord) {
	if p.bar == nil {
		return
	}
	if rec.Outcome == models.OutcomeMoved || rec.Outcome == models.OutcomeUnsorted {
		p.moved++
	}
	p.bar.Set("name", rec.Name)
	p.bar.Increment()
}

func (p *ProgressBar) OnPassEnd(models.PassRecord) {
	if p.bar == nil {
		return
	}
	p.bar.Set("name", "")
	p.bar.Finish()
	p.bar = nil
}

// Moved is the number of files moved during the last pass.
func (p *ProgressBar) Moved() int { return p.moved }
