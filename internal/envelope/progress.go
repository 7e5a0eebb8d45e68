package envelope

import (
	"fmt"

	"github.com/sealbox/backend/internal/chunker"
)

const (
	progressGenerating = "Generating header"
	progressReading    = "Reading header"
	progressUploading  = "Uploading"
	progressDownload   = "Downloading"
	progressFinalizing = "Finalizing"
	progressError      = "Error"
)

type progress struct {
	sink ProgressSink
}

func (p progress) notify(text string) {
	if p.sink != nil {
		p.sink.Notify(text)
	}
}

func (p progress) update(verb string, done, total int64) {
	if p.sink != nil {
		p.sink.Notify(fmt.Sprintf("%s (%d%%)", verb, chunker.Percent(done, total)))
	}
}
