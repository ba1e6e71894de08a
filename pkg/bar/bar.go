package bar

import (
	"github.com/k0kubun/go-ansi"
	"github.com/schollz/progressbar/v3"
)

func New(length int, text string) *progressbar.ProgressBar {
	return progressbar.NewOptions(
		length,
		progressbar.OptionSetWriter(ansi.NewAnsiStdout()),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(20),
		progressbar.OptionSetDescription(text),
		progressbar.OptionClearOnFinish(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "[green]=[reset]",
			SaucerHead:    "[green]>[reset]",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)
}

// Progress returns a callback for counted work whose total is only known
// once it starts, such as filling the rig cache.
func Progress(text string) func(done, total int) {
	var b *progressbar.ProgressBar
	return func(done, total int) {
		if b == nil || done <= 1 {
			b = New(total, text)
		}
		b.Set(done)
		if done >= total {
			b.Finish()
		}
	}
}
