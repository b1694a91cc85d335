package stream

import (
	"bytes"
	"os"

	log "github.com/sirupsen/logrus"
)

// LogCapture swaps the logger output for a buffer while fn runs
func LogCapture(fn func()) string {
	capture := &bytes.Buffer{}
	log.SetOutput(capture)
	fn()
	log.SetOutput(os.Stdout)

	return capture.String()
}
