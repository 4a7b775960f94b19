package tui

import (
	"io"
	"os"
	"sync"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/johndauphine/pg-rest-mirror/internal/logging"
)

var (
	programMu  sync.Mutex
	programRef *tea.Program
)

// SetProgramRef stores the running program so command goroutines can
// send messages into it.
func SetProgramRef(p *tea.Program) {
	programMu.Lock()
	defer programMu.Unlock()
	programRef = p
}

// GetProgramRef returns the running program, or nil before Start.
func GetProgramRef() *tea.Program {
	programMu.Lock()
	defer programMu.Unlock()
	return programRef
}

// CaptureOutput reroutes process-wide stdout, stderr, and the logger
// into the program as OutputMsg for the lifetime of the TUI. The
// renderer keeps the real terminal fd it grabbed at construction, so
// only plain prints and log lines land in the console viewport. The
// returned cleanup restores everything.
func CaptureOutput(p *tea.Program) func() {
	r, w, err := os.Pipe()
	if err != nil {
		return func() {}
	}

	origStdout := os.Stdout
	origStderr := os.Stderr
	os.Stdout = w
	os.Stderr = w
	logging.SetOutput(w)

	done := make(chan struct{})
	go func() {
		defer close(done)
		buf := make([]byte, 1024)
		for {
			n, err := r.Read(buf)
			if n > 0 {
				p.Send(OutputMsg(string(buf[:n])))
			}
			if err != nil {
				break
			}
		}
	}()

	return func() {
		w.Close()
		os.Stdout = origStdout
		os.Stderr = origStderr
		logging.SetOutput(origStdout)
		<-done
	}
}

// CaptureToString redirects stdout while fn runs and returns whatever
// it printed. Used for the report commands that print tables directly.
func CaptureToString(fn func() error) (string, error) {
	r, w, err := os.Pipe()
	if err != nil {
		return "", err
	}

	orig := os.Stdout
	os.Stdout = w

	outCh := make(chan string, 1)
	go func() {
		data, _ := io.ReadAll(r)
		outCh <- string(data)
	}()

	fnErr := fn()

	w.Close()
	os.Stdout = orig
	return <-outCh, fnErr
}
