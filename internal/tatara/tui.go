package tatara

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
	"github.com/ulikunitz/xz"
	"golang.org/x/term"
)

// Build log viewer for the run logs under LogDir. Left/Right switches
// between runs, Up/Down/PgUp/PgDn scroll, Esc or Ctrl-Q quits.

type logEntry struct {
	path string
	name string
}

func listRunLogs() ([]logEntry, error) {
	var entries []logEntry
	for _, pattern := range []string{"*.log", "*.log.xz"} {
		matches, _ := filepath.Glob(filepath.Join(LogDir, pattern))
		for _, m := range matches {
			entries = append(entries, logEntry{path: m, name: filepath.Base(m)})
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].name > entries[j].name })
	return entries, nil
}

func readRunLog(entry logEntry) (string, error) {
	f, err := os.Open(entry.path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(entry.path, ".xz") {
		xr, err := xz.NewReader(f)
		if err != nil {
			return "", fmt.Errorf("failed to open compressed log: %w", err)
		}
		r = xr
	}
	data, err := io.ReadAll(r)
	return string(data), err
}

func runLogViewer() error {
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		return fmt.Errorf("log viewer needs a terminal")
	}

	logs, err := listRunLogs()
	if err != nil {
		return err
	}
	if len(logs) == 0 {
		colArrow.Print("-> ")
		colSuccess.Printf("No run logs under %s\n", LogDir)
		return nil
	}

	app := tview.NewApplication()
	active := 0

	header := tview.NewTextView().SetDynamicColors(true).SetWrap(false)
	header.SetBorder(true)
	header.SetTitle("tatara build logs")

	logView := tview.NewTextView().
		SetDynamicColors(true).
		SetWrap(false).
		SetScrollable(true)
	logView.SetBorder(true)

	footer := tview.NewTextView().SetDynamicColors(true).SetWrap(true)
	footer.SetBorder(true)
	footer.SetText("[yellow]←/→[-] switch log  [yellow]↑/↓[-] scroll  [yellow]Home/End[-] jump  [yellow]Esc[-] quit")

	show := func() {
		entry := logs[active]
		header.SetText(fmt.Sprintf("[%d/%d] %s", active+1, len(logs), entry.name))
		content, err := readRunLog(entry)
		if err != nil {
			content = fmt.Sprintf("failed to read log: %v", err)
		}
		logView.SetText(tview.TranslateANSI(content))
		logView.ScrollToEnd()
	}
	show()

	flex := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(header, 3, 0, false).
		AddItem(logView, 0, 1, true).
		AddItem(footer, 3, 0, false)

	flex.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		switch event.Key() {
		case tcell.KeyCtrlQ, tcell.KeyEsc:
			app.Stop()
			return nil
		case tcell.KeyLeft:
			active = (active - 1 + len(logs)) % len(logs)
			show()
			return nil
		case tcell.KeyRight:
			active = (active + 1) % len(logs)
			show()
			return nil
		case tcell.KeyHome:
			logView.ScrollToBeginning()
			return nil
		case tcell.KeyEnd:
			logView.ScrollToEnd()
			return nil
		}
		if event.Rune() == 'q' {
			app.Stop()
			return nil
		}
		return event
	})

	return app.SetRoot(flex, true).Run()
}
