//go:build linux

package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/sys/unix"
)

var replHistory []string

// readInteractiveLine reads one line with raw-mode editing: cursor and
// word movement, kill-word in both directions, and history on the arrow
// keys. Piped stdin falls back to plain buffered reads.
func readInteractiveLine(prompt string) (string, error) {
	if !stdinIsTTY() {
		r := bufio.NewReader(os.Stdin)
		s, err := r.ReadString('\n')
		if err != nil && err != io.EOF {
			return "", err
		}
		if err == io.EOF && s == "" {
			return "", io.EOF
		}
		return trimTrailingNewline(s), nil
	}

	restore, err := enterRawMode(int(os.Stdin.Fd()))
	if err != nil {
		return "", err
	}
	defer restore()

	ed := &lineEditor{prompt: prompt, history: replHistory}
	out, err := ed.run(os.Stdin)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(out) != "" {
		replHistory = append(replHistory, out)
	}
	return out, nil
}

// enterRawMode switches the terminal to unbuffered, echo-free input and
// returns the restore function.
func enterRawMode(fd int) (func(), error) {
	saved, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		return nil, err
	}
	raw := *saved
	raw.Lflag &^= unix.ICANON | unix.ECHO
	raw.Cc[unix.VMIN] = 1
	raw.Cc[unix.VTIME] = 0
	if err := unix.IoctlSetTermios(fd, unix.TCSETS, &raw); err != nil {
		return nil, err
	}
	return func() {
		_ = unix.IoctlSetTermios(fd, unix.TCSETS, saved)
	}, nil
}

// keyKind classifies one decoded keystroke.
type keyKind int

const (
	keyRune keyKind = iota // printable byte in key.b
	keyCtrl                // control byte in key.b
	keyAlt                 // ESC-prefixed byte in key.b
	keyCSI                 // escape sequence tail in key.seq
)

type key struct {
	kind keyKind
	b    byte
	seq  string
}

// escDecoder folds raw bytes into keystrokes, holding partial escape
// sequences between feeds.
type escDecoder struct {
	inEscape bool
	inCSI    bool
	seq      []byte
}

// feed consumes one byte. ready is false while a sequence is still
// accumulating.
func (d *escDecoder) feed(b byte) (key, bool) {
	switch {
	case d.inCSI:
		d.seq = append(d.seq, b)
		if isCSIFinal(b) {
			d.inCSI = false
			return key{kind: keyCSI, seq: string(d.seq)}, true
		}
		return key{}, false
	case d.inEscape:
		d.inEscape = false
		if b == '[' {
			d.inCSI = true
			d.seq = d.seq[:0]
			return key{}, false
		}
		return key{kind: keyAlt, b: b}, true
	case b == 0x1b:
		d.inEscape = true
		return key{}, false
	case b < 32 || b == 127:
		return key{kind: keyCtrl, b: b}, true
	default:
		return key{kind: keyRune, b: b}, true
	}
}

func isCSIFinal(b byte) bool {
	return (b >= 'A' && b <= 'Z') || (b >= 'a' && b <= 'z') || b == '~'
}

// lineEditor holds the edit buffer, cursor, and history-browsing state
// for one input line.
type lineEditor struct {
	prompt  string
	line    []byte
	cursor  int
	history []string

	browsing bool
	histPos  int
	draft    string
}

// run pumps keystrokes until the line is submitted or input ends.
func (ed *lineEditor) run(r io.Reader) (string, error) {
	fmt.Print(ed.prompt)
	var dec escDecoder
	var buf [16]byte
	for {
		n, err := r.Read(buf[:])
		if err != nil {
			return "", err
		}
		for _, b := range buf[:n] {
			k, ready := dec.feed(b)
			if !ready {
				continue
			}
			out, done, err := ed.handle(k)
			if done || err != nil {
				return out, err
			}
		}
	}
}

// handle applies one keystroke. done is true when the line is complete.
func (ed *lineEditor) handle(k key) (string, bool, error) {
	switch k.kind {
	case keyRune:
		ed.insert(k.b)
	case keyCtrl:
		return ed.handleCtrl(k.b)
	case keyAlt:
		switch k.b {
		case 'b', 'B':
			ed.moveWord(-1)
		case 'f', 'F':
			ed.moveWord(+1)
		case 127:
			ed.killWord(-1)
		}
	case keyCSI:
		ed.handleCSI(k.seq)
	}
	return "", false, nil
}

func (ed *lineEditor) handleCtrl(b byte) (string, bool, error) {
	switch b {
	case '\r', '\n':
		fmt.Print("\r\n")
		return string(ed.line), true, nil
	case 3: // Ctrl+C
		fmt.Print("^C\r\n")
		return "", true, io.EOF
	case 4: // Ctrl+D on an empty line ends input
		if len(ed.line) == 0 {
			fmt.Print("\r\n")
			return "", true, io.EOF
		}
	case 127, 8: // backspace
		if ed.cursor > 0 {
			ed.line = append(ed.line[:ed.cursor-1], ed.line[ed.cursor:]...)
			ed.cursor--
			ed.redraw()
		}
	case 1: // Ctrl+A
		ed.cursor = 0
		ed.redraw()
	case 5: // Ctrl+E
		ed.cursor = len(ed.line)
		ed.redraw()
	case 23: // Ctrl+W
		ed.killWord(-1)
	}
	return "", false, nil
}

func (ed *lineEditor) handleCSI(seq string) {
	switch seq {
	case "A":
		ed.historyStep(-1)
	case "B":
		ed.historyStep(+1)
	case "D":
		if ed.cursor > 0 {
			ed.cursor--
			ed.redraw()
		}
	case "C":
		if ed.cursor < len(ed.line) {
			ed.cursor++
			ed.redraw()
		}
	case "H":
		ed.cursor = 0
		ed.redraw()
	case "F":
		ed.cursor = len(ed.line)
		ed.redraw()
	case "3~": // delete
		if ed.cursor < len(ed.line) {
			ed.line = append(ed.line[:ed.cursor], ed.line[ed.cursor+1:]...)
			ed.redraw()
		}
	case "1;5D", "5D": // ctrl+left
		ed.moveWord(-1)
	case "1;5C", "5C": // ctrl+right
		ed.moveWord(+1)
	case "3;5~": // ctrl+delete
		ed.killWord(+1)
	}
}

func (ed *lineEditor) insert(b byte) {
	ed.line = append(ed.line, 0)
	copy(ed.line[ed.cursor+1:], ed.line[ed.cursor:])
	ed.line[ed.cursor] = b
	ed.cursor++
	ed.redraw()
}

// wordBoundary returns the cursor position after skipping blanks and
// then one word in the given direction.
func (ed *lineEditor) wordBoundary(dir int) int {
	isBlank := func(i int) bool {
		return ed.line[i] == ' ' || ed.line[i] == '\t'
	}
	pos := ed.cursor
	if dir < 0 {
		for pos > 0 && isBlank(pos-1) {
			pos--
		}
		for pos > 0 && !isBlank(pos-1) {
			pos--
		}
	} else {
		for pos < len(ed.line) && isBlank(pos) {
			pos++
		}
		for pos < len(ed.line) && !isBlank(pos) {
			pos++
		}
	}
	return pos
}

func (ed *lineEditor) moveWord(dir int) {
	ed.cursor = ed.wordBoundary(dir)
	ed.redraw()
}

func (ed *lineEditor) killWord(dir int) {
	bound := ed.wordBoundary(dir)
	if dir < 0 {
		ed.line = append(ed.line[:bound], ed.line[ed.cursor:]...)
		ed.cursor = bound
	} else {
		ed.line = append(ed.line[:ed.cursor], ed.line[bound:]...)
	}
	ed.redraw()
}

// historyStep browses history: -1 is older, +1 is newer. The in-progress
// line is parked in draft and restored when browsing past the newest
// entry.
func (ed *lineEditor) historyStep(dir int) {
	if len(ed.history) == 0 {
		return
	}
	if !ed.browsing {
		if dir > 0 {
			return
		}
		ed.browsing = true
		ed.draft = string(ed.line)
		ed.histPos = len(ed.history)
	}

	next := ed.histPos + dir
	switch {
	case next < 0:
		return
	case next >= len(ed.history):
		ed.histPos = len(ed.history)
		ed.line = append(ed.line[:0], ed.draft...)
		ed.browsing = false
	default:
		ed.histPos = next
		ed.line = append(ed.line[:0], ed.history[ed.histPos]...)
	}
	ed.cursor = len(ed.line)
	ed.redraw()
}

func (ed *lineEditor) redraw() {
	fmt.Printf("\r%s%s\x1b[K", ed.prompt, string(ed.line))
	if ed.cursor < len(ed.line) {
		fmt.Printf("\r%s%s", ed.prompt, string(ed.line[:ed.cursor]))
	}
}

func trimTrailingNewline(s string) string {
	if len(s) > 0 && s[len(s)-1] == '\n' {
		s = s[:len(s)-1]
	}
	if len(s) > 0 && s[len(s)-1] == '\r' {
		s = s[:len(s)-1]
	}
	return s
}
