package main

import (
	"unicode/utf8"

	"github.com/mattn/go-tty"

	"github.com/rvkit/rvkit/hart"
)

// consoleQuit ends the interactive session from the keyboard.
const consoleQuit = 'q'

// runConsole reads keystrokes from the controlling terminal in raw
// mode and feeds them to the machine's UART receive queue, where they
// raise the external interrupt line. It runs on its own goroutine and
// returns when the quit key is pressed or the machine stops.
func runConsole(m *hart.Machine) error {
	t, err := tty.Open()
	if err != nil {
		return err
	}
	defer t.Close()

	restore, err := t.Raw()
	if err != nil {
		return err
	}
	defer restore()

	for !m.Stopped() {
		r, err := t.ReadRune()
		if err != nil {
			return err
		}
		// Ctrl-C in raw mode arrives as a byte, not a signal.
		if r == consoleQuit || r == 0x03 {
			m.Stop()
			return nil
		}
		var buf [utf8.UTFMax]byte
		n := utf8.EncodeRune(buf[:], r)
		m.UART().Push(buf[:n]...)
	}
	return nil
}
