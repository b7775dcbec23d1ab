package gesture

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

// Script reads one command per line:
//
//	PRESS | KEYDOWN | MOUSEDOWN | TOUCHSTART
//	RELEASE | KEYUP | MOUSEUP | TOUCHEND
//	SLEEP <ms>
//	WAIT
//	QUIT
//
// plus any name registered in Commands. WAIT calls Wait. Reaching QUIT or
// the end of input returns ErrStopped.
type Script struct {
	In       io.Reader
	Wait     func()
	Commands map[string]func()
}

func (s *Script) Run(ctx context.Context, emit func(Event)) error {
	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(s.In)
		for scanner.Scan() {
			select {
			case lines <- strings.TrimSpace(scanner.Text()):
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	for {
		var line string
		var ok bool
		select {
		case <-ctx.Done():
			return nil
		case line, ok = <-lines:
		}
		if !ok {
			select {
			case err := <-scanErr:
				if err != nil {
					return fmt.Errorf("reading script: %w", err)
				}
			default:
			}
			return ErrStopped
		}
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		cmd, arg, _ := strings.Cut(line, " ")
		switch strings.ToUpper(cmd) {
		case "PRESS", "KEYDOWN", "MOUSEDOWN", "TOUCHSTART":
			emit(Event{Signal: Press, Origin: strings.ToLower(cmd)})
		case "RELEASE", "KEYUP", "MOUSEUP", "TOUCHEND":
			emit(Event{Signal: Release, Origin: strings.ToLower(cmd)})
		case "SLEEP":
			ms, err := strconv.Atoi(strings.TrimSpace(arg))
			if err != nil {
				return fmt.Errorf("bad SLEEP argument %q: %w", arg, err)
			}
			select {
			case <-time.After(time.Duration(ms) * time.Millisecond):
			case <-ctx.Done():
				return nil
			}
		case "WAIT":
			if s.Wait != nil {
				s.Wait()
			}
		case "QUIT":
			return ErrStopped
		default:
			fn, ok := s.Commands[strings.ToUpper(cmd)]
			if !ok {
				return fmt.Errorf("unknown script command %q", cmd)
			}
			fn()
		}
	}
}
