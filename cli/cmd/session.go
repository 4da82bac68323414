package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"southwinds.dev/keycache"
)

var errNoTerminal = errors.New("stdin is not a terminal, pass the key inline: unlock <key>")

// session feeds commands read from the host process into the cache, one per line
type session struct {
	svc keycache.Service
	out io.Writer

	// readKey prompts for key material when unlock is given no argument
	readKey func() ([]byte, error)
}

func newSession(svc keycache.Service, out io.Writer) *session {
	return &session{svc: svc, out: out, readKey: readKeyFromTerminal}
}

// run processes lines until EOF, quit or ctx is cancelled. The reader goroutine
// only scans when asked, so unlock can prompt on the terminal in between.
// When in is an io.Closer it is closed on cancellation to release a pending
// read; a plain reader keeps its goroutine until its Read returns.
func (s *session) run(ctx context.Context, in io.Reader) error {
	if closer, ok := in.(io.Closer); ok {
		stopClose := context.AfterFunc(ctx, func() { _ = closer.Close() })
		defer stopClose()
	}

	next := make(chan struct{})
	lines := make(chan string, 1)
	errc := make(chan error, 1)

	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for range next {
			if !scanner.Scan() {
				errc <- scanner.Err()
				return
			}
			lines <- scanner.Text()
		}
	}()
	defer close(next)

	for {
		select {
		case next <- struct{}{}:
		case <-ctx.Done():
			return nil
		}

		select {
		case line, ok := <-lines:
			if !ok {
				return <-errc
			}
			quit, err := s.execute(line)
			if err != nil {
				fmt.Fprintf(s.out, "%s\n", formatError(err))
			}
			if quit {
				return nil
			}
		case <-ctx.Done():
			return nil
		}
	}
}

// execute runs a single command line and reports whether the session should end
func (s *session) execute(line string) (bool, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false, nil
	}

	switch strings.ToLower(fields[0]) {
	case "quit", "exit":
		return true, nil
	case "status":
		return false, printStatus(s.out, s.svc)
	case "help":
		printSessionHelp(s.out)
		return false, nil
	case "unlock":
		return false, s.unlock(fields[1:])
	}

	cmd, err := keycache.ParseCommand(fields[0])
	if err != nil {
		return false, err
	}
	if err = s.svc.Handle(cmd); err != nil {
		return false, err
	}
	fmt.Fprintf(s.out, "ok %s\n", cmd)
	return false, nil
}

func (s *session) unlock(args []string) error {
	var key []byte
	if len(args) > 0 {
		key = []byte(strings.Join(args, " "))
	} else {
		var err error
		if key, err = s.readKey(); err != nil {
			return fmt.Errorf("failed to read key: %w", err)
		}
	}

	if err := s.svc.SetSecret(key); err != nil {
		if errors.Is(err, keycache.ErrAlarmArm) {
			fmt.Fprintf(s.out, "WARNING: key cached but will not expire: %v\n", err)
			return nil
		}
		return err
	}
	fmt.Fprintln(s.out, "ok unlock")
	return nil
}

func readKeyFromTerminal() ([]byte, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return nil, errNoTerminal
	}

	fmt.Fprint(os.Stderr, "Key: ")
	key, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return nil, err
	}
	return key, nil
}

func printSessionHelp(w io.Writer) {
	fmt.Fprintln(w, `Commands:
  unlock [key]         cache a key (prompts without echo when no key is given)
  activity-start       a foreground activity became visible
  activity-stop        a foreground activity went away
  clear-key            wipe the key without announcing an expiry
  passphrase-expired   wipe the key and announce the expiry
  status               show the cache state
  quit                 shut down`)
}
