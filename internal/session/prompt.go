package session

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
)

// lineReader reads lines from the terminal one request at a time, so nothing
// is left reading stdin once the display takes over.
type lineReader struct {
	r       *bufio.Reader
	pending chan lineResult
}

type lineResult struct {
	line string
	err  error
}

func newLineReader(r io.Reader) *lineReader {
	return &lineReader{r: bufio.NewReader(r)}
}

// ReadLine returns the next line without its line ending. A read still in
// flight when ctx is cancelled is picked up by the next call.
func (l *lineReader) ReadLine(ctx context.Context) (string, error) {
	if l.pending == nil {
		l.pending = make(chan lineResult, 1)
		go func(ch chan<- lineResult) {
			line, err := l.r.ReadString('\n')
			if err == io.EOF && line != "" {
				err = nil
			}
			ch <- lineResult{line: strings.TrimRight(line, "\r\n"), err: err}
		}(l.pending)
	}

	select {
	case res := <-l.pending:
		l.pending = nil
		return res.line, res.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (s *Session) ask(ctx context.Context, question string) (string, error) {
	fmt.Fprint(s.out, question)
	line, err := s.lines.ReadLine(ctx)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func (s *Session) promptPrefix(ctx context.Context) error {
	prefix, err := s.ask(ctx, "Specify prefix for filename or press ENTER for no prefix:")
	if err != nil {
		return err
	}
	if prefix == "" {
		fmt.Fprintln(s.out, "[no prefix]")
	} else {
		fmt.Fprintln(s.out, prefix)
	}
	fmt.Fprintln(s.out)
	s.cfg.Output.File.Prefix = prefix
	return nil
}

func (s *Session) promptUDP(ctx context.Context) error {
	defaultIP := s.cfg.Output.UDP.IP
	for {
		answer, err := s.ask(ctx, "Specify target IP or leave blank for default ["+defaultIP+"]: ")
		if err != nil {
			return err
		}
		if answer == "" {
			answer = defaultIP
		}
		if ip := net.ParseIP(answer); ip == nil || ip.To4() == nil {
			fmt.Fprintf(s.out, "%q is not an IPv4 address.\n", answer)
			continue
		}
		fmt.Fprintln(s.out, answer)
		fmt.Fprintln(s.out)
		s.cfg.Output.UDP.IP = answer
		break
	}

	defaultPort := s.cfg.Output.UDP.Port
	for {
		answer, err := s.ask(ctx, "Specify target port or leave blank for default ["+strconv.Itoa(defaultPort)+"]: ")
		if err != nil {
			return err
		}
		port := defaultPort
		if answer != "" {
			port, err = strconv.Atoi(answer)
			if err != nil || port < 1 || port > 65535 {
				fmt.Fprintf(s.out, "%q is not a valid port.\n", answer)
				continue
			}
		}
		fmt.Fprintln(s.out, port)
		fmt.Fprintln(s.out)
		s.cfg.Output.UDP.Port = port
		return nil
	}
}
