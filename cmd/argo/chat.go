// Copyright 2026 © The Argo Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bufio"
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/chzyer/readline"
	"github.com/fatih/color"

	"github.com/jllopis/argo/pkg/config"
	"github.com/jllopis/argo/pkg/message"
	"github.com/jllopis/argo/pkg/telemetry"
)

const historyFile = ".argo_history"

var (
	cyan  = color.New(color.FgCyan).SprintFunc()
	green = color.New(color.FgGreen).SprintFunc()
	bold  = color.New(color.Bold).SprintFunc()
)

// lineReader is the part of readline.Instance the REPL uses.
type lineReader interface {
	Readline() (string, error)
	Close() error
}

// scanReader reads lines from a non-terminal input such as a pipe.
type scanReader struct {
	scanner *bufio.Scanner
}

func (r *scanReader) Readline() (string, error) {
	if r.scanner.Scan() {
		return r.scanner.Text(), nil
	}
	if err := r.scanner.Err(); err != nil {
		return "", err
	}
	return "", io.EOF
}

func (r *scanReader) Close() error { return nil }

func newLineReader(in io.Reader, out io.Writer, prompt string) (lineReader, error) {
	f, ok := in.(*os.File)
	if !ok || !readline.IsTerminal(int(f.Fd())) {
		return &scanReader{scanner: bufio.NewScanner(in)}, nil
	}
	cfg := &readline.Config{
		Prompt:            prompt,
		InterruptPrompt:   "^C",
		EOFPrompt:         "exit",
		HistorySearchFold: true,
		Stdout:            out,
	}
	if home, err := os.UserHomeDir(); err == nil {
		cfg.HistoryFile = filepath.Join(home, historyFile)
	}
	return readline.NewEx(cfg)
}

// printer writes turn output. Streamed chunks are printed as they arrive,
// so a message that was streamed is not printed again when it is yielded.
// The line is ended once, when the turn is over.
type printer struct {
	out      io.Writer
	streamed atomic.Bool
	open     atomic.Bool
}

func (p *printer) chunk(s string) {
	p.streamed.Store(true)
	p.open.Store(true)
	fmt.Fprint(p.out, s)
}

func (p *printer) message(msg message.Message) {
	if p.streamed.Swap(false) {
		return
	}
	if text := msg.Text(); text != "" {
		p.open.Store(true)
		fmt.Fprint(p.out, text)
	}
}

func (p *printer) reset() {
	p.streamed.Store(false)
	if p.open.Swap(false) {
		fmt.Fprintln(p.out)
	}
}

type chatSession struct {
	app    *app
	print  *printer
	errOut io.Writer
}

// turn runs one line through the agent. Failures are reported and leave
// the history as it was.
func (s *chatSession) turn(ctx context.Context, line string) bool {
	for msg, err := range s.app.agent.Perform(ctx, message.User(line)) {
		if err != nil {
			s.print.reset()
			NewCLIError(err, "").PrintError(s.errOut, false)
			return false
		}
		s.print.message(msg)
	}
	s.print.reset()
	return true
}

func (s *chatSession) run(ctx context.Context, in io.Reader) error {
	prompt := cyan("you> ")
	reader, err := newLineReader(in, s.print.out, prompt)
	if err != nil {
		return err
	}
	defer reader.Close()

	fmt.Fprintf(s.print.out, "%s %s. Type 'exit' to quit.\n", bold(s.app.agent.Name()), green("ready"))
	for {
		line, err := reader.Readline()
		if stderrors.Is(err, readline.ErrInterrupt) {
			if line == "" {
				return nil
			}
			continue
		}
		if stderrors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		line = strings.TrimSpace(line)
		switch strings.ToLower(line) {
		case "":
			continue
		case "exit", "quit":
			return nil
		}
		s.turn(ctx, line)
		if ctx.Err() != nil {
			return nil
		}
	}
}

// watchLogLevel applies log level changes from the config files while the
// session runs.
func (a *app) watchLogLevel(ctx context.Context, src config.Source) (stop func(), err error) {
	if src.Path == "" {
		return func() {}, nil
	}
	w, _, err := config.WatchConfig(ctx, src, config.WithWatchLogger(telemetry.Component(a.logger, "config")))
	if err != nil {
		return nil, err
	}
	w.OnChange(func(cfg *config.Config) {
		level := telemetry.ParseLevel(cfg.Log.Level)
		if level != a.level.Level() {
			a.level.Set(level)
			a.logger.Info("log level changed", "level", cfg.Log.Level)
		}
	})
	return w.Stop, nil
}
