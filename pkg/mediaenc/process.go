// Copyright 2020-2021 The OS-NVR Authors.
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation; version 2.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package mediaenc

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"time"

	"github.com/fsnotify/fsnotify"

	"mediaforge/pkg/log"
)

// process runs an external command, cancelling it by signal-then-timeout
// when ctx is done rather than killing it outright.
type process struct {
	cmd     *exec.Cmd
	timeout time.Duration

	prefix string
	logger *log.Logger

	stderr bytes.Buffer
	done   chan struct{}
}

func newProcess(cmd *exec.Cmd, prefix string, logger *log.Logger) *process {
	return &process{
		cmd:     cmd,
		timeout: 1000 * time.Millisecond,
		prefix:  prefix,
		logger:  logger,
	}
}

// run starts cmd and blocks until it exits or ctx is cancelled, returning
// the combined stderr output in any error.
func (p *process) run(ctx context.Context) error {
	if p.logger != nil {
		if err := p.attachStderrLogger(); err != nil {
			return fmt.Errorf("could not attach logger: %w", err)
		}
	} else {
		p.cmd.Stderr = &p.stderr
	}

	if err := p.cmd.Start(); err != nil {
		return fmt.Errorf("could not start %s: %w", p.prefix, err)
	}

	p.done = make(chan struct{})
	go func() {
		select {
		case <-p.done:
		case <-ctx.Done():
			p.stop()
		}
	}()

	err := p.cmd.Wait()
	close(p.done)

	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%s exited: %w: %s", p.prefix, err, p.stderr.String())
	}
	return nil
}

func (p *process) attachStderrLogger() error {
	pipe, err := p.cmd.StderrPipe()
	if err != nil {
		return err
	}

	scanner := bufio.NewScanner(io.TeeReader(pipe, &p.stderr))
	go func() {
		for scanner.Scan() {
			p.logger.Info().Src("mediaenc").Msgf("%s: %s", p.prefix, scanner.Text())
		}
	}()
	return nil
}

// waitForFile blocks until name appears inside dir or ctx is done,
// watching dir rather than polling, the same pattern ffmpeg.WaitForKeyframe
// uses to learn an HLS manifest has been written. ffmpeg's exit only
// guarantees its own writes are flushed, not that a network-mounted
// scratch directory has made them visible yet, so the manifest write is
// confirmed separately before the caller serves it.
func waitForFile(ctx context.Context, dir, name string) error {
	if _, err := os.Stat(dir + "/" + name); err == nil {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("could not create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("could not watch %s: %w", dir, err)
	}

	for {
		if _, err := os.Stat(dir + "/" + name); err == nil {
			return nil
		}
		select {
		case <-watcher.Events:
			continue
		case err := <-watcher.Errors:
			return err
		case <-time.After(10 * time.Second):
			return errors.New("timeout waiting for " + name)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (p *process) stop() {
	p.cmd.Process.Signal(os.Interrupt) //nolint:errcheck
	select {
	case <-p.done:
	case <-time.After(p.timeout):
		p.cmd.Process.Signal(os.Kill) //nolint:errcheck
		<-p.done
	}
}
