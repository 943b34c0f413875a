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
	"context"
	"fmt"
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFakeProcess(t *testing.T) {
	if os.Getenv("GO_TEST_PROCESS") != "1" {
		return
	}
	if os.Getenv("SLEEP") == "1" {
		time.Sleep(1 * time.Hour)
	}
	if os.Getenv("FAIL") == "1" {
		fmt.Fprintf(os.Stderr, "boom")
		os.Exit(1)
	}
	fmt.Fprintf(os.Stderr, "ok")
	os.Exit(0)
}

func fakeExecCommand(env ...string) *exec.Cmd {
	cmd := exec.Command(os.Args[0], "-test.run=TestFakeProcess")
	cmd.Env = append([]string{"GO_TEST_PROCESS=1"}, env...)
	return cmd
}

func TestProcessRunSucceeds(t *testing.T) {
	p := newProcess(fakeExecCommand(), "test", nil)
	err := p.run(context.Background())
	require.NoError(t, err)
}

func TestProcessRunSurfacesFailure(t *testing.T) {
	p := newProcess(fakeExecCommand("FAIL=1"), "test", nil)
	err := p.run(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "boom")
}

func TestWaitForFileReturnsImmediatelyIfAlreadyPresent(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(dir+"/iframe.m3u8", []byte("x"), 0o600))

	err := waitForFile(context.Background(), dir, "iframe.m3u8")
	require.NoError(t, err)
}

func TestWaitForFileReturnsOnceFileAppears(t *testing.T) {
	dir := t.TempDir()

	go func() {
		time.Sleep(20 * time.Millisecond)
		os.WriteFile(dir+"/iframe.m3u8", []byte("x"), 0o600) //nolint:errcheck
	}()

	err := waitForFile(context.Background(), dir, "iframe.m3u8")
	require.NoError(t, err)
}

func TestWaitForFileHonoursContextCancellation(t *testing.T) {
	dir := t.TempDir()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := waitForFile(ctx, dir, "never.m3u8")
	require.ErrorIs(t, err, context.Canceled)
}

func TestProcessRunStopsOnCancel(t *testing.T) {
	p := newProcess(fakeExecCommand("SLEEP=1"), "test", nil)
	p.timeout = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("process did not stop after cancellation")
	}
}
