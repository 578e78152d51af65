package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/leeineian/melody/sys"
)

const pidFile = ".bot.pid"

// instanceLock holds the single-instance lock for the lifetime of the process.
type instanceLock struct {
	lock *flock.Flock
	path string
}

// acquireInstanceLock takes the PID file lock, terminating a previous
// instance that still holds it.
func acquireInstanceLock(path string) (*instanceLock, error) {
	l := &instanceLock{lock: flock.New(path), path: path}

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	deadline := time.Now().Add(15 * time.Second)

	for {
		ok, err := l.lock.TryLock()
		if err != nil {
			return nil, fmt.Errorf("lock %s: %w", path, err)
		}
		if ok {
			break
		}
		if time.Now().After(deadline) {
			return nil, errors.New("previous instance still holds " + path)
		}

		oldPid, err := readPid(path)
		if err != nil || oldPid == os.Getpid() {
			<-ticker.C
			continue
		}
		terminate(oldPid, ticker)
	}

	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
		_ = l.lock.Unlock()
		return nil, fmt.Errorf("write pid: %w", err)
	}
	return l, nil
}

func (l *instanceLock) Release() {
	_ = l.lock.Unlock()
	_ = os.Remove(l.path)
}

func readPid(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func alive(p *os.Process) bool {
	return p.Signal(syscall.Signal(0)) == nil
}

// terminate asks pid to exit and escalates to SIGKILL after five seconds.
func terminate(pid int, ticker *time.Ticker) {
	process, err := os.FindProcess(pid)
	if err != nil {
		return
	}

	sys.LogInfo(sys.MsgBotKillingOld, pid)
	_ = process.Signal(syscall.SIGTERM)

	timeout := time.After(5 * time.Second)
wait:
	for alive(process) {
		select {
		case <-ticker.C:
		case <-timeout:
			break wait
		}
	}

	if alive(process) {
		sys.LogWarn("Old process %d is stubborn. Sending SIGKILL...", pid)
		_ = process.Signal(syscall.SIGKILL)

		killTimeout := time.After(2 * time.Second)
	killWait:
		for alive(process) {
			select {
			case <-ticker.C:
			case <-killTimeout:
				sys.LogWarn("Process %d still exists after SIGKILL", pid)
				break killWait
			}
		}
	}

	sys.LogInfo(sys.MsgBotOldTerminated)
}
