package osext

import (
	"context"
	"os"
	"sync"

	"github.com/grafana/xk6-webview/log"
)

type process struct {
	pid   int
	runID string
}

var (
	processRegister   = map[int]process{} //nolint:gochecknoglobals
	processRegisterMu = sync.Mutex{}      //nolint:gochecknoglobals
)

// Register records the process with the given pid as owned by the run
// saved in ctx.
func Register(ctx context.Context, logger *log.Logger, pid int) {
	processRegisterMu.Lock()
	defer processRegisterMu.Unlock()

	rID := GetRunID(ctx)
	logger.Debugf("Process:register", "registered process pid:%d runID:%q", pid, rID)

	processRegister[pid] = process{pid: pid, runID: rID}
}

// Unregister forgets the process with the given pid, once it has ended.
func Unregister(pid int) {
	processRegisterMu.Lock()
	defer processRegisterMu.Unlock()

	delete(processRegister, pid)
}

// Registered returns the pids of the registered processes of the run saved
// in ctx, or of every run if there is none.
func Registered(ctx context.Context) []int {
	processRegisterMu.Lock()
	defer processRegisterMu.Unlock()

	return matching(GetRunID(ctx))
}

func matching(rID string) []int {
	var pids []int
	for _, p := range processRegister {
		if rID != "" && p.runID != rID {
			continue
		}
		pids = append(pids, p.pid)
	}
	return pids
}

// ForceProcessShutdown kills the registered processes of the run saved in
// ctx, or every registered process if there is none. It should be called
// when the extension has to shutdown due to an internal error (and
// therefore a panic) or a signal.
func ForceProcessShutdown(ctx context.Context) {
	processRegisterMu.Lock()
	defer processRegisterMu.Unlock()

	for _, pid := range matching(GetRunID(ctx)) {
		Kill(pid)
		delete(processRegister, pid)
	}
}

// Kill will look for and kill the process with the
// given pid. This is only being exported to allow
// tests to override it so that in those tests no
// process is killed.
var Kill = func(pid int) { //nolint:gochecknoglobals
	p, err := os.FindProcess(pid)
	if err != nil {
		// optimistically continue and don't kill the process
		return
	}
	// no need to check the error since we're already dying.
	_ = p.Kill()
	_ = p.Release()
}
