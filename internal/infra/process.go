package infra

import (
	"fmt"
	"strings"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/eliteGoblin/connprune/internal/domain"
)

// ProcessManagerImpl implements domain.ProcessManager using gopsutil.
type ProcessManagerImpl struct{}

// NewProcessManager creates a new process manager.
func NewProcessManager() domain.ProcessManager {
	return &ProcessManagerImpl{}
}

// FindByName returns PIDs of processes whose name contains pattern (case-insensitive).
func (pm *ProcessManagerImpl) FindByName(pattern string) ([]int, error) {
	procs, err := process.Processes()
	if err != nil {
		return nil, err
	}

	var found []int
	patternLower := strings.ToLower(pattern)
	for _, p := range procs {
		name, err := p.Name()
		if err != nil {
			continue // Process may have exited
		}
		if strings.Contains(strings.ToLower(name), patternLower) {
			found = append(found, int(p.Pid))
		}
	}
	return found, nil
}

// IsRunning checks if a PID exists and is running.
func (pm *ProcessManagerImpl) IsRunning(pid int) bool {
	exists, err := process.PidExists(int32(pid))
	return err == nil && exists
}

// BrowserProbe checks that a browser process is alive before the target is used.
type BrowserProbe struct {
	pm    domain.ProcessManager
	names []string
}

// NewBrowserProbe creates a probe for the given process names. With no names
// every check passes.
func NewBrowserProbe(pm domain.ProcessManager, names []string) *BrowserProbe {
	return &BrowserProbe{pm: pm, names: names}
}

// Check returns the first matching PID, or an error when no browser runs.
func (b *BrowserProbe) Check() (int, error) {
	if len(b.names) == 0 {
		return 0, nil
	}
	for _, name := range b.names {
		pids, err := b.pm.FindByName(name)
		if err != nil {
			return 0, fmt.Errorf("failed to list processes: %w", err)
		}
		for _, pid := range pids {
			if b.pm.IsRunning(pid) {
				return pid, nil
			}
		}
	}
	return 0, fmt.Errorf("no browser process running (looked for %s)", strings.Join(b.names, ", "))
}

var _ domain.ProcessManager = (*ProcessManagerImpl)(nil)
