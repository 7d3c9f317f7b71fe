package rpc

import (
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"sync"
	"syscall"

	"github.com/clusterlib/clusterlib/common/clerr"
	"github.com/clusterlib/clusterlib/notifyable"
)

// Predefined method names, matching the names clusterlib's own CLI and
// client bindings dispatch by.
const (
	MethodStartProcess = "startProcess"
	MethodStopProcess  = "stopProcess"
)

// startProcessParams is params[0] for MethodStartProcess. AddEnv, Path and
// Command are either all set or all omitted.
type startProcessParams struct {
	NotifyableKey string   `json:"notifyable-key"`
	AddEnv        []string `json:"add-env,omitempty"`
	Path          string   `json:"path,omitempty"`
	Command       string   `json:"command,omitempty"`
}

// stopProcessParams is params[0] for MethodStopProcess. Signal defaults to
// os.Kill's underlying signal when zero.
type stopProcessParams struct {
	NotifyableKey string `json:"notifyable-key"`
	Signal        int    `json:"signal,omitempty"`
}

// ProcessRunner starts and signals the OS processes bound to process
// slots. It is the in-process counterpart to a ProcessSlot's ProcessInfo
// attribute: the notifyable graph records who is assigned a slot, but only
// the server that actually forked the child can signal it, so the runner
// keeps its own pid table keyed by the slot's key.
type ProcessRunner struct {
	root *notifyable.Root

	mu   sync.Mutex
	pids map[string]*os.Process
}

// NewProcessRunner constructs a ProcessRunner resolving notifyable keys
// against root.
func NewProcessRunner(root *notifyable.Root) *ProcessRunner {
	return &ProcessRunner{root: root, pids: map[string]*os.Process{}}
}

// StartProcessMethod returns the Method driving MethodStartProcess,
// registered against a Server's method table.
func (r *ProcessRunner) StartProcessMethod() Method {
	return Method{
		CheckParams: checkStartProcessParams,
		Invoke:      r.invokeStartProcess,
	}
}

// StopProcessMethod returns the Method driving MethodStopProcess.
func (r *ProcessRunner) StopProcessMethod() Method {
	return Method{
		CheckParams: checkStopProcessParams,
		Invoke:      r.invokeStopProcess,
	}
}

func checkStartProcessParams(params []json.RawMessage) error {
	p, err := decodeStartProcessParams(params)
	if err != nil {
		return err
	}
	if p.NotifyableKey == "" {
		return clerr.New(clerr.KindInvalidArguments, "startProcess requires notifyable-key")
	}
	anySet := len(p.AddEnv) > 0 || p.Path != "" || p.Command != ""
	allSet := len(p.AddEnv) > 0 && p.Path != "" && p.Command != ""
	if anySet && !allSet {
		return clerr.New(clerr.KindInvalidArguments, "startProcess requires add-env, path and command together or not at all")
	}
	return nil
}

func decodeStartProcessParams(params []json.RawMessage) (startProcessParams, error) {
	if len(params) == 0 {
		return startProcessParams{}, clerr.New(clerr.KindInvalidArguments, "startProcess requires params[0]")
	}
	var p startProcessParams
	if err := json.Unmarshal(params[0], &p); err != nil {
		return startProcessParams{}, clerr.Wrap(clerr.KindInvalidArguments, err, "malformed startProcess params")
	}
	return p, nil
}

func (r *ProcessRunner) invokeStartProcess(ctx context.Context, name string, params []json.RawMessage, persistence StatePersistence) (json.RawMessage, error) {
	p, err := decodeStartProcessParams(params)
	if err != nil {
		return nil, err
	}
	target, err := notifyable.Resolve(ctx, r.root, p.NotifyableKey)
	if err != nil {
		return nil, err
	}
	slot, ok := target.(*notifyable.ProcessSlot)
	if !ok {
		return nil, clerr.Newf(clerr.KindInvalidArguments, "%s is not a process slot", p.NotifyableKey)
	}

	var cmd *exec.Cmd
	if p.Command != "" {
		cmd = exec.CommandContext(context.Background(), p.Path, splitCommand(p.Command)...)
		cmd.Env = append(os.Environ(), p.AddEnv...)
		if err := cmd.Start(); err != nil {
			return nil, clerr.Wrap(clerr.KindSystemFailure, err, "failed to start process for "+p.NotifyableKey)
		}
		r.mu.Lock()
		r.pids[slot.Key()] = cmd.Process
		r.mu.Unlock()
		go cmd.Wait() // reap; exit status is not tracked here
	}

	info := slot.ProcessInfo()
	hostname, _ := os.Hostname()
	port := 0
	if cmd != nil {
		port = cmd.Process.Pid
	}
	info.Set([]string{hostname}, []int32{int32(port)})
	if err := info.Publish(ctx, true); err != nil {
		return nil, err
	}

	result, err := json.Marshal(p.NotifyableKey)
	if err != nil {
		return nil, clerr.Wrap(clerr.KindInconsistentState, err, "failed to encode startProcess result")
	}
	return result, nil
}

func checkStopProcessParams(params []json.RawMessage) error {
	p, err := decodeStopProcessParams(params)
	if err != nil {
		return err
	}
	if p.NotifyableKey == "" {
		return clerr.New(clerr.KindInvalidArguments, "stopProcess requires notifyable-key")
	}
	return nil
}

func decodeStopProcessParams(params []json.RawMessage) (stopProcessParams, error) {
	if len(params) == 0 {
		return stopProcessParams{}, clerr.New(clerr.KindInvalidArguments, "stopProcess requires params[0]")
	}
	var p stopProcessParams
	if err := json.Unmarshal(params[0], &p); err != nil {
		return stopProcessParams{}, clerr.Wrap(clerr.KindInvalidArguments, err, "malformed stopProcess params")
	}
	return p, nil
}

func (r *ProcessRunner) invokeStopProcess(ctx context.Context, name string, params []json.RawMessage, persistence StatePersistence) (json.RawMessage, error) {
	p, err := decodeStopProcessParams(params)
	if err != nil {
		return nil, err
	}
	target, err := notifyable.Resolve(ctx, r.root, p.NotifyableKey)
	if err != nil {
		return nil, err
	}
	slot, ok := target.(*notifyable.ProcessSlot)
	if !ok {
		return nil, clerr.Newf(clerr.KindInvalidArguments, "%s is not a process slot", p.NotifyableKey)
	}

	r.mu.Lock()
	proc, tracked := r.pids[slot.Key()]
	if tracked {
		delete(r.pids, slot.Key())
	}
	r.mu.Unlock()
	if tracked {
		var sig os.Signal = syscall.SIGKILL
		if p.Signal != 0 {
			sig = syscall.Signal(p.Signal)
		}
		if err := proc.Signal(sig); err != nil {
			return nil, clerr.Wrap(clerr.KindSystemFailure, err, "failed to signal process for "+p.NotifyableKey)
		}
	}

	info := slot.ProcessInfo()
	info.Set(nil, nil)
	if err := info.Publish(ctx, true); err != nil {
		return nil, err
	}

	result, err := json.Marshal(p.NotifyableKey)
	if err != nil {
		return nil, clerr.Wrap(clerr.KindInconsistentState, err, "failed to encode stopProcess result")
	}
	return result, nil
}

func splitCommand(command string) []string {
	var args []string
	var cur []rune
	for _, r := range command {
		if r == ' ' {
			if len(cur) > 0 {
				args = append(args, string(cur))
				cur = nil
			}
			continue
		}
		cur = append(cur, r)
	}
	if len(cur) > 0 {
		args = append(args, string(cur))
	}
	return args
}
