package oracle

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rand/chatbattery/internal/formula"
)

// BridgeOptions configures a PythonBridge.
type BridgeOptions struct {
	// PythonPath is the interpreter. Defaults to python3.
	PythonPath string

	// Module is the Python module that holds the domain agent.
	Module string

	// Attr names the agent inside Module. Empty uses the module itself.
	Attr string

	// WorkDir is the working directory, which must let Module be imported.
	// Defaults to cwd.
	WorkDir string

	// ScriptPath overrides the embedded bridge script.
	ScriptPath string

	// Timeout bounds each call. Defaults to 30s.
	Timeout time.Duration
}

// DefaultBridgeOptions targets the ChatBattery domain agent.
func DefaultBridgeOptions() BridgeOptions {
	return BridgeOptions{
		PythonPath: "python3",
		Module:     "ChatBattery.domain_agent",
		Attr:       "Domain_Agent",
		Timeout:    30 * time.Second,
	}
}

// PythonBridge runs a Python domain agent as a subprocess and implements
// Oracle, BatchDistancer and RangeMatcher over a JSON-lines protocol.
// Calls are serialized; it is safe for concurrent use.
//
// A call abandoned through its context leaves the subprocess running. Its
// reply is discarded by the next call, which may wait for it first.
type PythonBridge struct {
	mu        sync.Mutex
	cmd       *exec.Cmd
	stdin     io.WriteCloser
	replies   chan reply
	exited    chan struct{}
	opts      BridgeOptions
	scriptDir string
	reqID     atomic.Int64
	running   atomic.Bool
	exitErr   error
	logger    *slog.Logger
}

// reply is one line read from the subprocess.
type reply struct {
	line []byte
	err  error
}

// NewPythonBridge creates a bridge. Call Start before use.
func NewPythonBridge(opts BridgeOptions) (*PythonBridge, error) {
	if opts.Module == "" {
		return nil, fmt.Errorf("domain module is required")
	}
	if opts.PythonPath == "" {
		opts.PythonPath = "python3"
	}
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.WorkDir == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("get cwd: %w", err)
		}
		opts.WorkDir = cwd
	}

	return &PythonBridge{
		opts:   opts,
		logger: slog.Default(),
	}, nil
}

// SetLogger sets the logger for the bridge.
func (b *PythonBridge) SetLogger(logger *slog.Logger) {
	b.logger = logger
}

// Start launches the subprocess and waits for the agent to import. Without
// BridgeOptions.ScriptPath the embedded script is written to a temp dir that
// Stop removes.
func (b *PythonBridge) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.running.Load() {
		return fmt.Errorf("domain bridge already running")
	}

	script := b.opts.ScriptPath
	if script == "" {
		dir, path, err := extractEmbeddedBridge()
		if err != nil {
			return err
		}
		b.scriptDir = dir
		script = path
	}

	args := []string{"-u", script, b.opts.Module}
	if b.opts.Attr != "" {
		args = append(args, b.opts.Attr)
	}

	// exec.Command rather than CommandContext: the process must outlive ctx.
	cmd := exec.Command(b.opts.PythonPath, args...)
	cmd.Dir = b.opts.WorkDir
	cmd.Env = os.Environ()
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		b.removeScript()
		return fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		b.removeScript()
		return fmt.Errorf("stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		stdin.Close()
		stdout.Close()
		b.removeScript()
		return fmt.Errorf("start process: %w", err)
	}

	b.cmd = cmd
	b.stdin = stdin
	b.replies = make(chan reply, 16)
	b.exited = make(chan struct{})
	b.exitErr = nil
	b.running.Store(true)

	go readReplies(bufio.NewReader(stdout), b.replies, b.exited)
	go b.monitorProcess(cmd, b.exited)

	if err := b.waitReady(ctx); err != nil {
		b.stopLocked()
		b.removeScript()
		return fmt.Errorf("wait ready: %w", err)
	}

	b.logger.Debug("domain bridge started",
		"module", b.opts.Module,
		"pid", cmd.Process.Pid,
	)
	return nil
}

// readReplies forwards stdout lines until a read fails or the process exits.
func readReplies(r *bufio.Reader, out chan<- reply, exited <-chan struct{}) {
	for {
		line, err := r.ReadBytes('\n')
		select {
		case out <- reply{line: line, err: err}:
		case <-exited:
			return
		}
		if err != nil {
			return
		}
	}
}

func (b *PythonBridge) monitorProcess(cmd *exec.Cmd, exited chan struct{}) {
	err := cmd.Wait()
	close(exited)

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.cmd != cmd || !b.running.Load() {
		return
	}
	b.running.Store(false)
	if err != nil {
		b.exitErr = fmt.Errorf("domain bridge exited unexpectedly: %w", err)
	} else {
		b.exitErr = fmt.Errorf("domain bridge exited unexpectedly with status 0")
	}
	b.logger.Warn("domain bridge exited unexpectedly", "error", err)
}

func (b *PythonBridge) waitReady(ctx context.Context) error {
	timer := time.NewTimer(b.opts.Timeout)
	defer timer.Stop()

	var r reply
	select {
	case r = <-b.replies:
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return fmt.Errorf("timeout waiting for domain bridge")
	}

	if r.err != nil {
		return fmt.Errorf("read ready: %w", r.err)
	}
	resp, err := decodeResponse(r.line)
	if err != nil {
		return fmt.Errorf("parse ready: %w", err)
	}
	if resp.Error != nil {
		return resp.Error
	}
	var ready ReadyResult
	if err := json.Unmarshal(resp.Result, &ready); err != nil || !ready.Ready {
		return fmt.Errorf("unexpected ready line: %s", r.line)
	}
	return nil
}

// Stop terminates the subprocess and removes the extracted script.
func (b *PythonBridge) Stop() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	err := b.stopLocked()
	b.removeScript()
	return err
}

// stopLocked terminates the subprocess. Caller must hold b.mu.
func (b *PythonBridge) stopLocked() error {
	if !b.running.Load() {
		return nil
	}
	b.running.Store(false)

	if b.stdin != nil {
		req, _ := encodeRequest(0, methodShutdown, nil)
		b.stdin.Write(append(req, '\n'))
		b.stdin.Close()
	}

	if b.cmd != nil && b.cmd.Process != nil {
		select {
		case <-b.exited:
		case <-time.After(5 * time.Second):
			b.cmd.Process.Kill()
		}
	}

	return nil
}

// removeScript deletes the temp dir of an extracted script. Caller must
// hold b.mu.
func (b *PythonBridge) removeScript() {
	if b.scriptDir == "" {
		return
	}
	if err := os.RemoveAll(b.scriptDir); err != nil {
		b.logger.Warn("remove domain bridge script", "dir", b.scriptDir, "error", err)
	}
	b.scriptDir = ""
}

// Running reports whether the subprocess is up.
func (b *PythonBridge) Running() bool {
	return b.running.Load()
}

// call sends one request and decodes the result into out. Replies to
// earlier, abandoned requests are skipped. Only a timeout stops the
// subprocess, since a hung agent would never answer again.
func (b *PythonBridge) call(ctx context.Context, method string, params, out any) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.running.Load() {
		if b.exitErr != nil {
			return b.exitErr
		}
		return fmt.Errorf("domain bridge not running")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	id := b.reqID.Add(1)
	req, err := encodeRequest(id, method, params)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	if _, err := b.stdin.Write(append(req, '\n')); err != nil {
		return fmt.Errorf("write request: %w", err)
	}

	timer := time.NewTimer(b.opts.Timeout)
	defer timer.Stop()

	for {
		var r reply
		select {
		case r = <-b.replies:
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			b.stopLocked()
			return fmt.Errorf("%s: timeout after %v", method, b.opts.Timeout)
		}

		if r.err != nil {
			return fmt.Errorf("read response: %w", r.err)
		}
		resp, err := decodeResponse(r.line)
		if err != nil {
			return err
		}
		if resp.ID < id {
			b.logger.Debug("dropping stale domain reply", "id", resp.ID, "want", id)
			continue
		}
		if resp.ID != id {
			return fmt.Errorf("%s: response id %d, want %d", method, resp.ID, id)
		}
		if resp.Error != nil {
			return resp.Error
		}
		if err := json.Unmarshal(resp.Result, out); err != nil {
			return fmt.Errorf("%s: unmarshal result: %w", method, err)
		}
		return nil
	}
}

// Capacity implements Oracle.
func (b *PythonBridge) Capacity(ctx context.Context, f formula.Formula) (float64, error) {
	var v float64
	if err := b.call(ctx, methodCapacity, CapacityParams{Formula: string(f)}, &v); err != nil {
		return 0, fmt.Errorf("capacity of %s: %w", f, err)
	}
	return v, nil
}

// Distance implements Oracle.
func (b *PythonBridge) Distance(ctx context.Context, a, c formula.Formula) (float64, error) {
	var v float64
	if err := b.call(ctx, methodDistance, DistanceParams{A: string(a), B: string(c)}, &v); err != nil {
		return 0, fmt.Errorf("distance %s to %s: %w", a, c, err)
	}
	return v, nil
}

// Distances implements BatchDistancer.
func (b *PythonBridge) Distances(ctx context.Context, target formula.Formula, fs []formula.Formula) ([]float64, error) {
	var vs []float64
	params := DistancesParams{Target: string(target), Formulas: formula.Strings(fs)}
	if err := b.call(ctx, methodDistances, params, &vs); err != nil {
		return nil, fmt.Errorf("distances to %s: %w", target, err)
	}
	if len(vs) != len(fs) {
		return nil, fmt.Errorf("distances to %s: got %d values for %d formulas", target, len(vs), len(fs))
	}
	return vs, nil
}

// RangeMatch implements RangeMatcher.
func (b *PythonBridge) RangeMatch(ctx context.Context, f formula.Formula, refs []formula.Formula) (bool, error) {
	var ok bool
	params := RangeMatchParams{Formula: string(f), Refs: formula.Strings(refs)}
	if err := b.call(ctx, methodRangeMatch, params, &ok); err != nil {
		return false, fmt.Errorf("range match %s: %w", f, err)
	}
	return ok, nil
}
