package statemanager

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	multierror "github.com/hashicorp/go-multierror"

	"github.com/steelcutops/converge/converge/report"
	"github.com/steelcutops/converge/logger"
)

// FileStateManager keeps the latest state of each resource in
// <dir>/<resource>.json and every version under <dir>/history/<resource>/.
// It is a report.Sink: each run stores one state per node.
type FileStateManager struct {
	dir       string
	gitCommit bool
	changedBy string
	log       logger.Logger

	mu sync.Mutex
}

var (
	_ StateManager = (*FileStateManager)(nil)
	_ report.Sink  = (*FileStateManager)(nil)
)

type Option func(*FileStateManager)

// WithGitCommit commits every change, for a dir that is a git work tree.
func WithGitCommit() Option {
	return func(f *FileStateManager) {
		f.gitCommit = true
	}
}

func WithChangedBy(who string) Option {
	return func(f *FileStateManager) {
		f.changedBy = who
	}
}

func WithLogger(log logger.Logger) Option {
	return func(f *FileStateManager) {
		f.log = log
	}
}

func NewFileStateManager(dir string, options ...Option) (*FileStateManager, error) {
	f := &FileStateManager{dir: dir, changedBy: "converge", log: logger.Nop()}
	for _, option := range options {
		option(f)
	}
	if err := os.MkdirAll(filepath.Join(dir, "history"), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}
	return f, nil
}

func (f *FileStateManager) Save(ctx context.Context, state State) (string, error) {
	if err := checkResourceID(state.ResourceID); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	prev, err := f.latest(state.ResourceID)
	switch {
	case err == nil:
		state.Version = prev.Version + 1
	case isNotFound(err):
		state.Version = 1
	default:
		return "", err
	}
	if state.Timestamp.IsZero() {
		state.Timestamp = time.Now()
	}
	if state.ChangedBy == "" {
		state.ChangedBy = f.changedBy
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return "", err
	}
	historyDir := filepath.Join(f.dir, "history", state.ResourceID)
	if err := os.MkdirAll(historyDir, 0o755); err != nil {
		return "", err
	}
	if err := writeFile(filepath.Join(historyDir, versionFile(state.Version, state.ID)), data); err != nil {
		return "", err
	}
	if err := writeFile(f.latestPath(state.ResourceID), data); err != nil {
		return "", err
	}

	if f.gitCommit {
		err = f.commit(ctx, fmt.Sprintf("Update state for %s by %s: %s", state.ResourceID, state.ChangedBy, state.Description))
		if err != nil {
			return "", err
		}
	}
	f.log.Debug("Saved state", "resource", state.ResourceID, "version", state.Version, "id", state.ID)
	return state.ID, nil
}

func (f *FileStateManager) Get(ctx context.Context, resourceID string, version ...int) (State, error) {
	if err := checkResourceID(resourceID); err != nil {
		return State{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(version) == 0 {
		state, err := f.latest(resourceID)
		if isNotFound(err) {
			return State{}, fmt.Errorf("%w: %s", ErrNotFound, resourceID)
		}
		return state, err
	}

	matches, err := filepath.Glob(filepath.Join(f.dir, "history", resourceID, fmt.Sprintf("%06d-*.json", version[0])))
	if err != nil {
		return State{}, err
	}
	if len(matches) == 0 {
		return State{}, fmt.Errorf("%w: %s version %d", ErrNotFound, resourceID, version[0])
	}
	return readState(matches[0])
}

func (f *FileStateManager) List(ctx context.Context) ([]State, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	files, err := os.ReadDir(f.dir)
	if err != nil {
		return nil, err
	}

	var states []State

	for _, file := range files {
		if file.IsDir() || !strings.HasSuffix(file.Name(), ".json") {
			continue
		}
		state, err := readState(filepath.Join(f.dir, file.Name()))
		if err != nil {
			return nil, err
		}
		states = append(states, state)
	}

	return states, nil
}

func (f *FileStateManager) History(ctx context.Context, resourceID string) ([]State, error) {
	if err := checkResourceID(resourceID); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	files, err := os.ReadDir(filepath.Join(f.dir, "history", resourceID))
	if isNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Name() < files[j].Name() })

	states := make([]State, 0, len(files))
	for _, file := range files {
		state, err := readState(filepath.Join(f.dir, "history", resourceID, file.Name()))
		if err != nil {
			return nil, err
		}
		states = append(states, state)
	}
	return states, nil
}

func (f *FileStateManager) Delete(ctx context.Context, resourceID string) error {
	if err := checkResourceID(resourceID); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	statePath := f.latestPath(resourceID)
	if _, err := os.Stat(statePath); os.IsNotExist(err) {
		return fmt.Errorf("%w: %s", ErrNotFound, resourceID)
	}

	if err := os.Remove(statePath); err != nil {
		return err
	}
	if err := os.RemoveAll(filepath.Join(f.dir, "history", resourceID)); err != nil {
		return err
	}

	if f.gitCommit {
		return f.commit(ctx, fmt.Sprintf("Deleted state for %s", resourceID))
	}
	return nil
}

func (f *FileStateManager) Exists(ctx context.Context, resourceID string) (bool, error) {
	if err := checkResourceID(resourceID); err != nil {
		return false, err
	}
	if _, err := os.Stat(f.latestPath(resourceID)); os.IsNotExist(err) {
		return false, nil
	} else if err != nil {
		return false, err
	}
	return true, nil
}

// Write stores the result of every node of run as a new state version.
func (f *FileStateManager) Write(ctx context.Context, run *report.Run) error {
	var result *multierror.Error
	for _, node := range run.Nodes {
		data, err := toMap(node)
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("node %s: %w", node.Node, err))
			continue
		}
		skipped, fixed, failed := node.Counts()
		verdict := "success"
		if !node.Success() {
			verdict = "failure"
		}
		at := node.End
		if at.IsZero() {
			at = run.End
		}
		_, err = f.Save(ctx, State{
			ID:          run.ID.String(),
			ResourceID:  node.Node,
			Timestamp:   at,
			Verdict:     verdict,
			Data:        data,
			Description: fmt.Sprintf("%s: %d skipped, %d fixed, %d failed", verdict, skipped, fixed, failed),
		})
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("node %s: %w", node.Node, err))
		}
	}
	return result.ErrorOrNil()
}

func (f *FileStateManager) latest(resourceID string) (State, error) {
	return readState(f.latestPath(resourceID))
}

func (f *FileStateManager) latestPath(resourceID string) string {
	return filepath.Join(f.dir, resourceID+".json")
}

func (f *FileStateManager) commit(ctx context.Context, message string) error {
	for _, args := range [][]string{{"add", "-A"}, {"commit", "-q", "-m", message}} {
		cmd := exec.CommandContext(ctx, "git", args...)
		cmd.Dir = f.dir
		if out, err := cmd.CombinedOutput(); err != nil {
			return fmt.Errorf("git %s: %w: %s", args[0], err, strings.TrimSpace(string(out)))
		}
	}
	return nil
}

func versionFile(version int, id string) string {
	return fmt.Sprintf("%06d-%s.json", version, id)
}

func checkResourceID(id string) error {
	if id == "" || id == "." || id == ".." || strings.ContainsAny(id, `/\`) {
		return fmt.Errorf("invalid resource ID %q", id)
	}
	return nil
}

func isNotFound(err error) bool {
	return err != nil && os.IsNotExist(err)
}

func readState(path string) (State, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return State{}, err
	}
	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return State{}, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return state, nil
}

// writeFile replaces path atomically.
func writeFile(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".state-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func toMap(v interface{}) (map[string]interface{}, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}
