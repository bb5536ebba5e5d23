package report

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steelcutops/converge/converge/errdefs"
	"github.com/steelcutops/converge/converge/item"
)

func sampleRun() *Run {
	start := time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC)
	run := NewRun(start)
	run.End = start.Add(3 * time.Second)
	failure := &errdefs.CommandFailedError{Output: errdefs.Output{
		Command:  "dnf -y install nope",
		ExitCode: 1,
		Stderr:   "Error: Unable to find a match: nope\n",
	}}
	run.Nodes = []NodeResult{
		{
			Node: "web1",
			Items: []ItemResult{
				{ID: item.ID{Type: "pkg_dnf", Name: "git"}, State: item.Fixed, Transitions: []Transition{
					{State: item.Pending, At: start}, {State: item.Probing, At: start}, {State: item.Applying, At: start}, {State: item.Fixed, At: start},
				}},
				{ID: item.ID{Type: "pkg_dnf", Name: "nope"}, State: item.Failed, Err: failure, Output: errdefs.Diagnostic(failure)},
				{ID: item.ID{Type: "pkg_dnf", Name: "vim"}, State: item.Skipped},
			},
			Unmanaged: []item.ID{{Type: "pkg_dnf", Name: "bash"}},
		},
		{Node: "web2", Items: []ItemResult{{ID: item.ID{Type: "pkg_dnf", Name: "git"}, State: item.Skipped}}},
		{Node: "db1", Err: &errdefs.TransportError{Host: "db1", Err: errors.New("connection refused")}},
	}
	return run
}

func TestVerdicts(t *testing.T) {
	run := sampleRun()
	assert.False(t, run.Nodes[0].Success())
	assert.True(t, run.Nodes[1].Success())
	assert.False(t, run.Nodes[2].Success())
	assert.False(t, run.Success())
	assert.True(t, run.Aborted())

	skipped, fixed, failed := run.Nodes[0].Counts()
	assert.Equal(t, []int{1, 1, 1}, []int{skipped, fixed, failed})

	err := run.Err()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "node web1: 1 item(s) failed")
	assert.Contains(t, err.Error(), "node db1: host db1 unreachable")
	assert.ErrorIs(t, err, errdefs.ErrTransportUnreachable)

	res, ok := run.Nodes[0].Item(item.ID{Type: "pkg_dnf", Name: "git"})
	require.True(t, ok)
	assert.Equal(t, []item.State{item.Pending, item.Probing, item.Applying, item.Fixed}, res.States())
}

func TestEmptyRunSucceeds(t *testing.T) {
	run := NewRun(time.Now())
	assert.True(t, run.Success())
	assert.NoError(t, run.Err())
}

func TestJSONSink(t *testing.T) {
	var buf bytes.Buffer
	run := sampleRun()
	require.NoError(t, (&JSONSink{W: &buf}).Write(context.Background(), run))

	var decoded struct {
		ID      string `json:"id"`
		Verdict string `json:"verdict"`
		Nodes   []struct {
			Node      string   `json:"node"`
			Verdict   string   `json:"verdict"`
			Error     string   `json:"error"`
			Unmanaged []string `json:"unmanaged"`
			Items     []struct {
				ID     string `json:"id"`
				State  string `json:"state"`
				Error  string `json:"error"`
				Output string `json:"output"`
			} `json:"items"`
		} `json:"nodes"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))

	assert.Equal(t, run.ID.String(), decoded.ID)
	assert.Equal(t, "failure", decoded.Verdict)
	require.Len(t, decoded.Nodes, 3)
	assert.Equal(t, "success", decoded.Nodes[1].Verdict)
	assert.Equal(t, []string{"pkg_dnf:bash"}, decoded.Nodes[0].Unmanaged)
	assert.Equal(t, "failed", decoded.Nodes[0].Items[1].State)
	assert.Equal(t, "Error: Unable to find a match: nope\n", decoded.Nodes[0].Items[1].Output)
	assert.Contains(t, decoded.Nodes[2].Error, "connection refused")
}

func TestTextSink(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, (&TextSink{W: &buf}).Write(context.Background(), sampleRun()))
	out := buf.String()

	assert.Contains(t, out, "node web1: failure")
	assert.Contains(t, out, "pkg_dnf:git")
	assert.Contains(t, out, "| Error: Unable to find a match: nope")
	assert.Contains(t, out, "pkg_dnf:bash")
	assert.Contains(t, out, "unmanaged")
	assert.NotContains(t, out, "pkg_dnf:vim")
	assert.Contains(t, out, "node web2: success")
	assert.Contains(t, out, "error: host db1 unreachable")

	buf.Reset()
	require.NoError(t, (&TextSink{W: &buf, Verbose: true}).Write(context.Background(), sampleRun()))
	assert.Contains(t, buf.String(), "pkg_dnf:vim")
}

type failingSink struct{}

func (failingSink) Write(context.Context, *Run) error { return errors.New("disk full") }

func TestSinksCollectErrors(t *testing.T) {
	var buf bytes.Buffer
	sinks := Sinks{failingSink{}, &JSONSink{W: &buf}, failingSink{}}
	err := sinks.Write(context.Background(), sampleRun())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2 errors occurred")
	assert.NotEmpty(t, buf.String())
}
