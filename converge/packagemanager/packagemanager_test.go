package packagemanager

import (
	"context"
	"testing"

	"github.com/steelcutops/converge/converge/commandmanager"
	"github.com/steelcutops/converge/converge/errdefs"
	"github.com/steelcutops/converge/converge/host"
	"github.com/steelcutops/converge/converge/hostmanager"
	"github.com/steelcutops/converge/converge/item"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockCommandManager struct {
	mock.Mock
}

func (m *MockCommandManager) Run(ctx context.Context, config commandmanager.CommandConfig) (commandmanager.CommandResult, error) {
	args := m.Called(config.Line())
	return args.Get(0).(commandmanager.CommandResult), args.Error(1)
}

func (m *MockCommandManager) expect(line string, exit int, stdout string) {
	m.On("Run", line).Return(commandmanager.CommandResult{Command: line, ExitCode: exit, STDOUT: stdout}, nil).Once()
}

func newSession(t *testing.T, mockCmd *MockCommandManager) *host.Session {
	t.Helper()
	h, err := host.NewHost("web1", host.WithCommandManager(mockCmd), host.WithOS(hostmanager.LinuxFedora, "40"))
	require.NoError(t, err)
	s := h.Open()
	t.Cleanup(func() { s.Close() })
	return s
}

func newItem(t *testing.T, id string, attrs item.Attributes) item.Item {
	t.Helper()
	reg := item.NewRegistry()
	reg.MustRegister(Types()...)
	parsed, err := item.ParseID(id)
	require.NoError(t, err)
	it, err := reg.New(parsed, attrs)
	require.NoError(t, err)
	return it
}

func TestDnfInstall(t *testing.T) {
	mockCmd := new(MockCommandManager)
	mockCmd.expect("dnf list --installed git", 1, "")
	mockCmd.expect("sudo -S -p '' sh -c 'dnf -y install git'", 0, "Complete!\n")
	s := newSession(t, mockCmd)
	pkg := newItem(t, "pkg_dnf:git", nil)

	ok, err := pkg.Probe(context.Background(), s)
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, pkg.Apply(context.Background(), s))
	mockCmd.AssertExpectations(t)
}

func TestYumRemove(t *testing.T) {
	mockCmd := new(MockCommandManager)
	mockCmd.expect("yum -d0 -e0 list installed telnet", 0, "telnet.x86_64 1:0.17-76 @base\n")
	mockCmd.expect("sudo -S -p '' sh -c 'yum -d0 -e0 -y remove telnet'", 0, "")
	s := newSession(t, mockCmd)
	pkg := newItem(t, "pkg_yum:telnet", item.Attributes{"installed": false})

	ok, err := pkg.Probe(context.Background(), s)
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, pkg.Apply(context.Background(), s))
	mockCmd.AssertExpectations(t)
}

func TestAptProbeNeedsInstalledStatus(t *testing.T) {
	mockCmd := new(MockCommandManager)
	mockCmd.expect("dpkg -s vim", 0, "Package: vim\nStatus: deinstall ok config-files\n")
	mockCmd.expect("dpkg -s curl", 0, "Package: curl\nStatus: install ok installed\n")
	s := newSession(t, mockCmd)

	ok, err := newItem(t, "pkg_apt:vim", nil).Probe(context.Background(), s)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = newItem(t, "pkg_apt:curl", nil).Probe(context.Background(), s)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestAptInstallCommand(t *testing.T) {
	mockCmd := new(MockCommandManager)
	mockCmd.expect("sudo -S -p '' env DEBIAN_FRONTEND=noninteractive sh -c "+
		"'apt-get -qy -o Dpkg::Options::=--force-confdef -o Dpkg::Options::=--force-confold install vim'", 0, "")
	s := newSession(t, mockCmd)

	require.NoError(t, newItem(t, "pkg_apt:vim", nil).Apply(context.Background(), s))
	mockCmd.AssertExpectations(t)
}

func TestInstallFailureCarriesOutput(t *testing.T) {
	mockCmd := new(MockCommandManager)
	line := "apk add 'no such'"
	mockCmd.On("Run", "sudo -S -p '' sh -c "+commandmanager.Quote(line)).Return(commandmanager.CommandResult{
		Command:  line,
		ExitCode: 1,
		STDERR:   "ERROR: unable to select packages\n",
	}, nil)
	s := newSession(t, mockCmd)

	err := newItem(t, "pkg_apk:no such", nil).Apply(context.Background(), s)
	require.Error(t, err)
	assert.ErrorIs(t, err, errdefs.ErrCommandFailed)
	assert.Contains(t, errdefs.Diagnostic(err), "unable to select packages")
}

func TestDnfExistingStripsArch(t *testing.T) {
	mockCmd := new(MockCommandManager)
	mockCmd.expect("dnf list --installed", 0, "Installed Packages\n"+
		"bash.x86_64            5.2.26-3.fc40     @anaconda\n"+
		"python3.12.x86_64      3.12.3-2.fc40     @updates\n"+
		"tzdata.noarch          2024a-5.fc40      @fedora\n")
	s := newSession(t, mockCmd)

	pkg := newItem(t, "pkg_dnf:bash", nil)
	ids, err := pkg.(item.Enumerator).Existing(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, []item.ID{
		{Type: "pkg_dnf", Name: "bash"},
		{Type: "pkg_dnf", Name: "python3.12"},
		{Type: "pkg_dnf", Name: "tzdata"},
	}, ids)
}

func TestYumExistingKeepsDottedNames(t *testing.T) {
	mockCmd := new(MockCommandManager)
	mockCmd.expect("yum -d0 -e0 list installed", 0, "Installed Packages\n"+
		"compat-openssl1.1.x86_64   1:1.1.1k-4.el9   @appstream\n")
	s := newSession(t, mockCmd)

	ids, err := newItem(t, "pkg_yum:bash", nil).(item.Enumerator).Existing(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, []item.ID{{Type: "pkg_yum", Name: "compat-openssl1.1"}}, ids)
}

func TestBrewExisting(t *testing.T) {
	mockCmd := new(MockCommandManager)
	mockCmd.expect("brew list -1", 0, "git\nwget\n")
	s := newSession(t, mockCmd)

	ids, err := newItem(t, "pkg_brew:git", nil).(item.Enumerator).Existing(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, []item.ID{{Type: "pkg_brew", Name: "git"}, {Type: "pkg_brew", Name: "wget"}}, ids)
}

func TestBlockConcurrent(t *testing.T) {
	reg := item.NewRegistry()
	reg.MustRegister(Types()...)
	facts := hostmanager.Facts{OS: hostmanager.LinuxCentOS}

	assert.ElementsMatch(t, []string{"pkg_dnf", "pkg_yum"}, reg.BlockConcurrent("pkg_dnf", facts))
	assert.ElementsMatch(t, []string{"pkg_dnf", "pkg_yum"}, reg.BlockConcurrent("pkg_yum", facts))
	assert.Equal(t, []string{"pkg_apt"}, reg.BlockConcurrent("pkg_apt", facts))
}
