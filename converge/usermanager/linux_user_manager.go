package usermanager

import (
	"context"
	"strconv"
	"strings"

	cm "github.com/steelcutops/converge/converge/commandmanager"
	"github.com/steelcutops/converge/converge/item"
)

type LinuxUserManager struct{}

// GetUser relies on getent exiting 2 for an unknown key.
func (l *LinuxUserManager) GetUser(ctx context.Context, r item.Runner, username string) (User, bool, error) {
	output, err := r.Check(ctx, cm.CommandConfig{
		Command: "getent passwd",
		Args:    []string{username},
	})
	if err != nil {
		return User{}, false, err
	}
	if output.ExitCode == 2 {
		return User{}, false, nil
	}
	if output.ExitCode != 0 {
		return User{}, false, output.Failed()
	}
	user, err := parsePasswd(output.STDOUT)
	if err != nil {
		return User{}, false, err
	}
	return user, true, nil
}

// accountArgs renders the options shared by useradd and usermod.
func accountArgs(user User) []string {
	var args []string
	if user.UID >= 0 {
		args = append(args, "-u", strconv.Itoa(user.UID))
	}
	if user.GID >= 0 {
		args = append(args, "-g", strconv.Itoa(user.GID))
	}
	if user.Comment != "" {
		args = append(args, "-c", user.Comment)
	}
	if user.HomeDir != "" {
		args = append(args, "-d", user.HomeDir)
	}
	if user.Shell != "" {
		args = append(args, "-s", user.Shell)
	}
	return args
}

func (l *LinuxUserManager) AddUser(ctx context.Context, r item.Runner, user User) error {
	_, err := r.Run(ctx, cm.CommandConfig{
		Command: "useradd",
		Sudo:    true,
		Args:    append(append([]string{"-m"}, accountArgs(user)...), "--", user.Username),
	})
	return err
}

func (l *LinuxUserManager) ModifyUser(ctx context.Context, r item.Runner, user User) error {
	_, err := r.Run(ctx, cm.CommandConfig{
		Command: "usermod",
		Sudo:    true,
		Args:    append(accountArgs(user), "--", user.Username),
	})
	return err
}

func (l *LinuxUserManager) DeleteUser(ctx context.Context, r item.Runner, username string) error {
	_, err := r.Run(ctx, cm.CommandConfig{
		Command: "userdel",
		Sudo:    true,
		Args:    []string{"--", username},
	})
	return err
}

func (l *LinuxUserManager) ListUsers(ctx context.Context, r item.Runner) ([]User, error) {
	output, err := r.Run(ctx, cm.CommandConfig{Command: "getent passwd"})
	if err != nil {
		return nil, err
	}

	var users []User
	for _, line := range strings.Split(output.STDOUT, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		user, err := parsePasswd(line)
		if err != nil {
			continue
		}
		users = append(users, user)
	}
	return users, nil
}
