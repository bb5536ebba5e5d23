// Package usermanager provides the user item type.
package usermanager

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/steelcutops/converge/converge/item"
)

// User represents an individual user account on the system.
type User struct {
	Username string
	UID      int
	GID      int
	Comment  string
	HomeDir  string
	Shell    string
}

// UserManager encompasses operations related to user management.
type UserManager interface {
	// GetUser returns ok=false when the user does not exist.
	GetUser(ctx context.Context, r item.Runner, username string) (user User, ok bool, err error)
	AddUser(ctx context.Context, r item.Runner, user User) error
	ModifyUser(ctx context.Context, r item.Runner, user User) error
	DeleteUser(ctx context.Context, r item.Runner, username string) error
	ListUsers(ctx context.Context, r item.Runner) ([]User, error)
}

// parsePasswd parses one passwd(5) line.
func parsePasswd(line string) (User, error) {
	parts := strings.Split(strings.TrimSpace(line), ":")
	if len(parts) < 7 {
		return User{}, fmt.Errorf("unexpected passwd entry %q", line)
	}
	uid, err := strconv.Atoi(parts[2])
	if err != nil {
		return User{}, fmt.Errorf("passwd entry %s: uid: %w", parts[0], err)
	}
	gid, err := strconv.Atoi(parts[3])
	if err != nil {
		return User{}, fmt.Errorf("passwd entry %s: gid: %w", parts[0], err)
	}
	return User{
		Username: parts[0],
		UID:      uid,
		GID:      gid,
		Comment:  parts[4],
		HomeDir:  parts[5],
		Shell:    parts[6],
	}, nil
}

// Account is a user item. Unset numeric attributes are -1 and unset strings
// are empty; neither is compared.
type Account struct {
	item.Base
	want    User
	delete  bool
	manager UserManager
}

func (a *Account) Probe(ctx context.Context, r item.Runner) (bool, error) {
	have, ok, err := a.manager.GetUser(ctx, r, a.ID().Name)
	if err != nil {
		return false, err
	}
	if a.delete {
		return !ok, nil
	}
	return ok && a.matches(have), nil
}

func (a *Account) matches(have User) bool {
	w := a.want
	return (w.UID < 0 || w.UID == have.UID) &&
		(w.GID < 0 || w.GID == have.GID) &&
		(w.Comment == "" || w.Comment == have.Comment) &&
		(w.HomeDir == "" || w.HomeDir == have.HomeDir) &&
		(w.Shell == "" || w.Shell == have.Shell)
}

func (a *Account) Apply(ctx context.Context, r item.Runner) error {
	_, ok, err := a.manager.GetUser(ctx, r, a.ID().Name)
	if err != nil {
		return err
	}
	switch {
	case a.delete && ok:
		return a.manager.DeleteUser(ctx, r, a.ID().Name)
	case a.delete:
		return nil
	case ok:
		return a.manager.ModifyUser(ctx, r, a.want)
	}
	return a.manager.AddUser(ctx, r, a.want)
}

func (a *Account) Existing(ctx context.Context, r item.Runner) ([]item.ID, error) {
	users, err := a.manager.ListUsers(ctx, r)
	if err != nil {
		return nil, err
	}
	ids := make([]item.ID, 0, len(users))
	for _, u := range users {
		ids = append(ids, item.ID{Type: "user", Name: u.Username})
	}
	return ids, nil
}

func newAccount(base item.Base, manager UserManager) (item.Item, error) {
	attrs := base.Attributes()
	a := &Account{Base: base, manager: manager, want: User{Username: base.ID().Name}}
	var err error
	if a.delete, err = attrs.Bool("delete", false); err != nil {
		return nil, err
	}
	if a.want.UID, err = attrs.Int("uid"); err != nil {
		return nil, err
	}
	if a.want.GID, err = attrs.Int("gid"); err != nil {
		return nil, err
	}
	if a.want.Comment, err = attrs.String("full_name"); err != nil {
		return nil, err
	}
	if a.want.HomeDir, err = attrs.String("home"); err != nil {
		return nil, err
	}
	if a.want.Shell, err = attrs.String("shell"); err != nil {
		return nil, err
	}
	if strings.ContainsAny(a.want.Username, ": \t") {
		return nil, fmt.Errorf("invalid user name %q", a.want.Username)
	}
	return a, nil
}

// Types returns the user item type. useradd and friends lock the account
// databases, so user items never run concurrently.
func Types() []item.Type {
	manager := &LinuxUserManager{}
	return []item.Type{{
		Name: "user",
		Attributes: map[string]interface{}{
			"delete":    false,
			"uid":       nil,
			"gid":       nil,
			"full_name": nil,
			"home":      nil,
			"shell":     nil,
		},
		New: func(base item.Base) (item.Item, error) {
			return newAccount(base, manager)
		},
		BlockConcurrent: item.Blocks("user"),
	}}
}
