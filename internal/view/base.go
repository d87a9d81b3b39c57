// Package view implements the queryable view of a watched tree: the
// capability surface queries run against, plus the in-memory concrete
// view the daemon maintains from watcher events.
package view

import (
	"time"

	"github.com/vigil-watch/vigil/internal/query"
)

// VCSLockFiles is the canonical set of lock paths whose presence means a
// version control operation is in flight under the root.
var VCSLockFiles = []string{".hg/wlock", ".git/index.lock"}

// BaseView supplies the default behaviour for optional capabilities so
// concrete views only implement the generators they support.
type BaseView struct{}

func (BaseView) TimeGenerator(*query.Query, *query.Context) error {
	return query.NewExecError("timeGenerator not implemented")
}

func (BaseView) PathGenerator(*query.Query, *query.Context) error {
	return query.NewExecError("pathGenerator not implemented")
}

func (BaseView) GlobGenerator(*query.Query, *query.Context) error {
	return query.NewExecError("globGenerator not implemented")
}

func (BaseView) AllFilesGenerator(*query.Query, *query.Context) error {
	return query.NewExecError("allFilesGenerator not implemented")
}

func (BaseView) GetLastAgeOutTickValue() uint64 {
	return 0
}

func (BaseView) GetLastAgeOutTimeStamp() time.Time {
	return time.Time{}
}

func (BaseView) AgeOut(time.Duration) error {
	return nil
}
