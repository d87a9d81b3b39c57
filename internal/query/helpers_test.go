package query

import (
	"time"

	"github.com/vigil-watch/vigil/internal/clock"
)

// testFile is a FileResult for expression tests. Fields are loaded on
// demand so tests can exercise the needs-more-data path.
type testFile struct {
	name   string
	exists bool
	isNew  bool
	size   int64
	mode   uint32
	mtime  time.Time
	ctime  time.Time
	otime  uint64

	// loaded controls which accessors report ok. loadErr, when set,
	// fails LoadFields.
	loaded  FieldSet
	loadErr error

	loadCalls int
}

func makeTestFile(name string) *testFile {
	return &testFile{
		name:   name,
		exists: true,
		loaded: FieldExists | FieldNew | FieldSize | FieldMode | FieldMTime | FieldCTime,
	}
}

func (f *testFile) Name() string { return f.name }

func (f *testFile) Exists() (bool, bool) {
	return f.exists, f.loaded&FieldExists != 0
}

func (f *testFile) IsNew() (bool, bool) {
	return f.isNew, f.loaded&FieldNew != 0
}

func (f *testFile) Size() (int64, bool) {
	return f.size, f.loaded&FieldSize != 0
}

func (f *testFile) Mode() (uint32, bool) {
	return f.mode, f.loaded&FieldMode != 0
}

func (f *testFile) MTime() (time.Time, bool) {
	return f.mtime, f.loaded&FieldMTime != 0
}

func (f *testFile) CTime() (time.Time, bool) {
	return f.ctime, f.loaded&FieldCTime != 0
}

func (f *testFile) OTime() uint64 { return f.otime }

func (f *testFile) LoadFields(fields FieldSet) error {
	f.loadCalls++
	if f.loadErr != nil {
		return f.loadErr
	}
	f.loaded |= fields
	return nil
}

// fakeView is a QueryableView whose generators emit canned files and
// record which generator ran.
type fakeView struct {
	files []*testFile

	position clock.Position

	ranGenerator string
	syncCalls    int
	syncErr      error

	vcsInProgress bool
}

func (v *fakeView) emit(name string, ctx *Context) error {
	v.ranGenerator = name
	for _, f := range v.files {
		if err := ctx.ProcessFile(f); err != nil {
			return err
		}
	}
	return nil
}

func (v *fakeView) TimeGenerator(q *Query, ctx *Context) error {
	return v.emit("time", ctx)
}

func (v *fakeView) PathGenerator(q *Query, ctx *Context) error {
	return v.emit("path", ctx)
}

func (v *fakeView) GlobGenerator(q *Query, ctx *Context) error {
	return v.emit("glob", ctx)
}

func (v *fakeView) AllFilesGenerator(q *Query, ctx *Context) error {
	return v.emit("all", ctx)
}

func (v *fakeView) CurrentPosition() clock.Position {
	// Advance on every sample so clock monotonicity is observable.
	v.position.Ticks++
	return v.position
}

func (v *fakeView) GetCurrentClockString() string {
	return v.position.ToClockString()
}

func (v *fakeView) GetLastAgeOutTickValue() uint64        { return 0 }
func (v *fakeView) GetLastAgeOutTimeStamp() time.Time     { return time.Time{} }
func (v *fakeView) AgeOut(time.Duration) error            { return nil }
func (v *fakeView) IsVCSOperationInProgress() bool        { return v.vcsInProgress }

func (v *fakeView) SyncToNow(timeout time.Duration) error {
	v.syncCalls++
	return v.syncErr
}
