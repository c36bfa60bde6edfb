package loader

import (
	"bytes"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ha1tch/sqlext/pkg/dataset"
	"github.com/ha1tch/sqlext/pkg/errors"
	"github.com/ha1tch/sqlext/pkg/log"
	"github.com/ha1tch/sqlext/pkg/sdk"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type echo struct{}

func (echo) Execute(_ *sdk.Context, in *dataset.Table, _ sdk.Params) (*dataset.Table, error) {
	return in, nil
}

type fakeEnum map[string][]string

func (f fakeEnum) List(dir, pattern string) ([]string, error) {
	var out []string
	for _, p := range f[dir] {
		if ok, _ := filepath.Match(pattern, filepath.Base(p)); ok {
			out = append(out, p)
		}
	}
	return out, nil
}

type fakeOpener struct {
	modules map[string]sdk.Catalog
	opened  []string
}

func (f *fakeOpener) Open(path string) (Module, error) {
	f.opened = append(f.opened, path)
	cat, ok := f.modules[path]
	if !ok {
		return nil, errors.Newf(errors.ErrCodeModuleLoad, "bad image %s", path).Err()
	}
	return &CatalogModule{Path: path, Catalog: cat}, nil
}

func quietLogger() *log.Logger {
	cfg := log.DefaultConfig()
	cfg.Output = &bytes.Buffer{}
	return log.New(cfg)
}

func TestParseName(t *testing.T) {
	tests := []struct {
		in, module, typ string
	}{
		{"lib.so;Ns.MyType", "lib.so", "Ns.MyType"},
		{"Ns.MyType", "", "Ns.MyType"},
		{" lib.so ; Ns.T ", "lib.so", "Ns.T"},
		{"", "", ""},
	}
	for _, tt := range tests {
		m, typ := ParseName(tt.in)
		assert.Equal(t, tt.module, m, tt.in)
		assert.Equal(t, tt.typ, typ, tt.in)
	}
}

func TestLocateOrdersPrivateFirstAndSkipsPrefixes(t *testing.T) {
	enum := fakeEnum{
		"/priv": {"/priv/a.so", "/priv/gtest_helper.so", "/priv/notes.txt"},
		"/pub":  {"/pub/b.so"},
	}
	l := New(enum, &fakeOpener{}, quietLogger())

	files, err := l.Locate([]string{"/priv", "", "/pub"}, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"/priv/a.so", "/pub/b.so"}, files)

	files, err = l.Locate([]string{"/priv", "/pub"}, "b.so")
	require.NoError(t, err)
	assert.Equal(t, []string{"/pub/b.so"}, files)

	_, err = l.Locate([]string{"/priv", "/pub"}, "missing.so")
	assert.True(t, errors.IsCode(err, errors.ErrCodeNotFound))
}

func TestResolveSkipsNonLoadableSibling(t *testing.T) {
	enum := fakeEnum{
		"/priv": {"/priv/lib.so", "/priv/other.so"},
	}
	opener := &fakeOpener{modules: map[string]sdk.Catalog{
		"/priv/lib.so": {"Ns.MyType": func() sdk.Executor { return echo{} }},
	}}
	l := New(enum, opener, quietLogger())

	f, err := l.Load([]string{"/priv"}, "lib.so;Ns.MyType")
	require.NoError(t, err)
	require.NotNil(t, f)
	assert.Equal(t, []string{"/priv/lib.so"}, opener.opened)

	// Without the module part the broken module is tried and skipped.
	enum["/priv"] = []string{"/priv/broken.so", "/priv/lib.so"}
	opener.opened = nil
	f, err = l.Load([]string{"/priv"}, "Ns.MyType")
	require.NoError(t, err)
	require.NotNil(t, f)
	assert.Equal(t, []string{"/priv/broken.so", "/priv/lib.so"}, opener.opened)
}

func TestResolveNotFound(t *testing.T) {
	opener := &fakeOpener{modules: map[string]sdk.Catalog{
		"/p/a.so": {"Ns.Other": func() sdk.Executor { return echo{} }},
	}}
	l := New(fakeEnum{}, opener, quietLogger())

	_, err := l.Resolve("Ns.MyType", []string{"/p/a.so", "/p/broken.so"})
	assert.True(t, errors.IsCode(err, errors.ErrCodeNotFound))

	_, err = l.Resolve("a.so;", []string{"/p/a.so"})
	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidArgument))
}

func TestResolveIsCaseInsensitive(t *testing.T) {
	opener := &fakeOpener{modules: map[string]sdk.Catalog{
		"/p/a.so": {"Ns.MyType": func() sdk.Executor { return echo{} }},
	}}
	l := New(fakeEnum{}, opener, quietLogger())
	f, err := l.Resolve("ns.mytype", []string{"/p/a.so"})
	require.NoError(t, err)
	assert.NotNil(t, f)
}

func TestLoadUsesCache(t *testing.T) {
	enum := fakeEnum{"/p": {"/p/a.so"}}
	opener := &fakeOpener{modules: map[string]sdk.Catalog{
		"/p/a.so": {"Ns.T": func() sdk.Executor { return echo{} }},
	}}
	l := New(enum, opener, quietLogger())

	for i := 0; i < 3; i++ {
		_, err := l.Load([]string{"/p"}, "Ns.T")
		require.NoError(t, err)
	}
	assert.Len(t, opener.opened, 1)
	st := l.Cache().Stats()
	assert.Equal(t, 1, st.Entries)
	assert.Equal(t, uint64(2), st.Hits)

	// A new file under the path changes the key.
	enum["/p"] = append(enum["/p"], "/p/b.so")
	_, err := l.Load([]string{"/p"}, "Ns.T")
	require.NoError(t, err)
	assert.Len(t, opener.opened, 2)

	l.Cache().Purge()
	assert.Equal(t, 0, l.Cache().Stats().Entries)
}

func TestCacheDeduplicatesConcurrentMisses(t *testing.T) {
	c := NewCache(8)
	var calls int32
	release := make(chan struct{})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f, err := c.Get("Ns.T", []string{"/a.so"}, func() (sdk.Factory, error) {
				atomic.AddInt32(&calls, 1)
				<-release
				return func() sdk.Executor { return echo{} }, nil
			})
			assert.NoError(t, err)
			assert.NotNil(t, f)
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.Equal(t, 1, c.Stats().Entries)
}

func TestCacheBounded(t *testing.T) {
	c := NewCache(2)
	for _, name := range []string{"a", "b", "c"} {
		_, err := c.Get(name, nil, func() (sdk.Factory, error) {
			return func() sdk.Executor { return echo{} }, nil
		})
		require.NoError(t, err)
	}
	assert.Equal(t, 2, c.Stats().Entries)

	off := NewCache(0)
	calls := 0
	for i := 0; i < 2; i++ {
		_, _ = off.Get("a", nil, func() (sdk.Factory, error) {
			calls++
			return nil, errors.NotFound("executor type", "a").Err()
		})
	}
	assert.Equal(t, 2, calls)
}

func TestKeyDistinguishesCandidates(t *testing.T) {
	assert.Equal(t, Key("T", []string{"a", "b"}), Key("T", []string{"a", "b"}))
	assert.NotEqual(t, Key("T", []string{"a", "b"}), Key("T", []string{"ab"}))
	assert.NotEqual(t, Key("T", []string{"a"}), Key("U", []string{"a"}))
}

func TestInstantiate(t *testing.T) {
	exec, err := Instantiate(func() sdk.Executor { return echo{} })
	require.NoError(t, err)
	assert.NotNil(t, exec)

	_, err = Instantiate(nil)
	assert.True(t, errors.IsCode(err, errors.ErrCodeInstantiation))

	_, err = Instantiate(func() sdk.Executor { return nil })
	assert.True(t, errors.IsCode(err, errors.ErrCodeInstantiation))

	_, err = Instantiate(func() sdk.Executor { panic("boom") })
	assert.True(t, errors.IsCode(err, errors.ErrCodeInstantiation))
	assert.Contains(t, err.Error(), "boom")
}

func TestFileEnumerator(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.so", "a.so", "readme.md"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0o644))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub.so"), 0o755))

	files, err := FileEnumerator{}.List(dir, "*.so")
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "a.so"), filepath.Join(dir, "b.so")}, files)

	files, err = FileEnumerator{}.List(filepath.Join(dir, "missing"), "*.so")
	require.NoError(t, err)
	assert.Empty(t, files)

	_, err = FileEnumerator{}.List(dir, "[")
	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidArgument))
}

func TestStaticOpener(t *testing.T) {
	RegisterModule("Samples.so", sdk.Catalog{"Ns.T": func() sdk.Executor { return echo{} }})
	defer UnregisterModule("Samples.so")

	m, err := StaticOpener{}.Open("/any/dir/samples.so")
	require.NoError(t, err)
	f, err := m.Lookup("Ns.T")
	require.NoError(t, err)
	assert.NotNil(t, f)

	_, err = m.Lookup("Ns.Missing")
	assert.True(t, errors.IsCode(err, errors.ErrCodeNotFound))

	_, err = StaticOpener{}.Open("/any/dir/other.so")
	assert.True(t, errors.IsCode(err, errors.ErrCodeModuleLoad))
}

func TestChainFallsThrough(t *testing.T) {
	RegisterModule("chained.so", sdk.Catalog{"Ns.T": func() sdk.Executor { return echo{} }})
	defer UnregisterModule("chained.so")

	o := Chain(&fakeOpener{}, StaticOpener{})
	m, err := o.Open("/x/chained.so")
	require.NoError(t, err)
	assert.NotNil(t, m)

	_, err = Chain().Open("/x/chained.so")
	assert.True(t, errors.IsCode(err, errors.ErrCodeModuleLoad))
}

func TestPluginOpenerRejectsNonPlugin(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bogus.so")
	require.NoError(t, os.WriteFile(path, []byte("not an elf"), 0o644))

	_, err := PluginOpener{}.Open(path)
	assert.True(t, errors.IsCode(err, errors.ErrCodeModuleLoad))
}

func TestWatcherPurgesCache(t *testing.T) {
	dir := t.TempDir()
	l := New(nil, StaticOpener{}, quietLogger())
	_, err := l.Cache().Get("Ns.T", nil, func() (sdk.Factory, error) {
		return func() sdk.Executor { return echo{} }, nil
	})
	require.NoError(t, err)
	require.Equal(t, 1, l.Cache().Stats().Entries)

	changed := make(chan []string, 1)
	w, err := NewWatcher(l, []string{dir},
		WithDebounceDelay(10*time.Millisecond),
		WithOnChange(func(paths []string) { changed <- paths }),
	)
	require.NoError(t, err)
	require.NoError(t, w.Start())
	assert.True(t, w.IsRunning())

	require.NoError(t, os.WriteFile(filepath.Join(dir, "new.so"), []byte("x"), 0o644))

	select {
	case paths := <-changed:
		assert.Contains(t, paths, filepath.Join(dir, "new.so"))
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not report the new module")
	}
	assert.Equal(t, 0, l.Cache().Stats().Entries)

	require.NoError(t, w.Stop())
	assert.False(t, w.IsRunning())
}

func TestWatcherStopWithoutStart(t *testing.T) {
	w, err := NewWatcher(New(nil, nil, quietLogger()), nil)
	require.NoError(t, err)
	require.NoError(t, w.Stop())
}
