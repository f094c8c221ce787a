package registry_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/zjrosen/hotswap/internal/registry"
	"github.com/zjrosen/hotswap/internal/testutil"
)

// registryModel is the reference: name -> tag, path -> name.
type registryModel struct {
	names map[string]string
	paths map[string]string
}

func (m *registryModel) drop(name string) {
	delete(m.names, name)
	for p, n := range m.paths {
		if n == name {
			delete(m.paths, p)
		}
	}
}

func TestRegistry_IndexProperties(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		events := registry.NewEvents()
		defer events.Close()
		reg := registry.New(events)
		model := &registryModel{names: map[string]string{}, paths: map[string]string{}}

		nameGen := rapid.SampledFrom([]string{"a", "b", "c", "d"})
		tagGen := rapid.SampledFrom([]string{"t1", "t2", "t3"})
		pathGen := rapid.SampledFrom([]string{"/s/1", "/s/2", "/s/3"})

		rt.Repeat(map[string]func(*rapid.T){
			"register": func(rt *rapid.T) {
				name, tag := nameGen.Draw(rt, "name"), tagGen.Draw(rt, "tag")
				_, err := reg.Register(testutil.NewPlain(name, tag))
				require.NoError(rt, err)
				model.drop(name)
				model.names[name] = tag
			},
			"replacePath": func(rt *rapid.T) {
				path := pathGen.Draw(rt, "path")
				name, tag := nameGen.Draw(rt, "name"), tagGen.Draw(rt, "tag")
				_, err := reg.ReplacePath(path, testutil.NewPlain(name, tag), "fake")
				require.NoError(rt, err)
				if owner, ok := model.paths[path]; ok {
					model.drop(owner)
				}
				model.drop(name)
				model.names[name] = tag
				model.paths[path] = name
			},
			"unregister": func(rt *rapid.T) {
				name := nameGen.Draw(rt, "name")
				_, existed := model.names[name]
				require.Equal(rt, existed, reg.Unregister(name))
				model.drop(name)
			},
			"unregisterPath": func(rt *rapid.T) {
				path := pathGen.Draw(rt, "path")
				owner, existed := model.paths[path]
				name, ok := reg.UnregisterPath(path)
				require.Equal(rt, existed, ok)
				if existed {
					require.Equal(rt, owner, name)
					model.drop(owner)
				}
			},
			"rename": func(rt *rapid.T) {
				from, to := pathGen.Draw(rt, "from"), pathGen.Draw(rt, "to")
				name, existed := model.paths[from]
				require.Equal(rt, existed, reg.Rename(from, to))
				if !existed || from == to {
					return
				}
				if owner, taken := model.paths[to]; taken && owner != name {
					model.drop(owner)
				}
				delete(model.paths, from)
				model.paths[to] = name
			},
			"": func(rt *rapid.T) {
				// Checked after every step.
				require.Equal(rt, len(model.names), reg.Len())
				for name, tag := range model.names {
					rec, ok := reg.Lookup(name)
					require.True(rt, ok, "missing %s", name)
					require.Equal(rt, tag, rec.TypeTag)
				}
				for path, name := range model.paths {
					got, ok := reg.NameForPath(path)
					require.True(rt, ok, "missing path %s", path)
					require.Equal(rt, name, got)
				}
				for _, tag := range reg.TypeTags() {
					for _, name := range reg.NamesOfType(tag) {
						require.Equal(rt, model.names[name], tag, "%s indexed under %s", name, tag)
					}
				}
				for name, tag := range model.names {
					require.Contains(rt, reg.NamesOfType(tag), name)
				}
			},
		})
	})
}
