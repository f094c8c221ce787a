package hcl_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zjrosen/hotswap/internal/backend/hcl"
	"github.com/zjrosen/hotswap/internal/script"
)

func writeFile(t *testing.T, dir, name, src string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(src), 0o644))
	return path
}

func fetch(t *testing.T, inst script.Instance) any {
	t.Helper()
	p, ok := inst.(script.DataProducer)
	require.True(t, ok, "hcl scripts are data producers")
	v, err := p.Data(context.Background())
	require.NoError(t, err)
	return v
}

func TestLoadFile_DataScript(t *testing.T) {
	path := writeFile(t, t.TempDir(), "greeting.hcl", `
script "greeting" {
  type = "data"
  data = {
    message = "hi"
    count   = 2
    tags    = ["a", "b"]
  }
}
`)

	inst, err := hcl.New().LoadFile(context.Background(), path)
	require.NoError(t, err)
	require.Equal(t, "greeting", inst.Name())
	require.Equal(t, "data", inst.TypeTag())
	require.Equal(t, script.CapDataProducing, script.CapabilitiesOf(inst))

	require.Equal(t, map[string]any{
		"message": "hi",
		"count":   float64(2),
		"tags":    []any{"a", "b"},
	}, fetch(t, inst))
}

func TestLoadFile_DataIsFreshPerCall(t *testing.T) {
	inst, err := hcl.New().LoadSource(context.Background(), `script "s" { data = { k = "v" } }`)
	require.NoError(t, err)

	first := fetch(t, inst).(map[string]any)
	first["k"] = "mutated"
	require.Equal(t, map[string]any{"k": "v"}, fetch(t, inst))
}

func TestLoadSource_Defaults(t *testing.T) {
	inst, err := hcl.New().LoadSource(context.Background(), `script "bare" {}`)
	require.NoError(t, err)
	require.Equal(t, hcl.DefaultType, inst.TypeTag())
	require.Nil(t, fetch(t, inst))
}

func TestLoadSource_LocalsAndFunctions(t *testing.T) {
	inst, err := hcl.New().LoadSource(context.Background(), `
locals {
  prefix = "hello"
}

script "fn" {
  data = {
    shout = upper(local.prefix)
    both  = join("-", [local.prefix, "world"])
  }
}
`)
	require.NoError(t, err)
	require.Equal(t, map[string]any{"shout": "HELLO", "both": "hello-world"}, fetch(t, inst))
}

func TestInitialize_SharedLocals(t *testing.T) {
	lib := t.TempDir()
	writeFile(t, lib, "common.hcl", `
locals {
  region = "eu"
  port   = 8080
}
`)

	b := hcl.New()
	require.NoError(t, b.Initialize([]script.Extension{{Name: "common", Path: lib}}))

	inst, err := b.LoadSource(context.Background(), `
locals {
  port = 9090
}

script "svc" {
  data = { region = local.region, port = local.port }
}
`)
	require.NoError(t, err)
	require.Equal(t, map[string]any{"region": "eu", "port": float64(9090)}, fetch(t, inst),
		"file locals override shared ones")
}

func TestInitialize_Errors(t *testing.T) {
	require.Error(t, hcl.New().Initialize([]script.Extension{{Name: "gone", Path: filepath.Join(t.TempDir(), "gone")}}))

	lib := t.TempDir()
	writeFile(t, lib, "broken.hcl", `locals {`)
	require.Error(t, hcl.New().Initialize([]script.Extension{{Name: "broken", Path: lib}}))
}

func TestLoad_ContractViolations(t *testing.T) {
	b := hcl.New()

	_, err := b.LoadSource(context.Background(), `locals { x = 1 }`)
	require.ErrorIs(t, err, script.ErrNotRegistered)

	_, err = b.LoadSource(context.Background(), `
script "a" {}
script "b" {}
`)
	require.ErrorIs(t, err, script.ErrMultipleRegistrations)
}

func TestLoad_Errors(t *testing.T) {
	b := hcl.New()
	dir := t.TempDir()

	_, err := b.LoadFile(context.Background(), writeFile(t, dir, "syntax.hcl", `script "x" {`))
	require.ErrorContains(t, err, "failed to parse HCL file syntax.hcl")

	_, err = b.LoadFile(context.Background(), writeFile(t, dir, "unknown.hcl", `script "x" { data = local.missing }`))
	require.ErrorContains(t, err, `script "x": data`)

	_, err = b.LoadFile(context.Background(), filepath.Join(dir, "absent.hcl"))
	require.ErrorIs(t, err, os.ErrNotExist)
}
