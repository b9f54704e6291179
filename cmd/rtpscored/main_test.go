// Copyright 2024 The rtpscore Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func TestCommandsAreAvailable(t *testing.T) {
	root := rootCmd()
	var names []string
	for _, cmd := range root.Commands() {
		names = append(names, cmd.Name())
	}
	expected := []string{"start", "version", "dump-forwarding-table", "validate-config"}
	if len(names) != len(expected) {
		t.Fatalf("expected %d commands, got %d: %v", len(expected), len(names), names)
	}
	for _, name := range expected {
		found := false
		for _, n := range names {
			if n == name {
				found = true
			}
		}
		if !found {
			t.Errorf("missing command %q", name)
		}
	}
}

func TestVersionCommandPrintsVersion(t *testing.T) {
	root := rootCmd()
	root.SetArgs([]string{"version"})
	var out bytes.Buffer
	root.SetOut(&out)
	if err := root.Execute(); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if out.String() != version+"\n" {
		t.Errorf("got %q, want %q", out.String(), version+"\n")
	}
}

func TestValidateConfigRejectsMalformedFile(t *testing.T) {
	root := rootCmd()
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.toml")
	writeFile(t, path, "tcp_port = \"not a number\"\n")

	root.SetArgs([]string{"validate-config", "--config", path})
	var out bytes.Buffer
	root.SetOut(&out)
	if err := root.Execute(); err == nil {
		t.Fatal("expected an error for a malformed config file")
	}
}

func TestValidateConfigAcceptsWellFormedFile(t *testing.T) {
	root := rootCmd()
	dir := t.TempDir()
	path := filepath.Join(dir, "good.toml")
	writeFile(t, path, "domain = 7\nforward = true\n")

	root.SetArgs([]string{"validate-config", "--config", path})
	var out bytes.Buffer
	root.SetOut(&out)
	if err := root.Execute(); err != nil {
		t.Fatalf("execute: %v", err)
	}
}

func writeFile(t *testing.T, path, contents string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
