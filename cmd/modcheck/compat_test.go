package main

import (
	"os"
	"testing"
)

// chdir stands in for t.Chdir, which needs Go 1.24: it changes the working
// directory and restores the previous one when the test finishes.
func chdir(t testing.TB, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := os.Chdir(prev); err != nil {
			t.Fatal(err)
		}
	})
}
