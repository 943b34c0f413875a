// Copyright 2020-2021 The OS-NVR Authors.
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation; version 2.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package ocrmodels

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func testServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/det.onnx", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("detection-model-bytes"))
	})
	mux.HandleFunc("/latin/rec.onnx", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("recognition-model-bytes"))
	})
	mux.HandleFunc("/latin/dict.txt", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("a\nb\nc\n"))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestEnsureDownloadsAndInstallsAtomically(t *testing.T) {
	dir := t.TempDir()
	srv := testServer(t)
	r := New(dir, srv.URL)

	require.False(t, r.HasModels(Latin))

	err := r.Ensure(context.Background(), Latin)
	require.NoError(t, err)
	require.True(t, r.HasModels(Latin))

	p := r.Paths(Latin)
	for _, path := range []string{p.Detection, p.Recognition, p.Dict} {
		_, err := os.Stat(path)
		require.NoError(t, err)
		_, err = os.Stat(path + ".tmp")
		require.True(t, os.IsNotExist(err))
	}
}

func TestEnsureSkipsExistingFiles(t *testing.T) {
	dir := t.TempDir()
	r := New(dir, "http://invalid.invalid")

	p := r.Paths(Latin)
	require.NoError(t, os.MkdirAll(filepath.Dir(p.Recognition), 0o755))
	require.NoError(t, os.WriteFile(p.Detection, []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(p.Recognition, []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(p.Dict, []byte("x"), 0o644))

	require.NoError(t, r.Ensure(context.Background(), Latin))
}

func TestEnsureFailureLeavesNoPartialFiles(t *testing.T) {
	dir := t.TempDir()
	mux := http.NewServeMux()
	mux.HandleFunc("/det.onnx", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	r := New(dir, srv.URL)
	err := r.Ensure(context.Background(), Latin)
	require.Error(t, err)
	require.ErrorIs(t, err, ErrModelUnavailable)

	p := r.Paths(Latin)
	_, err = os.Stat(p.Detection)
	require.True(t, os.IsNotExist(err))
	_, err = os.Stat(p.Detection + ".tmp")
	require.True(t, os.IsNotExist(err))
}

func TestResolveLanguageCodes(t *testing.T) {
	require.Equal(t, Latin, Resolve("en"))
	require.Equal(t, Latin, Resolve("ENG"))
	require.Equal(t, CJK, Resolve("zh"))
	require.Equal(t, Korean, Resolve("ko"))
	require.Equal(t, Cyrillic, Resolve("ru"))
	require.Equal(t, None, Resolve("xx-unknown"))
}

func TestEnsureCommonInstallsLatinAndCJK(t *testing.T) {
	dir := t.TempDir()
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("stub"))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	r := New(dir, srv.URL)
	require.NoError(t, r.EnsureCommon(context.Background()))
	require.True(t, r.HasModels(Latin))
	require.True(t, r.HasModels(CJK))
	require.False(t, r.HasModels(Korean))
}
