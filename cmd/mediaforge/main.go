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

// Command mediaforge loads env.yaml, builds trickplay tiles and I-frame
// playlists for every video named in the library manifest, and serves
// the generated artifacts over HTTP until interrupted.
package main

import (
	"context"
	"flag"
	"fmt"
	"io/ioutil"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"mediaforge/pkg/artifacts"
	"mediaforge/pkg/httpapi"
	loglib "mediaforge/pkg/log"
	"mediaforge/pkg/mediacore"
	"mediaforge/pkg/mediaenc"
	"mediaforge/pkg/storage"
	"mediaforge/pkg/trickplay"
)

func main() {
	envFlag := flag.String("env", "./configs/env.yaml", "path to env.yaml")
	flag.Parse()

	if err := run(*envFlag); err != nil {
		log.Fatal(fmt.Errorf("mediaforge: %w", err))
	}
}

func run(envPath string) error {
	envYAML, err := ioutil.ReadFile(envPath)
	if err != nil {
		return fmt.Errorf("could not read env.yaml: %w", err)
	}

	env, err := storage.NewConfigEnv(envPath, envYAML)
	if err != nil {
		return fmt.Errorf("could not parse env.yaml: %w", err)
	}
	if err := env.PrepareEnvironment(); err != nil {
		return fmt.Errorf("could not prepare environment: %w", err)
	}

	var wg sync.WaitGroup
	logger, err := loglib.NewLogger(filepath.Join(env.StorageDir, "logs.db"), &wg)
	if err != nil {
		return fmt.Errorf("could not create logger: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	if err := logger.Start(ctx); err != nil {
		cancel()
		return fmt.Errorf("could not start logger: %w", err)
	}
	go logger.LogToStdout(ctx)

	store, err := artifacts.Open(env.ArtifactsDBPath())
	if err != nil {
		cancel()
		return fmt.Errorf("could not open artifacts database: %w", err)
	}
	defer store.Close()

	reg, err := loadRegistry(
		filepath.Join(env.ConfigDir, "videos.yaml"),
		env.ConfigDir,
	)
	if err != nil {
		cancel()
		return fmt.Errorf("could not load library manifest: %w", err)
	}

	apiKey, err := loadOrGenerateAPIKey(filepath.Join(env.ConfigDir, "apikey.txt"))
	if err != nil {
		cancel()
		return fmt.Errorf("could not load api key: %w", err)
	}
	auth, err := httpapi.NewAuthenticator(apiKey)
	if err != nil {
		cancel()
		return fmt.Errorf("could not create authenticator: %w", err)
	}

	encoder := mediaenc.New(env.FFmpegBin, logger)
	paths := storage.NewPathManager(env)
	hub := httpapi.NewProgressHub()

	manager := mediacore.NewManager(store, encoder, encoder, encoder, paths, logger, hub.Hook())

	refreshLibrary(ctx, manager, reg, storage.DefaultTrickplayOptions(), logger)

	server := httpapi.NewServer(store, paths, reg, auth, hub, logger)
	httpServer := &http.Server{Addr: ":" + env.Port, Handler: server.Mux()}

	fatal := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fatal <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err = <-fatal:
	case sig := <-stop:
		logger.Info().Src("main").Msgf("received %v, stopping", sig)
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if shutErr := httpServer.Shutdown(shutdownCtx); shutErr != nil && err == nil {
		err = shutErr
	}

	wg.Wait()
	return err
}

// refreshLibrary runs one refresh sweep over every video in reg at
// startup. There is no persisted "previous save-with-media" value for a
// fresh process, so the current setting is passed as its own previous
// value: a first run never spuriously triggers a root move.
func refreshLibrary(
	ctx context.Context,
	manager *mediacore.Manager,
	reg *registry,
	trickplayDefaults storage.TrickplayOptions,
	logger *loglib.Logger,
) {
	libOpts := reg.opts.Get()
	opts := mediacore.LibraryOptions{
		SaveWithMedia:                   libOpts.SaveWithMedia,
		EnableTrickplayImageExtraction:  libOpts.EnableTrickplayImageExtraction,
		DisableIFramePlaylistGeneration: libOpts.DisableIFramePlaylistGeneration,
		Trickplay:                       toTrickplayOptions(trickplayDefaults),
	}

	for _, video := range reg.videos() {
		if err := manager.Refresh(ctx, video, opts, libOpts.SaveWithMedia, false); err != nil {
			logger.Error().Src("main").Msgf("refresh %s: %v", video.ID, err)
		}
	}
}

func toTrickplayOptions(o storage.TrickplayOptions) trickplay.Options {
	return trickplay.Options{
		IntervalMs:  o.IntervalMs,
		Widths:      o.Widths,
		TileWidth:   o.TileWidth,
		TileHeight:  o.TileHeight,
		JpegQuality: o.JpegQuality,
		HWAccel:     o.HWAccel,
		Threads:     o.Threads,
		Priority:    o.Priority,
		IFramesOnly: o.IFramesOnly,
	}
}

func loadOrGenerateAPIKey(path string) (string, error) {
	if b, err := ioutil.ReadFile(path); err == nil {
		return string(b), nil
	}

	key, err := httpapi.GenerateAPIKey()
	if err != nil {
		return "", err
	}
	if err := ioutil.WriteFile(path, []byte(key), 0o600); err != nil {
		return "", err
	}
	return key, nil
}
