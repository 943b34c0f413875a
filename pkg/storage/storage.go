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

// Package storage loads the environment and per-library configuration and
// resolves the on-disk artifact roots trickplay and I-frame generation
// write to.
package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"gopkg.in/yaml.v2"

	"mediaforge/pkg/log"
	"mediaforge/pkg/videoref"
)

// Manager reports and enforces disk usage limits for the artifact trees.
type Manager struct {
	path    string
	general *ConfigGeneral

	usage     func(string) int64
	removeAll func(string) error

	log *log.Logger
}

// NewManager returns new manager.
func NewManager(path string, general *ConfigGeneral, log *log.Logger) *Manager {
	return &Manager{
		path:    path,
		general: general,

		usage:     diskUsage,
		removeAll: os.RemoveAll,

		log: log,
	}
}

// DiskUsage in Bytes
type DiskUsage struct {
	Used      int
	Percent   int
	Max       int
	Formatted string
}

const kilobyte float64 = 1000
const megabyte = kilobyte * 1000
const gigabyte = megabyte * 1000
const terabyte = gigabyte * 1000

func formatDiskUsage(used float64) string {
	switch {
	case used < 1000*megabyte:
		return fmt.Sprintf("%.0fMB", used/megabyte)
	case used < 10*gigabyte:
		return fmt.Sprintf("%.2fGB", used/gigabyte)
	case used < 100*gigabyte:
		return fmt.Sprintf("%.1fGB", used/gigabyte)
	case used < 1000*gigabyte:
		return fmt.Sprintf("%.0fGB", used/gigabyte)
	case used < 10*terabyte:
		return fmt.Sprintf("%.2fTB", used/terabyte)
	case used < 100*terabyte:
		return fmt.Sprintf("%.1fTB", used/terabyte)
	default:
		return fmt.Sprintf("%.0fTB", used/terabyte)
	}
}

func diskUsage(path string) int64 {
	var used int64
	filepath.Walk(path+"/", func(_ string, info os.FileInfo, err error) error { //nolint:errcheck
		if info != nil && !info.IsDir() {
			used += info.Size()
		}
		return nil
	})
	return used
}

// Usage return DiskUsage.
func (s *Manager) Usage() (DiskUsage, error) {
	used := s.usage(s.path)

	diskSpace := s.general.Get().DiskSpace
	if diskSpace == "0" || diskSpace == "" {
		return DiskUsage{
			Used:      int(used),
			Formatted: formatDiskUsage(float64(used)),
		}, nil
	}

	diskSpaceGB, err := strconv.ParseFloat(diskSpace, 64)
	if err != nil {
		return DiskUsage{}, err
	}
	diskSpaceByte := diskSpaceGB * gigabyte

	var usedPercent int64
	if used != 0 {
		usedPercent = (used * 100) / int64(diskSpaceByte)
	}

	return DiskUsage{
		Used:      int(used),
		Percent:   int(usedPercent),
		Max:       int(diskSpaceGB),
		Formatted: formatDiskUsage(float64(used)),
	}, nil
}

// PruneOrphans removes sub-directories of root not present in kept. Used by
// trickplay.Build after every refresh to enforce "no directory under
// <root> is unaccounted for by a persisted TrickplayInfo row".
func PruneOrphans(root string, kept map[string]bool, logger *log.Logger) error {
	entries, err := ioutil.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("could not read %v: %w", root, err)
	}

	for _, entry := range entries {
		if !entry.IsDir() || kept[entry.Name()] {
			continue
		}
		dir := filepath.Join(root, entry.Name())
		if err := os.RemoveAll(dir); err != nil {
			if logger != nil {
				logger.Error().Src("storage").Msgf("could not prune %v: %v", dir, err)
			}
			continue
		}
	}
	return nil
}

// PurgeLoop runs a disk-space check on an interval until context is
// canceled, calling purge whenever usage is at or above 99%.
func (s *Manager) PurgeLoop(ctx context.Context, duration time.Duration, purge func() error) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(duration):
			usage, err := s.Usage()
			if err != nil {
				s.log.Error().Msgf("failed to read disk usage: %v", err)
				continue
			}
			if usage.Percent < 99 {
				continue
			}
			if err := purge(); err != nil {
				s.log.Error().Msgf("failed to purge storage: %v", err)
			}
		}
	}
}

// ConfigEnv stores system configuration loaded from env.yaml.
type ConfigEnv struct {
	Port      string `yaml:"port"`
	FFmpegBin string `yaml:"ffmpegBin"`

	StorageDir   string `yaml:"storageDir"`
	HomeDir      string `yaml:"homeDir"`
	WebDir       string `yaml:"webDir"`
	ConfigDir    string
	ModelBaseURL string `yaml:"modelBaseURL"`
}

// NewConfigEnv return new environment configuration.
func NewConfigEnv(envPath string, envYAML []byte) (*ConfigEnv, error) {
	var env ConfigEnv

	if err := yaml.Unmarshal(envYAML, &env); err != nil {
		return &ConfigEnv{}, fmt.Errorf("could not unmarshal env.yaml: %v", err)
	}

	env.ConfigDir = filepath.Dir(envPath)

	if env.Port == "" {
		env.Port = "2020"
	}
	if env.FFmpegBin == "" {
		env.FFmpegBin = "/usr/bin/ffmpeg"
	}
	if env.HomeDir == "" {
		env.HomeDir = filepath.Dir(env.ConfigDir)
	}
	if env.StorageDir == "" {
		env.StorageDir = env.HomeDir + "/storage"
	}
	if env.WebDir == "" {
		env.WebDir = env.HomeDir + "/web"
	}
	if env.ModelBaseURL == "" {
		env.ModelBaseURL = "https://models.invalid/ocr"
	}

	if !dirExist(env.FFmpegBin) {
		return nil, fmt.Errorf("ffmpegBin '%v' does not exist", env.FFmpegBin)
	}

	if !filepath.IsAbs(env.FFmpegBin) {
		return nil, fmt.Errorf("ffmpegBin '%v' is not a absolute path", env.FFmpegBin)
	}
	if !filepath.IsAbs(env.HomeDir) {
		return nil, fmt.Errorf("homeDir '%v' is not a absolute path", env.HomeDir)
	}
	if !filepath.IsAbs(env.StorageDir) {
		return nil, fmt.Errorf("StorageDir '%v' is not a absolute path", env.StorageDir)
	}
	if !filepath.IsAbs(env.WebDir) {
		return nil, fmt.Errorf("webDir '%v' is not a absolute path", env.WebDir)
	}

	return &env, nil
}

// ArtifactsDBPath returns the path to the bbolt database holding
// trickplay and I-frame playlist rows.
func (env *ConfigEnv) ArtifactsDBPath() string {
	return filepath.Join(env.StorageDir, "artifacts.db")
}

// PrepareEnvironment prepares directories.
func (env *ConfigEnv) PrepareEnvironment() error {
	if err := os.MkdirAll(env.StorageDir, 0700); err != nil && err != os.ErrExist {
		return fmt.Errorf("could not create storage directory: %v: %v", env.StorageDir, err)
	}
	return nil
}

// TrickplayOptions are the ffmpeg/tiling parameters used when building
// trickplay image sets, loaded once at startup from env.yaml.
type TrickplayOptions struct {
	IntervalMs  int      `yaml:"intervalMs"`
	Widths      []int    `yaml:"widths"`
	TileWidth   int      `yaml:"tileWidth"`
	TileHeight  int      `yaml:"tileHeight"`
	JpegQuality int      `yaml:"jpegQuality"`
	HWAccel     []string `yaml:"hwAccel"`
	Threads     int      `yaml:"threads"`
	Priority    string   `yaml:"priority"`
	IFramesOnly bool     `yaml:"iframesOnly"`
}

// DefaultTrickplayOptions mirrors Jellyfin's defaults: a ten second
// interval, two widths, a 10x10 grid.
func DefaultTrickplayOptions() TrickplayOptions {
	return TrickplayOptions{
		IntervalMs:  10000,
		Widths:      []int{320, 160},
		TileWidth:   10,
		TileHeight:  10,
		JpegQuality: 4,
	}
}

// ModelRegistryOptions configures where OCR recognition models are
// downloaded from.
type ModelRegistryOptions struct {
	BaseURL string `yaml:"baseURL"`
}

// LibraryOptions are the per-library feature toggles persisted alongside
// each library root.
type LibraryOptions struct {
	SaveWithMedia                   bool `yaml:"saveWithMedia"`
	EnableTrickplayImageExtraction  bool `yaml:"enableTrickplayImageExtraction"`
	DisableIFramePlaylistGeneration bool `yaml:"disableIFramePlaylistGeneration"`
}

// ConfigLibrary stores one library's options and the path they were
// loaded from, guarding concurrent Get/Set the way ConfigGeneral does.
type ConfigLibrary struct {
	Options LibraryOptions

	path string
	mu   sync.Mutex
}

// NewConfigLibrary loads library.yaml from dir, generating a default one
// if absent.
func NewConfigLibrary(dir string) (*ConfigLibrary, error) {
	path := filepath.Join(dir, "library.yaml")

	if !dirExist(path) {
		if err := generateLibraryConfig(path); err != nil {
			return nil, fmt.Errorf("could not generate library config: %v", err)
		}
	}

	file, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var opts LibraryOptions
	if err := yaml.Unmarshal(file, &opts); err != nil {
		return nil, fmt.Errorf("could not unmarshal library.yaml: %v", err)
	}

	return &ConfigLibrary{Options: opts, path: path}, nil
}

func generateLibraryConfig(path string) error {
	opts := LibraryOptions{EnableTrickplayImageExtraction: true}
	c, err := yaml.Marshal(opts)
	if err != nil {
		return err
	}
	return ioutil.WriteFile(path, c, 0600)
}

// Get returns the library's options.
func (c *ConfigLibrary) Get() LibraryOptions {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Options
}

// Set updates and persists the library's options, returning the previous
// value so the coordinator can detect a SaveWithMedia toggle.
func (c *ConfigLibrary) Set(newOpts LibraryOptions) (LibraryOptions, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	previous := c.Options

	out, err := yaml.Marshal(newOpts)
	if err != nil {
		return previous, err
	}
	if err := ioutil.WriteFile(c.path, out, 0600); err != nil {
		return previous, err
	}

	c.Options = newOpts
	return previous, nil
}

// GeneralConfig stores general config values.
type GeneralConfig struct {
	DiskSpace string `json:"diskSpace"`
	Theme     string `json:"theme"`
}

// ConfigGeneral stores config and path.
type ConfigGeneral struct {
	Config GeneralConfig

	path string
	mu   sync.Mutex
}

// NewConfigGeneral return new environment configuration.
func NewConfigGeneral(path string) (*ConfigGeneral, error) {
	var general ConfigGeneral
	general.Config.Theme = "default"

	configPath := path + "/general.json"

	if !dirExist(configPath) {
		if err := generateGeneralConfig(configPath); err != nil {
			return &ConfigGeneral{}, fmt.Errorf("could not generate environment config: %v", err)
		}
	}

	file, err := ioutil.ReadFile(configPath)
	if err != nil {
		return &ConfigGeneral{}, err
	}

	err = json.Unmarshal(file, &general.Config)
	if err != nil {
		return &ConfigGeneral{}, err
	}

	general.path = configPath
	return &general, nil
}

func generateGeneralConfig(path string) error {
	config := GeneralConfig{
		DiskSpace: "10000",
		Theme:     "default",
	}
	c, _ := json.MarshalIndent(config, "", "    ")

	return ioutil.WriteFile(path, c, 0600)
}

// Get returns general config.
func (general *ConfigGeneral) Get() GeneralConfig {
	defer general.mu.Unlock()
	general.mu.Lock()
	return general.Config
}

// Set sets config value and saves file.
func (general *ConfigGeneral) Set(newConfig GeneralConfig) error {
	general.mu.Lock()

	config, _ := json.MarshalIndent(newConfig, "", "    ")

	if err := ioutil.WriteFile(general.path, config, 0600); err != nil {
		return err
	}

	general.Config = newConfig

	general.mu.Unlock()
	return nil
}

// PathManager resolves the two artifact roots for a video: one beside
// the source media, one under the server's storage directory. It
// satisfies both trickplay.PathManager and iframeplaylist.PathManager.
type PathManager struct {
	ServerRoot string
}

// NewPathManager returns a PathManager rooted at env's storage directory.
func NewPathManager(env *ConfigEnv) *PathManager {
	return &PathManager{ServerRoot: filepath.Join(env.StorageDir, "artifacts")}
}

// GetTrickplayDir returns <root>/<id>/trickplay.
func (p *PathManager) GetTrickplayDir(video videoref.VideoRef, saveWithMedia bool) string {
	return filepath.Join(p.itemRoot(video, saveWithMedia), "trickplay")
}

// GetIFrameDir returns <root>/<id>/iframe.
func (p *PathManager) GetIFrameDir(video videoref.VideoRef, saveWithMedia bool) string {
	return filepath.Join(p.itemRoot(video, saveWithMedia), "iframe")
}

func (p *PathManager) itemRoot(video videoref.VideoRef, saveWithMedia bool) string {
	if saveWithMedia {
		return filepath.Join(filepath.Dir(video.Path), ".mediaforge", video.ID)
	}
	return filepath.Join(p.ServerRoot, video.ID)
}

func dirExist(path string) bool {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return false
		}
		return false
	}
	return true
}
