// SPDX-License-Identifier: MIT

// Package settings persists the application's versioned configuration:
// typed defaults, normalisation before every write, atomic persistence
// under an advisory lock, and a migration hook for older files.
package settings

import (
	"regexp"
	"strings"
)

// Version is the current settings schema version.
const Version = 1

// Settings is the full configuration tree. Field defaults apply on load
// for anything the file omits.
type Settings struct {
	Version     int                 `json:"version"`
	General     GeneralSettings     `json:"general"`
	Editor      EditorSettings      `json:"editor"`
	Playback    PlaybackSettings    `json:"playback"`
	Export      ExportSettings      `json:"export"`
	Appearance  AppearanceSettings  `json:"appearance"`
	AutoSave    AutoSaveSettings    `json:"autoSave"`
	Performance PerformanceSettings `json:"performance"`
}

type GeneralSettings struct {
	Language            string `json:"language"`
	RecentProjectsLimit int    `json:"recentProjectsLimit"`
}

type EditorSettings struct {
	DefaultTimelineZoom float64 `json:"defaultTimelineZoom"`
	SnapTolerance       int     `json:"snapTolerance"`
	RippleEditDefault   bool    `json:"rippleEditDefault"`
}

type PlaybackSettings struct {
	DefaultVolume  float64 `json:"defaultVolume"`
	PreviewQuality string  `json:"previewQuality"`
}

type ExportSettings struct {
	DefaultFormat     string `json:"defaultFormat"`
	DefaultVideoCodec string `json:"defaultVideoCodec"`
	DefaultAudioCodec string `json:"defaultAudioCodec"`
}

type AppearanceSettings struct {
	Theme       string  `json:"theme"`
	UIScale     float64 `json:"uiScale"`
	AccentColor string  `json:"accentColor"`
}

type AutoSaveSettings struct {
	Enabled         bool `json:"enabled"`
	IntervalSeconds int  `json:"intervalSeconds"`
	BackupCount     int  `json:"backupCount"`
}

type PerformanceSettings struct {
	ProxyResolution   string `json:"proxyResolution"`
	MaxConcurrentJobs int    `json:"maxConcurrentJobs"`
	MemoryLimitMB     int    `json:"memoryLimitMb"`
	CacheSizeMB       int    `json:"cacheSizeMb"`
}

// Default returns the canonical defaults.
func Default() Settings {
	return Settings{
		Version: Version,
		General: GeneralSettings{
			Language:            "en",
			RecentProjectsLimit: 10,
		},
		Editor: EditorSettings{
			DefaultTimelineZoom: 1.0,
			SnapTolerance:       10,
			RippleEditDefault:   false,
		},
		Playback: PlaybackSettings{
			DefaultVolume:  0.8,
			PreviewQuality: "auto",
		},
		Export: ExportSettings{
			DefaultFormat:     "mp4",
			DefaultVideoCodec: "h264",
			DefaultAudioCodec: "aac",
		},
		Appearance: AppearanceSettings{
			Theme:       "dark",
			UIScale:     1.0,
			AccentColor: "#7c3aed",
		},
		AutoSave: AutoSaveSettings{
			Enabled:         true,
			IntervalSeconds: 120,
			BackupCount:     5,
		},
		Performance: PerformanceSettings{
			ProxyResolution:   "half",
			MaxConcurrentJobs: 4,
			MemoryLimitMB:     4096,
			CacheSizeMB:       2048,
		},
	}
}

var (
	previewQualities = []string{"auto", "full", "half", "quarter"}
	exportFormats    = []string{"mp4", "mov", "webm"}
	videoCodecs      = []string{"h264", "h265", "vp9", "prores"}
	audioCodecs      = []string{"aac", "opus", "pcm"}
	themes           = []string{"dark", "light", "system"}
	proxyResolutions = []string{"full", "half", "quarter"}

	hexColor = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)
)

// Normalize clamps numeric ranges, lowercases enumerated strings and
// replaces invalid values with defaults. Applied after every load and
// before every write so the persisted form is canonical; it is
// idempotent.
func (s *Settings) Normalize() {
	def := Default()
	s.Version = Version

	if strings.TrimSpace(s.General.Language) == "" {
		s.General.Language = def.General.Language
	}
	s.General.RecentProjectsLimit = clampInt(s.General.RecentProjectsLimit, 1, 50)

	s.Editor.DefaultTimelineZoom = clampFloat(s.Editor.DefaultTimelineZoom, 0.1, 10.0)
	s.Editor.SnapTolerance = clampInt(s.Editor.SnapTolerance, 0, 200)

	s.Playback.DefaultVolume = clampFloat(s.Playback.DefaultVolume, 0.0, 1.0)
	s.Playback.PreviewQuality = normalizeEnum(s.Playback.PreviewQuality, previewQualities, def.Playback.PreviewQuality)

	s.Export.DefaultFormat = normalizeEnum(s.Export.DefaultFormat, exportFormats, def.Export.DefaultFormat)
	s.Export.DefaultVideoCodec = normalizeEnum(s.Export.DefaultVideoCodec, videoCodecs, def.Export.DefaultVideoCodec)
	s.Export.DefaultAudioCodec = normalizeEnum(s.Export.DefaultAudioCodec, audioCodecs, def.Export.DefaultAudioCodec)

	s.Appearance.Theme = normalizeEnum(s.Appearance.Theme, themes, def.Appearance.Theme)
	s.Appearance.UIScale = clampFloat(s.Appearance.UIScale, 0.8, 1.5)
	if !hexColor.MatchString(s.Appearance.AccentColor) {
		s.Appearance.AccentColor = def.Appearance.AccentColor
	}

	s.AutoSave.IntervalSeconds = clampInt(s.AutoSave.IntervalSeconds, 30, 3600)
	s.AutoSave.BackupCount = clampInt(s.AutoSave.BackupCount, 1, 20)

	s.Performance.ProxyResolution = normalizeEnum(s.Performance.ProxyResolution, proxyResolutions, def.Performance.ProxyResolution)
	s.Performance.MaxConcurrentJobs = clampInt(s.Performance.MaxConcurrentJobs, 1, 32)
	s.Performance.MemoryLimitMB = clampInt(s.Performance.MemoryLimitMB, 256, 65536)
	s.Performance.CacheSizeMB = clampInt(s.Performance.CacheSizeMB, 128, 16384)
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampFloat(v, lo, hi float64) float64 {
	if v != v { // NaN
		return lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func normalizeEnum(value string, allowed []string, fallback string) string {
	lower := strings.ToLower(strings.TrimSpace(value))
	for _, a := range allowed {
		if lower == a {
			return a
		}
	}
	return fallback
}
