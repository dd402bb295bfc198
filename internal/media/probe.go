// SPDX-License-Identifier: MIT

package media

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"gopkg.in/vansante/go-ffprobe.v2"
)

const probeTimeout = 60 * time.Second

// Probe extracts stream metadata via the ffprobe binary. Transient
// failures (a file still being copied in, a slow network mount) are
// retried briefly before giving up.
func Probe(ctx context.Context, path string) (Info, error) {
	var data *ffprobe.ProbeData

	operation := func() error {
		probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
		defer cancel()
		var err error
		data, err = ffprobe.ProbeURL(probeCtx, path, "-loglevel", "error")
		return err
	}

	backOff := backoff.NewExponentialBackOff()
	backOff.InitialInterval = 500 * time.Millisecond
	backOff.MaxInterval = 2 * time.Second
	backOff.MaxElapsedTime = 0
	if err := backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(backOff, 3), ctx)); err != nil {
		return Info{}, fmt.Errorf("probe %s: %w", path, err)
	}

	return parseProbeData(data)
}

func parseProbeData(data *ffprobe.ProbeData) (Info, error) {
	if data == nil || data.Format == nil {
		return Info{}, fmt.Errorf("probe returned no format data")
	}

	info := Info{
		DurationSec: data.Format.DurationSeconds,
		FormatName:  data.Format.FormatName,
	}
	if size, err := strconv.ParseInt(data.Format.Size, 10, 64); err == nil {
		info.SizeBytes = size
	}

	if vs := data.FirstVideoStream(); vs != nil {
		info.HasVideo = true
		info.Width = vs.Width
		info.Height = vs.Height
		info.VideoCodec = vs.CodecName
		info.PixelFormat = vs.PixFmt
		info.FPSNum, info.FPSDen = parseFrameRate(vs.AvgFrameRate)
		if info.FPSNum == 0 {
			info.FPSNum, info.FPSDen = parseFrameRate(vs.RFrameRate)
		}
		if br, err := strconv.ParseInt(vs.BitRate, 10, 64); err == nil {
			info.VideoBitrate = br
		}
	}

	if as := data.FirstAudioStream(); as != nil {
		info.HasAudio = true
		info.AudioCodec = as.CodecName
		info.Channels = as.Channels
		if sr, err := strconv.Atoi(as.SampleRate); err == nil {
			info.SampleRate = sr
		}
		if br, err := strconv.ParseInt(as.BitRate, 10, 64); err == nil {
			info.AudioBitrate = br
		}
	}

	if !info.HasVideo && !info.HasAudio {
		return Info{}, fmt.Errorf("no audio or video streams found")
	}
	return info, nil
}

// parseFrameRate turns ffprobe's "30000/1001" form into a rational.
func parseFrameRate(s string) (num, den int) {
	if s == "" || s == "0/0" {
		return 0, 1
	}
	parts := strings.SplitN(s, "/", 2)
	n, err := strconv.Atoi(parts[0])
	if err != nil || n <= 0 {
		return 0, 1
	}
	d := 1
	if len(parts) == 2 {
		if v, err := strconv.Atoi(parts[1]); err == nil && v > 0 {
			d = v
		}
	}
	return n, d
}
