package transcode

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/ngoclaw/ngoclaw/wabridge/internal/domain/service"
	apperrors "github.com/ngoclaw/ngoclaw/wabridge/pkg/errors"
)

// Config 转码配置
type Config struct {
	FFmpegPath      string
	FFprobePath     string
	Timeout         time.Duration
	MaxConcurrent   int64
	VoiceBitrate    string
	VoiceSampleRate int
	VoiceChannels   int
	TempDir         string
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		FFmpegPath:      "ffmpeg",
		FFprobePath:     "ffprobe",
		Timeout:         45 * time.Second,
		MaxConcurrent:   2,
		VoiceBitrate:    "64k",
		VoiceSampleRate: 48000,
		VoiceChannels:   1,
	}
}

// FFmpeg implements service.Transcoder with bounded concurrency.
type FFmpeg struct {
	cfg    Config
	runner *Runner
	sem    *semaphore.Weighted
	logger *zap.Logger
}

var _ service.Transcoder = (*FFmpeg)(nil)

// NewFFmpeg 创建 ffmpeg 转码器
func NewFFmpeg(cfg Config, logger *zap.Logger) *FFmpeg {
	def := DefaultConfig()
	if cfg.FFmpegPath == "" {
		cfg.FFmpegPath = def.FFmpegPath
	}
	if cfg.FFprobePath == "" {
		cfg.FFprobePath = def.FFprobePath
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = def.MaxConcurrent
	}
	if cfg.VoiceBitrate == "" {
		cfg.VoiceBitrate = def.VoiceBitrate
	}
	if cfg.VoiceSampleRate <= 0 {
		cfg.VoiceSampleRate = def.VoiceSampleRate
	}
	if cfg.VoiceChannels <= 0 {
		cfg.VoiceChannels = def.VoiceChannels
	}

	logger = logger.With(zap.String("component", "transcoder"))
	allowed := []string{filepath.Base(cfg.FFmpegPath), filepath.Base(cfg.FFprobePath)}
	return &FFmpeg{
		cfg:    cfg,
		runner: NewRunner(cfg.Timeout, allowed, cfg.TempDir, logger),
		sem:    semaphore.NewWeighted(cfg.MaxConcurrent),
		logger: logger,
	}
}

// Transcode converts in to out using a fixed profile. On any failure the
// partial output file is removed.
func (f *FFmpeg) Transcode(ctx context.Context, in, out string, profile service.TranscodeProfile) error {
	args, err := f.profileArgs(profile, in, out)
	if err != nil {
		return apperrors.NewTranscodeError("unknown profile", err)
	}

	if err := f.sem.Acquire(ctx, 1); err != nil {
		return apperrors.NewTranscodeError("waiting for transcoder slot", err)
	}
	defer f.sem.Release(1)

	res, err := f.runner.Execute(ctx, f.cfg.FFmpegPath, args)
	if err == nil && res.ExitCode != 0 {
		err = fmt.Errorf("ffmpeg exited with %d: %s", res.ExitCode, lastLine(res.Stderr))
	}
	if err != nil {
		_ = os.Remove(out)
		return apperrors.NewTranscodeError(string(profile)+" transcode failed", err)
	}

	f.logger.Info("Transcode complete",
		zap.String("profile", string(profile)),
		zap.String("output", filepath.Base(out)),
		zap.Duration("duration", res.Duration),
	)
	return nil
}

// ProbeDuration asks ffprobe for the container duration.
func (f *FFmpeg) ProbeDuration(ctx context.Context, path string) (time.Duration, error) {
	args := []string{
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	}
	res, err := f.runner.Execute(ctx, f.cfg.FFprobePath, args)
	if err != nil {
		return 0, apperrors.NewTranscodeError("ffprobe failed", err)
	}
	if res.ExitCode != 0 {
		return 0, apperrors.NewTranscodeError("ffprobe failed", fmt.Errorf("exit %d: %s", res.ExitCode, lastLine(res.Stderr)))
	}
	secs, err := strconv.ParseFloat(strings.TrimSpace(res.Stdout), 64)
	if err != nil {
		return 0, apperrors.NewTranscodeError("ffprobe returned no duration", err)
	}
	return time.Duration(secs * float64(time.Second)), nil
}

func (f *FFmpeg) profileArgs(profile service.TranscodeProfile, in, out string) ([]string, error) {
	switch profile {
	case service.ProfileAACAudio:
		return []string{"-y", "-i", in, "-c:a", "aac", out}, nil
	case service.ProfileH264Video:
		return []string{
			"-y", "-i", in,
			"-c:v", "libx264", "-preset", "fast", "-crf", "23",
			"-c:a", "aac", "-b:a", "128k",
			"-vf", "format=yuv420p",
			"-movflags", "+faststart",
			out,
		}, nil
	case service.ProfileVoiceNote:
		return []string{
			"-y", "-i", in,
			"-vn",
			"-c:a", "libopus",
			"-b:a", f.cfg.VoiceBitrate,
			"-ar", strconv.Itoa(f.cfg.VoiceSampleRate),
			"-ac", strconv.Itoa(f.cfg.VoiceChannels),
			"-f", "ogg",
			out,
		}, nil
	}
	return nil, fmt.Errorf("profile %q", profile)
}

// Available reports whether the ffmpeg and ffprobe binaries resolve.
func (f *FFmpeg) Available(ctx context.Context) error {
	for _, bin := range []string{f.cfg.FFmpegPath, f.cfg.FFprobePath} {
		res, err := f.runner.Execute(ctx, bin, []string{"-version"})
		if err != nil {
			return err
		}
		if res.ExitCode != 0 {
			return fmt.Errorf("%s -version exited with %d", bin, res.ExitCode)
		}
	}
	return nil
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
