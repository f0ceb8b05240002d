package main

import (
	"fmt"

	"github.com/mikeyg42/camrecorder/internal/config"
	"github.com/mikeyg42/camrecorder/internal/recorder/chunker"
	"github.com/mikeyg42/camrecorder/internal/recorder/device"
	"github.com/mikeyg42/camrecorder/internal/recorder/grab/cvgrab"
	"github.com/mikeyg42/camrecorder/internal/recorder/grab/rtpgrab"
	"github.com/mikeyg42/camrecorder/internal/recorder/media"
	"github.com/mikeyg42/camrecorder/internal/recorder/record"
	"github.com/mikeyg42/camrecorder/internal/recorder/recorderlog"
	"github.com/mikeyg42/camrecorder/internal/recorder/sampler"
	"github.com/mikeyg42/camrecorder/internal/video"
)

func newProbeFactory(ffprobe string) *sampler.ExtensionProbeFactory {
	probes := sampler.NewExtensionProbeFactory(func(path string) sampler.Probe {
		return sampler.NewFFprobe(path, ffprobe)
	})
	probes.Register("webm", func(path string) sampler.Probe { return video.NewWebMProbe(path) })
	return probes
}

// newChannel reads audio from the video stream unless a separate audio
// source is configured.
func newChannel(dc config.DeviceConfig) (*media.Channel, error) {
	transport := media.ParseTransport(dc.Transport)
	if dc.AudioSource == "" {
		src, err := media.NewRTSP(media.VideoAndAudio, dc.Source)
		if err != nil {
			return nil, err
		}
		return media.NewChannel(src, src, transport)
	}
	v, err := media.NewRTSP(media.Video, dc.Source)
	if err != nil {
		return nil, err
	}
	a, err := media.NewRTSP(media.Audio, dc.AudioSource)
	if err != nil {
		return nil, err
	}
	return media.NewChannel(v, a, transport)
}

func newEngineFactory(rc config.RecordingConfig, dc config.DeviceConfig, logger recorderlog.Logger) device.EngineFactory {
	return func(ch *media.Channel, dir string) (sampler.Engine, error) {
		ccfg := chunker.Config{
			ChunkDuration:    rc.ChunkDuration.Microseconds(),
			ProbeUnits:       rc.ProbeUnits,
			ProbeImageUnits:  rc.ProbeImageUnits,
			ReconnectRetries: rc.ReconnectRetries,
			Logger:           logger,
		}
		var supplier chunker.GrabberSupplier
		if dc.Passthrough {
			ccfg.Packets = video.WebMFactory{}
			supplier = func() (chunker.Grabber, error) {
				g, err := rtpgrab.New(rtpgrab.Config{
					Addr:   dc.RTPListen,
					FPS:    float64(rc.TargetFPS),
					Logger: logger,
				})
				if err != nil {
					return nil, err
				}
				return g, nil
			}
		} else {
			ccfg.Frames = cvgrab.AVIFactory{FPS: float64(rc.TargetFPS)}
			supplier = func() (chunker.Grabber, error) {
				g, err := cvgrab.New(cvgrab.Config{
					Source:        ch.PrimaryURI(),
					RTSPTransport: ch.Transport().String(),
					Logger:        logger,
				})
				if err != nil {
					return nil, err
				}
				reduced, err := chunker.NewFpsReductionGrabber(g, rc.TargetFPS)
				if err != nil {
					return nil, err
				}
				return reduced, nil
			}
		}
		return sampler.NewStreamingEngine(ch, sampler.EngineConfig{
			TempDir:  dir,
			Supplier: supplier,
			Chunker:  ccfg,
			Device:   dc.Name,
			Logger:   logger,
		})
	}
}

// analyzers holds the shared file analyzers used by triggers.
type analyzers struct {
	motion record.MotionAnalyzer
	sound  record.SoundAnalyzer
}

// newTriggerFactory builds triggers from the reason table of dc. Reasons
// without an entry record everything.
func newTriggerFactory(dc config.DeviceConfig, an analyzers) device.TriggerFactory {
	byReason := make(map[device.Reason][]config.TriggerConfig, len(dc.Reasons))
	for _, rc := range dc.Reasons {
		byReason[device.ParseReason(rc.Reason)] = rc.Triggers
	}
	return func(reason device.Reason) ([]record.Trigger, error) {
		tcs, ok := byReason[reason]
		if !ok || len(tcs) == 0 {
			return device.AlwaysTriggers(reason)
		}
		triggers := make([]record.Trigger, 0, len(tcs))
		for _, tc := range tcs {
			t, err := buildTrigger(tc, an)
			if err != nil {
				return nil, fmt.Errorf("%s trigger for %s: %w", tc.Type, reason, err)
			}
			triggers = append(triggers, t)
		}
		return triggers, nil
	}
}

func buildTrigger(tc config.TriggerConfig, an analyzers) (record.Trigger, error) {
	switch tc.Type {
	case "always":
		return record.NewAlwaysTrue(tc.Before, tc.After)
	case "motion":
		if an.motion == nil {
			return nil, fmt.Errorf("no motion analyzer")
		}
		return record.NewMotionDetector(tc.Before, tc.After, tc.MinPercent, tc.MaxPercent, an.motion)
	case "sound":
		if an.sound == nil {
			return nil, fmt.Errorf("no sound analyzer")
		}
		if tc.Threshold == nil {
			return nil, fmt.Errorf("no threshold")
		}
		return record.NewSoundDetector(tc.Before, tc.After, *tc.Threshold, an.sound)
	default:
		return nil, fmt.Errorf("unknown trigger type %q", tc.Type)
	}
}
