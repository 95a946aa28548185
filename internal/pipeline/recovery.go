package pipeline

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/hananf11/echo360/internal/fileutil"
	"github.com/hananf11/echo360/internal/logging"
	"github.com/hananf11/echo360/internal/store"
)

// Recover repairs state left by an unclean shutdown and re-arms work that
// can safely continue. It runs once at startup, before the scheduler
// accepts new submissions from the API.
//
// Audio axis:
//   - queued lectures return to pending; nothing was fetched yet and a
//     fresh enqueue is cheap
//   - downloading lectures whose raw file finished landing are promoted to
//     downloaded and reconverted; a partial or missing raw file is deleted
//     and the lecture moves to the configured missing-raw status
//   - downloaded lectures with an intact raw file are resubmitted for
//     conversion; without one they return to pending
//   - converting lectures return to downloaded and reconvert when the raw
//     file survived, otherwise they move to the missing-raw status
//
// Derived axes roll queued and active work back to pending. Raw files no
// lecture references are deleted.
func (p *Pipeline) Recover(ctx context.Context) error {
	logger := logging.NewComponentLogger(p.logger, "recovery")
	missingStatus := store.AudioPending
	if p.cfg.Recovery.MissingRawStatus == "error" {
		missingStatus = store.AudioError
	}

	active, err := p.store.ActiveAudioLectures(ctx)
	if err != nil {
		return err
	}
	for _, lecture := range active {
		switch lecture.AudioStatus {
		case store.AudioQueued:
			if err := p.store.ForceAudioStatus(ctx, lecture.ID, store.AudioPending, ""); err != nil {
				return err
			}
			logger.Info("reset queued download", logging.Int64(logging.FieldLectureID, lecture.ID))

		case store.AudioDownloading:
			if lecture.RawPath != "" && fileutil.Exists(lecture.RawPath) {
				// The fetch completed but the status write never landed.
				if err := p.store.ForceAudioStatus(ctx, lecture.ID, store.AudioDownloaded, ""); err != nil {
					return err
				}
				if err := p.submitConvert(lecture.ID); err != nil {
					return err
				}
				logger.Info("promoted interrupted download with intact raw file",
					logging.Int64(logging.FieldLectureID, lecture.ID))
				continue
			}
			fileutil.RemoveIfExists(lecture.RawPath)
			if err := p.store.SetLecturePaths(ctx, lecture.ID, "", lecture.OpusPath); err != nil {
				return err
			}
			if err := p.store.ForceAudioStatus(ctx, lecture.ID, missingStatus, "interrupted during download"); err != nil {
				return err
			}
			logger.Info("reset interrupted download",
				logging.Int64(logging.FieldLectureID, lecture.ID),
				logging.String("status", string(missingStatus)))

		case store.AudioConverting:
			if fileutil.Exists(lecture.RawPath) {
				if err := p.store.ForceAudioStatus(ctx, lecture.ID, store.AudioDownloaded, ""); err != nil {
					return err
				}
				if err := p.submitConvert(lecture.ID); err != nil {
					return err
				}
				logger.Info("re-armed interrupted conversion", logging.Int64(logging.FieldLectureID, lecture.ID))
			} else {
				if err := p.store.SetLecturePaths(ctx, lecture.ID, "", lecture.OpusPath); err != nil {
					return err
				}
				if err := p.store.ForceAudioStatus(ctx, lecture.ID, missingStatus, "raw file lost during conversion"); err != nil {
					return err
				}
				logger.Info("reset conversion with missing raw file",
					logging.Int64(logging.FieldLectureID, lecture.ID),
					logging.String("status", string(missingStatus)))
			}
		}
	}

	downloaded, err := p.store.DownloadedLectures(ctx)
	if err != nil {
		return err
	}
	for _, lecture := range downloaded {
		if fileutil.Exists(lecture.RawPath) {
			if err := p.submitConvert(lecture.ID); err != nil {
				return err
			}
			logger.Info("re-armed pending conversion", logging.Int64(logging.FieldLectureID, lecture.ID))
		} else {
			if err := p.store.SetLecturePaths(ctx, lecture.ID, "", lecture.OpusPath); err != nil {
				return err
			}
			if err := p.store.ForceAudioStatus(ctx, lecture.ID, store.AudioPending, "raw file missing"); err != nil {
				return err
			}
			logger.Info("reset downloaded lecture with missing raw file",
				logging.Int64(logging.FieldLectureID, lecture.ID))
		}
	}

	for _, axis := range []store.Axis{store.AxisTranscript, store.AxisNotes, store.AxisFrames} {
		lectures, err := p.store.ActiveDerivedLectures(ctx, axis)
		if err != nil {
			return err
		}
		for _, lecture := range lectures {
			if err := p.store.ForceDerivedStatus(ctx, lecture.ID, axis, store.DerivedPending, ""); err != nil {
				return err
			}
			logger.Info("rolled back interrupted work",
				logging.Int64(logging.FieldLectureID, lecture.ID),
				logging.String("axis", string(axis)))
		}
	}

	return p.purgeOrphanRawFiles(ctx, logger)
}

func (p *Pipeline) purgeOrphanRawFiles(ctx context.Context, logger *slog.Logger) error {
	known, err := p.store.KnownRawPaths(ctx)
	if err != nil {
		return err
	}
	entries, err := os.ReadDir(p.RawDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	purged := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(p.RawDir(), entry.Name())
		if _, ok := known[path]; ok {
			continue
		}
		if err := os.Remove(path); err != nil {
			logger.Warn("failed to purge orphan raw file",
				logging.String("path", path), logging.Error(err))
			continue
		}
		purged++
	}
	if purged > 0 {
		logger.Info("purged orphan raw files", logging.Int("count", purged))
	}
	return nil
}
