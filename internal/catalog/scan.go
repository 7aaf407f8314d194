package catalog

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"locallm/internal/common/fsutil"
)

// PartSuffix marks files of an interrupted transfer.
const PartSuffix = ".part"

// ModelDir returns the per-model directory under modelsDir.
func ModelDir(modelsDir, name string) string {
	return filepath.Join(modelsDir, name)
}

// Verify inspects the on-disk state of one entry and returns the status a
// filesystem-only observer would assign: downloaded when every expected file
// exists with a plausible size, incomplete when partial files or a strict
// subset remain, not_downloaded when nothing is on disk.
func Verify(modelsDir string, e Entry) Status {
	dir := ModelDir(modelsDir, e.Name)
	if !fsutil.PathExists(dir) {
		return StatusNotDownloaded
	}
	parts, _ := filepath.Glob(filepath.Join(dir, "*"+PartSuffix))
	if len(parts) > 0 {
		return StatusIncomplete
	}
	if len(e.ExpectedFiles) == 0 {
		// Unknown file set: any content counts as downloaded.
		if empty, _ := dirEmpty(dir); empty {
			return StatusNotDownloaded
		}
		return StatusDownloaded
	}
	present := 0
	for _, f := range e.ExpectedFiles {
		fi, err := os.Stat(filepath.Join(dir, f.Name))
		if err != nil || fi.IsDir() {
			continue
		}
		if f.Size > 0 && fi.Size() != f.Size {
			continue
		}
		present++
	}
	switch {
	case present == len(e.ExpectedFiles):
		return StatusDownloaded
	case present == 0:
		return StatusNotDownloaded
	default:
		return StatusIncomplete
	}
}

// Scan reconciles every catalog entry against the filesystem and adopts
// unknown model directories it finds. Called at startup: any in-flight state
// from a previous process (status downloading) is reclassified from disk
// evidence alone, since download jobs do not survive a restart.
func (s *Store) Scan(modelsDir string) error {
	entries, err := s.List()
	if err != nil {
		return err
	}
	known := make(map[string]struct{}, len(entries))
	now := time.Now()
	for _, e := range entries {
		known[e.Name] = struct{}{}
		status := Verify(modelsDir, e)
		if status == e.Status && status != StatusDownloaded {
			continue
		}
		if _, err := s.Upsert(e.Name, func(cur Entry) Entry {
			cur.Status = status
			if status == StatusDownloaded {
				if size, err := fsutil.DirSize(ModelDir(modelsDir, cur.Name)); err == nil {
					cur.SizeBytes = &size
				}
				cur.LastVerifiedAt = now
			}
			return cur
		}); err != nil {
			return err
		}
		if status != e.Status {
			s.log.Info().Str("model", e.Name).
				Str("from", string(e.Status)).Str("to", string(status)).
				Msg("catalog scan reclassified model")
		}
	}

	// Adopt directories the catalog has never heard of.
	dirents, err := os.ReadDir(modelsDir)
	if err != nil {
		return err
	}
	for _, d := range dirents {
		if !d.IsDir() {
			continue
		}
		name := d.Name()
		if _, ok := known[name]; ok {
			continue
		}
		format, ok := detectFormat(filepath.Join(modelsDir, name))
		if !ok {
			continue // not a model directory
		}
		status := Verify(modelsDir, Entry{Name: name})
		if status == StatusNotDownloaded {
			continue
		}
		if _, err := s.Upsert(name, func(cur Entry) Entry {
			cur.Format = format
			cur.Status = status
			if status == StatusDownloaded {
				if size, err := fsutil.DirSize(ModelDir(modelsDir, name)); err == nil {
					cur.SizeBytes = &size
				}
				cur.LastVerifiedAt = now
			}
			return cur
		}); err != nil {
			return err
		}
		s.log.Info().Str("model", name).Str("format", string(format)).Msg("adopted model directory")
	}
	return nil
}

// detectFormat guesses a model format from the files present.
func detectFormat(dir string) (Format, bool) {
	for suffix, format := range map[string]Format{
		".gguf":        FormatGGUF,
		".safetensors": FormatSafetensors,
		".bin":         FormatPytorch,
	} {
		if matches, _ := filepath.Glob(filepath.Join(dir, "*"+suffix)); len(matches) > 0 {
			return format, true
		}
	}
	if fsutil.PathExists(filepath.Join(dir, "config.json")) {
		return FormatPytorch, true
	}
	return "", false
}

func dirEmpty(dir string) (bool, error) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return false, err
	}
	for _, e := range ents {
		if !strings.HasPrefix(e.Name(), ".") {
			return false, nil
		}
	}
	return true, nil
}
