package runner

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// FileAudio is the default Audio. It checks that a sound file exists and
// carries a RIFF header, and plays nothing.
type FileAudio struct {
	// Dir resolves relative paths. Empty means the working directory.
	Dir string
}

var _ Audio = FileAudio{}

func (a FileAudio) Resolve(path string) (string, bool) {
	if !filepath.IsAbs(path) && a.Dir != "" {
		path = filepath.Join(a.Dir, path)
	}
	info, err := os.Stat(path)
	return path, err == nil && !info.IsDir()
}

func (FileAudio) Load(path string) (Sound, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	header := make([]byte, 4)
	if _, err := io.ReadFull(f, header); err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	if !bytes.Equal(header, []byte("RIFF")) {
		return nil, fmt.Errorf("%s is not a wave file", path)
	}
	return path, nil
}

func (FileAudio) Play(Sound) {}

func (FileAudio) StopAll() {}

// loadSound returns the cached sound for a resolved path, loading it on
// first use.
func (r *Runner) loadSound(path string) (Sound, error) {
	if s, ok := r.sounds[path]; ok {
		return s, nil
	}
	s, err := r.opts.audio.Load(path)
	if err != nil {
		return nil, err
	}
	r.sounds[path] = s
	return s, nil
}
