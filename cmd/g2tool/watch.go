package main

import (
	"context"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/Faultbox/g2tools/internal/scene"
	"github.com/Faultbox/g2tools/pkg/formats"
)

func watched(name string) bool {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(name)), ".")
	return ext == scene.ExtGLM || ext == scene.ExtGLA
}

func cmdWatch(e *env, args []string) error {
	dir := e.cfg.Paths.BasePath
	if len(args) > 0 {
		dir = args[0]
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	err = filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.Add(p)
		}
		return nil
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	debounce := e.cfg.Watch.Debounce
	tick := max(debounce/2, 10*time.Millisecond)
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	e.log.Info("watching", zap.String("dir", dir), zap.Duration("debounce", debounce))
	pending := newDebouncer(debounce)
	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Has(fsnotify.Create) {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					if err := w.Add(ev.Name); err != nil {
						e.log.Warn("watch directory", zap.String("dir", ev.Name), zap.Error(err))
					}
					continue
				}
			}
			if watched(ev.Name) && (ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create)) {
				pending.touch(ev.Name, time.Now())
			}

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			e.log.Warn("watcher error", zap.Error(err))

		case now := <-ticker.C:
			for _, p := range pending.due(now) {
				e.check(p)
			}
		}
	}
}

// debouncer collects changed paths until they have been quiet for wait.
type debouncer struct {
	wait    time.Duration
	pending map[string]time.Time
}

func newDebouncer(wait time.Duration) *debouncer {
	return &debouncer{wait: wait, pending: make(map[string]time.Time)}
}

// touch records a change to p at t, restarting its quiet period.
func (d *debouncer) touch(p string, t time.Time) {
	d.pending[p] = t
}

// due removes and returns, sorted, the paths quiet since now-wait.
func (d *debouncer) due(now time.Time) []string {
	var out []string
	for p, at := range d.pending {
		if now.Sub(at) >= d.wait {
			delete(d.pending, p)
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out
}

// check decodes a changed file and logs what it found. Models are also
// bound against the skeleton they request. The returned error is the one
// logged, nil when the file is fine.
func (e *env) check(p string) error {
	if abs, err := filepath.Abs(p); err == nil {
		p = abs
	}
	log := e.log.With(zap.String("file", p))
	data, err := e.files.ReadAllBytes(p)
	if err != nil {
		log.Warn("read failed", zap.Error(err))
		return err
	}

	switch sniff(data) {
	case glaType.Extension:
		sk, err := formats.DecodeSkeletonWithLimits(data, e.cfg.Limits())
		if err != nil {
			log.Error("invalid skeleton", zap.Error(err))
			return err
		}
		log.Info("skeleton ok", zap.Int("bones", sk.BoneCount()), zap.Int("frames", sk.FrameCount()))

	case glmType.Extension:
		s := e.scene(e.cfg.Paths.BasePath, nil)
		if err := s.LoadFromGLM(p); err != nil {
			log.Error("invalid model", zap.Error(err))
			return err
		}
		if err := s.LoadFromGLA(e.skeletonFor(s, nil), false); err != nil {
			log.Warn("model ok, skeleton unavailable", zap.Error(err))
			return err
		}
		b, err := s.Bind()
		if err != nil {
			log.Error("model does not bind", zap.Error(err))
			return err
		}
		log.Info("model ok",
			zap.Int("surfaces", len(s.Mesh.Surfaces)),
			zap.Int("lods", s.Mesh.LODCount()),
			zap.Int("renormalised", b.NormalizedCount()))

	default:
		log.Warn("unrecognised file")
		return errUnknownFile
	}
	return nil
}
