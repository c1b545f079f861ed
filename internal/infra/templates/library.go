package templates

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"relayd/internal/domain"
)

// stopwords are intent words that carry no selection signal.
var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {},
	"by": {}, "for": {}, "from": {}, "i": {}, "in": {}, "is": {}, "it": {},
	"me": {}, "my": {}, "of": {}, "on": {}, "or": {}, "that": {}, "the": {},
	"this": {}, "to": {}, "want": {}, "with": {}, "workflow": {},
}

// Library holds the exemplar templates used to ground generation. It layers
// three sources: compiled-in seeds, YAML files from a watched directory, and
// accepted artifacts persisted in the store. Later layers shadow earlier ones
// by id.
type Library struct {
	store  *Store
	logger *zap.Logger

	mu        sync.RWMutex
	seeds     map[string]domain.ExemplarTemplate
	fromDir   map[string]domain.ExemplarTemplate
	fromStore map[string]domain.ExemplarTemplate
}

func NewLibrary(store *Store, logger *zap.Logger) (*Library, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	lib := &Library{
		store:     store,
		logger:    logger.Named("templates"),
		seeds:     make(map[string]domain.ExemplarTemplate),
		fromDir:   make(map[string]domain.ExemplarTemplate),
		fromStore: make(map[string]domain.ExemplarTemplate),
	}
	for _, exemplar := range seedTemplates() {
		lib.seeds[exemplar.ID] = exemplar
	}
	if store != nil {
		persisted, err := store.List()
		if err != nil {
			return nil, fmt.Errorf("load persisted exemplars: %w", err)
		}
		for _, exemplar := range persisted {
			lib.fromStore[exemplar.ID] = exemplar
		}
	}
	return lib, nil
}

// LoadDir replaces the directory layer with the exemplars found in dir.
// A missing directory is not an error; a file that fails to parse is logged
// and skipped so one bad file cannot empty the library.
func (l *Library) LoadDir(dir string) error {
	if strings.TrimSpace(dir) == "" {
		return nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read templates dir: %w", err)
	}

	loaded := make(map[string]domain.ExemplarTemplate)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		exemplar, err := loadTemplateFile(path)
		if err != nil {
			l.logger.Warn("skip template file", zap.String("path", path), zap.Error(err))
			continue
		}
		loaded[exemplar.ID] = exemplar
	}

	l.mu.Lock()
	l.fromDir = loaded
	l.mu.Unlock()
	l.logger.Info("template directory loaded", zap.String("dir", dir), zap.Int("templates", len(loaded)))
	return nil
}

// Watch reloads the directory layer whenever its contents change, until the
// context ends.
func (l *Library) Watch(ctx context.Context, dir string) error {
	if strings.TrimSpace(dir) == "" {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create template watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watch templates dir: %w", err)
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
					continue
				}
				if err := l.LoadDir(dir); err != nil {
					l.logger.Warn("template reload failed", zap.Error(err))
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				l.logger.Warn("template watcher error", zap.Error(err))
			}
		}
	}()
	return nil
}

// Select returns up to limit exemplars scored by tag overlap with the
// intent's keywords. Ties break toward the most recently added exemplar, so
// fresh accepted artifacts win over the static seeds. With no overlap at all
// the first seed serves as a generic fallback.
func (l *Library) Select(intent string, limit int) []domain.ExemplarTemplate {
	if limit <= 0 {
		limit = domain.DefaultTemplateLimit
	}
	keywords := extractKeywords(intent)
	all := l.snapshot()

	type scored struct {
		exemplar domain.ExemplarTemplate
		score    int
	}
	ranked := make([]scored, 0, len(all))
	for _, exemplar := range all {
		score := 0
		for _, tag := range exemplar.Tags {
			if _, ok := keywords[strings.ToLower(tag)]; ok {
				score++
			}
		}
		ranked = append(ranked, scored{exemplar: exemplar, score: score})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		if !ranked[i].exemplar.AddedAt.Equal(ranked[j].exemplar.AddedAt) {
			return ranked[i].exemplar.AddedAt.After(ranked[j].exemplar.AddedAt)
		}
		return ranked[i].exemplar.ID < ranked[j].exemplar.ID
	})

	selected := make([]domain.ExemplarTemplate, 0, limit)
	for _, entry := range ranked {
		if entry.score == 0 && len(selected) > 0 {
			break
		}
		selected = append(selected, entry.exemplar)
		if len(selected) == limit {
			break
		}
	}
	return selected
}

// RecordAccepted stores an accepted workflow as a new exemplar tagged with
// the intent's keywords, making it selectable for similar future intents.
func (l *Library) RecordAccepted(intent string, workflow domain.Workflow) error {
	keywords := extractKeywords(intent)
	tags := make([]string, 0, len(keywords))
	for keyword := range keywords {
		tags = append(tags, keyword)
	}
	sort.Strings(tags)

	exemplar := domain.ExemplarTemplate{
		ID:       "accepted-" + uuid.NewString(),
		Tags:     tags,
		Workflow: workflow,
		AddedAt:  time.Now().UTC(),
	}

	if l.store != nil {
		if err := l.store.Put(exemplar); err != nil {
			return fmt.Errorf("persist accepted exemplar: %w", err)
		}
	}

	l.mu.Lock()
	l.fromStore[exemplar.ID] = exemplar
	l.mu.Unlock()
	l.logger.Info("accepted workflow recorded as exemplar",
		zap.String("id", exemplar.ID),
		zap.Strings("tags", tags))
	return nil
}

// Len reports the number of distinct exemplars across all layers.
func (l *Library) Len() int {
	return len(l.snapshot())
}

func (l *Library) snapshot() []domain.ExemplarTemplate {
	l.mu.RLock()
	defer l.mu.RUnlock()
	merged := make(map[string]domain.ExemplarTemplate, len(l.seeds)+len(l.fromDir)+len(l.fromStore))
	for id, exemplar := range l.seeds {
		merged[id] = exemplar
	}
	for id, exemplar := range l.fromDir {
		merged[id] = exemplar
	}
	for id, exemplar := range l.fromStore {
		merged[id] = exemplar
	}
	all := make([]domain.ExemplarTemplate, 0, len(merged))
	for _, exemplar := range merged {
		all = append(all, exemplar)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	return all
}

type templateFile struct {
	ID       string          `yaml:"id"`
	Tags     []string        `yaml:"tags"`
	Workflow domain.Workflow `yaml:"workflow"`
}

func loadTemplateFile(path string) (domain.ExemplarTemplate, error) {
	payload, err := os.ReadFile(path)
	if err != nil {
		return domain.ExemplarTemplate{}, err
	}
	var file templateFile
	if err := yaml.Unmarshal(payload, &file); err != nil {
		return domain.ExemplarTemplate{}, fmt.Errorf("parse yaml: %w", err)
	}
	if strings.TrimSpace(file.ID) == "" {
		return domain.ExemplarTemplate{}, fmt.Errorf("template id is required")
	}
	if err := file.Workflow.Validate(); err != nil {
		return domain.ExemplarTemplate{}, err
	}
	info, err := os.Stat(path)
	addedAt := time.Now().UTC()
	if err == nil {
		addedAt = info.ModTime().UTC()
	}
	return domain.ExemplarTemplate{
		ID:       file.ID,
		Tags:     file.Tags,
		Workflow: file.Workflow,
		AddedAt:  addedAt,
	}, nil
}

func extractKeywords(intent string) map[string]struct{} {
	keywords := make(map[string]struct{})
	fields := strings.FieldsFunc(strings.ToLower(intent), func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9')
	})
	for _, field := range fields {
		if _, skip := stopwords[field]; skip {
			continue
		}
		if len(field) < 2 {
			continue
		}
		keywords[field] = struct{}{}
	}
	return keywords
}
