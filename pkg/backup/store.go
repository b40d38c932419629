package backup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/rosiehq/rosie/pkg/engine"
)

const (
	stagingDir     = ".staging"
	manifestFile   = "manifest.json"
	metadataFile   = "metadata.json"
	attachmentsDir = "attachments"
	maxCommitSlots = 100
)

// ErrBackupExists is returned when every commit slot for a resource and date is taken.
var ErrBackupExists = errors.New("backup already exists")

// fileSystem is the subset of file operations both backends provide.
// Paths are slash separated and rooted at the store root.
type fileSystem interface {
	MkdirAll(p string) error
	Create(p string) (io.WriteCloser, error)
	Open(p string) (io.ReadCloser, error)
	Rename(oldPath, newPath string) error
	RemoveAll(p string) error
	ReadDir(p string) ([]os.FileInfo, error)
	Stat(p string) (os.FileInfo, error)
}

// Store writes immutable backups of retired resources. Backups are staged
// under a private directory and become visible only when committed.
//
// Layout: <root>/<kind>/<escaped name>/<date>[.<n>]/{manifest.json,metadata.json,attachments/*}
type Store struct {
	fs     fileSystem
	root   string
	scheme string
	host   string
	closer io.Closer
	logger zerolog.Logger
	now    func() time.Time
}

var _ engine.BackupStore = (*Store)(nil)

func newStore(fs fileSystem, root, scheme, host string, closer io.Closer, logger zerolog.Logger) (*Store, error) {
	s := &Store{
		fs:     fs,
		root:   root,
		scheme: scheme,
		host:   host,
		closer: closer,
		logger: logger.With().Str("component", "backup").Str("backend", scheme).Logger(),
		now:    time.Now,
	}
	if err := fs.MkdirAll(s.join(stagingDir)); err != nil {
		return nil, fmt.Errorf("failed to create backup staging area: %w", err)
	}
	return s, nil
}

// Close releases the backend connection, if any.
func (s *Store) Close() error {
	if s.closer != nil {
		return s.closer.Close()
	}
	return nil
}

func (s *Store) join(elem ...string) string {
	return path.Join(append([]string{s.root}, elem...)...)
}

// Key returns the key of a backup relative to the store root.
func Key(kind engine.Kind, name string, date time.Time) string {
	return path.Join(string(kind), url.PathEscape(name), date.UTC().Format(engine.DateLayout))
}

func (s *Store) uri(key string) string {
	p := s.join(key)
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return s.scheme + "://" + s.host + p
}

// Stage writes the description and its attachments into the staging area.
func (s *Store) Stage(ctx context.Context, desc *engine.Description, date time.Time) (engine.StagedBackup, error) {
	if desc == nil {
		return nil, fmt.Errorf("description is required")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	key := path.Join(stagingDir, uuid.NewString())
	dir := s.join(key)
	if err := s.fs.MkdirAll(dir); err != nil {
		return nil, fmt.Errorf("failed to create staging directory: %w", err)
	}

	obj := engine.BackupObject{
		Kind:      desc.Kind,
		Name:      desc.Name,
		Class:     desc.ClassLabel,
		Date:      engine.Day(date),
		CreatedAt: s.now().UTC(),
	}

	staged := &staged{store: s, key: key, dir: dir, obj: obj}
	if err := staged.write(desc); err != nil {
		_ = s.fs.RemoveAll(dir)
		return nil, err
	}

	s.logger.Debug().
		Str("kind", string(desc.Kind)).
		Str("resource", desc.Name).
		Str("staging", dir).
		Msg("backup staged")
	return staged, nil
}

// List returns every committed backup, optionally restricted to kind.
func (s *Store) List(ctx context.Context, kind engine.Kind) ([]engine.BackupObject, error) {
	kinds := engine.Kinds()
	if kind != "" {
		kinds = []engine.Kind{kind}
	}

	var out []engine.BackupObject
	for _, k := range kinds {
		names, err := s.readDirs(s.join(string(k)))
		if err != nil {
			return nil, err
		}
		for _, name := range names {
			dates, err := s.readDirs(s.join(string(k), name))
			if err != nil {
				return nil, err
			}
			for _, d := range dates {
				if err := ctx.Err(); err != nil {
					return nil, err
				}
				obj, err := s.readManifest(path.Join(string(k), name, d))
				if err != nil {
					s.logger.Warn().Err(err).Str("key", path.Join(string(k), name, d)).Msg("skipping unreadable backup")
					continue
				}
				out = append(out, obj)
			}
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].Location < out[j].Location
	})
	return out, nil
}

func (s *Store) readDirs(dir string) ([]string, error) {
	entries, err := s.fs.ReadDir(dir)
	if err != nil {
		if isNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read backup directory %s: %w", dir, err)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
			out = append(out, e.Name())
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *Store) readManifest(key string) (engine.BackupObject, error) {
	var obj engine.BackupObject
	f, err := s.fs.Open(s.join(key, manifestFile))
	if err != nil {
		return obj, fmt.Errorf("failed to open manifest: %w", err)
	}
	defer f.Close()
	if err := json.NewDecoder(f).Decode(&obj); err != nil {
		return obj, fmt.Errorf("failed to decode manifest: %w", err)
	}
	return obj, nil
}

// Remove deletes a committed backup.
func (s *Store) Remove(_ context.Context, obj engine.BackupObject) error {
	dir, err := s.dirOf(obj)
	if err != nil {
		return err
	}
	if err := s.fs.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to remove backup %s: %w", obj.Location, err)
	}
	s.logger.Info().Str("location", obj.Location).Msg("backup removed")
	return nil
}

// Open reads one file of a committed backup.
func (s *Store) Open(_ context.Context, obj engine.BackupObject, file string) (io.ReadCloser, error) {
	dir, err := s.dirOf(obj)
	if err != nil {
		return nil, err
	}
	rc, err := s.fs.Open(path.Join(dir, path.Clean("/" + file)[1:]))
	if err != nil {
		return nil, fmt.Errorf("failed to open backup file %s: %w", file, err)
	}
	return rc, nil
}

func (s *Store) dirOf(obj engine.BackupObject) (string, error) {
	prefix := s.uri("")
	if !strings.HasPrefix(obj.Location, prefix) {
		return "", fmt.Errorf("backup %q does not belong to this store", obj.Location)
	}
	key := strings.TrimPrefix(obj.Location, prefix)
	key = strings.TrimPrefix(key, "/")
	if key == "" || path.Clean(key) != key || key == ".." || strings.HasPrefix(key, "../") {
		return "", fmt.Errorf("invalid backup location %q", obj.Location)
	}
	return s.join(key), nil
}

func isNotExist(err error) bool {
	return errors.Is(err, os.ErrNotExist)
}

// staged is a backup written to the staging area.
type staged struct {
	store *Store
	key   string
	dir   string
	obj   engine.BackupObject
	done  bool
}

func (b *staged) write(desc *engine.Description) error {
	fs := b.store.fs

	metadata := desc.Metadata
	if len(metadata) == 0 {
		metadata = json.RawMessage("{}")
	}
	if err := writeFile(fs, path.Join(b.dir, metadataFile), metadata); err != nil {
		return err
	}
	b.obj.Files = append(b.obj.Files, metadataFile)

	if len(desc.Attachments) > 0 {
		if err := fs.MkdirAll(path.Join(b.dir, attachmentsDir)); err != nil {
			return fmt.Errorf("failed to create attachments directory: %w", err)
		}
		names := make([]string, 0, len(desc.Attachments))
		for name := range desc.Attachments {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			file := path.Join(attachmentsDir, path.Base("/"+name))
			if err := writeFile(fs, path.Join(b.dir, file), desc.Attachments[name]); err != nil {
				return err
			}
			b.obj.Files = append(b.obj.Files, file)
		}
	}
	return nil
}

func writeFile(fs fileSystem, p string, data []byte) error {
	w, err := fs.Create(p)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path.Base(p), err)
	}
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return fmt.Errorf("failed to write %s: %w", path.Base(p), err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", path.Base(p), err)
	}
	return nil
}

// StagingLocation returns the staging directory holding the backup. It is
// empty once the backup is committed or discarded.
func (b *staged) StagingLocation() string {
	if b.done {
		return ""
	}
	return b.store.uri(b.key)
}

// Commit moves the staged backup into its final location and writes the manifest.
func (b *staged) Commit(ctx context.Context) (*engine.BackupObject, error) {
	if b.done {
		return nil, fmt.Errorf("backup already finalized")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s := b.store
	base := Key(b.obj.Kind, b.obj.Name, b.obj.Date)
	if err := s.fs.MkdirAll(path.Dir(s.join(base))); err != nil {
		return nil, fmt.Errorf("failed to create backup directory: %w", err)
	}

	key := ""
	for slot := 0; slot < maxCommitSlots; slot++ {
		candidate := base
		if slot > 0 {
			candidate = fmt.Sprintf("%s.%d", base, slot)
		}
		if _, err := s.fs.Stat(s.join(candidate)); isNotExist(err) {
			key = candidate
			break
		}
	}
	if key == "" {
		return nil, fmt.Errorf("failed to commit backup %s: %w", base, ErrBackupExists)
	}

	obj := b.obj
	obj.Location = s.uri(key)
	manifest, err := json.MarshalIndent(obj, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode manifest: %w", err)
	}
	if err := writeFile(s.fs, path.Join(b.dir, manifestFile), manifest); err != nil {
		return nil, err
	}
	if err := s.fs.Rename(b.dir, s.join(key)); err != nil {
		return nil, fmt.Errorf("failed to commit backup %s: %w", key, err)
	}
	b.done = true

	s.logger.Info().
		Str("kind", string(obj.Kind)).
		Str("resource", obj.Name).
		Str("location", obj.Location).
		Msg("backup committed")
	return &obj, nil
}

// Discard removes the staged backup.
func (b *staged) Discard(_ context.Context) error {
	if b.done {
		return nil
	}
	b.done = true
	if err := b.store.fs.RemoveAll(b.dir); err != nil {
		return fmt.Errorf("failed to discard staged backup: %w", err)
	}
	return nil
}
