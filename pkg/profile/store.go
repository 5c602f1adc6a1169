package profile

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/marionet/marionet/pkg/types"
)

const (
	// metadataFile is written inside every named profile directory
	metadataFile = "profile.yaml"

	// maxIdentifierLength bounds profile identifiers
	maxIdentifierLength = 64
)

// identifierPattern is the filesystem-safe identifier shape: alphanumeric
// plus hyphen and underscore.
var identifierPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// metadata is the persisted per-profile record.
type metadata struct {
	CreatedAt  time.Time `yaml:"created_at"`
	LastUsedAt time.Time `yaml:"last_used_at"`
}

// Info describes one stored profile for listings.
type Info struct {
	Name       string
	Dir        string
	CreatedAt  time.Time
	LastUsedAt time.Time
}

// Store provides CRUD over named profile directories under a root, plus the
// in-process lock set that enforces one live session per named profile.
type Store struct {
	root string

	mu    sync.Mutex
	locks map[string]string // profile name -> holding session id
	now   func() time.Time
}

// NewStore creates a Store rooted at root, creating the directory if needed.
func NewStore(root string) (*Store, error) {
	if root == "" {
		return nil, types.NewError(types.KindConfiguration, "profile root must not be empty")
	}
	if err := os.MkdirAll(root, 0750); err != nil {
		return nil, fmt.Errorf("failed to create profile root: %w", err)
	}
	return &Store{
		root:  root,
		locks: make(map[string]string),
		now:   time.Now,
	}, nil
}

// ValidateIdentifier checks that name is a usable profile identifier.
func ValidateIdentifier(name string) error {
	if name == "" {
		return types.NewError(types.KindConfiguration, "profile identifier must not be empty")
	}
	if len(name) > maxIdentifierLength {
		return types.NewError(types.KindConfiguration,
			"profile identifier %q exceeds %d characters", name, maxIdentifierLength)
	}
	if !identifierPattern.MatchString(name) {
		return types.NewError(types.KindConfiguration,
			"profile identifier %q may only contain letters, digits, hyphen and underscore", name)
	}
	return nil
}

// Create allocates a new named profile directory. It fails if the
// identifier is invalid or already exists.
func (s *Store) Create(name string) (Info, error) {
	if err := ValidateIdentifier(name); err != nil {
		return Info{}, err
	}

	dir := filepath.Join(s.root, name)
	if _, err := os.Stat(dir); err == nil {
		return Info{}, types.NewError(types.KindConfiguration, "profile %q already exists", name)
	} else if !os.IsNotExist(err) {
		return Info{}, fmt.Errorf("failed to stat profile directory: %w", err)
	}

	if err := os.MkdirAll(dir, 0750); err != nil {
		return Info{}, fmt.Errorf("failed to create profile directory: %w", err)
	}

	now := s.now()
	meta := metadata{CreatedAt: now, LastUsedAt: now}
	if err := s.writeMetadata(dir, meta); err != nil {
		os.RemoveAll(dir)
		return Info{}, err
	}

	return Info{Name: name, Dir: dir, CreatedAt: now, LastUsedAt: now}, nil
}

// Delete removes a profile and its backing storage. It fails with
// ErrProfileBusy if a live session currently holds the profile, and with
// ErrProfileNotFound if the profile does not exist.
func (s *Store) Delete(name string) error {
	if err := ValidateIdentifier(name); err != nil {
		return err
	}

	s.mu.Lock()
	holder, held := s.locks[name]
	s.mu.Unlock()
	if held {
		return types.WrapError(types.KindContention, types.ErrProfileBusy,
			"profile %q is held by session %s", name, holder)
	}

	dir := filepath.Join(s.root, name)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return types.WrapError(types.KindUnavailable, types.ErrProfileNotFound,
			"profile %q does not exist", name)
	}

	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to remove profile directory: %w", err)
	}
	return nil
}

// List returns every stored profile with its timestamps, sorted by name.
func (s *Store) List() ([]Info, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("failed to read profile root: %w", err)
	}

	infos := make([]Info, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dir := filepath.Join(s.root, entry.Name())
		meta, err := s.readMetadata(dir)
		if err != nil {
			// Directories without readable metadata are skipped, not fatal
			continue
		}
		infos = append(infos, Info{
			Name:       entry.Name(),
			Dir:        dir,
			CreatedAt:  meta.CreatedAt,
			LastUsedAt: meta.LastUsedAt,
		})
	}

	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos, nil
}

// Get returns the profile info for name, or ErrProfileNotFound.
func (s *Store) Get(name string) (Info, error) {
	if err := ValidateIdentifier(name); err != nil {
		return Info{}, err
	}
	dir := filepath.Join(s.root, name)
	meta, err := s.readMetadata(dir)
	if err != nil {
		return Info{}, types.WrapError(types.KindUnavailable, types.ErrProfileNotFound,
			"profile %q does not exist", name)
	}
	return Info{Name: name, Dir: dir, CreatedAt: meta.CreatedAt, LastUsedAt: meta.LastUsedAt}, nil
}

// Snapshot returns the current name -> directory mapping for the resolver.
func (s *Store) Snapshot() (map[string]string, error) {
	infos, err := s.List()
	if err != nil {
		return nil, err
	}
	snapshot := make(map[string]string, len(infos))
	for _, info := range infos {
		snapshot[info.Name] = info.Dir
	}
	return snapshot, nil
}

// Touch updates a profile's last-used timestamp.
func (s *Store) Touch(name string) error {
	dir := filepath.Join(s.root, name)
	meta, err := s.readMetadata(dir)
	if err != nil {
		return types.WrapError(types.KindUnavailable, types.ErrProfileNotFound,
			"profile %q does not exist", name)
	}
	meta.LastUsedAt = s.now()
	return s.writeMetadata(dir, meta)
}

// Acquire takes the exclusive lock on a named profile for sessionID.
// Exactly one concurrent acquirer wins; the rest get ErrProfileBusy.
func (s *Store) Acquire(name, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if holder, held := s.locks[name]; held {
		return types.WrapError(types.KindContention, types.ErrProfileBusy,
			"profile %q is held by session %s", name, holder)
	}
	s.locks[name] = sessionID
	return nil
}

// Release drops the lock on a named profile. Releasing a lock not held by
// sessionID is a no-op, so release is safe to call from any cleanup path.
func (s *Store) Release(name, sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if holder, held := s.locks[name]; held && holder == sessionID {
		delete(s.locks, name)
	}
}

// Held reports whether a live session currently holds the named profile.
func (s *Store) Held(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, held := s.locks[name]
	return held
}

func (s *Store) readMetadata(dir string) (metadata, error) {
	data, err := os.ReadFile(filepath.Join(dir, metadataFile))
	if err != nil {
		return metadata{}, err
	}
	var meta metadata
	if err := yaml.Unmarshal(data, &meta); err != nil {
		return metadata{}, fmt.Errorf("failed to parse profile metadata: %w", err)
	}
	return meta, nil
}

func (s *Store) writeMetadata(dir string, meta metadata) error {
	data, err := yaml.Marshal(&meta)
	if err != nil {
		return fmt.Errorf("failed to encode profile metadata: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, metadataFile), data, 0600); err != nil {
		return fmt.Errorf("failed to write profile metadata: %w", err)
	}
	return nil
}
