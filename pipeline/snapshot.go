package pipeline

import (
	"encoding/json"
	"os"
	"path"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"

	"github.com/davidroman0O/iflowpipe/errors"
)

// Snapshot is the serializable state of a run
type Snapshot struct {
	ID              string    `json:"id" yaml:"id"`
	CurrentStage    StageID   `json:"currentStageIndex" yaml:"currentStageIndex"`
	ViewingStage    StageID   `json:"viewingStageIndex" yaml:"viewingStageIndex"`
	CompletedStages []StageID `json:"completedStages" yaml:"completedStages"`
	Finished        bool      `json:"finished" yaml:"finished"`
	Accumulator     View      `json:"accumulator" yaml:"accumulator"`
	CreatedAt       time.Time `json:"createdAt" yaml:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt" yaml:"updatedAt"`
}

// Snapshot captures the run
func (r *Run) Snapshot() (Snapshot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, err := r.acc.view()
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{
		ID:              r.id,
		CurrentStage:    r.current,
		ViewingStage:    r.viewing,
		CompletedStages: r.completedLocked(),
		Finished:        r.finished,
		Accumulator:     v,
		CreatedAt:       r.createdAt,
		UpdatedAt:       r.updatedAt,
	}, nil
}

// Restore rebuilds a run from a snapshot
func Restore(s Snapshot, opts ...Option) (*Run, error) {
	if s.ID == "" {
		return nil, errors.New(errors.ErrInvalidInput, "snapshot without run id")
	}
	if !s.CurrentStage.Valid() {
		return nil, errors.Newf(errors.ErrInvalidInput, "snapshot has invalid current stage %d", s.CurrentStage)
	}
	for _, c := range s.CompletedStages {
		if !c.Valid() || c >= s.CurrentStage {
			return nil, errors.Newf(errors.ErrInvalidInput, "snapshot marks stage %d completed while at stage %d", c, s.CurrentStage)
		}
	}

	r := NewRun(append([]Option{WithID(s.ID)}, opts...)...)
	r.current = s.CurrentStage
	r.viewing = s.ViewingStage
	if !r.viewing.Valid() {
		r.viewing = r.current
	}
	for _, c := range s.CompletedStages {
		r.completed[c] = true
	}
	r.finished = s.Finished
	if !s.CreatedAt.IsZero() {
		r.createdAt = s.CreatedAt
	}
	r.updatedAt = s.UpdatedAt
	if err := r.acc.merge(s.Accumulator.payload()); err != nil {
		return nil, err
	}
	return r, nil
}

// ErrStateNotFound is returned when no saved run exists
var ErrStateNotFound = errors.New(errors.ErrNotFound, "no saved pipeline state")

// FileRepository persists one run snapshot as JSON
type FileRepository struct {
	fs   billy.Filesystem
	path string
}

// NewFileRepository stores the snapshot at path within fs
func NewFileRepository(fs billy.Filesystem, path string) *FileRepository {
	return &FileRepository{fs: fs, path: path}
}

// Save writes the snapshot, replacing any previous one
func (f *FileRepository) Save(s Snapshot) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return errors.Wrap(err, errors.ErrInvalidInput, "failed to marshal pipeline state")
	}
	if dir := path.Dir(f.path); dir != "." && dir != "/" {
		if err := f.fs.MkdirAll(dir, 0o750); err != nil {
			return errors.Wrap(err, errors.ErrConfiguration, "failed to create state directory "+dir)
		}
	}
	tmp := f.path + ".tmp"
	if err := util.WriteFile(f.fs, tmp, data, 0o640); err != nil {
		return errors.Wrap(err, errors.ErrConfiguration, "failed to write state file "+tmp)
	}
	if err := f.fs.Rename(tmp, f.path); err != nil {
		return errors.Wrap(err, errors.ErrConfiguration, "failed to replace state file "+f.path)
	}
	return nil
}

// Load reads the saved snapshot
func (f *FileRepository) Load() (Snapshot, error) {
	data, err := util.ReadFile(f.fs, f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return Snapshot{}, ErrStateNotFound
		}
		return Snapshot{}, errors.Wrap(err, errors.ErrConfiguration, "failed to read state file "+f.path)
	}
	if len(data) == 0 {
		return Snapshot{}, ErrStateNotFound
	}
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return Snapshot{}, errors.Wrap(err, errors.ErrInvalidInput, "failed to unmarshal state file "+f.path)
	}
	return s, nil
}

// Delete removes the saved snapshot if any
func (f *FileRepository) Delete() error {
	if err := f.fs.Remove(f.path); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, errors.ErrConfiguration, "failed to remove state file "+f.path)
	}
	return nil
}
