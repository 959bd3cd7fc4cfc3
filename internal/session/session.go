// Package session drives one expert through the labeling queue.
//
// A Session owns the catalog position and the in-progress form. Submit and
// Flag hand the answer to a classification.Store and only advance once the
// store acknowledged it; a failure leaves both the index and the form alone.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"flag-classifier/internal/catalog"
	"flag-classifier/internal/classification"
	"flag-classifier/internal/models"
	"flag-classifier/internal/resolver"
	"flag-classifier/internal/taxonomy"
)

var (
	ErrSubmissionInFlight = errors.New("a submission is already in progress")
	ErrNoSelection        = errors.New("select a category or specific flag first")
	ErrNoCurrentItem      = errors.New("no image at the current position")
	ErrNotReady           = errors.New("session is not ready")
	ErrUnknownFlag        = errors.New("unknown specific flag")
)

// State is the lifecycle state of a session.
type State int

const (
	StateLoading State = iota
	StateReady
	StateSubmitting
	StateError
)

func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateSubmitting:
		return "submitting"
	case StateError:
		return "error"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Form is the answer being composed for the current image.
type Form struct {
	PrimaryCategory string `json:"primaryCategory"`
	SpecificFlag    string `json:"specificFlag"`
	DisplayContext  string `json:"displayContext"`
	UserContext     string `json:"userContext"`
	Confidence      int    `json:"confidence"`
}

// DefaultForm is the empty form shown for a fresh image.
func DefaultForm() Form {
	return Form{Confidence: 3}
}

// Stats counts what this session has recorded.
type Stats struct {
	Labeled       int     `json:"labeled"`
	Flagged       int     `json:"flagged"`
	AvgConfidence float64 `json:"avgConfidence"`
}

// Snapshot is a consistent read of the session.
type Snapshot struct {
	ID       string              `json:"id"`
	ExpertID string              `json:"expertId"`
	State    string              `json:"state"`
	Index    int                 `json:"index"`
	Total    int                 `json:"total"`
	Current  *models.ImageRecord `json:"current,omitempty"`
	Form     Form                `json:"form"`
	Error    string              `json:"error,omitempty"`
}

// Options wires a session to its collaborators. Positions, Resolver and
// Taxonomy are optional.
type Options struct {
	ExpertID  string
	Catalog   catalog.Source
	Store     classification.Store
	Positions PositionStore
	Resolver  *resolver.Resolver
	Taxonomy  *taxonomy.Taxonomy
	Logger    *zap.Logger
}

// Session is safe for concurrent use. Store calls run without the lock held.
type Session struct {
	id        string
	expertID  string
	source    catalog.Source
	store     classification.Store
	positions PositionStore
	view      *resolver.View
	taxonomy  *taxonomy.Taxonomy
	logger    *zap.Logger

	mu     sync.Mutex
	state  State
	err    error
	images *catalog.Catalog
	index  int
	form   Form
	stats  Stats
}

// New creates a session in the loading state.
func New(opts Options) *Session {
	expertID := opts.ExpertID
	if expertID == "" {
		expertID = models.AnonymousExpert
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	tx := opts.Taxonomy
	if tx == nil {
		tx = taxonomy.Default()
	}

	s := &Session{
		id:        uuid.NewString(),
		expertID:  expertID,
		source:    opts.Catalog,
		store:     opts.Store,
		positions: opts.Positions,
		taxonomy:  tx,
		state:     StateLoading,
		form:      DefaultForm(),
	}
	s.logger = logger.With(zap.String("session_id", s.id), zap.String("expert_id", expertID))
	if opts.Resolver != nil {
		s.view = opts.Resolver.NewView()
	}
	return s
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// ExpertID returns the identity answers are recorded under.
func (s *Session) ExpertID() string { return s.expertID }

// Start loads the catalog and restores the saved position. A catalog failure
// falls back to the embedded catalog. A saved position equal to the catalog
// length resumes at the end of the queue; one outside the catalog restarts at 0.
func (s *Session) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var images *catalog.Catalog
	if s.source == nil {
		images = catalog.Fallback()
	} else {
		images, _ = catalog.LoadWithFallback(ctx, s.source, s.logger)
	}

	index := 0
	if s.positions != nil {
		saved, ok, err := s.positions.LoadPosition(ctx, s.expertID)
		switch {
		case err != nil:
			s.logger.Warn("Failed to load saved position, starting at the beginning", zap.Error(err))
		case ok:
			var valid bool
			if index, valid = RestorePosition(saved, images.Len()); !valid {
				s.logger.Info("Saved position outside catalog, starting at the beginning",
					zap.Int("saved", saved),
					zap.Int("images", images.Len()))
			}
		}
	}

	s.mu.Lock()
	s.images = images
	s.index = index
	s.form = DefaultForm()
	s.err = nil
	s.state = StateReady
	s.mu.Unlock()

	s.logger.Info("Session started", zap.Int("index", index), zap.Int("images", images.Len()))
	return nil
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the error that put the session in StateError.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Index returns the current position.
func (s *Session) Index() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.index
}

// Current returns the image at the current position.
func (s *Session) Current() (models.ImageRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.images.At(s.index)
}

// Snapshot returns the state of the session in one read.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		ID:       s.id,
		ExpertID: s.expertID,
		State:    s.state.String(),
		Index:    s.index,
		Total:    s.images.Len(),
		Form:     s.form,
	}
	if img, ok := s.images.At(s.index); ok {
		snap.Current = &img
	}
	if s.err != nil {
		snap.Error = s.err.Error()
	}
	return snap
}

// Next moves forward. The position may reach Len, which means the queue is done.
func (s *Session) Next() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.index < s.images.Len() {
		s.index++
	}
	return s.index
}

// Previous moves back, stopping at 0.
func (s *Session) Previous() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.index > 0 {
		s.index--
	}
	return s.index
}

// Form returns the form being composed.
func (s *Session) Form() Form {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.form
}

// SetForm replaces the form.
func (s *Session) SetForm(f Form) {
	s.mu.Lock()
	s.form = f
	s.mu.Unlock()
}

// SelectFlag picks a specific flag and fills in the category and context it implies.
func (s *Session) SelectFlag(name string) error {
	f, ok := s.taxonomy.Lookup(name)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownFlag, name)
	}

	s.mu.Lock()
	s.form.SpecificFlag = f.Name
	s.form.PrimaryCategory = f.Primary
	s.form.UserContext = f.Context
	s.mu.Unlock()
	return nil
}

// CanSubmit reports whether Submit would reach the store.
func (s *Session) CanSubmit() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.images.At(s.index)
	return ok && s.state == StateReady && hasSelection(s.form)
}

// Submit records the form against the current image. On success the session
// moves past that image (unless the user already navigated away) and the form
// resets. Validation failures leave the session ready; backend failures put
// it in StateError. Neither changes the index or the form.
func (s *Session) Submit(ctx context.Context) (*models.Classification, error) {
	s.mu.Lock()
	if err := s.readyLocked(); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	img, ok := s.images.At(s.index)
	if !ok {
		s.mu.Unlock()
		return nil, ErrNoCurrentItem
	}
	if !hasSelection(s.form) {
		s.mu.Unlock()
		return nil, ErrNoSelection
	}

	c := &models.Classification{
		ImageID:         img.Filename,
		Town:            img.Town,
		PrimaryCategory: s.form.PrimaryCategory,
		SpecificFlag:    s.form.SpecificFlag,
		DisplayContext:  s.form.DisplayContext,
		UserContext:     s.form.UserContext,
		Confidence:      s.form.Confidence,
		ExpertID:        s.expertID,
	}
	if err := classification.Validate(c); err != nil {
		s.mu.Unlock()
		return nil, err
	}

	submitted := s.index
	s.state = StateSubmitting
	s.mu.Unlock()

	saved, err := s.store.Submit(ctx, c)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.failLocked(err)
		s.logger.Warn("Submission failed", zap.String("image_id", c.ImageID), zap.Error(err))
		return nil, err
	}

	s.state = StateReady
	s.stats.AvgConfidence = (s.stats.AvgConfidence*float64(s.stats.Labeled) + float64(c.Confidence)) / float64(s.stats.Labeled+1)
	s.stats.Labeled++
	if s.index == submitted {
		s.index++
		s.form = DefaultForm()
	}

	s.logger.Info("Classification submitted", zap.String("image_id", c.ImageID), zap.Int("index", s.index))
	return saved, nil
}

// Flag marks the current image for review and moves past it.
func (s *Session) Flag(ctx context.Context, reason string) (*models.Classification, error) {
	s.mu.Lock()
	if err := s.readyLocked(); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	img, ok := s.images.At(s.index)
	if !ok {
		s.mu.Unlock()
		return nil, ErrNoCurrentItem
	}
	submitted := s.index
	s.state = StateSubmitting
	s.mu.Unlock()

	flagged, err := s.store.Flag(ctx, img.Filename, reason, s.expertID)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.failLocked(err)
		s.logger.Warn("Flag failed", zap.String("image_id", img.Filename), zap.Error(err))
		return nil, err
	}

	s.state = StateReady
	s.stats.Flagged++
	if s.index == submitted {
		s.index++
		s.form = DefaultForm()
	}

	s.logger.Info("Image flagged for review", zap.String("image_id", img.Filename))
	return flagged, nil
}

// Dismiss clears an error and returns to StateReady.
func (s *Session) Dismiss() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateError {
		s.state = StateReady
		s.err = nil
	}
}

// Retry dismisses the current error and submits again.
func (s *Session) Retry(ctx context.Context) (*models.Classification, error) {
	s.Dismiss()
	return s.Submit(ctx)
}

// Logout saves the current position for the expert.
func (s *Session) Logout(ctx context.Context) error {
	if s.view != nil {
		s.view.Close()
	}
	if s.positions == nil {
		return nil
	}

	index := s.Index()
	if err := s.positions.SavePosition(ctx, s.expertID, index); err != nil {
		s.logger.Error("Failed to save position", zap.Error(err))
		return err
	}

	s.logger.Info("Session ended", zap.Int("index", index))
	return nil
}

// Display resolves the current image in mode. A new call cancels the
// resolution started by the previous one.
func (s *Session) Display(ctx context.Context, mode models.DisplayMode) (resolver.Result, bool) {
	img, ok := s.Current()
	if !ok || s.view == nil {
		return resolver.Result{}, false
	}
	return s.view.Show(ctx, img, mode), true
}

// Stats returns what this session has recorded so far.
func (s *Session) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

func (s *Session) readyLocked() error {
	switch s.state {
	case StateReady:
		return nil
	case StateSubmitting:
		return ErrSubmissionInFlight
	case StateError:
		return fmt.Errorf("%w: dismiss the previous error first", ErrNotReady)
	default:
		return ErrNotReady
	}
}

// failLocked records a store failure. Validation errors keep the session
// ready since nothing reached the backend.
func (s *Session) failLocked(err error) {
	if classification.IsValidation(err) {
		s.state = StateReady
		return
	}
	s.state = StateError
	s.err = err
}

func hasSelection(f Form) bool {
	return f.PrimaryCategory != "" || f.SpecificFlag != ""
}
