package polls

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/aura-webinar/classpoll/internal/models"
	"github.com/aura-webinar/classpoll/internal/votes"
)

// ReasonStudentsPending is the admission rejection shown to the teacher.
const ReasonStudentsPending = "Not all students have answered the current question"

// expireTimeout bounds the store calls made when a timer fires.
const expireTimeout = 10 * time.Second

// Store is the poll persistence the lifecycle manager needs.
type Store interface {
	CreateDraft(ctx context.Context, p *models.Poll) error
	Get(ctx context.Context, id uuid.UUID) (*models.Poll, error)
	// GetActive returns nil, nil when no poll is active.
	GetActive(ctx context.Context) (*models.Poll, error)
	Activate(ctx context.Context, id uuid.UUID, at time.Time) (*models.Poll, error)
	Deactivate(ctx context.Context, id uuid.UUID, at time.Time) (*models.Poll, error)
	History(ctx context.Context, limit int) ([]models.Poll, error)
}

// Archiver queues background archival of an ended poll.
type Archiver interface {
	EnqueuePollArchive(ctx context.Context, pollID uuid.UUID) error
}

// EndedHandler receives the final results of every poll that ends, by timer or explicitly.
type EndedHandler func(res *models.Results)

// Limits bounds poll definitions and history size.
type Limits struct {
	DefaultDuration int // seconds, used when a draft has none
	MaxDuration     int
	HistoryLimit    int
}

// DefaultLimits mirrors the config defaults.
var DefaultLimits = Limits{DefaultDuration: 60, MaxDuration: 3600, HistoryLimit: 50}

// Draft is a poll definition submitted by the teacher.
type Draft struct {
	Question string
	Options  []models.PollOption
	Duration int
}

// Admission is the verdict of CanStartNewPoll.
type Admission struct {
	Allowed bool
	Reason  string
}

// Manager runs the poll lifecycle: draft -> active -> ended, with a server-owned expiry timer.
type Manager struct {
	store     Store
	ledger    *votes.Ledger
	scheduler *Scheduler
	limits    Limits
	logger    *zap.Logger
	now       func() time.Time

	// mu serializes lifecycle transitions so superseding and expiry do not interleave.
	mu       sync.Mutex
	hookMu   sync.RWMutex
	onEnded  EndedHandler
	archiver Archiver
}

// NewManager creates a poll lifecycle manager.
func NewManager(store Store, ledger *votes.Ledger, scheduler *Scheduler, limits Limits, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if scheduler == nil {
		scheduler = NewScheduler(logger)
	}
	if limits.DefaultDuration <= 0 {
		limits.DefaultDuration = DefaultLimits.DefaultDuration
	}
	if limits.MaxDuration <= 0 {
		limits.MaxDuration = DefaultLimits.MaxDuration
	}
	if limits.HistoryLimit <= 0 {
		limits.HistoryLimit = DefaultLimits.HistoryLimit
	}
	return &Manager{
		store:     store,
		ledger:    ledger,
		scheduler: scheduler,
		limits:    limits,
		logger:    logger,
		now:       time.Now,
	}
}

// SetEndedHandler sets the callback invoked with final results whenever a poll ends.
func (m *Manager) SetEndedHandler(fn EndedHandler) {
	m.hookMu.Lock()
	defer m.hookMu.Unlock()
	m.onEnded = fn
}

// SetArchiver sets where ended polls are queued for archival. nil disables archival.
func (m *Manager) SetArchiver(a Archiver) {
	m.hookMu.Lock()
	defer m.hookMu.Unlock()
	m.archiver = a
}

// Now returns the manager's clock reading.
func (m *Manager) Now() time.Time {
	return m.now()
}

// AdmissionError is returned by StartPoll when the admission rule refuses a new poll.
type AdmissionError struct {
	Reason string
}

func (e *AdmissionError) Error() string { return e.Reason }

// CanStartNewPoll applies the admission rule: a new poll may start when none is active,
// when the active one is already past its deadline, or when it has at least as many
// votes as there are connected students.
func (m *Manager) CanStartNewPoll(ctx context.Context, connectedStudents int) (Admission, error) {
	_, verdict, err := m.admit(ctx, connectedStudents)
	return verdict, err
}

func (m *Manager) admit(ctx context.Context, connectedStudents int) (*models.Poll, Admission, error) {
	active, err := m.store.GetActive(ctx)
	if err != nil {
		return nil, Admission{}, fmt.Errorf("get active poll: %w", err)
	}
	if active == nil {
		return nil, Admission{Allowed: true}, nil
	}
	if deadline, ok := active.Deadline(); ok && !m.now().Before(deadline) {
		return active, Admission{Allowed: true}, nil
	}
	n, err := m.ledger.Count(ctx, active.ID)
	if err != nil {
		return nil, Admission{}, fmt.Errorf("count votes: %w", err)
	}
	if n >= connectedStudents {
		return active, Admission{Allowed: true}, nil
	}
	return active, Admission{Allowed: false, Reason: ReasonStudentsPending}, nil
}

// StartPoll applies the admission rule for connectedStudents, validates d, ends any poll
// still active, then creates, activates and arms the expiry of the new poll. The check and
// the start happen under one lock, so a refused start changes nothing.
func (m *Manager) StartPoll(ctx context.Context, d Draft, connectedStudents int) (*models.Poll, error) {
	m.mu.Lock()
	active, verdict, err := m.admit(ctx, connectedStudents)
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}
	if !verdict.Allowed {
		m.mu.Unlock()
		return nil, &AdmissionError{Reason: verdict.Reason}
	}
	p, err := m.normalize(d)
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}

	var superseded *models.Results
	if active != nil {
		superseded, err = m.endLocked(ctx, active.ID)
		if err != nil && !errors.Is(err, models.ErrInvalidTransition) {
			m.mu.Unlock()
			return nil, fmt.Errorf("end superseded poll: %w", err)
		}
	}
	started, err := m.createAndActivate(ctx, p)
	m.mu.Unlock()

	if superseded != nil {
		m.publishEnded(superseded)
	}
	if err != nil {
		return nil, err
	}
	m.logger.Info("poll started",
		zap.String("poll_id", started.ID.String()),
		zap.Int("question_number", started.QuestionNumber),
		zap.Int("duration", started.Duration))
	return started, nil
}

func (m *Manager) createAndActivate(ctx context.Context, p *models.Poll) (*models.Poll, error) {
	if err := m.store.CreateDraft(ctx, p); err != nil {
		return nil, fmt.Errorf("create poll: %w", err)
	}
	started, err := m.store.Activate(ctx, p.ID, m.now())
	if err != nil {
		return nil, fmt.Errorf("activate poll: %w", err)
	}
	m.arm(started)
	return started, nil
}

// EndPoll ends an active poll and returns its final results.
func (m *Manager) EndPoll(ctx context.Context, id uuid.UUID) (*models.Results, error) {
	m.mu.Lock()
	res, err := m.endLocked(ctx, id)
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}
	m.publishEnded(res)
	return res, nil
}

func (m *Manager) endLocked(ctx context.Context, id uuid.UUID) (*models.Results, error) {
	m.scheduler.Cancel(id)
	p, err := m.store.Deactivate(ctx, id, m.now())
	if err != nil {
		return nil, err
	}
	res, err := m.resultsFor(ctx, p)
	if err != nil {
		// The poll is already ended in the store; publish it without a tally.
		m.logger.Error("results for ended poll", zap.String("poll_id", id.String()), zap.Error(err))
		res = &models.Results{
			Poll:    p,
			Results: votes.Tally(p.Options, nil),
			Voters:  []models.Voter{},
		}
	}
	m.logger.Info("poll ended", zap.String("poll_id", id.String()), zap.Int("total_votes", res.TotalVotes))

	m.hookMu.RLock()
	archiver := m.archiver
	m.hookMu.RUnlock()
	if archiver != nil {
		if err := archiver.EnqueuePollArchive(ctx, id); err != nil {
			m.logger.Warn("enqueue poll archive failed", zap.String("poll_id", id.String()), zap.Error(err))
		}
	}
	return res, nil
}

func (m *Manager) publishEnded(res *models.Results) {
	m.hookMu.RLock()
	fn := m.onEnded
	m.hookMu.RUnlock()
	if fn != nil {
		fn(res)
	}
}

// arm schedules the expiry of an active poll at startedAt+duration.
func (m *Manager) arm(p *models.Poll) {
	deadline, ok := p.Deadline()
	if !ok {
		return
	}
	id := p.ID
	m.scheduler.Schedule(id, deadline.Sub(m.now()), func() { m.expire(id) })
}

func (m *Manager) expire(id uuid.UUID) {
	ctx, cancel := context.WithTimeout(context.Background(), expireTimeout)
	defer cancel()
	if _, err := m.EndPoll(ctx, id); err != nil {
		if errors.Is(err, models.ErrInvalidTransition) {
			m.logger.Debug("poll already ended before expiry", zap.String("poll_id", id.String()))
			return
		}
		m.logger.Error("poll expiry failed", zap.String("poll_id", id.String()), zap.Error(err))
	}
}

// Recover re-arms the expiry of a poll left active by a previous process, ending it
// immediately when its deadline has already passed.
func (m *Manager) Recover(ctx context.Context) error {
	active, err := m.store.GetActive(ctx)
	if err != nil {
		return fmt.Errorf("get active poll: %w", err)
	}
	if active == nil {
		return nil
	}
	deadline, ok := active.Deadline()
	if ok && deadline.After(m.now()) {
		m.arm(active)
		m.logger.Info("poll expiry re-armed", zap.String("poll_id", active.ID.String()), zap.Time("deadline", deadline))
		return nil
	}
	if _, err := m.EndPoll(ctx, active.ID); err != nil && !errors.Is(err, models.ErrInvalidTransition) {
		return fmt.Errorf("expire overdue poll: %w", err)
	}
	m.logger.Info("overdue poll expired on recovery", zap.String("poll_id", active.ID.String()))
	return nil
}

// ActivePoll returns the active poll, or nil.
func (m *Manager) ActivePoll(ctx context.Context) (*models.Poll, error) {
	return m.store.GetActive(ctx)
}

// LivePoll returns the active poll together with its whole seconds remaining. It returns
// nil when no poll is active or the deadline has passed but the expiry has not run yet.
func (m *Manager) LivePoll(ctx context.Context) (*models.Poll, int, error) {
	active, err := m.store.GetActive(ctx)
	if err != nil {
		return nil, 0, err
	}
	if active == nil || !active.IsActive {
		return nil, 0, nil
	}
	remaining := active.RemainingSeconds(m.now())
	if remaining <= 0 {
		return nil, 0, nil
	}
	return active, remaining, nil
}

// SubmitVote records sessionID's answer on an open poll.
func (m *Manager) SubmitVote(ctx context.Context, pollID uuid.UUID, sessionID, name, optionID string) (*models.Vote, error) {
	p, err := m.store.Get(ctx, pollID)
	if err != nil {
		return nil, err
	}
	if p.State() != models.PollActive || p.RemainingSeconds(m.now()) <= 0 {
		return nil, models.ErrPollClosed
	}
	if !p.HasOption(optionID) {
		return nil, models.ErrUnknownOption
	}
	return m.ledger.Submit(ctx, pollID, sessionID, name, optionID)
}

// HasVoted reports whether sessionID voted on pollID.
func (m *Manager) HasVoted(ctx context.Context, pollID uuid.UUID, sessionID string) (bool, error) {
	return m.ledger.HasVoted(ctx, pollID, sessionID)
}

// GetResults composes a poll with its tally and voter list.
func (m *Manager) GetResults(ctx context.Context, id uuid.UUID) (*models.Results, error) {
	p, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return m.resultsFor(ctx, p)
}

func (m *Manager) resultsFor(ctx context.Context, p *models.Poll) (*models.Results, error) {
	list, err := m.ledger.ListByPoll(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	voters := make([]models.Voter, 0, len(list))
	for _, v := range list {
		voters = append(voters, models.Voter{Name: v.StudentName, VotedAt: v.VotedAt})
	}
	return &models.Results{
		Poll:       p,
		Results:    votes.Tally(p.Options, list),
		TotalVotes: len(list),
		Voters:     voters,
	}, nil
}

// GetHistory returns results of ended polls, newest first.
func (m *Manager) GetHistory(ctx context.Context) ([]models.Results, error) {
	list, err := m.store.History(ctx, m.limits.HistoryLimit)
	if err != nil {
		return nil, fmt.Errorf("poll history: %w", err)
	}
	out := make([]models.Results, len(list))
	g, gctx := errgroup.WithContext(ctx)
	for i := range list {
		i := i
		g.Go(func() error {
			res, err := m.resultsFor(gctx, &list[i])
			if err != nil {
				return err
			}
			out[i] = *res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("poll history results: %w", err)
	}
	return out, nil
}

// Shutdown cancels all pending expiries. Active polls are re-armed by Recover on the next start.
func (m *Manager) Shutdown() {
	m.scheduler.Stop()
}

func (m *Manager) normalize(d Draft) (*models.Poll, error) {
	question := strings.TrimSpace(d.Question)
	if question == "" {
		return nil, fmt.Errorf("%w: question is required", models.ErrInvalidPoll)
	}
	if len(d.Options) < 2 {
		return nil, fmt.Errorf("%w: at least two options are required", models.ErrInvalidPoll)
	}
	seen := make(map[string]struct{}, len(d.Options))
	options := make([]models.PollOption, 0, len(d.Options))
	for _, o := range d.Options {
		o.ID = strings.TrimSpace(o.ID)
		o.Text = strings.TrimSpace(o.Text)
		if o.ID == "" || o.Text == "" {
			return nil, fmt.Errorf("%w: options need an id and text", models.ErrInvalidPoll)
		}
		if _, dup := seen[o.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate option id %q", models.ErrInvalidPoll, o.ID)
		}
		seen[o.ID] = struct{}{}
		options = append(options, o)
	}
	duration := d.Duration
	if duration == 0 {
		duration = m.limits.DefaultDuration
	}
	if duration < 0 || duration > m.limits.MaxDuration {
		return nil, fmt.Errorf("%w: duration must be between 1 and %d seconds", models.ErrInvalidPoll, m.limits.MaxDuration)
	}
	return &models.Poll{Question: question, Options: options, Duration: duration}, nil
}
