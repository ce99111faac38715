// Package gateway exposes one operation set over attendees and survey
// responses regardless of which persistence.Store backs it.
//
// The gateway owns the only in-memory copy of the records, serializes
// operations so that one caller's sequential calls apply in issue order, and
// reports every successful mutation to observers and to the sync publisher.
// When a shared store fails mid-operation the gateway seeds the device-bound
// fallback store from its cache and continues there until MigrateLocal and
// Rebind move it back.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/example/event-checkin/internal/broadcast"
	"github.com/example/event-checkin/internal/persistence"
	"github.com/example/event-checkin/internal/report"
)

// Publisher receives every successful local mutation.
type Publisher interface {
	Publish(ctx context.Context, m persistence.Mutation) error
}

// Change tells observers that cached records changed.
type Change struct {
	Kind        persistence.MutationKind `json:"kind"`
	Collections []string                 `json:"collections"`
	Remote      bool                     `json:"remote"`
	At          time.Time                `json:"at"`
}

// SurveyInput carries a survey submission.
type SurveyInput struct {
	ParticipantName  string `json:"participantName"`
	Score            int    `json:"score"`
	QualityRating    int    `json:"qualityRating"`
	InstructorRating int    `json:"instructorRating"`
	Comments         string `json:"comments"`
}

// Stats combines attendance and survey summaries.
type Stats struct {
	Attendance report.Attendance    `json:"attendance"`
	Surveys    report.SurveySummary `json:"surveys"`
}

// MigrationResult reports what MigrateLocal copied.
type MigrationResult struct {
	Attendees int `json:"attendees"`
	Updated   int `json:"updated"`
	Surveys   int `json:"surveys"`
	// Conflicts counts offline attendees dropped because the target already
	// holds the name.
	Conflicts int `json:"conflicts"`
}

// Options configures a Gateway.
type Options struct {
	// Remote marks the store as shared between devices.
	Remote bool
	// Fallback is the device-bound store used when a shared store fails.
	Fallback persistence.Store
	// OnFailover runs after the gateway switched to Fallback.
	OnFailover  func()
	IDGenerator func() string
	Now         func() time.Time
	Logger      *slog.Logger
}

// Gateway is the persistence facade used by every caller.
type Gateway struct {
	mu         sync.Mutex
	store      persistence.Store
	remote     bool
	fallback   persistence.Store
	pending    bool
	publisher  Publisher
	onFailover func()

	cache   cache
	changes *broadcast.Broadcaster[Change]
	refresh singleflight.Group

	newID  func() string
	now    func() time.Time
	logger *slog.Logger
}

// New binds a gateway to store.
func New(store persistence.Store, opts Options) *Gateway {
	if opts.IDGenerator == nil {
		opts.IDGenerator = uuid.NewString
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Gateway{
		store:      store,
		remote:     opts.Remote,
		fallback:   opts.Fallback,
		onFailover: opts.OnFailover,
		changes:    broadcast.New[Change](),
		newID:      opts.IDGenerator,
		now:        opts.Now,
		logger:     opts.Logger,
	}
}

// SetPublisher registers the sync publisher.
func (g *Gateway) SetPublisher(p Publisher) {
	g.mu.Lock()
	g.publisher = p
	g.mu.Unlock()
}

// Subscribe returns a channel of Change notifications.
func (g *Gateway) Subscribe() <-chan Change { return g.changes.AddListener() }

// Unsubscribe closes a channel returned by Subscribe.
func (g *Gateway) Unsubscribe(ch <-chan Change) { g.changes.RemoveListener(ch) }

// Attendees returns the cached attendees.
func (g *Gateway) Attendees() []persistence.Attendee { return g.cache.listAttendees() }

// Surveys returns the cached survey responses.
func (g *Gateway) Surveys() []persistence.SurveyResponse { return g.cache.listSurveys() }

// StoreName returns the name of the bound store.
func (g *Gateway) StoreName() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.storeName()
}

func (g *Gateway) storeName() string {
	if g.store == nil {
		return ""
	}
	return g.store.Name()
}

// Remote reports whether the bound store is shared.
func (g *Gateway) Remote() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.remote
}

// PendingMigration reports whether records were written to the fallback
// store after a shared store failed.
func (g *Gateway) PendingMigration() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.pending
}

// Close ends every change subscription.
func (g *Gateway) Close() { g.changes.Close() }

func logResult(ctx context.Context, logger *slog.Logger, err error, msg string) {
	if err == nil {
		return
	}
	if persistence.IsDomainError(err) {
		logger.WarnContext(ctx, msg, "error", err, "error_kind", persistence.ErrorKind(err))
		return
	}
	logger.ErrorContext(ctx, msg, "error", err, "error_kind", persistence.ErrorKind(err))
}

// failover switches to the fallback store after cause, seeding it with the
// cache. It reports whether the caller should retry on the fallback.
// Callers hold g.mu.
func (g *Gateway) failover(ctx context.Context, logger *slog.Logger, cause error) bool {
	if cause == nil || !g.remote || g.fallback == nil || ctx.Err() != nil || persistence.IsDomainError(cause) {
		return false
	}
	logger.WarnContext(ctx, "store failed mid-operation, continuing on local fallback",
		"error", cause, "fallback", g.fallback.Name())

	attendees, surveys := g.cache.snapshot()
	if err := g.fallback.ReplaceAll(ctx, attendees, surveys); err != nil {
		logger.ErrorContext(ctx, "failed to seed local fallback", "error", err)
		return false
	}
	g.store = g.fallback
	g.remote = false
	g.pending = true
	if g.onFailover != nil {
		g.onFailover()
	}
	return true
}

// emit notifies observers and, for local mutations, the publisher. Callers
// hold g.mu.
func (g *Gateway) emit(ctx context.Context, logger *slog.Logger, m persistence.Mutation, remote bool) {
	g.changes.Broadcast(Change{Kind: m.Kind, Collections: m.Collections(), Remote: remote, At: g.now().UTC()})
	if remote || g.publisher == nil {
		return
	}
	if err := g.publisher.Publish(ctx, m); err != nil {
		logger.WarnContext(ctx, "failed to publish mutation", "kind", m.Kind, "error", err)
	}
}

// Refresh reloads the cache from the bound store. Concurrent calls share one
// reload.
func (g *Gateway) Refresh(ctx context.Context) error {
	_, err, _ := g.refresh.Do("refresh", func() (any, error) {
		g.mu.Lock()
		defer g.mu.Unlock()
		return nil, g.reload(ctx, g.loggerWith(ctx, "Refresh"))
	})
	return err
}

func (g *Gateway) reload(ctx context.Context, logger *slog.Logger) error {
	attendees, surveys, err := g.readAll(ctx, logger)
	if err != nil {
		return err
	}
	g.cache.setAttendees(attendees)
	g.cache.setSurveys(surveys)
	return nil
}

// readAll lists both collections from the bound store, failing over once.
func (g *Gateway) readAll(ctx context.Context, logger *slog.Logger) ([]persistence.Attendee, []persistence.SurveyResponse, error) {
	attendees, err := g.store.ListAttendees(ctx)
	if g.failover(ctx, logger, err) {
		attendees, err = g.store.ListAttendees(ctx)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("list attendees: %w", err)
	}
	surveys, err := g.store.ListSurveys(ctx)
	if g.failover(ctx, logger, err) {
		surveys, err = g.store.ListSurveys(ctx)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("list surveys: %w", err)
	}
	return attendees, surveys, nil
}

// ListAttendees reads attendees from the store and refreshes the cache.
func (g *Gateway) ListAttendees(ctx context.Context) ([]persistence.Attendee, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	logger := g.loggerWith(ctx, "ListAttendees")

	attendees, err := g.store.ListAttendees(ctx)
	if g.failover(ctx, logger, err) {
		attendees, err = g.store.ListAttendees(ctx)
	}
	if err != nil {
		logResult(ctx, logger, err, "failed to list attendees")
		return nil, err
	}
	g.cache.setAttendees(attendees)
	return g.cache.listAttendees(), nil
}

// AddAttendee registers a new absent attendee.
func (g *Gateway) AddAttendee(ctx context.Context, name, group string) (attendee persistence.Attendee, err error) {
	logger := g.loggerWith(ctx, "AddAttendee")
	defer func() {
		if err != nil {
			logResult(ctx, logger, err, "failed to add attendee")
			return
		}
		logger.With("attendee_id", attendee.ID).InfoContext(ctx, "attendee added")
	}()

	name = strings.TrimSpace(name)
	if name == "" {
		vErr := &persistence.ValidationError{}
		vErr.Add("name", "name is required")
		err = vErr
		return
	}
	group = strings.TrimSpace(group)
	if group == "" {
		group = persistence.DefaultGroup
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.cache.hasName(name) {
		err = persistence.ErrDuplicateName
		return
	}

	now := g.now().UTC()
	candidate := persistence.Attendee{ID: g.newID(), Name: name, Group: group, CreatedAt: now, UpdatedAt: now}
	err = g.store.CreateAttendee(ctx, candidate)
	if g.failover(ctx, logger, err) {
		err = g.store.CreateAttendee(ctx, candidate)
	}
	if err != nil {
		return
	}

	attendee = candidate
	g.cache.insertAttendee(attendee)
	g.emit(ctx, logger, persistence.Mutation{Kind: persistence.MutationAttendeeAdded, Attendees: []persistence.Attendee{attendee}}, false)
	return
}

// SetPresence marks an attendee present or absent. Presence and arrival time
// are computed from one instant and written in one store operation.
func (g *Gateway) SetPresence(ctx context.Context, id string, present bool) (attendee persistence.Attendee, err error) {
	logger := g.loggerWith(ctx, "SetPresence", "attendee_id", id, "present", present)
	defer func() {
		if err != nil {
			logResult(ctx, logger, err, "failed to set presence")
			return
		}
		logger.InfoContext(ctx, "presence updated")
	}()

	g.mu.Lock()
	defer g.mu.Unlock()

	at := g.now().UTC()
	attendee, err = g.store.SetPresence(ctx, id, present, at)
	if g.failover(ctx, logger, err) {
		attendee, err = g.store.SetPresence(ctx, id, present, at)
	}
	if err != nil {
		return
	}

	if !g.cache.replaceAttendee(attendee) {
		g.cache.insertAttendee(attendee)
	}
	g.emit(ctx, logger, persistence.Mutation{Kind: persistence.MutationAttendeeUpdated, Attendees: []persistence.Attendee{attendee}}, false)
	return
}

// RemoveAttendee deletes an attendee. Unknown ids report removed=false
// without an error.
func (g *Gateway) RemoveAttendee(ctx context.Context, id string) (removed bool, err error) {
	logger := g.loggerWith(ctx, "RemoveAttendee", "attendee_id", id)
	defer func() {
		if err != nil {
			logResult(ctx, logger, err, "failed to remove attendee")
			return
		}
		logger.InfoContext(ctx, "attendee removal processed", "removed", removed)
	}()

	g.mu.Lock()
	defer g.mu.Unlock()

	record, cached := g.cache.findAttendee(id)
	removed, err = g.store.DeleteAttendee(ctx, id)
	if g.failover(ctx, logger, err) {
		removed, err = g.store.DeleteAttendee(ctx, id)
	}
	if errors.Is(err, persistence.ErrNotFound) {
		removed, err = false, nil
	}
	if err != nil {
		return
	}

	g.cache.removeAttendee(id)
	if !removed {
		return
	}
	if !cached {
		record = persistence.Attendee{ID: id}
	}
	g.emit(ctx, logger, persistence.Mutation{Kind: persistence.MutationAttendeeRemoved, Attendees: []persistence.Attendee{record}}, false)
	return
}

// ClearAttendees removes every attendee.
func (g *Gateway) ClearAttendees(ctx context.Context) (err error) {
	logger := g.loggerWith(ctx, "ClearAttendees")
	defer func() {
		if err != nil {
			logResult(ctx, logger, err, "failed to clear attendees")
			return
		}
		logger.InfoContext(ctx, "attendees cleared")
	}()

	g.mu.Lock()
	defer g.mu.Unlock()

	err = g.store.ClearAttendees(ctx)
	if g.failover(ctx, logger, err) {
		err = g.store.ClearAttendees(ctx)
	}
	if err != nil {
		return
	}
	g.cache.setAttendees(nil)
	g.emit(ctx, logger, persistence.Mutation{Kind: persistence.MutationBulkCleared, Collection: persistence.CollectionAttendees}, false)
	return
}

// ListSurveys reads survey responses from the store and refreshes the cache.
func (g *Gateway) ListSurveys(ctx context.Context) ([]persistence.SurveyResponse, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	logger := g.loggerWith(ctx, "ListSurveys")

	surveys, err := g.store.ListSurveys(ctx)
	if g.failover(ctx, logger, err) {
		surveys, err = g.store.ListSurveys(ctx)
	}
	if err != nil {
		logResult(ctx, logger, err, "failed to list surveys")
		return nil, err
	}
	g.cache.setSurveys(surveys)
	return g.cache.listSurveys(), nil
}

// AddSurvey validates and stores a survey submission.
func (g *Gateway) AddSurvey(ctx context.Context, input SurveyInput) (survey persistence.SurveyResponse, err error) {
	logger := g.loggerWith(ctx, "AddSurvey")
	defer func() {
		if err != nil {
			logResult(ctx, logger, err, "failed to add survey")
			return
		}
		logger.With("survey_id", survey.ID).InfoContext(ctx, "survey added")
	}()

	candidate := persistence.SurveyResponse{
		ParticipantName:  strings.TrimSpace(input.ParticipantName),
		Score:            input.Score,
		QualityRating:    input.QualityRating,
		InstructorRating: input.InstructorRating,
		Comments:         strings.TrimSpace(input.Comments),
	}
	if vErr := persistence.ValidateSurvey(candidate); vErr.HasErrors() {
		err = vErr
		return
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	candidate.ID = g.newID()
	candidate.CreatedAt = g.now().UTC()
	err = g.store.CreateSurvey(ctx, candidate)
	if g.failover(ctx, logger, err) {
		err = g.store.CreateSurvey(ctx, candidate)
	}
	if err != nil {
		return
	}

	survey = candidate
	g.cache.insertSurvey(survey)
	g.emit(ctx, logger, persistence.Mutation{Kind: persistence.MutationSurveyAdded, Surveys: []persistence.SurveyResponse{survey}}, false)
	return
}

// ClearSurveys removes every survey response.
func (g *Gateway) ClearSurveys(ctx context.Context) (err error) {
	logger := g.loggerWith(ctx, "ClearSurveys")
	defer func() {
		if err != nil {
			logResult(ctx, logger, err, "failed to clear surveys")
			return
		}
		logger.InfoContext(ctx, "surveys cleared")
	}()

	g.mu.Lock()
	defer g.mu.Unlock()

	err = g.store.ClearSurveys(ctx)
	if g.failover(ctx, logger, err) {
		err = g.store.ClearSurveys(ctx)
	}
	if err != nil {
		return
	}
	g.cache.setSurveys(nil)
	g.emit(ctx, logger, persistence.Mutation{Kind: persistence.MutationBulkCleared, Collection: persistence.CollectionSurveys}, false)
	return
}

// ExportSnapshot returns both collections as read from the store.
func (g *Gateway) ExportSnapshot(ctx context.Context) (persistence.Snapshot, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	logger := g.loggerWith(ctx, "ExportSnapshot")

	if err := g.reload(ctx, logger); err != nil {
		logResult(ctx, logger, err, "failed to export snapshot")
		return persistence.Snapshot{}, err
	}
	attendees, surveys := g.cache.snapshot()
	snapshot := persistence.NewSnapshot(attendees, surveys, g.now())
	logger.InfoContext(ctx, "snapshot exported", "attendees", len(snapshot.Attendees), "surveys", len(snapshot.Surveys))
	return snapshot, nil
}

// ImportSnapshot replaces all records with the snapshot. A collection absent
// from the snapshot is replaced by an empty one.
func (g *Gateway) ImportSnapshot(ctx context.Context, snapshot persistence.Snapshot) (err error) {
	logger := g.loggerWith(ctx, "ImportSnapshot")
	defer func() {
		if err != nil {
			logResult(ctx, logger, err, "failed to import snapshot")
			return
		}
		logger.InfoContext(ctx, "snapshot imported", "attendees", len(snapshot.Attendees), "surveys", len(snapshot.Surveys))
	}()

	if err = snapshot.Validate(); err != nil {
		return
	}
	attendees := persistence.CloneAttendees(snapshot.Attendees)
	if attendees == nil {
		attendees = []persistence.Attendee{}
	}
	surveys := persistence.CloneSurveys(snapshot.Surveys)
	if surveys == nil {
		surveys = []persistence.SurveyResponse{}
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	err = g.store.ReplaceAll(ctx, attendees, surveys)
	if g.failover(ctx, logger, err) {
		err = g.store.ReplaceAll(ctx, attendees, surveys)
	}
	if err != nil {
		return
	}
	persistence.SortAttendees(attendees)
	persistence.SortSurveys(surveys)
	g.cache.setAttendees(attendees)
	g.cache.setSurveys(surveys)
	g.emit(ctx, logger, persistence.Mutation{Kind: persistence.MutationOfflineResync, Attendees: attendees, Surveys: surveys}, false)
	return
}

// Stats summarizes the cached records.
func (g *Gateway) Stats() Stats {
	attendees, surveys := g.cache.snapshot()
	return Stats{
		Attendance: report.ComputeAttendance(attendees),
		Surveys:    report.SummarizeSurveys(surveys),
	}
}
