package models

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mmdatafocus/serviceengine_backend/config"
	"github.com/mmdatafocus/serviceengine_backend/utils"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
)

var tracer = otel.Tracer("github.com/mmdatafocus/serviceengine_backend/models")

// Archiver stores an immutable document outside the database.
type Archiver interface {
	Archive(ctx context.Context, objectName string, contentType string, data []byte) error
}

// SequenceCounter increments key and returns the new value. ok=false means
// the counter backend is not available and the caller falls back to counting rows.
type SequenceCounter func(ctx context.Context, key string, seed func() (int64, error)) (n int64, ok bool, err error)

// Warnings are non-fatal failures of best-effort steps. They never change the
// outcome of the primary mutation.
type Warnings []string

func (w *Warnings) Add(format string, args ...any) {
	*w = append(*w, fmt.Sprintf(format, args...))
}

// Store runs every lifecycle operation against an injected datastore handle.
type Store struct {
	db       *gorm.DB
	inTx     bool
	locker   utils.RecordLocker
	archiver Archiver
	counter  SequenceCounter
	logger   *logrus.Logger
	now      func() time.Time
}

type StoreOption func(*Store)

func WithLocker(l utils.RecordLocker) StoreOption {
	return func(s *Store) { s.locker = l }
}

func WithArchiver(a Archiver) StoreOption {
	return func(s *Store) { s.archiver = a }
}

func WithSequenceCounter(c SequenceCounter) StoreOption {
	return func(s *Store) { s.counter = c }
}

func WithLogger(l *logrus.Logger) StoreOption {
	return func(s *Store) { s.logger = l }
}

func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) { s.now = now }
}

func NewStore(db *gorm.DB, opts ...StoreOption) *Store {
	s := &Store{
		db:      db,
		counter: config.GetRedisCounter,
		logger:  config.GetLogger(),
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) DB() *gorm.DB {
	return s.db
}

func (s *Store) Now() time.Time {
	return s.now().UTC().Truncate(time.Microsecond)
}

func (s *Store) withDB(db *gorm.DB) *Store {
	clone := *s
	clone.db = db
	clone.inTx = true
	return &clone
}

// Transaction is the unit of work for multi-step mutations. Calls nested
// inside an open transaction reuse it.
func (s *Store) Transaction(ctx context.Context, fn func(tx *Store) error) error {
	if s.inTx {
		return fn(s)
	}
	tx := s.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return tx.Error
	}
	// always rollback on panic so the connection is not leaked holding locks
	defer func() {
		if r := recover(); r != nil {
			_ = tx.Rollback().Error
			panic(r)
		}
	}()
	if err := fn(s.withDB(tx)); err != nil {
		_ = tx.Rollback().Error
		return err
	}
	return tx.Commit().Error
}

// lockRecord serializes lifecycle operations on one row across requests.
// A held lock fails the request; an unreachable lock backend only adds a warning.
func (s *Store) lockRecord(ctx context.Context, table string, id string, warnings *Warnings) (utils.ReleaseFunc, error) {
	noop := func(context.Context) error { return nil }
	if s.locker == nil {
		return noop, nil
	}
	release, err := s.locker.Obtain(ctx, "lock:"+table+":"+id, config.LifecycleLockTTL())
	if errors.Is(err, utils.ErrLockHeld) {
		return nil, utils.NewFieldError("status", "The record is being updated by another request.")
	}
	if err != nil {
		warnings.Add("record lock unavailable for %s %s; proceeding without lock", table, id)
		config.LogWarn(s.logger, "models", "lockRecord", "obtain lock", map[string]string{"table": table, "id": id}, err.Error())
		return noop, nil
	}
	return release, nil
}

func (s *Store) releaseLock(ctx context.Context, release utils.ReleaseFunc, table string, id string) {
	if release == nil {
		return
	}
	if err := release(context.WithoutCancel(ctx)); err != nil {
		config.LogWarn(s.logger, "models", "releaseLock", "release lock", map[string]string{"table": table, "id": id}, err.Error())
	}
}

func orgIdFrom(ctx context.Context) (string, error) {
	orgId, ok := utils.GetOrgIdFromContext(ctx)
	if !ok {
		return "", errors.New("org id is required")
	}
	return orgId, nil
}

func startSpan(ctx context.Context, name string, id string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "models."+name, trace.WithAttributes(attribute.String("record.id", id)))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// internalError logs the cause and hides it from the caller.
func (s *Store) internalError(funcName string, step string, data any, err error) error {
	config.LogError(s.logger, "models", funcName, step, data, err)
	return utils.NewInternal("", err)
}

// isDomainError is true for errors that already carry an HTTP mapping.
func isDomainError(err error) bool {
	var nf *utils.NotFoundError
	var ve *utils.ValidationError
	var ue *utils.UnprocessableError
	var ie *utils.InternalError
	return errors.As(err, &nf) || errors.As(err, &ve) || errors.As(err, &ue) || errors.As(err, &ie) ||
		errors.Is(err, utils.ErrorRecordNotFound)
}
