package service

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/receivables/internal/audit/domain"
	"github.com/smallbiznis/receivables/internal/audit/masking"
	"github.com/smallbiznis/receivables/internal/auditcontext"
	"github.com/smallbiznis/receivables/internal/clock"
	"github.com/smallbiznis/receivables/internal/config"
	"github.com/smallbiznis/receivables/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const defaultQueueSize = 1024

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	GenID     *snowflake.Node
	Repo      auditdomain.Repository
	Config    config.Config
	Clock     clock.Clock  `optional:"true"`
	Lifecycle fx.Lifecycle `optional:"true"`
}

type job struct {
	entry   *auditdomain.ActivityLog
	flushed chan struct{}
}

// Service writes activity logs through a bounded queue drained by a single
// worker, so ledger requests never wait on the activity table.
type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	repo  auditdomain.Repository
	clock clock.Clock

	queue chan job

	mu      sync.RWMutex
	closed  bool
	started bool
	done    chan struct{}
}

func NewService(p Params) auditdomain.Service {
	size := p.Config.Activity.QueueSize
	if size <= 0 {
		size = defaultQueueSize
	}
	clk := p.Clock
	if clk == nil {
		clk = clock.New()
	}
	s := &Service{
		db:    p.DB,
		log:   p.Log.Named("audit.service"),
		genID: p.GenID,
		repo:  p.Repo,
		clock: clk,
		queue: make(chan job, size),
		done:  make(chan struct{}),
	}

	if p.Lifecycle == nil {
		s.Start()
		return s
	}
	p.Lifecycle.Append(fx.Hook{
		OnStart: func(context.Context) error {
			s.Start()
			return nil
		},
		OnStop: s.Stop,
	})
	return s
}

// Start launches the queue worker. Calling it twice is a no-op.
func (s *Service) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	go s.run()
}

// Stop refuses new events and waits for the queue to drain or ctx to expire.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	started := s.started
	close(s.queue)
	s.mu.Unlock()

	if !started {
		return nil
	}
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		s.log.Warn("activity queue not drained before shutdown", zap.Int("pending", len(s.queue)))
		return ctx.Err()
	}
}

func (s *Service) run() {
	defer close(s.done)
	for j := range s.queue {
		if j.flushed != nil {
			close(j.flushed)
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := s.repo.Insert(ctx, s.db, j.entry); err != nil {
			s.log.Warn("failed to write activity log",
				zap.String("action", j.entry.Action),
				zap.String("target_type", j.entry.TargetType),
				zap.Error(err),
			)
		}
		cancel()
	}
}

func (s *Service) Record(ctx context.Context, event auditdomain.Event) {
	entry, err := s.buildEntry(ctx, event)
	if err != nil {
		s.log.Warn("dropping invalid activity event", zap.Error(err))
		return
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		s.log.Warn("activity recorder stopped, dropping event", zap.String("action", entry.Action))
		return
	}
	select {
	case s.queue <- job{entry: entry}:
	default:
		s.log.Warn("activity queue full, dropping event",
			zap.String("action", entry.Action),
			zap.Int("capacity", cap(s.queue)),
		)
	}
}

func (s *Service) Write(ctx context.Context, event auditdomain.Event) error {
	entry, err := s.buildEntry(ctx, event)
	if err != nil {
		return err
	}
	if err := s.repo.Insert(ctx, s.db, entry); err != nil {
		s.log.Warn("failed to write activity log", zap.String("action", entry.Action), zap.Error(err))
		return err
	}
	return nil
}

func (s *Service) Flush(ctx context.Context) error {
	marker := make(chan struct{})

	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return nil
	}
	select {
	case s.queue <- job{flushed: marker}:
	case <-ctx.Done():
		s.mu.RUnlock()
		return ctx.Err()
	}
	s.mu.RUnlock()

	select {
	case <-marker:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) buildEntry(ctx context.Context, event auditdomain.Event) (*auditdomain.ActivityLog, error) {
	action := strings.TrimSpace(event.Action)
	if action == "" {
		return nil, auditdomain.ErrInvalidAction
	}
	targetType := strings.TrimSpace(event.TargetType)
	if targetType == "" {
		targetType = "unknown"
	}

	actorType, actorID := auditcontext.ActorFromContext(ctx)
	if actorType == "" {
		actorType = string(auditdomain.ActorTypeSystem)
	}

	entry := &auditdomain.ActivityLog{
		ID:          s.genID.Generate(),
		Action:      action,
		Description: strings.TrimSpace(event.Description),
		ActorType:   actorType,
		ActorID:     normalize(actorID),
		ActorName:   auditcontext.ActorNameFromContext(ctx),
		TargetType:  targetType,
		TargetID:    normalize(event.TargetID),
		Before:      toJSONMap(masking.MaskJSON(event.Before)),
		After:       toJSONMap(masking.MaskJSON(event.After)),
		Metadata:    toJSONMap(masking.MaskJSON(event.Metadata)),
		RequestID:   normalize(auditcontext.RequestIDFromContext(ctx)),
		IPAddress:   normalize(auditcontext.IPAddressFromContext(ctx)),
		UserAgent:   normalize(auditcontext.UserAgentFromContext(ctx)),
		CreatedAt:   s.clock.Now().UTC(),
	}
	return entry, nil
}

func (s *Service) List(ctx context.Context, req auditdomain.ListActivityRequest) (auditdomain.ListActivityResponse, error) {
	if req.StartAt != nil && req.EndAt != nil && req.StartAt.After(*req.EndAt) {
		return auditdomain.ListActivityResponse{}, auditdomain.ErrInvalidTimeRange
	}

	var cursor *auditdomain.ActivityCursor
	if strings.TrimSpace(req.PageToken) != "" {
		key, err := pagination.ParseToken(req.PageToken)
		if err != nil {
			return auditdomain.ListActivityResponse{}, auditdomain.ErrInvalidPageToken
		}
		cursor = &auditdomain.ActivityCursor{ID: snowflake.ID(key.ID), CreatedAt: key.CreatedAt}
	}
	pageSize := req.Limit(50, 250)

	items, err := s.repo.List(ctx, s.db, auditdomain.ListFilter{
		Action:     req.Action,
		TargetType: req.TargetType,
		TargetID:   req.TargetID,
		ActorID:    req.ActorID,
		StartAt:    req.StartAt,
		EndAt:      req.EndAt,
		Cursor:     cursor,
		Limit:      pageSize,
	})
	if err != nil {
		return auditdomain.ListActivityResponse{}, err
	}

	items, pageInfo := pagination.Page(items, pageSize, func(item *auditdomain.ActivityLog) pagination.Keyset {
		return pagination.Keyset{ID: item.ID.Int64(), CreatedAt: item.CreatedAt}
	})

	logs := make([]auditdomain.ActivityLog, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		logs = append(logs, *item)
	}

	return auditdomain.ListActivityResponse{Activities: logs, PageInfo: pageInfo}, nil
}

func toJSONMap(input map[string]any) datatypes.JSONMap {
	if len(input) == 0 {
		return nil
	}
	return datatypes.JSONMap(input)
}

func normalize(value string) *string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
