package core

import (
	"context"
	"io"
	"sort"
	"time"

	"fmeacore/internal/analytics"
	"fmeacore/internal/filter"
	"fmeacore/internal/infra/persistence/memory"
	"fmeacore/pkg/domain"
)

// CommitHook receives the changes of every committed transaction.
type CommitHook = memory.CommitHook

// ChangePublisher forwards committed changes to an external system.
type ChangePublisher interface {
	Publish(ctx context.Context, changes []Change) error
}

// Service exposes transactional study, item and action operations plus the
// read-side worksheet and dashboard views.
type Service struct {
	store     PersistentStore
	engine    *RulesEngine
	logger    Logger
	clock     Clock
	audit     AuditRecorder
	metrics   MetricsRecorder
	tracer    Tracer
	publisher ChangePublisher
	threshold int
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithLogger sets the structured logger. A nil logger disables logging.
func WithLogger(logger Logger) ServiceOption {
	return func(s *Service) {
		if logger == nil {
			logger = noopLogger{}
		}
		s.logger = logger
	}
}

// WithClock overrides the time source for audit entries and record timestamps.
func WithClock(clock Clock) ServiceOption {
	return func(s *Service) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithAuditRecorder installs an audit sink for mutating operations.
func WithAuditRecorder(recorder AuditRecorder) ServiceOption {
	return func(s *Service) {
		if recorder != nil {
			s.audit = recorder
		}
	}
}

// WithMetricsRecorder installs a metrics sink for every operation.
func WithMetricsRecorder(recorder MetricsRecorder) ServiceOption {
	return func(s *Service) {
		if recorder != nil {
			s.metrics = recorder
		}
	}
}

// WithTracer installs a tracer for every operation.
func WithTracer(tracer Tracer) ServiceOption {
	return func(s *Service) {
		if tracer != nil {
			s.tracer = tracer
		}
	}
}

// WithChangePublisher forwards committed changes to p. The store must support
// commit hooks; publish failures are logged and never affect the commit.
func WithChangePublisher(p ChangePublisher) ServiceOption {
	return func(s *Service) { s.publisher = p }
}

// WithHighRPNThreshold sets the threshold used by summaries. Values <= 0 keep the default.
func WithHighRPNThreshold(threshold int) ServiceOption {
	return func(s *Service) {
		if threshold > 0 {
			s.threshold = threshold
		}
	}
}

type rulesEngineProvider interface {
	RulesEngine() *RulesEngine
}

type nowFuncSetter interface {
	SetNowFunc(func() time.Time)
}

type commitNotifier interface {
	OnCommit(CommitHook)
}

// NewService constructs a service backed by the supplied store.
func NewService(store PersistentStore, opts ...ServiceOption) *Service {
	svc := &Service{
		store:     store,
		engine:    extractRulesEngine(store),
		logger:    noopLogger{},
		clock:     ClockFunc(nil),
		audit:     noopAuditRecorder{},
		metrics:   noopMetricsRecorder{},
		tracer:    noopTracer{},
		threshold: DefaultHighRPNThreshold,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(svc)
		}
	}
	selectNowFunc(store, svc.clock)
	if svc.publisher != nil {
		svc.attachPublisher()
	}
	return svc
}

// NewInMemoryService creates a service and in-memory store with the given rules engine.
// A nil engine selects the default rule set.
func NewInMemoryService(engine *RulesEngine, opts ...ServiceOption) *Service {
	if engine == nil {
		engine = NewDefaultRulesEngine()
	}
	return NewService(NewMemoryStore(engine), opts...)
}

func extractRulesEngine(store PersistentStore) *RulesEngine {
	if p, ok := store.(rulesEngineProvider); ok {
		return p.RulesEngine()
	}
	return nil
}

func selectNowFunc(store PersistentStore, clock Clock) {
	setter, ok := store.(nowFuncSetter)
	if !ok || clock == nil {
		return
	}
	setter.SetNowFunc(func() time.Time { return clock.Now().UTC() })
}

func (s *Service) attachPublisher() {
	notifier, ok := s.store.(commitNotifier)
	if !ok {
		s.logger.Warn("store does not support commit hooks; change events disabled")
		return
	}
	publisher, logger := s.publisher, s.logger
	notifier.OnCommit(func(ctx context.Context, changes []Change) {
		if err := publisher.Publish(ctx, changes); err != nil {
			logger.Warn("publish changes failed", "changes", len(changes), "error", err)
		}
	})
}

// Store returns the underlying storage implementation.
func (s *Service) Store() PersistentStore { return s.store }

// RulesEngine returns the engine evaluated on every commit, if the store exposes one.
func (s *Service) RulesEngine() *RulesEngine { return s.engine }

// HighRPNThreshold returns the threshold used by summaries.
func (s *Service) HighRPNThreshold() int { return s.threshold }

// Now returns the service clock time.
func (s *Service) Now() time.Time { return s.clock.Now() }

// Close releases the store when it holds external resources.
func (s *Service) Close() error {
	if c, ok := s.store.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func (s *Service) run(ctx context.Context, op string, fn func(context.Context) (entityID, studyID string, err error)) error {
	ctx, span := s.tracer.Start(ctx, op)
	start := time.Now()
	entityID, studyID, err := fn(ctx)
	duration := time.Since(start)
	s.metrics.Observe(ctx, op, err == nil, duration)
	span.End(err)
	if err != nil {
		s.logger.Warn("fmeacore operation failed", "operation", op, "entity_id", entityID, "study_id", studyID, "error", err)
		s.recordAuditError(ctx, op, entityID, studyID, duration, err)
		return err
	}
	s.logger.Debug("fmeacore operation", "operation", op, "entity_id", entityID, "study_id", studyID, "duration", duration)
	s.recordAuditSuccess(ctx, op, entityID, studyID, duration)
	return nil
}

func (s *Service) recordAuditSuccess(ctx context.Context, op, entityID, studyID string, duration time.Duration) {
	s.recordAudit(ctx, op, entityID, studyID, duration, nil)
}

func (s *Service) recordAuditError(ctx context.Context, op, entityID, studyID string, duration time.Duration, err error) {
	s.recordAudit(ctx, op, entityID, studyID, duration, err)
}

func (s *Service) recordAudit(ctx context.Context, op, entityID, studyID string, duration time.Duration, err error) {
	meta, ok := operationMetadata[op]
	if !ok {
		return
	}
	entry := AuditEntry{
		Operation: op,
		Entity:    meta.entity,
		Action:    meta.action,
		EntityID:  entityID,
		StudyID:   studyID,
		Status:    AuditStatusSuccess,
		Duration:  duration,
		Timestamp: s.clock.Now(),
	}
	if err != nil {
		entry.Status = AuditStatusError
		entry.Error = err.Error()
	}
	s.audit.Record(ctx, entry)
}

// CreateStudy persists a study built from a completed wizard draft.
func (s *Service) CreateStudy(ctx context.Context, draft StudyDraft) (Study, Result, error) {
	var (
		created Study
		res     Result
	)
	err := s.run(ctx, "create_study", func(ctx context.Context) (string, string, error) {
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx Transaction) error {
			var err error
			created, err = tx.CreateStudy(draft.Study())
			return err
		})
		return created.ID, created.ID, err
	})
	return created, res, err
}

// GetStudy returns a study by id.
func (s *Service) GetStudy(ctx context.Context, id string) (Study, error) {
	var study Study
	err := s.run(ctx, "get_study", func(context.Context) (string, string, error) {
		var ok bool
		study, ok = s.store.GetStudy(id)
		if !ok {
			return id, id, NotFoundError{Entity: EntityStudy, ID: id}
		}
		return id, id, nil
	})
	return study, err
}

// ListStudies returns the studies matching q, most recently updated first.
func (s *Service) ListStudies(ctx context.Context, q StudyQuery) ([]Study, error) {
	var out []Study
	err := s.run(ctx, "list_studies", func(context.Context) (string, string, error) {
		query, err := q.normalize()
		if err != nil {
			return "", "", err
		}
		matched := make([]Study, 0)
		for _, study := range s.store.ListStudies() {
			if query.match(study) {
				matched = append(matched, study)
			}
		}
		sort.SliceStable(matched, func(i, j int) bool {
			return matched[i].UpdatedAt.After(matched[j].UpdatedAt)
		})
		if query.Skip >= len(matched) {
			out = []Study{}
			return "", "", nil
		}
		matched = matched[query.Skip:]
		if len(matched) > query.Limit {
			matched = matched[:query.Limit]
		}
		out = matched
		return "", "", nil
	})
	return out, err
}

// UpdateStudy merges patch into the study. Narrowed rating ranges must still
// hold every existing item.
func (s *Service) UpdateStudy(ctx context.Context, id string, patch StudyPatch) (Study, Result, error) {
	var (
		updated Study
		res     Result
	)
	err := s.run(ctx, "update_study", func(ctx context.Context) (string, string, error) {
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx Transaction) error {
			var err error
			updated, err = tx.UpdateStudy(id, func(study *Study) error {
				patch.apply(study)
				return nil
			})
			return err
		})
		return id, id, err
	})
	return updated, res, err
}

// DeleteStudy removes a study together with its items and actions.
func (s *Service) DeleteStudy(ctx context.Context, id string) (Result, error) {
	var res Result
	err := s.run(ctx, "delete_study", func(ctx context.Context) (string, string, error) {
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx Transaction) error {
			return tx.DeleteStudy(id)
		})
		return id, id, err
	})
	return res, err
}

func itemInStudy(view domain.RuleView, studyID, itemID string) (Item, error) {
	if _, ok := view.FindStudy(studyID); !ok {
		return Item{}, NotFoundError{Entity: EntityStudy, ID: studyID}
	}
	item, ok := view.FindItem(itemID)
	if !ok || item.StudyID != studyID {
		return Item{}, NotFoundError{Entity: EntityItem, ID: itemID}
	}
	return item, nil
}

func actionInStudy(view domain.RuleView, studyID, actionID string) (Action, error) {
	if _, ok := view.FindStudy(studyID); !ok {
		return Action{}, NotFoundError{Entity: EntityStudy, ID: studyID}
	}
	action, ok := view.FindAction(actionID)
	if !ok || action.StudyID != studyID {
		return Action{}, NotFoundError{Entity: EntityAction, ID: actionID}
	}
	return action, nil
}

// CreateItem adds a worksheet row to a study.
func (s *Service) CreateItem(ctx context.Context, studyID string, in ItemInput) (Item, Result, error) {
	var (
		created Item
		res     Result
	)
	err := s.run(ctx, "create_item", func(ctx context.Context) (string, string, error) {
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx Transaction) error {
			var err error
			created, err = tx.CreateItem(in.item(studyID))
			return err
		})
		return created.ID, studyID, err
	})
	return created, res, err
}

// GetItem returns an item of the study.
func (s *Service) GetItem(ctx context.Context, studyID, itemID string) (Item, error) {
	var item Item
	err := s.run(ctx, "get_item", func(ctx context.Context) (string, string, error) {
		return itemID, studyID, s.store.View(ctx, func(view TransactionView) error {
			var err error
			item, err = itemInStudy(view, studyID, itemID)
			return err
		})
	})
	return item, err
}

// UpdateItem merges patch into an item of the study and recomputes its scores.
func (s *Service) UpdateItem(ctx context.Context, studyID, itemID string, patch ItemPatch) (Item, Result, error) {
	var (
		updated Item
		res     Result
	)
	err := s.run(ctx, "update_item", func(ctx context.Context) (string, string, error) {
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx Transaction) error {
			if _, err := itemInStudy(tx.Snapshot(), studyID, itemID); err != nil {
				return err
			}
			var err error
			updated, err = tx.UpdateItem(itemID, func(item *Item) error {
				patch.apply(item)
				return nil
			})
			return err
		})
		return itemID, studyID, err
	})
	return updated, res, err
}

// DeleteItem removes an item of the study. Linked actions keep existing unlinked.
func (s *Service) DeleteItem(ctx context.Context, studyID, itemID string) (Result, error) {
	var res Result
	err := s.run(ctx, "delete_item", func(ctx context.Context) (string, string, error) {
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx Transaction) error {
			if _, err := itemInStudy(tx.Snapshot(), studyID, itemID); err != nil {
				return err
			}
			return tx.DeleteItem(itemID)
		})
		return itemID, studyID, err
	})
	return res, err
}

// ListItems returns the study's items in insertion order.
func (s *Service) ListItems(ctx context.Context, studyID string) ([]Item, error) {
	var items []Item
	err := s.run(ctx, "list_items", func(ctx context.Context) (string, string, error) {
		return "", studyID, s.store.View(ctx, func(view TransactionView) error {
			if _, ok := view.FindStudy(studyID); !ok {
				return NotFoundError{Entity: EntityStudy, ID: studyID}
			}
			items = view.ListItems(studyID)
			return nil
		})
	})
	return items, err
}

// ItemQuery filters a study's items and optionally orders them by RPN.
type ItemQuery struct {
	filter.Criteria
	Sort string `form:"sort" json:"sort,omitempty"`
}

// QueryItems filters the study's items. Sort "rpn" orders by RPN descending,
// keeping insertion order on ties; any other value keeps insertion order.
func (s *Service) QueryItems(ctx context.Context, studyID string, q ItemQuery) ([]Item, error) {
	items, err := s.ListItems(ctx, studyID)
	if err != nil {
		return nil, err
	}
	rows, err := filter.Apply(items, q.Criteria)
	if err != nil {
		return nil, err
	}
	if q.Sort == SortByRPN {
		rows = analytics.RankByRPN(rows)
	}
	return rows, nil
}

// CreateAction adds a mitigation action to a study.
func (s *Service) CreateAction(ctx context.Context, studyID string, in ActionInput) (Action, Result, error) {
	var (
		created Action
		res     Result
	)
	err := s.run(ctx, "create_action", func(ctx context.Context) (string, string, error) {
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx Transaction) error {
			var err error
			created, err = tx.CreateAction(in.action(studyID))
			return err
		})
		return created.ID, studyID, err
	})
	return created, res, err
}

// GetAction returns an action of the study.
func (s *Service) GetAction(ctx context.Context, studyID, actionID string) (Action, error) {
	var action Action
	err := s.run(ctx, "get_action", func(ctx context.Context) (string, string, error) {
		return actionID, studyID, s.store.View(ctx, func(view TransactionView) error {
			var err error
			action, err = actionInStudy(view, studyID, actionID)
			return err
		})
	})
	return action, err
}

// UpdateAction merges patch into an action of the study.
func (s *Service) UpdateAction(ctx context.Context, studyID, actionID string, patch ActionPatch) (Action, Result, error) {
	var (
		updated Action
		res     Result
	)
	err := s.run(ctx, "update_action", func(ctx context.Context) (string, string, error) {
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx Transaction) error {
			if _, err := actionInStudy(tx.Snapshot(), studyID, actionID); err != nil {
				return err
			}
			var err error
			updated, err = tx.UpdateAction(actionID, func(a *Action) error {
				patch.apply(a)
				return nil
			})
			return err
		})
		return actionID, studyID, err
	})
	return updated, res, err
}

// DeleteAction removes an action of the study.
func (s *Service) DeleteAction(ctx context.Context, studyID, actionID string) (Result, error) {
	var res Result
	err := s.run(ctx, "delete_action", func(ctx context.Context) (string, string, error) {
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx Transaction) error {
			if _, err := actionInStudy(tx.Snapshot(), studyID, actionID); err != nil {
				return err
			}
			return tx.DeleteAction(actionID)
		})
		return actionID, studyID, err
	})
	return res, err
}

// ListActions returns the study's actions, optionally restricted to one status.
func (s *Service) ListActions(ctx context.Context, studyID string, status domain.ActionStatus) ([]Action, error) {
	var actions []Action
	err := s.run(ctx, "list_actions", func(ctx context.Context) (string, string, error) {
		if status != "" && !status.Valid() {
			return "", studyID, ValidationError{Field: "status", Message: "unknown action status " + string(status)}
		}
		return "", studyID, s.store.View(ctx, func(view TransactionView) error {
			if _, ok := view.FindStudy(studyID); !ok {
				return NotFoundError{Entity: EntityStudy, ID: studyID}
			}
			all := view.ListActions(studyID)
			actions = make([]Action, 0, len(all))
			for _, a := range all {
				if status == "" || a.Status == status {
					actions = append(actions, a)
				}
			}
			return nil
		})
	})
	return actions, err
}

// OverdueActions lists the study's actions past due that are still open.
// Statuses are left untouched.
func (s *Service) OverdueActions(ctx context.Context, studyID string) ([]Action, error) {
	actions, err := s.ListActions(ctx, studyID, "")
	if err != nil {
		return nil, err
	}
	return analytics.OverdueCandidates(actions, s.clock.Now()), nil
}

// DashboardSummary rolls up every study, item and action.
func (s *Service) DashboardSummary(ctx context.Context, q SummaryQuery) (analytics.Summary, error) {
	var summary analytics.Summary
	err := s.run(ctx, "dashboard_summary", func(ctx context.Context) (string, string, error) {
		threshold, err := q.threshold(s.threshold)
		if err != nil {
			return "", "", err
		}
		return "", "", s.store.View(ctx, func(view TransactionView) error {
			summary = analytics.SummarizeStudies(view.ListStudies(), view.ListItems(""), view.ListActions(""), threshold)
			return nil
		})
	})
	return summary, err
}

// StudySummary rolls up one study's items and actions.
func (s *Service) StudySummary(ctx context.Context, studyID string, q SummaryQuery) (analytics.Summary, error) {
	var summary analytics.Summary
	err := s.run(ctx, "study_summary", func(ctx context.Context) (string, string, error) {
		threshold, err := q.threshold(s.threshold)
		if err != nil {
			return "", studyID, err
		}
		return "", studyID, s.store.View(ctx, func(view TransactionView) error {
			if _, ok := view.FindStudy(studyID); !ok {
				return NotFoundError{Entity: EntityStudy, ID: studyID}
			}
			summary = analytics.Summarize(view.ListItems(studyID), view.ListActions(studyID), threshold)
			return nil
		})
	})
	return summary, err
}

// StudyWorksheet is the worksheet of one study built from a single snapshot.
type StudyWorksheet struct {
	Study   Study    `json:"study"`
	Actions []Action `json:"actions"`
	analytics.Worksheet
}

// Worksheet filters the study's items with c and derives every chart from the
// same snapshot.
func (s *Service) Worksheet(ctx context.Context, studyID string, c filter.Criteria) (StudyWorksheet, error) {
	var ws StudyWorksheet
	err := s.run(ctx, "worksheet", func(ctx context.Context) (string, string, error) {
		return "", studyID, s.store.View(ctx, func(view TransactionView) error {
			study, ok := view.FindStudy(studyID)
			if !ok {
				return NotFoundError{Entity: EntityStudy, ID: studyID}
			}
			actions := view.ListActions(studyID)
			sheet, err := analytics.BuildWorksheet(view.ListItems(studyID), actions, c, s.threshold)
			if err != nil {
				return err
			}
			ws = StudyWorksheet{Study: study, Actions: actions, Worksheet: sheet}
			return nil
		})
	})
	return ws, err
}

// RegisterRule adds a rule to the engine evaluated on every commit.
func (s *Service) RegisterRule(rule Rule) bool {
	if s.engine == nil || rule == nil {
		return false
	}
	s.engine.Register(rule)
	return true
}
