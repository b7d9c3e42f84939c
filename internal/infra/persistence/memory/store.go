// Package memory provides an in-memory implementation of the FMEA persistence
// store used for tests, ephemeral environments and as the transactional engine
// underneath the snapshotting backends.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"fmeacore/pkg/domain"

	"github.com/google/uuid"
)

// Compile-time contract assertions ensuring memory.Store adheres to the domain persistence interfaces.
var (
	_ domain.PersistentStore = (*Store)(nil)
	_ domain.Transaction     = (*transaction)(nil)
	_ domain.TransactionView = transactionView{}
)

type (
	// Study aliases domain.Study for in-memory persistence operations.
	Study = domain.Study
	// Item aliases domain.Item.
	Item = domain.Item
	// Action aliases domain.Action.
	Action = domain.Action
	// Change aliases domain.Change captured in transactions.
	Change = domain.Change
	// Result aliases domain.Result summarizing rule evaluation.
	Result = domain.Result
	// RulesEngine aliases domain.RulesEngine used to evaluate rules.
	RulesEngine = domain.RulesEngine
	// Transaction aliases domain.Transaction representing a mutable unit of work.
	Transaction = domain.Transaction
	// TransactionView aliases domain.TransactionView providing read-only state.
	TransactionView = domain.TransactionView
)

// CommitHook receives the changes of every committed transaction.
type CommitHook func(ctx context.Context, changes []Change)

// Snapshot is the serialisable form of the store state, one bucket per entity.
type Snapshot struct {
	Studies map[string]Study  `json:"studies"`
	Items   map[string]Item   `json:"items"`
	Actions map[string]Action `json:"actions"`
}

type memoryState struct {
	studies map[string]Study
	items   map[string]Item
	actions map[string]Action
	seq     int64
}

func newMemoryState() memoryState {
	return memoryState{
		studies: make(map[string]Study),
		items:   make(map[string]Item),
		actions: make(map[string]Action),
	}
}

func (s memoryState) clone() memoryState {
	cloned := newMemoryState()
	cloned.seq = s.seq
	for k, v := range s.studies {
		cloned.studies[k] = cloneStudy(v)
	}
	for k, v := range s.items {
		cloned.items[k] = cloneItem(v)
	}
	for k, v := range s.actions {
		cloned.actions[k] = cloneAction(v)
	}
	return cloned
}

func snapshotFromMemoryState(state memoryState) Snapshot {
	clone := state.clone()
	return Snapshot{Studies: clone.studies, Items: clone.items, Actions: clone.actions}
}

func memoryStateFromSnapshot(snapshot Snapshot) memoryState {
	state := newMemoryState()
	for k, v := range snapshot.Studies {
		state.studies[k] = cloneStudy(v)
	}
	for k, v := range snapshot.Items {
		item := cloneItem(v)
		if item.Seq > state.seq {
			state.seq = item.Seq
		}
		state.items[k] = item
	}
	// Snapshots written before sequencing was tracked get one in creation order.
	var unsequenced []Item
	for _, item := range state.items {
		if item.Seq == 0 {
			unsequenced = append(unsequenced, item)
		}
	}
	sort.SliceStable(unsequenced, func(i, j int) bool {
		if !unsequenced[i].CreatedAt.Equal(unsequenced[j].CreatedAt) {
			return unsequenced[i].CreatedAt.Before(unsequenced[j].CreatedAt)
		}
		return unsequenced[i].ID < unsequenced[j].ID
	})
	for _, item := range unsequenced {
		state.seq++
		item.Seq = state.seq
		state.items[item.ID] = item
	}
	for k, v := range snapshot.Actions {
		state.actions[k] = cloneAction(v)
	}
	for id := range state.studies {
		recomputeStudy(&state, id)
	}
	return state
}

func cloneIntPtr(v *int) *int {
	if v == nil {
		return nil
	}
	cp := *v
	return &cp
}

func cloneTimePtr(v *time.Time) *time.Time {
	if v == nil {
		return nil
	}
	cp := *v
	return &cp
}

func cloneStudy(s Study) Study {
	cp := s
	cp.Departments = append([]string(nil), s.Departments...)
	cp.TeamMembers = append([]domain.TeamMember(nil), s.TeamMembers...)
	cp.HighestRPN = cloneIntPtr(s.HighestRPN)
	return cp
}

func cloneItem(i Item) Item {
	cp := i
	cp.TargetDate = cloneTimePtr(i.TargetDate)
	cp.NewSeverity = cloneIntPtr(i.NewSeverity)
	cp.NewOccurrence = cloneIntPtr(i.NewOccurrence)
	cp.NewDetection = cloneIntPtr(i.NewDetection)
	cp.NewRPN = cloneIntPtr(i.NewRPN)
	return cp
}

func cloneAction(a Action) Action {
	cp := a
	cp.DueDate = cloneTimePtr(a.DueDate)
	if a.ItemID != nil {
		id := *a.ItemID
		cp.ItemID = &id
	}
	return cp
}

func studyItems(state *memoryState, studyID string) []Item {
	out := make([]Item, 0)
	for _, item := range state.items {
		if studyID == "" || item.StudyID == studyID {
			out = append(out, cloneItem(item))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}

func studyActions(state *memoryState, studyID string) []Action {
	out := make([]Action, 0)
	for _, action := range state.actions {
		if studyID == "" || action.StudyID == studyID {
			out = append(out, cloneAction(action))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func sortedStudies(state *memoryState) []Study {
	out := make([]Study, 0, len(state.studies))
	for _, s := range state.studies {
		out = append(out, cloneStudy(s))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// recomputeStudy re-derives every item score in the study and then the study aggregates.
func recomputeStudy(state *memoryState, studyID string) {
	study, ok := state.studies[studyID]
	if !ok {
		return
	}
	var items []Item
	for id, item := range state.items {
		if item.StudyID != studyID {
			continue
		}
		item.Recompute()
		state.items[id] = item
		items = append(items, item)
	}
	domain.RecomputeStudy(&study, items, studyActions(state, studyID))
	state.studies[studyID] = study
}

// Store provides an in-memory transactional store for the FMEA domain.
type Store struct {
	mu     sync.RWMutex
	state  memoryState
	engine *RulesEngine
	nowFn  func() time.Time
	hooks  []CommitHook
}

// NewStore constructs an in-memory store backed by the provided rules engine.
func NewStore(engine *RulesEngine) *Store {
	if engine == nil {
		engine = domain.NewRulesEngine()
	}
	return &Store{
		state:  newMemoryState(),
		engine: engine,
		nowFn:  func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) newID() string {
	return uuid.NewString()
}

// ExportState clones the current store state for external persistence.
func (s *Store) ExportState() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return snapshotFromMemoryState(s.state)
}

// ImportState replaces the store state with the provided snapshot. Derived
// values are recomputed on import.
func (s *Store) ImportState(snapshot Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = memoryStateFromSnapshot(snapshot)
}

// RulesEngine exposes the configured engine.
func (s *Store) RulesEngine() *RulesEngine {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.engine
}

// NowFunc returns the time provider used by the in-memory store.
func (s *Store) NowFunc() func() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nowFn
}

// SetNowFunc replaces the time provider. A nil function restores the system clock.
func (s *Store) SetNowFunc(fn func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if fn == nil {
		fn = func() time.Time { return time.Now().UTC() }
	}
	s.nowFn = fn
}

// OnCommit registers a hook invoked after every successful commit, outside the store lock.
func (s *Store) OnCommit(hook CommitHook) {
	if hook == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks = append(s.hooks, hook)
}

type transaction struct {
	store   *Store
	state   memoryState
	changes []Change
	now     time.Time
}

type transactionView struct {
	state *memoryState
}

func newTransactionView(state *memoryState) TransactionView {
	return transactionView{state: state}
}

// ListStudies returns all studies in creation order.
func (v transactionView) ListStudies() []Study { return sortedStudies(v.state) }

// ListItems returns the items of a study in insertion order; an empty id lists every item.
func (v transactionView) ListItems(studyID string) []Item { return studyItems(v.state, studyID) }

// ListActions returns the actions of a study; an empty id lists every action.
func (v transactionView) ListActions(studyID string) []Action {
	return studyActions(v.state, studyID)
}

// FindStudy retrieves a study by ID from the snapshot.
func (v transactionView) FindStudy(id string) (Study, bool) {
	s, ok := v.state.studies[id]
	if !ok {
		return Study{}, false
	}
	return cloneStudy(s), true
}

// FindItem retrieves an item by ID from the snapshot.
func (v transactionView) FindItem(id string) (Item, bool) {
	i, ok := v.state.items[id]
	if !ok {
		return Item{}, false
	}
	return cloneItem(i), true
}

// FindAction retrieves an action by ID from the snapshot.
func (v transactionView) FindAction(id string) (Action, bool) {
	a, ok := v.state.actions[id]
	if !ok {
		return Action{}, false
	}
	return cloneAction(a), true
}

// RunInTransaction executes fn within a transactional copy of the store state.
// Derived values of every touched study are recomputed before rules run.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx Transaction) error) (Result, error) {
	result, changes, hooks, err := s.commit(ctx, fn)
	if err != nil {
		return result, err
	}
	if len(changes) > 0 {
		for _, hook := range hooks {
			hook(ctx, append([]Change(nil), changes...))
		}
	}
	return result, nil
}

// commit runs fn against a clone of the state under the store lock and swaps
// the clone in when fn and the rules succeed. Hooks are returned so they run
// after the lock is released.
func (s *Store) commit(ctx context.Context, fn func(tx Transaction) error) (Result, []Change, []CommitHook, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx := &transaction{
		store: s,
		state: s.state.clone(),
		now:   s.nowFn(),
	}
	if err := fn(tx); err != nil {
		return Result{}, nil, nil, err
	}
	for _, id := range domain.TouchedStudies(tx.changes) {
		recomputeStudy(&tx.state, id)
	}

	var result Result
	if s.engine != nil {
		res, err := s.engine.Evaluate(ctx, newTransactionView(&tx.state), tx.changes)
		if err != nil {
			return Result{}, nil, nil, err
		}
		result = res
		if res.HasBlocking() {
			return res, nil, nil, domain.RuleViolationError{Result: res}
		}
	}

	s.state = tx.state
	return result, tx.changes, append([]CommitHook(nil), s.hooks...), nil
}

// View executes fn against a read-only snapshot of the store state.
func (s *Store) View(_ context.Context, fn func(TransactionView) error) error {
	s.mu.RLock()
	snapshot := s.state.clone()
	s.mu.RUnlock()
	return fn(newTransactionView(&snapshot))
}

func (tx *transaction) record(entity domain.EntityType, action domain.ChangeAction, id, studyID string, before, after any) error {
	change := Change{Entity: entity, Action: action, EntityID: id, StudyID: studyID}
	if before != nil {
		p, err := domain.PayloadOf(before)
		if err != nil {
			return err
		}
		change.Before = p
	}
	if after != nil {
		p, err := domain.PayloadOf(after)
		if err != nil {
			return err
		}
		change.After = p
	}
	tx.changes = append(tx.changes, change)
	return nil
}

// Snapshot returns a read-only view over the transactional state.
func (tx *transaction) Snapshot() TransactionView {
	return newTransactionView(&tx.state)
}

// FindStudy exposes study lookup within the transaction scope.
func (tx *transaction) FindStudy(id string) (Study, bool) {
	return transactionView{state: &tx.state}.FindStudy(id)
}

// FindItem exposes item lookup within the transaction scope.
func (tx *transaction) FindItem(id string) (Item, bool) {
	return transactionView{state: &tx.state}.FindItem(id)
}

// FindAction exposes action lookup within the transaction scope.
func (tx *transaction) FindAction(id string) (Action, bool) {
	return transactionView{state: &tx.state}.FindAction(id)
}

// CreateStudy stores a new study within the transaction.
func (tx *transaction) CreateStudy(s Study) (Study, error) {
	if s.ID == "" {
		s.ID = tx.store.newID()
	}
	if _, exists := tx.state.studies[s.ID]; exists {
		return Study{}, fmt.Errorf("study %q already exists", s.ID)
	}
	if s.Status == "" {
		s.Status = domain.StudyStatusActive
	}
	if err := domain.ValidateStudy(s); err != nil {
		return Study{}, err
	}
	s.CreatedAt = tx.now
	s.UpdatedAt = tx.now
	tx.state.studies[s.ID] = cloneStudy(s)
	recomputeStudy(&tx.state, s.ID)
	created := cloneStudy(tx.state.studies[s.ID])
	if err := tx.record(domain.EntityStudy, domain.ChangeCreate, s.ID, s.ID, nil, created); err != nil {
		return Study{}, err
	}
	return created, nil
}

// UpdateStudy mutates a study. Rating range changes must still hold every
// existing item's ratings.
func (tx *transaction) UpdateStudy(id string, mutator func(*Study) error) (Study, error) {
	current, ok := tx.state.studies[id]
	if !ok {
		return Study{}, domain.NotFoundError{Entity: domain.EntityStudy, ID: id}
	}
	before := cloneStudy(current)
	if err := mutator(&current); err != nil {
		return Study{}, err
	}
	current.ID = id
	current.CreatedAt = before.CreatedAt
	current.UpdatedAt = tx.now
	if err := domain.ValidateStudy(current); err != nil {
		return Study{}, err
	}
	for _, item := range studyItems(&tx.state, id) {
		if err := domain.ValidateItem(current, item); err != nil {
			return Study{}, fmt.Errorf("item %s no longer fits the study scales: %w", item.ID, err)
		}
	}
	tx.state.studies[id] = cloneStudy(current)
	recomputeStudy(&tx.state, id)
	updated := cloneStudy(tx.state.studies[id])
	if err := tx.record(domain.EntityStudy, domain.ChangeUpdate, id, id, before, updated); err != nil {
		return Study{}, err
	}
	return updated, nil
}

// DeleteStudy removes a study together with its items and actions.
func (tx *transaction) DeleteStudy(id string) error {
	current, ok := tx.state.studies[id]
	if !ok {
		return domain.NotFoundError{Entity: domain.EntityStudy, ID: id}
	}
	for _, action := range studyActions(&tx.state, id) {
		delete(tx.state.actions, action.ID)
		if err := tx.record(domain.EntityAction, domain.ChangeDelete, action.ID, id, action, nil); err != nil {
			return err
		}
	}
	for _, item := range studyItems(&tx.state, id) {
		delete(tx.state.items, item.ID)
		if err := tx.record(domain.EntityItem, domain.ChangeDelete, item.ID, id, item, nil); err != nil {
			return err
		}
	}
	delete(tx.state.studies, id)
	return tx.record(domain.EntityStudy, domain.ChangeDelete, id, id, cloneStudy(current), nil)
}

// CreateItem stores a new worksheet row under an existing study.
func (tx *transaction) CreateItem(i Item) (Item, error) {
	study, ok := tx.state.studies[i.StudyID]
	if !ok {
		return Item{}, domain.NotFoundError{Entity: domain.EntityStudy, ID: i.StudyID}
	}
	if i.ID == "" {
		i.ID = tx.store.newID()
	}
	if _, exists := tx.state.items[i.ID]; exists {
		return Item{}, fmt.Errorf("item %q already exists", i.ID)
	}
	if i.Status == "" {
		i.Status = domain.ItemStatusOpen
	}
	if err := domain.ValidateItem(study, i); err != nil {
		return Item{}, err
	}
	tx.state.seq++
	i.Seq = tx.state.seq
	i.CreatedAt = tx.now
	i.UpdatedAt = tx.now
	i.Recompute()
	tx.state.items[i.ID] = cloneItem(i)
	recomputeStudy(&tx.state, i.StudyID)
	if err := tx.record(domain.EntityItem, domain.ChangeCreate, i.ID, i.StudyID, nil, i); err != nil {
		return Item{}, err
	}
	return cloneItem(i), nil
}

// UpdateItem mutates an item. Study membership and sequence are immutable.
func (tx *transaction) UpdateItem(id string, mutator func(*Item) error) (Item, error) {
	current, ok := tx.state.items[id]
	if !ok {
		return Item{}, domain.NotFoundError{Entity: domain.EntityItem, ID: id}
	}
	before := cloneItem(current)
	if err := mutator(&current); err != nil {
		return Item{}, err
	}
	current.ID = id
	current.StudyID = before.StudyID
	current.Seq = before.Seq
	current.CreatedAt = before.CreatedAt
	current.UpdatedAt = tx.now
	study := tx.state.studies[current.StudyID]
	if err := domain.ValidateItem(study, current); err != nil {
		return Item{}, err
	}
	current.Recompute()
	tx.state.items[id] = cloneItem(current)
	recomputeStudy(&tx.state, current.StudyID)
	if err := tx.record(domain.EntityItem, domain.ChangeUpdate, id, current.StudyID, before, current); err != nil {
		return Item{}, err
	}
	return cloneItem(current), nil
}

// DeleteItem removes an item. Actions linked to it are kept with the link cleared.
func (tx *transaction) DeleteItem(id string) error {
	current, ok := tx.state.items[id]
	if !ok {
		return domain.NotFoundError{Entity: domain.EntityItem, ID: id}
	}
	delete(tx.state.items, id)
	for _, action := range studyActions(&tx.state, current.StudyID) {
		if action.ItemID == nil || *action.ItemID != id {
			continue
		}
		before := cloneAction(action)
		action.ItemID = nil
		action.UpdatedAt = tx.now
		tx.state.actions[action.ID] = cloneAction(action)
		if err := tx.record(domain.EntityAction, domain.ChangeUpdate, action.ID, action.StudyID, before, action); err != nil {
			return err
		}
	}
	recomputeStudy(&tx.state, current.StudyID)
	return tx.record(domain.EntityItem, domain.ChangeDelete, id, current.StudyID, current, nil)
}

func (tx *transaction) checkActionItem(a Action) error {
	if a.ItemID == nil {
		return nil
	}
	item, ok := tx.state.items[*a.ItemID]
	if !ok || item.StudyID != a.StudyID {
		return domain.ReferenceError{Field: "item_id", ID: *a.ItemID, StudyID: a.StudyID}
	}
	return nil
}

// CreateAction stores a new mitigation action under an existing study.
func (tx *transaction) CreateAction(a Action) (Action, error) {
	if _, ok := tx.state.studies[a.StudyID]; !ok {
		return Action{}, domain.NotFoundError{Entity: domain.EntityStudy, ID: a.StudyID}
	}
	if a.ID == "" {
		a.ID = tx.store.newID()
	}
	if _, exists := tx.state.actions[a.ID]; exists {
		return Action{}, fmt.Errorf("action %q already exists", a.ID)
	}
	if a.Status == "" {
		a.Status = domain.ActionStatusOpen
	}
	if err := domain.ValidateAction(a); err != nil {
		return Action{}, err
	}
	if err := tx.checkActionItem(a); err != nil {
		return Action{}, err
	}
	a.CreatedAt = tx.now
	a.UpdatedAt = tx.now
	tx.state.actions[a.ID] = cloneAction(a)
	recomputeStudy(&tx.state, a.StudyID)
	if err := tx.record(domain.EntityAction, domain.ChangeCreate, a.ID, a.StudyID, nil, a); err != nil {
		return Action{}, err
	}
	return cloneAction(a), nil
}

// UpdateAction mutates an action; a changed item link is re-checked.
func (tx *transaction) UpdateAction(id string, mutator func(*Action) error) (Action, error) {
	current, ok := tx.state.actions[id]
	if !ok {
		return Action{}, domain.NotFoundError{Entity: domain.EntityAction, ID: id}
	}
	before := cloneAction(current)
	if err := mutator(&current); err != nil {
		return Action{}, err
	}
	current.ID = id
	current.StudyID = before.StudyID
	current.CreatedAt = before.CreatedAt
	current.UpdatedAt = tx.now
	if err := domain.ValidateAction(current); err != nil {
		return Action{}, err
	}
	if err := tx.checkActionItem(current); err != nil {
		return Action{}, err
	}
	tx.state.actions[id] = cloneAction(current)
	if err := tx.record(domain.EntityAction, domain.ChangeUpdate, id, current.StudyID, before, current); err != nil {
		return Action{}, err
	}
	return cloneAction(current), nil
}

// DeleteAction removes an action.
func (tx *transaction) DeleteAction(id string) error {
	current, ok := tx.state.actions[id]
	if !ok {
		return domain.NotFoundError{Entity: domain.EntityAction, ID: id}
	}
	delete(tx.state.actions, id)
	recomputeStudy(&tx.state, current.StudyID)
	return tx.record(domain.EntityAction, domain.ChangeDelete, id, current.StudyID, current, nil)
}

// GetStudy returns a study by ID.
func (s *Store) GetStudy(id string) (Study, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return transactionView{state: &s.state}.FindStudy(id)
}

// ListStudies returns all studies in creation order.
func (s *Store) ListStudies() []Study {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedStudies(&s.state)
}

// GetItem returns an item by ID.
func (s *Store) GetItem(id string) (Item, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return transactionView{state: &s.state}.FindItem(id)
}

// ListItems returns a study's items in insertion order; an empty id lists all items.
func (s *Store) ListItems(studyID string) []Item {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return studyItems(&s.state, studyID)
}

// GetAction returns an action by ID.
func (s *Store) GetAction(id string) (Action, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return transactionView{state: &s.state}.FindAction(id)
}

// ListActions returns a study's actions; an empty id lists all actions.
func (s *Store) ListActions(studyID string) []Action {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return studyActions(&s.state, studyID)
}
