package domain

import "context"

// Transaction exposes the domain operations that a persistence implementation
// must support within an atomic scope. Derived values (RPN, NewRPN, HighestRPN,
// ActionsCount) are recomputed by the implementation; callers never set them.
type Transaction interface {
	Snapshot() TransactionView
	CreateStudy(Study) (Study, error)
	UpdateStudy(id string, mutator func(*Study) error) (Study, error)
	DeleteStudy(id string) error
	CreateItem(Item) (Item, error)
	UpdateItem(id string, mutator func(*Item) error) (Item, error)
	DeleteItem(id string) error
	CreateAction(Action) (Action, error)
	UpdateAction(id string, mutator func(*Action) error) (Action, error)
	DeleteAction(id string) error
	FindStudy(id string) (Study, bool)
	FindItem(id string) (Item, bool)
	FindAction(id string) (Action, bool)
}

// TransactionView provides read-only access to snapshot data for rules.
type TransactionView interface {
	RuleView
}

// PersistentStore is a minimal abstraction over durable backends. It mirrors
// the subset of store capabilities used directly by higher layers.
type PersistentStore interface {
	RunInTransaction(ctx context.Context, fn func(Transaction) error) (Result, error)
	View(ctx context.Context, fn func(TransactionView) error) error
	GetStudy(id string) (Study, bool)
	ListStudies() []Study
	GetItem(id string) (Item, bool)
	ListItems(studyID string) []Item
	GetAction(id string) (Action, bool)
	ListActions(studyID string) []Action
}
