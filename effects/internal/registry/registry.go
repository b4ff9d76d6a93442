package registry

import (
	"fmt"
	"sort"
	"time"

	memdb "github.com/hashicorp/go-memdb"
)

const (
	table       = "fiber"
	idIndex     = "id"
	parentIndex = "parent"
)

// Record is one live fiber.
type Record struct {
	ID      string
	Parent  string // empty for root and daemon fibers
	Seq     uint64
	Started time.Time
}

var schema = &memdb.DBSchema{
	Tables: map[string]*memdb.TableSchema{
		table: {
			Name: table,
			Indexes: map[string]*memdb.IndexSchema{
				idIndex: {
					Name:    idIndex,
					Unique:  true,
					Indexer: &memdb.StringFieldIndex{Field: "ID"},
				},
				parentIndex: {
					Name:         parentIndex,
					AllowMissing: true,
					Indexer:      &memdb.StringFieldIndex{Field: "Parent"},
				},
			},
		},
	},
}

// Registry tracks live fibers of one runtime.
type Registry struct {
	db *memdb.MemDB
}

func New() (*Registry, error) {
	db, err := memdb.NewMemDB(schema)
	if err != nil {
		return nil, err
	}
	return &Registry{db: db}, nil
}

func (r *Registry) Insert(rec Record) error {
	txn := r.db.Txn(true)
	defer txn.Abort()

	if err := txn.Insert(table, &rec); err != nil {
		return fmt.Errorf("insert fiber %s: %w", rec.ID, err)
	}
	txn.Commit()
	return nil
}

// Reparent moves a live fiber under parent. Unknown ids are ignored.
func (r *Registry) Reparent(id, parent string) error {
	txn := r.db.Txn(true)
	defer txn.Abort()

	raw, err := txn.First(table, idIndex, id)
	if err != nil || raw == nil {
		return err
	}
	rec := *raw.(*Record)
	rec.Parent = parent
	if err := txn.Insert(table, &rec); err != nil {
		return fmt.Errorf("reparent fiber %s: %w", id, err)
	}
	txn.Commit()
	return nil
}

func (r *Registry) Delete(id string) error {
	txn := r.db.Txn(true)
	defer txn.Abort()

	if _, err := txn.DeleteAll(table, idIndex, id); err != nil {
		return fmt.Errorf("delete fiber %s: %w", id, err)
	}
	txn.Commit()
	return nil
}

// All returns every live fiber ordered by creation.
func (r *Registry) All() ([]Record, error) {
	txn := r.db.Txn(false)
	defer txn.Abort()

	it, err := txn.Get(table, idIndex)
	if err != nil {
		return nil, err
	}
	return collect(it), nil
}

// Children returns the live fibers supervised by parent, ordered by creation.
func (r *Registry) Children(parent string) ([]Record, error) {
	txn := r.db.Txn(false)
	defer txn.Abort()

	it, err := txn.Get(table, parentIndex, parent)
	if err != nil {
		return nil, err
	}
	return collect(it), nil
}

func collect(it memdb.ResultIterator) []Record {
	recs := make([]Record, 0)
	for raw := it.Next(); raw != nil; raw = it.Next() {
		recs = append(recs, *raw.(*Record))
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].Seq < recs[j].Seq })
	return recs
}
