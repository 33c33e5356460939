package storage

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-pg/pg/v10/orm"

	"github.com/web3vx/aptos-indexer-processors/model"
)

var ErrMarshalUnsupportedType = errors.New("cannot marshal unsupported type")

// MemStorage collects persisted models in memory, grouped by table name.
// Rows with the same primary key replace earlier ones, mirroring the upsert
// semantics of the sql storage closely enough for idempotence tests.
type MemStorage struct {
	DataMu sync.Mutex
	Data   map[string][]interface{}
}

func NewMemStorage() *MemStorage {
	return &MemStorage{
		Data: map[string][]interface{}{},
	}
}

func (j *MemStorage) PersistBatch(ctx context.Context, ps ...model.Persistable) error {
	for _, p := range ps {
		if err := p.Persist(ctx, j); err != nil {
			return err
		}
	}
	return nil
}

func (j *MemStorage) PersistModel(ctx context.Context, m interface{}) error {
	value := reflect.ValueOf(m)
	if value.Kind() == reflect.Ptr {
		value = value.Elem()
	}

	switch value.Kind() {
	case reflect.Slice, reflect.Array:
		for i := 0; i < value.Len(); i++ {
			if err := j.PersistModel(ctx, value.Index(i).Interface()); err != nil {
				return err
			}
		}
		return nil
	case reflect.Struct:
		q := orm.NewQuery(nil, m)
		tbl := q.TableModel().Table()
		name := strings.Trim(string(tbl.SQLNameForSelects), `"`)

		j.DataMu.Lock()
		defer j.DataMu.Unlock()

		// Replace an existing row with the same primary key
		key := memRowKey(value, tbl)
		for i, existing := range j.Data[name] {
			ev := reflect.ValueOf(existing)
			if ev.Kind() == reflect.Ptr {
				ev = ev.Elem()
			}
			if memRowKey(ev, tbl) == key {
				j.Data[name][i] = m
				return nil
			}
		}
		j.Data[name] = append(j.Data[name], m)
		return nil
	default:
		return ErrMarshalUnsupportedType
	}
}

func memRowKey(value reflect.Value, tbl *orm.Table) string {
	var b strings.Builder
	for _, fld := range tbl.PKs {
		fv := value.FieldByName(fld.GoName)
		b.WriteString(fld.SQLName)
		b.WriteString("=")
		if fv.IsValid() {
			b.WriteString(fmt.Sprintf("%v", fv.Interface()))
		}
		b.WriteString(";")
	}
	return b.String()
}

// Rows returns the rows persisted for the named table.
func (j *MemStorage) Rows(table string) []interface{} {
	j.DataMu.Lock()
	defer j.DataMu.Unlock()
	return append([]interface{}(nil), j.Data[table]...)
}
