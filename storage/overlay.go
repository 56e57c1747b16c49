package storage

// Overlay stages writes on top of a base database. Reads consult the staged
// writes first and fall through to the base; nothing reaches the base until
// Commit. Dropping an uncommitted overlay discards its writes.
//
// Overlay is not safe for concurrent use.
type Overlay struct {
	base    Database
	writes  map[string][]byte
	deletes map[string]struct{}
}

// NewOverlay creates an empty overlay over base.
func NewOverlay(base Database) *Overlay {
	return &Overlay{
		base:    base,
		writes:  make(map[string][]byte),
		deletes: make(map[string]struct{}),
	}
}

// Base returns the database the overlay stages over.
func (o *Overlay) Base() Database { return o.base }

func (o *Overlay) Put(key []byte, value []byte) error {
	k := string(key)
	o.writes[k] = append([]byte(nil), value...)
	delete(o.deletes, k)
	return nil
}

func (o *Overlay) Get(key []byte) ([]byte, error) {
	k := string(key)
	if value, ok := o.writes[k]; ok {
		return append([]byte(nil), value...), nil
	}
	if _, ok := o.deletes[k]; ok {
		return nil, nil
	}
	return o.base.Get(key)
}

func (o *Overlay) Has(key []byte) (bool, error) {
	k := string(key)
	if _, ok := o.writes[k]; ok {
		return true, nil
	}
	if _, ok := o.deletes[k]; ok {
		return false, nil
	}
	return o.base.Has(key)
}

func (o *Overlay) Delete(key []byte) error {
	k := string(key)
	delete(o.writes, k)
	o.deletes[k] = struct{}{}
	return nil
}

// Close satisfies the Database interface. The base stays open.
func (o *Overlay) Close() {}

// Commit applies the staged writes and deletes to the base database and
// empties the overlay. Keys are independent, so the apply order is free.
func (o *Overlay) Commit() error {
	for key, value := range o.writes {
		if err := o.base.Put([]byte(key), value); err != nil {
			return err
		}
	}
	for key := range o.deletes {
		if err := o.base.Delete([]byte(key)); err != nil {
			return err
		}
	}
	o.writes = make(map[string][]byte)
	o.deletes = make(map[string]struct{})
	return nil
}
