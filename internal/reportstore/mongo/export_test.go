package mongo

import "context"

// DropDatabase removes the store's whole database.
func (s *Store) DropDatabase(ctx context.Context) error {
	return s.coll.Database().Drop(ctx)
}
