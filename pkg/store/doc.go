/*
Package store implements Quorum's hierarchical data store and its
transaction engine.

The store is a rooted tree of named nodes. Inner nodes hold children, leaves
hold scalars or array/object blobs, and every node is addressed by a
slash-delimited path. Writes create missing ancestors as empty objects.
Typed reads return an explicit error instead of throwing, so callers can
treat ErrNotFound/ErrWrongType as "field absent".

Mutation happens exclusively through transactions. A transaction is a set of
path-addressed writes (set, delete, push, pop, shift, unshift, merge)
guarded by preconditions (value equality, oldEmpty, isArray, in, notIn).
Preconditions evaluate against the tree state preceding the transaction; if
any fails, none of the writes apply and the transaction records log index 0.

Transactions are assembled with a typed builder:

	tx := store.NewTransaction().
		Set("/arango/Target/Pending/1", doc).
		Delete("/arango/Target/ToDo/1").
		OldEmpty("/arango/Supervision/DBServers/leader", true).
		Commit()

	res := engine.Apply([]store.Transaction{tx})
	if res.Indices[0] == 0 {
		// rejected by precondition
	}
*/
package store
