// Package pg wires PostgreSQL into the service: a retrying pgxpool
// connector, goose migrations embedded in the binary, a health check and
// helpers that classify pgx errors.
//
// Stores in this module distinguish a unique-constraint rejection from every
// other failure, so IsDuplicateKeyError is the one helper most callers need:
//
//	if _, err := pool.Exec(ctx, insertSQL, args...); err != nil {
//		if pg.IsDuplicateKeyError(err) {
//			return ErrDuplicate
//		}
//		return err
//	}
package pg
